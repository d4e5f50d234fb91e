package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"marketplace/db"
	"marketplace/internal/auction"
	"marketplace/internal/cache"
	"marketplace/internal/chat"
	"marketplace/internal/config"
	"marketplace/internal/escrow"
	"marketplace/internal/handlers"
	"marketplace/internal/jobs"
	"marketplace/internal/logging"
	"marketplace/internal/metrics"
	"marketplace/internal/middleware"
	"marketplace/internal/notify"
	"marketplace/internal/outbox"
	"marketplace/internal/payment"
	"marketplace/internal/risk"
	"marketplace/internal/wallet"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.Registry(cfg.MetricsNamespace)

	store, err := db.Open(ctx, db.Config{
		Driver:       db.Dialect(cfg.DBDriver),
		PostgresConn: cfg.PostgresConn,
		SQLitePath:   cfg.SQLitePath,
		MaxRetries:   cfg.TxMaxRetries,
	}, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()
	store.OnConflict = m.TxConflict

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated", "driver", store.Dialect())

	// без Redis кошелёк и уведомления живут в памяти процесса
	var (
		ledger   wallet.Crediter = wallet.NewMemoryLedger()
		notifier notify.Notifier = notify.NewLogNotifier(logger)
	)
	if cfg.RedisAddr != "" {
		redisClient := cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			return err
		}
		ledger = wallet.NewRedisLedger(redisClient.Client())
		notifier = notify.NewRedisPublisher(redisClient.Client())
	} else {
		logger.Warn("REDIS_ADDR is not set, using in-memory wallet and log notifier")
	}

	policy := risk.Policy{Medium: cfg.RiskMediumThreshold, High: cfg.RiskHighThreshold}
	riskEngine := risk.NewEngine(store, policy, cfg.RiskWindow, logger)
	auctionEngine := auction.NewEngine(store, riskEngine, auction.Options{Metrics: m, Logger: logger})
	escrowEngine := escrow.NewEngine(store, riskEngine, payment.NewMockProvider(cfg.PaymentMockLatency), ledger, escrow.Options{
		PaymentTimeout: cfg.PaymentTimeout,
		Metrics:        m,
		Logger:         logger,
	})
	jobEngine := jobs.NewEngine(store, riskEngine, escrowEngine, jobs.Options{Metrics: m, Logger: logger})
	chatService := chat.NewService(store, riskEngine, chat.Options{HintWeight: cfg.OffplatformHintWeight, Logger: logger})

	h := handlers.NewHandler(handlers.Services{
		Auction: auctionEngine,
		Jobs:    jobEngine,
		Escrow:  escrowEngine,
		Risk:    riskEngine,
		Chat:    chatService,
	}, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics(m))
	r.Handle("/metrics", promhttp.Handler())
	h.Routes(r)

	srv := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	dispatcher := outbox.NewDispatcher(store, notifier, outbox.Config{
		Interval:    cfg.OutboxInterval,
		Batch:       cfg.OutboxBatch,
		MaxAttempts: cfg.OutboxMaxAttempts,
	}, m, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", "addr", cfg.ServerAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return auctionEngine.RunSweeper(gctx, cfg.TenderSweepInterval) })

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
