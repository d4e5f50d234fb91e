// Package outbox доставляет уведомления, записанные вместе с бизнес-транзакциями.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"marketplace/db"
	"marketplace/internal/metrics"
	"marketplace/internal/notify"
)

type Config struct {
	Interval    time.Duration
	Batch       int
	MaxAttempts int
}

// Dispatcher периодически выбирает pending-записи и передаёт их Notifier
type Dispatcher struct {
	store    *db.Storage
	notifier notify.Notifier
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewDispatcher(store *db.Storage, notifier notify.Notifier, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With("component", "outbox"),
	}
}

// Flush отправляет одну пачку и возвращает число доставленных.
// Ошибки доставки отдельных записей собираются в одну.
func (d *Dispatcher) Flush(ctx context.Context) (int, error) {
	msgs, err := d.store.PendingOutbox(ctx, d.cfg.Batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	var errs error
	for _, m := range msgs {
		if ctx.Err() != nil {
			return sent, multierr.Append(errs, ctx.Err())
		}
		if err := d.notifier.Notify(ctx, m.Recipient, m.Kind, m.Payload); err != nil {
			d.metrics.OutboxDelivered("failed")
			d.logger.Warn("notification delivery failed",
				"id", m.ID, "kind", m.Kind, "attempt", m.Attempts+1, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("deliver %s: %w", m.ID, err))
			if markErr := d.store.MarkOutboxAttempt(ctx, m.ID, err.Error(), d.cfg.MaxAttempts); markErr != nil {
				errs = multierr.Append(errs, markErr)
			}
			continue
		}
		if err := d.store.MarkOutboxSent(ctx, m.ID, time.Now().UTC()); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		d.metrics.OutboxDelivered("sent")
		sent++
	}
	return sent, errs
}

// Run крутит Flush до отмены контекста
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := d.Flush(ctx)
			if err != nil && ctx.Err() == nil {
				d.logger.Error("outbox flush", "sent", n, "errors", len(multierr.Errors(err)))
			} else if n > 0 {
				d.logger.Debug("outbox flushed", "sent", n)
			}
		}
	}
}
