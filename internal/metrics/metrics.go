package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics хранит коллекторы Prometheus сервиса. Методы безопасны для nil.
type Metrics struct {
	HTTPRequests      *prometheus.CounterVec
	HTTPLatency       *prometheus.HistogramVec
	AuctionWinners    prometheus.Counter
	Deposits          *prometheus.CounterVec
	EscrowTransitions *prometheus.CounterVec
	OTPFailures       *prometheus.CounterVec
	OutboxDeliveries  *prometheus.CounterVec
	TxConflicts       prometheus.Counter
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry создаёт и регистрирует синглтон метрик с пространством имён
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			}, []string{"method", "endpoint", "status"}),
			HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Request latency",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			}, []string{"method", "endpoint"}),
			AuctionWinners: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auction_winners_total",
				Help:      "Tenders awarded to a winning bid.",
			}),
			Deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escrow_deposits_total",
				Help:      "Deposit requests by outcome.",
			}, []string{"outcome"}),
			EscrowTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escrow_transitions_total",
				Help:      "Escrow records moved out of held.",
			}, []string{"status"}),
			OTPFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_otp_failures_total",
				Help:      "Rejected job OTP codes.",
			}, []string{"otp_type"}),
			OutboxDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_deliveries_total",
				Help:      "Outbox notification delivery attempts by status.",
			}, []string{"status"}),
			TxConflicts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tx_conflicts_total",
				Help:      "Transactions retried after a write conflict.",
			}),
		}

		prometheus.MustRegister(
			metricsInstance.HTTPRequests,
			metricsInstance.HTTPLatency,
			metricsInstance.AuctionWinners,
			metricsInstance.Deposits,
			metricsInstance.EscrowTransitions,
			metricsInstance.OTPFailures,
			metricsInstance.OutboxDeliveries,
			metricsInstance.TxConflicts,
		)
	})
	return metricsInstance
}

func (m *Metrics) WinnerSelected() {
	if m != nil {
		m.AuctionWinners.Inc()
	}
}

func (m *Metrics) Deposit(outcome string) {
	if m != nil {
		m.Deposits.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) EscrowMoved(status string) {
	if m != nil {
		m.EscrowTransitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) OTPFailed(otpType string) {
	if m != nil {
		m.OTPFailures.WithLabelValues(otpType).Inc()
	}
}

func (m *Metrics) OutboxDelivered(status string) {
	if m != nil {
		m.OutboxDeliveries.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) TxConflict() {
	if m != nil {
		m.TxConflicts.Inc()
	}
}

// ObserveHTTP учитывает запрос по шаблону маршрута
func (m *Metrics) ObserveHTTP(method, endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(method, endpoint).Observe(elapsed.Seconds())
}
