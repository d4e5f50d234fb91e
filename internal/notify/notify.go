// Package notify доставляет уведомления пользователям.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Виды уведомлений
const (
	KindTenderWon       = "tender_won"
	KindPaymentReceived = "payment_received"
	KindPaymentRefunded = "payment_refunded"
	KindJobAccepted     = "job_accepted"
	KindJobStarted      = "job_started"
	KindJobCompleted    = "job_completed"
	KindJobOffered      = "job_offered"
	KindNewMessage      = "new_message"
)

// Notifier отправляет уведомление пользователю
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind string, payload map[string]any) error
}

// Envelope (сообщение в канале пользователя)
type Envelope struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload"`
	SentAt  time.Time      `json:"sentAt"`
}

// RedisPublisher публикует уведомления в канал notifications:<user>
type RedisPublisher struct {
	client redis.UniversalClient
}

func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func Channel(userID uuid.UUID) string {
	return "notifications:" + userID.String()
}

func (p *RedisPublisher) Notify(ctx context.Context, userID uuid.UUID, kind string, payload map[string]any) error {
	data, err := json.Marshal(Envelope{Kind: kind, Payload: payload, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(userID), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}

// LogNotifier пишет уведомления в лог
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (n *LogNotifier) Notify(_ context.Context, userID uuid.UUID, kind string, payload map[string]any) error {
	n.logger.Info("notification", "user", userID, "kind", kind, "payload", payload)
	return nil
}
