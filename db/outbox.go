package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"marketplace/models"
)

const outboxColumns = `id, recipient, kind, payload, status, attempts, last_error, created_at, sent_at`

// Enqueue записывает уведомление в outbox в рамках текущей транзакции
func (q queries) Enqueue(ctx context.Context, recipient uuid.UUID, kind string, payload models.Meta) error {
	if payload == nil {
		payload = models.Meta{}
	}
	query := `
        INSERT INTO outbox (` + outboxColumns + `)
        VALUES (?, ?, ?, ?, ?, 0, '', ?, NULL)`
	_, err := q.exec(ctx, query, uuid.New(), recipient, kind, payload, models.OutboxPending, now())
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return nil
}

// PendingOutbox возвращает до limit неотправленных уведомлений, старые первыми
func (q queries) PendingOutbox(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	msgs := []models.OutboxMessage{}
	query := `
        SELECT ` + outboxColumns + ` FROM outbox
        WHERE status=?
        ORDER BY created_at, id
        LIMIT ?`
	if err := q.selectAll(ctx, &msgs, query, models.OutboxPending, limit); err != nil {
		return nil, fmt.Errorf("select pending outbox: %w", err)
	}
	return msgs, nil
}

func (q queries) MarkOutboxSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE outbox SET status=?, sent_at=?, attempts=attempts+1 WHERE id=?`
	if _, err := q.exec(ctx, query, models.OutboxSent, at, id); err != nil {
		return fmt.Errorf("mark outbox sent: %w", err)
	}
	return nil
}

// MarkOutboxAttempt фиксирует неудачную попытку доставки. После maxAttempts
// попыток запись переходит в failed и больше не выбирается.
func (q queries) MarkOutboxAttempt(ctx context.Context, id uuid.UUID, lastErr string, maxAttempts int) error {
	query := `
        UPDATE outbox
        SET attempts = attempts + 1,
            last_error = ?,
            status = CASE WHEN attempts + 1 >= ? THEN ? ELSE status END
        WHERE id=?`
	if _, err := q.exec(ctx, query, lastErr, maxAttempts, models.OutboxFailed, id); err != nil {
		return fmt.Errorf("mark outbox attempt: %w", err)
	}
	return nil
}

func (q queries) GetOutboxMessage(ctx context.Context, id uuid.UUID) (*models.OutboxMessage, error) {
	m := &models.OutboxMessage{}
	query := `SELECT ` + outboxColumns + ` FROM outbox WHERE id=?`
	if err := q.get(ctx, m, query, id); err != nil {
		return nil, err
	}
	return m, nil
}

// OutboxFor возвращает все уведомления получателя; используется в проверках
func (q queries) OutboxFor(ctx context.Context, recipient uuid.UUID) ([]models.OutboxMessage, error) {
	msgs := []models.OutboxMessage{}
	query := `SELECT ` + outboxColumns + ` FROM outbox WHERE recipient=? ORDER BY created_at, id`
	if err := q.selectAll(ctx, &msgs, query, recipient); err != nil {
		return nil, fmt.Errorf("select outbox: %w", err)
	}
	return msgs, nil
}
