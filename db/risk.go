package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"marketplace/models"
)

const riskColumns = `id, actor, kind, weight, subject, subject_id, meta, created_at, cleared_at`

// AppendRiskEvent добавляет запись в журнал; записи не изменяются и не удаляются
func (q queries) AppendRiskEvent(ctx context.Context, ev *models.RiskEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now()
	}
	if ev.Meta == nil {
		ev.Meta = models.Meta{}
	}
	query := `
        INSERT INTO risk_events (` + riskColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`
	_, err := q.exec(ctx, query,
		ev.ID, ev.Actor, ev.Kind, ev.Weight, ev.Subject, ev.SubjectID, ev.Meta, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert risk event: %w", err)
	}
	return nil
}

// RiskEvents возвращает непогашенные события участника в порядке записи
func (q queries) RiskEvents(ctx context.Context, actor uuid.UUID) ([]models.RiskEvent, error) {
	events := []models.RiskEvent{}
	query := `
        SELECT ` + riskColumns + ` FROM risk_events
        WHERE actor=? AND cleared_at IS NULL
        ORDER BY created_at, id`
	if err := q.selectAll(ctx, &events, query, actor); err != nil {
		return nil, fmt.Errorf("select risk events: %w", err)
	}
	return events, nil
}

// ClearRiskEvents помечает события вида kind погашенными. Сами строки остаются в журнале.
func (q queries) ClearRiskEvents(ctx context.Context, actor uuid.UUID, kind models.RiskKind, at time.Time) (int64, error) {
	query := `UPDATE risk_events SET cleared_at=? WHERE actor=? AND kind=? AND cleared_at IS NULL`
	n, err := q.exec(ctx, query, at, actor, kind)
	if err != nil {
		return 0, fmt.Errorf("clear risk events: %w", err)
	}
	return n, nil
}
