// Package risk ведёт журнал рисковых событий участников и считает их балл.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"marketplace/db"
	"marketplace/models"
)

// Веса событий. Отрицательный вес означает доверие, положительный подозрение.
const (
	WeightStartOTPFailed  = 1
	WeightFinishOTPFailed = 2
	WeightJobStarted      = -1
	WeightJobCompleted    = -2
	WeightDepositCreated  = -1
	WeightEscrowReleased  = 0
	WeightEscrowRefunded  = 1
	WeightWinnerSelected  = 0

	DefaultOffplatformHintWeight = 2
)

// Event описывает новое событие журнала
type Event struct {
	Actor     uuid.UUID
	Kind      models.RiskKind
	Weight    int
	Subject   models.Subject
	SubjectID uuid.UUID
	Meta      models.Meta
}

func (ev Event) record() *models.RiskEvent {
	return &models.RiskEvent{
		Actor:     ev.Actor,
		Kind:      ev.Kind,
		Weight:    ev.Weight,
		Subject:   ev.Subject,
		SubjectID: ev.SubjectID,
		Meta:      ev.Meta,
	}
}

// Engine ведёт журнал рисков поверх хранилища
type Engine struct {
	store  *db.Storage
	policy Policy
	window time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine создаёт журнал. window = 0 означает учёт всей истории.
func NewEngine(store *db.Storage, policy Policy, window time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		policy: policy,
		window: window,
		logger: logger.With("component", "risk"),
		now:    time.Now,
	}
}

// Record добавляет событие в собственной транзакции
func (e *Engine) Record(ctx context.Context, ev Event) error {
	return e.store.InTx(ctx, func(tx *db.Tx) error {
		return e.RecordTx(ctx, tx, ev)
	})
}

// RecordTx добавляет событие в транзакции вызывающего
func (e *Engine) RecordTx(ctx context.Context, tx *db.Tx, ev Event) error {
	if ev.Actor == uuid.Nil {
		return fmt.Errorf("risk event %s without actor", ev.Kind)
	}
	if err := tx.AppendRiskEvent(ctx, ev.record()); err != nil {
		e.logger.Error("failed to append risk event", "kind", ev.Kind, "actor", ev.Actor, "error", err)
		return err
	}
	return nil
}

// ClearTx гасит события вида kind у участника; записи остаются с отметкой cleared_at
func (e *Engine) ClearTx(ctx context.Context, tx *db.Tx, actor uuid.UUID, kind models.RiskKind) (int64, error) {
	n, err := tx.ClearRiskEvents(ctx, actor, kind, e.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info("risk events cleared", "actor", actor, "kind", kind, "count", n)
	}
	return n, nil
}

// Score считает сумму весов непогашенных событий участника
func (e *Engine) Score(ctx context.Context, actor uuid.UUID) (int, error) {
	events, err := e.events(ctx, actor)
	if err != nil {
		return 0, err
	}
	return Sum(events), nil
}

func (e *Engine) events(ctx context.Context, actor uuid.UUID) ([]models.RiskEvent, error) {
	events, err := e.store.RiskEvents(ctx, actor)
	if err != nil {
		return nil, err
	}
	if e.window > 0 {
		events = Since(events, e.now().Add(-e.window))
	}
	return events, nil
}

// Sum складывает веса. Порядок событий на результат не влияет.
func Sum(events []models.RiskEvent) int {
	total := 0
	for _, ev := range events {
		if ev.ClearedAt != nil {
			continue
		}
		total += ev.Weight
	}
	return total
}

// Since оставляет события, записанные не раньше from
func Since(events []models.RiskEvent, from time.Time) []models.RiskEvent {
	out := make([]models.RiskEvent, 0, len(events))
	for _, ev := range events {
		if !ev.CreatedAt.Before(from) {
			out = append(out, ev)
		}
	}
	return out
}

// Сводка для интерфейса
type Assessment struct {
	Score              int                     `json:"score"`
	Level              Level                   `json:"level"`
	PrepaymentRequired bool                    `json:"prepaymentRequired"`
	Events             int                     `json:"events"`
	Kinds              map[models.RiskKind]int `json:"kinds"`
}

func (e *Engine) Assess(ctx context.Context, actor uuid.UUID) (Assessment, error) {
	events, err := e.events(ctx, actor)
	if err != nil {
		return Assessment{}, err
	}
	score := Sum(events)
	kinds := make(map[models.RiskKind]int)
	for _, ev := range events {
		kinds[ev.Kind]++
	}
	return Assessment{
		Score:              score,
		Level:              e.policy.Level(score),
		PrepaymentRequired: e.policy.PrepaymentRequired(score),
		Events:             len(events),
		Kinds:              kinds,
	}, nil
}
