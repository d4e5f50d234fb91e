package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"marketplace/models"
)

const escrowColumns = `id, subject, subject_id, client_id, amount, status, payment_intent, meta, created_at, updated_at`

func (q queries) CreateEscrow(ctx context.Context, e *models.Escrow) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	ts := now()
	e.CreatedAt, e.UpdatedAt = ts, ts
	if e.Status == "" {
		e.Status = models.EscrowHeld
	}
	if e.Meta == nil {
		e.Meta = models.Meta{}
	}
	query := `
        INSERT INTO escrow (` + escrowColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.exec(ctx, query,
		e.ID, e.Subject, e.SubjectID, e.ClientID, e.Amount, e.Status, e.PaymentIntent, e.Meta,
		e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert escrow: %w", err)
	}
	return nil
}

func (q queries) GetEscrow(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	e := &models.Escrow{}
	query := `SELECT ` + escrowColumns + ` FROM escrow WHERE id=?`
	if err := q.get(ctx, e, query, id); err != nil {
		return nil, err
	}
	return e, nil
}

func (q queries) LockEscrow(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	e := &models.Escrow{}
	query := `SELECT ` + escrowColumns + ` FROM escrow WHERE id=?` + q.forUpdate()
	if err := q.get(ctx, e, query, id); err != nil {
		return nil, err
	}
	return e, nil
}

// HeldEscrow возвращает удерживаемый депозит по предмету или apperr.ErrNotFound
func (q queries) HeldEscrow(ctx context.Context, subject models.Subject, subjectID uuid.UUID) (*models.Escrow, error) {
	e := &models.Escrow{}
	query := `SELECT ` + escrowColumns + ` FROM escrow WHERE subject=? AND subject_id=? AND status=?`
	if err := q.get(ctx, e, query, subject, subjectID, models.EscrowHeld); err != nil {
		return nil, err
	}
	return e, nil
}

// ActiveEscrow ищет последний удерживаемый или выплаченный депозит по предмету
func (q queries) ActiveEscrow(ctx context.Context, subject models.Subject, subjectID uuid.UUID) (*models.Escrow, error) {
	rows := []models.Escrow{}
	query := `
        SELECT ` + escrowColumns + ` FROM escrow
        WHERE subject=? AND subject_id=? AND status IN (?, ?)`
	err := q.selectAll(ctx, &rows, query, subject, subjectID, models.EscrowHeld, models.EscrowReleased)
	if err != nil {
		return nil, fmt.Errorf("select active escrow: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	latest := rows[0]
	for _, e := range rows[1:] {
		if e.CreatedAt.After(latest.CreatedAt) {
			latest = e
		}
	}
	return &latest, nil
}

// TransitionEscrow переводит депозит из held в новый статус. Если строка не обновилась, это конфликт
func (q queries) TransitionEscrow(ctx context.Context, e *models.Escrow, to models.EscrowStatus) error {
	ts := now()
	query := `UPDATE escrow SET status=?, meta=?, updated_at=? WHERE id=? AND status=?`
	if err := q.casExec(ctx, query, to, e.Meta, ts, e.ID, e.Status); err != nil {
		return err
	}
	e.Status = to
	e.UpdatedAt = ts
	return nil
}
