package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"marketplace/models"
)

const tenderColumns = `id, client_id, category, brief, budget_hint, window_from, window_to,
        bids_locked, status, winner_bid_id, pay_price, version, created_at, updated_at`

func (q queries) CreateTender(ctx context.Context, t *models.Tender) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	ts := now()
	t.CreatedAt, t.UpdatedAt = ts, ts
	t.Version = 1
	if t.Status == "" {
		t.Status = models.TenderOpen
	}
	t.WindowFrom, t.WindowTo = utcPtr(t.WindowFrom), utcPtr(t.WindowTo)
	query := `
        INSERT INTO tenders (` + tenderColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.exec(ctx, query,
		t.ID, t.ClientID, t.Category, t.Brief, t.BudgetHint, t.WindowFrom, t.WindowTo,
		t.BidsLocked, t.Status, t.WinnerBidID, t.PayPrice, t.Version, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert tender: %w", err)
	}
	return nil
}

func (q queries) GetTender(ctx context.Context, id uuid.UUID) (*models.Tender, error) {
	t := &models.Tender{}
	query := `SELECT ` + tenderColumns + ` FROM tenders WHERE id=?`
	if err := q.get(ctx, t, query, id); err != nil {
		return nil, err
	}
	return t, nil
}

// LockTender читает тендер с блокировкой строки до конца транзакции
func (q queries) LockTender(ctx context.Context, id uuid.UUID) (*models.Tender, error) {
	t := &models.Tender{}
	query := `SELECT ` + tenderColumns + ` FROM tenders WHERE id=?` + q.forUpdate()
	if err := q.get(ctx, t, query, id); err != nil {
		return nil, err
	}
	return t, nil
}

// TouchTender записывает в строку без изменения полей. Запись держит строку до конца
// транзакции, а параллельная транзакция с более старым снимком получает
// ошибку сериализации вместо устаревших данных.
func (q queries) TouchTender(ctx context.Context, id uuid.UUID) error {
	return q.casExec(ctx, `UPDATE tenders SET version=version WHERE id=?`, id)
}

// UpdateTender сохраняет изменяемые поля, если версия не изменилась с момента чтения
func (q queries) UpdateTender(ctx context.Context, t *models.Tender) error {
	prev := t.Version
	ts := now()
	query := `
        UPDATE tenders
        SET bids_locked=?, status=?, winner_bid_id=?, pay_price=?, version=?, updated_at=?
        WHERE id=? AND version=?`
	err := q.casExec(ctx, query,
		t.BidsLocked, t.Status, t.WinnerBidID, t.PayPrice, prev+1, ts, t.ID, prev)
	if err != nil {
		return err
	}
	t.Version = prev + 1
	t.UpdatedAt = ts
	return nil
}

// OverdueTenders возвращает открытые тендеры, у которых окно закончилось до at
func (q queries) OverdueTenders(ctx context.Context, at time.Time) ([]models.Tender, error) {
	candidates := []models.Tender{}
	query := `
        SELECT ` + tenderColumns + ` FROM tenders
        WHERE status IN (?, ?) AND winner_bid_id IS NULL AND window_to IS NOT NULL`
	if err := q.selectAll(ctx, &candidates, query, models.TenderOpen, models.TenderBAFO); err != nil {
		return nil, fmt.Errorf("select overdue tenders: %w", err)
	}
	// Сравнение времени в Go: текстовое представление в SQLite не упорядочено
	overdue := candidates[:0]
	for _, t := range candidates {
		if t.WindowTo.Before(at) {
			overdue = append(overdue, t)
		}
	}
	return overdue, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
