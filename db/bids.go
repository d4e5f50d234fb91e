package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"marketplace/models"
)

const bidColumns = `id, tender_id, pro_id, price, warranty_days, note, weighted_score, is_winner, created_at, updated_at`

// UpsertBid создаёт ставку или заменяет существующую ставку того же специалиста.
// created_at первой подачи сохраняется.
func (q queries) UpsertBid(ctx context.Context, b *models.Bid) error {
	ts := now()
	query := `
        INSERT INTO bids (` + bidColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)
        ON CONFLICT (tender_id, pro_id) DO UPDATE
        SET price = excluded.price,
            warranty_days = excluded.warranty_days,
            note = excluded.note,
            updated_at = excluded.updated_at
        RETURNING ` + bidColumns
	row := q.ext.QueryRowxContext(ctx, q.rebind(query),
		uuid.New(), b.TenderID, b.ProID, b.Price, b.WarrantyDays, b.Note, false, ts, ts)
	if err := row.StructScan(b); err != nil {
		return fmt.Errorf("upsert bid: %w", mapError(err))
	}
	return nil
}

func (q queries) ListBids(ctx context.Context, tenderID uuid.UUID) ([]models.Bid, error) {
	bids := []models.Bid{}
	query := `SELECT ` + bidColumns + ` FROM bids WHERE tender_id=? ORDER BY created_at, id`
	if err := q.selectAll(ctx, &bids, query, tenderID); err != nil {
		return nil, fmt.Errorf("select bids: %w", err)
	}
	return bids, nil
}

func (q queries) GetBid(ctx context.Context, id uuid.UUID) (*models.Bid, error) {
	b := &models.Bid{}
	query := `SELECT ` + bidColumns + ` FROM bids WHERE id=?`
	if err := q.get(ctx, b, query, id); err != nil {
		return nil, err
	}
	return b, nil
}

// Ставка вместе с профилем специалиста для скоринга
type BidCandidate struct {
	models.Bid
	Rating        float64 `db:"rating"`
	CompletedJobs int     `db:"completed_jobs"`
}

// BidCandidates возвращает ставки тендера с рейтингом и опытом специалистов.
// Специалист без профиля считается новичком с нулевым рейтингом.
func (q queries) BidCandidates(ctx context.Context, tenderID uuid.UUID) ([]BidCandidate, error) {
	candidates := []BidCandidate{}
	query := `
        SELECT b.id, b.tender_id, b.pro_id, b.price, b.warranty_days, b.note,
               b.weighted_score, b.is_winner, b.created_at, b.updated_at,
               COALESCE(p.rating, 0) AS rating,
               COALESCE(p.completed_jobs, 0) AS completed_jobs
        FROM bids b
        LEFT JOIN professionals p ON p.id = b.pro_id
        WHERE b.tender_id=?
        ORDER BY b.created_at, b.id`
	if err := q.selectAll(ctx, &candidates, query, tenderID); err != nil {
		return nil, fmt.Errorf("select bid candidates: %w", err)
	}
	return candidates, nil
}

// SetBidScore записывает рассчитанный балл и флаг победителя
func (q queries) SetBidScore(ctx context.Context, bidID uuid.UUID, score float64, winner bool) error {
	query := `UPDATE bids SET weighted_score=?, is_winner=?, updated_at=? WHERE id=?`
	if _, err := q.exec(ctx, query, score, winner, now(), bidID); err != nil {
		return fmt.Errorf("update bid score: %w", err)
	}
	return nil
}
