// Package auction проводит закрытый тендер: приём ставок, закрытие приёма и
// выбор победителя по взвешенному баллу с оплатой по второй цене.
package auction

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"marketplace/db"
	"marketplace/internal/apperr"
	"marketplace/internal/metrics"
	"marketplace/internal/notify"
	"marketplace/internal/risk"
	"marketplace/models"
)

type Options struct {
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Engine struct {
	store   *db.Storage
	risk    *risk.Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewEngine(store *db.Storage, riskEngine *risk.Engine, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   store,
		risk:    riskEngine,
		metrics: opts.Metrics,
		logger:  logger.With("component", "auction"),
	}
}

// TenderInput (параметры нового тендера)
type TenderInput struct {
	Category   string     `json:"category"`
	Brief      string     `json:"brief"`
	BudgetHint int64      `json:"budgetHint"`
	WindowFrom *time.Time `json:"windowFrom,omitempty"`
	WindowTo   *time.Time `json:"windowTo,omitempty"`
}

// BidInput (ставка специалиста)
type BidInput struct {
	Price        int64  `json:"price"`
	WarrantyDays int    `json:"warrantyDays"`
	Note         string `json:"note"`
}

// Строка итогового рейтинга
type ScoredBid struct {
	BidID uuid.UUID `json:"bidId"`
	ProID uuid.UUID `json:"proId"`
	Price int64     `json:"price"`
	Score float64   `json:"weightedScore"`
}

// WinnerResult содержит итог выбора победителя
type WinnerResult struct {
	Tender        *models.Tender `json:"tender"`
	WinningBidID  uuid.UUID      `json:"winningBidId"`
	WinnerProID   uuid.UUID      `json:"winnerProId"`
	PayPrice      int64          `json:"payPrice"`
	OriginalPrice int64          `json:"originalPrice"`
	TotalBids     int            `json:"totalBids"`
	Ranking       []ScoredBid    `json:"ranking"`
}

func (e *Engine) CreateTender(ctx context.Context, actor models.Actor, in TenderInput) (*models.Tender, error) {
	if actor.Role != models.RoleClient {
		return nil, apperr.ErrNotAuthorized
	}
	category := strings.TrimSpace(in.Category)
	if category == "" || len(category) > 100 || in.BudgetHint < 0 {
		return nil, apperr.ErrInvalidInput
	}
	if in.WindowFrom != nil && in.WindowTo != nil && in.WindowTo.Before(*in.WindowFrom) {
		return nil, apperr.ErrInvalidInput
	}
	t := &models.Tender{
		ClientID:   actor.ID,
		Category:   category,
		Brief:      strings.TrimSpace(in.Brief),
		BudgetHint: in.BudgetHint,
		WindowFrom: in.WindowFrom,
		WindowTo:   in.WindowTo,
		Status:     models.TenderOpen,
	}
	if err := e.store.CreateTender(ctx, t); err != nil {
		return nil, err
	}
	e.logger.Info("tender created", "tender_id", t.ID, "client_id", actor.ID)
	return t, nil
}

func (e *Engine) GetTender(ctx context.Context, tenderID uuid.UUID) (*models.Tender, error) {
	return e.store.GetTender(ctx, tenderID)
}

// SubmitBid подаёт или заменяет ставку специалиста, пока приём открыт
func (e *Engine) SubmitBid(ctx context.Context, actor models.Actor, tenderID uuid.UUID, in BidInput) (*models.Bid, error) {
	if actor.Role != models.RolePro {
		return nil, apperr.ErrNotAuthorized
	}
	if in.Price <= 0 {
		return nil, apperr.ErrInvalidPrice
	}
	if in.WarrantyDays < 0 {
		return nil, apperr.ErrInvalidInput
	}

	var bid *models.Bid
	err := e.store.InTx(ctx, func(tx *db.Tx) error {
		t, err := tx.LockTender(ctx, tenderID)
		if err != nil {
			return err
		}
		if t.BidsLocked {
			return apperr.ErrTenderLocked
		}
		if t.Status != models.TenderOpen {
			return apperr.ErrTenderNotOpen
		}
		if t.ClientID == actor.ID {
			return apperr.ErrNotAuthorized
		}
		b := &models.Bid{
			TenderID:     tenderID,
			ProID:        actor.ID,
			Price:        in.Price,
			WarrantyDays: in.WarrantyDays,
			Note:         strings.TrimSpace(in.Note),
		}
		if err := tx.UpsertBid(ctx, b); err != nil {
			return err
		}
		bid = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bid, nil
}

// LockBids закрывает приём ставок; после этого владелец видит все ставки
func (e *Engine) LockBids(ctx context.Context, actor models.Actor, tenderID uuid.UUID) (*models.Tender, error) {
	var tender *models.Tender
	err := e.store.InTx(ctx, func(tx *db.Tx) error {
		t, err := tx.LockTender(ctx, tenderID)
		if err != nil {
			return err
		}
		if t.ClientID != actor.ID {
			return apperr.ErrNotOwner
		}
		if t.BidsLocked {
			return apperr.ErrAlreadyLocked
		}
		if t.Status != models.TenderOpen && t.Status != models.TenderBAFO {
			return apperr.ErrTenderNotOpen
		}
		t.BidsLocked = true
		if err := tx.UpdateTender(ctx, t); err != nil {
			return err
		}
		tender = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tender, nil
}

// SelectWinner рассчитывает баллы, отмечает победителя и фиксирует цену к оплате.
// Всё записывается одной транзакцией; победитель выбирается ровно один раз.
func (e *Engine) SelectWinner(ctx context.Context, actor models.Actor, tenderID uuid.UUID) (*WinnerResult, error) {
	var result *WinnerResult
	err := e.store.InTx(ctx, func(tx *db.Tx) error {
		t, err := tx.LockTender(ctx, tenderID)
		if err != nil {
			return err
		}
		if t.ClientID != actor.ID {
			return apperr.ErrNotOwner
		}
		if !t.BidsLocked {
			return apperr.ErrNotLocked
		}
		if t.WinnerBidID.Valid || t.Status == models.TenderAwarded {
			return apperr.ErrAlreadyAwarded
		}
		if !t.Status.CanTransition(models.TenderAwarded) {
			return apperr.ErrTenderNotOpen
		}

		rows, err := tx.BidCandidates(ctx, tenderID)
		if err != nil {
			return err
		}
		candidates := make([]Candidate, len(rows))
		for i, r := range rows {
			candidates[i] = Candidate{
				BidID:         r.ID,
				ProID:         r.ProID,
				Price:         r.Price,
				WarrantyDays:  r.WarrantyDays,
				Rating:        r.Rating,
				CompletedJobs: r.CompletedJobs,
				CreatedAt:     r.CreatedAt,
			}
		}
		settlement, err := Settle(candidates)
		if err != nil {
			return err
		}
		winner := settlement.Winner

		ranking := make([]ScoredBid, len(settlement.Ranking))
		for i, r := range settlement.Ranking {
			if err := tx.SetBidScore(ctx, r.BidID, r.Score, r.BidID == winner.BidID); err != nil {
				return err
			}
			ranking[i] = ScoredBid{BidID: r.BidID, ProID: r.ProID, Price: r.Price, Score: r.Score}
		}

		payPrice := settlement.PayPrice
		t.WinnerBidID = uuid.NullUUID{UUID: winner.BidID, Valid: true}
		t.PayPrice = &payPrice
		t.Status = models.TenderAwarded
		if err := tx.UpdateTender(ctx, t); err != nil {
			return err
		}

		err = e.risk.RecordTx(ctx, tx, risk.Event{
			Actor:     actor.ID,
			Kind:      models.RiskWinnerSelected,
			Weight:    risk.WeightWinnerSelected,
			Subject:   models.SubjectTender,
			SubjectID: t.ID,
			Meta: models.Meta{
				"winner_bid_id":  winner.BidID.String(),
				"winner_pro_id":  winner.ProID.String(),
				"pay_price":      payPrice,
				"original_price": winner.Price,
				"total_bids":     len(candidates),
			},
		})
		if err != nil {
			return err
		}
		err = tx.Enqueue(ctx, winner.ProID, notify.KindTenderWon, models.Meta{
			"tender_id": t.ID.String(),
			"bid_id":    winner.BidID.String(),
			"pay_price": payPrice,
		})
		if err != nil {
			return err
		}

		result = &WinnerResult{
			Tender:        t,
			WinningBidID:  winner.BidID,
			WinnerProID:   winner.ProID,
			PayPrice:      payPrice,
			OriginalPrice: winner.Price,
			TotalBids:     len(candidates),
			Ranking:       ranking,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.WinnerSelected()
	e.logger.Info("winner selected",
		"tender_id", tenderID, "bid_id", result.WinningBidID,
		"pay_price", result.PayPrice, "total_bids", result.TotalBids)
	return result, nil
}

// ListBids возвращает ставки тендера, видимые участнику
func (e *Engine) ListBids(ctx context.Context, actor models.Actor, tenderID uuid.UUID) ([]models.Bid, error) {
	t, err := e.store.GetTender(ctx, tenderID)
	if err != nil {
		return nil, err
	}
	bids, err := e.store.ListBids(ctx, tenderID)
	if err != nil {
		return nil, err
	}
	return VisibleBids(t, actor, bids), nil
}

// CancelTender отменяет тендер владельцем, в том числе после выбора победителя
func (e *Engine) CancelTender(ctx context.Context, actor models.Actor, tenderID uuid.UUID) (*models.Tender, error) {
	var tender *models.Tender
	err := e.store.InTx(ctx, func(tx *db.Tx) error {
		t, err := tx.LockTender(ctx, tenderID)
		if err != nil {
			return err
		}
		if t.ClientID != actor.ID {
			return apperr.ErrNotOwner
		}
		if !t.Status.CanTransition(models.TenderCancelled) {
			return apperr.ErrInvalidState
		}
		t.Status = models.TenderCancelled
		if err := tx.UpdateTender(ctx, t); err != nil {
			return err
		}
		tender = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tender, nil
}

// ExpireOverdue переводит в expired тендеры без победителя, окно которых закончилось
func (e *Engine) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	overdue, err := e.store.OverdueTenders(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, candidate := range overdue {
		changed := false
		err := e.store.InTx(ctx, func(tx *db.Tx) error {
			changed = false
			t, err := tx.LockTender(ctx, candidate.ID)
			if err != nil {
				return err
			}
			// состояние могло измениться после выборки
			if t.WinnerBidID.Valid || !t.Status.CanTransition(models.TenderExpired) {
				return nil
			}
			t.Status = models.TenderExpired
			if err := tx.UpdateTender(ctx, t); err != nil {
				return err
			}
			changed = true
			return nil
		})
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return expired, err
		}
		if err == nil && changed {
			expired++
		}
	}
	if expired > 0 {
		e.logger.Info("tenders expired", "count", expired)
	}
	return expired, nil
}

// RunSweeper периодически вызывает ExpireOverdue до отмены контекста
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := e.ExpireOverdue(ctx, time.Now()); err != nil {
				e.logger.Error("tender sweep failed", "error", err)
			}
		}
	}
}
