// Package escrow ведёт депозиты клиентов: внесение, выплату специалисту и возврат.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"marketplace/db"
	"marketplace/internal/apperr"
	"marketplace/internal/metrics"
	"marketplace/internal/notify"
	"marketplace/internal/payment"
	"marketplace/internal/risk"
	"marketplace/internal/wallet"
	"marketplace/models"
)

// Причина авто-выплаты после завершения работы
const ReasonJobCompleted = "job_completed"

type Options struct {
	PaymentTimeout time.Duration
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// Engine ведёт журнал депозитов
type Engine struct {
	store          *db.Storage
	risk           *risk.Engine
	charger        payment.Charger
	wallet         wallet.Crediter
	paymentTimeout time.Duration
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

func NewEngine(store *db.Storage, riskEngine *risk.Engine, charger payment.Charger, crediter wallet.Crediter, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:          store,
		risk:           riskEngine,
		charger:        charger,
		wallet:         crediter,
		paymentTimeout: opts.PaymentTimeout,
		metrics:        opts.Metrics,
		logger:         logger.With("component", "escrow"),
	}
}

// CreateDeposit вносит депозит клиента за работу или тендер. Если по предмету
// уже есть удерживаемый депозит, он возвращается без изменений и created=false.
func (e *Engine) CreateDeposit(ctx context.Context, actor models.Actor, subject models.Subject, subjectID uuid.UUID, amount int64) (*models.Escrow, bool, error) {
	if amount <= 0 {
		return nil, false, apperr.ErrInvalidAmount
	}
	if !subject.Valid() {
		return nil, false, apperr.ErrInvalidInput
	}

	var (
		// списание переживает повтор транзакции: платёж проводится один раз
		charged *payment.Outcome
		result  *models.Escrow
		created bool
	)
	err := e.store.InTx(ctx, func(tx *db.Tx) error {
		created = false
		clientID, err := lockSubject(ctx, tx, subject, subjectID)
		if err != nil {
			return err
		}
		if clientID != actor.ID {
			return apperr.ErrNotOwner
		}

		held, err := tx.HeldEscrow(ctx, subject, subjectID)
		if err == nil {
			result = held
			return nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		// до списания: параллельный депозит по тому же предмету
		// приведёт к конфликту здесь, а не к второму платежу
		if err := claimSubject(ctx, tx, subject, subjectID); err != nil {
			return err
		}

		if charged == nil {
			out, err := payment.WithTimeout(ctx, e.charger, amount, e.paymentTimeout)
			if err != nil {
				e.logger.Warn("charge failed", "subject", subject, "subject_id", subjectID, "error", err)
				return fmt.Errorf("%w: %v", apperr.ErrPaymentFailed, err)
			}
			if !out.Success {
				e.logger.Warn("charge declined", "subject", subject, "subject_id", subjectID)
				return apperr.ErrPaymentFailed
			}
			charged = &out
		}

		esc := &models.Escrow{
			Subject:       subject,
			SubjectID:     subjectID,
			ClientID:      actor.ID,
			Amount:        amount,
			Status:        models.EscrowHeld,
			PaymentIntent: charged.Reference,
			Meta:          models.Meta{"charged_at": time.Now().UTC().Format(time.RFC3339)},
		}
		if err := tx.CreateEscrow(ctx, esc); err != nil {
			return err
		}
		err = e.risk.RecordTx(ctx, tx, risk.Event{
			Actor:     actor.ID,
			Kind:      models.RiskDepositCreated,
			Weight:    risk.WeightDepositCreated,
			Subject:   subject,
			SubjectID: subjectID,
			Meta:      models.Meta{"escrow_id": esc.ID.String(), "amount": amount},
		})
		if err != nil {
			return err
		}
		// депозит внесён: подсказки об уходе с платформы больше не копятся
		if _, err := e.risk.ClearTx(ctx, tx, actor.ID, models.RiskOffplatformHint); err != nil {
			return err
		}
		result = esc
		created = true
		return nil
	})
	if charged != nil && !created {
		// списание не попало в журнал: повтор нашёл чужой депозит или транзакция упала
		if voidErr := e.voidCharge(ctx, charged.Reference); voidErr != nil {
			e.logger.Error("charge not recorded", "reference", charged.Reference, "error", voidErr)
			err = multierr.Append(err, voidErr)
		} else {
			e.metrics.Deposit("voided")
			e.logger.Warn("unrecorded charge voided", "reference", charged.Reference, "subject_id", subjectID)
		}
	}
	if err != nil {
		if errors.Is(err, apperr.ErrPaymentFailed) {
			e.metrics.Deposit("payment_failed")
		}
		return nil, false, err
	}
	if created {
		e.metrics.Deposit("created")
		e.logger.Info("deposit created", "escrow_id", result.ID, "subject", subject, "amount", amount)
	} else {
		e.metrics.Deposit("existing")
	}
	return result, created, nil
}

// voidCharge отменяет списание вне транзакции, даже если запрос уже отменён
func (e *Engine) voidCharge(ctx context.Context, reference string) error {
	voider, ok := e.charger.(payment.Voider)
	if !ok {
		return fmt.Errorf("%w: charge %s cannot be voided", apperr.ErrPaymentFailed, reference)
	}
	ctx = context.WithoutCancel(ctx)
	if e.paymentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.paymentTimeout)
		defer cancel()
	}
	if err := voider.Void(ctx, reference); err != nil {
		return fmt.Errorf("%w: void %s: %v", apperr.ErrPaymentFailed, reference, err)
	}
	return nil
}

func claimSubject(ctx context.Context, tx *db.Tx, subject models.Subject, subjectID uuid.UUID) error {
	if subject == models.SubjectTender {
		return tx.TouchTender(ctx, subjectID)
	}
	return tx.TouchJob(ctx, subjectID)
}

// lockSubject блокирует строку предмета и возвращает владельца
func lockSubject(ctx context.Context, tx *db.Tx, subject models.Subject, subjectID uuid.UUID) (uuid.UUID, error) {
	switch subject {
	case models.SubjectJob:
		job, err := tx.LockJob(ctx, subjectID)
		if err != nil {
			return uuid.Nil, err
		}
		if job.Status == models.JobCancelled {
			return uuid.Nil, apperr.ErrInvalidState
		}
		return job.ClientID, nil
	case models.SubjectTender:
		tender, err := tx.LockTender(ctx, subjectID)
		if err != nil {
			return uuid.Nil, err
		}
		if tender.Status == models.TenderCancelled || tender.Status == models.TenderExpired {
			return uuid.Nil, apperr.ErrInvalidState
		}
		return tender.ClientID, nil
	default:
		return uuid.Nil, apperr.ErrInvalidInput
	}
}

// assignee возвращает назначенного специалиста и признак завершённой работы
func assignee(ctx context.Context, tx *db.Tx, esc *models.Escrow) (uuid.NullUUID, bool, error) {
	switch esc.Subject {
	case models.SubjectJob:
		job, err := tx.GetJob(ctx, esc.SubjectID)
		if err != nil {
			return uuid.NullUUID{}, false, err
		}
		return job.ProID, job.Status == models.JobDone, nil
	case models.SubjectTender:
		tender, err := tx.GetTender(ctx, esc.SubjectID)
		if err != nil {
			return uuid.NullUUID{}, false, err
		}
		if !tender.WinnerBidID.Valid {
			return uuid.NullUUID{}, false, nil
		}
		bid, err := tx.GetBid(ctx, tender.WinnerBidID.UUID)
		if err != nil {
			return uuid.NullUUID{}, false, err
		}
		return uuid.NullUUID{UUID: bid.ProID, Valid: true}, false, nil
	default:
		return uuid.NullUUID{}, false, apperr.ErrInvalidInput
	}
}

// Release выплачивает депозит специалисту. Выплату может сделать клиент,
// внёсший депозит, или система по завершённой работе.
func (e *Engine) Release(ctx context.Context, actor models.Actor, escrowID uuid.UUID, reason string) (*models.Escrow, error) {
	var result *models.Escrow
	err := e.store.InTx(ctx, func(tx *db.Tx) error {
		esc, err := tx.LockEscrow(ctx, escrowID)
		if err != nil {
			return err
		}
		if esc.Status != models.EscrowHeld {
			return apperr.ErrInvalidState
		}
		proID, jobDone, err := assignee(ctx, tx, esc)
		if err != nil {
			return err
		}

		allowed := (!actor.IsSystem() && actor.ID == esc.ClientID) ||
			(actor.IsSystem() && esc.Subject == models.SubjectJob && jobDone)
		if !allowed {
			return apperr.ErrNotAuthorized
		}
		if !proID.Valid {
			return apperr.ErrInvalidState
		}

		if err := e.release(ctx, tx, esc, proID.UUID, actor, reason); err != nil {
			return err
		}
		result = esc
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.EscrowMoved(string(models.EscrowReleased))
	return result, nil
}

// ReleaseForJob делает авто-выплату в транзакции завершения работы. Если депозита нет,
// нечего выплачивать, возвращается nil.
func (e *Engine) ReleaseForJob(ctx context.Context, tx *db.Tx, jobID uuid.UUID) (*models.Escrow, error) {
	esc, err := tx.HeldEscrow(ctx, models.SubjectJob, jobID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	proID, jobDone, err := assignee(ctx, tx, esc)
	if err != nil {
		return nil, err
	}
	if !jobDone || !proID.Valid {
		return nil, apperr.ErrInvalidState
	}
	if err := e.release(ctx, tx, esc, proID.UUID, models.SystemActor, ReasonJobCompleted); err != nil {
		return nil, err
	}
	return esc, nil
}

func (e *Engine) release(ctx context.Context, tx *db.Tx, esc *models.Escrow, proID uuid.UUID, actor models.Actor, reason string) error {
	releasedBy := actor.ID.String()
	if actor.IsSystem() {
		releasedBy = "system"
	}
	esc.Meta = esc.Meta.Merge(models.Meta{
		"released_by":    releasedBy,
		"release_reason": strings.TrimSpace(reason),
		"released_at":    time.Now().UTC().Format(time.RFC3339),
		"pro_id":         proID.String(),
	})
	if err := tx.TransitionEscrow(ctx, esc, models.EscrowReleased); err != nil {
		return err
	}
	// повтор с той же ссылкой кошелёк не зачтёт
	if err := e.wallet.Credit(ctx, proID, esc.Amount, esc.ID.String()); err != nil {
		e.logger.Error("wallet credit failed", "escrow_id", esc.ID, "pro_id", proID, "error", err)
		return fmt.Errorf("%w: %v", apperr.ErrCreditFailed, err)
	}
	err := e.risk.RecordTx(ctx, tx, risk.Event{
		Actor:     esc.ClientID,
		Kind:      models.RiskEscrowReleased,
		Weight:    risk.WeightEscrowReleased,
		Subject:   esc.Subject,
		SubjectID: esc.SubjectID,
		Meta:      models.Meta{"escrow_id": esc.ID.String(), "released_by": releasedBy, "amount": esc.Amount},
	})
	if err != nil {
		return err
	}
	return tx.Enqueue(ctx, proID, notify.KindPaymentReceived, models.Meta{
		"escrow_id":  esc.ID.String(),
		"amount":     esc.Amount,
		"subject":    string(esc.Subject),
		"subject_id": esc.SubjectID.String(),
	})
}

// Refund возвращает депозит клиенту. Требуется непустая причина.
func (e *Engine) Refund(ctx context.Context, actor models.Actor, escrowID uuid.UUID, reason string) (*models.Escrow, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.ErrInvalidInput
	}
	var result *models.Escrow
	err := e.store.InTx(ctx, func(tx *db.Tx) error {
		esc, err := tx.LockEscrow(ctx, escrowID)
		if err != nil {
			return err
		}
		if esc.Status != models.EscrowHeld {
			return apperr.ErrInvalidState
		}
		if actor.IsSystem() || actor.ID != esc.ClientID {
			return apperr.ErrNotAuthorized
		}
		esc.Meta = esc.Meta.Merge(models.Meta{
			"refunded_by":   actor.ID.String(),
			"refund_reason": reason,
			"refunded_at":   time.Now().UTC().Format(time.RFC3339),
		})
		if err := tx.TransitionEscrow(ctx, esc, models.EscrowRefunded); err != nil {
			return err
		}
		err = e.risk.RecordTx(ctx, tx, risk.Event{
			Actor:     actor.ID,
			Kind:      models.RiskEscrowRefunded,
			Weight:    risk.WeightEscrowRefunded,
			Subject:   esc.Subject,
			SubjectID: esc.SubjectID,
			Meta:      models.Meta{"escrow_id": esc.ID.String(), "reason": reason, "amount": esc.Amount},
		})
		if err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, esc.ClientID, notify.KindPaymentRefunded, models.Meta{
			"escrow_id": esc.ID.String(),
			"amount":    esc.Amount,
		}); err != nil {
			return err
		}
		result = esc
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.EscrowMoved(string(models.EscrowRefunded))
	e.logger.Info("escrow refunded", "escrow_id", result.ID, "amount", result.Amount)
	return result, nil
}

// ActiveDeposit возвращает удерживаемый или выплаченный депозит по предмету; nil, если его нет
func (e *Engine) ActiveDeposit(ctx context.Context, subject models.Subject, subjectID uuid.UUID) (*models.Escrow, error) {
	return e.store.ActiveEscrow(ctx, subject, subjectID)
}
