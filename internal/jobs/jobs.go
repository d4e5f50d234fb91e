// Package jobs ведёт жизненный цикл мгновенного заказа: предложение,
// принятие, старт и завершение по одноразовым кодам.
package jobs

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"path"
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

// Releaser выплачивает удерживаемый депозит по завершённой работе внутри транзакции
type Releaser interface {
	ReleaseForJob(ctx context.Context, tx *db.Tx, jobID uuid.UUID) (*models.Escrow, error)
}

type Options struct {
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Engine struct {
	store    *db.Storage
	risk     *risk.Engine
	releaser Releaser
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewEngine(store *db.Storage, riskEngine *risk.Engine, releaser Releaser, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		risk:     riskEngine,
		releaser: releaser,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "jobs"),
	}
}

// Параметры нового заказа
type JobInput struct {
	Category    string `json:"category"`
	Brief       string `json:"brief"`
	PriceEstMin int64  `json:"priceEstMin"`
	PriceEstMax int64  `json:"priceEstMax"`
}

// FinishInput (данные для завершения работы)
type FinishInput struct {
	OTP          string   `json:"otp"`
	EvidenceURLs []string `json:"evidenceUrls"`
	Notes        string   `json:"notes"`
}

// FinishResult содержит итог завершения. Warnings перечисляет некритичные сбои,
// например неудавшуюся авто-выплату.
type FinishResult struct {
	Job            *models.Job `json:"job"`
	EscrowReleased bool        `json:"escrowReleased"`
	Warnings       []string    `json:"warnings,omitempty"`
}

const (
	otpStart  = "start"
	otpFinish = "finish"
)

var evidenceExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

func (e *Engine) CreateJob(ctx context.Context, actor models.Actor, in JobInput) (*models.Job, error) {
	if actor.Role != models.RoleClient {
		return nil, apperr.ErrNotAuthorized
	}
	category := strings.TrimSpace(in.Category)
	if category == "" || len(category) > 100 {
		return nil, apperr.ErrInvalidInput
	}
	if in.PriceEstMin < 0 || (in.PriceEstMax > 0 && in.PriceEstMax < in.PriceEstMin) {
		return nil, apperr.ErrInvalidInput
	}
	job := &models.Job{
		ClientID:    actor.ID,
		Category:    category,
		Brief:       strings.TrimSpace(in.Brief),
		PriceEstMin: in.PriceEstMin,
		PriceEstMax: in.PriceEstMax,
		Status:      models.JobNew,
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	e.logger.Info("job created", "job_id", job.ID, "client_id", actor.ID)
	return job, nil
}

// GetJob доступен клиенту, назначенному и приглашённому специалисту
func (e *Engine) GetJob(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.Job, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	offered := job.OfferedProID.Valid && job.OfferedProID.UUID == actor.ID
	open := job.Status == models.JobNew && actor.Role == models.RolePro
	if job.ClientID != actor.ID && !job.AssignedTo(actor.ID) && !offered && !open {
		return nil, apperr.ErrNotAuthorized
	}
	return job, nil
}

// OfferJob предлагает новую работу конкретному специалисту
func (e *Engine) OfferJob(ctx context.Context, actor models.Actor, jobID, proID uuid.UUID) (*models.Job, error) {
	if proID == uuid.Nil || proID == actor.ID {
		return nil, apperr.ErrInvalidInput
	}
	var result *models.Job
	err := e.store.InTx(ctx, func(tx *db.Tx) error {
		job, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.ClientID != actor.ID {
			return apperr.ErrNotOwner
		}
		if job.Status != models.JobNew {
			return apperr.ErrInvalidState
		}
		job.Status = models.JobOffered
		job.OfferedProID = uuid.NullUUID{UUID: proID, Valid: true}
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, proID, notify.KindJobOffered, models.Meta{
			"job_id":   job.ID.String(),
			"category": job.Category,
		}); err != nil {
			return err
		}
		result = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AcceptJob назначает специалиста и выпускает коды старта и завершения.
// Новую работу может принять любой специалист, а предложенную только приглашённый.
// Коды уходят клиенту в уведомлении job_accepted.
func (e *Engine) AcceptJob(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.Job, error) {
	if actor.Role != models.RolePro {
		return nil, apperr.ErrNotAuthorized
	}
	startOTP, err := newOTP()
	if err != nil {
		return nil, err
	}
	finishOTP, err := newOTP()
	if err != nil {
		return nil, err
	}

	var result *models.Job
	err = e.store.InTx(ctx, func(tx *db.Tx) error {
		job, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.ClientID == actor.ID {
			return apperr.ErrNotAuthorized
		}
		switch job.Status {
		case models.JobNew:
		case models.JobOffered:
			if !job.OfferedProID.Valid || job.OfferedProID.UUID != actor.ID {
				return apperr.ErrNotAuthorized
			}
		default:
			return apperr.ErrInvalidState
		}
		job.Status = models.JobAccepted
		job.ProID = uuid.NullUUID{UUID: actor.ID, Valid: true}
		job.StartOTP = startOTP
		job.FinishOTP = finishOTP
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, job.ClientID, notify.KindJobAccepted, models.Meta{
			"job_id":     job.ID.String(),
			"pro_id":     actor.ID.String(),
			"start_otp":  startOTP,
			"finish_otp": finishOTP,
		}); err != nil {
			return err
		}
		result = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("job accepted", "job_id", jobID, "pro_id", actor.ID)
	return result, nil
}

// StartJob переводит работу в in_progress по коду старта. Неверный код
// фиксируется в журнале рисков, состояние работы не меняется.
func (e *Engine) StartJob(ctx context.Context, actor models.Actor, jobID uuid.UUID, otp string) (*models.Job, error) {
	var (
		result     *models.Job
		otpFailed  bool
		startedNow time.Time
	)
	err := e.store.InTx(ctx, func(tx *db.Tx) error {
		otpFailed = false
		job, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if !job.AssignedTo(actor.ID) {
			return apperr.ErrNotAssigned
		}
		if job.Status != models.JobAccepted || job.StartedAt != nil {
			return apperr.ErrInvalidState
		}
		if !otpMatches(job.StartOTP, otp) {
			otpFailed = true
			return e.risk.RecordTx(ctx, tx, risk.Event{
				Actor:     actor.ID,
				Kind:      models.RiskOTPFailed,
				Weight:    risk.WeightStartOTPFailed,
				Subject:   models.SubjectJob,
				SubjectID: job.ID,
				Meta:      models.Meta{"otp_type": otpStart},
			})
		}

		startedNow = time.Now().UTC()
		job.Status = models.JobInProgress
		job.StartedAt = &startedNow
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		err = e.risk.RecordTx(ctx, tx, risk.Event{
			Actor:     actor.ID,
			Kind:      models.RiskJobStarted,
			Weight:    risk.WeightJobStarted,
			Subject:   models.SubjectJob,
			SubjectID: job.ID,
			Meta:      models.Meta{"started_at": startedNow.Format(time.RFC3339)},
		})
		if err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, job.ClientID, notify.KindJobStarted, models.Meta{
			"job_id": job.ID.String(),
			"pro_id": actor.ID.String(),
		}); err != nil {
			return err
		}
		result = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	if otpFailed {
		e.metrics.OTPFailed(otpStart)
		e.logger.Warn("start otp rejected", "job_id", jobID, "pro_id", actor.ID)
		return nil, apperr.ErrInvalidOTP
	}
	e.logger.Info("job started", "job_id", jobID, "pro_id", actor.ID)
	return result, nil
}

// FinishJob завершает работу по коду завершения и фото-подтверждениям,
// затем в той же транзакции выплачивает удерживаемый депозит. Сбой выплаты
// не отменяет завершение и возвращается предупреждением.
func (e *Engine) FinishJob(ctx context.Context, actor models.Actor, jobID uuid.UUID, in FinishInput) (*FinishResult, error) {
	var (
		result    *FinishResult
		released  *models.Escrow
		otpFailed bool
	)
	err := e.store.InTx(ctx, func(tx *db.Tx) error {
		otpFailed = false
		released = nil
		job, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if !job.AssignedTo(actor.ID) {
			return apperr.ErrNotAssigned
		}
		if job.Status != models.JobInProgress || job.FinishedAt != nil {
			return apperr.ErrInvalidState
		}
		if !otpMatches(job.FinishOTP, in.OTP) {
			otpFailed = true
			return e.risk.RecordTx(ctx, tx, risk.Event{
				Actor:     actor.ID,
				Kind:      models.RiskOTPFailed,
				Weight:    risk.WeightFinishOTPFailed,
				Subject:   models.SubjectJob,
				SubjectID: job.ID,
				Meta:      models.Meta{"otp_type": otpFinish},
			})
		}
		evidence := FilterEvidence(in.EvidenceURLs)
		if len(evidence) == 0 {
			return apperr.ErrNoEvidence
		}

		finished := time.Now().UTC()
		job.Status = models.JobDone
		job.FinishedAt = &finished
		job.EvidenceURLs = evidence
		job.CompletionNotes = strings.TrimSpace(in.Notes)
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		if err := tx.IncrementCompletedJobs(ctx, actor.ID); err != nil {
			return err
		}

		meta := models.Meta{
			"finished_at":    finished.Format(time.RFC3339),
			"evidence_count": len(evidence),
		}
		if job.StartedAt != nil {
			meta["duration_minutes"] = int64(finished.Sub(*job.StartedAt).Round(time.Minute) / time.Minute)
		}
		err = e.risk.RecordTx(ctx, tx, risk.Event{
			Actor:     actor.ID,
			Kind:      models.RiskJobCompleted,
			Weight:    risk.WeightJobCompleted,
			Subject:   models.SubjectJob,
			SubjectID: job.ID,
			Meta:      meta,
		})
		if err != nil {
			return err
		}

		res := &FinishResult{Job: job}
		err = tx.Savepoint(ctx, "auto_release", func() error {
			esc, err := e.releaser.ReleaseForJob(ctx, tx, job.ID)
			if err != nil {
				return err
			}
			released = esc
			return nil
		})
		if err != nil {
			released = nil
			e.logger.Warn("auto release failed", "job_id", job.ID, "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("escrow release failed: %s", apperr.CodeOf(err)))
		}
		res.EscrowReleased = released != nil

		if err := tx.Enqueue(ctx, job.ClientID, notify.KindJobCompleted, models.Meta{
			"job_id":          job.ID.String(),
			"pro_id":          actor.ID.String(),
			"escrow_released": res.EscrowReleased,
		}); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if otpFailed {
		e.metrics.OTPFailed(otpFinish)
		e.logger.Warn("finish otp rejected", "job_id", jobID, "pro_id", actor.ID)
		return nil, apperr.ErrInvalidOTP
	}
	if released != nil {
		e.metrics.EscrowMoved(string(models.EscrowReleased))
	}
	e.logger.Info("job finished", "job_id", jobID, "escrow_released", result.EscrowReleased)
	return result, nil
}

// CancelJob отменяет работу клиентом или назначенным специалистом
func (e *Engine) CancelJob(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.Job, error) {
	return e.moveByParty(ctx, actor, jobID, models.JobCancelled)
}

// DisputeJob открывает спор по работе
func (e *Engine) DisputeJob(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.Job, error) {
	return e.moveByParty(ctx, actor, jobID, models.JobDisputed)
}

func (e *Engine) moveByParty(ctx context.Context, actor models.Actor, jobID uuid.UUID, to models.JobStatus) (*models.Job, error) {
	var result *models.Job
	err := e.store.InTx(ctx, func(tx *db.Tx) error {
		job, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.ClientID != actor.ID && !job.AssignedTo(actor.ID) {
			return apperr.ErrNotAuthorized
		}
		if !job.Status.CanTransition(to) {
			return apperr.ErrInvalidState
		}
		job.Status = to
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		result = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("job status changed", "job_id", jobID, "status", to, "actor", actor.ID)
	return result, nil
}

// FilterEvidence оставляет абсолютные http(s) ссылки на изображения
func FilterEvidence(urls []string) models.StringList {
	valid := models.StringList{}
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			continue
		}
		if !evidenceExt[strings.ToLower(path.Ext(u.Path))] {
			continue
		}
		valid = append(valid, raw)
	}
	return valid
}

func otpMatches(expected, got string) bool {
	got = strings.TrimSpace(got)
	if expected == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// newOTP выдаёт шестизначный код
func newOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
