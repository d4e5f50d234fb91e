package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"marketplace/models"
)

const jobColumns = `id, client_id, pro_id, offered_pro_id, category, brief, price_est_min, price_est_max,
        status, start_otp, finish_otp, started_at, finished_at, evidence_urls, completion_notes,
        version, created_at, updated_at`

func (q queries) CreateJob(ctx context.Context, j *models.Job) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	ts := now()
	j.CreatedAt, j.UpdatedAt = ts, ts
	j.Version = 1
	if j.Status == "" {
		j.Status = models.JobNew
	}
	if j.EvidenceURLs == nil {
		j.EvidenceURLs = models.StringList{}
	}
	query := `
        INSERT INTO jobs (` + jobColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.exec(ctx, query,
		j.ID, j.ClientID, j.ProID, j.OfferedProID, j.Category, j.Brief, j.PriceEstMin, j.PriceEstMax,
		j.Status, j.StartOTP, j.FinishOTP, j.StartedAt, j.FinishedAt, j.EvidenceURLs, j.CompletionNotes,
		j.Version, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (q queries) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j := &models.Job{}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id=?`
	if err := q.get(ctx, j, query, id); err != nil {
		return nil, err
	}
	return j, nil
}

// LockJob читает работу с блокировкой строки до конца транзакции
func (q queries) LockJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j := &models.Job{}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id=?` + q.forUpdate()
	if err := q.get(ctx, j, query, id); err != nil {
		return nil, err
	}
	return j, nil
}

// TouchJob записывает в строку без изменения полей. Запись держит строку до конца
// транзакции, а параллельная транзакция с более старым снимком получает
// ошибку сериализации вместо устаревших данных.
func (q queries) TouchJob(ctx context.Context, id uuid.UUID) error {
	return q.casExec(ctx, `UPDATE jobs SET version=version WHERE id=?`, id)
}

// UpdateJob сохраняет работу по compare-and-swap версии
func (q queries) UpdateJob(ctx context.Context, j *models.Job) error {
	prev := j.Version
	ts := now()
	query := `
        UPDATE jobs
        SET pro_id=?, offered_pro_id=?, status=?, start_otp=?, finish_otp=?,
            started_at=?, finished_at=?, evidence_urls=?, completion_notes=?,
            version=?, updated_at=?
        WHERE id=? AND version=?`
	err := q.casExec(ctx, query,
		j.ProID, j.OfferedProID, j.Status, j.StartOTP, j.FinishOTP,
		j.StartedAt, j.FinishedAt, j.EvidenceURLs, j.CompletionNotes,
		prev+1, ts, j.ID, prev)
	if err != nil {
		return err
	}
	j.Version = prev + 1
	j.UpdatedAt = ts
	return nil
}
