package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"marketplace/models"
)

// SaveProfessional создаёт или обновляет профиль специалиста
func (q queries) SaveProfessional(ctx context.Context, p *models.Professional) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now()
	}
	query := `
        INSERT INTO professionals (id, full_name, rating, completed_jobs, created_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE
        SET full_name = excluded.full_name,
            rating = excluded.rating,
            completed_jobs = excluded.completed_jobs`
	if _, err := q.exec(ctx, query, p.ID, p.FullName, p.Rating, p.CompletedJobs, p.CreatedAt); err != nil {
		return fmt.Errorf("save professional: %w", err)
	}
	return nil
}

func (q queries) GetProfessional(ctx context.Context, id uuid.UUID) (*models.Professional, error) {
	p := &models.Professional{}
	query := `SELECT id, full_name, rating, completed_jobs, created_at FROM professionals WHERE id=?`
	if err := q.get(ctx, p, query, id); err != nil {
		return nil, err
	}
	return p, nil
}

// IncrementCompletedJobs увеличивает счётчик завершённых работ, создавая профиль при необходимости
func (q queries) IncrementCompletedJobs(ctx context.Context, proID uuid.UUID) error {
	query := `
        INSERT INTO professionals (id, full_name, rating, completed_jobs, created_at)
        VALUES (?, '', 0, 1, ?)
        ON CONFLICT (id) DO UPDATE
        SET completed_jobs = professionals.completed_jobs + 1`
	if _, err := q.exec(ctx, query, proID, now()); err != nil {
		return fmt.Errorf("increment completed jobs: %w", err)
	}
	return nil
}
