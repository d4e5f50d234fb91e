package handlers

import (
	"context"

	"github.com/google/uuid"

	"marketplace/internal/auction"
	"marketplace/internal/chat"
	"marketplace/internal/jobs"
	"marketplace/internal/risk"
	"marketplace/models"
)

// Интерфейсы движков, нужные обработчикам; в тестах подменяются моками

type AuctionService interface {
	CreateTender(ctx context.Context, actor models.Actor, in auction.TenderInput) (*models.Tender, error)
	GetTender(ctx context.Context, tenderID uuid.UUID) (*models.Tender, error)
	SubmitBid(ctx context.Context, actor models.Actor, tenderID uuid.UUID, in auction.BidInput) (*models.Bid, error)
	ListBids(ctx context.Context, actor models.Actor, tenderID uuid.UUID) ([]models.Bid, error)
	LockBids(ctx context.Context, actor models.Actor, tenderID uuid.UUID) (*models.Tender, error)
	SelectWinner(ctx context.Context, actor models.Actor, tenderID uuid.UUID) (*auction.WinnerResult, error)
	CancelTender(ctx context.Context, actor models.Actor, tenderID uuid.UUID) (*models.Tender, error)
}

type JobService interface {
	CreateJob(ctx context.Context, actor models.Actor, in jobs.JobInput) (*models.Job, error)
	GetJob(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.Job, error)
	OfferJob(ctx context.Context, actor models.Actor, jobID, proID uuid.UUID) (*models.Job, error)
	AcceptJob(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.Job, error)
	StartJob(ctx context.Context, actor models.Actor, jobID uuid.UUID, otp string) (*models.Job, error)
	FinishJob(ctx context.Context, actor models.Actor, jobID uuid.UUID, in jobs.FinishInput) (*jobs.FinishResult, error)
	CancelJob(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.Job, error)
	DisputeJob(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.Job, error)
}

type EscrowService interface {
	CreateDeposit(ctx context.Context, actor models.Actor, subject models.Subject, subjectID uuid.UUID, amount int64) (*models.Escrow, bool, error)
	Release(ctx context.Context, actor models.Actor, escrowID uuid.UUID, reason string) (*models.Escrow, error)
	Refund(ctx context.Context, actor models.Actor, escrowID uuid.UUID, reason string) (*models.Escrow, error)
}

type RiskService interface {
	Assess(ctx context.Context, actor uuid.UUID) (risk.Assessment, error)
}

type ChatService interface {
	CreateChat(ctx context.Context, actor models.Actor, subject models.Subject, subjectID, proID uuid.UUID) (*models.Chat, error)
	PostMessage(ctx context.Context, actor models.Actor, chatID uuid.UUID, content string) (*chat.Message, error)
	ListMessages(ctx context.Context, actor models.Actor, chatID uuid.UUID) ([]chat.Message, error)
}
