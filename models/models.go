package models

import (
	"time"

	"github.com/google/uuid"
)

// Role участника операции
type Role string

const (
	RoleClient Role = "client"
	RolePro    Role = "pro"
	RoleSystem Role = "system"
)

// Actor описывает аутентифицированного участника. Передаётся в каждую операцию явно.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// SystemActor используется для системных действий (авто-выплата после завершения работы)
var SystemActor = Actor{ID: uuid.Nil, Role: RoleSystem}

func (a Actor) IsSystem() bool { return a.Role == RoleSystem }

// Professional (Специалист): входные данные для скоринга ставок
type Professional struct {
	ID            uuid.UUID `db:"id" json:"id"`
	FullName      string    `db:"full_name" json:"fullName"`
	Rating        float64   `db:"rating" json:"rating"`
	CompletedJobs int       `db:"completed_jobs" json:"completedJobs"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// Сущность Тендера
type Tender struct {
	ID          uuid.UUID     `db:"id" json:"id"`
	ClientID    uuid.UUID     `db:"client_id" json:"clientId"`
	Category    string        `db:"category" json:"category"`
	Brief       string        `db:"brief" json:"brief"`
	BudgetHint  int64         `db:"budget_hint" json:"budgetHint"`
	WindowFrom  *time.Time    `db:"window_from" json:"windowFrom,omitempty"`
	WindowTo    *time.Time    `db:"window_to" json:"windowTo,omitempty"`
	BidsLocked  bool          `db:"bids_locked" json:"bidsLocked"`
	Status      TenderStatus  `db:"status" json:"status"`
	WinnerBidID uuid.NullUUID `db:"winner_bid_id" json:"winnerBidId"`
	PayPrice    *int64        `db:"pay_price" json:"payPrice,omitempty"`
	Version     int           `db:"version" json:"version"`
	CreatedAt   time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updatedAt"`
}

// Сущность Предложения (ставки)
type Bid struct {
	ID            uuid.UUID `db:"id" json:"id"`
	TenderID      uuid.UUID `db:"tender_id" json:"tenderId"`
	ProID         uuid.UUID `db:"pro_id" json:"proId"`
	Price         int64     `db:"price" json:"price"`
	WarrantyDays  int       `db:"warranty_days" json:"warrantyDays"`
	Note          string    `db:"note" json:"note"`
	WeightedScore *float64  `db:"weighted_score" json:"weightedScore,omitempty"`
	IsWinner      bool      `db:"is_winner" json:"isWinner"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// Сущность Работы (мгновенный заказ)
type Job struct {
	ID              uuid.UUID     `db:"id" json:"id"`
	ClientID        uuid.UUID     `db:"client_id" json:"clientId"`
	ProID           uuid.NullUUID `db:"pro_id" json:"proId"`
	OfferedProID    uuid.NullUUID `db:"offered_pro_id" json:"offeredProId"`
	Category        string        `db:"category" json:"category"`
	Brief           string        `db:"brief" json:"brief"`
	PriceEstMin     int64         `db:"price_est_min" json:"priceEstMin"`
	PriceEstMax     int64         `db:"price_est_max" json:"priceEstMax"`
	Status          JobStatus     `db:"status" json:"status"`
	StartOTP        string        `db:"start_otp" json:"-"`
	FinishOTP       string        `db:"finish_otp" json:"-"`
	StartedAt       *time.Time    `db:"started_at" json:"startedAt,omitempty"`
	FinishedAt      *time.Time    `db:"finished_at" json:"finishedAt,omitempty"`
	EvidenceURLs    StringList    `db:"evidence_urls" json:"evidenceUrls"`
	CompletionNotes string        `db:"completion_notes" json:"completionNotes,omitempty"`
	Version         int           `db:"version" json:"version"`
	CreatedAt       time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updatedAt"`
}

// AssignedTo сообщает, назначена ли работа этому специалисту
func (j *Job) AssignedTo(proID uuid.UUID) bool {
	return j.ProID.Valid && j.ProID.UUID == proID
}

// Subject указывает, к чему привязан депозит или чат
type Subject string

const (
	SubjectJob    Subject = "job"
	SubjectTender Subject = "tender"
)

func (s Subject) Valid() bool {
	return s == SubjectJob || s == SubjectTender
}

// Escrow (депозит)
type Escrow struct {
	ID            uuid.UUID    `db:"id" json:"id"`
	Subject       Subject      `db:"subject" json:"subject"`
	SubjectID     uuid.UUID    `db:"subject_id" json:"subjectId"`
	ClientID      uuid.UUID    `db:"client_id" json:"clientId"`
	Amount        int64        `db:"amount" json:"amount"`
	Status        EscrowStatus `db:"status" json:"status"`
	PaymentIntent string       `db:"payment_intent" json:"paymentIntent"`
	Meta          Meta         `db:"meta" json:"meta"`
	CreatedAt     time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updatedAt"`
}

// RiskKind (вид события в журнале рисков)
type RiskKind string

const (
	RiskOTPFailed       RiskKind = "otp_failed"
	RiskDepositCreated  RiskKind = "deposit_created"
	RiskJobStarted      RiskKind = "job_started"
	RiskJobCompleted    RiskKind = "job_completed"
	RiskEscrowReleased  RiskKind = "escrow_released"
	RiskEscrowRefunded  RiskKind = "escrow_refunded"
	RiskWinnerSelected  RiskKind = "winner_selected"
	RiskOffplatformHint RiskKind = "offplatform_hint"
)

// Сущность записи журнала рисков, только добавление
type RiskEvent struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	Actor     uuid.UUID  `db:"actor" json:"actor"`
	Kind      RiskKind   `db:"kind" json:"kind"`
	Weight    int        `db:"weight" json:"weight"`
	Subject   Subject    `db:"subject" json:"subject"`
	SubjectID uuid.UUID  `db:"subject_id" json:"subjectId"`
	Meta      Meta       `db:"meta" json:"meta"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	ClearedAt *time.Time `db:"cleared_at" json:"clearedAt,omitempty"`
}

// Chat между клиентом и специалистом по работе или тендеру
type Chat struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Subject   Subject   `db:"subject" json:"subject"`
	SubjectID uuid.UUID `db:"subject_id" json:"subjectId"`
	ClientID  uuid.UUID `db:"client_id" json:"clientId"`
	ProID     uuid.UUID `db:"pro_id" json:"proId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Participant проверяет, участвует ли пользователь в чате
func (c *Chat) Participant(userID uuid.UUID) bool {
	return c.ClientID == userID || c.ProID == userID
}

// ChatMessage хранит исходный и замаскированный текст
type ChatMessage struct {
	ID            uuid.UUID `db:"id" json:"id"`
	ChatID        uuid.UUID `db:"chat_id" json:"chatId"`
	SenderID      uuid.UUID `db:"sender_id" json:"senderId"`
	Content       string    `db:"content" json:"-"`
	ContentMasked string    `db:"content_masked" json:"-"`
	PIIDetected   bool      `db:"pii_detected" json:"piiDetected"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// OutboxStatus (состояние записи исходящих уведомлений)
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// Сущность уведомления, записанного вместе с бизнес-транзакцией
type OutboxMessage struct {
	ID        uuid.UUID    `db:"id" json:"id"`
	Recipient uuid.UUID    `db:"recipient" json:"recipient"`
	Kind      string       `db:"kind" json:"kind"`
	Payload   Meta         `db:"payload" json:"payload"`
	Status    OutboxStatus `db:"status" json:"status"`
	Attempts  int          `db:"attempts" json:"attempts"`
	LastError string       `db:"last_error" json:"lastError,omitempty"`
	CreatedAt time.Time    `db:"created_at" json:"createdAt"`
	SentAt    *time.Time   `db:"sent_at" json:"sentAt,omitempty"`
}
