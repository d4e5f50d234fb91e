// Package chat хранит переписку клиента и специалиста. Контакты в сообщениях
// скрываются, пока по предмету чата нет депозита.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"marketplace/db"
	"marketplace/internal/apperr"
	"marketplace/internal/notify"
	"marketplace/internal/pii"
	"marketplace/internal/risk"
	"marketplace/models"
)

const maxMessageLen = 4000

type Options struct {
	// вес события offplatform_hint; 0 означает вес по умолчанию
	HintWeight int
	Logger     *slog.Logger
}

type Service struct {
	store      *db.Storage
	risk       *risk.Engine
	hintWeight int
	logger     *slog.Logger
}

func NewService(store *db.Storage, riskEngine *risk.Engine, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	weight := opts.HintWeight
	if weight == 0 {
		weight = risk.DefaultOffplatformHintWeight
	}
	return &Service{
		store:      store,
		risk:       riskEngine,
		hintWeight: weight,
		logger:     logger.With("component", "chat"),
	}
}

// Message показывает сообщение в том виде, в каком его видит участник
type Message struct {
	ID          uuid.UUID `json:"id"`
	ChatID      uuid.UUID `json:"chatId"`
	SenderID    uuid.UUID `json:"senderId"`
	Content     string    `json:"content"`
	PIIDetected bool      `json:"piiDetected"`
	Masked      bool      `json:"masked"`
	CreatedAt   time.Time `json:"createdAt"`
}

func render(m models.ChatMessage, unlocked bool) Message {
	msg := Message{
		ID:          m.ID,
		ChatID:      m.ChatID,
		SenderID:    m.SenderID,
		PIIDetected: m.PIIDetected,
		CreatedAt:   m.CreatedAt,
	}
	if unlocked || !m.PIIDetected {
		msg.Content = m.Content
	} else {
		msg.Content = m.ContentMasked
		msg.Masked = true
	}
	return msg
}

// CreateChat открывает чат по работе или тендеру либо возвращает существующий.
// Открыть чат может владелец предмета или сам специалист.
func (s *Service) CreateChat(ctx context.Context, actor models.Actor, subject models.Subject, subjectID, proID uuid.UUID) (*models.Chat, error) {
	if !subject.Valid() || proID == uuid.Nil {
		return nil, apperr.ErrInvalidInput
	}
	var result *models.Chat
	err := s.store.InTx(ctx, func(tx *db.Tx) error {
		clientID, err := subjectOwner(ctx, tx, subject, subjectID)
		if err != nil {
			return err
		}
		if actor.ID != clientID && actor.ID != proID {
			return apperr.ErrNotAuthorized
		}
		if clientID == proID {
			return apperr.ErrInvalidInput
		}
		existing, err := tx.FindChat(ctx, subject, subjectID, proID)
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		c := &models.Chat{Subject: subject, SubjectID: subjectID, ClientID: clientID, ProID: proID}
		if err := tx.CreateChat(ctx, c); err != nil {
			return err
		}
		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func subjectOwner(ctx context.Context, tx *db.Tx, subject models.Subject, subjectID uuid.UUID) (uuid.UUID, error) {
	switch subject {
	case models.SubjectJob:
		job, err := tx.GetJob(ctx, subjectID)
		if err != nil {
			return uuid.Nil, err
		}
		return job.ClientID, nil
	case models.SubjectTender:
		tender, err := tx.GetTender(ctx, subjectID)
		if err != nil {
			return uuid.Nil, err
		}
		return tender.ClientID, nil
	default:
		return uuid.Nil, apperr.ErrInvalidInput
	}
}

// PostMessage сохраняет исходный и замаскированный текст. Контакты без
// депозита по предмету записываются в журнал рисков отправителя.
func (s *Service) PostMessage(ctx context.Context, actor models.Actor, chatID uuid.UUID, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > maxMessageLen {
		return nil, apperr.ErrInvalidInput
	}
	scan := pii.Scan(content)

	var (
		result *Message
		hinted bool
	)
	err := s.store.InTx(ctx, func(tx *db.Tx) error {
		hinted = false
		c, err := tx.GetChat(ctx, chatID)
		if err != nil {
			return err
		}
		if !c.Participant(actor.ID) {
			return apperr.ErrNotAuthorized
		}
		active, err := tx.ActiveEscrow(ctx, c.Subject, c.SubjectID)
		if err != nil {
			return err
		}

		m := &models.ChatMessage{
			ChatID:        c.ID,
			SenderID:      actor.ID,
			Content:       content,
			ContentMasked: scan.Masked,
			PIIDetected:   scan.Detected,
		}
		if err := tx.CreateChatMessage(ctx, m); err != nil {
			return err
		}

		if scan.Detected && active == nil {
			categories := make([]string, len(scan.Categories))
			for i, cat := range scan.Categories {
				categories[i] = string(cat)
			}
			err := s.risk.RecordTx(ctx, tx, risk.Event{
				Actor:     actor.ID,
				Kind:      models.RiskOffplatformHint,
				Weight:    s.hintWeight,
				Subject:   c.Subject,
				SubjectID: c.SubjectID,
				Meta:      models.Meta{"chat_id": c.ID.String(), "message_id": m.ID.String(), "categories": categories},
			})
			if err != nil {
				return err
			}
			hinted = true
		}

		recipient := c.ProID
		if actor.ID == c.ProID {
			recipient = c.ClientID
		}
		view := render(*m, active != nil)
		if err := tx.Enqueue(ctx, recipient, notify.KindNewMessage, models.Meta{
			"chat_id":    c.ID.String(),
			"message_id": m.ID.String(),
			"preview":    preview(view.Content),
		}); err != nil {
			return err
		}
		result = &view
		return nil
	})
	if err != nil {
		return nil, err
	}
	if hinted {
		s.logger.Info("contact details hidden", "chat_id", chatID, "sender", actor.ID)
	}
	return result, nil
}

// ListMessages отдаёт историю чата. Исходный текст виден, только если по
// предмету есть удерживаемый или выплаченный депозит.
func (s *Service) ListMessages(ctx context.Context, actor models.Actor, chatID uuid.UUID) ([]Message, error) {
	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.Participant(actor.ID) {
		return nil, apperr.ErrNotAuthorized
	}
	active, err := s.store.ActiveEscrow(ctx, c.Subject, c.SubjectID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListChatMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	out := make([]Message, len(rows))
	for i, m := range rows {
		out[i] = render(m, active != nil)
	}
	return out, nil
}

func preview(text string) string {
	const limit = 80
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit]) + "…"
}
