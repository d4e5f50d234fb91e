package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"marketplace/models"
)

const chatColumns = `id, subject, subject_id, client_id, pro_id, created_at`

const messageColumns = `id, chat_id, sender_id, content, content_masked, pii_detected, created_at`

func (q queries) CreateChat(ctx context.Context, c *models.Chat) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = now()
	query := `INSERT INTO chats (` + chatColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := q.exec(ctx, query, c.ID, c.Subject, c.SubjectID, c.ClientID, c.ProID, c.CreatedAt); err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

func (q queries) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	c := &models.Chat{}
	query := `SELECT ` + chatColumns + ` FROM chats WHERE id=?`
	if err := q.get(ctx, c, query, id); err != nil {
		return nil, err
	}
	return c, nil
}

// FindChat ищет чат по предмету и специалисту
func (q queries) FindChat(ctx context.Context, subject models.Subject, subjectID, proID uuid.UUID) (*models.Chat, error) {
	c := &models.Chat{}
	query := `SELECT ` + chatColumns + ` FROM chats WHERE subject=? AND subject_id=? AND pro_id=?`
	if err := q.get(ctx, c, query, subject, subjectID, proID); err != nil {
		return nil, err
	}
	return c, nil
}

func (q queries) CreateChatMessage(ctx context.Context, m *models.ChatMessage) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = now()
	query := `INSERT INTO chat_messages (` + messageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := q.exec(ctx, query, m.ID, m.ChatID, m.SenderID, m.Content, m.ContentMasked, m.PIIDetected, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

func (q queries) ListChatMessages(ctx context.Context, chatID uuid.UUID) ([]models.ChatMessage, error) {
	msgs := []models.ChatMessage{}
	query := `SELECT ` + messageColumns + ` FROM chat_messages WHERE chat_id=? ORDER BY created_at, id`
	if err := q.selectAll(ctx, &msgs, query, chatID); err != nil {
		return nil, fmt.Errorf("select chat messages: %w", err)
	}
	return msgs, nil
}
