package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"omnirag/internal/model"
)

type ChatSessionRepository struct {
	db *gorm.DB
}

func NewChatSessionRepository(db *gorm.DB) *ChatSessionRepository {
	return &ChatSessionRepository{db: db}
}

func (r *ChatSessionRepository) Create(session *model.ChatSession) error {
	if err := r.db.Create(session).Error; err != nil {
		return fmt.Errorf("create chat session failed: %w", err)
	}
	return nil
}

func (r *ChatSessionRepository) GetBySessionID(sessionID string) (*model.ChatSession, error) {
	var session model.ChatSession
	if err := r.db.Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat session failed: %w", err)
	}
	return &session, nil
}

// Touch bumps updated_at for an existing session.
func (r *ChatSessionRepository) Touch(sessionID string, at time.Time) error {
	if err := r.db.Model(&model.ChatSession{}).Where("session_id = ?", sessionID).
		Update("updated_at", at).Error; err != nil {
		return fmt.Errorf("touch chat session failed: %w", err)
	}
	return nil
}

func (r *ChatSessionRepository) UpdateTitle(sessionID, title string) error {
	if err := r.db.Model(&model.ChatSession{}).Where("session_id = ?", sessionID).
		Update("title", title).Error; err != nil {
		return fmt.Errorf("update chat session title failed: %w", err)
	}
	return nil
}

// ListByBot returns sessions newest-activity first. An empty userID matches
// sessions of all users.
func (r *ChatSessionRepository) ListByBot(botID, userID string, limit int) ([]model.ChatSession, error) {
	q := r.db.Where("bot_id = ?", botID)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var sessions []model.ChatSession
	if err := q.Order("updated_at DESC").Limit(limit).Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list chat sessions failed: %w", err)
	}
	return sessions, nil
}

func (r *ChatSessionRepository) Delete(botID, sessionID, userID string) (int64, error) {
	q := r.db.Where("bot_id = ? AND session_id = ?", botID, sessionID)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	res := q.Delete(&model.ChatSession{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete chat session failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *ChatSessionRepository) DeleteByBot(botID, userID string) (int64, error) {
	q := r.db.Where("bot_id = ?", botID)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	res := q.Delete(&model.ChatSession{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete chat sessions by bot failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}
