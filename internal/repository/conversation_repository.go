package repository

import (
	"fmt"

	"gorm.io/gorm"

	"omnirag/internal/model"
)

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) Create(turn *model.Conversation) error {
	if err := r.db.Create(turn).Error; err != nil {
		return fmt.Errorf("create conversation turn failed: %w", err)
	}
	return nil
}

// ListRecent returns the most recent turns in chronological order. Either
// sessionID or userID narrows the query; sessionID wins when both are set.
func (r *ConversationRepository) ListRecent(botID, sessionID, userID string, limit int) ([]model.Conversation, error) {
	q := r.db.Where("bot_id = ?", botID)
	switch {
	case sessionID != "":
		q = q.Where("session_id = ?", sessionID)
	case userID != "":
		q = q.Where("user_id = ?", userID)
	}

	var turns []model.Conversation
	if err := q.Order("created_at DESC").Limit(limit).Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("list conversation turns failed: %w", err)
	}
	// Reverse newest-first to oldest-first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (r *ConversationRepository) DeleteBySession(botID, sessionID, userID string) (int64, error) {
	q := r.db.Where("bot_id = ? AND session_id = ?", botID, sessionID)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	res := q.Delete(&model.Conversation{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete conversation turns failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *ConversationRepository) DeleteByBot(botID, userID string) (int64, error) {
	q := r.db.Where("bot_id = ?", botID)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	res := q.Delete(&model.Conversation{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete conversation turns by bot failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}
