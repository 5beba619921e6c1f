package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"omnirag/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(doc *model.Document) error {
	if err := r.db.Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(id uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) ListByBotID(botID string) ([]model.Document, error) {
	var docs []model.Document
	if err := r.db.Where("bot_id = ?", botID).Order("created_at DESC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return docs, nil
}

// MarkProcessing flips the document into the processing state.
func (r *DocumentRepository) MarkProcessing(id uint) error {
	if err := r.db.Model(&model.Document{}).Where("id = ?", id).
		Update("status", model.DocumentStatusProcessing).Error; err != nil {
		return fmt.Errorf("mark document processing failed: %w", err)
	}
	return nil
}

// MarkCompleted records the ingestion stats alongside the completed status.
func (r *DocumentRepository) MarkCompleted(id uint, chunks, vectors, dim int, seconds float64, preview string) error {
	updates := map[string]interface{}{
		"status":           model.DocumentStatusCompleted,
		"error":            "",
		"chunks_created":   chunks,
		"vectors_inserted": vectors,
		"embedding_dim":    dim,
		"processing_time":  seconds,
		"preview":          preview,
	}
	if err := r.db.Model(&model.Document{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("mark document completed failed: %w", err)
	}
	return nil
}

// MarkFailed records a human-readable failure reason.
func (r *DocumentRepository) MarkFailed(id uint, reason string) error {
	updates := map[string]interface{}{
		"status": model.DocumentStatusFailed,
		"error":  reason,
	}
	if err := r.db.Model(&model.Document{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("mark document failed failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) DeleteByIDAndBotID(id uint, botID string) error {
	if err := r.db.Where("id = ? AND bot_id = ?", id, botID).Delete(&model.Document{}).Error; err != nil {
		return fmt.Errorf("delete document failed: %w", err)
	}
	return nil
}
