package model

import "time"

// Document ingestion lifecycle states.
const (
	DocumentStatusPending    = "pending"
	DocumentStatusProcessing = "processing"
	DocumentStatusCompleted  = "completed"
	DocumentStatusFailed     = "failed"
)

// Document tracks an uploaded knowledge-base file and the outcome of its
// ingestion. The chunks themselves live in the vector index, not here.
type Document struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	BotID           string    `gorm:"size:64;not null;index" json:"bot_id"`
	Filename        string    `gorm:"size:256;not null" json:"filename"`
	Status          string    `gorm:"size:16;not null;index" json:"status"`
	Error           string    `gorm:"type:text" json:"error,omitempty"`
	ChunksCreated   int       `json:"chunks_created"`
	VectorsInserted int       `json:"vectors_inserted"`
	EmbeddingDim    int       `json:"embedding_dim"`
	ProcessingTime  float64   `json:"processing_time"`
	Preview         string    `gorm:"type:text" json:"preview,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
