package model

import (
	"encoding/json"
	"time"
)

// Conversation is one logged turn: the user's query and the grounded
// response, plus everything retrieval produced. Rows are append-only.
type Conversation struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	BotID           string    `gorm:"size:64;not null;index" json:"bot_id"`
	SessionID       string    `gorm:"size:64;not null;index" json:"session_id"`
	UserID          string    `gorm:"size:64;index" json:"user_id,omitempty"`
	UserMessage     string    `gorm:"type:text;not null" json:"user_message"`
	Response        string    `gorm:"type:text;not null" json:"response"`
	Sources         string    `gorm:"type:text" json:"-"`
	RetrievedChunks string    `gorm:"type:text" json:"-"`
	Reasoning       string    `gorm:"type:text" json:"reasoning,omitempty"`
	SearchQuery     string    `gorm:"type:text" json:"search_query,omitempty"`
	Model           string    `gorm:"size:128" json:"model"`
	Usage           string    `gorm:"type:text" json:"-"`
	ResponseTime    float64   `json:"response_time"`
	CreatedAt       time.Time `gorm:"index" json:"timestamp"`
}

// SourceList parses the stored sources column; empty on parse error.
func (c *Conversation) SourceList() []string {
	if c.Sources == "" {
		return nil
	}
	var v []string
	_ = json.Unmarshal([]byte(c.Sources), &v)
	return v
}

// SetSources stores the source names as JSON.
func (c *Conversation) SetSources(sources []string) {
	if len(sources) == 0 {
		c.Sources = "[]"
		return
	}
	b, _ := json.Marshal(sources)
	c.Sources = string(b)
}
