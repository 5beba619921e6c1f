package model

import "time"

// ChatSession is the lightweight session index entry. Exactly one row exists
// per session_id; the title starts as a truncated first query and may later
// be replaced by a generated summary.
type ChatSession struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	SessionID string    `gorm:"size:64;not null;uniqueIndex" json:"id"`
	BotID     string    `gorm:"size:64;not null;index" json:"bot_id"`
	UserID    string    `gorm:"size:64;index" json:"user_id,omitempty"`
	Title     string    `gorm:"size:256;not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
