package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"omnirag/internal/ai"
	"omnirag/internal/config"
	"omnirag/internal/model"
)

const sessionTitleLimit = 50

// TurnRecord is what a completed answer contributes to history.
type TurnRecord struct {
	BotID        string
	SessionID    string
	UserID       string
	UserMessage  string
	Response     string
	Sources      []string
	Chunks       []Candidate
	Reasoning    string
	SearchQuery  string
	Model        string
	Usage        ai.Usage
	ResponseTime float64
}

// HistoryMessage is one message in the client-facing history view.
type HistoryMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Sources   []string  `json:"sources,omitempty"`
	Model     string    `json:"model,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryService persists conversation turns and maintains the session index.
type HistoryService struct {
	sessions sessionStore
	turns    turnStore
	llm      LLMClient
	llmCfg   config.LLMConfig
}

func NewHistoryService(sessions sessionStore, turns turnStore, llm LLMClient, llmCfg config.LLMConfig) *HistoryService {
	return &HistoryService{
		sessions: sessions,
		turns:    turns,
		llm:      llm,
		llmCfg:   llmCfg,
	}
}

// LogTurn appends the turn and keeps the session row in sync: the first turn
// creates the session with a provisional title, later turns only bump
// updated_at. Title refinement runs in the background and may silently fail.
func (s *HistoryService) LogTurn(ctx context.Context, rec TurnRecord) error {
	turn := &model.Conversation{
		BotID:        rec.BotID,
		SessionID:    rec.SessionID,
		UserID:       rec.UserID,
		UserMessage:  rec.UserMessage,
		Response:     rec.Response,
		Reasoning:    rec.Reasoning,
		SearchQuery:  rec.SearchQuery,
		Model:        rec.Model,
		ResponseTime: rec.ResponseTime,
		CreatedAt:    time.Now(),
	}
	turn.SetSources(rec.Sources)
	if len(rec.Chunks) > 0 {
		if b, err := json.Marshal(rec.Chunks); err == nil {
			turn.RetrievedChunks = string(b)
		}
	}
	if b, err := json.Marshal(rec.Usage); err == nil {
		turn.Usage = string(b)
	}
	if err := s.turns.Create(turn); err != nil {
		return fmt.Errorf("log turn failed: %w", err)
	}

	existing, err := s.sessions.GetBySessionID(rec.SessionID)
	if err != nil {
		return fmt.Errorf("lookup session %s failed: %w", rec.SessionID, err)
	}
	if existing != nil {
		if err := s.sessions.Touch(rec.SessionID, turn.CreatedAt); err != nil {
			return fmt.Errorf("touch session %s failed: %w", rec.SessionID, err)
		}
		return nil
	}

	session := &model.ChatSession{
		SessionID: rec.SessionID,
		BotID:     rec.BotID,
		UserID:    rec.UserID,
		Title:     provisionalTitle(rec.UserMessage),
	}
	if err := s.sessions.Create(session); err != nil {
		return fmt.Errorf("create session %s failed: %w", rec.SessionID, err)
	}
	go s.refineTitle(rec.SessionID, rec.UserMessage)
	return nil
}

// RecentMessages returns the last turns as chat messages, oldest first, for
// prompt assembly.
func (s *HistoryService) RecentMessages(botID, sessionID, userID string, limit int) ([]ai.ChatMessage, error) {
	turns, err := s.turns.ListRecent(botID, sessionID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent turns failed: %w", err)
	}
	messages := make([]ai.ChatMessage, 0, len(turns)*2)
	for _, t := range turns {
		messages = append(messages,
			ai.ChatMessage{Role: "user", Content: t.UserMessage},
			ai.ChatMessage{Role: "assistant", Content: t.Response},
		)
	}
	return messages, nil
}

// GetHistory returns the session transcript as alternating user/assistant
// messages, oldest first.
func (s *HistoryService) GetHistory(botID, sessionID, userID string, limit int) ([]HistoryMessage, error) {
	turns, err := s.turns.ListRecent(botID, sessionID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history failed: %w", err)
	}
	messages := make([]HistoryMessage, 0, len(turns)*2)
	for _, t := range turns {
		messages = append(messages,
			HistoryMessage{Role: "user", Content: t.UserMessage, Timestamp: t.CreatedAt},
			HistoryMessage{Role: "assistant", Content: t.Response, Sources: t.SourceList(), Model: t.Model, Timestamp: t.CreatedAt},
		)
	}
	return messages, nil
}

// ListSessions returns the bot's sessions, most recently active first.
func (s *HistoryService) ListSessions(botID, userID string, limit int) ([]model.ChatSession, error) {
	sessions, err := s.sessions.ListByBot(botID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions failed: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes one session and its turns.
func (s *HistoryService) DeleteSession(botID, sessionID, userID string) error {
	deleted, err := s.sessions.Delete(botID, sessionID, userID)
	if err != nil {
		return fmt.Errorf("delete session %s failed: %w", sessionID, err)
	}
	if deleted == 0 {
		return ErrSessionNotFound
	}
	if _, err := s.turns.DeleteBySession(botID, sessionID, userID); err != nil {
		return fmt.Errorf("delete turns for session %s failed: %w", sessionID, err)
	}
	return nil
}

// ClearAll removes every session and turn for the bot, returning the number
// of sessions removed.
func (s *HistoryService) ClearAll(botID, userID string) (int64, error) {
	deleted, err := s.sessions.DeleteByBot(botID, userID)
	if err != nil {
		return 0, fmt.Errorf("clear sessions failed: %w", err)
	}
	if _, err := s.turns.DeleteByBot(botID, userID); err != nil {
		return deleted, fmt.Errorf("clear turns failed: %w", err)
	}
	return deleted, nil
}

// refineTitle asks a cheap model for a short session title. Best effort: the
// provisional title stands on any failure.
func (s *HistoryService) refineTitle(sessionID, firstQuery string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	titleModel := s.llmCfg.RewriteModel
	if titleModel == "" {
		titleModel = s.llmCfg.ChatModel
	}
	cfg := ai.ChatConfig{
		BaseURL:     s.llmCfg.BaseURL,
		APIKey:      s.llmCfg.APIKey,
		Model:       titleModel,
		Temperature: 0.3,
		MaxTokens:   20,
	}
	messages := []ai.ChatMessage{
		{Role: "system", Content: "Generate a very short title (3-6 words) for a conversation that starts with the given message. Reply with the title only, no quotes."},
		{Role: "user", Content: firstQuery},
	}
	result, err := s.llm.Complete(ctx, cfg, messages)
	if err != nil {
		log.Printf("session title generation failed for %s: %v", sessionID, err)
		return
	}
	title := strings.Trim(strings.TrimSpace(result.Content), `"'`)
	if title == "" {
		return
	}
	if err := s.sessions.UpdateTitle(sessionID, title); err != nil {
		log.Printf("session title update failed for %s: %v", sessionID, err)
	}
}

func provisionalTitle(query string) string {
	query = strings.TrimSpace(query)
	runes := []rune(query)
	if len(runes) <= sessionTitleLimit {
		return query
	}
	return string(runes[:sessionTitleLimit]) + "..."
}
