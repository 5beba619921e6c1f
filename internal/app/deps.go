package app

import (
	"context"
	"time"

	"omnirag/internal/ai"
	"omnirag/internal/model"
	"omnirag/internal/vectorstore/qdrant"
)

// LLMClient is the slice of the provider client the services consume.
// Satisfied by *ai.OpenAICompatibleClient.
type LLMClient interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage) (*ai.ChatResult, error)
	StreamComplete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage, onChunk func(string) error) (*ai.ChatResult, error)
	Embed(ctx context.Context, cfg ai.EmbeddingConfig, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, cfg ai.EmbeddingConfig, texts []string) ([][]float32, error)
}

// VectorIndex is the vector index lifecycle and search surface.
// Satisfied by *qdrant.Manager.
type VectorIndex interface {
	EnsureReady(ctx context.Context, expectedDim int) error
	Recreate(ctx context.Context, newDim int) error
	Dim() int
	Upsert(ctx context.Context, points []qdrant.Point) error
	Search(ctx context.Context, vector []float32, botID string, limit int) ([]qdrant.ScoredPoint, error)
	DeleteByBot(ctx context.Context, botID string) error
	DeleteBySource(ctx context.Context, botID, source string) error
}

// AnswerCache short-circuits repeated queries. Satisfied by
// *cache.ResponseCache. Implementations must degrade, never fail.
type AnswerCache interface {
	Get(ctx context.Context, botID, query string) ([]byte, bool)
	Set(ctx context.Context, botID, query string, payload []byte)
	InvalidateBot(ctx context.Context, botID string)
}

// CandidateScorer refines candidate order by joint query/passage relevance.
// Satisfied by *Reranker; a nil scorer disables reranking.
type CandidateScorer interface {
	Available(ctx context.Context) bool
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

type sessionStore interface {
	Create(session *model.ChatSession) error
	GetBySessionID(sessionID string) (*model.ChatSession, error)
	Touch(sessionID string, at time.Time) error
	UpdateTitle(sessionID, title string) error
	ListByBot(botID, userID string, limit int) ([]model.ChatSession, error)
	Delete(botID, sessionID, userID string) (int64, error)
	DeleteByBot(botID, userID string) (int64, error)
}

type turnStore interface {
	Create(turn *model.Conversation) error
	ListRecent(botID, sessionID, userID string, limit int) ([]model.Conversation, error)
	DeleteBySession(botID, sessionID, userID string) (int64, error)
	DeleteByBot(botID, userID string) (int64, error)
}
