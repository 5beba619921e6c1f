package app

import (
	"time"

	"omnirag/internal/ai"
)

// Candidate is an ephemeral retrieval hit, produced per query and never
// persisted beyond the logged turn payload.
type Candidate struct {
	Text         string   `json:"text"`
	Source       string   `json:"source"`
	InitialScore float64  `json:"initial_score"`
	HybridScore  float64  `json:"hybrid_score"`
	RerankRaw    float64  `json:"rerank_raw,omitempty"`
	Highlights   []string `json:"highlights,omitempty"`
}

// AnswerResult is the full single-shot response payload; it is also what the
// cache stores.
type AnswerResult struct {
	Response        string        `json:"response"`
	Sources         []string      `json:"sources"`
	RetrievedChunks []Candidate   `json:"retrieved_chunks"`
	ProgressLogs    []ProgressLog `json:"agent_logs"`
	Reasoning       string        `json:"reasoning"`
	Model           string        `json:"model"`
	Usage           ai.Usage      `json:"usage"`
	Confidence      float64       `json:"confidence"`
	ResponseTime    float64       `json:"response_time"`
	SessionID       string        `json:"session_id,omitempty"`
	MessageID       string        `json:"message_id,omitempty"`
	SearchQuery     string        `json:"search_query"`
	FromCache       bool          `json:"from_cache"`
}

type StreamEventType string

const (
	EventLog      StreamEventType = "log"
	EventMetadata StreamEventType = "metadata"
	EventContent  StreamEventType = "content"
	EventDone     StreamEventType = "done"
	EventError    StreamEventType = "error"
)

// ProgressLog is one pipeline progress marker surfaced to the client.
type ProgressLog struct {
	Step        string    `json:"step"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// StreamMetadata is the single metadata event payload: the final retrieval
// state, emitted before any response content.
type StreamMetadata struct {
	Sources         []string      `json:"sources"`
	RetrievedChunks []Candidate   `json:"retrieved_chunks"`
	ProgressLogs    []ProgressLog `json:"agent_logs"`
	Reasoning       string        `json:"reasoning"`
	SearchQuery     string        `json:"search_query"`
	SessionID       string        `json:"session_id"`
}

// StreamEvent is the tagged union emitted by AnswerStream. Exactly one of
// the optional fields is set, according to Type.
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	Log      *ProgressLog    `json:"log,omitempty"`
	Metadata *StreamMetadata `json:"metadata,omitempty"`
	Content  string          `json:"content,omitempty"`
	Message  string          `json:"message,omitempty"`
}
