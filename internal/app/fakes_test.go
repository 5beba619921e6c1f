package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"omnirag/internal/ai"
	"omnirag/internal/model"
	"omnirag/internal/vectorstore/qdrant"
)

// fakeLLM scripts completion and embedding behavior per test.
type fakeLLM struct {
	mu sync.Mutex

	completeFn func(cfg ai.ChatConfig, messages []ai.ChatMessage) (*ai.ChatResult, error)
	streamFn   func(cfg ai.ChatConfig, messages []ai.ChatMessage, onChunk func(string) error) (*ai.ChatResult, error)
	embedFn    func(text string) ([]float32, error)

	completeCalls []ai.ChatConfig
	embedCalls    int
	batchCalls    [][]string
}

func (f *fakeLLM) Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage) (*ai.ChatResult, error) {
	f.mu.Lock()
	f.completeCalls = append(f.completeCalls, cfg)
	f.mu.Unlock()
	if f.completeFn != nil {
		return f.completeFn(cfg, messages)
	}
	return &ai.ChatResult{Content: "ok", Model: cfg.Model}, nil
}

func (f *fakeLLM) StreamComplete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage, onChunk func(string) error) (*ai.ChatResult, error) {
	if f.streamFn != nil {
		return f.streamFn(cfg, messages, onChunk)
	}
	for _, delta := range []string{"hello ", "world"} {
		if err := onChunk(delta); err != nil {
			return nil, err
		}
	}
	return &ai.ChatResult{Content: "hello world", Model: cfg.Model}, nil
}

func (f *fakeLLM) Embed(ctx context.Context, cfg ai.EmbeddingConfig, text string) ([]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	f.mu.Unlock()
	if f.embedFn != nil {
		return f.embedFn(text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeLLM) EmbedBatch(ctx context.Context, cfg ai.EmbeddingConfig, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batchCalls = append(f.batchCalls, texts)
	f.mu.Unlock()
	out := make([][]float32, len(texts))
	for i := range texts {
		if f.embedFn != nil {
			vec, err := f.embedFn(texts[i])
			if err != nil {
				return nil, err
			}
			out[i] = vec
			continue
		}
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

// fakeIndex is an in-memory VectorIndex.
type fakeIndex struct {
	dim       int
	recreates int
	points    []qdrant.Point
	hits      []qdrant.ScoredPoint
	searchErr error
	lastLimit int
	deleted   []string
}

func (f *fakeIndex) EnsureReady(ctx context.Context, expectedDim int) error {
	f.dim = expectedDim
	return nil
}

func (f *fakeIndex) Recreate(ctx context.Context, newDim int) error {
	f.recreates++
	f.dim = newDim
	f.points = nil
	return nil
}

func (f *fakeIndex) Dim() int { return f.dim }

func (f *fakeIndex) Upsert(ctx context.Context, points []qdrant.Point) error {
	for _, p := range points {
		replaced := false
		for i := range f.points {
			if f.points[i].ID == p.ID {
				f.points[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			f.points = append(f.points, p)
		}
	}
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, vector []float32, botID string, limit int) ([]qdrant.ScoredPoint, error) {
	f.lastLimit = limit
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if limit > len(f.hits) {
		limit = len(f.hits)
	}
	return f.hits[:limit], nil
}

func (f *fakeIndex) DeleteByBot(ctx context.Context, botID string) error {
	f.deleted = append(f.deleted, "bot:"+botID)
	return nil
}

func (f *fakeIndex) DeleteBySource(ctx context.Context, botID, source string) error {
	f.deleted = append(f.deleted, fmt.Sprintf("source:%s/%s", botID, source))
	return nil
}

// fakeCache is an in-memory AnswerCache.
type fakeCache struct {
	mu          sync.Mutex
	entries     map[string][]byte
	invalidated []string
	getCount    int
	setCount    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][]byte{}}
}

func (f *fakeCache) Get(ctx context.Context, botID, query string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCount++
	payload, ok := f.entries[botID+"|"+query]
	return payload, ok
}

func (f *fakeCache) Set(ctx context.Context, botID, query string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCount++
	f.entries[botID+"|"+query] = payload
}

func (f *fakeCache) InvalidateBot(ctx context.Context, botID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, botID)
	for key := range f.entries {
		if len(key) > len(botID) && key[:len(botID)] == botID {
			delete(f.entries, key)
		}
	}
}

// fakeScorer scripts cross-encoder behavior.
type fakeScorer struct {
	available bool
	scores    []float64
	err       error
	calls     int
}

func (f *fakeScorer) Available(ctx context.Context) bool { return f.available }

func (f *fakeScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.scores) >= len(texts) {
		return f.scores[:len(texts)], nil
	}
	return f.scores, nil
}

// fakeSessions is an in-memory sessionStore.
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]*model.ChatSession
	touches  int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]*model.ChatSession{}}
}

func (f *fakeSessions) Create(session *model.ChatSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	copied := *session
	f.sessions[session.SessionID] = &copied
	return nil
}

func (f *fakeSessions) GetBySessionID(sessionID string) (*model.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSessions) Touch(sessionID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
	if s, ok := f.sessions[sessionID]; ok {
		s.UpdatedAt = at
	}
	return nil
}

func (f *fakeSessions) UpdateTitle(sessionID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.Title = title
	}
	return nil
}

func (f *fakeSessions) ListByBot(botID, userID string, limit int) ([]model.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ChatSession
	for _, s := range f.sessions {
		if s.BotID == botID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSessions) Delete(botID, sessionID, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[sessionID]; !ok {
		return 0, nil
	}
	delete(f.sessions, sessionID)
	return 1, nil
}

func (f *fakeSessions) DeleteByBot(botID, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for id, s := range f.sessions {
		if s.BotID == botID {
			delete(f.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// fakeTurns is an in-memory turnStore.
type fakeTurns struct {
	mu    sync.Mutex
	turns []model.Conversation
}

func (f *fakeTurns) Create(turn *model.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	turn.ID = uint(len(f.turns) + 1)
	f.turns = append(f.turns, *turn)
	return nil
}

func (f *fakeTurns) ListRecent(botID, sessionID, userID string, limit int) ([]model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Conversation
	for _, t := range f.turns {
		if t.BotID != botID {
			continue
		}
		if sessionID != "" && t.SessionID != sessionID {
			continue
		}
		out = append(out, t)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeTurns) DeleteBySession(botID, sessionID, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []model.Conversation
	var deleted int64
	for _, t := range f.turns {
		if t.BotID == botID && t.SessionID == sessionID {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	f.turns = kept
	return deleted, nil
}

func (f *fakeTurns) DeleteByBot(botID, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []model.Conversation
	var deleted int64
	for _, t := range f.turns {
		if t.BotID == botID {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	f.turns = kept
	return deleted, nil
}
