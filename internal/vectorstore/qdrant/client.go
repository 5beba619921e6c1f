// Package qdrant is a minimal REST client for the Qdrant vector database,
// scoped to the single shared collection this service uses. It owns the
// collection lifecycle: creation with cosine distance and payload indexes,
// and recreation when the embedding dimensionality changes.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Point is a single vector plus its payload, addressed by a deterministic ID
// so repeated upserts of the same chunk do not duplicate data.
type Point struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

// ScoredPoint is a search hit with its cosine similarity score.
type ScoredPoint struct {
	ID      string                 `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

type Manager struct {
	baseURL    string
	collection string
	httpClient *http.Client

	mu  sync.Mutex
	dim int
}

func NewManager(baseURL, collection string, expectedDim int) *Manager {
	return &Manager{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dim:        expectedDim,
	}
}

// Dim returns the dimensionality the collection currently expects.
func (m *Manager) Dim() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dim
}

// EnsureReady creates the collection and its payload indexes if absent.
// Existing collections are left untouched.
func (m *Manager) EnsureReady(ctx context.Context, expectedDim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exists, err := m.collectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		m.dim = expectedDim
		return nil
	}
	if err := m.createCollection(ctx, expectedDim); err != nil {
		return err
	}
	m.dim = expectedDim
	return nil
}

// Recreate drops and rebuilds the collection for a new embedding dimension.
// Indexed data is lost; the index is a cache rebuilt by re-ingestion.
func (m *Manager) Recreate(ctx context.Context, newDim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.Printf("recreating collection %q for embedding dim %d (was %d)", m.collection, newDim, m.dim)
	if err := m.deleteCollection(ctx); err != nil {
		// A missing collection is fine here.
		log.Printf("delete collection before recreate: %v", err)
	}
	if err := m.createCollection(ctx, newDim); err != nil {
		return err
	}
	m.dim = newDim
	return nil
}

// Upsert writes points by their deterministic IDs, waiting for persistence.
func (m *Manager) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	body := map[string]interface{}{"points": points}
	path := fmt.Sprintf("/collections/%s/points?wait=true", m.collection)
	if err := m.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("upsert %d points failed: %w", len(points), err)
	}
	return nil
}

// Search runs a cosine similarity search restricted to one bot's chunks.
func (m *Manager) Search(ctx context.Context, vector []float32, botID string, limit int) ([]ScoredPoint, error) {
	body := map[string]interface{}{
		"vector": vector,
		"filter": map[string]interface{}{
			"must": []map[string]interface{}{
				{"key": "bot_id", "match": map[string]interface{}{"value": botID}},
			},
		},
		"limit":        limit,
		"with_payload": true,
	}
	var parsed struct {
		Result []ScoredPoint `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", m.collection)
	if err := m.do(ctx, http.MethodPost, path, body, &parsed); err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return parsed.Result, nil
}

// DeleteByBot removes every point belonging to the given bot.
func (m *Manager) DeleteByBot(ctx context.Context, botID string) error {
	conditions := []map[string]interface{}{
		{"key": "bot_id", "match": map[string]interface{}{"value": botID}},
	}
	if err := m.deleteByFilter(ctx, conditions); err != nil {
		return fmt.Errorf("delete points by bot failed: %w", err)
	}
	return nil
}

// DeleteBySource removes the points ingested from one document of a bot.
func (m *Manager) DeleteBySource(ctx context.Context, botID, source string) error {
	conditions := []map[string]interface{}{
		{"key": "bot_id", "match": map[string]interface{}{"value": botID}},
		{"key": "source", "match": map[string]interface{}{"value": source}},
	}
	if err := m.deleteByFilter(ctx, conditions); err != nil {
		return fmt.Errorf("delete points by source failed: %w", err)
	}
	return nil
}

func (m *Manager) deleteByFilter(ctx context.Context, conditions []map[string]interface{}) error {
	body := map[string]interface{}{
		"filter": map[string]interface{}{"must": conditions},
	}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", m.collection)
	return m.do(ctx, http.MethodPost, path, body, nil)
}

func (m *Manager) collectionExists(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/collections/"+m.collection, nil)
	if err != nil {
		return false, fmt.Errorf("build collection request failed: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("get collection failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 300:
		return false, fmt.Errorf("get collection status %d", resp.StatusCode)
	}
	return true, nil
}

func (m *Manager) createCollection(ctx context.Context, dim int) error {
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     dim,
			"distance": "Cosine",
		},
		"quantization_config": map[string]interface{}{
			"scalar": map[string]interface{}{
				"type":       "int8",
				"quantile":   0.99,
				"always_ram": true,
			},
		},
	}
	if err := m.do(ctx, http.MethodPut, "/collections/"+m.collection, body, nil); err != nil {
		return fmt.Errorf("create collection failed: %w", err)
	}

	// bot_id keyword index makes the per-bot filter cheap; the text index
	// backs the keyword half of hybrid search.
	botIndex := map[string]interface{}{
		"field_name":   "bot_id",
		"field_schema": "keyword",
	}
	if err := m.do(ctx, http.MethodPut, "/collections/"+m.collection+"/index", botIndex, nil); err != nil {
		return fmt.Errorf("create bot_id index failed: %w", err)
	}

	textIndex := map[string]interface{}{
		"field_name": "text",
		"field_schema": map[string]interface{}{
			"type":          "text",
			"tokenizer":     "multilingual",
			"lowercase":     true,
			"min_token_len": 2,
			"max_token_len": 20,
		},
	}
	if err := m.do(ctx, http.MethodPut, "/collections/"+m.collection+"/index", textIndex, nil); err != nil {
		return fmt.Errorf("create text index failed: %w", err)
	}
	return nil
}

func (m *Manager) deleteCollection(ctx context.Context) error {
	return m.do(ctx, http.MethodDelete, "/collections/"+m.collection, nil, nil)
}

func (m *Manager) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal qdrant request failed: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build qdrant request failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read qdrant response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant status %d: %s", resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("parse qdrant json failed: %w", err)
		}
	}
	return nil
}

// FormatPointID converts a 32-char hex digest into the hyphenated UUID form
// Qdrant requires for string point IDs. Other inputs pass through unchanged.
func FormatPointID(hexDigest string) string {
	if len(hexDigest) != 32 {
		return hexDigest
	}
	return hexDigest[0:8] + "-" + hexDigest[8:12] + "-" + hexDigest[12:16] + "-" + hexDigest[16:20] + "-" + hexDigest[20:32]
}
