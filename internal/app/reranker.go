package app

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

// Reranker talks to an external cross-encoder scoring server (TEI-style
// /rerank endpoint returning raw logits). The connection probe runs lazily on
// first use under a mutex, and its outcome is cached: a server that was down
// at first use stays disabled instead of re-probing on every request.
type Reranker struct {
	baseURL    string
	httpClient *http.Client

	mu        sync.Mutex
	attempted bool
	usable    bool
}

func NewReranker(baseURL string) *Reranker {
	return &Reranker{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Available reports whether the scoring server answered the one-time probe.
func (r *Reranker) Available(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.attempted {
		return r.usable
	}
	r.attempted = true

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		log.Printf("reranker probe failed, reranking disabled: %v", err)
		return false
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		log.Printf("reranker unreachable at %s, reranking disabled: %v", r.baseURL, err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		log.Printf("reranker health status %d, reranking disabled", resp.StatusCode)
		return false
	}
	r.usable = true
	return true
}

// Score returns one raw relevance logit per text, in input order. Callers
// normalize logits to [0,1] with a sigmoid.
func (r *Reranker) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := map[string]interface{}{
		"query":      query,
		"texts":      texts,
		"raw_scores": true,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build rerank request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rerank response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rerank status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse rerank json failed: %w", err)
	}
	if len(parsed) != len(texts) {
		return nil, fmt.Errorf("rerank score count mismatch: sent %d, got %d", len(texts), len(parsed))
	}

	scores := make([]float64, len(texts))
	for i, item := range parsed {
		idx := item.Index
		if idx < 0 || idx >= len(scores) {
			idx = i
		}
		scores[idx] = item.Score
	}
	return scores, nil
}
