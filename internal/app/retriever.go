package app

import (
	"context"
	"fmt"
	"log"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"omnirag/internal/ai"
	"omnirag/internal/config"
)

const rewriteSystemPrompt = `You are a search query optimizer for a retrieval system.
Rewrite the user's question as a short, keyword-dense search query.
Preserve the meaning; only restructure it for search.
DO NOT ANSWER THE QUESTION. ONLY REWRITE THE QUERY.`

const hydeSystemPrompt = "You are a helpful assistant that generates detailed, factual answers."

// Retriever rewrites queries, embeds them, and produces a ranked candidate
// set from the vector index.
type Retriever struct {
	llm    LLMClient
	index  VectorIndex
	scorer CandidateScorer // nil disables reranking
	llmCfg config.LLMConfig
}

func NewRetriever(llm LLMClient, index VectorIndex, scorer CandidateScorer, llmCfg config.LLMConfig) *Retriever {
	return &Retriever{
		llm:    llm,
		index:  index,
		scorer: scorer,
		llmCfg: llmCfg,
	}
}

// RewriteQuery restates the query as a search-optimized phrase via a
// low-cost model call. Rewriting is an optimization: any failure falls back
// to the original query unchanged.
func (r *Retriever) RewriteQuery(ctx context.Context, query string) string {
	messages := []ai.ChatMessage{
		{Role: "system", Content: rewriteSystemPrompt},
		{Role: "user", Content: query},
	}
	result, err := r.llm.Complete(ctx, r.rewriteChatConfig(), messages)
	if err != nil {
		log.Printf("query rewriting failed, using original query: %v", err)
		return query
	}
	rewritten := strings.TrimSpace(result.Content)
	if rewritten == "" {
		return query
	}
	return rewritten
}

// HypotheticalAnswer drafts a plausible answer passage for HyDE retrieval:
// document embeddings cluster more tightly with other documents than with
// short queries, so embedding a synthetic answer retrieves better. Falls back
// to the query on failure.
func (r *Retriever) HypotheticalAnswer(ctx context.Context, query string) string {
	prompt := fmt.Sprintf(`Write a detailed, comprehensive answer to the following question.
Even if you don't know the exact answer, write what a good answer would look like based on the question.

Question: %s

Answer:`, query)

	messages := []ai.ChatMessage{
		{Role: "system", Content: hydeSystemPrompt},
		{Role: "user", Content: prompt},
	}
	cfg := r.rewriteChatConfig()
	cfg.Temperature = 0.3
	cfg.MaxTokens = 200
	result, err := r.llm.Complete(ctx, cfg, messages)
	if err != nil {
		log.Printf("hypothetical answer generation failed, using original query: %v", err)
		return query
	}
	doc := strings.TrimSpace(result.Content)
	if doc == "" {
		return query
	}
	return doc
}

// EmbedQuery embeds the search text with bounded retries.
func (r *Retriever) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	cfg := ai.EmbeddingConfig{
		BaseURL: r.llmCfg.BaseURL,
		APIKey:  r.llmCfg.APIKey,
		Model:   r.llmCfg.EmbeddingModel,
	}

	attempts := r.llmCfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := backoffSleep(ctx, r.llmCfg.RetryBaseMs, i-1); err != nil {
				return nil, err
			}
		}
		vec, err := r.llm.Embed(ctx, cfg, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		log.Printf("query embedding attempt %d failed: %v", i+1, err)
	}
	return nil, fmt.Errorf("embed query failed after %d attempts: %w", attempts, lastErr)
}

// Retrieve runs a bot-filtered similarity search and ranks the candidates.
// With a usable scorer the order comes from sigmoid-normalized cross-encoder
// scores; otherwise from the 70/30 semantic/keyword mix. The returned flag
// reports whether reranking actually happened.
func (r *Retriever) Retrieve(ctx context.Context, botID, query string, queryVector []float32, topK int) ([]Candidate, bool) {
	useScorer := r.scorer != nil && r.scorer.Available(ctx)

	// Fetch wider when a reranker will refine the order.
	limit := topK * 2
	if useScorer {
		limit = topK * 5
	}

	hits, err := r.index.Search(ctx, queryVector, botID, limit)
	if err != nil {
		log.Printf("vector search failed for bot %s: %v", botID, err)
		return nil, false
	}
	if len(hits) == 0 {
		return nil, false
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, hit := range hits {
		candidates = append(candidates, Candidate{
			Text:         payloadString(hit.Payload, "text"),
			Source:       payloadStringOr(hit.Payload, "source", "unknown"),
			InitialScore: hit.Score,
		})
	}

	reranked := false
	if useScorer {
		reranked = r.rerank(ctx, query, candidates)
	}
	if !reranked {
		scoreHybrid(query, candidates)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].HybridScore > candidates[j].HybridScore
	})

	if topK < len(candidates) {
		candidates = candidates[:topK]
	}
	return candidates, reranked
}

// rerank scores candidates in place; a scoring failure leaves them untouched
// so the caller can fall back to hybrid scoring.
func (r *Retriever) rerank(ctx context.Context, query string, candidates []Candidate) bool {
	texts := make([]string, len(candidates))
	for i := range candidates {
		texts[i] = candidates[i].Text
	}
	logits, err := r.scorer.Score(ctx, query, texts)
	if err != nil {
		log.Printf("reranking failed, falling back to hybrid scoring: %v", err)
		return false
	}
	for i := range candidates {
		candidates[i].RerankRaw = logits[i]
		candidates[i].HybridScore = sigmoid(logits[i])
	}
	return true
}

// scoreHybrid mixes 70% semantic similarity with 30% keyword overlap.
func scoreHybrid(query string, candidates []Candidate) {
	queryTerms := termSet(query)
	for i := range candidates {
		overlap := keywordOverlap(queryTerms, candidates[i].Text)
		candidates[i].HybridScore = 0.7*candidates[i].InitialScore + 0.3*overlap
	}
}

// keywordOverlap is |query_terms ∩ passage_terms| / |query_terms|.
func keywordOverlap(queryTerms map[string]struct{}, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	textTerms := termSet(text)
	matched := 0
	for term := range queryTerms {
		if _, ok := textTerms[term]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

func termSet(s string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, t := range strings.Fields(strings.ToLower(s)) {
		terms[t] = struct{}{}
	}
	return terms
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func (r *Retriever) rewriteChatConfig() ai.ChatConfig {
	model := r.llmCfg.RewriteModel
	if model == "" {
		model = r.llmCfg.ChatModel
	}
	return ai.ChatConfig{
		BaseURL:     r.llmCfg.BaseURL,
		APIKey:      r.llmCfg.APIKey,
		Model:       model,
		Temperature: 0.1,
	}
}

func backoffSleep(ctx context.Context, baseMs, exponent int) error {
	if baseMs <= 0 {
		baseMs = 1000
	}
	delay := time.Duration(baseMs) * time.Millisecond << exponent
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func payloadString(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadStringOr(payload map[string]interface{}, key, fallback string) string {
	if v := payloadString(payload, key); v != "" {
		return v
	}
	return fallback
}

var wordPattern = regexp.MustCompile(`\w+`)

// Filler words that make poor highlight candidates.
var highlightStopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "this": {},
	"that": {}, "what": {}, "when": {}, "where": {}, "which": {}, "how": {},
	"does": {}, "is": {}, "are": {}, "was": {}, "can": {}, "about": {},
}

// extractHighlights picks query terms that actually occur in the passage,
// preserving the passage's original casing, longest first, capped at 10.
func extractHighlights(query, text string) []string {
	if query == "" || text == "" {
		return nil
	}
	lowerText := strings.ToLower(text)

	seen := make(map[string]struct{})
	var highlights []string
	for _, word := range wordPattern.FindAllString(strings.ToLower(query), -1) {
		if len(word) < 2 {
			continue
		}
		if _, stop := highlightStopwords[word]; stop {
			continue
		}
		idx := strings.Index(lowerText, word)
		if idx < 0 {
			continue
		}
		original := text[idx : idx+len(word)]
		if _, dup := seen[original]; dup {
			continue
		}
		seen[original] = struct{}{}
		highlights = append(highlights, original)
	}

	sort.SliceStable(highlights, func(i, j int) bool {
		return len(highlights[i]) > len(highlights[j])
	})
	if len(highlights) > 10 {
		highlights = highlights[:10]
	}
	return highlights
}
