package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"omnirag/internal/ai"
	"omnirag/internal/config"
)

// AnswerInput is one chat request.
type AnswerInput struct {
	BotID     string
	Query     string
	UserID    string
	SessionID string
	Config    BotConfig
}

// ChatService orchestrates the full answer pipeline: cache check, retrieval,
// grounded generation with fallback models, caching and history logging.
type ChatService struct {
	llm       LLMClient
	cache     AnswerCache
	retriever *Retriever
	history   *HistoryService
	llmCfg    config.LLMConfig
	ragCfg    config.RAGConfig
}

func NewChatService(llm LLMClient, cache AnswerCache, retriever *Retriever, history *HistoryService, llmCfg config.LLMConfig, ragCfg config.RAGConfig) *ChatService {
	return &ChatService{
		llm:       llm,
		cache:     cache,
		retriever: retriever,
		history:   history,
		llmCfg:    llmCfg,
		ragCfg:    ragCfg,
	}
}

// preparedContext is everything retrieval produced for one query.
type preparedContext struct {
	SearchQuery  string
	Candidates   []Candidate
	Sources      []string
	ContextBlock string
	Reasoning    string
	Logs         []ProgressLog
}

// modelAttempt is one planned generation call. The primary model is tried
// with retries and backoff; each fallback model gets a single attempt.
type modelAttempt struct {
	Model   string
	DelayMs int
}

// Answer runs the single-shot pipeline. Generation exhaustion is not an
// error to the caller: the bot's fallback message is returned instead.
func (s *ChatService) Answer(ctx context.Context, in AnswerInput) (*AnswerResult, error) {
	query := strings.TrimSpace(in.Query)
	if in.BotID == "" || query == "" {
		return nil, fmt.Errorf("%w: bot id and query are required", ErrInvalidInput)
	}
	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	start := time.Now()
	cfg := in.Config.resolve(s.llmCfg, s.ragCfg)

	if payload, ok := s.cache.Get(ctx, in.BotID, query); ok {
		var cached AnswerResult
		err := json.Unmarshal(payload, &cached)
		if err == nil {
			cached.FromCache = true
			cached.SessionID = sessionID
			cached.MessageID = uuid.NewString()
			cached.ResponseTime = time.Since(start).Seconds()
			s.logTurn(in, sessionID, query, &cached)
			return &cached, nil
		}
		log.Printf("discarding malformed cache entry for bot %s: %v", in.BotID, err)
	}

	prep := s.prepareContext(ctx, in.BotID, query, cfg, nil)

	messages, err := s.buildMessages(in, sessionID, query, cfg, prep)
	if err != nil {
		return nil, err
	}

	result := &AnswerResult{
		Sources:         prep.Sources,
		RetrievedChunks: prep.Candidates,
		ProgressLogs:    prep.Logs,
		Reasoning:       prep.Reasoning,
		SearchQuery:     prep.SearchQuery,
		SessionID:       sessionID,
		MessageID:       uuid.NewString(),
		Confidence:      meanHybridScore(prep.Candidates),
	}

	chatResult, genErr := s.completeWithFallback(ctx, cfg, messages)
	if genErr != nil {
		log.Printf("all generation attempts failed for bot %s: %v", in.BotID, genErr)
		result.Response = cfg.FallbackMessage
		result.ResponseTime = time.Since(start).Seconds()
		s.logTurn(in, sessionID, query, result)
		return result, nil
	}

	result.Response = chatResult.Content
	result.Model = chatResult.Model
	result.Usage = chatResult.Usage
	result.ResponseTime = time.Since(start).Seconds()

	s.cacheResult(ctx, in.BotID, query, result)
	s.logTurn(in, sessionID, query, result)
	return result, nil
}

// prepareContext rewrites the query, embeds it and retrieves ranked
// candidates. Every failure degrades to a smaller context instead of
// aborting: a bot with no matching knowledge still answers from its prompt.
// onLog, when non-nil, observes each progress entry as its stage starts.
func (s *ChatService) prepareContext(ctx context.Context, botID, query string, cfg resolvedBotConfig, onLog func(ProgressLog)) preparedContext {
	prep := preparedContext{SearchQuery: query}
	logStep := func(step, description string) {
		entry := ProgressLog{Step: step, Description: description, Timestamp: time.Now()}
		prep.Logs = append(prep.Logs, entry)
		if onLog != nil {
			onLog(entry)
		}
	}

	logStep("Analyzing Query", "Optimizing the question for knowledge base search")
	prep.SearchQuery = s.retriever.RewriteQuery(ctx, query)

	embedText := prep.SearchQuery
	if cfg.UseHyDE {
		logStep("Drafting Answer", "Generating a hypothetical answer to guide retrieval")
		embedText = s.retriever.HypotheticalAnswer(ctx, prep.SearchQuery)
	}

	logStep("Vectorization", "Encoding the search query as an embedding")
	vector, err := s.retriever.EmbedQuery(ctx, embedText)
	if err != nil {
		log.Printf("query embedding failed for bot %s, answering without retrieval: %v", botID, err)
		return prep
	}

	logStep("Knowledge Retrieval", fmt.Sprintf("Searching indexed documents for the top %d passages", cfg.TopK))
	candidates, reranked := s.retriever.Retrieve(ctx, botID, prep.SearchQuery, vector, cfg.TopK)
	if reranked {
		logStep("Cross-Encoder Reranking", "Rescoring candidates by joint query/passage relevance")
	}
	if len(candidates) == 0 {
		return prep
	}

	candidates = filterByThreshold(candidates, cfg.SimilarityThreshold)
	for i := range candidates {
		candidates[i].Highlights = extractHighlights(prep.SearchQuery, candidates[i].Text)
	}
	prep.Candidates = candidates
	prep.Sources = uniqueSources(candidates)
	prep.ContextBlock = buildContextBlock(candidates)
	prep.Reasoning = fmt.Sprintf("I've analyzed %d relevant segments from %d documents to compose this answer.",
		len(candidates), len(prep.Sources))
	return prep
}

func (s *ChatService) buildMessages(in AnswerInput, sessionID, query string, cfg resolvedBotConfig, prep preparedContext) ([]ai.ChatMessage, error) {
	messages := []ai.ChatMessage{
		{Role: "system", Content: groundedSystemPrompt(cfg.SystemPrompt, prep.ContextBlock)},
	}
	historyLimit := s.ragCfg.HistoryLimit
	if in.SessionID != "" && historyLimit > 0 {
		history, err := s.history.RecentMessages(in.BotID, sessionID, in.UserID, historyLimit)
		if err != nil {
			log.Printf("loading history for session %s failed: %v", sessionID, err)
		} else {
			messages = append(messages, history...)
		}
	}
	messages = append(messages, ai.ChatMessage{Role: "user", Content: query})
	return messages, nil
}

// completeWithFallback walks the attempt plan until a model answers.
func (s *ChatService) completeWithFallback(ctx context.Context, cfg resolvedBotConfig, messages []ai.ChatMessage) (*ai.ChatResult, error) {
	plan := buildAttemptPlan(cfg.Model, s.llmCfg)

	var lastErr error
	for i, attempt := range plan {
		if attempt.DelayMs > 0 {
			if err := backoffSleep(ctx, attempt.DelayMs, 0); err != nil {
				return nil, err
			}
		}
		chatCfg := ai.ChatConfig{
			BaseURL:     s.llmCfg.BaseURL,
			APIKey:      s.llmCfg.APIKey,
			Model:       attempt.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}
		result, err := s.llm.Complete(ctx, chatCfg, messages)
		if err == nil {
			return result, nil
		}
		lastErr = err
		log.Printf("generation attempt %d/%d with %s failed: %v", i+1, len(plan), attempt.Model, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("generation failed after %d attempts: %w", len(plan), lastErr)
}

// buildAttemptPlan lays out the full retry schedule up front: the primary
// model with exponential backoff between retries, then one attempt per
// fallback model.
func buildAttemptPlan(primary string, llmCfg config.LLMConfig) []modelAttempt {
	attempts := llmCfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	baseMs := llmCfg.RetryBaseMs
	if baseMs <= 0 {
		baseMs = 1000
	}

	plan := make([]modelAttempt, 0, attempts+len(llmCfg.FallbackModels))
	for i := 0; i < attempts; i++ {
		delay := 0
		if i > 0 {
			delay = baseMs << (i - 1)
		}
		plan = append(plan, modelAttempt{Model: primary, DelayMs: delay})
	}
	for _, fallback := range llmCfg.FallbackModels {
		if fallback == primary {
			continue
		}
		plan = append(plan, modelAttempt{Model: fallback})
	}
	return plan
}

// cacheResult stores a copy marked as cached, with per-request fields
// stripped so a later hit gets fresh identifiers.
func (s *ChatService) cacheResult(ctx context.Context, botID, query string, result *AnswerResult) {
	entry := *result
	entry.FromCache = true
	entry.SessionID = ""
	entry.MessageID = ""
	payload, err := json.Marshal(&entry)
	if err != nil {
		log.Printf("marshal cache entry failed: %v", err)
		return
	}
	s.cache.Set(ctx, botID, query, payload)
}

func (s *ChatService) logTurn(in AnswerInput, sessionID, query string, result *AnswerResult) {
	err := s.history.LogTurn(context.Background(), TurnRecord{
		BotID:        in.BotID,
		SessionID:    sessionID,
		UserID:       in.UserID,
		UserMessage:  query,
		Response:     result.Response,
		Sources:      result.Sources,
		Chunks:       result.RetrievedChunks,
		Reasoning:    result.Reasoning,
		SearchQuery:  result.SearchQuery,
		Model:        result.Model,
		Usage:        result.Usage,
		ResponseTime: result.ResponseTime,
	})
	if err != nil {
		log.Printf("recording turn for session %s failed: %v", sessionID, err)
	}
}

// filterByThreshold drops weak candidates but never all of them: if nothing
// clears the bar, the original set stands.
func filterByThreshold(candidates []Candidate, threshold float64) []Candidate {
	if threshold <= 0 {
		return candidates
	}
	kept := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.HybridScore >= threshold {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return candidates
	}
	return kept
}

func uniqueSources(candidates []Candidate) []string {
	seen := make(map[string]struct{}, len(candidates))
	sources := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.Source]; ok {
			continue
		}
		seen[c.Source] = struct{}{}
		sources = append(sources, c.Source)
	}
	return sources
}

// buildContextBlock numbers each passage so the model can cite it as [[n]].
func buildContextBlock(candidates []Candidate) string {
	blocks := make([]string, len(candidates))
	for i, c := range candidates {
		blocks[i] = fmt.Sprintf("[[%d]] Source: %s\n%s", i+1, c.Source, c.Text)
	}
	return strings.Join(blocks, "\n---\n")
}

func groundedSystemPrompt(systemPrompt, contextBlock string) string {
	if contextBlock == "" {
		return systemPrompt
	}
	return fmt.Sprintf(`%s

Answer the user's question using ONLY the following knowledge base passages.
Cite passages by their number, like [[1]], whenever you use them.
If the passages do not contain the answer, say so instead of guessing.
Always reply in the same language the user writes in.

%s`, systemPrompt, contextBlock)
}

func meanHybridScore(candidates []Candidate) float64 {
	if len(candidates) == 0 {
		return 0
	}
	var sum float64
	for _, c := range candidates {
		sum += c.HybridScore
	}
	return sum / float64(len(candidates))
}
