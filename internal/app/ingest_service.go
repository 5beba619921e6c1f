package app

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"omnirag/internal/ai"
	"omnirag/internal/config"
	"omnirag/internal/pkg/docload"
	"omnirag/internal/pkg/textsplit"
	"omnirag/internal/vectorstore/qdrant"
)

const previewLength = 500

// IngestInput describes one document to index.
type IngestInput struct {
	BotID            string
	Filename         string
	Reader           io.Reader
	ChunkingStrategy string
	ChunkSize        int
	ChunkOverlap     int
}

// IngestResult summarizes a completed ingestion.
type IngestResult struct {
	Filename        string  `json:"filename"`
	ChunksCreated   int     `json:"chunks_created"`
	VectorsInserted int     `json:"vectors_inserted"`
	EmbeddingDim    int     `json:"embedding_dim"`
	ProcessingTime  float64 `json:"processing_time"`
	Preview         string  `json:"preview"`
}

// IngestService turns uploaded documents into indexed vector points.
type IngestService struct {
	llm    LLMClient
	index  VectorIndex
	cache  AnswerCache
	llmCfg config.LLMConfig
	ragCfg config.RAGConfig
}

func NewIngestService(llm LLMClient, index VectorIndex, cache AnswerCache, llmCfg config.LLMConfig, ragCfg config.RAGConfig) *IngestService {
	return &IngestService{
		llm:    llm,
		index:  index,
		cache:  cache,
		llmCfg: llmCfg,
		ragCfg: ragCfg,
	}
}

// Ingest extracts text, chunks it, embeds the chunks in batches and upserts
// the resulting points. Point IDs are deterministic, so re-ingesting the same
// file overwrites its previous points instead of duplicating them.
func (s *IngestService) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	if in.BotID == "" || in.Filename == "" {
		return nil, fmt.Errorf("%w: bot id and filename are required", ErrInvalidInput)
	}
	start := time.Now()

	text, err := docload.Load(in.Reader, in.Filename)
	if err != nil {
		return nil, fmt.Errorf("load document %s failed: %w", in.Filename, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: document %s contains no extractable text", ErrInvalidInput, in.Filename)
	}

	size := in.ChunkSize
	if size <= 0 {
		size = s.ragCfg.ChunkSize
	}
	overlap := in.ChunkOverlap
	if overlap < 0 || overlap >= size {
		overlap = s.ragCfg.ChunkOverlap
	}
	chunks := textsplit.Split(text, in.ChunkingStrategy, size, overlap)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: document %s produced no chunks", ErrInvalidInput, in.Filename)
	}

	vectors, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}

	dim := len(vectors[0])
	if err := s.reconcileDim(ctx, dim); err != nil {
		return nil, err
	}

	points := make([]qdrant.Point, len(chunks))
	now := time.Now().UTC().Format(time.RFC3339)
	for i, chunk := range chunks {
		points[i] = qdrant.Point{
			ID:     pointID(in.BotID, in.Filename, i, chunk),
			Vector: vectors[i],
			Payload: map[string]interface{}{
				"bot_id":      in.BotID,
				"source":      in.Filename,
				"text":        chunk,
				"chunk_index": i,
				"ingested_at": now,
			},
		}
	}
	if err := s.index.Upsert(ctx, points); err != nil {
		return nil, fmt.Errorf("upsert %d points for bot %s failed: %w", len(points), in.BotID, err)
	}

	// The knowledge base changed, cached answers may be stale.
	s.cache.InvalidateBot(ctx, in.BotID)

	return &IngestResult{
		Filename:        in.Filename,
		ChunksCreated:   len(chunks),
		VectorsInserted: len(points),
		EmbeddingDim:    dim,
		ProcessingTime:  time.Since(start).Seconds(),
		Preview:         preview(text),
	}, nil
}

// RemoveDocument deletes a document's points and invalidates cached answers.
func (s *IngestService) RemoveDocument(ctx context.Context, botID, filename string) error {
	if err := s.index.DeleteBySource(ctx, botID, filename); err != nil {
		return fmt.Errorf("delete points for %s failed: %w", filename, err)
	}
	s.cache.InvalidateBot(ctx, botID)
	return nil
}

// RemoveBot drops every point belonging to the bot.
func (s *IngestService) RemoveBot(ctx context.Context, botID string) error {
	if err := s.index.DeleteByBot(ctx, botID); err != nil {
		return fmt.Errorf("delete points for bot %s failed: %w", botID, err)
	}
	s.cache.InvalidateBot(ctx, botID)
	return nil
}

func (s *IngestService) embedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	cfg := ai.EmbeddingConfig{
		BaseURL: s.llmCfg.BaseURL,
		APIKey:  s.llmCfg.APIKey,
		Model:   s.llmCfg.EmbeddingModel,
	}
	batchSize := s.ragCfg.EmbeddingBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	vectors := make([][]float32, 0, len(chunks))
	for offset := 0; offset < len(chunks); offset += batchSize {
		end := offset + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch, err := s.llm.EmbedBatch(ctx, cfg, chunks[offset:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d failed: %w", offset, end, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// reconcileDim recreates the collection when the embedding model's dimension
// no longer matches the index. Existing vectors are lost; documents must be
// re-ingested after a model change.
func (s *IngestService) reconcileDim(ctx context.Context, dim int) error {
	current := s.index.Dim()
	if current == 0 {
		return s.index.EnsureReady(ctx, dim)
	}
	if current == dim {
		return nil
	}
	log.Printf("embedding dimension changed from %d to %d, recreating collection", current, dim)
	if err := s.index.Recreate(ctx, dim); err != nil {
		return fmt.Errorf("recreate collection for dim %d failed: %w", dim, err)
	}
	return nil
}

// pointID derives a stable UUID-shaped ID from the chunk's identity, keyed on
// bot, file, position and a prefix of the content.
func pointID(botID, filename string, idx int, chunk string) string {
	prefix := chunk
	if runes := []rune(chunk); len(runes) > 100 {
		prefix = string(runes[:100])
	}
	digest := md5.Sum([]byte(fmt.Sprintf("%s_%s_%d_%s", botID, filename, idx, prefix)))
	return qdrant.FormatPointID(fmt.Sprintf("%x", digest))
}

func preview(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= previewLength {
		return string(runes)
	}
	return string(runes[:previewLength]) + "..."
}
