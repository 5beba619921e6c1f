package app

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnirag/internal/config"
)

func testRAGConfig() config.RAGConfig {
	return config.RAGConfig{
		ChunkSize:           1000,
		ChunkOverlap:        200,
		TopK:                5,
		SimilarityThreshold: 0.15,
		CacheTTLSeconds:     3600,
		EmbeddingBatchSize:  100,
		EmbeddingDim:        3,
		HistoryLimit:        5,
	}
}

func newTestIngest(index *fakeIndex, cache *fakeCache, llm *fakeLLM) *IngestService {
	return NewIngestService(llm, index, cache, testLLMConfig(), testRAGConfig())
}

func TestIngestIndexesDocument(t *testing.T) {
	index := &fakeIndex{dim: 3}
	cache := newFakeCache()
	svc := newTestIngest(index, cache, &fakeLLM{})

	result, err := svc.Ingest(context.Background(), IngestInput{
		BotID:    "bot-1",
		Filename: "guide.txt",
		Reader:   strings.NewReader("The first topic.\n\nThe second topic."),
	})

	require.NoError(t, err)
	assert.Equal(t, "guide.txt", result.Filename)
	assert.Equal(t, result.ChunksCreated, result.VectorsInserted)
	assert.Equal(t, 3, result.EmbeddingDim)
	assert.NotEmpty(t, result.Preview)
	require.NotEmpty(t, index.points)

	p := index.points[0]
	assert.Equal(t, "bot-1", p.Payload["bot_id"])
	assert.Equal(t, "guide.txt", p.Payload["source"])
	assert.NotEmpty(t, p.Payload["text"])
	assert.Equal(t, 0, p.Payload["chunk_index"])
	assert.NotEmpty(t, p.Payload["ingested_at"])

	assert.Equal(t, []string{"bot-1"}, cache.invalidated)
}

func TestIngestIsIdempotent(t *testing.T) {
	index := &fakeIndex{dim: 3}
	svc := newTestIngest(index, newFakeCache(), &fakeLLM{})
	input := func() IngestInput {
		return IngestInput{
			BotID:    "bot-1",
			Filename: "guide.txt",
			Reader:   strings.NewReader("Stable content for identity checks."),
		}
	}

	_, err := svc.Ingest(context.Background(), input())
	require.NoError(t, err)
	firstCount := len(index.points)
	firstID := index.points[0].ID

	_, err = svc.Ingest(context.Background(), input())
	require.NoError(t, err)

	// Same bot, file and content produce the same IDs, so the upsert
	// overwrites instead of duplicating.
	assert.Equal(t, firstCount, len(index.points))
	assert.Equal(t, firstID, index.points[0].ID)
}

func TestIngestPointIDsAreUUIDShaped(t *testing.T) {
	index := &fakeIndex{dim: 3}
	svc := newTestIngest(index, newFakeCache(), &fakeLLM{})

	_, err := svc.Ingest(context.Background(), IngestInput{
		BotID:    "bot-1",
		Filename: "guide.txt",
		Reader:   strings.NewReader("content"),
	})

	require.NoError(t, err)
	id := index.points[0].ID
	parts := strings.Split(id, "-")
	require.Len(t, parts, 5)
	assert.Equal(t, []int{8, 4, 4, 4, 12}, []int{len(parts[0]), len(parts[1]), len(parts[2]), len(parts[3]), len(parts[4])})
}

func TestIngestRecreatesOnDimensionDrift(t *testing.T) {
	index := &fakeIndex{dim: 1536}
	svc := newTestIngest(index, newFakeCache(), &fakeLLM{})

	_, err := svc.Ingest(context.Background(), IngestInput{
		BotID:    "bot-1",
		Filename: "guide.txt",
		Reader:   strings.NewReader("content"),
	})

	require.NoError(t, err)
	// The fake embeds 3-dim vectors against a 1536-dim index.
	assert.Equal(t, 1, index.recreates)
	assert.Equal(t, 3, index.dim)
	assert.NotEmpty(t, index.points)
}

func TestIngestNoRecreateWhenDimMatches(t *testing.T) {
	index := &fakeIndex{dim: 3}
	svc := newTestIngest(index, newFakeCache(), &fakeLLM{})

	_, err := svc.Ingest(context.Background(), IngestInput{
		BotID:    "bot-1",
		Filename: "guide.txt",
		Reader:   strings.NewReader("content"),
	})

	require.NoError(t, err)
	assert.Zero(t, index.recreates)
}

func TestIngestBatchesEmbeddings(t *testing.T) {
	index := &fakeIndex{dim: 3}
	llm := &fakeLLM{}
	cfg := testRAGConfig()
	cfg.EmbeddingBatchSize = 2
	cfg.ChunkSize = 30
	cfg.ChunkOverlap = 0
	svc := NewIngestService(llm, index, newFakeCache(), testLLMConfig(), cfg)

	text := strings.Repeat("a sentence about something. ", 10)
	_, err := svc.Ingest(context.Background(), IngestInput{
		BotID:    "bot-1",
		Filename: "guide.txt",
		Reader:   strings.NewReader(text),
	})

	require.NoError(t, err)
	require.Greater(t, len(llm.batchCalls), 1)
	for _, batch := range llm.batchCalls {
		assert.LessOrEqual(t, len(batch), 2)
	}
}

func TestIngestRejectsEmptyDocument(t *testing.T) {
	svc := newTestIngest(&fakeIndex{dim: 3}, newFakeCache(), &fakeLLM{})

	_, err := svc.Ingest(context.Background(), IngestInput{
		BotID:    "bot-1",
		Filename: "empty.txt",
		Reader:   strings.NewReader("   \n\n  "),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestIngestRejectsUnsupportedType(t *testing.T) {
	svc := newTestIngest(&fakeIndex{dim: 3}, newFakeCache(), &fakeLLM{})

	_, err := svc.Ingest(context.Background(), IngestInput{
		BotID:    "bot-1",
		Filename: "deck.pptx",
		Reader:   strings.NewReader("whatever"),
	})

	assert.Error(t, err)
}

func TestRemoveDocumentDeletesAndInvalidates(t *testing.T) {
	index := &fakeIndex{dim: 3}
	cache := newFakeCache()
	svc := newTestIngest(index, cache, &fakeLLM{})

	require.NoError(t, svc.RemoveDocument(context.Background(), "bot-1", "guide.txt"))

	assert.Equal(t, []string{"source:bot-1/guide.txt"}, index.deleted)
	assert.Equal(t, []string{"bot-1"}, cache.invalidated)
}

func TestRemoveBotDeletesAllPoints(t *testing.T) {
	index := &fakeIndex{dim: 3}
	cache := newFakeCache()
	svc := newTestIngest(index, cache, &fakeLLM{})

	require.NoError(t, svc.RemoveBot(context.Background(), "bot-1"))

	assert.Equal(t, []string{"bot:bot-1"}, index.deleted)
	assert.Equal(t, []string{"bot-1"}, cache.invalidated)
}
