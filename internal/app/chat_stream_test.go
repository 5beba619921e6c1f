package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnirag/internal/ai"
	"omnirag/internal/vectorstore/qdrant"
)

func collectEvents(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func TestAnswerStreamEventOrdering(t *testing.T) {
	llm := &fakeLLM{completeFn: completionOnly("unused")}
	index := &fakeIndex{dim: 3, hits: []qdrant.ScoredPoint{
		hit("passage text", "guide.txt", 0.8),
	}}
	f := newChatFixture(llm, index, testLLMConfig())

	events := collectEvents(t, f.svc.AnswerStream(context.Background(), AnswerInput{
		BotID: "bot-1",
		Query: "question about the passage",
	}))

	require.NotEmpty(t, events)

	var logs, metadata, content, done int
	metadataAt, firstContentAt, lastLogAt := -1, -1, -1
	for i, ev := range events {
		switch ev.Type {
		case EventLog:
			logs++
			lastLogAt = i
			require.NotNil(t, ev.Log)
			assert.NotEmpty(t, ev.Log.Step)
		case EventMetadata:
			metadata++
			metadataAt = i
			require.NotNil(t, ev.Metadata)
		case EventContent:
			content++
			if firstContentAt == -1 {
				firstContentAt = i
			}
		case EventDone:
			done++
		case EventError:
			t.Fatalf("unexpected error event: %s", ev.Message)
		}
	}

	assert.GreaterOrEqual(t, logs, 1)
	assert.Equal(t, 1, metadata)
	assert.GreaterOrEqual(t, content, 1)
	assert.Equal(t, 1, done)

	// Every log precedes the metadata event, all content follows it, and
	// done is terminal.
	assert.Less(t, lastLogAt, metadataAt)
	assert.Greater(t, firstContentAt, metadataAt)
	assert.Equal(t, EventDone, events[len(events)-1].Type)
}

func nextEvent(t *testing.T, events <-chan StreamEvent) StreamEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "stream closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event before the stage finished")
		return StreamEvent{}
	}
}

func TestAnswerStreamDeliversLogsBeforeStagesFinish(t *testing.T) {
	release := make(chan struct{})
	llm := &fakeLLM{
		completeFn: completionOnly("unused"),
		embedFn: func(text string) ([]float32, error) {
			<-release
			return []float32{0.1, 0.2, 0.3}, nil
		},
	}
	index := &fakeIndex{dim: 3, hits: []qdrant.ScoredPoint{
		hit("passage text", "guide.txt", 0.8),
	}}
	f := newChatFixture(llm, index, testLLMConfig())

	events := f.svc.AnswerStream(context.Background(), AnswerInput{
		BotID: "bot-1",
		Query: "question about the passage",
	})

	// The markers for stages up to embedding arrive while the embedding
	// call is still blocked.
	first := nextEvent(t, events)
	require.Equal(t, EventLog, first.Type)
	assert.Equal(t, "Analyzing Query", first.Log.Step)
	second := nextEvent(t, events)
	require.Equal(t, EventLog, second.Type)
	assert.Equal(t, "Vectorization", second.Log.Step)

	close(release)
	rest := collectEvents(t, events)
	assert.Equal(t, EventDone, rest[len(rest)-1].Type)
}

func TestAnswerStreamMetadataCarriesRetrievalState(t *testing.T) {
	llm := &fakeLLM{completeFn: completionOnly("unused")}
	index := &fakeIndex{dim: 3, hits: []qdrant.ScoredPoint{
		hit("passage text", "guide.txt", 0.8),
	}}
	f := newChatFixture(llm, index, testLLMConfig())

	events := collectEvents(t, f.svc.AnswerStream(context.Background(), AnswerInput{
		BotID:     "bot-1",
		Query:     "question about the passage",
		SessionID: "session-7",
	}))

	var meta *StreamMetadata
	for _, ev := range events {
		if ev.Type == EventMetadata {
			meta = ev.Metadata
		}
	}
	require.NotNil(t, meta)
	assert.Equal(t, []string{"guide.txt"}, meta.Sources)
	assert.Len(t, meta.RetrievedChunks, 1)
	assert.Equal(t, "session-7", meta.SessionID)
	assert.NotEmpty(t, meta.SearchQuery)
}

func TestAnswerStreamContentConcatenatesToFullAnswer(t *testing.T) {
	llm := &fakeLLM{
		completeFn: completionOnly("unused"),
		streamFn: func(cfg ai.ChatConfig, messages []ai.ChatMessage, onChunk func(string) error) (*ai.ChatResult, error) {
			for _, delta := range []string{"The ", "answer ", "is 42."} {
				if err := onChunk(delta); err != nil {
					return nil, err
				}
			}
			return &ai.ChatResult{Content: "The answer is 42.", Model: cfg.Model}, nil
		},
	}
	f := newChatFixture(llm, &fakeIndex{dim: 3}, testLLMConfig())

	events := collectEvents(t, f.svc.AnswerStream(context.Background(), AnswerInput{
		BotID: "bot-1",
		Query: "question",
	}))

	var sb strings.Builder
	for _, ev := range events {
		if ev.Type == EventContent {
			sb.WriteString(ev.Content)
		}
	}
	assert.Equal(t, "The answer is 42.", sb.String())
}

func TestAnswerStreamPersistsTurnOnCompletion(t *testing.T) {
	llm := &fakeLLM{completeFn: completionOnly("unused")}
	f := newChatFixture(llm, &fakeIndex{dim: 3}, testLLMConfig())

	collectEvents(t, f.svc.AnswerStream(context.Background(), AnswerInput{
		BotID: "bot-1",
		Query: "question",
	}))

	f.turns.mu.Lock()
	defer f.turns.mu.Unlock()
	require.Len(t, f.turns.turns, 1)
	assert.Equal(t, "question", f.turns.turns[0].UserMessage)
	assert.Equal(t, "hello world", f.turns.turns[0].Response)
}

func TestAnswerStreamGenerationFailureEmitsError(t *testing.T) {
	llm := &fakeLLM{
		completeFn: completionOnly("unused"),
		streamFn: func(cfg ai.ChatConfig, messages []ai.ChatMessage, onChunk func(string) error) (*ai.ChatResult, error) {
			return nil, errors.New("provider down")
		},
	}
	f := newChatFixture(llm, &fakeIndex{dim: 3}, testLLMConfig())

	events := collectEvents(t, f.svc.AnswerStream(context.Background(), AnswerInput{
		BotID: "bot-1",
		Query: "question",
	}))

	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Contains(t, last.Message, "generation failed")

	// No done event and no persisted turn on failure.
	for _, ev := range events {
		assert.NotEqual(t, EventDone, ev.Type)
	}
	f.turns.mu.Lock()
	defer f.turns.mu.Unlock()
	assert.Empty(t, f.turns.turns)
}

func TestAnswerStreamInvalidInputEmitsError(t *testing.T) {
	f := newChatFixture(&fakeLLM{}, &fakeIndex{dim: 3}, testLLMConfig())

	events := collectEvents(t, f.svc.AnswerStream(context.Background(), AnswerInput{
		BotID: "bot-1",
		Query: "   ",
	}))

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
}

func TestAnswerStreamCancellationStopsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	llm := &fakeLLM{
		completeFn: completionOnly("unused"),
		streamFn: func(cfg ai.ChatConfig, messages []ai.ChatMessage, onChunk func(string) error) (*ai.ChatResult, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	f := newChatFixture(llm, &fakeIndex{dim: 3}, testLLMConfig())

	events := collectEvents(t, f.svc.AnswerStream(ctx, AnswerInput{
		BotID: "bot-1",
		Query: "question",
	}))

	// The channel closes without a terminal done event once ctx is gone.
	for _, ev := range events {
		assert.NotEqual(t, EventDone, ev.Type)
	}
	f.turns.mu.Lock()
	defer f.turns.mu.Unlock()
	assert.Empty(t, f.turns.turns)
}
