package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"omnirag/internal/ai"
)

// AnswerStream runs the pipeline with progressive delivery. Event order is
// fixed: every log event, then exactly one metadata event, then content
// deltas, then exactly one done or error event. The channel closes after the
// terminal event. Cancelling ctx stops the stream; the partial turn is not
// persisted.
func (s *ChatService) AnswerStream(ctx context.Context, in AnswerInput) <-chan StreamEvent {
	events := make(chan StreamEvent, 8)

	go func() {
		defer close(events)

		emit := func(ev StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(msg string) {
			emit(StreamEvent{Type: EventError, Message: msg})
		}

		query := strings.TrimSpace(in.Query)
		if in.BotID == "" || query == "" {
			fail("bot id and query are required")
			return
		}
		sessionID := in.SessionID
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		start := time.Now()
		cfg := in.Config.resolve(s.llmCfg, s.ragCfg)

		// Each progress log is delivered as its stage begins, not batched
		// after retrieval finishes.
		prep := s.prepareContext(ctx, in.BotID, query, cfg, func(entry ProgressLog) {
			emit(StreamEvent{Type: EventLog, Log: &entry})
		})
		if ctx.Err() != nil {
			return
		}
		synth := ProgressLog{
			Step:        "Synthesizing Answer",
			Description: "Composing a grounded response from the retrieved passages",
			Timestamp:   time.Now(),
		}
		prep.Logs = append(prep.Logs, synth)
		if !emit(StreamEvent{Type: EventLog, Log: &synth}) {
			return
		}

		if !emit(StreamEvent{Type: EventMetadata, Metadata: &StreamMetadata{
			Sources:         prep.Sources,
			RetrievedChunks: prep.Candidates,
			ProgressLogs:    prep.Logs,
			Reasoning:       prep.Reasoning,
			SearchQuery:     prep.SearchQuery,
			SessionID:       sessionID,
		}}) {
			return
		}

		messages, err := s.buildMessages(in, sessionID, query, cfg, prep)
		if err != nil {
			fail(err.Error())
			return
		}

		chatCfg := ai.ChatConfig{
			BaseURL:     s.llmCfg.BaseURL,
			APIKey:      s.llmCfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}
		result, err := s.llm.StreamComplete(ctx, chatCfg, messages, func(delta string) error {
			if !emit(StreamEvent{Type: EventContent, Content: delta}) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("streaming generation failed for bot %s: %v", in.BotID, err)
			fail(fmt.Sprintf("generation failed: %v", err))
			return
		}

		full := &AnswerResult{
			Response:        result.Content,
			Sources:         prep.Sources,
			RetrievedChunks: prep.Candidates,
			Reasoning:       prep.Reasoning,
			SearchQuery:     prep.SearchQuery,
			Model:           result.Model,
			Usage:           result.Usage,
			ResponseTime:    time.Since(start).Seconds(),
		}
		s.logTurn(in, sessionID, query, full)

		emit(StreamEvent{Type: EventDone})
	}()

	return events
}
