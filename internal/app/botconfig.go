package app

import "omnirag/internal/config"

const (
	defaultSystemPrompt    = "You are a helpful assistant."
	defaultTemperature     = 0.7
	defaultMaxTokens       = 1000
	defaultFallbackMessage = "I'm sorry, I'm having trouble answering right now. Please try again in a moment."
)

// BotConfig carries per-bot generation behavior. Unset fields take documented
// defaults; pointer fields distinguish "unset" from a deliberate zero.
type BotConfig struct {
	SystemPrompt        string   `json:"system_prompt"`
	Model               string   `json:"model"`
	Temperature         *float64 `json:"temperature"`
	MaxTokens           int      `json:"max_tokens"`
	TopK                int      `json:"top_k"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
	FallbackMessage     string   `json:"fallback_message"`
	UseHyDE             bool     `json:"use_hyde"`
}

// resolvedBotConfig is BotConfig with every default applied.
type resolvedBotConfig struct {
	SystemPrompt        string
	Model               string
	Temperature         float64
	MaxTokens           int
	TopK                int
	SimilarityThreshold float64
	FallbackMessage     string
	UseHyDE             bool
}

func (c BotConfig) resolve(llm config.LLMConfig, rag config.RAGConfig) resolvedBotConfig {
	out := resolvedBotConfig{
		SystemPrompt:        c.SystemPrompt,
		Model:               c.Model,
		Temperature:         defaultTemperature,
		MaxTokens:           c.MaxTokens,
		TopK:                c.TopK,
		SimilarityThreshold: rag.SimilarityThreshold,
		FallbackMessage:     c.FallbackMessage,
		UseHyDE:             c.UseHyDE,
	}
	if out.SystemPrompt == "" {
		out.SystemPrompt = defaultSystemPrompt
	}
	if out.Model == "" {
		out.Model = llm.ChatModel
	}
	if c.Temperature != nil {
		out.Temperature = *c.Temperature
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaultMaxTokens
	}
	if out.TopK <= 0 {
		out.TopK = rag.TopK
	}
	if c.SimilarityThreshold != nil {
		out.SimilarityThreshold = *c.SimilarityThreshold
	}
	if out.FallbackMessage == "" {
		out.FallbackMessage = defaultFallbackMessage
	}
	return out
}
