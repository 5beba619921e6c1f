package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyDerivation(t *testing.T) {
	// md5("what is go") = 184d349b7723041e015481aa9244e374
	assert.Equal(t, "rag:chat:bot-1:184d349b7723041e015481aa9244e374", Key("bot-1", "what is go"))
}

func TestKeyDiffersPerBotAndQuery(t *testing.T) {
	assert.NotEqual(t, Key("bot-1", "q"), Key("bot-2", "q"))
	assert.NotEqual(t, Key("bot-1", "q1"), Key("bot-1", "q2"))
	assert.Equal(t, Key("bot-1", "q"), Key("bot-1", "q"))
}

func TestNilClientDegradesToMiss(t *testing.T) {
	c := NewResponseCache(nil, time.Hour)
	ctx := context.Background()

	payload, hit := c.Get(ctx, "bot-1", "query")
	assert.Nil(t, payload)
	assert.False(t, hit)

	// Writes and invalidation must be silent no-ops.
	c.Set(ctx, "bot-1", "query", []byte(`{"response":"x"}`))
	c.InvalidateBot(ctx, "bot-1")
}
