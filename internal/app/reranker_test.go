package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRerankerAvailableProbesOnce(t *testing.T) {
	var probes int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			atomic.AddInt32(&probes, 1)
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()
	r := NewReranker(server.URL)

	assert.True(t, r.Available(context.Background()))
	assert.True(t, r.Available(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&probes))
}

func TestRerankerUnreachableStaysDisabled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()
	r := NewReranker(server.URL)

	assert.False(t, r.Available(context.Background()))
	// The failed probe is cached, not retried.
	assert.False(t, r.Available(context.Background()))
}

func TestRerankerUnhealthyStatusDisables(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	r := NewReranker(server.URL)

	assert.False(t, r.Available(context.Background()))
}

func TestRerankerScoreReturnsLogitsInInputOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rerank", r.URL.Path)
		var body struct {
			Query     string   `json:"query"`
			Texts     []string `json:"texts"`
			RawScores bool     `json:"raw_scores"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "the query", body.Query)
		assert.True(t, body.RawScores)

		// Results come back out of order; Score reorders by index.
		w.Write([]byte(`[{"index":1,"score":3.5},{"index":0,"score":-1.25}]`))
	}))
	defer server.Close()
	r := NewReranker(server.URL)

	scores, err := r.Score(context.Background(), "the query", []string{"first", "second"})

	require.NoError(t, err)
	assert.Equal(t, []float64{-1.25, 3.5}, scores)
}

func TestRerankerScoreCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"index":0,"score":1.0}]`))
	}))
	defer server.Close()
	r := NewReranker(server.URL)

	_, err := r.Score(context.Background(), "q", []string{"a", "b"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
}

func TestRerankerScoreEmptyInput(t *testing.T) {
	r := NewReranker("http://unused.test")

	scores, err := r.Score(context.Background(), "q", nil)

	require.NoError(t, err)
	assert.Nil(t, scores)
}

func TestSigmoid(t *testing.T) {
	assert.InDelta(t, 0.5, sigmoid(0), 1e-9)
	assert.Greater(t, sigmoid(4.0), 0.98)
	assert.Less(t, sigmoid(-4.0), 0.02)
	// Order preserving.
	assert.Greater(t, sigmoid(2.0), sigmoid(1.0))
}
