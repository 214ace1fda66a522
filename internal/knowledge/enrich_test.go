package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrichClientAssess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Contains(t, req.Messages[1].Content, "Bitcoin rallies")

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant",
			"content":"{\"sentiment\":\"positive\",\"importance\":0.8}"}}]}`))
	}))
	defer srv.Close()

	client, err := NewEnrichClient(EnrichConfig{
		Endpoint: srv.URL,
		APIKey:   "secret",
		Model:    "test-model",
	})
	require.NoError(t, err)

	assessment, err := client.Assess(context.Background(), "Bitcoin rallies", "spot volume doubled")
	require.NoError(t, err)
	assert.Equal(t, "positive", assessment.Sentiment)
	assert.InDelta(t, 0.8, assessment.Importance, 1e-9)
	assert.InDelta(t, 0.8, assessment.Score(), 1e-9)
}

func TestEnrichClientUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewEnrichClient(EnrichConfig{Endpoint: srv.URL, Model: "test-model"})
	require.NoError(t, err)

	_, err = client.Assess(context.Background(), "headline", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 503")
}

func TestEnrichConfigValidation(t *testing.T) {
	_, err := NewEnrichClient(EnrichConfig{Model: "m"})
	require.Error(t, err)

	_, err = NewEnrichClient(EnrichConfig{Endpoint: "http://localhost"})
	require.Error(t, err)
}

func TestParseAssessment(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		a, err := parseAssessment(`{"sentiment":"negative","importance":0.3}`)
		require.NoError(t, err)
		assert.Equal(t, "negative", a.Sentiment)
		assert.InDelta(t, -0.3, a.Score(), 1e-9)
	})

	t.Run("fenced", func(t *testing.T) {
		reply := "Here is my assessment:\n```json\n{\"sentiment\":\"neutral\",\"importance\":0.9}\n```"
		a, err := parseAssessment(reply)
		require.NoError(t, err)
		assert.Equal(t, "neutral", a.Sentiment)
		assert.Equal(t, 0.0, a.Score())
	})

	t.Run("importance clamped", func(t *testing.T) {
		a, err := parseAssessment(`{"sentiment":"positive","importance":3.5}`)
		require.NoError(t, err)
		assert.Equal(t, 1.0, a.Importance)
	})

	t.Run("invalid sentiment", func(t *testing.T) {
		_, err := parseAssessment(`{"sentiment":"bullish","importance":0.5}`)
		require.Error(t, err)
	})

	t.Run("no JSON", func(t *testing.T) {
		_, err := parseAssessment("I cannot assess this.")
		require.Error(t, err)
	})
}
