package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/studio"
)

func TestAnalyzeDecodesVerdict(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req analyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "great product", req.Text)
		_ = json.NewEncoder(w).Encode(analyzeResponse{
			Sentiment:  "positive",
			Confidence: 0.93,
			Emotions:   map[string]float64{"joy": 0.8},
		})
	}))
	defer srv.Close()

	got, err := New(Config{Endpoint: srv.URL}).Analyze(context.Background(), "great product")
	require.NoError(t, err)
	require.Equal(t, "positive", got.Sentiment)
	require.InDelta(t, 0.93, got.Confidence, 1e-9)
	require.InDelta(t, 0.8, got.Emotions["joy"], 1e-9)
}

func TestAnalyzeRateLimited(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(Config{Endpoint: srv.URL}).Analyze(context.Background(), "text")
	require.ErrorIs(t, err, studio.ErrRateLimited)
}

func TestAnalyzeServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(Config{Endpoint: srv.URL}).Analyze(context.Background(), "text")
	require.ErrorContains(t, err, "status 502")
}

func TestAnalyzeMissingEndpoint(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}).Analyze(context.Background(), "text")
	require.ErrorContains(t, err, "not configured")
}
