// Package httpapi adapts the external sentiment analysis engine's HTTP API
// to the studio.Analyzer interface.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/studio"
)

// Config locates the analysis engine.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Analyzer posts text to the engine and decodes its verdict.
type Analyzer struct {
	endpoint string
	client   *http.Client
}

// New constructs an Analyzer.
func New(cfg Config) *Analyzer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Analyzer{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

type analyzeRequest struct {
	Text string `json:"text"`
}

type analyzeResponse struct {
	Sentiment  string             `json:"sentiment"`
	Confidence float64            `json:"confidence"`
	Emotions   map[string]float64 `json:"emotions"`
}

// Analyze sends the text to the engine and returns its sentiment verdict.
func (a *Analyzer) Analyze(ctx context.Context, text string) (studio.Analysis, error) {
	if a.endpoint == "" {
		return studio.Analysis{}, fmt.Errorf("analyzer endpoint is not configured")
	}
	body, err := json.Marshal(analyzeRequest{Text: text})
	if err != nil {
		return studio.Analysis{}, fmt.Errorf("marshal analyze request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return studio.Analysis{}, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return studio.Analysis{}, fmt.Errorf("call analyzer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return studio.Analysis{}, fmt.Errorf("%w: analyzer", studio.ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return studio.Analysis{}, fmt.Errorf("analyzer returned status %d", resp.StatusCode)
	}

	var decoded analyzeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		return studio.Analysis{}, fmt.Errorf("decode analyzer response: %w", err)
	}
	if decoded.Sentiment == "" {
		decoded.Sentiment = "neutral"
	}
	return studio.Analysis{
		Sentiment:  decoded.Sentiment,
		Confidence: decoded.Confidence,
		Emotions:   decoded.Emotions,
	}, nil
}
