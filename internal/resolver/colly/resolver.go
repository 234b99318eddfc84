// Package colly resolves target URLs into raw content items using the Colly
// collector. It is the generic fallback resolver: platform-specific APIs can
// replace it behind the same interface without touching the job runner.
package colly

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/studio"
)

const defaultUserAgent = "SentimatrixStudio/1.0"

// Config tunes the collector.
type Config struct {
	UserAgent      string
	RequestTimeout time.Duration
	Parallelism    int
	MaxItems       int
}

// Resolver implements studio.Resolver with a shared base collector that is
// cloned per request, so one Resolver is safe for concurrent use.
type Resolver struct {
	baseCollector *colly.Collector
	maxItems      int
	logger        *zap.Logger
}

// New constructs a configured Colly-based Resolver.
func New(cfg Config, logger *zap.Logger) (*Resolver, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 200
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(colly.UserAgent(cfg.UserAgent))
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)
	if err := base.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       200 * time.Millisecond,
	}); err != nil {
		return nil, fmt.Errorf("configure limit rule: %w", err)
	}

	return &Resolver{
		baseCollector: base,
		maxItems:      cfg.MaxItems,
		logger:        logger,
	}, nil
}

// Resolve fetches the URL and extracts text blocks that look like user
// content. The platform label is derived from the host.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (studio.Resolution, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return studio.Resolution{}, fmt.Errorf("%w: %v", studio.ErrUnsupportedPlatform, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return studio.Resolution{}, fmt.Errorf("%w: scheme %q", studio.ErrUnsupportedPlatform, parsed.Scheme)
	}
	platform := PlatformForHost(parsed.Host)

	collector := r.baseCollector.Clone()
	collector.Context = ctx

	var (
		mu         sync.Mutex
		items      []studio.ContentItem
		title      string
		statusCode int
		fetchErr   error
	)

	collector.OnResponse(func(resp *colly.Response) {
		mu.Lock()
		statusCode = resp.StatusCode
		mu.Unlock()
	})
	collector.OnHTML("title", func(e *colly.HTMLElement) {
		mu.Lock()
		if title == "" {
			title = strings.TrimSpace(e.Text)
		}
		mu.Unlock()
	})
	collector.OnHTML("article, blockquote, p, li.review, div.review", func(e *colly.HTMLElement) {
		text := strings.TrimSpace(e.Text)
		if len(text) < 20 {
			return
		}
		mu.Lock()
		if len(items) < r.maxItems {
			items = append(items, studio.ContentItem{Text: text, Title: title})
		}
		mu.Unlock()
	})
	collector.OnError(func(resp *colly.Response, err error) {
		mu.Lock()
		if resp != nil {
			statusCode = resp.StatusCode
		}
		if err == nil {
			err = errors.New("unknown colly error")
		}
		fetchErr = err
		mu.Unlock()
	})

	if err := collector.Visit(rawURL); err != nil {
		return studio.Resolution{}, fmt.Errorf("visit %s: %w", rawURL, err)
	}
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return studio.Resolution{}, err
	}

	mu.Lock()
	defer mu.Unlock()
	if statusCode == http.StatusTooManyRequests {
		return studio.Resolution{}, fmt.Errorf("%w: %s", studio.ErrRateLimited, rawURL)
	}
	if fetchErr != nil {
		return studio.Resolution{}, fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
	}

	// Post-fill the page title on items captured before <title> was seen.
	for i := range items {
		if items[i].Title == "" {
			items[i].Title = title
		}
	}
	return studio.Resolution{Platform: platform, Items: items}, nil
}

// PlatformForHost maps a hostname onto a known platform label, falling back
// to "generic".
func PlatformForHost(host string) string {
	host = strings.ToLower(host)
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	switch {
	case strings.Contains(host, "amazon."):
		return "amazon"
	case strings.Contains(host, "flipkart."):
		return "flipkart"
	case strings.Contains(host, "reddit."):
		return "reddit"
	case strings.Contains(host, "youtube.") || host == "youtu.be":
		return "youtube"
	case strings.Contains(host, "twitter.") || host == "x.com":
		return "twitter"
	case strings.Contains(host, "steampowered.") || strings.Contains(host, "steamcommunity."):
		return "steam"
	case strings.Contains(host, "tripadvisor."):
		return "tripadvisor"
	default:
		return "generic"
	}
}
