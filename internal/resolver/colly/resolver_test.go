package colly

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/studio"
)

const reviewPage = `<!doctype html>
<html>
<head><title>Acme Widget Reviews</title></head>
<body>
<article>This widget completely changed how I organize my workshop, five stars.</article>
<p>Too short.</p>
<p>The build quality is disappointing and the handle snapped after two weeks of light use.</p>
</body>
</html>`

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := New(Config{}, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestResolveExtractsContent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(reviewPage))
	}))
	defer srv.Close()

	res, err := newResolver(t).Resolve(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "generic", res.Platform)
	require.Len(t, res.Items, 2)
	for _, item := range res.Items {
		require.Equal(t, "Acme Widget Reviews", item.Title)
		require.GreaterOrEqual(t, len(item.Text), 20)
	}
}

func TestResolveRateLimited(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newResolver(t).Resolve(context.Background(), srv.URL)
	require.ErrorIs(t, err, studio.ErrRateLimited)
}

func TestResolveRejectsBadScheme(t *testing.T) {
	t.Parallel()
	_, err := newResolver(t).Resolve(context.Background(), "ftp://example.com/reviews")
	require.ErrorIs(t, err, studio.ErrUnsupportedPlatform)
}

func TestResolveFetchError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newResolver(t).Resolve(context.Background(), srv.URL)
	require.Error(t, err)
	require.False(t, errors.Is(err, studio.ErrRateLimited))
}

func TestPlatformForHost(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"www.amazon.com":          "amazon",
		"www.amazon.in":           "amazon",
		"www.flipkart.com":        "flipkart",
		"old.reddit.com":          "reddit",
		"www.youtube.com":         "youtube",
		"youtu.be":                "youtube",
		"x.com":                   "twitter",
		"store.steampowered.com":  "steam",
		"www.tripadvisor.com":     "tripadvisor",
		"reviews.example.org:443": "generic",
	}
	for host, want := range cases {
		require.Equal(t, want, PlatformForHost(host), host)
	}
}
