package tunnelclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glamp/wingman-tunnel/internal/protocol"
)

func TestBackoffCapsGrowth(t *testing.T) {
	base := 5 * time.Second
	assert.Equal(t, base, backoff(base, 1))
	assert.Equal(t, 2*base, backoff(base, 2))
	assert.Equal(t, 4*base, backoff(base, 3))
	assert.Equal(t, 8*base, backoff(base, 4))
	assert.Equal(t, 8*base, backoff(base, 10))
}

func TestDialURLRewritesScheme(t *testing.T) {
	c := New(Options{ServerURL: "https://wingmanux.com", SessionID: "s", TargetPort: 3000})
	u, err := c.dialURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://wingmanux.com/tunnel-ws", u)

	c2 := New(Options{ServerURL: "http://localhost:8787", SessionID: "s", TargetPort: 3000})
	u2, err := c2.dialURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8787/tunnel-ws", u2)
}

func TestForwardRoundTripsToLocalTarget(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hello", r.URL.Path)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("world"))
	}))
	defer target.Close()

	port := portFromURL(t, target.URL)
	c := New(Options{ServerURL: "http://example.com", SessionID: "s", TargetPort: port})

	rf := protocol.RequestFrame{
		Type:    protocol.TypeRequest,
		ID:      "req-1",
		Method:  http.MethodGet,
		URL:     "/hello",
		Headers: protocol.HeaderMap{},
	}
	resp, err := c.forward(context.Background(), rf)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "world", resp.Body)
	assert.False(t, resp.IsBase64)
}

func TestStatsSnapshotAveragesLatency(t *testing.T) {
	var s Stats
	s.recordRequest(true, 10*time.Millisecond)
	s.recordRequest(false, 30*time.Millisecond)
	snap := s.Snapshot()
	assert.Equal(t, int64(2), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.SuccessfulRequests)
	assert.Equal(t, int64(1), snap.FailedRequests)
	assert.InDelta(t, 20.0, snap.AverageLatencyMs, 0.01)
}

func portFromURL(t *testing.T, rawURL string) int {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)
	return port
}
