package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameHeadersFromRequestStripsHopByHop(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "keep-alive")
	h.Set("Accept", "application/json")
	h.Set("Upgrade", "websocket")

	out := FrameHeadersFromRequest(h, "swift-otter.wingmanux.com")
	_, hasConnection := out["connection"]
	_, hasUpgrade := out["upgrade"]
	assert.False(t, hasConnection)
	assert.False(t, hasUpgrade)
	assert.Equal(t, []string{"application/json"}, out["accept"])
	assert.Equal(t, []string{"swift-otter.wingmanux.com"}, out["host"])
}

func TestApplyResponseHeadersStripsHopByHop(t *testing.T) {
	rec := httptest.NewRecorder()
	ApplyResponseHeaders(rec, map[string][]string{
		"content-type": {"image/png"},
		"connection":   {"keep-alive"},
	})
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Connection"))
}
