package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glamp/wingman-tunnel/internal/connection"
	"github.com/glamp/wingman-tunnel/internal/pending"
	"github.com/glamp/wingman-tunnel/internal/proxy"
	"github.com/glamp/wingman-tunnel/internal/session"
	"github.com/glamp/wingman-tunnel/internal/signaling"
	"github.com/glamp/wingman-tunnel/internal/wsserver"
)

func newTestRouter(t *testing.T) (*RouterConfig, *session.Registry) {
	t.Helper()
	sessions := session.New("wingmanux.com", time.Hour, "")
	conns := connection.New(nil, sessions, time.Millisecond, nil)
	pendingTable := pending.New()
	proxyEngine := proxy.New(conns, pendingTable, 200*time.Millisecond, 1024*1024)
	sig := signaling.New(conns)
	wsSrv := wsserver.New(sessions, conns, pendingTable, sig, proxyEngine.Relay(), time.Hour)

	cfg := RouterConfig{
		Sessions:   sessions,
		Proxy:      proxyEngine,
		WSServer:   wsSrv,
		BaseDomain: "wingmanux.com",
		DevMode:    true,
	}
	return &cfg, sessions
}

func TestCreateSessionHappyPath(t *testing.T) {
	cfg, _ := newTestRouter(t)
	router := NewRouter(*cfg)

	body, _ := json.Marshal(map[string]interface{}{"developerId": "d1", "targetPort": 3000})
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Regexp(t, `^[a-z]+-[a-z]+$`, resp["sessionId"])
}

func TestNoDeveloperReturns502(t *testing.T) {
	cfg, sessions := newTestRouter(t)
	router := NewRouter(*cfg)
	sess, err := sessions.CreateSession("d1", 3000, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/tunnel/"+sess.ID+"/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "DEVELOPER_NOT_CONNECTED", resp["code"])
}

func TestInvalidSessionIdShape(t *testing.T) {
	cfg, _ := newTestRouter(t)
	router := NewRouter(*cfg)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "fakesessionid.wingmanux.com"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownSessionReturns404(t *testing.T) {
	cfg, _ := newTestRouter(t)
	router := NewRouter(*cfg)

	req := httptest.NewRequest(http.MethodGet, "/tunnel/swift-otter/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	cfg, _ := newTestRouter(t)
	router := NewRouter(*cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestDeleteAndGetSession(t *testing.T) {
	cfg, sessions := newTestRouter(t)
	router := NewRouter(*cfg)
	sess, _ := sessions.CreateSession("d1", 3000, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+sess.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/"+sess.ID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
