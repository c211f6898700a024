package wsserver

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/glamp/wingman-tunnel/internal/connection"
	"github.com/glamp/wingman-tunnel/internal/pending"
	"github.com/glamp/wingman-tunnel/internal/protocol"
	"github.com/glamp/wingman-tunnel/internal/proxy"
	"github.com/glamp/wingman-tunnel/internal/session"
	"github.com/glamp/wingman-tunnel/internal/signaling"
)

func newTestServer(t *testing.T) (*httptest.Server, *session.Session) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sessions := session.New("localhost:8787", time.Hour, "")
	sess, err := sessions.CreateSession("dev1", 3000, nil)
	require.NoError(t, err)

	conns := connection.New(nil, sessions, 50*time.Millisecond, nil)
	pendingTable := pending.New()
	sig := signaling.New(conns)
	proxyEngine := proxy.New(conns, pendingTable, time.Second, 1024)
	wsSrv := New(sessions, conns, pendingTable, sig, proxyEngine.Relay(), time.Hour)

	router := gin.New()
	router.GET("/tunnel-ws", func(c *gin.Context) { wsSrv.HandleConnect(c) })

	srv := httptest.NewServer(router)
	return srv, sess
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/tunnel-ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestRegistrationHandshake(t *testing.T) {
	srv, sess := newTestServer(t)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeConnected, env.Type)

	registerRaw, err := protocol.Encode(protocol.RegisterFrame{
		Type:      protocol.TypeRegister,
		Role:      protocol.RoleDeveloper,
		SessionID: sess.ID,
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, registerRaw))

	_, raw, err = conn.ReadMessage()
	require.NoError(t, err)
	var registered protocol.RegisteredFrame
	require.NoError(t, json.Unmarshal(raw, &registered))
	require.Equal(t, protocol.TypeRegistered, registered.Type)
	require.Equal(t, sess.ID, registered.SessionID)
}

func TestRegisterUnknownSessionCloses(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	registerRaw, _ := protocol.Encode(protocol.RegisterFrame{
		Type:      protocol.TypeRegister,
		Role:      protocol.RoleDeveloper,
		SessionID: "nope-nope",
	})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, registerRaw))

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var errFrame protocol.ErrorFrame
	require.NoError(t, json.Unmarshal(raw, &errFrame))
	require.Equal(t, protocol.TypeError, errFrame.Type)
}
