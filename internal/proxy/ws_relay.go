package proxy

import (
	"encoding/base64"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/glamp/wingman-tunnel/internal/apperrors"
	"github.com/glamp/wingman-tunnel/internal/connection"
	"github.com/glamp/wingman-tunnel/internal/logger"
	"github.com/glamp/wingman-tunnel/internal/protocol"
	"github.com/glamp/wingman-tunnel/internal/session"
)

// WSRelay implements the optional WebSocket-upgrade-through-the-tunnel path:
// a public WebSocket connection is bridged to the developer over the same
// control channel used for ordinary HTTP proxying, keyed by a fresh
// connection id distinct from any request id.
type WSRelay struct {
	conns *connection.Registry

	mu          sync.Mutex
	connections map[string]chan protocol.WebSocketMessageFrame
	upgrader    websocket.Upgrader
}

func newWSRelay(conns *connection.Registry) *WSRelay {
	return &WSRelay{
		conns:       conns,
		connections: make(map[string]chan protocol.WebSocketMessageFrame),
		upgrader: websocket.Upgrader{
			EnableCompression: false,
			CheckOrigin:       func(r *http.Request) bool { return true },
		},
	}
}

// Handle upgrades the public connection and bridges it to the developer.
func (rl *WSRelay) Handle(c *gin.Context, sess *session.Session, forwardedPath string) {
	if rl.conns.DeveloperChannel(sess.ID) == nil {
		writeError(c, apperrors.DeveloperNotConnected(sess.ID))
		return
	}

	conn, err := rl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Proxy().Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	connectionID := uuid.NewString()
	inbound := make(chan protocol.WebSocketMessageFrame, 16)
	rl.mu.Lock()
	rl.connections[connectionID] = inbound
	rl.mu.Unlock()
	defer rl.removeConnection(connectionID)

	connectFrame := protocol.WebSocketConnectFrame{
		Type:         protocol.TypeWebSocketConnect,
		ConnectionID: connectionID,
		SessionID:    sess.ID,
		URL:          forwardedPath,
		Headers:      FrameHeadersFromRequest(c.Request.Header, c.Request.Host),
	}
	if err := rl.send(sess.ID, connectFrame); err != nil {
		return
	}

	done := make(chan struct{})
	go rl.pumpFromDeveloper(conn, inbound, done)
	rl.pumpFromPublic(conn, sess.ID, connectionID)
	close(done)

	closeFrame := protocol.WebSocketCloseFrame{Type: protocol.TypeWebSocketClose, ConnectionID: connectionID}
	_ = rl.send(sess.ID, closeFrame)
}

// Dispatch routes a websocket-message frame arriving from the developer on
// the control channel to the matching relayed connection.
func (rl *WSRelay) Dispatch(frame protocol.WebSocketMessageFrame) {
	rl.mu.Lock()
	ch, ok := rl.connections[frame.ConnectionID]
	rl.mu.Unlock()
	if !ok {
		logger.Proxy().Debug().Str("connectionId", frame.ConnectionID).Msg("dropped websocket frame for unknown relay connection")
		return
	}
	select {
	case ch <- frame:
	default:
		logger.Proxy().Warn().Str("connectionId", frame.ConnectionID).Msg("relay inbound queue full, dropping frame")
	}
}

// DispatchClose tears down a relayed connection when the developer reports
// websocket-close.
func (rl *WSRelay) DispatchClose(connectionID string) {
	rl.mu.Lock()
	ch, ok := rl.connections[connectionID]
	rl.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (rl *WSRelay) removeConnection(connectionID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.connections, connectionID)
}

func (rl *WSRelay) pumpFromPublic(conn *websocket.Conn, sessionID, connectionID string) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		isBase64 := messageType == websocket.BinaryMessage
		payload := string(data)
		if isBase64 {
			payload = base64.StdEncoding.EncodeToString(data)
		}
		frame := protocol.WebSocketMessageFrame{
			Type:         protocol.TypeWebSocketMessage,
			ConnectionID: connectionID,
			Data:         payload,
			IsBase64:     isBase64,
		}
		if err := rl.send(sessionID, frame); err != nil {
			return
		}
	}
}

func (rl *WSRelay) pumpFromDeveloper(conn *websocket.Conn, inbound chan protocol.WebSocketMessageFrame, done chan struct{}) {
	for {
		select {
		case frame, ok := <-inbound:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			messageType := websocket.TextMessage
			payload := []byte(frame.Data)
			if frame.IsBase64 {
				decoded, err := base64.StdEncoding.DecodeString(frame.Data)
				if err != nil {
					continue
				}
				payload = decoded
				messageType = websocket.BinaryMessage
			}
			if err := conn.WriteMessage(messageType, payload); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (rl *WSRelay) send(sessionID string, frame interface{}) error {
	raw, err := protocol.Encode(frame)
	if err != nil {
		return apperrors.InternalWrap(err)
	}
	return rl.conns.SendToDeveloper(sessionID, raw)
}
