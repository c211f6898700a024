// Package wsserver implements the control-channel WebSocket glue: the
// registration handshake, heartbeat enforcement, and frame dispatch that
// binds an incoming socket to the Connection Registry and routes its
// frames to the Proxy Engine / Pending-Request Table / Signaling Relay.
package wsserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/glamp/wingman-tunnel/internal/apperrors"
	"github.com/glamp/wingman-tunnel/internal/connection"
	"github.com/glamp/wingman-tunnel/internal/logger"
	"github.com/glamp/wingman-tunnel/internal/pending"
	"github.com/glamp/wingman-tunnel/internal/protocol"
	"github.com/glamp/wingman-tunnel/internal/proxy"
	"github.com/glamp/wingman-tunnel/internal/session"
	"github.com/glamp/wingman-tunnel/internal/signaling"
)

// maxParseFailures bounds how many malformed frames a channel tolerates
// before the server closes it with ProtocolError.
const maxParseFailures = 5

// SessionLookup is the subset of session.Registry the control-channel server
// needs to validate a registration.
type SessionLookup interface {
	GetSession(id string) *session.Session
}

// Server upgrades incoming control-channel connections and wires them into
// the rest of the tunnel.
type Server struct {
	sessions  SessionLookup
	conns     *connection.Registry
	pending   *pending.Table
	signaling *signaling.Relay
	relay     *proxy.WSRelay

	heartbeatInterval time.Duration
	upgrader          websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*client]struct{}
}

// New constructs a control-channel Server.
func New(sessions SessionLookup, conns *connection.Registry, pendingTable *pending.Table, sig *signaling.Relay, relay *proxy.WSRelay, heartbeatInterval time.Duration) *Server {
	return &Server{
		sessions:          sessions,
		conns:             conns,
		pending:           pendingTable,
		signaling:         sig,
		relay:             relay,
		heartbeatInterval: heartbeatInterval,
		clients:           make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			EnableCompression: false,
			CheckOrigin:       func(r *http.Request) bool { return true },
		},
	}
}

// CloseAll closes every currently connected control channel, used during
// server shutdown since http.Server.Shutdown does not close hijacked
// connections such as upgraded WebSockets.
func (s *Server) CloseAll() {
	s.clientsMu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for cl := range s.clients {
		clients = append(clients, cl)
	}
	s.clientsMu.Unlock()

	for _, cl := range clients {
		s.closeWithError(cl, apperrors.ServerShuttingDown())
	}
}

// client tracks the state of one control-channel connection across its
// lifetime, before and after registration.
type client struct {
	conn *websocket.Conn

	writeMu sync.Mutex // guards raw writes made before a Channel exists

	mu                sync.Mutex
	channel           *connection.Channel
	role              protocol.Role
	sessionID         string
	parseFailures     int
	lastFrameReceived time.Time
}

// HandleConnect upgrades the request and runs the connection's lifecycle to
// completion; it blocks until the socket closes.
func (s *Server) HandleConnect(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WS().Warn().Err(err).Msg("control channel upgrade failed")
		return
	}
	defer conn.Close()

	cl := &client{conn: conn, lastFrameReceived: time.Now()}
	s.writeRaw(cl, protocol.NewConnectedFrame(time.Now().Unix()))

	s.clientsMu.Lock()
	s.clients[cl] = struct{}{}
	s.clientsMu.Unlock()

	done := make(chan struct{})
	go s.heartbeatLoop(cl, done)
	s.readLoop(cl)
	close(done)

	s.cleanup(cl)
}

func (s *Server) readLoop(cl *client) {
	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		cl.mu.Lock()
		cl.lastFrameReceived = time.Now()
		cl.mu.Unlock()

		env, err := protocol.Decode(raw)
		if err != nil {
			cl.mu.Lock()
			cl.parseFailures++
			failures := cl.parseFailures
			cl.mu.Unlock()
			logger.WS().Warn().Err(err).Msg("malformed control frame")
			if failures >= maxParseFailures {
				s.closeWithError(cl, apperrors.ProtocolError("too many malformed frames"))
				return
			}
			continue
		}
		cl.mu.Lock()
		cl.parseFailures = 0
		cl.mu.Unlock()

		s.dispatch(cl, env.Type, raw)
	}
}

func (s *Server) dispatch(cl *client, frameType string, raw []byte) {
	switch frameType {
	case protocol.TypeRegister:
		s.handleRegister(cl, raw)
	case protocol.TypePong:
		// Liveness already recorded in readLoop.
	case protocol.TypeResponse:
		s.handleResponse(raw)
	case protocol.TypeWebSocketMessage:
		var frame protocol.WebSocketMessageFrame
		if err := json.Unmarshal(raw, &frame); err == nil {
			s.relay.Dispatch(frame)
		}
	case protocol.TypeWebSocketClose:
		var frame protocol.WebSocketCloseFrame
		if err := json.Unmarshal(raw, &frame); err == nil {
			s.relay.DispatchClose(frame.ConnectionID)
		}
	case protocol.TypeP2POffer, protocol.TypeP2PAnswer, protocol.TypeP2PICECandidate:
		s.handleSignal(cl, frameType, raw)
	case protocol.TypeP2PReady:
		s.handleReady(cl)
	case protocol.TypeP2PFailed:
		s.handleFailed(cl, raw)
	default:
		logger.WS().Debug().Str("type", frameType).Msg("ignoring unrecognized control frame")
	}
}

func (s *Server) handleRegister(cl *client, raw []byte) {
	var frame protocol.RegisterFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.closeWithError(cl, apperrors.ProtocolError("malformed register frame"))
		return
	}

	sess := s.sessions.GetSession(frame.SessionID)
	if sess == nil {
		s.writeRaw(cl, protocol.NewErrorFrame("Session not found", apperrors.CodeSessionNotFound))
		cl.conn.Close()
		return
	}

	channel := connection.NewChannel(uuid.NewString(), frame.Role, frame.SessionID, nil)

	cl.mu.Lock()
	cl.channel = channel
	cl.role = frame.Role
	cl.sessionID = frame.SessionID
	cl.mu.Unlock()

	go s.writePump(cl, channel)

	switch frame.Role {
	case protocol.RoleDeveloper:
		s.conns.RegisterDeveloper(frame.SessionID, channel)
	case protocol.RolePM:
		s.conns.RegisterPM(frame.SessionID, channel)
	default:
		s.writeRaw(cl, protocol.NewErrorFrame("unknown role", apperrors.CodeInvalidArgument))
		cl.conn.Close()
		return
	}

	registered := protocol.NewRegisteredFrame(frame.SessionID, frame.Role)
	if raw, err := protocol.Encode(registered); err == nil {
		_ = channel.Send(raw)
	}
	logger.WS().Info().Str("sessionId", frame.SessionID).Str("role", string(frame.Role)).Msg("control channel registered")
}

func (s *Server) handleResponse(raw []byte) {
	var frame protocol.ResponseFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		logger.WS().Warn().Err(err).Msg("malformed response frame")
		return
	}
	if frame.Error != "" {
		s.pending.RejectRequest(frame.RequestID, apperrors.DeveloperDisconnected())
		return
	}
	s.pending.ResolveRequest(frame.RequestID, frame.Response)
}

func (s *Server) handleSignal(cl *client, frameType string, raw []byte) {
	var frame protocol.P2PSignalFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return
	}
	cl.mu.Lock()
	sessionID, role := cl.sessionID, cl.role
	cl.mu.Unlock()
	if sessionID == "" {
		return
	}
	frame.Type = frameType
	s.signaling.HandleSignal(sessionID, role, frame)
}

func (s *Server) handleReady(cl *client) {
	cl.mu.Lock()
	sessionID, role := cl.sessionID, cl.role
	cl.mu.Unlock()
	if sessionID == "" {
		return
	}
	s.signaling.HandleReady(sessionID, role)
}

func (s *Server) handleFailed(cl *client, raw []byte) {
	var frame protocol.P2PSignalFrame
	_ = json.Unmarshal(raw, &frame)
	cl.mu.Lock()
	sessionID, role := cl.sessionID, cl.role
	cl.mu.Unlock()
	if sessionID == "" {
		return
	}
	s.signaling.HandleFailed(sessionID, role, frame.Reason)
}

// writePump is the single writer goroutine for a registered channel,
// draining its bounded outbound queue until the channel closes.
func (s *Server) writePump(cl *client, channel *connection.Channel) {
	for {
		select {
		case frame, ok := <-channel.Outbound():
			if !ok {
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				channel.Close("write error")
				return
			}
		case <-channel.Done():
			return
		}
	}
}

func (s *Server) heartbeatLoop(cl *client, done chan struct{}) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			cl.mu.Lock()
			idle := time.Since(cl.lastFrameReceived)
			cl.mu.Unlock()
			if idle > 2*s.heartbeatInterval {
				s.closeWithError(cl, apperrors.HeartbeatTimeout())
				return
			}
			s.ping(cl)
		}
	}
}

func (s *Server) ping(cl *client) {
	ping := protocol.NewPingFrame(time.Now().Unix())
	cl.mu.Lock()
	channel := cl.channel
	cl.mu.Unlock()
	if channel != nil {
		if raw, err := protocol.Encode(ping); err == nil {
			_ = channel.Send(raw)
		}
		return
	}
	s.writeRaw(cl, ping)
}

func (s *Server) writeRaw(cl *client, frame interface{}) {
	raw, err := protocol.Encode(frame)
	if err != nil {
		return
	}
	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()
	_ = cl.conn.WriteMessage(websocket.TextMessage, raw)
}

func (s *Server) closeWithError(cl *client, err *apperrors.TunnelError) {
	s.writeRaw(cl, protocol.NewErrorFrame(err.Message, err.Code))
	cl.conn.Close()
}

func (s *Server) cleanup(cl *client) {
	s.clientsMu.Lock()
	delete(s.clients, cl)
	s.clientsMu.Unlock()

	cl.mu.Lock()
	channel, role, sessionID := cl.channel, cl.role, cl.sessionID
	cl.mu.Unlock()

	if channel == nil {
		return
	}
	channel.Close("connection closed")

	switch role {
	case protocol.RoleDeveloper:
		s.conns.UnregisterDeveloper(sessionID)
	case protocol.RolePM:
		s.conns.UnregisterPM(sessionID, channel)
	}
	s.signaling.HandlePeerDisconnected(sessionID, role)
}
