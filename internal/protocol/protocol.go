// Package protocol defines the control-channel wire frames shared by the
// tunnel server and the tunnel client: one JSON object per frame, no
// compression, a "type" discriminator on every frame.
package protocol

import "encoding/json"

// Frame type discriminators. These are the complete frame taxonomy carried
// over the control channel in both directions.
const (
	TypeConnected         = "connected"
	TypeRegister          = "register"
	TypeRegistered        = "registered"
	TypeError             = "error"
	TypeRequest           = "request"
	TypeResponse          = "response"
	TypePing              = "ping"
	TypePong              = "pong"
	TypeRequestCancel     = "request-cancel"
	TypeWebSocketConnect  = "websocket-connect"
	TypeWebSocketMessage  = "websocket-message"
	TypeWebSocketClose    = "websocket-close"
	TypeP2PInitiate       = "p2p:initiate"
	TypeP2POffer          = "p2p:offer"
	TypeP2PAnswer         = "p2p:answer"
	TypeP2PICECandidate   = "p2p:ice-candidate"
	TypeP2PReady          = "p2p:ready"
	TypeP2PFailed         = "p2p:failed"
)

// Role identifies which side of a control channel a peer registered as.
type Role string

const (
	RoleDeveloper Role = "developer"
	RolePM        Role = "pm"
)

// Envelope is the minimal shape every frame shares: enough to dispatch on
// Type before unmarshaling the rest into a concrete frame struct.
type Envelope struct {
	Type string `json:"type"`
}

// Decode peeks at a raw frame's type without committing to a concrete shape.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Encode marshals any frame struct to its wire form.
func Encode(frame interface{}) ([]byte, error) {
	return json.Marshal(frame)
}

// ConnectedFrame is sent by the server immediately after a socket opens.
type ConnectedFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func NewConnectedFrame(timestamp int64) ConnectedFrame {
	return ConnectedFrame{Type: TypeConnected, Timestamp: timestamp}
}

// RegisterFrame is sent by a peer to bind itself to a session.
type RegisterFrame struct {
	Type        string `json:"type"`
	Role        Role   `json:"role"`
	SessionID   string `json:"sessionId"`
	TargetPort  int    `json:"targetPort,omitempty"`
	DeveloperID string `json:"developerId,omitempty"`
	ClientInfo  string `json:"clientInfo,omitempty"`
}

// RegisteredFrame acknowledges a successful registration.
type RegisteredFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Role      Role   `json:"role"`
}

func NewRegisteredFrame(sessionID string, role Role) RegisteredFrame {
	return RegisteredFrame{Type: TypeRegistered, SessionID: sessionID, Role: role}
}

// ErrorFrame carries a fatal control-channel error; the connection is closed
// after it is sent.
type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func NewErrorFrame(message, code string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Error: message, Code: code}
}

// PingFrame / PongFrame are the heartbeat frames.
type PingFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type PongFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func NewPingFrame(timestamp int64) PingFrame { return PingFrame{Type: TypePing, Timestamp: timestamp} }
func NewPongFrame(timestamp int64) PongFrame { return PongFrame{Type: TypePong, Timestamp: timestamp} }

// HeaderMap stores lowercased header names mapped to one or more values,
// matching the wire format's "string or list-of-strings" allowance.
type HeaderMap map[string][]string

// RequestFrame is sent server -> developer for each inbound public request.
type RequestFrame struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Method    string    `json:"method"`
	URL       string    `json:"url"`
	Headers   HeaderMap `json:"headers"`
	Body      string    `json:"body,omitempty"`
	IsBase64  bool      `json:"isBase64"`
}

// ResponseBody is the nested response payload of a ResponseFrame.
type ResponseBody struct {
	StatusCode int       `json:"statusCode"`
	Headers    HeaderMap `json:"headers"`
	Body       string    `json:"body,omitempty"`
	BodyLength int       `json:"bodyLength"`
	IsBase64   bool      `json:"isBase64"`
}

// ResponseFrame is sent developer -> server in reply to a RequestFrame.
type ResponseFrame struct {
	Type      string        `json:"type"`
	RequestID string        `json:"requestId"`
	SessionID string        `json:"sessionId"`
	Response  *ResponseBody `json:"response,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// RequestCancelFrame notifies the developer that the public client
// disconnected; best-effort, the developer may still deliver a late
// response which the server then drops.
type RequestCancelFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	SessionID string `json:"sessionId"`
}

// WebSocketConnectFrame opens a relayed WebSocket connection identified by
// ConnectionID, distinct from any proxy RequestFrame.ID.
type WebSocketConnectFrame struct {
	Type         string    `json:"type"`
	ConnectionID string    `json:"connectionId"`
	SessionID    string    `json:"sessionId"`
	URL          string    `json:"url"`
	Headers      HeaderMap `json:"headers"`
}

// WebSocketMessageFrame carries one relayed WebSocket message in either
// direction, preserving order per ConnectionID.
type WebSocketMessageFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	Data         string `json:"data"`
	IsBase64     bool   `json:"isBase64"`
}

// WebSocketCloseFrame ends a relayed WebSocket connection.
type WebSocketCloseFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	Reason       string `json:"reason,omitempty"`
}

// P2PInitiateFrame tells one side that both peers are now present and it
// should begin the WebRTC handshake.
type P2PInitiateFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Role      Role   `json:"role"`
}

// P2PSignalFrame carries opaque offer/answer/ICE-candidate payloads relayed
// verbatim between developer and PM channels.
type P2PSignalFrame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	From      Role            `json:"from"`
	Data      json.RawMessage `json:"data,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}
