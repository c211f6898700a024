// Package proxy implements the Proxy Engine: turning one inbound public
// HTTP request into a TunnelRequest frame, awaiting the developer's
// TunnelResponse via the Pending-Request Table, and writing the result
// back to the public client.
package proxy

import (
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/glamp/wingman-tunnel/internal/apperrors"
	"github.com/glamp/wingman-tunnel/internal/connection"
	"github.com/glamp/wingman-tunnel/internal/logger"
	"github.com/glamp/wingman-tunnel/internal/pending"
	"github.com/glamp/wingman-tunnel/internal/protocol"
	"github.com/glamp/wingman-tunnel/internal/session"
)

// Engine serializes inbound HTTP requests onto a session's developer
// control channel and writes back whatever response arrives.
type Engine struct {
	conns          *connection.Registry
	pending        *pending.Table
	requestTimeout time.Duration
	maxBodyBytes   int64
	relay          *WSRelay
}

// New constructs a Proxy Engine.
func New(conns *connection.Registry, pendingTable *pending.Table, requestTimeout time.Duration, maxBodyBytes int64) *Engine {
	return &Engine{
		conns:          conns,
		pending:        pendingTable,
		requestTimeout: requestTimeout,
		maxBodyBytes:   maxBodyBytes,
		relay:          newWSRelay(conns),
	}
}

// Relay exposes the WebSocket-upgrade relay so the control-channel dispatcher
// can route websocket-message/close frames arriving from the developer.
func (e *Engine) Relay() *WSRelay {
	return e.relay
}

// HandleTunnelRequest proxies one inbound HTTP request for sess, with the
// forwarded path already rewritten by the Ingress Router.
func (e *Engine) HandleTunnelRequest(c *gin.Context, sess *session.Session, forwardedPath string) {
	if isWebSocketUpgrade(c.Request) {
		e.relay.Handle(c, sess, forwardedPath)
		return
	}

	if e.conns.DeveloperChannel(sess.ID) == nil {
		writeError(c, apperrors.DeveloperNotConnected(sess.ID))
		return
	}

	body, err := readLimited(c.Request.Body, e.maxBodyBytes)
	if err != nil {
		writeError(c, apperrors.Oversize(e.maxBodyBytes))
		return
	}

	contentType := c.Request.Header.Get("Content-Type")
	isBase64 := DetectBinary(contentType, body)
	bodyStr := string(body)
	if isBase64 {
		bodyStr = base64.StdEncoding.EncodeToString(body)
	}

	headers := FrameHeadersFromRequest(c.Request.Header, c.Request.Host)
	AppendForwardedHeaders(headers, c.ClientIP(), schemeOf(c.Request), c.Request.Host)

	url := forwardedPath
	if c.Request.URL.RawQuery != "" {
		url += "?" + c.Request.URL.RawQuery
	}

	requestID := uuid.NewString()
	frame := protocol.RequestFrame{
		Type:      protocol.TypeRequest,
		ID:        requestID,
		SessionID: sess.ID,
		Method:    c.Request.Method,
		URL:       url,
		Headers:   headers,
		Body:      bodyStr,
		IsBase64:  isBase64,
	}

	sink, err := e.pending.AddPendingRequest(requestID, sess.ID, e.requestTimeout, func(id string, timeoutErr error) {
		logger.Proxy().Warn().Str("requestId", id).Str("sessionId", sess.ID).Msg("request timed out awaiting developer response")
	})
	if err != nil {
		writeError(c, err)
		return
	}

	raw, err := protocol.Encode(frame)
	if err != nil {
		e.pending.RejectRequest(requestID, apperrors.InternalWrap(err))
		writeError(c, apperrors.InternalWrap(err))
		return
	}
	if err := e.conns.SendToDeveloper(sess.ID, raw); err != nil {
		e.pending.RejectRequest(requestID, err)
		writeError(c, err)
		return
	}

	// Best-effort cancellation notice if the public client disconnects
	// before the developer responds. The developer may still deliver a
	// response, which the Pending-Request Table will then drop.
	go e.watchClientDisconnect(c, sess.ID, requestID)

	result := <-sink
	if result.Err != nil {
		writeError(c, result.Err)
		return
	}
	e.writeResponse(c, sess, result.Response)
}

func (e *Engine) watchClientDisconnect(c *gin.Context, sessionID, requestID string) {
	select {
	case <-c.Request.Context().Done():
		e.pending.CancelRequest(requestID)
		cancelFrame := protocol.RequestCancelFrame{Type: protocol.TypeRequestCancel, RequestID: requestID, SessionID: sessionID}
		if raw, err := protocol.Encode(cancelFrame); err == nil {
			_ = e.conns.SendToDeveloper(sessionID, raw)
		}
	case <-time.After(e.requestTimeout + 500*time.Millisecond):
	}
}

func (e *Engine) writeResponse(c *gin.Context, sess *session.Session, resp *protocol.ResponseBody) {
	body := []byte(resp.Body)
	if resp.IsBase64 && resp.Body != "" {
		decoded, err := base64.StdEncoding.DecodeString(resp.Body)
		if err != nil {
			writeError(c, apperrors.InternalWrap(err))
			return
		}
		body = decoded
	}

	ApplyResponseHeaders(c.Writer, resp.Headers)
	c.Writer.Header().Set("X-Preview-Url", sess.TunnelURL)
	c.Writer.WriteHeader(resp.StatusCode)
	_, _ = c.Writer.Write(body)
}

func writeError(c *gin.Context, err error) {
	te, ok := err.(*apperrors.TunnelError)
	if !ok {
		te = apperrors.InternalWrap(err)
	}
	c.AbortWithStatusJSON(te.StatusCode, te.ToResponse())
}

func readLimited(r io.ReadCloser, limit int64) ([]byte, error) {
	defer r.Close()
	limited := io.LimitReader(r, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, apperrors.Oversize(limit)
	}
	return data, nil
}

func isWebSocketUpgrade(r *http.Request) bool {
	return headerContains(r.Header, "Connection", "upgrade") && headerContains(r.Header, "Upgrade", "websocket")
}

func headerContains(h http.Header, key, want string) bool {
	for _, v := range h.Values(key) {
		if strings.Contains(strings.ToLower(v), want) {
			return true
		}
	}
	return false
}

func schemeOf(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
