// Package tunnelclient implements the developer-side half of the control
// channel: dial the tunnel server, register a session, forward inbound
// request frames to a local target port, and keep the connection alive
// across restarts with exponential backoff.
package tunnelclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/glamp/wingman-tunnel/internal/apperrors"
	"github.com/glamp/wingman-tunnel/internal/logger"
	"github.com/glamp/wingman-tunnel/internal/protocol"
	"github.com/glamp/wingman-tunnel/internal/proxy"
)

// Options configures a Client. ServerURL is the tunnel server's
// base ws(s):// or http(s):// origin; it is rewritten to the /tunnel-ws
// path on dial.
type Options struct {
	ServerURL             string
	SessionID             string
	DeveloperID           string
	TargetPort            int
	HeartbeatInterval     time.Duration
	ReconnectInterval     time.Duration
	MaxReconnectAttempts  int
	RequestTimeout        time.Duration
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.ReconnectInterval == 0 {
		o.ReconnectInterval = 5 * time.Second
	}
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = 10
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = 30 * time.Second
	}
	return o
}

// Client is the developer-side process: it owns a single logical
// connection to the tunnel server, reconnecting on loss.
type Client struct {
	opts   Options
	log    zerolog.Logger
	stats  Stats
	httpc  *http.Client

	mu   sync.Mutex
	conn *websocket.Conn
}

// New constructs a Client from Options, applying defaults for any zero
// duration/count fields.
func New(opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		opts: opts,
		log:  logger.Client().With().Str("sessionId", opts.SessionID).Logger(),
		httpc: &http.Client{
			Timeout: opts.RequestTimeout,
		},
	}
}

// Stats returns a snapshot of the client's observability counters.
func (c *Client) Stats() Snapshot {
	return c.stats.Snapshot()
}

// Run dials the tunnel server and services the control channel until ctx is
// cancelled or the reconnect budget is exhausted, whichever comes first. A
// cancelled ctx returns nil (clean shutdown); exhausting MaxReconnectAttempts
// returns an error (the CLI maps this to a non-zero exit code).
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			// runOnce returns nil only after ctx is cancelled, which the
			// check above already handles.
			attempt = 0
			continue
		}

		c.stats.recordError(err)
		attempt++
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("control channel dropped")

		if attempt >= c.opts.MaxReconnectAttempts {
			return fmt.Errorf("gave up after %d reconnect attempts: %w", attempt, err)
		}

		wait := backoff(c.opts.ReconnectInterval, attempt)
		c.log.Info().Dur("wait", wait).Msg("reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// backoff doubles the base interval per attempt, capped at 8x.
func backoff(base time.Duration, attempt int) time.Duration {
	factor := math.Pow(2, float64(attempt-1))
	if factor > 8 {
		factor = 8
	}
	return time.Duration(float64(base) * factor)
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.opts.ServerURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	case "":
		u.Scheme = "ws"
	}
	u.Path = "/tunnel-ws"
	return u.String(), nil
}

// runOnce dials once and services frames until the connection drops or ctx
// is cancelled. It returns nil only on a clean, ctx-cancelled shutdown.
func (c *Client) runOnce(ctx context.Context) error {
	dialURL, err := c.dialURL()
	if err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, dialURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", dialURL, err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.stats.recordConnection()

	reg := protocol.RegisterFrame{
		Type:        protocol.TypeRegister,
		Role:        protocol.RoleDeveloper,
		SessionID:   c.opts.SessionID,
		TargetPort:  c.opts.TargetPort,
		DeveloperID: c.opts.DeveloperID,
		ClientInfo:  "wingman-tunnel-client",
	}
	raw, err := protocol.Encode(reg)
	if err != nil {
		return fmt.Errorf("encode register frame: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("send register frame: %w", err)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	errCh := make(chan error, 1)
	go func() { errCh <- c.readLoop(runCtx, conn) }()

	select {
	case <-ctx.Done():
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		return nil
	case err := <-errCh:
		return err
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		env, err := protocol.Decode(raw)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		switch env.Type {
		case protocol.TypeConnected:
			c.log.Debug().Msg("connected")
		case protocol.TypeRegistered:
			c.log.Info().Msg("registered")
		case protocol.TypeError:
			var ef protocol.ErrorFrame
			if err := decode(raw, &ef); err == nil {
				return fmt.Errorf("server error %s: %s", ef.Code, ef.Error)
			}
			return fmt.Errorf("server sent malformed error frame")
		case protocol.TypePing:
			var pf protocol.PingFrame
			if err := decode(raw, &pf); err != nil {
				continue
			}
			pong := protocol.NewPongFrame(pf.Timestamp)
			if err := c.writeFrame(pong); err != nil {
				return err
			}
		case protocol.TypeRequest:
			var rf protocol.RequestFrame
			if err := decode(raw, &rf); err != nil {
				c.log.Warn().Err(err).Msg("malformed request frame")
				continue
			}
			go c.handleRequest(ctx, rf)
		case protocol.TypeRequestCancel:
			// Best-effort notice only; the in-flight forward either completes
			// or times out on its own, and the server drops the late response
			// because the request is no longer pending.
		default:
			c.log.Debug().Str("type", env.Type).Msg("unhandled frame")
		}
	}
}

func decode(raw []byte, v interface{}) error {
	return json.Unmarshal(raw, v)
}

func (c *Client) writeFrame(frame interface{}) error {
	raw, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return apperrors.NotConnected("developer")
	}
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// handleRequest forwards one RequestFrame to the local target port and
// writes back a ResponseFrame, recording latency and success/failure.
func (c *Client) handleRequest(ctx context.Context, rf protocol.RequestFrame) {
	start := time.Now()
	resp, err := c.forward(ctx, rf)
	latency := time.Since(start)

	respFrame := protocol.ResponseFrame{
		Type:      protocol.TypeResponse,
		RequestID: rf.ID,
		SessionID: rf.SessionID,
	}
	if err != nil {
		respFrame.Error = err.Error()
		c.stats.recordRequest(false, latency)
		c.log.Warn().Err(err).Str("requestId", rf.ID).Msg("forward failed")
	} else {
		respFrame.Response = resp
		c.stats.recordRequest(true, latency)
	}

	if werr := c.writeFrame(respFrame); werr != nil {
		c.log.Warn().Err(werr).Str("requestId", rf.ID).Msg("failed to send response frame")
	}
}

// forward replays a RequestFrame against http://localhost:<targetPort> and
// captures the response body, base64-encoding it when it looks binary.
func (c *Client) forward(ctx context.Context, rf protocol.RequestFrame) (*protocol.ResponseBody, error) {
	var body []byte
	if rf.Body != "" {
		if rf.IsBase64 {
			decoded, err := base64.StdEncoding.DecodeString(rf.Body)
			if err != nil {
				return nil, fmt.Errorf("decode request body: %w", err)
			}
			body = decoded
		} else {
			body = []byte(rf.Body)
		}
	}

	targetURL := fmt.Sprintf("http://localhost:%d%s", c.opts.TargetPort, rf.URL)
	req, err := http.NewRequestWithContext(ctx, rf.Method, targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for name, values := range rf.Headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Host = fmt.Sprintf("localhost:%d", c.opts.TargetPort)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024*1024))
	if err != nil {
		return nil, err
	}

	headers := protocol.HeaderMap{}
	for name, values := range resp.Header {
		headers[strings.ToLower(name)] = values
	}

	isBinary := proxy.DetectBinary(resp.Header.Get("Content-Type"), respBody)
	out := &protocol.ResponseBody{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		BodyLength: len(respBody),
		IsBase64:   isBinary,
	}
	if isBinary {
		out.Body = base64.StdEncoding.EncodeToString(respBody)
	} else {
		out.Body = string(respBody)
	}
	return out, nil
}
