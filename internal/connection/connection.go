// Package connection implements the Connection Registry: the live mapping
// from sessionId to its developer control channel and zero-or-more PM
// control channels, plus P2P-availability bookkeeping.
package connection

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/glamp/wingman-tunnel/internal/apperrors"
	"github.com/glamp/wingman-tunnel/internal/logger"
	"github.com/glamp/wingman-tunnel/internal/protocol"
)

// Channel is a live control channel: a bounded outbound queue drained by a
// single writer goroutine owned by the caller (internal/wsserver), so sends
// from any number of goroutines are serialized FIFO without locking here.
type Channel struct {
	ID        string
	Role      protocol.Role
	SessionID string

	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
	onClose   func(reason string)
}

// sendQueueSize bounds the per-channel outbound queue; a full queue yields
// ChannelBackpressure rather than blocking the sender.
const sendQueueSize = 64

// NewChannel constructs a Channel. onClose, if non-nil, is invoked exactly
// once when Close is called, letting the caller's writer goroutine unwind.
func NewChannel(id string, role protocol.Role, sessionID string, onClose func(reason string)) *Channel {
	return &Channel{
		ID:        id,
		Role:      role,
		SessionID: sessionID,
		send:      make(chan []byte, sendQueueSize),
		closed:    make(chan struct{}),
		onClose:   onClose,
	}
}

// Outbound returns the channel a writer goroutine should drain.
func (c *Channel) Outbound() <-chan []byte {
	return c.send
}

// Send enqueues a frame for delivery, non-blocking. Returns Backpressure if
// the queue is full.
func (c *Channel) Send(frame []byte) error {
	select {
	case c.send <- frame:
		return nil
	default:
		return apperrors.Backpressure()
	}
}

// Close terminates the channel exactly once.
func (c *Channel) Close(reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.onClose != nil {
			c.onClose(reason)
		}
	})
}

// Done reports channel closure.
func (c *Channel) Done() <-chan struct{} {
	return c.closed
}

// sessionConnections is the per-session connection state: at most one
// developer channel, zero-or-more PM channels.
type sessionConnections struct {
	developer  *Channel
	pms        map[*Channel]struct{}
	p2pReady   map[protocol.Role]bool
}

// TimeoutNotifier lets the Connection Registry cancel in-flight requests
// when a developer channel is replaced or drops.
type TimeoutNotifier interface {
	CancelRequestsForSession(sessionID string, err error) int
}

// Activator lets the Connection Registry flip a session pending -> active
// and bump lastActivity on developer registration.
type Activator interface {
	TouchActivity(id string, activate bool)
}

// Registry is the Connection Registry. Optionally backed by Redis so a
// multi-replica deployment can answer presence questions consistently; a
// nil redis client means pure in-memory, single-process operation.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*sessionConnections

	pending    TimeoutNotifier
	activator  Activator
	settleWin  time.Duration
	redis      *redis.Client
}

// New constructs a Registry. pending/activator may be nil in tests that do
// not need cancellation/activation side effects.
func New(pending TimeoutNotifier, activator Activator, settleWindow time.Duration, redisClient *redis.Client) *Registry {
	return &Registry{
		sessions:  make(map[string]*sessionConnections),
		pending:   pending,
		activator: activator,
		settleWin: settleWindow,
		redis:     redisClient,
	}
}

func (r *Registry) entry(sessionID string) *sessionConnections {
	sc, ok := r.sessions[sessionID]
	if !ok {
		sc = &sessionConnections{pms: make(map[*Channel]struct{}), p2pReady: make(map[protocol.Role]bool)}
		r.sessions[sessionID] = sc
	}
	return sc
}

// RegisterDeveloper binds ch as the session's developer channel, replacing
// and closing any previous one (which cancels its in-flight requests with
// DeveloperReplaced).
func (r *Registry) RegisterDeveloper(sessionID string, ch *Channel) {
	r.mu.Lock()
	sc := r.entry(sessionID)
	previous := sc.developer
	sc.developer = ch
	bothPresent := len(sc.pms) > 0
	r.mu.Unlock()

	if previous != nil && previous != ch {
		if r.pending != nil {
			r.pending.CancelRequestsForSession(sessionID, apperrors.DeveloperReplaced())
		}
		previous.Close("replaced")
	}
	if r.activator != nil {
		r.activator.TouchActivity(sessionID, true)
	}
	r.setPresence(sessionID, protocol.RoleDeveloper, true)

	if bothPresent {
		r.scheduleInitiateP2P(sessionID)
	}
}

// UnregisterDeveloper drops the developer mapping and cancels every pending
// request for the session with DeveloperDisconnected.
func (r *Registry) UnregisterDeveloper(sessionID string) {
	r.mu.Lock()
	sc, ok := r.sessions[sessionID]
	if ok && sc.developer != nil {
		sc.developer = nil
	}
	r.mu.Unlock()

	if ok && r.pending != nil {
		r.pending.CancelRequestsForSession(sessionID, apperrors.DeveloperDisconnected())
	}
	r.setPresence(sessionID, protocol.RoleDeveloper, false)
}

// RegisterPM adds ch to the session's PM set.
func (r *Registry) RegisterPM(sessionID string, ch *Channel) {
	r.mu.Lock()
	sc := r.entry(sessionID)
	sc.pms[ch] = struct{}{}
	developerPresent := sc.developer != nil
	r.mu.Unlock()

	r.setPresence(sessionID, protocol.RolePM, true)

	if developerPresent {
		r.scheduleInitiateP2P(sessionID)
	}
}

// UnregisterPM removes ch from the session's PM set. If a developer is
// connected, it is sent p2p:failed with reason "peer-disconnected".
func (r *Registry) UnregisterPM(sessionID string, ch *Channel) {
	r.mu.Lock()
	sc, ok := r.sessions[sessionID]
	var developer *Channel
	var lastPM bool
	if ok {
		delete(sc.pms, ch)
		developer = sc.developer
		lastPM = len(sc.pms) == 0
	}
	r.mu.Unlock()

	if lastPM {
		r.setPresence(sessionID, protocol.RolePM, false)
	}
	if developer != nil {
		frame := protocol.P2PSignalFrame{Type: protocol.TypeP2PFailed, SessionID: sessionID, From: protocol.RolePM, Reason: "peer-disconnected"}
		r.sendFrame(developer, frame)
	}
}

// IsP2PAvailable reports whether both a developer and at least one PM are
// currently registered for sessionID, consulting Redis for the side that
// isn't held by this replica when multi-replica mode is enabled.
func (r *Registry) IsP2PAvailable(sessionID string) bool {
	r.mu.Lock()
	sc, ok := r.sessions[sessionID]
	var localDeveloper, localPM bool
	if ok {
		localDeveloper = sc.developer != nil
		localPM = len(sc.pms) > 0
	}
	r.mu.Unlock()

	return r.rolePresent(sessionID, protocol.RoleDeveloper, localDeveloper) &&
		r.rolePresent(sessionID, protocol.RolePM, localPM)
}

// scheduleInitiateP2P fires initiateP2P after the settle window, giving the
// newly-registered side time to finish post-registration work.
func (r *Registry) scheduleInitiateP2P(sessionID string) {
	time.AfterFunc(r.settleWin, func() {
		r.initiateP2P(sessionID)
	})
}

func (r *Registry) initiateP2P(sessionID string) {
	r.mu.Lock()
	sc, ok := r.sessions[sessionID]
	if !ok || sc.developer == nil || len(sc.pms) == 0 {
		r.mu.Unlock()
		return
	}
	developer := sc.developer
	var pms []*Channel
	for pm := range sc.pms {
		pms = append(pms, pm)
	}
	r.mu.Unlock()

	r.sendFrame(developer, protocol.P2PInitiateFrame{Type: protocol.TypeP2PInitiate, SessionID: sessionID, Role: protocol.RoleDeveloper})
	for _, pm := range pms {
		r.sendFrame(pm, protocol.P2PInitiateFrame{Type: protocol.TypeP2PInitiate, SessionID: sessionID, Role: protocol.RolePM})
	}
}

// SendToDeveloper delivers frame to the session's developer channel.
func (r *Registry) SendToDeveloper(sessionID string, frame []byte) error {
	r.mu.Lock()
	sc, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok || sc.developer == nil {
		return apperrors.NotConnected("developer")
	}
	return sc.developer.Send(frame)
}

// SendToPMs delivers frame to every registered PM channel for the session.
func (r *Registry) SendToPMs(sessionID string, frame []byte) error {
	r.mu.Lock()
	sc, ok := r.sessions[sessionID]
	var pms []*Channel
	if ok {
		for pm := range sc.pms {
			pms = append(pms, pm)
		}
	}
	r.mu.Unlock()
	if !ok || len(pms) == 0 {
		return apperrors.NotConnected("pm")
	}
	for _, pm := range pms {
		_ = pm.Send(frame)
	}
	return nil
}

// MarkP2PReady records that role reported p2p:ready for sessionID, and
// reports whether both sides have now done so (informational only — the
// server is not otherwise involved in the data channel).
func (r *Registry) MarkP2PReady(sessionID string, role protocol.Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	sc.p2pReady[role] = true
	return sc.p2pReady[protocol.RoleDeveloper] && sc.p2pReady[protocol.RolePM]
}

// ClearP2PReady resets ready bookkeeping for sessionID, used when either
// side reports p2p:failed.
func (r *Registry) ClearP2PReady(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sc, ok := r.sessions[sessionID]; ok {
		sc.p2pReady = make(map[protocol.Role]bool)
	}
}

// DeveloperChannel returns the current developer channel, or nil.
func (r *Registry) DeveloperChannel(sessionID string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	return sc.developer
}

func (r *Registry) sendFrame(ch *Channel, frame interface{}) {
	raw, err := protocol.Encode(frame)
	if err != nil {
		logger.Tunnel().Error().Err(err).Msg("failed to encode control frame")
		return
	}
	if err := ch.Send(raw); err != nil {
		logger.Tunnel().Warn().Err(err).Str("channelId", ch.ID).Msg("dropped frame, channel backpressure")
	}
}

// setPresence optionally mirrors connection presence into Redis so other
// replicas can answer coarse-grained "is a developer connected" questions.
// Actual frame delivery never crosses replicas; only presence metadata does.
func (r *Registry) setPresence(sessionID string, role protocol.Role, present bool) {
	if r.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := presenceKey(sessionID, role)
	if present {
		if err := r.redis.Set(ctx, key, 1, 90*time.Second).Err(); err != nil {
			logger.Tunnel().Warn().Err(err).Msg("failed to set redis presence")
		}
	} else {
		if err := r.redis.Del(ctx, key).Err(); err != nil {
			logger.Tunnel().Warn().Err(err).Msg("failed to clear redis presence")
		}
	}
}

// rolePresent reports whether role is present for sessionID. If this
// replica holds the connection locally that settles it; otherwise, when
// Redis is configured, the mirrored key is consulted so a PM on one
// replica and a developer on another still resolve as available.
func (r *Registry) rolePresent(sessionID string, role protocol.Role, local bool) bool {
	if local || r.redis == nil {
		return local
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	n, err := r.redis.Exists(ctx, presenceKey(sessionID, role)).Result()
	if err != nil {
		logger.Tunnel().Warn().Err(err).Msg("failed to read redis presence")
		return false
	}
	return n > 0
}

func presenceKey(sessionID string, role protocol.Role) string {
	return "wingman:presence:" + sessionID + ":" + string(role)
}
