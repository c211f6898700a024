// Package signaling implements the P2P Signaling Relay: opaque forwarding
// of WebRTC offer/answer/ICE-candidate frames between a session's developer
// and PM control channels.
package signaling

import (
	"github.com/glamp/wingman-tunnel/internal/connection"
	"github.com/glamp/wingman-tunnel/internal/logger"
	"github.com/glamp/wingman-tunnel/internal/protocol"
)

// Relay forwards signaling frames within a session, rewriting "from" to the
// sender's role. The server never inspects "data".
type Relay struct {
	conns *connection.Registry
}

// New constructs a signaling Relay over the given Connection Registry.
func New(conns *connection.Registry) *Relay {
	return &Relay{conns: conns}
}

// HandleSignal relays an offer/answer/ice-candidate frame from sender's
// role to the opposite role.
func (r *Relay) HandleSignal(sessionID string, sender protocol.Role, frame protocol.P2PSignalFrame) {
	frame.From = sender
	raw, err := protocol.Encode(frame)
	if err != nil {
		logger.Signaling().Error().Err(err).Msg("failed to encode signaling frame")
		return
	}

	var sendErr error
	if sender == protocol.RoleDeveloper {
		sendErr = r.conns.SendToPMs(sessionID, raw)
	} else {
		sendErr = r.conns.SendToDeveloper(sessionID, raw)
	}
	if sendErr != nil {
		logger.Signaling().Debug().Err(sendErr).Str("sessionId", sessionID).Msg("dropped signaling frame, counterpart not connected")
	}
}

// HandleReady records that sender reported p2p:ready; once both sides have,
// this is purely informational (the server is no longer part of the data
// path).
func (r *Relay) HandleReady(sessionID string, sender protocol.Role) bool {
	return r.conns.MarkP2PReady(sessionID, sender)
}

// HandleFailed clears ready bookkeeping and tells the counterpart the
// handshake failed; app traffic continues to use the relay proxy.
func (r *Relay) HandleFailed(sessionID string, sender protocol.Role, reason string) {
	r.conns.ClearP2PReady(sessionID)
	frame := protocol.P2PSignalFrame{Type: protocol.TypeP2PFailed, SessionID: sessionID, From: sender, Reason: reason}
	r.HandleSignal(sessionID, sender, frame)
}

// HandlePeerDisconnected informs the remaining side that its counterpart
// dropped mid-handshake.
func (r *Relay) HandlePeerDisconnected(sessionID string, disconnectedRole protocol.Role) {
	remaining := protocol.RolePM
	if disconnectedRole == protocol.RolePM {
		remaining = protocol.RoleDeveloper
	}
	frame := protocol.P2PSignalFrame{
		Type:      protocol.TypeP2PFailed,
		SessionID: sessionID,
		From:      disconnectedRole,
		Reason:    "peer-disconnected",
	}
	raw, err := protocol.Encode(frame)
	if err != nil {
		return
	}
	var sendErr error
	if remaining == protocol.RoleDeveloper {
		sendErr = r.conns.SendToDeveloper(sessionID, raw)
	} else {
		sendErr = r.conns.SendToPMs(sessionID, raw)
	}
	if sendErr != nil {
		logger.Signaling().Debug().Err(sendErr).Msg("could not notify remaining peer of disconnect")
	}
}
