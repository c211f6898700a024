// Package pending implements the Pending-Request Table: correlating
// in-flight public HTTP requests with the developer response that will
// eventually resolve them, via a one-shot channel per request id.
package pending

import (
	"sync"
	"time"

	"github.com/glamp/wingman-tunnel/internal/apperrors"
	"github.com/glamp/wingman-tunnel/internal/logger"
	"github.com/glamp/wingman-tunnel/internal/protocol"
)

// Result is delivered exactly once on a pending request's sink.
type Result struct {
	Response *protocol.ResponseBody
	Err      error
}

type entry struct {
	sessionID string
	sink      chan Result
	timer     *time.Timer
	done      bool
}

// Table owns every in-flight request's one-shot sink and timeout timer.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New constructs an empty Table.
func New() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// AddPendingRequest registers requestId and returns a channel that will
// receive exactly one Result. onTimeout, if non-nil, is invoked once when
// the timeout fires, before the timeout rejection is observable on the
// returned channel. Returns an error if requestId is already pending.
func (t *Table) AddPendingRequest(requestID, sessionID string, timeout time.Duration, onTimeout func(id string, err error)) (<-chan Result, error) {
	t.mu.Lock()
	if _, exists := t.entries[requestID]; exists {
		t.mu.Unlock()
		return nil, apperrors.DuplicateRequestID(requestID)
	}

	e := &entry{sessionID: sessionID, sink: make(chan Result, 1)}
	t.entries[requestID] = e
	e.timer = time.AfterFunc(timeout, func() {
		err := apperrors.Timeout(requestID, timeout.Milliseconds())
		if onTimeout != nil {
			onTimeout(requestID, err)
		}
		t.complete(requestID, Result{Err: err})
	})
	t.mu.Unlock()

	return e.sink, nil
}

// ResolveRequest delivers a successful response. Unknown ids are dropped
// silently (a late or spurious response), matching the no-double-delivery
// invariant.
func (t *Table) ResolveRequest(requestID string, response *protocol.ResponseBody) {
	if !t.complete(requestID, Result{Response: response}) {
		logger.Tunnel().Debug().Str("requestId", requestID).Msg("dropped response for unknown request id")
	}
}

// RejectRequest completes the future with an error.
func (t *Table) RejectRequest(requestID string, err error) {
	t.complete(requestID, Result{Err: err})
}

// CancelRequest rejects requestID with Cancelled, returning whether an
// entry existed.
func (t *Table) CancelRequest(requestID string) bool {
	return t.complete(requestID, Result{Err: apperrors.Cancelled()})
}

// CancelRequestsForSession bulk-cancels every pending request belonging to
// sessionID, used when a developer channel drops or a session expires.
func (t *Table) CancelRequestsForSession(sessionID string, err error) int {
	t.mu.Lock()
	var ids []string
	for id, e := range t.entries {
		if e.sessionID == sessionID {
			ids = append(ids, id)
		}
	}
	t.mu.Unlock()

	count := 0
	for _, id := range ids {
		if t.complete(id, Result{Err: err}) {
			count++
		}
	}
	return count
}

// GetPendingRequestCount returns the number of in-flight requests.
func (t *Table) GetPendingRequestCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Cleanup rejects every outstanding entry with Cancelled, used on shutdown.
func (t *Table) Cleanup() {
	t.mu.Lock()
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		t.complete(id, Result{Err: apperrors.Cancelled()})
	}
}

// complete is the single point through which every entry terminates:
// removal from the map, timer cancellation and sink delivery all happen
// here exactly once, guaranteeing the no-double-delivery invariant.
func (t *Table) complete(requestID string, result Result) bool {
	t.mu.Lock()
	e, ok := t.entries[requestID]
	if !ok || e.done {
		t.mu.Unlock()
		return false
	}
	e.done = true
	delete(t.entries, requestID)
	t.mu.Unlock()

	e.timer.Stop()
	e.sink <- result
	close(e.sink)
	return true
}
