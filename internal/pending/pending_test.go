package pending

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glamp/wingman-tunnel/internal/protocol"
)

func TestResolveDeliversResponse(t *testing.T) {
	table := New()
	sink, err := table.AddPendingRequest("req-1", "sess-1", time.Second, nil)
	require.NoError(t, err)

	resp := &protocol.ResponseBody{StatusCode: 200}
	table.ResolveRequest("req-1", resp)

	result := <-sink
	require.NoError(t, result.Err)
	assert.Equal(t, 200, result.Response.StatusCode)
	assert.Equal(t, 0, table.GetPendingRequestCount())
}

func TestDuplicateRequestIdRejected(t *testing.T) {
	table := New()
	_, err := table.AddPendingRequest("req-1", "sess-1", time.Second, nil)
	require.NoError(t, err)

	_, err = table.AddPendingRequest("req-1", "sess-1", time.Second, nil)
	require.Error(t, err)
}

func TestResolveUnknownIsNoop(t *testing.T) {
	table := New()
	table.ResolveRequest("does-not-exist", &protocol.ResponseBody{StatusCode: 200})
	assert.Equal(t, 0, table.GetPendingRequestCount())
}

func TestTimeoutFiresOnce(t *testing.T) {
	table := New()
	var timeoutCalls int
	sink, err := table.AddPendingRequest("req-1", "sess-1", 10*time.Millisecond, func(id string, err error) {
		timeoutCalls++
	})
	require.NoError(t, err)

	result := <-sink
	require.Error(t, result.Err)
	assert.Equal(t, 1, timeoutCalls)

	// A late resolve after timeout must be a no-op, not a second delivery.
	table.ResolveRequest("req-1", &protocol.ResponseBody{StatusCode: 200})
	assert.Equal(t, 0, table.GetPendingRequestCount())
}

func TestCancelRequestsForSession(t *testing.T) {
	table := New()
	s1, _ := table.AddPendingRequest("req-1", "sess-1", time.Second, nil)
	s2, _ := table.AddPendingRequest("req-2", "sess-1", time.Second, nil)
	_, _ = table.AddPendingRequest("req-3", "sess-2", time.Second, nil)

	count := table.CancelRequestsForSession("sess-1", assertCancelled())
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, table.GetPendingRequestCount())

	r1 := <-s1
	r2 := <-s2
	assert.Error(t, r1.Err)
	assert.Error(t, r2.Err)
}

func TestCleanupRejectsAll(t *testing.T) {
	table := New()
	sink, _ := table.AddPendingRequest("req-1", "sess-1", time.Second, nil)
	table.Cleanup()
	result := <-sink
	assert.Error(t, result.Err)
	assert.Equal(t, 0, table.GetPendingRequestCount())
}

func assertCancelled() error {
	return &cancelledErr{}
}

type cancelledErr struct{}

func (e *cancelledErr) Error() string { return "developer disconnected" }
