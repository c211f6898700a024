package tunnelclient

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats holds the developer-side observability counters named in the
// tunnel client's design: totals, latency, connection count and last error.
type Stats struct {
	totalRequests      int64
	successfulRequests int64
	failedRequests     int64
	totalLatencyMs     int64
	connectionCount    int64

	mu        sync.Mutex
	lastError string
}

func (s *Stats) recordRequest(success bool, latency time.Duration) {
	atomic.AddInt64(&s.totalRequests, 1)
	atomic.AddInt64(&s.totalLatencyMs, latency.Milliseconds())
	if success {
		atomic.AddInt64(&s.successfulRequests, 1)
	} else {
		atomic.AddInt64(&s.failedRequests, 1)
	}
}

func (s *Stats) recordConnection() {
	atomic.AddInt64(&s.connectionCount, 1)
}

func (s *Stats) recordError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

// Snapshot is a point-in-time, safe-to-print copy of Stats.
type Snapshot struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	AverageLatencyMs    float64
	ConnectionCount    int64
	LastError          string
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Snapshot {
	total := atomic.LoadInt64(&s.totalRequests)
	avg := 0.0
	if total > 0 {
		avg = float64(atomic.LoadInt64(&s.totalLatencyMs)) / float64(total)
	}
	s.mu.Lock()
	lastErr := s.lastError
	s.mu.Unlock()
	return Snapshot{
		TotalRequests:      total,
		SuccessfulRequests: atomic.LoadInt64(&s.successfulRequests),
		FailedRequests:     atomic.LoadInt64(&s.failedRequests),
		AverageLatencyMs:   avg,
		ConnectionCount:    atomic.LoadInt64(&s.connectionCount),
		LastError:          lastErr,
	}
}
