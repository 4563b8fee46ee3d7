package router

import (
	"sync"
	"sync/atomic"
	"time"
)

// latencyRingSize bounds how many recent success latencies feed the moving
// average used for scoring.
const latencyRingSize = 32

// EngineStats accumulates live counters for one engine. Counters are atomic
// so concurrent synthesis attempts never contend; the latency ring and last
// error are guarded by a short per-engine mutex.
type EngineStats struct {
	attempts  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64

	mu        sync.Mutex
	latencies [latencyRingSize]time.Duration
	ringLen   int
	ringPos   int
	lastErr   string
	lastErrAt time.Time
}

// recordSuccess counts one successful attempt and pushes its latency into
// the ring.
func (s *EngineStats) recordSuccess(latency time.Duration) {
	s.attempts.Add(1)
	s.successes.Add(1)
	s.mu.Lock()
	s.latencies[s.ringPos] = latency
	s.ringPos = (s.ringPos + 1) % latencyRingSize
	if s.ringLen < latencyRingSize {
		s.ringLen++
	}
	s.mu.Unlock()
}

// recordFailure counts one failed attempt and remembers the error text.
func (s *EngineStats) recordFailure(err error) {
	s.attempts.Add(1)
	s.failures.Add(1)
	s.mu.Lock()
	s.lastErr = err.Error()
	s.lastErrAt = time.Now()
	s.mu.Unlock()
}

// Snapshot returns a consistent copy of the counters and derived rates.
func (s *EngineStats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Attempts:  s.attempts.Load(),
		Successes: s.successes.Load(),
		Failures:  s.failures.Load(),
	}
	if snap.Attempts > 0 {
		snap.SuccessRate = float64(snap.Successes) / float64(snap.Attempts)
	}
	s.mu.Lock()
	if s.ringLen > 0 {
		var total time.Duration
		for i := range s.ringLen {
			total += s.latencies[i]
		}
		snap.AvgLatency = total / time.Duration(s.ringLen)
	}
	snap.LastError = s.lastErr
	snap.LastErrorAt = s.lastErrAt
	s.mu.Unlock()
	return snap
}

// StatsSnapshot is a point-in-time view of one engine's counters. Averages
// are derived at read time, never stored.
type StatsSnapshot struct {
	Attempts  int64 `json:"attempts"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`

	// SuccessRate is successes/attempts, zero when unproven.
	SuccessRate float64 `json:"success_rate"`

	// AvgLatency is the mean over the recent-success latency ring.
	AvgLatency time.Duration `json:"avg_latency"`

	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitzero"`
}

// score folds a snapshot into the router's ordering criterion: the success
// rate minus a latency penalty. The penalty grows linearly and saturates at
// one once the moving average reaches ten seconds, so a fast flaky engine
// can still lose to a slow reliable one.
func (s StatsSnapshot) score() float64 {
	penalty := s.AvgLatency.Seconds() / 10
	if penalty > 1 {
		penalty = 1
	}
	return s.SuccessRate - penalty
}
