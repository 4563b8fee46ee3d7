package bot

import (
	"sync/atomic"
	"time"
)

// Stats collects orchestrator counters. All fields are updated atomically;
// derived values (averages, rates) are computed on read.
type Stats struct {
	started atomic.Int64 // unix nanos

	messagesProcessed atomic.Int64
	ttsRequests       atomic.Int64
	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
	voicesSent        atomic.Int64
	synthFailures     atomic.Int64
	rateLimited       atomic.Int64
	synthTotalMillis  atomic.Int64
	synthCount        atomic.Int64
}

// NewStats returns a Stats with the uptime clock started.
func NewStats() *Stats {
	s := &Stats{}
	s.started.Store(time.Now().UnixNano())
	return s
}

// Snapshot is a point-in-time read of the counters with derived values.
type Snapshot struct {
	Uptime            time.Duration `json:"uptime"`
	MessagesProcessed int64         `json:"messages_processed"`
	TTSRequests       int64         `json:"tts_requests"`
	CacheHits         int64         `json:"cache_hits"`
	CacheMisses       int64         `json:"cache_misses"`
	CacheHitRate      float64       `json:"cache_hit_rate"`
	VoicesSent        int64         `json:"voices_sent"`
	SynthFailures     int64         `json:"synth_failures"`
	RateLimited       int64         `json:"rate_limited"`
	AvgSynthesis      time.Duration `json:"avg_synthesis"`
}

// Snapshot computes the derived values from the raw counters.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Uptime:            time.Since(time.Unix(0, s.started.Load())),
		MessagesProcessed: s.messagesProcessed.Load(),
		TTSRequests:       s.ttsRequests.Load(),
		CacheHits:         s.cacheHits.Load(),
		CacheMisses:       s.cacheMisses.Load(),
		VoicesSent:        s.voicesSent.Load(),
		SynthFailures:     s.synthFailures.Load(),
		RateLimited:       s.rateLimited.Load(),
	}
	if lookups := snap.CacheHits + snap.CacheMisses; lookups > 0 {
		snap.CacheHitRate = float64(snap.CacheHits) / float64(lookups)
	}
	if n := s.synthCount.Load(); n > 0 {
		snap.AvgSynthesis = time.Duration(s.synthTotalMillis.Load()/n) * time.Millisecond
	}
	return snap
}

// Reset zeroes every counter and restarts the uptime clock.
func (s *Stats) Reset() {
	s.started.Store(time.Now().UnixNano())
	s.messagesProcessed.Store(0)
	s.ttsRequests.Store(0)
	s.cacheHits.Store(0)
	s.cacheMisses.Store(0)
	s.voicesSent.Store(0)
	s.synthFailures.Store(0)
	s.rateLimited.Store(0)
	s.synthTotalMillis.Store(0)
	s.synthCount.Store(0)
}

func (s *Stats) recordSynthesis(d time.Duration) {
	s.synthTotalMillis.Add(d.Milliseconds())
	s.synthCount.Add(1)
}
