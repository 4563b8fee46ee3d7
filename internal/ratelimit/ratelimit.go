// Package ratelimit gates TTS requests per Telegram user with token
// buckets: a configurable request budget per minute with a small burst.
// Exempting privileged users is the caller's concern.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config bounds the limiter.
type Config struct {
	// Enabled turns the limiter on. When false, Allow always permits.
	Enabled bool

	// PerMinute is the sustained request budget per user per minute.
	PerMinute int

	// Burst is the instantaneous budget. Zero defaults to PerMinute.
	Burst int
}

type userBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks one token bucket per user. Safe for concurrent use.
// Idle buckets are pruned so one-message drive-by users do not accumulate.
type Limiter struct {
	cfg Config

	mu    sync.Mutex
	users map[int64]*userBucket
}

// New returns a Limiter for cfg.
func New(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.PerMinute
	}
	return &Limiter{cfg: cfg, users: make(map[int64]*userBucket)}
}

// Allow reports whether userID may proceed now. When denied, retryAfter is
// the wait until the next token becomes available.
func (l *Limiter) Allow(userID int64) (ok bool, retryAfter time.Duration) {
	if !l.cfg.Enabled || l.cfg.PerMinute <= 0 {
		return true, 0
	}
	l.mu.Lock()
	bucket, found := l.users[userID]
	if !found {
		bucket = &userBucket{
			lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.cfg.PerMinute)), l.cfg.Burst),
		}
		l.users[userID] = bucket
	}
	bucket.lastSeen = time.Now()
	l.mu.Unlock()

	res := bucket.lim.Reserve()
	if !res.OK() {
		return false, time.Minute
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}

// Prune drops buckets idle for longer than maxIdle and returns how many
// were removed. Call it periodically from the orchestrator's housekeeping.
func (l *Limiter) Prune(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	cutoff := time.Now().Add(-maxIdle)
	for id, bucket := range l.users {
		if bucket.lastSeen.Before(cutoff) {
			delete(l.users, id)
			removed++
		}
	}
	return removed
}

// Tracked returns how many users currently hold a bucket.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}
