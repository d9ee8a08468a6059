package signal

import (
	"sync"
	"time"

	"github.com/dkeye/jamroom/internal/domain"
)

// JoinLimiter caps websocket connects per client token over a sliding window.
// Frame rate inside a connection is limited separately by readPump.
type JoinLimiter struct {
	mu       sync.Mutex
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewJoinLimiter(limit int, interval time.Duration) *JoinLimiter {
	return &JoinLimiter{
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records an attempt for uid. An empty uid or a non-positive limit
// always passes.
func (rl *JoinLimiter) Allow(uid domain.UserID) bool {
	if rl == nil || rl.limit <= 0 || uid == "" {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[uid]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[uid] = fresh
		return false
	}
	rl.history[uid] = append(fresh, now)
	rl.gc(windowStart)
	return true
}

// Refund drops the latest attempt for uid, for a connect that never got upgraded.
func (rl *JoinLimiter) Refund(uid domain.UserID) {
	if rl == nil || rl.limit <= 0 || uid == "" {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	ts := rl.history[uid]
	switch len(ts) {
	case 0:
	case 1:
		delete(rl.history, uid)
	default:
		rl.history[uid] = ts[:len(ts)-1]
	}
}

// gc forgets tokens with no attempt inside the window.
func (rl *JoinLimiter) gc(windowStart time.Time) {
	for uid, ts := range rl.history {
		if len(ts) == 0 || !ts[len(ts)-1].After(windowStart) {
			delete(rl.history, uid)
		}
	}
}
