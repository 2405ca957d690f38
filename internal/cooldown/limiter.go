// Package cooldown throttles self-service verification requests per user.
package cooldown

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"line_otp_bot/internal/logging"
)

const (
	// Window is the minimum interval between accepted self-service requests
	// from the same user.
	Window = time.Hour

	// sweepInterval is how often idle entries are evicted. Eviction is memory
	// hygiene only: an entry idle for a full window has fully refilled, so
	// dropping it cannot change any outcome.
	sweepInterval = 5 * time.Minute
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks per-user request allowances over a fixed window. Check and
// consume are a single atomic step under the mutex so two rapid requests from
// the same user can never both pass.
type Limiter struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]*entry
	logger  *logrus.Entry
}

// NewLimiter constructs a Limiter with the given window.
func NewLimiter(window time.Duration, logger *logrus.Entry) *Limiter {
	if window <= 0 {
		window = Window
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Limiter{
		window:  window,
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// CheckAndConsume reports whether a request from userID at now is allowed.
// When allowed, the user's allowance is consumed; when denied, remaining is
// the time left before the next request would pass.
func (l *Limiter) CheckAndConsume(userID string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[userID]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Every(l.window), 1)}
		l.entries[userID] = e
	}
	e.lastSeen = now

	reservation := e.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}

	return true, 0
}

// Sweep evicts entries last touched more than a window ago and returns how
// many were removed.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for userID, e := range l.entries {
		if now.Sub(e.lastSeen) > l.window {
			delete(l.entries, userID)
			removed++
		}
	}

	return removed
}

// Run sweeps periodically until the context is canceled.
func (l *Limiter) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := l.Sweep(now); removed > 0 {
				l.logger.WithFields(logging.Fields{
					"event":   "cooldown_sweep",
					"removed": removed,
				}).Debug("evicted expired cooldown entries")
			}
		}
	}
}

// Len reports the number of tracked entries; used for diagnostics and tests.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
