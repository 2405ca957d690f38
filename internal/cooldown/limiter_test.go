package cooldown

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()

	logger, _ := logtest.NewNullLogger()
	return NewLimiter(time.Hour, logrus.NewEntry(logger))
}

func TestFirstRequestIsAllowed(t *testing.T) {
	limiter := newTestLimiter(t)
	now := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

	allowed, remaining := limiter.CheckAndConsume("U1", now)
	if !allowed {
		t.Fatalf("expected first request to be allowed")
	}
	if remaining != 0 {
		t.Fatalf("expected no remaining time, got %v", remaining)
	}
}

func TestSecondRequestWithinWindowIsDenied(t *testing.T) {
	limiter := newTestLimiter(t)
	start := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

	if allowed, _ := limiter.CheckAndConsume("U1", start); !allowed {
		t.Fatalf("expected first request to be allowed")
	}

	allowed, remaining := limiter.CheckAndConsume("U1", start.Add(30*time.Minute))
	if allowed {
		t.Fatalf("expected request at +30m to be denied")
	}
	if remaining != 30*time.Minute {
		t.Fatalf("expected 30m remaining, got %v", remaining)
	}
}

func TestRequestAfterWindowIsAllowed(t *testing.T) {
	limiter := newTestLimiter(t)
	start := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

	limiter.CheckAndConsume("U1", start)

	allowed, _ := limiter.CheckAndConsume("U1", start.Add(61*time.Minute))
	if !allowed {
		t.Fatalf("expected request at +61m to be allowed")
	}

	// The allowance was consumed again, so the window restarts.
	if allowed, _ := limiter.CheckAndConsume("U1", start.Add(62*time.Minute)); allowed {
		t.Fatalf("expected request right after renewal to be denied")
	}
}

func TestDeniedRequestDoesNotExtendWindow(t *testing.T) {
	limiter := newTestLimiter(t)
	start := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

	limiter.CheckAndConsume("U1", start)
	limiter.CheckAndConsume("U1", start.Add(30*time.Minute)) // denied

	allowed, _ := limiter.CheckAndConsume("U1", start.Add(61*time.Minute))
	if !allowed {
		t.Fatalf("expected denial at +30m to not push the window past +60m")
	}
}

func TestUsersAreIndependent(t *testing.T) {
	limiter := newTestLimiter(t)
	now := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

	limiter.CheckAndConsume("U1", now)

	if allowed, _ := limiter.CheckAndConsume("U2", now); !allowed {
		t.Fatalf("expected U2 to be unaffected by U1's cooldown")
	}
}

func TestSweepEvictsOnlyExpiredEntries(t *testing.T) {
	limiter := newTestLimiter(t)
	start := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

	limiter.CheckAndConsume("Uold", start)
	limiter.CheckAndConsume("Unew", start.Add(50*time.Minute))

	removed := limiter.Sweep(start.Add(70 * time.Minute))
	if removed != 1 {
		t.Fatalf("expected exactly one eviction, got %d", removed)
	}
	if limiter.Len() != 1 {
		t.Fatalf("expected one tracked entry after sweep, got %d", limiter.Len())
	}

	// An evicted entry behaves as if it never existed.
	if allowed, _ := limiter.CheckAndConsume("Uold", start.Add(71*time.Minute)); !allowed {
		t.Fatalf("expected evicted user to be allowed again")
	}
}
