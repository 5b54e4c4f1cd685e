package app

import (
	"testing"
	"time"

	"testpass-service/internal/domain"
)

func TestLifecycleExpiresFromWallClock(t *testing.T) {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := started
	l := NewLifecycleWithClock(func() time.Time { return current })

	session := domain.Session{StartedAt: started, TimeLimitSeconds: 60}
	l.Start(session, time.Hour, nil) // no watcher needed, we poll directly

	if l.CurrentState() != StateRunning {
		t.Fatalf("expected running, got %v", l.CurrentState())
	}
	if l.expireIfDue() {
		t.Fatalf("must not expire at start")
	}

	// Even if every tick was missed, elapsed time comes from StartedAt.
	current = started.Add(61 * time.Second)
	if !l.expireIfDue() {
		t.Fatalf("expected expiry at 61s")
	}
	if l.CurrentState() != StateExpired {
		t.Fatalf("expected expired state, got %v", l.CurrentState())
	}
	if l.expireIfDue() {
		t.Fatalf("expiry must fire only once")
	}
}

func TestLifecycleRemaining(t *testing.T) {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := started.Add(20 * time.Second)
	l := NewLifecycleWithClock(func() time.Time { return current })
	l.Start(domain.Session{StartedAt: started, TimeLimitSeconds: 60}, time.Hour, nil)

	if got := l.Remaining(); got != 40*time.Second {
		t.Fatalf("expected 40s remaining, got %v", got)
	}

	current = started.Add(2 * time.Minute)
	if got := l.Remaining(); got != 0 {
		t.Fatalf("remaining must floor at zero, got %v", got)
	}
}

func TestLifecycleSubmitTransition(t *testing.T) {
	l := NewLifecycleWithClock(time.Now)
	if err := l.Submit(); err == nil {
		t.Fatalf("submit before start must fail")
	}

	l.Start(domain.Session{StartedAt: time.Now()}, time.Hour, nil)
	if err := l.Submit(); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if l.CurrentState() != StateSubmitted {
		t.Fatalf("expected submitted, got %v", l.CurrentState())
	}
	if err := l.Submit(); err == nil {
		t.Fatalf("double submit must fail")
	}
	if err := l.Graded(); err != nil {
		t.Fatalf("graded: %v", err)
	}
	if l.CurrentState() != StateGraded {
		t.Fatalf("expected graded, got %v", l.CurrentState())
	}
}

func TestLifecycleExpiryTriggersCallback(t *testing.T) {
	started := time.Now().Add(-2 * time.Minute)
	l := NewLifecycle()

	fired := make(chan struct{})
	l.Start(domain.Session{StartedAt: started, TimeLimitSeconds: 60}, time.Millisecond, func() {
		close(fired)
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("expected expiry callback")
	}
	if l.CurrentState() != StateExpired {
		t.Fatalf("expected expired, got %v", l.CurrentState())
	}
}

func TestLifecycleStopSuspendsWithoutLosingTime(t *testing.T) {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := started
	l := NewLifecycleWithClock(func() time.Time { return current })
	session := domain.Session{StartedAt: started, TimeLimitSeconds: 60}

	l.Start(session, time.Hour, func() {})
	l.Stop()
	if l.CurrentState() != StateRunning {
		t.Fatalf("stop must suspend ticking, not change state, got %v", l.CurrentState())
	}

	// Resume after a long suspension: the countdown reflects real time.
	current = started.Add(90 * time.Second)
	l.Start(session, time.Hour, func() {})
	if !l.expireIfDue() {
		t.Fatalf("suspension must not extend the limit")
	}
}
