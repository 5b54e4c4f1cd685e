package app

import (
	"sync"
	"time"

	"testpass-service/internal/domain"
)

// State is the lifecycle phase of an attempt.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateSubmitted  State = "submitted"
	StateExpired    State = "expired"
	StateGraded     State = "graded"
)

// Lifecycle drives the countdown for one attempt: NotStarted -> Running ->
// {Submitted, Expired} -> Graded. Elapsed time always comes from the session's
// StartedAt wall clock, so suspended or missed ticks cannot stretch the limit.
type Lifecycle struct {
	now func() time.Time

	mu      sync.Mutex
	state   State
	session domain.Session
	stop    chan struct{}
}

func NewLifecycle() *Lifecycle {
	return NewLifecycleWithClock(time.Now)
}

// NewLifecycleWithClock allows deterministic countdowns in tests.
func NewLifecycleWithClock(now func() time.Time) *Lifecycle {
	return &Lifecycle{now: now, state: StateNotStarted}
}

// Start begins ticking for the session. onExpire fires exactly once, from its
// own goroutine, when a configured limit runs out; sessions without a limit
// never expire.
func (l *Lifecycle) Start(session domain.Session, interval time.Duration, onExpire func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateNotStarted && l.state != StateRunning {
		return
	}
	if l.stop != nil {
		return
	}
	l.state = StateRunning
	l.session = session

	if session.TimeLimitSeconds <= 0 || onExpire == nil {
		return
	}
	stop := make(chan struct{})
	l.stop = stop
	go l.watch(interval, stop, onExpire)
}

func (l *Lifecycle) watch(interval time.Duration, stop chan struct{}, onExpire func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if l.expireIfDue() {
				onExpire()
				return
			}
		}
	}
}

// expireIfDue checks the wall clock against the limit and transitions to
// Expired when it has run out.
func (l *Lifecycle) expireIfDue() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateRunning {
		return false
	}
	if !l.session.Expired(l.now()) {
		return false
	}
	l.state = StateExpired
	l.stopLocked()
	return true
}

// Remaining reports the time left, zero when no limit is configured or the
// limit has passed.
func (l *Lifecycle) Remaining() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session.TimeLimitSeconds <= 0 {
		return 0
	}
	left := time.Duration(l.session.TimeLimitSeconds)*time.Second - l.session.Elapsed(l.now())
	if left < 0 {
		return 0
	}
	return left
}

// Submit records an explicit user submission; it stops the countdown.
func (l *Lifecycle) Submit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateRunning {
		return domain.ErrSessionFinished
	}
	l.state = StateSubmitted
	l.stopLocked()
	return nil
}

// Graded marks the result as delivered.
func (l *Lifecycle) Graded() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateSubmitted && l.state != StateExpired {
		return domain.ErrNoActiveSession
	}
	l.state = StateGraded
	return nil
}

// Stop suspends ticking without changing state; a later Start resumes the
// countdown with no loss of accuracy because the clock source is StartedAt.
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
}

func (l *Lifecycle) stopLocked() {
	if l.stop != nil {
		close(l.stop)
		l.stop = nil
	}
}

// CurrentState returns the lifecycle phase.
func (l *Lifecycle) CurrentState() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
