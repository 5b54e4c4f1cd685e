package app

import (
	"context"
	"log"
	"sync"
	"time"

	"testpass-service/internal/domain"
)

// SessionStore abstracts how the live session is mirrored (in-memory, Redis, etc).
// The in-memory Session always wins over the mirror; the mirror has no
// independent authority.
type SessionStore interface {
	Save(ctx context.Context, session domain.Session) error
	Load(ctx context.Context, testID string) (domain.Session, bool, error)
	Clear(ctx context.Context, testID string) error
	// Active returns whichever session is currently persisted, for the
	// navigation guard that keeps a user on their in-progress attempt.
	Active(ctx context.Context) (domain.Session, bool, error)
}

// TestRepository loads test definitions (from cache/backing store).
type TestRepository interface {
	GetTest(ctx context.Context, testID string) (domain.Test, error)
}

// ResumeState describes what Load found for a test.
type ResumeState int

const (
	ResumeNone ResumeState = iota
	ResumeActive
	// ResumeExpired means the stored elapsed time already exceeds the limit;
	// the caller must route straight to auto-submission, not resume answering.
	ResumeExpired
)

// Engine owns the single live session and drives it from start to result.
type Engine struct {
	store     SessionStore
	tests     TestRepository
	scheduler *Scheduler
	grader    *Grader
	now       func() time.Time

	mu        sync.Mutex
	session   *domain.Session
	questions map[string]domain.Question
	finished  bool
	degraded  bool
	grading   uint64
}

func NewEngine(store SessionStore, tests TestRepository, scheduler *Scheduler, grader *Grader) *Engine {
	return NewEngineWithClock(store, tests, scheduler, grader, time.Now)
}

// NewEngineWithClock allows deterministic timestamps in tests.
func NewEngineWithClock(store SessionStore, tests TestRepository, scheduler *Scheduler, grader *Grader, now func() time.Time) *Engine {
	return &Engine{
		store:     store,
		tests:     tests,
		scheduler: scheduler,
		grader:    grader,
		now:       now,
	}
}

// Start builds and installs a new session for the test. Any in-flight grading
// of a previous session is invalidated so a stale result cannot land on top of
// this one.
func (e *Engine) Start(ctx context.Context, testID string, mode domain.SessionMode, cfg BuildConfig) (domain.Session, error) {
	test, err := e.tests.GetTest(ctx, testID)
	if err != nil {
		return domain.Session{}, err
	}

	plan, err := e.scheduler.BuildSession(test, mode, cfg)
	if err != nil {
		return domain.Session{}, err
	}
	if err := validatePlan(plan); err != nil {
		return domain.Session{}, err
	}

	session := domain.Session{
		TestID:           testID,
		Mode:             plan.Mode,
		QuestionIDs:      plan.QuestionIDs,
		Answers:          make(map[string]domain.Answer),
		StartedAt:        e.now(),
		TimeLimitSeconds: plan.TimeLimitSeconds,
		PassThreshold:    plan.PassThreshold,
		Settings:         plan.Settings,
	}

	e.mu.Lock()
	e.grading++
	e.session = &session
	e.questions = questionIndex(test)
	e.finished = false
	e.degraded = false
	e.mu.Unlock()

	e.persist(ctx, session)
	return session, nil
}

// Resume restores a persisted session after a reload. The test definition is
// re-fetched to rebuild the question index; a session whose limit has already
// run out is reported as expired so the caller submits it instead.
func (e *Engine) Resume(ctx context.Context, testID string) (domain.Session, ResumeState, error) {
	stored, ok, err := e.store.Load(ctx, testID)
	if err != nil {
		return domain.Session{}, ResumeNone, err
	}
	if !ok {
		return domain.Session{}, ResumeNone, nil
	}
	if len(stored.QuestionIDs) == 0 {
		// A mirror without a question order cannot drive an attempt; drop it
		// as corrupt instead of installing an unusable session.
		if err := e.store.Clear(ctx, testID); err != nil {
			log.Printf("clear corrupt session mirror for %s: %v", testID, err)
		}
		return domain.Session{}, ResumeNone, nil
	}
	if stored.Answers == nil {
		stored.Answers = make(map[string]domain.Answer)
	}

	test, err := e.tests.GetTest(ctx, testID)
	if err != nil {
		return domain.Session{}, ResumeNone, err
	}

	state := ResumeActive
	if stored.Expired(e.now()) {
		state = ResumeExpired
	}

	e.mu.Lock()
	e.grading++
	e.session = &stored
	e.questions = questionIndex(test)
	e.finished = state == ResumeExpired
	e.degraded = false
	e.mu.Unlock()

	return stored, state, nil
}

// ActiveSession exposes the persisted attempt, if any, for the navigation
// guard: a caller on any other route is redirected back to it.
func (e *Engine) ActiveSession(ctx context.Context) (domain.Session, bool) {
	e.mu.Lock()
	if e.session != nil && !e.finished {
		s := *e.session
		e.mu.Unlock()
		return s, true
	}
	e.mu.Unlock()

	stored, ok, err := e.store.Active(ctx)
	if err != nil {
		return domain.Session{}, false
	}
	return stored, ok
}

// RecordAnswer overwrites any prior answer for the question and mirrors the
// session write-through, so a crash loses at most the in-flight write.
func (e *Engine) RecordAnswer(ctx context.Context, questionID string, answer domain.Answer) error {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return domain.ErrNoActiveSession
	}
	if e.finished {
		e.mu.Unlock()
		return domain.ErrSessionFinished
	}
	e.session.Answers[questionID] = answer
	snapshot := e.session.Clone()
	e.mu.Unlock()

	e.persist(ctx, snapshot)
	return nil
}

// Navigate moves the cursor, clamping out-of-range indexes rather than failing.
func (e *Engine) Navigate(ctx context.Context, index int) error {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return domain.ErrNoActiveSession
	}
	if e.finished {
		e.mu.Unlock()
		return domain.ErrSessionFinished
	}
	if index >= len(e.session.QuestionIDs) {
		index = len(e.session.QuestionIDs) - 1
	}
	if index < 0 {
		index = 0
	}
	e.session.CurrentIndex = index
	snapshot := e.session.Clone()
	e.mu.Unlock()

	e.persist(ctx, snapshot)
	return nil
}

// IsAnswered reports whether the question has a complete answer per its type.
func (e *Engine) IsAnswered(questionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return false
	}
	answer, ok := e.session.Answers[questionID]
	if !ok {
		return false
	}
	question, ok := e.questions[questionID]
	if !ok {
		return false
	}
	return domain.IsAnswerComplete(question, answer)
}

// Current returns a snapshot of the live session.
func (e *Engine) Current() (domain.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return domain.Session{}, false
	}
	return *e.session, true
}

// Question resolves a question from the loaded definition.
func (e *Engine) Question(questionID string) (domain.Question, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.questions[questionID]
	return q, ok
}

// Finish freezes the session for grading; further RecordAnswer/Navigate calls
// fail with ErrSessionFinished.
func (e *Engine) Finish() (domain.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return domain.Session{}, domain.ErrNoActiveSession
	}
	if e.finished {
		return domain.Session{}, domain.ErrSessionFinished
	}
	e.finished = true
	return *e.session, nil
}

// Submit finishes the session (if not already frozen by expiry) and grades it.
// The grading token taken before the evaluator calls go out guards against a
// reset or restart racing the grade: a stale result is dropped, never
// installed over a newer session.
func (e *Engine) Submit(ctx context.Context) (domain.Result, error) {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return domain.Result{}, domain.ErrNoActiveSession
	}
	e.finished = true
	snapshot := e.session.Clone()
	questions := e.questions
	token := e.grading
	e.mu.Unlock()

	result, err := e.grader.Grade(ctx, snapshot, questions)
	if err != nil {
		return domain.Result{}, err
	}

	e.mu.Lock()
	if e.grading != token {
		e.mu.Unlock()
		return domain.Result{}, domain.ErrNoActiveSession
	}
	e.session = nil
	e.questions = nil
	e.finished = false
	e.mu.Unlock()

	if err := e.store.Clear(ctx, snapshot.TestID); err != nil {
		log.Printf("clear session mirror for %s: %v", snapshot.TestID, err)
	}
	return result, nil
}

// Reset drops the active session and its mirror unconditionally and
// invalidates any in-flight grading.
func (e *Engine) Reset(ctx context.Context) {
	e.mu.Lock()
	e.grading++
	var testID string
	if e.session != nil {
		testID = e.session.TestID
	}
	e.session = nil
	e.questions = nil
	e.finished = false
	e.degraded = false
	e.mu.Unlock()

	if testID != "" {
		if err := e.store.Clear(ctx, testID); err != nil {
			log.Printf("clear session mirror for %s: %v", testID, err)
		}
	}
}

// persist mirrors the session write-through. A failing store degrades the
// engine to memory-only for the rest of the attempt instead of blocking the
// user; recorded answers are never discarded.
func (e *Engine) persist(ctx context.Context, session domain.Session) {
	e.mu.Lock()
	degraded := e.degraded
	e.mu.Unlock()
	if degraded {
		return
	}
	if err := e.store.Save(ctx, session); err != nil {
		log.Printf("session mirror unavailable, continuing in memory: %v", err)
		e.mu.Lock()
		e.degraded = true
		e.mu.Unlock()
	}
}

func validatePlan(plan SessionPlan) error {
	if len(plan.QuestionIDs) == 0 {
		return domain.ErrInvalidConfiguration
	}
	if plan.PassThreshold < 1 || plan.PassThreshold > len(plan.QuestionIDs) {
		return domain.ErrInvalidConfiguration
	}
	seen := make(map[string]struct{}, len(plan.QuestionIDs))
	for _, id := range plan.QuestionIDs {
		if _, dup := seen[id]; dup {
			return domain.ErrInvalidConfiguration
		}
		seen[id] = struct{}{}
	}
	return nil
}

func questionIndex(test domain.Test) map[string]domain.Question {
	index := make(map[string]domain.Question, len(test.Questions))
	for _, q := range test.Questions {
		index[q.ID] = q
	}
	return index
}
