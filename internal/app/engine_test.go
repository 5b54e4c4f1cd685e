package app_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"testpass-service/internal/app"
	"testpass-service/internal/domain"
	"testpass-service/internal/infra/memory"
)

func TestStartRejectsDuplicateQuestionIDs(t *testing.T) {
	test := testWithQuestions(3)
	test.Questions = append(test.Questions, test.Questions[0])
	engine := newTestEngine(t, test, nil)

	_, err := engine.Start(context.Background(), "test-1", domain.ModeFull, app.BuildConfig{})
	if !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
}

func TestRecordAnswerIsWriteThroughAndIdempotent(t *testing.T) {
	store := &spyStore{inner: memory.NewSessionStore()}
	engine := newTestEngine(t, testWithQuestions(3), store)

	if _, err := engine.Start(context.Background(), "test-1", domain.ModeFull, app.BuildConfig{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	savesAfterStart := store.saves

	answer := domain.Answer{SelectedOptions: []int{0}}
	if err := engine.RecordAnswer(context.Background(), "q0", answer); err != nil {
		t.Fatalf("record: %v", err)
	}
	if store.saves != savesAfterStart+1 {
		t.Fatalf("expected write-through save, saves=%d", store.saves)
	}
	first, _ := engine.Current()

	if err := engine.RecordAnswer(context.Background(), "q0", answer); err != nil {
		t.Fatalf("record again: %v", err)
	}
	second, _ := engine.Current()
	if !reflect.DeepEqual(first.Answers, second.Answers) {
		t.Fatalf("recording the same answer twice changed state: %+v vs %+v", first.Answers, second.Answers)
	}
	if !reflect.DeepEqual(store.last.Answers, second.Answers) {
		t.Fatalf("mirror diverged from session: %+v vs %+v", store.last.Answers, second.Answers)
	}
}

func TestRecordAnswerOverwrites(t *testing.T) {
	engine := newTestEngine(t, testWithQuestions(2), nil)
	if _, err := engine.Start(context.Background(), "test-1", domain.ModeFull, app.BuildConfig{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	_ = engine.RecordAnswer(context.Background(), "q0", domain.Answer{SelectedOptions: []int{0}})
	_ = engine.RecordAnswer(context.Background(), "q0", domain.Answer{SelectedOptions: []int{1}})

	session, _ := engine.Current()
	if got := session.Answers["q0"].SelectedOptions; len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected overwrite to [1], got %v", got)
	}
}

func TestNavigateClampsOutOfRange(t *testing.T) {
	engine := newTestEngine(t, testWithQuestions(3), nil)
	if _, err := engine.Start(context.Background(), "test-1", domain.ModeFull, app.BuildConfig{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := engine.Navigate(context.Background(), 99); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	session, _ := engine.Current()
	if session.CurrentIndex != 2 {
		t.Fatalf("expected clamp to last index 2, got %d", session.CurrentIndex)
	}

	if err := engine.Navigate(context.Background(), -5); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	session, _ = engine.Current()
	if session.CurrentIndex != 0 {
		t.Fatalf("expected clamp to 0, got %d", session.CurrentIndex)
	}
}

func TestFinishFreezesSession(t *testing.T) {
	engine := newTestEngine(t, testWithQuestions(2), nil)
	if _, err := engine.Start(context.Background(), "test-1", domain.ModeFull, app.BuildConfig{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := engine.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}

	if err := engine.RecordAnswer(context.Background(), "q0", domain.Answer{SelectedOptions: []int{0}}); !errors.Is(err, domain.ErrSessionFinished) {
		t.Fatalf("expected finished error on record, got %v", err)
	}
	if err := engine.Navigate(context.Background(), 1); !errors.Is(err, domain.ErrSessionFinished) {
		t.Fatalf("expected finished error on navigate, got %v", err)
	}
	if _, err := engine.Finish(); !errors.Is(err, domain.ErrSessionFinished) {
		t.Fatalf("expected finished error on double finish, got %v", err)
	}
}

func TestSubmitClearsSessionAndMirror(t *testing.T) {
	store := &spyStore{inner: memory.NewSessionStore()}
	engine := newTestEngine(t, testWithQuestions(2), store)
	if _, err := engine.Start(context.Background(), "test-1", domain.ModeFull, app.BuildConfig{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = engine.RecordAnswer(context.Background(), "q0", domain.Answer{SelectedOptions: []int{0}})

	result, err := engine.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.TotalQuestions != 2 || result.CorrectAnswers != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	if _, ok := engine.Current(); ok {
		t.Fatalf("expected session cleared after submit")
	}
	if _, ok, _ := store.inner.Load(context.Background(), "test-1"); ok {
		t.Fatalf("expected mirror cleared after submit")
	}
}

func TestResetInvalidatesInFlightGrading(t *testing.T) {
	release := make(chan struct{})
	eval := &blockingEvaluator{started: make(chan struct{}), release: release}
	store := memory.NewSessionStore()
	tests := memory.NewTestRepository(memory.NewStaticTestLoader(map[string]domain.Test{
		"test-1": testWithFullAnswer(),
	}), time.Minute)
	engine := app.NewEngine(store, tests, app.NewScheduler(), app.NewGrader(eval, app.DefaultPassLine))

	if _, err := engine.Start(context.Background(), "test-1", domain.ModeFull, app.BuildConfig{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = engine.RecordAnswer(context.Background(), "q1", domain.Answer{Text: "essay"})

	type graded struct {
		result domain.Result
		err    error
	}
	outcome := make(chan graded, 1)
	go func() {
		result, err := engine.Submit(context.Background())
		outcome <- graded{result, err}
	}()

	<-eval.started
	engine.Reset(context.Background())
	close(release)

	got := <-outcome
	if !errors.Is(got.err, domain.ErrNoActiveSession) {
		t.Fatalf("stale grade must be dropped after reset, got result=%+v err=%v", got.result, got.err)
	}
}

func TestExpiredSessionGradesRecordedAnswers(t *testing.T) {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := started
	clock := func() time.Time { return current }

	test := testWithQuestions(5)
	test.TimeLimitSeconds = 60
	store := memory.NewSessionStore()
	tests := memory.NewTestRepository(memory.NewStaticTestLoader(map[string]domain.Test{"test-1": test}), time.Minute)
	grader := app.NewGraderWithClock(&fixedEvaluator{}, app.DefaultPassLine, clock)
	engine := app.NewEngineWithClock(store, tests, app.NewScheduler(), grader, clock)

	if _, err := engine.Start(context.Background(), "test-1", domain.ModeFull, app.BuildConfig{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("q%d", i)
		if err := engine.RecordAnswer(context.Background(), id, domain.Answer{SelectedOptions: []int{0}}); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}

	current = started.Add(61 * time.Second)
	session, _ := engine.Current()
	if !session.Expired(current) {
		t.Fatalf("expected session expired at 61s")
	}

	result, err := engine.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.TotalQuestions != 5 || result.CorrectAnswers != 3 {
		t.Fatalf("expected 3 of 5 correct, got %+v", result)
	}
	if result.TimeSpentSeconds != 60 {
		t.Fatalf("time spent should cap at the limit, got %d", result.TimeSpentSeconds)
	}
}

func TestResumeReportsExpiredSessions(t *testing.T) {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := started
	clock := func() time.Time { return current }

	test := testWithQuestions(2)
	test.TimeLimitSeconds = 60
	store := memory.NewSessionStore()
	tests := memory.NewTestRepository(memory.NewStaticTestLoader(map[string]domain.Test{"test-1": test}), time.Minute)
	grader := app.NewGraderWithClock(&fixedEvaluator{}, app.DefaultPassLine, clock)
	engine := app.NewEngineWithClock(store, tests, app.NewScheduler(), grader, clock)

	if _, err := engine.Start(context.Background(), "test-1", domain.ModeFull, app.BuildConfig{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = engine.RecordAnswer(context.Background(), "q0", domain.Answer{SelectedOptions: []int{0}})

	// A fresh engine simulates a reload.
	reloaded := app.NewEngineWithClock(store, tests, app.NewScheduler(), grader, clock)
	session, state, err := reloaded.Resume(context.Background(), "test-1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if state != app.ResumeActive {
		t.Fatalf("expected active resume, got %v", state)
	}
	if len(session.Answers) != 1 || session.Answers["q0"].SelectedOptions[0] != 0 {
		t.Fatalf("expected answers to survive reload, got %+v", session.Answers)
	}

	current = started.Add(2 * time.Minute)
	expired := app.NewEngineWithClock(store, tests, app.NewScheduler(), grader, clock)
	_, state, err = expired.Resume(context.Background(), "test-1")
	if err != nil {
		t.Fatalf("resume expired: %v", err)
	}
	if state != app.ResumeExpired {
		t.Fatalf("expected expired resume, got %v", state)
	}
	if err := expired.RecordAnswer(context.Background(), "q1", domain.Answer{SelectedOptions: []int{0}}); !errors.Is(err, domain.ErrSessionFinished) {
		t.Fatalf("expired session must not accept answers, got %v", err)
	}
}

func TestResumeDropsMirrorWithoutQuestions(t *testing.T) {
	store := memory.NewSessionStore()
	corrupt := domain.Session{
		TestID:    "test-1",
		Mode:      domain.ModeFull,
		Answers:   map[string]domain.Answer{},
		StartedAt: time.Now(),
	}
	if err := store.Save(context.Background(), corrupt); err != nil {
		t.Fatalf("seed mirror: %v", err)
	}

	engine := newTestEngineWithStore(t, testWithQuestions(2), store)
	_, state, err := engine.Resume(context.Background(), "test-1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if state != app.ResumeNone {
		t.Fatalf("mirror without a question order must not resume, got state %v", state)
	}
	if _, ok, _ := store.Load(context.Background(), "test-1"); ok {
		t.Fatalf("corrupt mirror must be cleared")
	}

	// The engine stays usable afterwards and the cursor stays in range.
	if _, err := engine.Start(context.Background(), "test-1", domain.ModeFull, app.BuildConfig{}); err != nil {
		t.Fatalf("start after rejected resume: %v", err)
	}
	if err := engine.Navigate(context.Background(), 5); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	session, _ := engine.Current()
	if session.CurrentIndex != 1 {
		t.Fatalf("expected clamp to last index 1, got %d", session.CurrentIndex)
	}
}

func TestPersistenceFailureFallsBackToMemory(t *testing.T) {
	store := &spyStore{inner: memory.NewSessionStore(), failAfter: 1}
	engine := newTestEngine(t, testWithQuestions(2), store)

	if _, err := engine.Start(context.Background(), "test-1", domain.ModeFull, app.BuildConfig{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := engine.RecordAnswer(context.Background(), "q0", domain.Answer{SelectedOptions: []int{0}}); err != nil {
		t.Fatalf("record must survive store failure: %v", err)
	}
	if err := engine.RecordAnswer(context.Background(), "q1", domain.Answer{SelectedOptions: []int{1}}); err != nil {
		t.Fatalf("record after degrade: %v", err)
	}

	session, ok := engine.Current()
	if !ok || len(session.Answers) != 2 {
		t.Fatalf("answers must never be discarded, got %+v", session.Answers)
	}
}

func TestActiveSessionGuard(t *testing.T) {
	store := memory.NewSessionStore()
	engine := newTestEngineWithStore(t, testWithQuestions(2), store)

	if _, ok := engine.ActiveSession(context.Background()); ok {
		t.Fatalf("no session should be active initially")
	}
	if _, err := engine.Start(context.Background(), "test-1", domain.ModeFull, app.BuildConfig{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	active, ok := engine.ActiveSession(context.Background())
	if !ok || active.TestID != "test-1" {
		t.Fatalf("expected active session for test-1, got %+v ok=%v", active, ok)
	}

	// A second engine (another page) sees the same active attempt via the mirror.
	other := newTestEngineWithStore(t, testWithQuestions(2), store)
	active, ok = other.ActiveSession(context.Background())
	if !ok || active.TestID != "test-1" {
		t.Fatalf("guard must surface the persisted attempt, got ok=%v", ok)
	}
}

type spyStore struct {
	inner     *memory.SessionStore
	saves     int
	failAfter int
	last      domain.Session
}

func (s *spyStore) Save(ctx context.Context, session domain.Session) error {
	s.saves++
	if s.failAfter > 0 && s.saves > s.failAfter {
		return errors.New("store down")
	}
	s.last = session
	return s.inner.Save(ctx, session)
}

func (s *spyStore) Load(ctx context.Context, testID string) (domain.Session, bool, error) {
	return s.inner.Load(ctx, testID)
}

func (s *spyStore) Clear(ctx context.Context, testID string) error {
	return s.inner.Clear(ctx, testID)
}

func (s *spyStore) Active(ctx context.Context) (domain.Session, bool, error) {
	return s.inner.Active(ctx)
}

type blockingEvaluator struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingEvaluator) Evaluate(context.Context, []string, domain.CheckMode, string) (domain.Evaluation, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return domain.Evaluation{ScorePercent: 100}, nil
}

func testWithFullAnswer() domain.Test {
	return domain.Test{
		ID: "test-1",
		Questions: []domain.Question{
			{
				ID:               "q1",
				Type:             domain.FullAnswer,
				Prompt:           "essay",
				Enabled:          true,
				ReferenceAnswers: []string{"reference"},
				CheckMode:        domain.CheckMedium,
			},
		},
	}
}

func newTestEngine(t *testing.T, test domain.Test, store app.SessionStore) *app.Engine {
	t.Helper()
	if store == nil {
		store = memory.NewSessionStore()
	}
	return newTestEngineWithStore(t, test, store)
}

func newTestEngineWithStore(t *testing.T, test domain.Test, store app.SessionStore) *app.Engine {
	t.Helper()
	tests := memory.NewTestRepository(memory.NewStaticTestLoader(map[string]domain.Test{
		test.ID: test,
	}), time.Minute)
	return app.NewEngine(store, tests, app.NewScheduler(), app.NewGrader(&fixedEvaluator{}, app.DefaultPassLine))
}
