package app

import (
	"math/rand"
	"time"

	"testpass-service/internal/domain"
)

// minTimeLimit is the floor applied to express-mode limits so a session is
// never started with an unwinnable countdown.
const minTimeLimit = 60 * time.Second

// BuildConfig carries the user-chosen parameters for an express attempt.
// Full mode ignores it and takes everything from the test definition.
type BuildConfig struct {
	QuestionCount    int
	PassThreshold    int
	TimeLimitMinutes int
}

// SessionPlan is what the scheduler hands to the engine: the ordered question
// selection plus the derived pass/limit settings.
type SessionPlan struct {
	QuestionIDs      []string
	PassThreshold    int
	TimeLimitSeconds int
	Mode             domain.SessionMode
	Settings         domain.SessionSettings
}

// Scheduler builds session plans from test definitions.
type Scheduler struct {
	rnd *rand.Rand
}

func NewScheduler() *Scheduler {
	return NewSchedulerWithRand(rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewSchedulerWithRand allows deterministic shuffles in tests.
func NewSchedulerWithRand(rnd *rand.Rand) *Scheduler {
	return &Scheduler{rnd: rnd}
}

// BuildSession selects and orders the questions for an attempt.
//
// Full mode serves every enabled question in authored order; the threshold
// comes from the test definition and defaults to all-correct. Express mode
// draws a uniform random subset: the shuffle must give every permutation equal
// probability, since fair sampling is a product requirement, not a nicety.
func (g *Scheduler) BuildSession(test domain.Test, mode domain.SessionMode, cfg BuildConfig) (SessionPlan, error) {
	enabled := test.EnabledQuestions()
	if len(enabled) == 0 {
		return SessionPlan{}, domain.ErrInsufficientQuestions
	}

	ids := make([]string, len(enabled))
	for i, q := range enabled {
		ids[i] = q.ID
	}

	if mode == domain.ModeFull {
		threshold := test.PassThreshold
		if threshold <= 0 || threshold > len(ids) {
			threshold = len(ids)
		}
		return SessionPlan{
			QuestionIDs:      ids,
			PassThreshold:    threshold,
			TimeLimitSeconds: test.TimeLimitSeconds,
			Mode:             domain.ModeFull,
		}, nil
	}

	count := cfg.QuestionCount
	if count <= 0 || count > len(ids) {
		return SessionPlan{}, domain.ErrInsufficientQuestions
	}
	if cfg.PassThreshold <= 0 || cfg.PassThreshold > count {
		return SessionPlan{}, domain.ErrInvalidThreshold
	}

	g.shuffle(ids)

	limit := 0
	if cfg.TimeLimitMinutes > 0 {
		d := time.Duration(cfg.TimeLimitMinutes) * time.Minute
		if d < minTimeLimit {
			d = minTimeLimit
		}
		limit = int(d / time.Second)
	}

	return SessionPlan{
		QuestionIDs:      ids[:count],
		PassThreshold:    cfg.PassThreshold,
		TimeLimitSeconds: limit,
		Mode:             domain.ModeExpress,
		Settings: domain.SessionSettings{
			QuestionCount: count,
		},
	}, nil
}

// shuffle is a Fisher-Yates permutation; every ordering is equally likely.
func (g *Scheduler) shuffle(ids []string) {
	for i := len(ids) - 1; i > 0; i-- {
		j := g.rnd.Intn(i + 1)
		ids[i], ids[j] = ids[j], ids[i]
	}
}
