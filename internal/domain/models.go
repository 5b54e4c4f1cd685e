package domain

import (
	"strings"
	"time"
)

// QuestionType discriminates the four supported question variants.
type QuestionType string

const (
	SingleChoice   QuestionType = "single_choice"
	MultipleChoice QuestionType = "multiple_choice"
	Matching       QuestionType = "matching"
	FullAnswer     QuestionType = "full_answer"
)

// CheckMode controls how strictly the free-answer evaluator scores a response.
type CheckMode string

const (
	CheckLite   CheckMode = "lite"
	CheckMedium CheckMode = "medium"
	CheckHard   CheckMode = "hard"
	CheckUnreal CheckMode = "unreal"
)

// Question is a tagged union over the four variants; only the fields relevant
// to its Type are populated. IDs are unique within a test.
type Question struct {
	ID      string       `json:"id"`
	Type    QuestionType `json:"type"`
	Prompt  string       `json:"prompt"`
	Media   []string     `json:"media,omitempty"`
	Enabled bool         `json:"enabled"`

	// single_choice / multiple_choice
	Options        []string `json:"options,omitempty"`
	CorrectOptions []int    `json:"correctOptions,omitempty"`

	// matching: CorrectMatches maps meaning index -> term index.
	Terms          []string    `json:"terms,omitempty"`
	Meanings       []string    `json:"meanings,omitempty"`
	CorrectMatches map[int]int `json:"correctMatches,omitempty"`

	// full_answer
	ReferenceAnswers []string  `json:"referenceAnswers,omitempty"`
	CheckMode        CheckMode `json:"checkMode,omitempty"`
}

// Test is a test definition as supplied by the authoring side.
type Test struct {
	ID               string     `json:"id"`
	Title            string     `json:"title,omitempty"`
	Questions        []Question `json:"questions"`
	PassThreshold    int        `json:"passThreshold,omitempty"`
	TimeLimitSeconds int        `json:"timeLimitSeconds,omitempty"`
}

// EnabledQuestions returns the questions eligible to be served, in authored order.
func (t Test) EnabledQuestions() []Question {
	out := make([]Question, 0, len(t.Questions))
	for _, q := range t.Questions {
		if q.Enabled {
			out = append(out, q)
		}
	}
	return out
}

// Answer holds a user's response to one question; the field matching the
// question type is the authoritative one. A question with no Answer entry in
// the session is unanswered.
type Answer struct {
	SelectedOptions []int       `json:"selectedOptions,omitempty"`
	Matches         map[int]int `json:"matches,omitempty"` // meaning index -> term index
	Text            string      `json:"text,omitempty"`
}

// IsAnswerComplete reports whether the answer counts as "answered" for
// navigation markers: single choice needs exactly one selection, multiple
// choice at least one, matching at least one pair, full answer non-blank text.
func IsAnswerComplete(q Question, a Answer) bool {
	switch q.Type {
	case SingleChoice:
		return len(a.SelectedOptions) == 1
	case MultipleChoice:
		return len(a.SelectedOptions) > 0
	case Matching:
		return len(a.Matches) > 0
	case FullAnswer:
		return strings.TrimSpace(a.Text) != ""
	}
	return false
}

// SessionMode selects between the full authored test and a randomized subset.
type SessionMode string

const (
	ModeFull    SessionMode = "full"
	ModeExpress SessionMode = "express"
)

// SessionSettings carries the express-mode parameters so a resumed session
// grades the same way it was started.
type SessionSettings struct {
	QuestionCount   int `json:"questionCount,omitempty"`
	PassLinePercent int `json:"passLinePercent,omitempty"`
}

// Session is one in-progress attempt at a test. At most one session is active
// at a time; it is finalized into a Result and removed, never reused.
type Session struct {
	TestID           string            `json:"testId"`
	Mode             SessionMode       `json:"mode"`
	QuestionIDs      []string          `json:"questionIds"`
	CurrentIndex     int               `json:"currentIndex"`
	Answers          map[string]Answer `json:"answers"`
	StartedAt        time.Time         `json:"startedAt"`
	TimeLimitSeconds int               `json:"timeLimitSeconds,omitempty"`
	PassThreshold    int               `json:"passThreshold"`
	Settings         SessionSettings   `json:"settings"`
}

// Clone returns a deep copy so a snapshot cannot observe later mutations.
func (s Session) Clone() Session {
	out := s
	out.QuestionIDs = append([]string(nil), s.QuestionIDs...)
	out.Answers = make(map[string]Answer, len(s.Answers))
	for id, a := range s.Answers {
		out.Answers[id] = a
	}
	return out
}

// Elapsed is the wall-clock time spent in the attempt so far. It is derived
// from StartedAt, never from tick counts, so missed ticks cannot stretch the
// limit.
func (s Session) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}

// Expired reports whether a configured time limit has run out.
func (s Session) Expired(now time.Time) bool {
	if s.TimeLimitSeconds <= 0 {
		return false
	}
	return s.Elapsed(now) >= time.Duration(s.TimeLimitSeconds)*time.Second
}

// IncorrectReviewEntry explains one wrong discrete-type question in the result.
type IncorrectReviewEntry struct {
	QuestionNumber int      `json:"questionNumber"`
	QuestionText   string   `json:"questionText"`
	CorrectAnswers []string `json:"correctAnswers"`
}

// FullAnswerReviewEntry carries the evaluator verdict for one free-text
// question; it is shown for every full-answer question, not only mistakes.
type FullAnswerReviewEntry struct {
	QuestionNumber int    `json:"questionNumber"`
	QuestionText   string `json:"questionText"`
	UserAnswer     string `json:"userAnswer"`
	ScorePercent   int    `json:"scorePercent"`
	Comment        string `json:"comment,omitempty"`
}

// Result is the immutable outcome of a graded attempt.
type Result struct {
	TestID           string                  `json:"testId"`
	TotalQuestions   int                     `json:"totalQuestions"`
	CorrectAnswers   int                     `json:"correctAnswers"`
	Percentage       int                     `json:"percentage"`
	Passed           *bool                   `json:"passed,omitempty"`
	PassThreshold    int                     `json:"passThreshold,omitempty"`
	TimeSpentSeconds int                     `json:"timeSpentSeconds"`
	IncorrectReview  []IncorrectReviewEntry  `json:"incorrectReview"`
	FullAnswerReview []FullAnswerReviewEntry `json:"fullAnswerReview"`
}

// Evaluation is the free-answer evaluator's verdict for a single response.
type Evaluation struct {
	ScorePercent int    `json:"scorePercent"`
	Comment      string `json:"comment"`
}
