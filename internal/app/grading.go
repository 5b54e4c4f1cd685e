package app

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"testpass-service/internal/domain"
)

// DefaultPassLine is the evaluator score at or above which a full-answer
// question counts as correct in the aggregate tally. The raw percentage is
// always preserved for review.
const DefaultPassLine = 50

// Evaluator scores a free-text answer against the reference answers under the
// given strictness mode. It is network-backed and must be treated as slow and
// fallible.
type Evaluator interface {
	Evaluate(ctx context.Context, referenceAnswers []string, mode domain.CheckMode, userText string) (domain.Evaluation, error)
}

// Grader turns a finished session into a Result.
type Grader struct {
	evaluator Evaluator
	passLine  int
	now       func() time.Time
}

func NewGrader(evaluator Evaluator, passLine int) *Grader {
	return NewGraderWithClock(evaluator, passLine, time.Now)
}

// NewGraderWithClock allows deterministic time-spent figures in tests.
func NewGraderWithClock(evaluator Evaluator, passLine int, now func() time.Time) *Grader {
	if passLine <= 0 {
		passLine = DefaultPassLine
	}
	return &Grader{evaluator: evaluator, passLine: passLine, now: now}
}

// Grade computes the result for a finished session. The three closed-form
// types are scored synchronously; full-answer questions are dispatched to the
// evaluator concurrently and the Result is assembled only once every call has
// settled. An evaluator failure scores that question zero with a diagnostic
// comment instead of failing the grade.
func (g *Grader) Grade(ctx context.Context, session domain.Session, questions map[string]domain.Question) (domain.Result, error) {
	evaluations, err := g.evaluateFullAnswers(ctx, session, questions)
	if err != nil {
		return domain.Result{}, err
	}

	result := domain.Result{
		TestID:           session.TestID,
		TotalQuestions:   len(session.QuestionIDs),
		PassThreshold:    session.PassThreshold,
		IncorrectReview:  []domain.IncorrectReviewEntry{},
		FullAnswerReview: []domain.FullAnswerReviewEntry{},
	}

	for i, id := range session.QuestionIDs {
		question, ok := questions[id]
		if !ok {
			continue
		}
		answer := session.Answers[id]
		number := i + 1

		switch question.Type {
		case domain.SingleChoice, domain.MultipleChoice:
			if choiceCorrect(question, answer) {
				result.CorrectAnswers++
			} else {
				result.IncorrectReview = append(result.IncorrectReview, domain.IncorrectReviewEntry{
					QuestionNumber: number,
					QuestionText:   question.Prompt,
					CorrectAnswers: optionTexts(question),
				})
			}
		case domain.Matching:
			if matchingCorrect(question, answer) {
				result.CorrectAnswers++
			} else {
				result.IncorrectReview = append(result.IncorrectReview, domain.IncorrectReviewEntry{
					QuestionNumber: number,
					QuestionText:   question.Prompt,
					CorrectAnswers: matchTexts(question),
				})
			}
		case domain.FullAnswer:
			eval := evaluations[id]
			if eval.ScorePercent >= g.passLine {
				result.CorrectAnswers++
			}
			result.FullAnswerReview = append(result.FullAnswerReview, domain.FullAnswerReviewEntry{
				QuestionNumber: number,
				QuestionText:   question.Prompt,
				UserAnswer:     answer.Text,
				ScorePercent:   eval.ScorePercent,
				Comment:        eval.Comment,
			})
		}
	}

	if result.TotalQuestions > 0 {
		result.Percentage = int(math.Round(100 * float64(result.CorrectAnswers) / float64(result.TotalQuestions)))
	}
	if session.PassThreshold > 0 {
		passed := result.CorrectAnswers >= session.PassThreshold
		result.Passed = &passed
	}

	spent := session.Elapsed(g.now())
	if limit := time.Duration(session.TimeLimitSeconds) * time.Second; limit > 0 && spent > limit {
		spent = limit
	}
	result.TimeSpentSeconds = int(spent / time.Second)

	return result, nil
}

// evaluateFullAnswers fans evaluator calls out concurrently; there is no
// ordering dependency between them. Individual failures are absorbed into a
// zero-score verdict, only context cancellation aborts the grade.
func (g *Grader) evaluateFullAnswers(ctx context.Context, session domain.Session, questions map[string]domain.Question) (map[string]domain.Evaluation, error) {
	evaluations := make(map[string]domain.Evaluation)
	var mu sync.Mutex

	group, ctx := errgroup.WithContext(ctx)
	for _, id := range session.QuestionIDs {
		question, ok := questions[id]
		if !ok || question.Type != domain.FullAnswer {
			continue
		}
		id, question := id, question
		group.Go(func() error {
			answer, answered := session.Answers[id]
			var eval domain.Evaluation
			if answered && domain.IsAnswerComplete(question, answer) {
				var err error
				eval, err = g.evaluator.Evaluate(ctx, question.ReferenceAnswers, question.CheckMode, answer.Text)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					eval = domain.Evaluation{ScorePercent: 0, Comment: "evaluation unavailable"}
				}
			}
			mu.Lock()
			evaluations[id] = eval
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return evaluations, nil
}

// choiceCorrect applies strict set equality: any extra or missing selection
// marks the whole question wrong. The submitted indices come straight off the
// wire and may contain duplicates, so both sides are deduplicated before the
// comparison.
func choiceCorrect(q domain.Question, a domain.Answer) bool {
	want := make(map[int]struct{}, len(q.CorrectOptions))
	for _, idx := range q.CorrectOptions {
		want[idx] = struct{}{}
	}
	got := make(map[int]struct{}, len(a.SelectedOptions))
	for _, idx := range a.SelectedOptions {
		got[idx] = struct{}{}
	}
	if len(got) != len(want) {
		return false
	}
	for idx := range got {
		if _, ok := want[idx]; !ok {
			return false
		}
	}
	return true
}

// matchingCorrect requires every authored meaning to be matched to its term;
// unanswered meanings count as incorrect.
func matchingCorrect(q domain.Question, a domain.Answer) bool {
	for meaning, term := range q.CorrectMatches {
		got, ok := a.Matches[meaning]
		if !ok || got != term {
			return false
		}
	}
	return true
}

func optionTexts(q domain.Question) []string {
	out := make([]string, 0, len(q.CorrectOptions))
	for _, idx := range q.CorrectOptions {
		if idx >= 0 && idx < len(q.Options) {
			out = append(out, q.Options[idx])
		}
	}
	return out
}

func matchTexts(q domain.Question) []string {
	out := make([]string, 0, len(q.CorrectMatches))
	for meaning := 0; meaning < len(q.Meanings); meaning++ {
		term, ok := q.CorrectMatches[meaning]
		if !ok || term < 0 || term >= len(q.Terms) {
			continue
		}
		out = append(out, q.Meanings[meaning]+" -> "+q.Terms[term])
	}
	return out
}
