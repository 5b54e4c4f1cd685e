package evaluator

import (
	"context"
	"strings"

	"testpass-service/internal/domain"
)

// StaticEvaluator scores free-text answers locally by normalized comparison.
// It stands in when no evaluator service is configured and keeps grading
// deterministic in tests: an exact match (case and whitespace insensitive)
// scores 100; under lite mode a reference answer contained in the response
// scores 70; everything else scores 0.
type StaticEvaluator struct{}

func NewStaticEvaluator() *StaticEvaluator {
	return &StaticEvaluator{}
}

func (e *StaticEvaluator) Evaluate(_ context.Context, referenceAnswers []string, mode domain.CheckMode, userText string) (domain.Evaluation, error) {
	got := normalize(userText)
	for _, ref := range referenceAnswers {
		want := normalize(ref)
		if want == "" {
			continue
		}
		if got == want {
			return domain.Evaluation{ScorePercent: 100, Comment: "matches reference answer"}, nil
		}
		if mode == domain.CheckLite && strings.Contains(got, want) {
			return domain.Evaluation{ScorePercent: 70, Comment: "contains reference answer"}, nil
		}
	}
	return domain.Evaluation{ScorePercent: 0, Comment: "does not match any reference answer"}, nil
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
