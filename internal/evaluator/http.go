package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"testpass-service/internal/domain"
)

// HTTPEvaluator calls an external free-answer evaluation service. It is the
// one network-bound, failure-prone collaborator in the grading path; callers
// must treat every error as recoverable (score zero, keep grading).
type HTTPEvaluator struct {
	url    string
	client *http.Client
}

func NewHTTPEvaluator(url string, timeout time.Duration) *HTTPEvaluator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPEvaluator{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type evaluateRequest struct {
	ReferenceAnswers []string         `json:"referenceAnswers"`
	CheckMode        domain.CheckMode `json:"checkMode"`
	Text             string           `json:"text"`
}

func (e *HTTPEvaluator) Evaluate(ctx context.Context, referenceAnswers []string, mode domain.CheckMode, userText string) (domain.Evaluation, error) {
	body, err := json.Marshal(evaluateRequest{
		ReferenceAnswers: referenceAnswers,
		CheckMode:        mode,
		Text:             userText,
	})
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("%w: %v", domain.ErrEvaluatorUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("%w: %v", domain.ErrEvaluatorUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("%w: %v", domain.ErrEvaluatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Evaluation{}, fmt.Errorf("%w: status %d", domain.ErrEvaluatorUnavailable, resp.StatusCode)
	}

	var eval domain.Evaluation
	if err := json.NewDecoder(resp.Body).Decode(&eval); err != nil {
		return domain.Evaluation{}, fmt.Errorf("%w: %v", domain.ErrEvaluatorUnavailable, err)
	}
	if eval.ScorePercent < 0 {
		eval.ScorePercent = 0
	}
	if eval.ScorePercent > 100 {
		eval.ScorePercent = 100
	}
	return eval, nil
}
