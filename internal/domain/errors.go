package domain

import "errors"

var (
	// ErrInvalidConfiguration is returned when session start parameters are malformed.
	ErrInvalidConfiguration = errors.New("invalid session configuration")
	// ErrInsufficientQuestions is returned when express mode asks for more questions than are enabled.
	ErrInsufficientQuestions = errors.New("not enough enabled questions")
	// ErrInvalidThreshold is returned when the requested pass threshold is outside [1, questionCount].
	ErrInvalidThreshold = errors.New("pass threshold out of range")
	// ErrSessionFinished is returned on mutation attempts after Finish; a bug in the caller.
	ErrSessionFinished = errors.New("session already finished")
	// ErrNoActiveSession is returned when an operation needs a running session and none exists.
	ErrNoActiveSession = errors.New("no active session")
	// ErrTestNotFound indicates the test definition could not be loaded.
	ErrTestNotFound = errors.New("test not found")
	// ErrEvaluatorUnavailable marks a failed free-answer evaluation; the question is
	// scored zero with a diagnostic comment instead of failing the whole grade.
	ErrEvaluatorUnavailable = errors.New("evaluator unavailable")
)
