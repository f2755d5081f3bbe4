package analysisruns

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	CodeInvalidConfig      = "INVALID_CONFIG"
	CodeNicheNotFound      = "NICHE_NOT_FOUND"
	CodeRunNotFound        = "RUN_NOT_FOUND"
	CodeInvalidState       = "INVALID_STATE"
	CodeQuotaExceeded      = "QUOTA_EXCEEDED"
	CodeCriticalStepFailed = "CRITICAL_STEP_FAILED"
	CodeUnknownStep        = "UNKNOWN_STEP"
)

// ErrNotFound is returned by the repository for a missing run.
var ErrNotFound = errors.New("analysis run not found")

// Error is a coded orchestrator failure.
type Error struct {
	Code    string
	Message string
	RunID   string
	Step    string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// QuotaExceededError reports a user over their monthly run allowance.
type QuotaExceededError struct {
	Limit int
	Used  int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("Analysis quota exceeded: %d/%d", e.Used, e.Limit)
}

// CodeOf returns the code of an orchestrator error, or "".
func CodeOf(err error) string {
	var qe *QuotaExceededError
	if errors.As(err, &qe) {
		return CodeQuotaExceeded
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsPermanent reports whether retrying the job that produced err cannot
// help.
func IsPermanent(err error) bool {
	switch CodeOf(err) {
	case CodeRunNotFound, CodeInvalidConfig, CodeNicheNotFound:
		return true
	}
	return false
}
