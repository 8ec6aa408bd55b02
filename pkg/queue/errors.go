package queue

import "errors"

// ClassifiedError lets a job processor attach one of the job-class-specific
// failure codes named in §4.5 (e.g. "invalid_workflow_configuration",
// "rate_limit") that the router's non-retryable/retryable-allowlist checks
// dispatch on. Processors that don't need a specific code can return a
// plain *orcherr.Error or any other error; shouldRetry falls back to its
// orcherr.Kind.
type ClassifiedError struct {
	Code string
	Err  error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify wraps err with a job-class-specific failure code.
func Classify(code string, err error) *ClassifiedError {
	return &ClassifiedError{Code: code, Err: err}
}

func errorCode(err error) string {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return string(kindOf(err))
}
