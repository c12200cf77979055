package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrorRateLimited ErrorCode = "RATE_LIMITED"
	ErrorUpstream    ErrorCode = "UPSTREAM_ERROR"
	ErrorPlatform    ErrorCode = "PLATFORM_ERROR"
	ErrorInternal    ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// classifyCompletionError tags an unexpected completion failure for logging.
func classifyCompletionError(err error) *Error {
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}
	if status, ok := upstreamStatusCode(err); ok {
		if status == http.StatusTooManyRequests {
			return newError(ErrorRateLimited, "openai_rate_limited", err)
		}
		return newError(ErrorUpstream, "openai_error", err)
	}
	return newError(ErrorInternal, "completion_error", err)
}
