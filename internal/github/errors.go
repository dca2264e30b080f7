package github

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies upstream failures. Kinds are surfaced verbatim in
// tool call results so callers can decide whether to retry.
type ErrorKind string

const (
	KindAuth        ErrorKind = "auth_error"
	KindNotFound    ErrorKind = "not_found"
	KindValidation  ErrorKind = "validation_error"
	KindRateLimited ErrorKind = "rate_limited"
	KindUnavailable ErrorKind = "upstream_unavailable"
	KindUnexpected  ErrorKind = "unexpected_upstream_response"
)

// APIError is the typed result of a failed upstream call.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	// Details carries upstream validation errors (422) verbatim.
	Details []string
	// RetryAfter is set for KindRateLimited when the upstream provided
	// an explicit wait.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "github: %s", e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Details) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Details, "; "))
	}
	if e.RetryAfter > 0 {
		fmt.Fprintf(&b, " (retry after %s)", e.RetryAfter)
	}
	return b.String()
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// retryable reports whether the error may succeed on a later attempt.
func retryable(e *APIError) bool {
	switch e.Kind {
	case KindUnavailable, KindRateLimited:
		return true
	}
	return false
}
