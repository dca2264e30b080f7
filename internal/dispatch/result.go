package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/forgebridge/forgebridge/internal/github"
	"github.com/forgebridge/forgebridge/internal/registry"
)

// Status is the outcome of a dispatched call.
type Status string

const (
	StatusOk    Status = "ok"
	StatusError Status = "error"
)

// Error kinds produced locally, before any upstream call.
const (
	KindSchemaViolation = "schema_violation"
	KindUnknownTool     = "unknown_tool"
	KindCancelled       = "cancelled"
	KindInternal        = "internal"
)

// ErrorDetail is the structured error payload of a failed call. Kind is the
// upstream client's error kind verbatim when the failure came from GitHub.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	// Violations enumerate every schema constraint the arguments broke.
	Violations []registry.FieldViolation `json:"violations,omitempty"`
	// Details carries upstream validation errors verbatim.
	Details []string `json:"details,omitempty"`
	// FailedStep names the furthest failing step of a multi-step tool.
	FailedStep string `json:"failed_step,omitempty"`
	// RetryAfterSeconds is set for rate-limited failures.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

// Result pairs a request id with its outcome. Consumed exactly once by the
// session manager.
type Result struct {
	RequestID string
	Status    Status
	Payload   any
	Error     *ErrorDetail
}

func okResult(c *Call, payload any) *Result {
	return &Result{RequestID: c.RequestID, Status: StatusOk, Payload: payload}
}

func errorResult(c *Call, detail *ErrorDetail) *Result {
	return &Result{RequestID: c.RequestID, Status: StatusError, Error: detail}
}

// stepError tags a failure with the multi-step tool step that produced it.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.step, e.err)
}

func (e *stepError) Unwrap() error {
	return e.err
}

// toErrorDetail maps any dispatch failure into the structured detail shape.
func toErrorDetail(err error) *ErrorDetail {
	detail := &ErrorDetail{Kind: KindInternal, Message: err.Error()}

	var se *stepError
	if errors.As(err, &se) {
		detail.FailedStep = se.step
		err = se.err
	}

	var sve *registry.SchemaViolationError
	if errors.As(err, &sve) {
		detail.Kind = KindSchemaViolation
		detail.Message = sve.Error()
		detail.Violations = sve.Violations
		return detail
	}
	if errors.Is(err, registry.ErrUnknownTool) {
		detail.Kind = KindUnknownTool
		detail.Message = err.Error()
		return detail
	}

	var apiErr *github.APIError
	if errors.As(err, &apiErr) {
		detail.Kind = string(apiErr.Kind)
		detail.Message = apiErr.Error()
		detail.Details = apiErr.Details
		if apiErr.RetryAfter > 0 {
			detail.RetryAfterSeconds = int(apiErr.RetryAfter / time.Second)
			if detail.RetryAfterSeconds == 0 {
				detail.RetryAfterSeconds = 1
			}
		}
		return detail
	}

	detail.Message = err.Error()
	return detail
}
