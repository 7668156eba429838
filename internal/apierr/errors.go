// Package apierr implements the error taxonomy shared by every layer of
// the chat request pipeline. It generalizes the ProviderError/ValidationError
// pattern from pkg/provider/errors into a single tagged-union error kind
// that internal/httpapi can turn into an HTTP status without each layer
// needing to know about HTTP at all.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of error categories the pipeline can surface.
// It is a tagged union, not a free-form string: every Kind below has an
// explicit, exhaustively-handled HTTP mapping in StatusFor.
type Kind string

const (
	KindValidation    Kind = "validation_error"
	KindConflict      Kind = "conflict"
	KindUnauthorized  Kind = "unauthorized"
	KindNotFound      Kind = "not_found"
	KindLimitExceeded Kind = "limit_exceeded"
	KindProviderError Kind = "provider_error"
	KindAborted       Kind = "aborted"
	KindInternal      Kind = "internal_error"
)

// StatusFor maps a Kind to its HTTP status code per spec.md §7. Kinds not
// in this table are programmer errors, not user errors; StatusFor falls
// back to 500 so an unhandled Kind never turns into a 200.
func StatusFor(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindLimitExceeded:
		return http.StatusTooManyRequests
	case KindProviderError:
		return http.StatusBadGateway
	case KindAborted:
		// Aborted requests never produce a fresh HTTP response; they end an
		// already-open SSE stream. 499 is the conventional nginx status for
		// "client closed request" and is used only for non-stream callers
		// (e.g. /v1/chat/completions/stop racing a done stream).
		return 499
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error codes returned in the JSON envelope's error_code field for kinds
// that need to disambiguate beyond Kind. Not every Kind needs one.
const (
	CodeIntentRequired   = "intent_required"
	CodeInvalidArguments = "invalid_arguments"
)

// PipelineError is the error type every pipeline-facing component
// returns. Code is optional detail beyond Kind (spec.md §6's error_code).
type PipelineError struct {
	Kind    Kind
	Message string
	Code    string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// New constructs a PipelineError with no code and no wrapped cause.
func New(kind Kind, message string) *PipelineError {
	return &PipelineError{Kind: kind, Message: message}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...interface{}) *PipelineError {
	return &PipelineError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithCode sets Code on a copy of the error.
func (e *PipelineError) WithCode(code string) *PipelineError {
	cp := *e
	cp.Code = code
	return &cp
}

// Wrap attaches cause to a copy of the error.
func (e *PipelineError) Wrap(cause error) *PipelineError {
	cp := *e
	cp.Cause = cause
	return &cp
}

// As extracts a *PipelineError from err, matching the teacher's
// IsProviderError convenience helper (pkg/provider/errors).
func As(err error) (*PipelineError, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it wraps a PipelineError, or
// KindInternal otherwise — used by C9 so any unclassified error still
// maps to a concrete status instead of panicking the handler.
func KindOf(err error) Kind {
	if pe, ok := As(err); ok {
		return pe.Kind
	}
	return KindInternal
}

// Envelope is the wire shape of the JSON error body in spec.md §4.1/§6.
type Envelope struct {
	Error     Kind   `json:"error"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
}

// ToEnvelope converts any error into the JSON envelope C9 writes on the
// error path, regardless of whether it originated as a *PipelineError.
func ToEnvelope(err error) (int, Envelope) {
	pe, ok := As(err)
	if !ok {
		return http.StatusInternalServerError, Envelope{Error: KindInternal, Message: "internal error"}
	}
	return StatusFor(pe.Kind), Envelope{Error: pe.Kind, Message: pe.Message, ErrorCode: pe.Code}
}
