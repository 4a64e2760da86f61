package errors

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// CrawlError is the structured error type for CrawlMCP.
// It provides a taxonomy kind, a caller-safe message, and optional
// key-value details for logging.
type CrawlError struct {
	// Kind is the taxonomy kind (FetchFailed, EmbeddingFailed, ...).
	Kind Kind

	// Message is the human-readable error message. It must already be
	// safe to surface to callers; Sanitize enforces this at the
	// envelope boundary.
	Message string

	// Details contains additional context as key-value pairs. Details
	// are logged server-side, never sent to callers.
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *CrawlError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CrawlError) Unwrap() error {
	return e.Cause
}

// Is matches by Kind so errors.Is works with sentinel CrawlErrors.
func (e *CrawlError) Is(target error) bool {
	if t, ok := target.(*CrawlError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail adds a key-value detail. Returns the error for chaining.
func (e *CrawlError) WithDetail(key, value string) *CrawlError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a CrawlError with the given kind and message.
// The retryable flag is derived from the kind.
func New(kind Kind, message string) *CrawlError {
	return &CrawlError{
		Kind:      kind,
		Message:   message,
		Retryable: retryableKind(kind),
	}
}

// Wrap annotates an existing error with a kind and context message.
// Returns nil when err is nil so call sites can wrap unconditionally.
func Wrap(err error, kind Kind, message string) *CrawlError {
	if err == nil {
		return nil
	}
	ce := New(kind, message)
	ce.Cause = err
	return ce
}

// KindOf extracts the taxonomy kind of any error. Unclassified errors
// report KindInternal; context cancellation reports KindCancelled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, ErrCircuitOpen) {
		return KindVectorStoreUnavailable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// Patterns matched by Sanitize. Connection strings and URI credentials
// must never leak into caller-facing messages (taxonomy requirement).
var (
	credentialPattern = regexp.MustCompile(`(?i)((?:bolt|neo4j|postgres|postgresql|https?)://)[^@\s/]+@`)
	absPathPattern    = regexp.MustCompile(`(/(?:home|root|Users|var|tmp|etc)/[^\s"':]+)`)
	envValuePattern   = regexp.MustCompile(`(?i)((?:api[_-]?key|token|password|secret)[=:]\s*)\S+`)
)

// Sanitize strips credentials, environment secrets and server-local
// absolute paths from a message before it enters an error envelope.
func Sanitize(message string) string {
	message = credentialPattern.ReplaceAllString(message, "${1}***@")
	message = envValuePattern.ReplaceAllString(message, "${1}***")
	message = absPathPattern.ReplaceAllString(message, "<path>")
	return message
}
