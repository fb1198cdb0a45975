package tts

import (
	"context"
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNoProvider indicates the registry has no provider for a selector.
	ErrNoProvider = errors.New("no provider registered")

	// ErrEmptyText indicates there is nothing to synthesize.
	ErrEmptyText = errors.New("text must not be empty")

	// ErrTextTooLong indicates the content exceeds the configured maximum.
	ErrTextTooLong = errors.New("text exceeds maximum length")

	// ErrOutOfRange indicates a rate or pitch outside its domain.
	ErrOutOfRange = errors.New("value out of range")
)

// Kind classifies errors that cross the production boundary.
type Kind string

const (
	KindValidation          Kind = "VALIDATION"
	KindProviderUnavailable Kind = "PROVIDER_UNAVAILABLE"
	KindInvalidVoice        Kind = "INVALID_VOICE"
	KindUnsupportedFeature  Kind = "UNSUPPORTED_FEATURE"
	KindStorage             Kind = "STORAGE"
	KindCodec               Kind = "CODEC"
	KindInternal            Kind = "INTERNAL"
)

// Error is a classified synthesis error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

// NewError creates a classified error.
func NewError(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind, so callers can write
// errors.Is(err, &tts.Error{Kind: tts.KindInvalidVoice}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == ""
}

// IsRetryable reports whether the fallback provider should be tried.
func (e *Error) IsRetryable() bool {
	return e.Kind == KindProviderUnavailable
}

// KindOf returns the kind of the first classified error in err's chain.
// Context expiry is reported as a provider outage; anything else that was
// never classified is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindProviderUnavailable
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Unavailable wraps cause as a provider outage.
func Unavailable(op string, cause error) *Error {
	return NewError(KindProviderUnavailable, op, "provider unavailable", cause)
}

// InvalidVoice reports an unknown voice.
func InvalidVoice(op, voice string, cause error) *Error {
	return NewError(KindInvalidVoice, op, fmt.Sprintf("voice %q is not available", voice), cause)
}

// Unsupported reports a request feature the provider cannot honour.
func Unsupported(op, feature string) *Error {
	return NewError(KindUnsupportedFeature, op, feature+" is not supported", nil)
}
