package pii

import (
	"context"
	"errors"
	"fmt"

	"redactly/internal/language"
)

// Kind classifies pipeline failures so callers can branch on category
// instead of matching error text.
type Kind int

const (
	KindValidation Kind = iota
	KindOversized
	KindThrottled
	KindTimeout
	KindRemote
	KindAggregation
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindOversized:
		return "oversized"
	case KindThrottled:
		return "throttled"
	case KindTimeout:
		return "timeout"
	case KindRemote:
		return "remote"
	case KindAggregation:
		return "aggregation"
	}
	return "unknown"
}

// Error is a classified pipeline error
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf classifies an arbitrary error from the pipeline or the remote
// client. Unclassified errors are treated as remote request failures.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, language.ErrThrottled) {
		return KindThrottled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindRemote
}

// IsThrottled reports whether err is a rate-limit failure the caller should
// retry with backoff.
func IsThrottled(err error) bool {
	return KindOf(err) == KindThrottled
}
