package core

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for callers and transports.
type Kind string

const (
	KindUnauthorized      Kind = "unauthorized"
	KindInvalidInput      Kind = "invalid_input"
	KindNotFound          Kind = "not_found"
	KindAlreadyCompleted  Kind = "already_completed"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindRateLimited       Kind = "rate_limited"
	KindDownstream        Kind = "downstream_unavailable"
	KindInternal          Kind = "internal_error"
)

// Error carries a Kind, a user-facing message and an optional cause.
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

func (e *Error) Unwrap() error { return e.Err }

// E builds an Error without a cause.
func E(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

// Wrap builds an Error around a cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Sentinel errors returned by storage adapters.
var (
	ErrQuestNotFound     = E(KindNotFound, "quest not found")
	ErrProfileNotFound   = E(KindNotFound, "profile not found")
	ErrItemNotFound      = E(KindNotFound, "item not found")
	ErrAlreadyCompleted  = E(KindAlreadyCompleted, "quest already completed")
	ErrInsufficientFunds = E(KindInsufficientFunds, "insufficient gold")
	ErrSkillUnavailable  = E(KindInvalidInput, "skill already unlocked or not enough skill points")
	ErrProgressConflict  = E(KindInternal, "profile changed concurrently")
	ErrUnauthorized      = E(KindUnauthorized, "authentication required")
	ErrZeroAdjustment    = E(KindInvalidInput, "amount cannot be zero")
	ErrTransformFailed   = E(KindDownstream, "narrative service unavailable, please retry")
	ErrUnknownEndpoint   = E(KindInternal, "unknown rate-limited endpoint")
)

// RateLimitError is returned when a quota rejects a call.
type RateLimitError struct {
	Endpoint string
	Reason   string
	Limit    int64
	Current  int64
	ResetAt  time.Time
	Now      time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s: %s (%d/%d)", e.Endpoint, e.Reason, e.Current, e.Limit)
}

// RetryAfter is the wait until the window resets, rounded up to whole seconds.
func (e *RateLimitError) RetryAfter() time.Duration {
	d := e.ResetAt.Sub(e.Now)
	if d <= 0 {
		return 0
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}

// KindOf classifies any error; unknown errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return KindRateLimited
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message for err.
func MessageOf(err error) string {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return "Rate limit exceeded. Please try again later."
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
