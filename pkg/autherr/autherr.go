package autherr

import (
	"errors"
	"fmt"
	"time"
)

// Type categorizes a token-lifecycle error so callers can decide whether to retry, wait, or ask
// the user for new credentials.
type Type string

const (
	Config       Type = "config"
	RateLimited  Type = "rate_limited"
	Upstream     Type = "upstream"
	TokenInvalid Type = "token_invalid"
	Network      Type = "network"
)

// Error is a structured, human-readable error.
type Error struct {
	Type       Type
	Message    string
	RetryAfter time.Duration // only meaningful for RateLimited
	Err        error         // optional underlying error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a new Error.
func New(t Type, msg string, err error) *Error { return &Error{Type: t, Message: msg, Err: err} }

// Limited constructs a RateLimited error carrying a retry-after estimate.
func Limited(msg string, retryAfter time.Duration) *Error {
	return &Error{Type: RateLimited, Message: msg, RetryAfter: retryAfter}
}

// TypeOf returns the Type of the first *Error in err's chain, or "" if there is none.
func TypeOf(err error) Type {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// Is reports whether err's chain contains an *Error of type t.
func Is(err error, t Type) bool {
	return err != nil && TypeOf(err) == t
}

// RetryAfter returns the retry-after estimate carried by err, or zero.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// HumanizeWait renders a wait as "~N minutes" (rounded up), or "~N seconds" under a minute.
func HumanizeWait(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	if d < time.Minute {
		secs := int((d + time.Second - 1) / time.Second)
		return fmt.Sprintf("~%d seconds", secs)
	}
	mins := int((d + time.Minute - 1) / time.Minute)
	if mins == 1 {
		return "~1 minute"
	}
	return fmt.Sprintf("~%d minutes", mins)
}
