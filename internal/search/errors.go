package search

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed upstream call so the scheduler can branch
// on kind instead of inspecting message text.
type ErrorKind int

// Failure classes, ordered from retriable to terminal.
const (
	KindTransient   ErrorKind = iota // network error, timeout, 5xx
	KindRateLimited                  // upstream quota exhausted
	KindPermanent                    // provider rejects the query outright
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// Error is a classified upstream failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("search (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func transientErr(err error) error {
	return &Error{Kind: KindTransient, Err: err}
}

func rateLimitedErr(err error) error {
	return &Error{Kind: KindRateLimited, Err: err}
}

func permanentErr(err error) error {
	return &Error{Kind: KindPermanent, Err: err}
}

// KindOf extracts the classification from an error chain. Unclassified
// errors count as transient so a flaky dependency never kills a rule.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}
