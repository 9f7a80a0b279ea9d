// Package reverts defines the typed rejection errors returned by every
// ledger operation. A revert always means "nothing was committed".
package reverts

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a rejection so callers can tell "not entitled" apart
// from "bad input" or "too early".
type Kind uint8

const (
	KindAdmissibility Kind = iota + 1
	KindEconomic
	KindUnauthorized
	KindTooEarly
	KindNotFound
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindAdmissibility:
		return "admissibility"
	case KindEconomic:
		return "economic"
	case KindUnauthorized:
		return "unauthorized"
	case KindTooEarly:
		return "too_early"
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error is a protocol rejection. Two errors are equal under errors.Is when
// their codes match, so details attached with Wrapf or TooEarly don't break
// sentinel comparisons.
type Error struct {
	Kind  Kind
	Code  string
	Msg   string
	Until time.Time // earliest valid time, set on KindTooEarly
}

func (e *Error) Error() string {
	if !e.Until.IsZero() {
		return fmt.Sprintf("%s: %s (retry after %s)", e.Code, e.Msg, e.Until.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is reports whether target is a revert with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates a sentinel revert.
func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Wrapf returns a copy of base with a more specific message.
func Wrapf(base *Error, format string, args ...any) *Error {
	e := *base
	e.Msg = fmt.Sprintf("%s: %s", base.Msg, fmt.Sprintf(format, args...))
	return &e
}

// TooEarly returns a copy of base carrying the earliest time the operation
// may succeed.
func TooEarly(base *Error, until time.Time) *Error {
	e := *base
	e.Until = until
	return &e
}

// IsRevert reports whether err is (or wraps) a protocol rejection.
func IsRevert(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// KindOf returns the kind of the revert in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// CodeOf returns the code of the revert in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UntilOf returns the earliest valid time carried by err, if any.
func UntilOf(err error) (time.Time, bool) {
	var e *Error
	if errors.As(err, &e) && !e.Until.IsZero() {
		return e.Until, true
	}
	return time.Time{}, false
}
