package models

import (
	"errors"
	"fmt"
)

// ErrKind classifies every failure the pricing and calibration layers can
// produce. Callers are expected to branch on the kind, never on the message.
type ErrKind int

const (
	// ErrConfig marks invalid inputs or a malformed problem. Fatal; the
	// caller built something that can never price.
	ErrConfig ErrKind = iota + 1
	// ErrNonConvergence marks a solver or optimizer that ran out of
	// iterations or left its bounds. Recoverable per item.
	ErrNonConvergence
	// ErrDomain marks a numerical failure inside a pricing method, such as
	// a diverging integral. Recoverable at batch level.
	ErrDomain
	// ErrMarketData marks a quote that violates its construction
	// invariants. Whether this is fatal is policy-configurable.
	ErrMarketData
)

func (k ErrKind) String() string {
	switch k {
	case ErrConfig:
		return "config"
	case ErrNonConvergence:
		return "non-convergence"
	case ErrDomain:
		return "domain"
	case ErrMarketData:
		return "market-data"
	}
	return "unknown"
}

// Error carries the failure kind alongside the operation that produced it.
type Error struct {
	Kind ErrKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg == "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a kinded error in the style of fmt.Errorf.
func Errorf(kind ErrKind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// WrapErr attaches a kind and operation to an underlying error.
func WrapErr(kind ErrKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind ErrKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
