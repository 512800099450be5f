// Package qerr provides the binding's typed error taxonomy.
//
// Every failure the binding surfaces (as opposed to silently dropping, which
// the receive path does for anything recoverable) carries one of the codes
// below so callers can distinguish allocation pressure from a protocol
// violation from a genuine datapath failure without string matching.
package qerr

import (
	"errors"
	"fmt"
)

// Code classifies why a binding operation failed.
type Code uint8

const (
	// CodeUnknown is the zero value; never intentionally returned.
	CodeUnknown Code = iota
	// CodeOutOfMemory covers allocation failure on the binding, a listener,
	// or a stateless context.
	CodeOutOfMemory
	// CodeInvalidAddress covers a local/remote address the datapath rejected.
	CodeInvalidAddress
	// CodeDatapathFailure covers any error propagated up from the datapath
	// collaborator (socket create, send, delete).
	CodeDatapathFailure
	// CodeProtocolViolation covers a received packet that fails invariant or
	// header validation; always logged-drop, never fatal to the binding.
	CodeProtocolViolation
	// CodeRateLimited covers a request rejected by a rate or capacity limit.
	CodeRateLimited
	// CodeShutdownRace covers a binding-ref acquire failing because
	// Uninitialize has begun.
	CodeShutdownRace
	// CodeCryptoFailure covers Retry token AEAD seal/open failures.
	CodeCryptoFailure
)

func (c Code) String() string {
	switch c {
	case CodeOutOfMemory:
		return "out_of_memory"
	case CodeInvalidAddress:
		return "invalid_address"
	case CodeDatapathFailure:
		return "datapath_failure"
	case CodeProtocolViolation:
		return "protocol_violation"
	case CodeRateLimited:
		return "rate_limited"
	case CodeShutdownRace:
		return "shutdown_race"
	case CodeCryptoFailure:
		return "crypto_failure"
	default:
		return "unknown"
	}
}

// Error is a coded error with an optional parent chain. It implements the
// standard unwrap-chain interfaces so errors.Is/As work against it and
// against the codes via Is(Code).
type Error struct {
	code   Code
	msg    string
	parent error
}

// New creates a coded error with no parent.
func New(code Code, msg string) *Error {
	return &Error{code: code, msg: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a parent error to a coded error.
func Wrap(code Code, msg string, parent error) *Error {
	return &Error{code: code, msg: msg, parent: parent}
}

func (e *Error) Error() string {
	if e.parent != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.msg, e.parent)
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

// Code returns the error's code.
func (e *Error) Code() Code { return e.code }

// Unwrap exposes the parent for errors.Is/As.
func (e *Error) Unwrap() error { return e.parent }

// Is reports whether target is a *Error with the same code, so callers can
// do errors.Is(err, qerr.New(qerr.CodeRateLimited, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.code == e.code
	}
	return false
}

// HasCode reports whether err (or any error in its chain) carries code.
func HasCode(err error, code Code) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.code == code {
			return true
		}
		if e.parent == nil {
			break
		}
		err = e.parent
	}
	return false
}
