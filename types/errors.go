package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can branch without
// inspecting messages.
type ErrorKind string

const (
	KindTransport       ErrorKind = "transport"
	KindAuth            ErrorKind = "auth"
	KindNotFound        ErrorKind = "not_found"
	KindRemoteExecution ErrorKind = "remote_execution"
	KindParse           ErrorKind = "parse"
	KindConflict        ErrorKind = "conflict"
	KindImmutable       ErrorKind = "immutable"
	KindBusy            ErrorKind = "busy"
	KindValidation      ErrorKind = "validation"
	KindPolicyDenied    ErrorKind = "policy_denied"
)

// Retryable reports whether retrying the same call could succeed later.
// Configuration problems and remote script failures never are.
func (k ErrorKind) Retryable() bool {
	return k == KindTransport || k == KindBusy
}

// Error is the typed error surfaced by every layer of nexconv.
type Error struct {
	Kind     ErrorKind
	Op       string // script or operation name, e.g. "upsert_repo_v1"
	Resource string // object identity, when known
	Message  string // remote message verbatim for KindRemoteExecution
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Resource != "" {
		msg += fmt.Sprintf(" [%s]", e.Resource)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError constructs a typed error.
func NewError(kind ErrorKind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of the first typed error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// WithResource stamps the object identity on a typed error, leaving
// other errors wrapped with the identity in their message.
func WithResource(err error, resource string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Resource == "" {
			cp := *e
			cp.Resource = resource
			return &cp
		}
		return err
	}
	return fmt.Errorf("%s: %w", resource, err)
}
