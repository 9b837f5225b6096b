package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures crossing the integration layer.
type ErrorKind string

const (
	KindEngine       ErrorKind = "engine"
	KindDatabase     ErrorKind = "database"
	KindInvalidInput ErrorKind = "invalid input"
	KindNetwork      ErrorKind = "network"
	KindNotFound     ErrorKind = "not found"
	KindChannel      ErrorKind = "channel"
)

// Sentinels usable with errors.Is against any *Error of the same kind.
var (
	ErrEngine       = &Error{Kind: KindEngine}
	ErrDatabase     = &Error{Kind: KindDatabase}
	ErrInvalidInput = &Error{Kind: KindInvalidInput}
	ErrNetwork      = &Error{Kind: KindNetwork}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrChannel      = &Error{Kind: KindChannel}
)

// Error is a typed failure. Field is set for invalid-input errors, Retryable
// for network errors.
type Error struct {
	Kind      ErrorKind
	Field     string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	switch {
	case msg == "" && e.Err != nil:
		msg = e.Err.Error()
	case e.Err != nil:
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		return string(e.Kind) + " error"
	}
	if e.Kind == KindEngine {
		return "download engine error: " + msg
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Field == "" && t.Err == nil
}

// EngineError wraps an opaque engine failure.
func EngineError(msg string, err error) *Error {
	return &Error{Kind: KindEngine, Message: msg, Err: err}
}

// Database wraps a storage-layer failure for the named operation.
func Database(op string, err error) *Error {
	return &Error{Kind: KindDatabase, Message: op, Err: err}
}

// InvalidInput reports a rejected value for the named field.
func InvalidInput(field, msg string) *Error {
	return &Error{Kind: KindInvalidInput, Field: field, Message: msg}
}

// Network reports a transport failure.
func Network(msg string, retryable bool, err error) *Error {
	return &Error{Kind: KindNetwork, Message: msg, Retryable: retryable, Err: err}
}

// NotFound reports an unknown identifier.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Channel reports a send/receive on a closed channel.
func Channel(msg string) *Error {
	return &Error{Kind: KindChannel, Message: msg}
}

// KindOf returns the kind of err, or KindEngine for untyped errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindEngine
}
