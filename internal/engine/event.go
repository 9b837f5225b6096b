package engine

import "fmt"

// EventType enumerates engine notifications.
type EventType int

const (
	EventAdded EventType = iota
	EventStarted
	EventProgress
	EventPaused
	EventResumed
	EventCompleted
	EventFailed
	EventRemoved
)

func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventPaused:
		return "paused"
	case EventResumed:
		return "resumed"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is a single engine notification. Error and Retryable are set only for
// EventFailed.
type Event struct {
	Type      EventType
	ID        ID
	Error     string
	Retryable bool
}

// ErrorKind classifies engine failures.
type ErrorKind int

const (
	ErrInternal ErrorKind = iota
	ErrNotFound
	ErrInvalidInput
	ErrNetwork
	ErrStorage
	ErrShutdown
)

// Error is the engine's own error type.
type Error struct {
	Kind      ErrorKind
	Field     string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrNotFound:
		return "not found: " + e.Message
	case ErrInvalidInput:
		return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Message)
	case ErrNetwork:
		return "network error: " + e.Message
	case ErrStorage:
		return "storage error: " + e.Message
	case ErrShutdown:
		return "engine shut down"
	default:
		return "internal error: " + e.Message
	}
}

func NotFoundError(id ID) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("download %s", id)}
}

func InvalidInputError(field, msg string) *Error {
	return &Error{Kind: ErrInvalidInput, Field: field, Message: msg}
}

func NetworkError(msg string, retryable bool) *Error {
	return &Error{Kind: ErrNetwork, Message: msg, Retryable: retryable}
}

func StorageError(msg string) *Error {
	return &Error{Kind: ErrStorage, Message: msg}
}
