package lifecycle

import (
	"errors"
	"fmt"
)

// Error kinds. All of them are recoverable by the caller.
var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrPreconditionFailed     = errors.New("precondition failed")
	ErrIncompleteCassetteSet  = errors.New("incomplete cassette set")
	ErrAlreadyReceived        = errors.New("already received")
	ErrAlreadyShipped         = errors.New("already shipped")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvalidInput           = errors.New("invalid input")
)

// Error carries the operation and entity that produced a domain error kind.
type Error struct {
	Kind   error
	Op     string
	Entity string
	ID     string
	Detail string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Entity != "" {
		msg += fmt.Sprintf(" (%s %s)", e.Entity, e.ID)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Kind }

// Errorf builds an *Error with a formatted detail.
func Errorf(kind error, op, entity, id, format string, args ...any) error {
	return &Error{
		Kind:   kind,
		Op:     op,
		Entity: entity,
		ID:     id,
		Detail: fmt.Sprintf(format, args...),
	}
}

// KindOf returns the sentinel kind of err, or nil if err is not a domain error.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrNotFound, ErrInvalidTransition, ErrPreconditionFailed, ErrIncompleteCassetteSet,
		ErrAlreadyReceived, ErrAlreadyShipped, ErrConcurrentModification, ErrInvalidInput,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
