package command

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrMissingArgument  = errors.New("missing required argument")
	ErrValidation       = errors.New("invalid argument")
	ErrForbidden        = errors.New("forbidden")
	ErrDuplicateCommand = errors.New("duplicate command")
)

type Kind string

const (
	KindUnknownCommand  Kind = "unknown_command"
	KindMissingArgument Kind = "missing_argument"
	KindValidation      Kind = "validation"
	KindForbidden       Kind = "forbidden"
)

// Error is a dispatch failure raised before a command body runs.
type Error struct {
	Kind    Kind
	Command string
	Arg     string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches the package sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindUnknownCommand:
		return target == ErrUnknownCommand
	case KindMissingArgument:
		return target == ErrMissingArgument
	case KindValidation:
		return target == ErrValidation
	case KindForbidden:
		return target == ErrForbidden
	}
	return false
}

func unknownCommand(id string) *Error {
	return &Error{
		Kind:    KindUnknownCommand,
		Command: id,
		Message: fmt.Sprintf("unknown command: %s", id),
	}
}

func missingArgument(id, arg string) *Error {
	return &Error{
		Kind:    KindMissingArgument,
		Command: id,
		Arg:     arg,
		Message: fmt.Sprintf("missing required argument: %s", arg),
	}
}

func invalidArgument(id, arg, msg string) *Error {
	return &Error{
		Kind:    KindValidation,
		Command: id,
		Arg:     arg,
		Message: fmt.Sprintf("%s: %s", arg, msg),
	}
}

func forbidden(id, role string) *Error {
	return &Error{
		Kind:    KindForbidden,
		Command: id,
		Message: fmt.Sprintf("role %q may not run %s", role, id),
	}
}
