package domain

import (
	"errors"
	"fmt"
)

// Error kinds shared by the service and transport layers. Concrete errors wrap
// one of these so callers can classify with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrPrecondition    = errors.New("precondition failed")
	ErrInvalidArgument = errors.New("invalid argument")
)

// NotFoundError is returned when a referenced entity does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     int64
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// Is lets NotFoundError match ErrNotFound.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

type kindError struct {
	kind error
	msg  string
}

func (e kindError) Error() string        { return e.msg }
func (e kindError) Is(target error) bool { return target == e.kind }

// ErrCaseAlreadySolved is returned when a resolved case is resolved again.
var ErrCaseAlreadySolved error = kindError{kind: ErrConflict, msg: "case already solved"}

// ErrDayIncomplete is returned when a day is advanced before both branches acted.
var ErrDayIncomplete error = kindError{kind: ErrPrecondition, msg: "Both actions must be completed to pass the day"}
