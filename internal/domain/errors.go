package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrModuleNotFound indicates the module does not exist or is inactive.
	ErrModuleNotFound = errors.New("module not found")
	// ErrProgressNotFound indicates the user never touched the module.
	ErrProgressNotFound = errors.New("progress not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrBadgeNotFound    = errors.New("badge not found")
	// ErrRankNotFound indicates the user has no leaderboard entry yet.
	ErrRankNotFound   = errors.New("rank not found")
	ErrNoActiveModule = errors.New("no active module")

	// ErrActiveModuleConflict is returned when a different module is already active for the user.
	ErrActiveModuleConflict = errors.New("another module is already active")

	ErrValidation = errors.New("validation failed")

	// ErrCorruptModule marks catalog data the grader cannot score. It is never swallowed.
	ErrCorruptModule    = errors.New("corrupt module data")
	ErrUnknownCriterion = errors.New("unknown badge criterion")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries per-field details and unwraps to ErrValidation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Add records a field failure.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// OrNil returns nil when no field failed.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
