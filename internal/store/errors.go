package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers both a missing entity and one not owned by the
	// acting user; callers surface it as "not found or no permission".
	ErrNotFound = errors.New("not found")
	// ErrAlreadyCompleted is the idempotence conflict on a second
	// completion attempt. Informational, not a failure.
	ErrAlreadyCompleted = errors.New("assignment already completed")
	// ErrNotCompleted rejects returning an assignment that is still open.
	ErrNotCompleted = errors.New("assignment not completed")
	// ErrNoReward rejects returning an assignment that paid nothing.
	ErrNoReward = errors.New("no reward was paid for assignment")
	// ErrInsufficientBalance rejects a manual deduction larger than the
	// child's current balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// ValidationError reports a bad input shape or value. No state changes when
// one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
