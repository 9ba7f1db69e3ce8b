package store

import "github.com/pkg/errors"

// ErrNotFound marks lookups for worlds, agents, chats or messages that do
// not exist. Tolerant callers test with errors.Is; imperative operations
// propagate it verbatim.
var ErrNotFound = errors.New("not found")

// ErrConflict marks duplicate identifiers, e.g. importing a world whose id
// already exists. The wrapping message names the offending id.
var ErrConflict = errors.New("conflict")

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}

// ErrValidation builds a validation error. Validation failures fail fast
// and are never persisted.
func ErrValidation(msg string) error {
	return &validationError{msg: msg}
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	var ve *validationError
	return errors.As(err, &ve)
}
