package database

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested identity does not exist
	ErrNotFound = errors.New("not found")

	// ErrEmptyEmbedding is returned when a zero-length vector is stored
	ErrEmptyEmbedding = errors.New("empty embedding")
)

// Field names an identity field covered by a uniqueness constraint.
type Field string

const (
	FieldEmail      Field = "email"
	FieldIdentifier Field = "identifier"
)

// DuplicateFieldError reports which unique field collided.
type DuplicateFieldError struct {
	Field Field
}

func (e *DuplicateFieldError) Error() string {
	return fmt.Sprintf("%s already registered", e.Field)
}

// DuplicateField extracts the colliding field from err, if any.
func DuplicateField(err error) (Field, bool) {
	var dup *DuplicateFieldError
	if errors.As(err, &dup) {
		return dup.Field, true
	}
	return "", false
}
