package faceauth

import (
	"errors"
	"fmt"
	"math"

	"github.com/kozaktomas/face-auth/internal/database"
)

// Kind classifies coordinator failures.
type Kind string

const (
	KindIncompleteInput          Kind = "incomplete_input"
	KindInvalidImageFormat       Kind = "invalid_image_format"
	KindInsufficientValidSamples Kind = "insufficient_valid_samples"
	KindDuplicateField           Kind = "duplicate_field"
	KindStorageFailure           Kind = "storage_failure"
	KindNoFaceDetected           Kind = "no_face_detected"
	KindNotRecognized            Kind = "not_recognized"
	KindNotFound                 Kind = "not_found"
	KindClassifierRebuildFailure Kind = "classifier_rebuild_failure"
	KindExtractorFailure         Kind = "extractor_failure"
	KindSessionFailure           Kind = "session_failure"
)

// Error is the typed failure returned by the coordinators.
type Error struct {
	Kind    Kind
	Message string

	// Field is set for KindDuplicateField.
	Field database.Field
	// Distance is the closest non-match for KindNotRecognized, +Inf when the
	// store held nothing to compare against.
	Distance float64

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HasDistance reports whether a closest non-match distance is available.
func (e *Error) HasDistance() bool {
	return e.Kind == KindNotRecognized && !math.IsInf(e.Distance, 1)
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind around a cause.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func duplicate(field database.Field) *Error {
	return &Error{
		Kind:    KindDuplicateField,
		Message: fmt.Sprintf("%s already registered", field),
		Field:   field,
	}
}

func notRecognized(distance float64) *Error {
	return &Error{
		Kind:     KindNotRecognized,
		Message:  "face not recognized",
		Distance: distance,
	}
}

// KindOf returns the kind of a coordinator error, or "" for other errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HasKind reports whether err is a coordinator error of the given kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
