package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies failures for boundary translation. Domain packages wrap
// their sentinel errors into one of these kinds; the HTTP layer maps kinds
// to status codes and localized messages without inspecting internals.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	KindValidation   Kind = "validation"
	KindGateway      Kind = "gateway"
	KindUnexpected   Kind = "unexpected"
)

type Error struct {
	Kind Kind
	// Code is a stable machine-readable identifier, e.g. "order_not_found".
	Code string
	// Field carries field-level detail for validation errors.
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

func NotFound(code string, err error) *Error { return New(KindNotFound, code, err) }

func Validation(code, field string) *Error {
	return &Error{Kind: KindValidation, Code: code, Field: field}
}

// KindOf extracts the kind from an error chain, defaulting to unexpected.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnexpected
}

// CodeOf extracts the stable code, or "internal_error" when none is present.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return "internal_error"
}

func FieldOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Field
	}
	return ""
}
