// Package apperr defines the error taxonomy surfaced by the data provider.
// Every error leaving the provider is one of four kinds: validation, schema,
// query or configuration. Kinds decide propagation: validation errors are
// never swallowed, schema errors may degrade locally, query errors always
// carry their cause.
package apperr

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an Error.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindSchema        Kind = "schema"
	KindQuery         Kind = "query"
	KindConfiguration Kind = "configuration"
)

// Codes attached to query errors raised by post-condition checks or
// normalized from driver constraint failures.
const (
	CodeNotFound            = "not_found"
	CodeUniqueViolation     = "unique_violation"
	CodeForeignKeyViolation = "foreign_key_violation"
	CodeNotNullViolation    = "not_null_violation"
	CodeConstraint          = "constraint_violation"
	CodeAccessDenied        = "access_denied"
	CodeNoRows              = "no_rows"
)

// Error is the structured error returned by provider operations.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, errors.Cause(e.Cause))
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Validation reports a malformed caller-supplied query description.
func Validation(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Schema reports a reference to a table, field or column that does not exist.
func Schema(format string, args ...interface{}) error {
	return &Error{Kind: KindSchema, Message: fmt.Sprintf(format, args...)}
}

// Query wraps a failed backend round-trip. The cause keeps its stack.
func Query(cause error, format string, args ...interface{}) error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Kind: KindQuery, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// QueryCode is Query with a machine-readable code.
func QueryCode(code string, cause error, format string, args ...interface{}) error {
	err := Query(cause, format, args...).(*Error)
	err.Code = code
	return err
}

// NotFound reports a missing record for a get-one, update or delete.
func NotFound(resource string, id interface{}) error {
	return &Error{
		Kind:    KindQuery,
		Code:    CodeNotFound,
		Message: fmt.Sprintf("record not found: %s with id %v", resource, id),
	}
}

// Configuration reports an adapter lacking a required capability.
func Configuration(format string, args ...interface{}) error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var target *Error
	if stderrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func isKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

func IsValidation(err error) bool    { return isKind(err, KindValidation) }
func IsSchema(err error) bool        { return isKind(err, KindSchema) }
func IsQuery(err error) bool         { return isKind(err, KindQuery) }
func IsConfiguration(err error) bool { return isKind(err, KindConfiguration) }

// IsNotFound reports whether err is a record-not-found query error.
func IsNotFound(err error) bool {
	e, ok := As(err)
	return ok && e.Kind == KindQuery && e.Code == CodeNotFound
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}
