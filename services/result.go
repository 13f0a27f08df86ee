package services

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ResultKind classifies a domain failure
type ResultKind string

const (
	KindValidation ResultKind = "validation"
	KindNotFound   ResultKind = "not_found"
	KindForbidden  ResultKind = "forbidden"
	KindConflict   ResultKind = "conflict"
)

// ResultError is a failed domain operation. Message is meant for the client and is
// passed through unchanged. Storage and infrastructure failures are plain errors.
type ResultError struct {
	Kind    ResultKind
	Message string
}

func (e *ResultError) Error() string {
	return e.Message
}

// AsResult unwraps err to a ResultError
func AsResult(err error) (*ResultError, bool) {
	var re *ResultError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsKind reports whether err is a ResultError of the given kind
func IsKind(err error, kind ResultKind) bool {
	re, ok := AsResult(err)
	return ok && re.Kind == kind
}

func validationError(msg string) error {
	return &ResultError{Kind: KindValidation, Message: msg}
}

func notFoundError(msg string) error {
	return &ResultError{Kind: KindNotFound, Message: msg}
}

func forbiddenError(msg string) error {
	return &ResultError{Kind: KindForbidden, Message: msg}
}

func conflictError(msg string) error {
	return &ResultError{Kind: KindConflict, Message: msg}
}

// isUniqueViolation detects duplicate key errors. Connections are opened with
// gorm's TranslateError, so dialects that translate report gorm.ErrDuplicatedKey;
// the message checks cover the PostgreSQL and SQLite texts when they do not.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "duplicate key value violates unique constraint") ||
		strings.Contains(errMsg, "unique constraint failed")
}
