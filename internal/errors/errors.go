package errors

import (
	"github.com/cockroachdb/errors"
)

// Sentinel markers. Errors are tagged with one of these via Mark so callers
// can branch on the category without caring about the message.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrVersionConflict    = errors.New("version conflict")
	ErrLockConflict       = errors.New("lock conflict")
	ErrValidation         = errors.New("validation error")
	ErrInvalidOperation   = errors.New("invalid operation")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrHTTPClient         = errors.New("http client error")
	ErrDatabase           = errors.New("database error")
	ErrSystem             = errors.New("system error")
	ErrInternal           = errors.New("internal error")
	ErrServiceUnavailable = errors.New("service unavailable")
)

var registeredMarkers = []error{
	ErrNotFound,
	ErrAlreadyExists,
	ErrVersionConflict,
	ErrLockConflict,
	ErrValidation,
	ErrInvalidOperation,
	ErrPermissionDenied,
	ErrHTTPClient,
	ErrDatabase,
	ErrSystem,
	ErrInternal,
	ErrServiceUnavailable,
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsLockConflict reports whether another worker currently holds the
// per-subscription guard.
func IsLockConflict(err error) bool {
	return errors.Is(err, ErrLockConflict)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

func IsDatabase(err error) bool {
	return errors.Is(err, ErrDatabase)
}

// As is re-exported so callers only need to import this package.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is is re-exported so callers only need to import this package.
func Is(err, reference error) bool {
	return errors.Is(err, reference)
}
