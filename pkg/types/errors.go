package types

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or missing request fields
	ErrValidation = errors.New("validation failed")

	// ErrPortConflict means the requested host port is already bound or reserved
	ErrPortConflict = errors.New("port conflict")

	// ErrAlreadyExists means a live instance already owns the canonical name
	ErrAlreadyExists = errors.New("already exists")

	// ErrRuntimeUnavailable means the container engine could not be reached
	ErrRuntimeUnavailable = errors.New("runtime unavailable")

	// ErrNotFound means a handle or name no longer refers to anything
	ErrNotFound = errors.New("not found")

	// ErrInstanceRunning means the operation requires a stopped instance
	ErrInstanceRunning = errors.New("instance is running")

	// ErrInstanceBusy means another operation on the instance is in progress
	ErrInstanceBusy = errors.New("instance is busy")

	// Authentication failures. All of them require the caller to log in again.
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrSessionExpired    = errors.New("session expired")
	ErrSessionSuperseded = errors.New("session superseded")

	// ErrArchive is the parent of every world archive failure
	ErrArchive        = errors.New("archive error")
	ErrWorldNotFound  = fmt.Errorf("%w: world directory not found", ErrArchive)
	ErrPathTraversal  = fmt.Errorf("%w: entry escapes target directory", ErrArchive)
	ErrCorruptArchive = fmt.Errorf("%w: corrupt archive", ErrArchive)
)

// IsAuthError reports whether err is one of the authentication failures
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrSessionSuperseded)
}

// Validationf builds an ErrValidation with a formatted reason
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
