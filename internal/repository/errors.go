package repository

import "errors"

// Common repository errors.
var (
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry means an insert or update violated a unique constraint.
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
	// ErrConflict means a conditional update matched no rows; the caller
	// must re-read to find out why.
	ErrConflict = errors.New("repository: conditional update conflict")
	// ErrLockNotAcquired means a per-session lock could not be taken
	// before the deadline.
	ErrLockNotAcquired = errors.New("repository: session lock not acquired")
)

// Resource-specific aliases.
var (
	ErrSessionNotFound = ErrNotFound
)
