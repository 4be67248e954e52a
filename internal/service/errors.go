package service

import "errors"

// Business errors surfaced to handlers and the realtime layer. They
// follow the engine's taxonomy: validation, not found, capacity, state,
// and everything else collapses to an internal error the caller may
// retry.
var (
	ErrValidation      = errors.New("invalid input")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionFull     = errors.New("session is full")
	ErrSessionEnded    = errors.New("session has ended")
	ErrNotParticipant  = errors.New("user is not an active participant")
	ErrInternalServer  = errors.New("internal server error")
)
