package repository

import (
	"context"
	"time"

	"emotion-comfort/internal/domain"
)

// SessionRepository stores and retrieves live comfort sessions.
type SessionRepository interface {
	// FindByID looks a session up by its id. Returns ErrSessionNotFound
	// if it does not exist.
	FindByID(ctx context.Context, sessionID string) (*domain.Session, error)

	// Create inserts a new session row.
	Create(ctx context.Context, session *domain.Session) error

	// ListActive returns sessions with status in (waiting, active) and
	// end_time after now, newest first.
	ListActive(ctx context.Context, now time.Time) ([]domain.Session, error)

	// ExistsByID reports whether a session id is already taken.
	ExistsByID(ctx context.Context, sessionID string) (bool, error)

	// IncrementIfJoinable is the capacity coordinator's serialization
	// point at the store: in a single conditional update it increments
	// current_users only while current_users < max_users and the session
	// is not ended, and advances waiting -> active when the new count
	// reaches the activation threshold. Returns ErrConflict when the
	// condition did not hold (full or ended) and ErrSessionNotFound when
	// no such session exists.
	IncrementIfJoinable(ctx context.Context, sessionID string) (*domain.Session, error)

	// DecrementCount lowers current_users by one, floored at zero.
	DecrementCount(ctx context.Context, sessionID string) (*domain.Session, error)

	// FindExpired returns ids of sessions whose end_time has passed but
	// whose status is not yet ended.
	FindExpired(ctx context.Context, now time.Time) ([]string, error)

	// MarkEnded sets status=ended if the session is not already ended.
	// Reports whether this call performed the transition.
	MarkEnded(ctx context.Context, sessionID string) (bool, error)
}

// ParticipantRepository stores session membership rows.
type ParticipantRepository interface {
	// Upsert creates an active membership, or reactivates an inactive
	// one. Reports whether the user was already an active participant
	// (in which case nothing changed).
	Upsert(ctx context.Context, sessionID string, userID uint, now time.Time) (alreadyActive bool, err error)

	// Deactivate marks the active membership inactive and stamps
	// left_at. Deactivating a non-member or an already-inactive member
	// is a no-op; the returned flag tells the caller whether a row
	// actually changed.
	Deactivate(ctx context.Context, sessionID string, userID uint, now time.Time) (changed bool, err error)

	// IsActive reports whether the user currently holds an active
	// membership in the session.
	IsActive(ctx context.Context, sessionID string, userID uint) (bool, error)

	// DeactivateBySession deactivates every active membership of a
	// session. Used by the expiry sweep. Returns the number of rows
	// changed.
	DeactivateBySession(ctx context.Context, sessionID string, now time.Time) (int64, error)
}

// MessageRepository stores the capped per-session message log.
type MessageRepository interface {
	// Insert appends a message.
	Insert(ctx context.Context, msg *domain.Message) error

	// TrimToRecent deletes all but the `keep` most recent messages of
	// the session.
	TrimToRecent(ctx context.Context, sessionID string, keep int) error

	// CountBySession returns the number of retained messages.
	CountBySession(ctx context.Context, sessionID string) (int64, error)
}
