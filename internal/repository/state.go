package repository

import (
	"context"
	"time"
)

// StateRepository covers the volatile per-session state kept in Redis:
// the join/leave/post serialization lock, the cached participant count,
// and the request rate limiter.
type StateRepository interface {
	// AcquireSessionLock takes the per-session mutex. It retries until
	// the context deadline and returns an opaque release token, or
	// ErrLockNotAcquired when the deadline hits first. The lock carries
	// a TTL so a crashed holder cannot wedge the session.
	AcquireSessionLock(ctx context.Context, sessionID string) (token string, err error)

	// ReleaseSessionLock releases the mutex if the token still owns it.
	ReleaseSessionLock(ctx context.Context, sessionID string, token string) error

	// SetParticipantCount caches the committed participant count for
	// cheap reads by the presence endpoints.
	SetParticipantCount(ctx context.Context, sessionID string, count int) error

	// CleanupSessionState removes the volatile keys of an ended session.
	CleanupSessionState(ctx context.Context, sessionID string) error

	// CheckRateLimit increments the counter behind key and reports
	// whether the fixed window limit is now exceeded.
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
