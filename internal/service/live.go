package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"emotion-comfort/internal/domain"
	"emotion-comfort/internal/repository"
)

// Server-to-client event names on the realtime channel.
const (
	EventUserJoined       = "user_joined"
	EventParticipantCount = "participant_count"
	EventEmotionShared    = "emotion_shared"
	EventComfortMessage   = "comfort_message"
	EventQuickReaction    = "quick_reaction"
	EventSessionEnded     = "session_ended"
	EventError            = "error"
)

// Broadcaster is the realtime transport as seen from the core. The
// implementation (the hub) owns the connection registry; the core never
// touches connection handles. Emission must be fire-and-forget: it may
// drop on a saturated client but must not block the caller.
type Broadcaster interface {
	EmitToRoom(sessionID string, event string, payload interface{})
	EmitToUser(userID uint, event string, payload interface{})
}

// Realtime payloads, mirroring the wire format clients expect.

type JoinedPayload struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type EmotionPayload struct {
	Emotion       string    `json:"emotion"`
	AnonymousName string    `json:"anonymous_name"`
	Timestamp     time.Time `json:"timestamp"`
}

type ComfortPayload struct {
	Message       string    `json:"message"`
	AnonymousName string    `json:"anonymous_name"`
	Timestamp     time.Time `json:"timestamp"`
}

type ReactionPayload struct {
	Reaction  string    `json:"reaction"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

const joinedMessage = "새로운 분이 함께하고 있어요"

// lockTimeout bounds how long a join/leave/post waits for its
// session's serialization lock before failing instead of deadlocking.
const lockTimeout = 2 * time.Second

// LiveService drives the session engine: capacity-checked joins,
// idempotent leaves, the capped message log and the expiry sweep. All
// mutations of one session are serialized behind the per-session lock,
// and every broadcast is emitted inside the locked region, so clients
// observe events in store commit order.
type LiveService struct {
	sessionRepo     repository.SessionRepository
	participantRepo repository.ParticipantRepository
	messageRepo     repository.MessageRepository
	stateRepo       repository.StateRepository
	broadcaster     Broadcaster
	now             func() time.Time
}

// NewLiveService creates a LiveService.
func NewLiveService(
	sessionRepo repository.SessionRepository,
	participantRepo repository.ParticipantRepository,
	messageRepo repository.MessageRepository,
	stateRepo repository.StateRepository,
	broadcaster Broadcaster,
) *LiveService {
	if sessionRepo == nil || participantRepo == nil || messageRepo == nil || stateRepo == nil {
		panic("all repositories must be non-nil for LiveService")
	}
	if broadcaster == nil {
		panic("Broadcaster cannot be nil for LiveService")
	}
	return &LiveService{
		sessionRepo:     sessionRepo,
		participantRepo: participantRepo,
		messageRepo:     messageRepo,
		stateRepo:       stateRepo,
		broadcaster:     broadcaster,
		now:             time.Now,
	}
}

// Join adds a user to a session. The capacity check and the increment
// are one conditional update at the store, so of N racing joins for the
// last slot exactly one succeeds. Reaching the activation threshold
// flips waiting -> active in the same statement.
func (s *LiveService) Join(ctx context.Context, sessionID string, userID uint) (*domain.Session, error) {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": userID})

	unlock, err := s.lockSession(ctx, sessionID, logCtx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		logCtx.WithError(err).Error("Repository error loading session for join")
		return nil, ErrInternalServer
	}
	if !session.Joinable(now) {
		return nil, ErrSessionEnded
	}

	// A second join from an already-active member is a no-op; it must
	// not consume a slot.
	active, err := s.participantRepo.IsActive(ctx, sessionID, userID)
	if err != nil {
		logCtx.WithError(err).Error("Repository error checking membership for join")
		return nil, ErrInternalServer
	}
	if active {
		return session, nil
	}

	updated, err := s.incrementWithRetry(ctx, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrSessionNotFound):
			return nil, ErrSessionNotFound
		case errors.Is(err, repository.ErrConflict):
			// The update refused: either no free slot or ended.
			if session.Status == domain.StatusEnded || session.Expired(now) {
				return nil, ErrSessionEnded
			}
			return nil, ErrSessionFull
		default:
			logCtx.WithError(err).Error("Failed to increment session count")
			return nil, ErrInternalServer
		}
	}

	if _, err := s.participantRepo.Upsert(ctx, sessionID, userID, now); err != nil {
		logCtx.WithError(err).Error("Failed to record membership, rolling back count")
		if _, derr := s.sessionRepo.DecrementCount(ctx, sessionID); derr != nil {
			logCtx.WithError(derr).Error("Rollback decrement failed")
		}
		return nil, ErrInternalServer
	}

	if err := s.stateRepo.SetParticipantCount(ctx, sessionID, updated.CurrentUsers); err != nil {
		logCtx.WithError(err).Warn("Failed to cache participant count")
	}

	s.broadcaster.EmitToRoom(sessionID, EventUserJoined, JoinedPayload{Message: joinedMessage, Timestamp: now})
	s.broadcaster.EmitToRoom(sessionID, EventParticipantCount, updated.CurrentUsers)

	logCtx.WithFields(logrus.Fields{"current_users": updated.CurrentUsers, "status": updated.Status}).Info("User joined session")
	return updated, nil
}

// Leave deactivates the membership and decrements the count, floored
// at zero. Leaving twice, or leaving a session never joined, changes
// nothing; disconnect teardown funnels through here as well.
func (s *LiveService) Leave(ctx context.Context, sessionID string, userID uint) error {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": userID})

	unlock, err := s.lockSession(ctx, sessionID, logCtx)
	if err != nil {
		return err
	}
	defer unlock()

	now := s.now()
	changed, err := s.deactivateWithRetry(ctx, sessionID, userID, now)
	if err != nil {
		logCtx.WithError(err).Error("Failed to deactivate membership")
		return ErrInternalServer
	}
	if !changed {
		// Not a member, or already left. Absorb silently.
		return nil
	}

	session, err := s.sessionRepo.DecrementCount(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		logCtx.WithError(err).Error("Failed to decrement session count")
		return ErrInternalServer
	}

	if err := s.stateRepo.SetParticipantCount(ctx, sessionID, session.CurrentUsers); err != nil {
		logCtx.WithError(err).Warn("Failed to cache participant count")
	}

	s.broadcaster.EmitToRoom(sessionID, EventParticipantCount, session.CurrentUsers)
	logCtx.WithField("current_users", session.CurrentUsers).Info("User left session")
	return nil
}

// PostMessage appends to the session's message log and fans the result
// out. The log is trimmed to the retention cap after every append. A
// failed insert drops the message entirely; nothing is broadcast.
func (s *LiveService) PostMessage(ctx context.Context, sessionID string, userID uint, kind domain.MessageKind, content string) error {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": userID, "kind": kind})

	unlock, err := s.lockSession(ctx, sessionID, logCtx)
	if err != nil {
		return err
	}
	defer unlock()

	now := s.now()
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		logCtx.WithError(err).Error("Repository error loading session for post")
		return ErrInternalServer
	}
	if !session.Joinable(now) {
		return ErrSessionEnded
	}

	active, err := s.participantRepo.IsActive(ctx, sessionID, userID)
	if err != nil {
		logCtx.WithError(err).Error("Repository error checking membership for post")
		return ErrInternalServer
	}
	if !active {
		return ErrNotParticipant
	}

	sanitized := domain.SanitizeContent(content)
	msg := &domain.Message{
		SessionID: sessionID,
		UserID:    userID,
		Kind:      kind,
		Content:   sanitized,
		CreatedAt: now,
	}
	if err := s.messageRepo.Insert(ctx, msg); err != nil {
		logCtx.WithError(err).Error("Failed to insert message, dropping")
		return ErrInternalServer
	}
	if err := s.messageRepo.TrimToRecent(ctx, sessionID, domain.RetentionCap); err != nil {
		// The cap converges; a missed trim only defers deletion.
		logCtx.WithError(err).Warn("Failed to trim message log")
	}

	switch kind {
	case domain.MessageEmotion:
		s.broadcaster.EmitToRoom(sessionID, EventEmotionShared, EmotionPayload{
			Emotion:       sanitized,
			AnonymousName: domain.AnonymousName(userID),
			Timestamp:     now,
		})
	case domain.MessageComfort:
		s.broadcaster.EmitToRoom(sessionID, EventComfortMessage, ComfortPayload{
			Message:       sanitized,
			AnonymousName: domain.ComfortName(userID),
			Timestamp:     now,
		})
	}

	logCtx.Debug("Message posted")
	return nil
}

// QuickReaction fans a transient reaction out to the room. Reactions
// are never persisted and skip the session lock.
func (s *LiveService) QuickReaction(sessionID string, reaction string) {
	s.broadcaster.EmitToRoom(sessionID, EventQuickReaction, ReactionPayload{
		Reaction:  reaction,
		Count:     1,
		Timestamp: s.now(),
	})
}

// CloseExpired is the expiry sweep body: every session past its
// deadline is moved to ended and its memberships are deactivated, with
// the same broadcasts a normal end produces. One session's failure
// never aborts the sweep of the others. Returns how many sessions were
// ended.
func (s *LiveService) CloseExpired(ctx context.Context) (int, error) {
	now := s.now()
	ids, err := s.sessionRepo.FindExpired(ctx, now)
	if err != nil {
		logrus.WithError(err).Error("Sweep: failed to list expired sessions")
		return 0, ErrInternalServer
	}

	ended := 0
	for _, sessionID := range ids {
		if err := s.closeOne(ctx, sessionID, now); err != nil {
			logrus.WithError(err).WithField("session_id", sessionID).Error("Sweep: failed to close session")
			continue
		}
		ended++
	}
	if ended > 0 {
		logrus.WithField("count", ended).Info("Sweep: expired sessions closed")
	}
	return ended, nil
}

// closeOne ends a single session under its lock. The lock is held only
// for the check-and-update, so a racing join either completes before
// the transition or fails cleanly against status=ended.
func (s *LiveService) closeOne(ctx context.Context, sessionID string, now time.Time) error {
	logCtx := logrus.WithField("session_id", sessionID)

	unlock, err := s.lockSession(ctx, sessionID, logCtx)
	if err != nil {
		return err
	}
	defer unlock()

	transitioned, err := s.sessionRepo.MarkEnded(ctx, sessionID)
	if err != nil {
		return err
	}
	if !transitioned {
		// Ended by someone else between listing and locking.
		return nil
	}
	if _, err := s.participantRepo.DeactivateBySession(ctx, sessionID, now); err != nil {
		return err
	}
	if err := s.stateRepo.CleanupSessionState(ctx, sessionID); err != nil {
		logCtx.WithError(err).Warn("Sweep: failed to clean volatile state")
	}

	s.broadcaster.EmitToRoom(sessionID, EventSessionEnded, nil)
	s.broadcaster.EmitToRoom(sessionID, EventParticipantCount, 0)
	logCtx.Info("Session ended by sweep")
	return nil
}

// lockSession acquires the per-session mutex under a bounded deadline
// and returns the release func.
func (s *LiveService) lockSession(ctx context.Context, sessionID string, logCtx *logrus.Entry) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	token, err := s.stateRepo.AcquireSessionLock(lockCtx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrLockNotAcquired) {
			logCtx.Warn("Session lock not acquired before deadline")
		} else {
			logCtx.WithError(err).Error("Failed to acquire session lock")
		}
		return nil, ErrInternalServer
	}
	unlock := func() {
		if err := s.stateRepo.ReleaseSessionLock(context.Background(), sessionID, token); err != nil {
			logCtx.WithError(err).Warn("Failed to release session lock")
		}
	}
	return unlock, nil
}

// incrementWithRetry retries the conditional increment once on a
// transient store failure. Domain refusals are never retried.
func (s *LiveService) incrementWithRetry(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.sessionRepo.IncrementIfJoinable(ctx, sessionID)
	if err == nil || errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrSessionNotFound) {
		return session, err
	}
	logrus.WithError(err).WithField("session_id", sessionID).Warn("Transient store error on join, retrying once")
	return s.sessionRepo.IncrementIfJoinable(ctx, sessionID)
}

// deactivateWithRetry retries the membership deactivation once on a
// transient store failure.
func (s *LiveService) deactivateWithRetry(ctx context.Context, sessionID string, userID uint, now time.Time) (bool, error) {
	changed, err := s.participantRepo.Deactivate(ctx, sessionID, userID, now)
	if err == nil {
		return changed, nil
	}
	logrus.WithError(err).WithField("session_id", sessionID).Warn("Transient store error on leave, retrying once")
	return s.participantRepo.Deactivate(ctx, sessionID, userID, now)
}
