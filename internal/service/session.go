package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"emotion-comfort/internal/domain"
	"emotion-comfort/internal/repository"
)

// Control-plane defaults, matching the historical behavior.
const (
	DefaultMaxUsers        = 10
	DefaultDurationSeconds = 3600
)

// SessionService is the control plane for live comfort sessions:
// creation and listing. Join/leave/post live on LiveService.
type SessionService struct {
	sessionRepo repository.SessionRepository
	now         func() time.Time
}

// NewSessionService creates a SessionService.
func NewSessionService(sessionRepo repository.SessionRepository) *SessionService {
	if sessionRepo == nil {
		panic("SessionRepository cannot be nil for SessionService")
	}
	return &SessionService{
		sessionRepo: sessionRepo,
		now:         time.Now,
	}
}

// CreateSession validates the input and creates a session in waiting
// state with start_time = now and end_time = now + duration.
func (s *SessionService) CreateSession(ctx context.Context, emotionTag string, maxUsers, durationSec int) (*domain.Session, error) {
	emotionTag = strings.TrimSpace(emotionTag)
	if emotionTag == "" {
		return nil, fmt.Errorf("%w: emotion_tag is required", ErrValidation)
	}
	if maxUsers == 0 {
		maxUsers = DefaultMaxUsers
	}
	if durationSec == 0 {
		durationSec = DefaultDurationSeconds
	}
	if maxUsers < 1 {
		return nil, fmt.Errorf("%w: max_users must be at least 1", ErrValidation)
	}
	if durationSec < 1 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrValidation)
	}

	logCtx := logrus.WithField("emotion_tag", emotionTag)

	sessionID, err := s.generateUniqueSessionID(ctx, emotionTag)
	if err != nil {
		logCtx.WithError(err).Error("Failed to generate unique session id")
		return nil, ErrInternalServer
	}

	start := s.now()
	session := &domain.Session{
		SessionID:    sessionID,
		EmotionTag:   emotionTag,
		CurrentUsers: 0,
		MaxUsers:     maxUsers,
		Status:       domain.StatusWaiting,
		StartTime:    start,
		EndTime:      start.Add(time.Duration(durationSec) * time.Second),
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		logCtx.WithError(err).Error("Failed to save new session")
		return nil, ErrInternalServer
	}

	logCtx.WithField("session_id", session.SessionID).Info("Session created")
	return session, nil
}

// ListActiveSessions returns sessions a client can still join or watch:
// waiting or active, deadline in the future.
func (s *SessionService) ListActiveSessions(ctx context.Context) ([]domain.Session, error) {
	sessions, err := s.sessionRepo.ListActive(ctx, s.now())
	if err != nil {
		logrus.WithError(err).Error("Failed to list active sessions")
		return nil, ErrInternalServer
	}
	return sessions, nil
}

// FindSessionByID resolves a session or reports it missing.
func (s *SessionService) FindSessionByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		logrus.WithError(err).WithField("session_id", sessionID).Error("Repository error finding session")
		return nil, ErrInternalServer
	}
	return session, nil
}

// generateUniqueSessionID retries the random suffix on the unlikely
// collision.
func (s *SessionService) generateUniqueSessionID(ctx context.Context, emotionTag string) (string, error) {
	const maxAttempts = 10
	for attempt := 0; attempt < maxAttempts; attempt++ {
		id, err := domain.NewSessionID(emotionTag)
		if err != nil {
			return "", err
		}
		exists, err := s.sessionRepo.ExistsByID(ctx, id)
		if err != nil {
			return "", fmt.Errorf("checking session id uniqueness: %w", err)
		}
		if !exists {
			return id, nil
		}
		logrus.WithField("session_id", id).Warnf("Generated session id already exists, retrying (attempt %d)", attempt+1)
	}
	return "", fmt.Errorf("failed to generate a unique session id after %d attempts", maxAttempts)
}
