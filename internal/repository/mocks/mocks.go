// Package mocks provides testify mock implementations of the
// repository interfaces for service and handler tests.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"emotion-comfort/internal/domain"
)

// SessionRepository is a mock of repository.SessionRepository.
type SessionRepository struct {
	mock.Mock
}

func (m *SessionRepository) FindByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	args := m.Called(ctx, sessionID)
	if s := args.Get(0); s != nil {
		return s.(*domain.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *SessionRepository) ListActive(ctx context.Context, now time.Time) ([]domain.Session, error) {
	args := m.Called(ctx, now)
	if s := args.Get(0); s != nil {
		return s.([]domain.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) ExistsByID(ctx context.Context, sessionID string) (bool, error) {
	args := m.Called(ctx, sessionID)
	return args.Bool(0), args.Error(1)
}

func (m *SessionRepository) IncrementIfJoinable(ctx context.Context, sessionID string) (*domain.Session, error) {
	args := m.Called(ctx, sessionID)
	if s := args.Get(0); s != nil {
		return s.(*domain.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) DecrementCount(ctx context.Context, sessionID string) (*domain.Session, error) {
	args := m.Called(ctx, sessionID)
	if s := args.Get(0); s != nil {
		return s.(*domain.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) FindExpired(ctx context.Context, now time.Time) ([]string, error) {
	args := m.Called(ctx, now)
	if s := args.Get(0); s != nil {
		return s.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) MarkEnded(ctx context.Context, sessionID string) (bool, error) {
	args := m.Called(ctx, sessionID)
	return args.Bool(0), args.Error(1)
}

// ParticipantRepository is a mock of repository.ParticipantRepository.
type ParticipantRepository struct {
	mock.Mock
}

func (m *ParticipantRepository) Upsert(ctx context.Context, sessionID string, userID uint, now time.Time) (bool, error) {
	args := m.Called(ctx, sessionID, userID, now)
	return args.Bool(0), args.Error(1)
}

func (m *ParticipantRepository) Deactivate(ctx context.Context, sessionID string, userID uint, now time.Time) (bool, error) {
	args := m.Called(ctx, sessionID, userID, now)
	return args.Bool(0), args.Error(1)
}

func (m *ParticipantRepository) IsActive(ctx context.Context, sessionID string, userID uint) (bool, error) {
	args := m.Called(ctx, sessionID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ParticipantRepository) DeactivateBySession(ctx context.Context, sessionID string, now time.Time) (int64, error) {
	args := m.Called(ctx, sessionID, now)
	return args.Get(0).(int64), args.Error(1)
}

// MessageRepository is a mock of repository.MessageRepository.
type MessageRepository struct {
	mock.Mock
}

func (m *MessageRepository) Insert(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MessageRepository) TrimToRecent(ctx context.Context, sessionID string, keep int) error {
	args := m.Called(ctx, sessionID, keep)
	return args.Error(0)
}

func (m *MessageRepository) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(int64), args.Error(1)
}

// StateRepository is a mock of repository.StateRepository.
type StateRepository struct {
	mock.Mock
}

func (m *StateRepository) AcquireSessionLock(ctx context.Context, sessionID string) (string, error) {
	args := m.Called(ctx, sessionID)
	return args.String(0), args.Error(1)
}

func (m *StateRepository) ReleaseSessionLock(ctx context.Context, sessionID string, token string) error {
	args := m.Called(ctx, sessionID, token)
	return args.Error(0)
}

func (m *StateRepository) SetParticipantCount(ctx context.Context, sessionID string, count int) error {
	args := m.Called(ctx, sessionID, count)
	return args.Error(0)
}

func (m *StateRepository) CleanupSessionState(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *StateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}
