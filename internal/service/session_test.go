package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"emotion-comfort/internal/domain"
	"emotion-comfort/internal/repository/mocks"
	"emotion-comfort/internal/service"
)

func TestSessionService_CreateSession_Defaults(t *testing.T) {
	mockSessions := new(mocks.SessionRepository)
	svc := service.NewSessionService(mockSessions)
	ctx := context.Background()

	mockSessions.On("ExistsByID", mock.Anything, mock.AnythingOfType("string")).
		Return(false, nil).Once()

	var saved *domain.Session
	mockSessions.On("Create", mock.Anything, mock.AnythingOfType("*domain.Session")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*domain.Session) }).
		Return(nil).Once()

	session, err := svc.CreateSession(ctx, "loneliness", 0, 0)
	require.NoError(t, err)
	require.NotNil(t, session)

	assert.Equal(t, "loneliness", session.EmotionTag)
	assert.Equal(t, service.DefaultMaxUsers, session.MaxUsers)
	assert.Equal(t, domain.StatusWaiting, session.Status)
	assert.Equal(t, 0, session.CurrentUsers)
	assert.True(t, strings.HasPrefix(session.SessionID, "live_loneliness_"))
	assert.Equal(t, time.Hour, session.EndTime.Sub(session.StartTime))
	assert.Same(t, saved, session)

	mockSessions.AssertExpectations(t)
}

func TestSessionService_CreateSession_Validation(t *testing.T) {
	mockSessions := new(mocks.SessionRepository)
	svc := service.NewSessionService(mockSessions)
	ctx := context.Background()

	tests := []struct {
		name       string
		emotionTag string
		maxUsers   int
		duration   int
	}{
		{"empty tag", "", 10, 3600},
		{"whitespace tag", "   ", 10, 3600},
		{"negative max users", "sad", -1, 3600},
		{"negative duration", "sad", 10, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateSession(ctx, tt.emotionTag, tt.maxUsers, tt.duration)
			assert.ErrorIs(t, err, service.ErrValidation)
		})
	}

	// No repository call should happen on invalid input.
	mockSessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSessionService_CreateSession_RetriesOnIDCollision(t *testing.T) {
	mockSessions := new(mocks.SessionRepository)
	svc := service.NewSessionService(mockSessions)
	ctx := context.Background()

	mockSessions.On("ExistsByID", mock.Anything, mock.AnythingOfType("string")).
		Return(true, nil).Once()
	mockSessions.On("ExistsByID", mock.Anything, mock.AnythingOfType("string")).
		Return(false, nil).Once()
	mockSessions.On("Create", mock.Anything, mock.AnythingOfType("*domain.Session")).
		Return(nil).Once()

	session, err := svc.CreateSession(ctx, "grief", 5, 600)
	require.NoError(t, err)
	assert.Equal(t, 5, session.MaxUsers)

	mockSessions.AssertExpectations(t)
}

func TestSessionService_CreateSession_StoreFailure(t *testing.T) {
	mockSessions := new(mocks.SessionRepository)
	svc := service.NewSessionService(mockSessions)
	ctx := context.Background()

	mockSessions.On("ExistsByID", mock.Anything, mock.AnythingOfType("string")).
		Return(false, nil).Once()
	mockSessions.On("Create", mock.Anything, mock.Anything).
		Return(errors.New("connection refused")).Once()

	_, err := svc.CreateSession(ctx, "anxiety", 0, 0)
	assert.ErrorIs(t, err, service.ErrInternalServer)
}

func TestSessionService_ListActiveSessions(t *testing.T) {
	mockSessions := new(mocks.SessionRepository)
	svc := service.NewSessionService(mockSessions)
	ctx := context.Background()

	want := []domain.Session{
		{SessionID: "live_sad_aa000001", Status: domain.StatusActive},
		{SessionID: "live_sad_aa000002", Status: domain.StatusWaiting},
	}
	mockSessions.On("ListActive", mock.Anything, mock.AnythingOfType("time.Time")).
		Return(want, nil).Once()

	got, err := svc.ListActiveSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSessionService_ListActiveSessions_StoreFailure(t *testing.T) {
	mockSessions := new(mocks.SessionRepository)
	svc := service.NewSessionService(mockSessions)

	mockSessions.On("ListActive", mock.Anything, mock.Anything).
		Return(nil, errors.New("timeout")).Once()

	_, err := svc.ListActiveSessions(context.Background())
	assert.ErrorIs(t, err, service.ErrInternalServer)
}
