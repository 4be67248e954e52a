package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"emotion-comfort/internal/domain"
	"emotion-comfort/internal/repository"
	"emotion-comfort/internal/repository/mocks"
	"emotion-comfort/internal/service"
)

// recordingBroadcaster captures emissions in order for assertions.
type emission struct {
	sessionID string
	event     string
	payload   interface{}
}

type recordingBroadcaster struct {
	mu        sync.Mutex
	emissions []emission
}

func (b *recordingBroadcaster) EmitToRoom(sessionID string, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emissions = append(b.emissions, emission{sessionID, event, payload})
}

func (b *recordingBroadcaster) EmitToUser(userID uint, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emissions = append(b.emissions, emission{"", event, payload})
}

func (b *recordingBroadcaster) all() []emission {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]emission, len(b.emissions))
	copy(out, b.emissions)
	return out
}

type liveFixture struct {
	sessions     *mocks.SessionRepository
	participants *mocks.ParticipantRepository
	messages     *mocks.MessageRepository
	state        *mocks.StateRepository
	broadcaster  *recordingBroadcaster
	svc          *service.LiveService
}

func newLiveFixture() *liveFixture {
	f := &liveFixture{
		sessions:     new(mocks.SessionRepository),
		participants: new(mocks.ParticipantRepository),
		messages:     new(mocks.MessageRepository),
		state:        new(mocks.StateRepository),
		broadcaster:  &recordingBroadcaster{},
	}
	f.svc = service.NewLiveService(f.sessions, f.participants, f.messages, f.state, f.broadcaster)
	return f
}

func (f *liveFixture) expectLock(sessionID string) {
	f.state.On("AcquireSessionLock", mock.Anything, sessionID).Return("tok-1", nil)
	f.state.On("ReleaseSessionLock", mock.Anything, sessionID, "tok-1").Return(nil)
}

func joinableSession(sessionID string, current, max int) *domain.Session {
	return &domain.Session{
		SessionID:    sessionID,
		EmotionTag:   "sad",
		CurrentUsers: current,
		MaxUsers:     max,
		Status:       domain.StatusWaiting,
		StartTime:    time.Now().Add(-time.Minute),
		EndTime:      time.Now().Add(time.Hour),
	}
}

func TestLiveService_Join_Success(t *testing.T) {
	f := newLiveFixture()
	ctx := context.Background()
	const sid = "live_sad_aa000001"

	f.expectLock(sid)
	f.sessions.On("FindByID", mock.Anything, sid).Return(joinableSession(sid, 1, 10), nil).Once()
	f.participants.On("IsActive", mock.Anything, sid, uint(7)).Return(false, nil).Once()

	updated := joinableSession(sid, 2, 10)
	f.sessions.On("IncrementIfJoinable", mock.Anything, sid).Return(updated, nil).Once()
	f.participants.On("Upsert", mock.Anything, sid, uint(7), mock.AnythingOfType("time.Time")).
		Return(false, nil).Once()
	f.state.On("SetParticipantCount", mock.Anything, sid, 2).Return(nil).Once()

	got, err := f.svc.Join(ctx, sid, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentUsers)

	// Join announces the newcomer, then the fresh count, in that order.
	emitted := f.broadcaster.all()
	require.Len(t, emitted, 2)
	assert.Equal(t, service.EventUserJoined, emitted[0].event)
	joined, ok := emitted[0].payload.(service.JoinedPayload)
	require.True(t, ok)
	assert.Equal(t, "새로운 분이 함께하고 있어요", joined.Message)
	assert.False(t, joined.Timestamp.IsZero())
	assert.Equal(t, service.EventParticipantCount, emitted[1].event)
	assert.Equal(t, 2, emitted[1].payload)

	f.sessions.AssertExpectations(t)
	f.participants.AssertExpectations(t)
	f.state.AssertExpectations(t)
}

func TestLiveService_Join_AlreadyMemberIsNoOp(t *testing.T) {
	f := newLiveFixture()
	const sid = "live_sad_aa000001"

	f.expectLock(sid)
	f.sessions.On("FindByID", mock.Anything, sid).Return(joinableSession(sid, 3, 10), nil).Once()
	f.participants.On("IsActive", mock.Anything, sid, uint(7)).Return(true, nil).Once()

	got, err := f.svc.Join(context.Background(), sid, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentUsers)

	f.sessions.AssertNotCalled(t, "IncrementIfJoinable", mock.Anything, mock.Anything)
	assert.Empty(t, f.broadcaster.all(), "rejoin must not re-announce")
}

func TestLiveService_Join_Full(t *testing.T) {
	f := newLiveFixture()
	const sid = "live_sad_aa000001"

	f.expectLock(sid)
	f.sessions.On("FindByID", mock.Anything, sid).Return(joinableSession(sid, 10, 10), nil).Once()
	f.participants.On("IsActive", mock.Anything, sid, uint(7)).Return(false, nil).Once()
	f.sessions.On("IncrementIfJoinable", mock.Anything, sid).Return(nil, repository.ErrConflict).Once()

	_, err := f.svc.Join(context.Background(), sid, 7)
	assert.ErrorIs(t, err, service.ErrSessionFull)
	assert.Empty(t, f.broadcaster.all())
}

func TestLiveService_Join_Ended(t *testing.T) {
	f := newLiveFixture()
	const sid = "live_sad_aa000001"

	ended := joinableSession(sid, 2, 10)
	ended.Status = domain.StatusEnded

	f.expectLock(sid)
	f.sessions.On("FindByID", mock.Anything, sid).Return(ended, nil).Once()

	_, err := f.svc.Join(context.Background(), sid, 7)
	assert.ErrorIs(t, err, service.ErrSessionEnded)
	f.participants.AssertNotCalled(t, "IsActive", mock.Anything, mock.Anything, mock.Anything)
}

func TestLiveService_Join_NotFound(t *testing.T) {
	f := newLiveFixture()
	const sid = "live_sad_missing1"

	f.expectLock(sid)
	f.sessions.On("FindByID", mock.Anything, sid).Return(nil, repository.ErrSessionNotFound).Once()

	_, err := f.svc.Join(context.Background(), sid, 7)
	assert.ErrorIs(t, err, service.ErrSessionNotFound)
}

func TestLiveService_Join_LockTimeout(t *testing.T) {
	f := newLiveFixture()
	const sid = "live_sad_aa000001"

	f.state.On("AcquireSessionLock", mock.Anything, sid).
		Return("", repository.ErrLockNotAcquired).Once()

	_, err := f.svc.Join(context.Background(), sid, 7)
	assert.ErrorIs(t, err, service.ErrInternalServer)
	f.sessions.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestLiveService_Join_RollsBackCountWhenMembershipFails(t *testing.T) {
	f := newLiveFixture()
	const sid = "live_sad_aa000001"

	f.expectLock(sid)
	f.sessions.On("FindByID", mock.Anything, sid).Return(joinableSession(sid, 1, 10), nil).Once()
	f.participants.On("IsActive", mock.Anything, sid, uint(7)).Return(false, nil).Once()
	f.sessions.On("IncrementIfJoinable", mock.Anything, sid).Return(joinableSession(sid, 2, 10), nil).Once()
	f.participants.On("Upsert", mock.Anything, sid, uint(7), mock.Anything).
		Return(false, errors.New("deadlock")).Once()
	f.sessions.On("DecrementCount", mock.Anything, sid).Return(joinableSession(sid, 1, 10), nil).Once()

	_, err := f.svc.Join(context.Background(), sid, 7)
	assert.ErrorIs(t, err, service.ErrInternalServer)
	assert.Empty(t, f.broadcaster.all(), "a failed join must not be announced")
	f.sessions.AssertExpectations(t)
}

func TestLiveService_Join_RetriesTransientIncrementOnce(t *testing.T) {
	f := newLiveFixture()
	const sid = "live_sad_aa000001"

	f.expectLock(sid)
	f.sessions.On("FindByID", mock.Anything, sid).Return(joinableSession(sid, 1, 10), nil).Once()
	f.participants.On("IsActive", mock.Anything, sid, uint(7)).Return(false, nil).Once()
	f.sessions.On("IncrementIfJoinable", mock.Anything, sid).
		Return(nil, errors.New("bad connection")).Once()
	f.sessions.On("IncrementIfJoinable", mock.Anything, sid).
		Return(joinableSession(sid, 2, 10), nil).Once()
	f.participants.On("Upsert", mock.Anything, sid, uint(7), mock.Anything).Return(false, nil).Once()
	f.state.On("SetParticipantCount", mock.Anything, sid, 2).Return(nil).Once()

	_, err := f.svc.Join(context.Background(), sid, 7)
	require.NoError(t, err)
	f.sessions.AssertExpectations(t)
}

func TestLiveService_Leave_Success(t *testing.T) {
	f := newLiveFixture()
	const sid = "live_sad_aa000001"

	f.expectLock(sid)
	f.participants.On("Deactivate", mock.Anything, sid, uint(7), mock.Anything).Return(true, nil).Once()
	f.sessions.On("DecrementCount", mock.Anything, sid).Return(joinableSession(sid, 1, 10), nil).Once()
	f.state.On("SetParticipantCount", mock.Anything, sid, 1).Return(nil).Once()

	err := f.svc.Leave(context.Background(), sid, 7)
	require.NoError(t, err)

	emitted := f.broadcaster.all()
	require.Len(t, emitted, 1)
	assert.Equal(t, service.EventParticipantCount, emitted[0].event)
	assert.Equal(t, 1, emitted[0].payload)
}

func TestLiveService_Leave_Idempotent(t *testing.T) {
	f := newLiveFixture()
	const sid = "live_sad_aa000001"

	f.expectLock(sid)
	f.participants.On("Deactivate", mock.Anything, sid, uint(7), mock.Anything).Return(false, nil).Twice()

	// A second leave, or a leave by a non-member, silently succeeds and
	// moves no count.
	require.NoError(t, f.svc.Leave(context.Background(), sid, 7))
	require.NoError(t, f.svc.Leave(context.Background(), sid, 7))

	f.sessions.AssertNotCalled(t, "DecrementCount", mock.Anything, mock.Anything)
	assert.Empty(t, f.broadcaster.all())
}

func TestLiveService_PostMessage_EmotionShared(t *testing.T) {
	f := newLiveFixture()
	const sid = "live_sad_aa000001"

	f.expectLock(sid)
	f.sessions.On("FindByID", mock.Anything, sid).Return(joinableSession(sid, 3, 10), nil).Once()
	f.participants.On("IsActive", mock.Anything, sid, uint(1234)).Return(true, nil).Once()

	var inserted *domain.Message
	f.messages.On("Insert", mock.Anything, mock.AnythingOfType("*domain.Message")).
		Run(func(args mock.Arguments) { inserted = args.Get(1).(*domain.Message) }).
		Return(nil).Once()
	f.messages.On("TrimToRecent", mock.Anything, sid, domain.RetentionCap).Return(nil).Once()

	err := f.svc.PostMessage(context.Background(), sid, 1234, domain.MessageEmotion, "<b>불안해요</b>")
	require.NoError(t, err)

	require.NotNil(t, inserted)
	assert.Equal(t, "b불안해요/b", inserted.Content, "angle brackets are stripped before storage")
	assert.Equal(t, domain.MessageEmotion, inserted.Kind)
	assert.Equal(t, uint(1234), inserted.UserID)

	emitted := f.broadcaster.all()
	require.Len(t, emitted, 1)
	assert.Equal(t, service.EventEmotionShared, emitted[0].event)
	payload, ok := emitted[0].payload.(service.EmotionPayload)
	require.True(t, ok)
	assert.Equal(t, "b불안해요/b", payload.Emotion)
	assert.Equal(t, "익명 234", payload.AnonymousName)
}

func TestLiveService_PostMessage_ComfortUsesWarmPseudonym(t *testing.T) {
	f := newLiveFixture()
	const sid = "live_sad_aa000001"

	f.expectLock(sid)
	f.sessions.On("FindByID", mock.Anything, sid).Return(joinableSession(sid, 3, 10), nil).Once()
	f.participants.On("IsActive", mock.Anything, sid, uint(42)).Return(true, nil).Once()
	f.messages.On("Insert", mock.Anything, mock.Anything).Return(nil).Once()
	f.messages.On("TrimToRecent", mock.Anything, sid, domain.RetentionCap).Return(nil).Once()

	err := f.svc.PostMessage(context.Background(), sid, 42, domain.MessageComfort, "괜찮아질 거예요")
	require.NoError(t, err)

	emitted := f.broadcaster.all()
	require.Len(t, emitted, 1)
	assert.Equal(t, service.EventComfortMessage, emitted[0].event)
	payload, ok := emitted[0].payload.(service.ComfortPayload)
	require.True(t, ok)
	assert.Equal(t, "따뜻한 이웃 42", payload.AnonymousName)
}

func TestLiveService_PostMessage_NotParticipant(t *testing.T) {
	f := newLiveFixture()
	const sid = "live_sad_aa000001"

	f.expectLock(sid)
	f.sessions.On("FindByID", mock.Anything, sid).Return(joinableSession(sid, 3, 10), nil).Once()
	f.participants.On("IsActive", mock.Anything, sid, uint(9)).Return(false, nil).Once()

	err := f.svc.PostMessage(context.Background(), sid, 9, domain.MessageComfort, "hello")
	assert.ErrorIs(t, err, service.ErrNotParticipant)
	f.messages.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	assert.Empty(t, f.broadcaster.all())
}

func TestLiveService_PostMessage_InsertFailureDropsMessage(t *testing.T) {
	f := newLiveFixture()
	const sid = "live_sad_aa000001"

	f.expectLock(sid)
	f.sessions.On("FindByID", mock.Anything, sid).Return(joinableSession(sid, 3, 10), nil).Once()
	f.participants.On("IsActive", mock.Anything, sid, uint(9)).Return(true, nil).Once()
	f.messages.On("Insert", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

	err := f.svc.PostMessage(context.Background(), sid, 9, domain.MessageEmotion, "힘들어요")
	assert.ErrorIs(t, err, service.ErrInternalServer)
	f.messages.AssertNotCalled(t, "TrimToRecent", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.broadcaster.all(), "a dropped message must not be broadcast")
}

func TestLiveService_PostMessage_TrimFailureStillBroadcasts(t *testing.T) {
	f := newLiveFixture()
	const sid = "live_sad_aa000001"

	f.expectLock(sid)
	f.sessions.On("FindByID", mock.Anything, sid).Return(joinableSession(sid, 3, 10), nil).Once()
	f.participants.On("IsActive", mock.Anything, sid, uint(9)).Return(true, nil).Once()
	f.messages.On("Insert", mock.Anything, mock.Anything).Return(nil).Once()
	f.messages.On("TrimToRecent", mock.Anything, sid, domain.RetentionCap).
		Return(errors.New("lock wait timeout")).Once()

	err := f.svc.PostMessage(context.Background(), sid, 9, domain.MessageEmotion, "힘들어요")
	require.NoError(t, err, "the cap converges later, a missed trim is not an error")
	assert.Len(t, f.broadcaster.all(), 1)
}

func TestLiveService_QuickReaction_BroadcastOnly(t *testing.T) {
	f := newLiveFixture()
	const sid = "live_sad_aa000001"

	f.svc.QuickReaction(sid, "hug")

	emitted := f.broadcaster.all()
	require.Len(t, emitted, 1)
	assert.Equal(t, service.EventQuickReaction, emitted[0].event)
	payload, ok := emitted[0].payload.(service.ReactionPayload)
	require.True(t, ok)
	assert.Equal(t, "hug", payload.Reaction)
	assert.Equal(t, 1, payload.Count)

	// Reactions never touch the store or the lock.
	f.messages.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	f.state.AssertNotCalled(t, "AcquireSessionLock", mock.Anything, mock.Anything)
}

func TestLiveService_CloseExpired_FaultIsolation(t *testing.T) {
	f := newLiveFixture()

	f.sessions.On("FindExpired", mock.Anything, mock.AnythingOfType("time.Time")).
		Return([]string{"live_sad_aa000001", "live_sad_aa000002"}, nil).Once()

	f.expectLock("live_sad_aa000001")
	f.sessions.On("MarkEnded", mock.Anything, "live_sad_aa000001").
		Return(false, errors.New("deadlock")).Once()

	f.expectLock("live_sad_aa000002")
	f.sessions.On("MarkEnded", mock.Anything, "live_sad_aa000002").Return(true, nil).Once()
	f.participants.On("DeactivateBySession", mock.Anything, "live_sad_aa000002", mock.Anything).
		Return(int64(4), nil).Once()
	f.state.On("CleanupSessionState", mock.Anything, "live_sad_aa000002").Return(nil).Once()

	ended, err := f.svc.CloseExpired(context.Background())
	require.NoError(t, err, "one broken session must not abort the sweep")
	assert.Equal(t, 1, ended)

	emitted := f.broadcaster.all()
	require.Len(t, emitted, 2)
	assert.Equal(t, "live_sad_aa000002", emitted[0].sessionID)
	assert.Equal(t, service.EventSessionEnded, emitted[0].event)
	assert.Equal(t, service.EventParticipantCount, emitted[1].event)
	assert.Equal(t, 0, emitted[1].payload)
}

func TestLiveService_CloseExpired_SkipsAlreadyEnded(t *testing.T) {
	f := newLiveFixture()

	f.sessions.On("FindExpired", mock.Anything, mock.Anything).
		Return([]string{"live_sad_aa000001"}, nil).Once()
	f.expectLock("live_sad_aa000001")
	// Someone else won the transition between listing and locking.
	f.sessions.On("MarkEnded", mock.Anything, "live_sad_aa000001").Return(false, nil).Once()

	ended, err := f.svc.CloseExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ended)
	assert.Empty(t, f.broadcaster.all(), "an already-ended session is not re-announced")
	f.participants.AssertNotCalled(t, "DeactivateBySession", mock.Anything, mock.Anything, mock.Anything)
}
