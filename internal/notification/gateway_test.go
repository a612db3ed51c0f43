package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"callsignal-backend/internal/domain"
	"callsignal-backend/internal/events"
	"callsignal-backend/pkg/push"
)

type MockPushSender struct {
	mock.Mock
}

func (m *MockPushSender) SendIncomingCall(ctx context.Context, data *push.CallNotificationData, calleeIDs []uuid.UUID, ringTTL time.Duration) error {
	return m.Called(ctx, data, calleeIDs, ringTTL).Error(0)
}

func (m *MockPushSender) SendCallEnded(ctx context.Context, data *push.CallNotificationData, participantIDs []uuid.UUID) error {
	return m.Called(ctx, data, participantIDs).Error(0)
}

func (m *MockPushSender) SendMissedCall(ctx context.Context, data *push.CallNotificationData, calleeIDs []uuid.UUID) error {
	return m.Called(ctx, data, calleeIDs).Error(0)
}

// recordingPublisher keeps every event it is handed
type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.CallEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event *events.CallEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) received() []*events.CallEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*events.CallEvent(nil), p.events...)
}

func ringingCall() *domain.Call {
	id := uuid.New()
	return &domain.Call{
		CallID:         id,
		ConversationID: uuid.New(),
		CallerID:       uuid.New(),
		RoomID:         domain.RoomForCall(id),
		CallType:       domain.CallTypeAudio,
		Status:         domain.CallStatusRinging,
		StartedAt:      time.Now(),
	}
}

func TestGateway_NotifyIncomingFansOut(t *testing.T) {
	pusher := new(MockPushSender)
	realtime := &recordingPublisher{}
	g, err := NewGateway(4, WithPush(pusher), WithPublisher("redis", realtime), WithRingTTL(45*time.Second))
	require.NoError(t, err)

	call := ringingCall()
	bob := uuid.New()
	pusher.On("SendIncomingCall", mock.Anything, mock.MatchedBy(func(d *push.CallNotificationData) bool {
		return d.CallID == call.CallID && d.CallerName == "Alice" && d.CallType == "audio"
	}), []uuid.UUID{bob}, 45*time.Second).Return(nil)

	g.NotifyIncoming(context.Background(), call, "Alice", []uuid.UUID{bob})
	require.NoError(t, g.Close(time.Second))

	pusher.AssertExpectations(t)
	got := realtime.received()
	require.Len(t, got, 1)
	assert.Equal(t, events.TypeIncoming, got[0].Type)
	assert.Equal(t, "Alice", got[0].CallerName)
	assert.Equal(t, []uuid.UUID{bob}, got[0].Recipients)
}

func TestGateway_FailuresAreSwallowed(t *testing.T) {
	pusher := new(MockPushSender)
	broken := &recordingPublisher{err: errors.New("redis down")}
	stream := &recordingPublisher{}
	g, err := NewGateway(2, WithPush(pusher), WithPublisher("redis", broken), WithPublisher("kafka", stream))
	require.NoError(t, err)

	pusher.On("SendCallEnded", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("provider down"))

	call := ringingCall()
	call.Status = domain.CallStatusEnded
	g.NotifyEnded(context.Background(), call, []uuid.UUID{uuid.New()})
	require.NoError(t, g.Close(time.Second))

	// a failing sink does not stop the others
	assert.Len(t, stream.received(), 1)
	pusher.AssertNumberOfCalls(t, "SendCallEnded", 1)
}

func TestGateway_NoRecipientsIsNoop(t *testing.T) {
	pusher := new(MockPushSender)
	realtime := &recordingPublisher{}
	g, err := NewGateway(1, WithPush(pusher), WithPublisher("redis", realtime))
	require.NoError(t, err)

	g.NotifyMissed(context.Background(), ringingCall(), "Alice", nil)
	require.NoError(t, g.Close(time.Second))

	assert.Empty(t, realtime.received())
	pusher.AssertNotCalled(t, "SendMissedCall", mock.Anything, mock.Anything, mock.Anything)
}

func TestGateway_ParticipantUpdateIsRealtimeOnly(t *testing.T) {
	pusher := new(MockPushSender)
	realtime := &recordingPublisher{}
	g, err := NewGateway(1, WithPush(pusher), WithPublisher("redis", realtime))
	require.NoError(t, err)

	call := ringingCall()
	p := &domain.CallParticipant{CallID: call.CallID, UserID: uuid.New(), Status: domain.ParticipantOngoing, IsMuted: true}
	g.NotifyParticipantUpdate(context.Background(), call, p, []uuid.UUID{call.CallerID})

	// later changes to the caller's copy do not leak into the event
	p.IsMuted = false
	require.NoError(t, g.Close(time.Second))

	got := realtime.received()
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Participant)
	assert.True(t, got[0].Participant.IsMuted)
	assert.Empty(t, pusher.Calls)
}

func TestGateway_SurvivesCancelledRequestContext(t *testing.T) {
	realtime := &recordingPublisher{}
	g, err := NewGateway(1, WithPublisher("redis", realtime))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g.NotifyEnded(ctx, ringingCall(), []uuid.UUID{uuid.New()})
	require.NoError(t, g.Close(time.Second))

	assert.Len(t, realtime.received(), 1)
}
