// Package storetest holds behaviour checks shared by every call store
// implementation.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callsignal-backend/internal/domain"
)

// CallStore is the store surface exercised here
type CallStore interface {
	Create(ctx context.Context, call *domain.Call, participants []*domain.CallParticipant) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	GetActiveByConversation(ctx context.Context, conversationID uuid.UUID) (*domain.Call, error)
	GetParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error)
	Mutate(ctx context.Context, callID uuid.UUID, fn func(*domain.CallSession) error) (*domain.CallSession, error)
	ListStale(ctx context.Context, statuses []domain.CallStatus, startedBefore time.Time, limit int) ([]uuid.UUID, error)
	GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error)
	ListBusyUsers(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error)
}

// NewRingingCall builds a ringing call placed by caller with the callees
// ringing. Timestamps are truncated to microseconds so they survive a
// round trip through Postgres.
func NewRingingCall(startedAt time.Time, caller uuid.UUID, callees ...uuid.UUID) (*domain.Call, []*domain.CallParticipant) {
	startedAt = startedAt.UTC().Truncate(time.Microsecond)
	id := uuid.New()
	call := &domain.Call{
		CallID:         id,
		ConversationID: uuid.New(),
		CallerID:       caller,
		RoomID:         domain.RoomForCall(id),
		CallType:       domain.CallTypeAudio,
		Status:         domain.CallStatusRinging,
		StartedAt:      startedAt,
		CreatedAt:      startedAt,
		UpdatedAt:      startedAt,
	}

	joined := startedAt
	participants := []*domain.CallParticipant{{
		CallID:    id,
		UserID:    caller,
		Status:    domain.ParticipantOngoing,
		InvitedAt: startedAt,
		JoinedAt:  &joined,
	}}
	for _, u := range callees {
		participants = append(participants, &domain.CallParticipant{
			CallID:    id,
			UserID:    u,
			Status:    domain.ParticipantRinging,
			InvitedAt: startedAt,
		})
	}
	return call, participants
}

// Run executes every store check against store
func Run(t *testing.T, store CallStore) {
	t.Run("CreateAndRead", func(t *testing.T) { testCreateAndRead(t, store) })
	t.Run("OneActiveCallPerConversation", func(t *testing.T) { testOneActive(t, store) })
	t.Run("ConcurrentCreate", func(t *testing.T) { testConcurrentCreate(t, store) })
	t.Run("MutatePersistsChanges", func(t *testing.T) { testMutatePersists(t, store) })
	t.Run("MutateErrorRollsBack", func(t *testing.T) { testMutateRollback(t, store) })
	t.Run("ConcurrentJoins", func(t *testing.T) { testConcurrentJoins(t, store) })
	t.Run("ListStale", func(t *testing.T) { testListStale(t, store) })
	t.Run("UserCallsAndBusy", func(t *testing.T) { testUserCallsAndBusy(t, store) })
	t.Run("UnknownCall", func(t *testing.T) { testUnknownCall(t, store) })
}

func testCreateAndRead(t *testing.T, store CallStore) {
	ctx := context.Background()
	caller, bob := uuid.New(), uuid.New()
	call, participants := NewRingingCall(time.Now(), caller, bob)

	require.NoError(t, store.Create(ctx, call, participants))

	got, err := store.GetByID(ctx, call.CallID)
	require.NoError(t, err)
	assert.Equal(t, call.ConversationID, got.ConversationID)
	assert.Equal(t, domain.CallStatusRinging, got.Status)
	assert.True(t, call.StartedAt.Equal(got.StartedAt))
	assert.Nil(t, got.EndedAt)

	active, err := store.GetActiveByConversation(ctx, call.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, call.CallID, active.CallID)

	rows, err := store.GetParticipants(ctx, call.CallID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func testOneActive(t *testing.T, store CallStore) {
	ctx := context.Background()
	first, fp := NewRingingCall(time.Now(), uuid.New(), uuid.New())
	require.NoError(t, store.Create(ctx, first, fp))

	second, sp := NewRingingCall(time.Now(), uuid.New(), uuid.New())
	second.ConversationID = first.ConversationID
	for _, p := range sp {
		p.CallID = second.CallID
	}

	err := store.Create(ctx, second, sp)
	assert.ErrorIs(t, err, domain.ErrActiveCallExists)

	// once the first call ends the conversation is free again
	_, err = store.Mutate(ctx, first.CallID, func(s *domain.CallSession) error {
		s.End(time.Now())
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, store.Create(ctx, second, sp))
}

func testConcurrentCreate(t *testing.T, store CallStore) {
	ctx := context.Background()
	conversation := uuid.New()

	const attempts = 8
	var ok, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			call, participants := NewRingingCall(time.Now(), uuid.New(), uuid.New())
			call.ConversationID = conversation
			err := store.Create(ctx, call, participants)
			switch {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, domain.ErrActiveCallExists):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(attempts-1), conflicts.Load())
}

func testMutatePersists(t *testing.T, store CallStore) {
	ctx := context.Background()
	caller, bob, carol := uuid.New(), uuid.New(), uuid.New()
	call, participants := NewRingingCall(time.Now().Add(-time.Minute), caller, bob)
	require.NoError(t, store.Create(ctx, call, participants))

	now := time.Now().UTC().Truncate(time.Microsecond)
	session, err := store.Mutate(ctx, call.CallID, func(s *domain.CallSession) error {
		_, err := s.Join(bob, now)
		if err != nil {
			return err
		}
		_, err = s.Invite(carol, now)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusOngoing, session.Call.Status)

	got, err := store.GetByID(ctx, call.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusOngoing, got.Status)

	rows, err := store.GetParticipants(ctx, call.CallID)
	require.NoError(t, err)
	byUser := make(map[uuid.UUID]*domain.CallParticipant)
	for _, p := range rows {
		byUser[p.UserID] = p
	}
	require.Len(t, byUser, 3)
	assert.Equal(t, domain.ParticipantOngoing, byUser[bob].Status)
	require.NotNil(t, byUser[bob].JoinedAt)
	assert.True(t, now.Equal(*byUser[bob].JoinedAt))
	assert.Equal(t, domain.ParticipantRinging, byUser[carol].Status)
}

func testMutateRollback(t *testing.T, store CallStore) {
	ctx := context.Background()
	call, participants := NewRingingCall(time.Now(), uuid.New(), uuid.New())
	require.NoError(t, store.Create(ctx, call, participants))

	_, err := store.Mutate(ctx, call.CallID, func(s *domain.CallSession) error {
		s.End(time.Now())
		return domain.ErrParticipantNotFound
	})
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)

	got, err := store.GetByID(ctx, call.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, got.Status)
}

func testConcurrentJoins(t *testing.T, store CallStore) {
	ctx := context.Background()
	callees := make([]uuid.UUID, 6)
	for i := range callees {
		callees[i] = uuid.New()
	}
	call, participants := NewRingingCall(time.Now(), uuid.New(), callees...)
	require.NoError(t, store.Create(ctx, call, participants))

	var wg sync.WaitGroup
	for _, u := range callees {
		wg.Add(1)
		go func(u uuid.UUID) {
			defer wg.Done()
			_, err := store.Mutate(ctx, call.CallID, func(s *domain.CallSession) error {
				_, err := s.Join(u, time.Now())
				return err
			})
			assert.NoError(t, err)
		}(u)
	}
	wg.Wait()

	rows, err := store.GetParticipants(ctx, call.CallID)
	require.NoError(t, err)
	assert.Len(t, rows, len(callees)+1)
	for _, p := range rows {
		assert.Equal(t, domain.ParticipantOngoing, p.Status)
	}
}

func testListStale(t *testing.T, store CallStore) {
	ctx := context.Background()
	cutoff := time.Now().Add(-time.Hour)

	old, op := NewRingingCall(cutoff.Add(-time.Minute), uuid.New(), uuid.New())
	fresh, fp := NewRingingCall(time.Now(), uuid.New(), uuid.New())
	require.NoError(t, store.Create(ctx, old, op))
	require.NoError(t, store.Create(ctx, fresh, fp))

	ids, err := store.ListStale(ctx, domain.ActiveCallStatuses(), cutoff, 1000)
	require.NoError(t, err)
	assert.Contains(t, ids, old.CallID)
	assert.NotContains(t, ids, fresh.CallID)

	ids, err = store.ListStale(ctx, []domain.CallStatus{domain.CallStatusOngoing}, cutoff, 1000)
	require.NoError(t, err)
	assert.NotContains(t, ids, old.CallID)
}

func testUserCallsAndBusy(t *testing.T, store CallStore) {
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	older, op := NewRingingCall(time.Now().Add(-2*time.Hour), alice, bob)
	require.NoError(t, store.Create(ctx, older, op))
	_, err := store.Mutate(ctx, older.CallID, func(s *domain.CallSession) error {
		s.End(time.Now())
		return nil
	})
	require.NoError(t, err)

	newer, np := NewRingingCall(time.Now(), alice, bob)
	require.NoError(t, store.Create(ctx, newer, np))

	calls, err := store.GetUserCalls(ctx, bob, 10, 0)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, newer.CallID, calls[0].CallID)
	assert.Equal(t, older.CallID, calls[1].CallID)

	calls, err = store.GetUserCalls(ctx, bob, 10, 1)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, older.CallID, calls[0].CallID)

	// an overflowed offset reads nothing rather than failing
	calls, err = store.GetUserCalls(ctx, bob, 21, -16)
	require.NoError(t, err)
	assert.Empty(t, calls)

	busy, err := store.ListBusyUsers(ctx, []uuid.UUID{alice, bob})
	require.NoError(t, err)
	assert.True(t, busy[alice], "caller is connected to the ringing call")
	assert.False(t, busy[bob], "a ringing callee is not busy")
}

func testUnknownCall(t *testing.T, store CallStore) {
	ctx := context.Background()

	_, err := store.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrCallNotFound)

	_, err = store.GetActiveByConversation(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrCallNotFound)

	_, err = store.Mutate(ctx, uuid.New(), func(*domain.CallSession) error { return nil })
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}
