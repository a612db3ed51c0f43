package memory

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callsignal-backend/internal/domain"
	"callsignal-backend/internal/repository/storetest"
)

func TestCallRepository(t *testing.T) {
	storetest.Run(t, NewCallRepository())
}

func TestCallRepository_ReadsAreCopies(t *testing.T) {
	repo := NewCallRepository()
	ctx := context.Background()

	call, participants := storetest.NewRingingCall(time.Now(), uuid.New(), uuid.New())
	require.NoError(t, repo.Create(ctx, call, participants))

	got, err := repo.GetByID(ctx, call.CallID)
	require.NoError(t, err)
	got.Status = domain.CallStatusEnded

	rows, err := repo.GetParticipants(ctx, call.CallID)
	require.NoError(t, err)
	rows[1].Status = domain.ParticipantDeclined

	again, err := repo.GetByID(ctx, call.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, again.Status)

	rows, err = repo.GetParticipants(ctx, call.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantRinging, rows[1].Status)
}

func TestCallRepository_MutateHonoursCancelledContext(t *testing.T) {
	repo := NewCallRepository()
	call, participants := storetest.NewRingingCall(time.Now(), uuid.New(), uuid.New())
	require.NoError(t, repo.Create(context.Background(), call, participants))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Mutate(ctx, call.CallID, func(*domain.CallSession) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCallRepository_GetUserCallsOutOfRange(t *testing.T) {
	repo := NewCallRepository()
	ctx := context.Background()
	caller := uuid.New()

	call, participants := storetest.NewRingingCall(time.Now(), caller, uuid.New())
	require.NoError(t, repo.Create(ctx, call, participants))

	calls, err := repo.GetUserCalls(ctx, caller, 21, -16)
	require.NoError(t, err)
	assert.Empty(t, calls)

	calls, err = repo.GetUserCalls(ctx, caller, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, calls)

	calls, err = repo.GetUserCalls(ctx, caller, math.MaxInt, 0)
	require.NoError(t, err)
	assert.Len(t, calls, 1)
}
