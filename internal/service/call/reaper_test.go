package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"callsignal-backend/internal/domain"
)

// Initiate with {A,B}; B never answers; the reaper finds the call past its age.
func TestCleanupStaleCalls_UnansweredCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	out := h.initiate(t, h.dir.conversation(a, b), a, domain.CallTypeAudio)

	n, err := h.svc.CleanupStaleCalls(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh calls are left alone")

	h.clock.Advance(2 * time.Hour)
	n, err = h.svc.CleanupStaleCalls(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	call := h.call(t, out.Call.CallID)
	assert.Equal(t, domain.CallStatusEnded, call.Status)
	require.NotNil(t, call.Duration)
	assert.Equal(t, int((2 * time.Hour).Seconds()), *call.Duration)
	assert.Equal(t, domain.ParticipantMissed, h.statuses(t, out.Call.CallID)[b])
	assert.Equal(t, domain.ParticipantEnded, h.statuses(t, out.Call.CallID)[a])

	missed := h.notifier.of("missed")
	require.Len(t, missed, 1)
	assert.Equal(t, []uuid.UUID{b}, missed[0].recipients)

	ended := h.notifier.of("ended")
	require.Len(t, ended, 1)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, ended[0].recipients, "nobody is excluded when the reaper ends a call")

	n, err = h.svc.CleanupStaleCalls(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCleanupStaleCalls_MatchesExplicitEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	ended := h.initiate(t, h.dir.conversation(a, b, c), a, domain.CallTypeVideo)
	swept := h.initiate(t, h.dir.conversation(a, b, c), a, domain.CallTypeVideo)
	for _, id := range []uuid.UUID{ended.Call.CallID, swept.Call.CallID} {
		_, err := h.svc.JoinCall(ctx, id, b)
		require.NoError(t, err)
	}

	h.clock.Advance(5 * time.Hour)
	_, err := h.svc.EndCall(ctx, ended.Call.CallID, a)
	require.NoError(t, err)
	n, err := h.svc.CleanupStaleCalls(ctx, 4*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	want, got := h.call(t, ended.Call.CallID), h.call(t, swept.Call.CallID)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.EndedAt, got.EndedAt)
	assert.Equal(t, want.Duration, got.Duration)

	wantStatuses, gotStatuses := h.statuses(t, ended.Call.CallID), h.statuses(t, swept.Call.CallID)
	assert.Equal(t, wantStatuses, gotStatuses)
}

func TestCleanupStaleCalls_WalksEveryBatch(t *testing.T) {
	h := newHarness(t, WithSweepLimits(2, 3))
	ctx := context.Background()

	const calls = 7
	for i := 0; i < calls; i++ {
		a, b := uuid.New(), uuid.New()
		h.initiate(t, h.dir.conversation(a, b), a, domain.CallTypeAudio)
	}

	h.clock.Advance(5 * time.Hour)
	n, err := h.svc.CleanupStaleCalls(ctx, 4*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, calls, n)

	stale, err := h.store.ListStale(ctx, domain.ActiveCallStatuses(), h.clock.Now(), 100)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestExpireRingingCalls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	unanswered := h.initiate(t, h.dir.conversation(a, b), a, domain.CallTypeAudio)
	answered := h.initiate(t, h.dir.conversation(c, d), c, domain.CallTypeAudio)
	_, err := h.svc.JoinCall(ctx, answered.Call.CallID, d)
	require.NoError(t, err)

	h.clock.Advance(90 * time.Second)
	n, err := h.svc.ExpireRingingCalls(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, domain.CallStatusEnded, h.call(t, unanswered.Call.CallID).Status)
	assert.Equal(t, domain.ParticipantMissed, h.statuses(t, unanswered.Call.CallID)[b])
	assert.Equal(t, domain.CallStatusOngoing, h.call(t, answered.Call.CallID).Status)
}

func TestReaperSweep_TakesLock(t *testing.T) {
	h := newHarness(t)
	a, b := uuid.New(), uuid.New()
	out := h.initiate(t, h.dir.conversation(a, b), a, domain.CallTypeAudio)
	h.clock.Advance(2 * time.Minute)

	released := false
	release := func(ctx context.Context) error {
		released = true
		return nil
	}
	locker := new(MockLocker)
	locker.On("TryLock", mock.Anything, "calls:reaper:test", 10*time.Second).Return(release, true, nil).Once()

	reaper := NewReaper(h.svc, locker, ReaperConfig{
		Interval:    10 * time.Second,
		MaxAge:      time.Hour,
		RingTimeout: time.Minute,
		LockKey:     "calls:reaper:test",
	})

	result, err := reaper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Expired: 1}, result)
	assert.True(t, released)
	assert.Equal(t, domain.CallStatusEnded, h.call(t, out.Call.CallID).Status)
	locker.AssertExpectations(t)
}

func TestReaperSweep_SkipsWhenLockHeld(t *testing.T) {
	h := newHarness(t)
	a, b := uuid.New(), uuid.New()
	out := h.initiate(t, h.dir.conversation(a, b), a, domain.CallTypeAudio)
	h.clock.Advance(2 * time.Minute)

	locker := new(MockLocker)
	locker.On("TryLock", mock.Anything, mock.Anything, mock.Anything).Return(nil, false, nil)

	result, err := NewReaper(h.svc, locker, ReaperConfig{RingTimeout: time.Minute}).Sweep(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, domain.CallStatusRinging, h.call(t, out.Call.CallID).Status)
}

func TestReaperSweep_LockError(t *testing.T) {
	h := newHarness(t)
	locker := new(MockLocker)
	locker.On("TryLock", mock.Anything, mock.Anything, mock.Anything).Return(nil, false, errors.New("redis down"))

	_, err := NewReaper(h.svc, locker, ReaperConfig{}).Sweep(context.Background())
	assert.EqualError(t, err, "redis down")
}

func TestReaperSweep_WithoutLocker(t *testing.T) {
	h := newHarness(t)
	a, b := uuid.New(), uuid.New()
	h.initiate(t, h.dir.conversation(a, b), a, domain.CallTypeAudio)
	h.clock.Advance(5 * time.Hour)

	result, err := NewReaper(h.svc, nil, ReaperConfig{}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired+result.Stale)
}
