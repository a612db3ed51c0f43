package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRingingSession(caller uuid.UUID, callees ...uuid.UUID) *CallSession {
	callID := uuid.New()
	call := &Call{
		CallID:         callID,
		ConversationID: uuid.New(),
		CallerID:       caller,
		RoomID:         RoomForCall(callID),
		CallType:       CallTypeVideo,
		Status:         CallStatusRinging,
		StartedAt:      t0,
	}
	joined := t0
	participants := []*CallParticipant{
		{CallID: callID, UserID: caller, Status: ParticipantOngoing, InvitedAt: t0, JoinedAt: &joined},
	}
	for _, id := range callees {
		participants = append(participants, &CallParticipant{
			CallID: callID, UserID: id, Status: ParticipantRinging, InvitedAt: t0,
		})
	}
	return NewCallSession(call, participants)
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, CallStatusRinging.IsActive())
	assert.True(t, CallStatusOngoing.IsActive())
	assert.False(t, CallStatusEnded.IsActive())
	assert.True(t, CallStatusEnded.IsTerminal())
	assert.False(t, CallStatus("paused").Valid())
	assert.False(t, CallStatus("paused").IsActive())

	for _, s := range []ParticipantStatus{ParticipantDeclined, ParticipantMissed, ParticipantBusy, ParticipantEnded} {
		assert.True(t, s.IsTerminal(), s)
		assert.False(t, s.IsActive(), s)
	}
	assert.True(t, ParticipantRinging.IsActive())
	assert.True(t, ParticipantOngoing.IsActive())
	assert.True(t, ParticipantDeclined.AnsweredNo())
	assert.True(t, ParticipantBusy.AnsweredNo())
	assert.False(t, ParticipantMissed.AnsweredNo())
}

func TestParseCallType(t *testing.T) {
	ct, err := ParseCallType("voice")
	require.NoError(t, err)
	assert.Equal(t, CallTypeAudio, ct)

	_, err = ParseCallType("hologram")
	assert.Error(t, err)
}

func TestCallSession_JoinIsIdempotent(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	s := newRingingSession(a, b)

	changed, err := s.Join(b, t0.Add(5*time.Second))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, CallStatusOngoing, s.Call.Status)

	changed, err = s.Join(b, t0.Add(9*time.Second))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, s.Participants, 2)
	assert.Equal(t, t0.Add(5*time.Second), *s.Participant(b).JoinedAt)
}

func TestCallSession_CallerJoinKeepsRinging(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	s := newRingingSession(a, b)

	changed, err := s.Join(a, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, CallStatusRinging, s.Call.Status)
	assert.False(t, s.Changed())
	assert.Equal(t, t0, *s.Participant(a).JoinedAt)

	// the callee can still refuse, which ends the call
	declined, err := s.Decline(b, t0.Add(3*time.Second))
	require.NoError(t, err)
	assert.True(t, declined)
	assert.Equal(t, CallStatusEnded, s.Call.Status)
}

func TestCallSession_JoinCreatesMissingRow(t *testing.T) {
	a, b, late := uuid.New(), uuid.New(), uuid.New()
	s := newRingingSession(a, b)

	_, err := s.Join(late, t0)
	require.NoError(t, err)

	p := s.Participant(late)
	require.NotNil(t, p)
	assert.Equal(t, ParticipantOngoing, p.Status)
	assert.Len(t, s.DirtyParticipants(), 1)
}

func TestCallSession_JoinEndedCall(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	s := newRingingSession(a, b)
	s.End(t0)

	_, err := s.Join(b, t0)
	assert.ErrorIs(t, err, ErrCallNotJoinable)
}

func TestCallSession_AllDeclinedEndsCall(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	s := newRingingSession(a, b, c)

	ok, err := s.Decline(b, t0.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, CallStatusRinging, s.Call.Status)

	ok, err = s.Decline(c, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, CallStatusEnded, s.Call.Status)
	require.NotNil(t, s.Call.EndedAt)

	for _, p := range s.Participants {
		assert.NotEqual(t, ParticipantRinging, p.Status)
		assert.NotEqual(t, ParticipantOngoing, p.Status)
	}
}

func TestCallSession_BusyCountsAsDeclined(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	s := newRingingSession(a, b, c)
	s.Participant(c).Status = ParticipantBusy

	_, err := s.Decline(b, t0)
	require.NoError(t, err)
	assert.Equal(t, CallStatusEnded, s.Call.Status)
	assert.Equal(t, ParticipantBusy, s.Participant(c).Status)
}

func TestCallSession_CallerCannotDecline(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	s := newRingingSession(a, b)

	ok, err := s.Decline(a, t0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, CallStatusRinging, s.Call.Status)
}

func TestCallSession_LateDeclineIsRecorded(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	s := newRingingSession(a, b, c)
	_, err := s.Join(b, t0)
	require.NoError(t, err)

	ok, err := s.Decline(c, t0.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, ParticipantDeclined, s.Participant(c).Status)
	assert.Equal(t, CallStatusOngoing, s.Call.Status)
}

func TestCallSession_DeclineUnknownUser(t *testing.T) {
	s := newRingingSession(uuid.New(), uuid.New())
	_, err := s.Decline(uuid.New(), t0)
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestCallSession_EndCascade(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	s := newRingingSession(a, b, c, d)
	_, _ = s.Join(b, t0.Add(time.Second))
	_, _ = s.Decline(c, t0.Add(2*time.Second))

	end := t0.Add(90 * time.Second)
	assert.True(t, s.End(end))

	assert.Equal(t, CallStatusEnded, s.Call.Status)
	assert.Equal(t, 90, *s.Call.Duration)
	assert.Equal(t, ParticipantEnded, s.Participant(a).Status)
	assert.Equal(t, ParticipantEnded, s.Participant(b).Status)
	assert.Equal(t, end, *s.Participant(b).LeftAt)
	assert.Equal(t, ParticipantDeclined, s.Participant(c).Status)
	assert.Equal(t, ParticipantMissed, s.Participant(d).Status)

	assert.False(t, s.End(end.Add(time.Minute)))
	assert.Equal(t, end, *s.Call.EndedAt)
}

func TestCallSession_LeaveEndsWhenAlone(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	s := newRingingSession(a, b)
	_, _ = s.Join(b, t0)

	ok, err := s.Leave(b, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, CallStatusEnded, s.Call.Status)
	assert.Equal(t, ParticipantEnded, s.Participant(a).Status)
}

func TestCallSession_LeaveKeepsGroupCallAlive(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	s := newRingingSession(a, b, c)
	_, _ = s.Join(b, t0)
	_, _ = s.Join(c, t0)

	_, err := s.Leave(c, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, CallStatusOngoing, s.Call.Status)
}

func TestCallSession_InviteResetsMissedAndDeclined(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	s := newRingingSession(a, b, c)
	_, _ = s.Join(b, t0)
	_, _ = s.Decline(c, t0)
	require.Equal(t, ParticipantDeclined, s.Participant(c).Status)

	rung, err := s.Invite(c, t0.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, rung)
	assert.Equal(t, ParticipantRinging, s.Participant(c).Status)

	rung, err = s.Invite(b, t0.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, rung)

	newcomer := uuid.New()
	rung, err = s.Invite(newcomer, t0.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, rung)
	assert.Len(t, s.Participants, 4)
}

func TestCallSession_UpdateMedia(t *testing.T) {
	a := uuid.New()
	s := newRingingSession(a, uuid.New())
	muted := true

	changed, err := s.UpdateMedia(a, &muted, nil)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, s.Participant(a).IsMuted)
	assert.Equal(t, CallStatusRinging, s.Call.Status)

	changed, err = s.UpdateMedia(a, &muted, nil)
	require.NoError(t, err)
	assert.False(t, changed)
}
