package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallSession is a consistent snapshot of a call and all of its participant
// rows. Every state transition is a method on it; the store persists whatever
// the transition marked dirty.
type CallSession struct {
	Call         *Call
	Participants []*CallParticipant

	callDirty bool
	dirty     map[uuid.UUID]bool
}

// NewCallSession wraps a call and its participants
func NewCallSession(call *Call, participants []*CallParticipant) *CallSession {
	return &CallSession{
		Call:         call,
		Participants: participants,
		dirty:        make(map[uuid.UUID]bool),
	}
}

// Participant returns the row for userID, or nil
func (s *CallSession) Participant(userID uuid.UUID) *CallParticipant {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// CallChanged reports whether the call row must be written back
func (s *CallSession) CallChanged() bool {
	return s.callDirty
}

// Changed reports whether anything must be written back
func (s *CallSession) Changed() bool {
	return s.callDirty || len(s.dirty) > 0
}

// DirtyParticipants returns the rows touched by transitions, in row order
func (s *CallSession) DirtyParticipants() []*CallParticipant {
	out := make([]*CallParticipant, 0, len(s.dirty))
	for _, p := range s.Participants {
		if s.dirty[p.UserID] {
			out = append(out, p)
		}
	}
	return out
}

// UserIDs returns participant user ids matching any of the given statuses.
// With no statuses every participant is returned.
func (s *CallSession) UserIDs(statuses ...ParticipantStatus) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s.Participants))
	for _, p := range s.Participants {
		if len(statuses) == 0 || containsStatus(statuses, p.Status) {
			out = append(out, p.UserID)
		}
	}
	return out
}

func containsStatus(list []ParticipantStatus, s ParticipantStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (s *CallSession) markCall(now time.Time) {
	s.callDirty = true
	s.Call.UpdatedAt = now
}

func (s *CallSession) mark(p *CallParticipant) {
	s.dirty[p.UserID] = true
}

// ensure returns the participant row, creating a ringing row when absent
func (s *CallSession) ensure(userID uuid.UUID, now time.Time) *CallParticipant {
	if p := s.Participant(userID); p != nil {
		return p
	}
	p := &CallParticipant{
		CallID:         s.Call.CallID,
		UserID:         userID,
		Status:         ParticipantRinging,
		InvitedAt:      now,
		IsVideoEnabled: s.Call.CallType == CallTypeVideo,
	}
	s.Participants = append(s.Participants, p)
	s.mark(p)
	return p
}

// Join puts userID into the call. The first participant to connect moves a
// ringing call to ongoing. Joining while already ongoing changes nothing.
func (s *CallSession) Join(userID uuid.UUID, now time.Time) (bool, error) {
	if s.Call.Status.IsTerminal() {
		return false, ErrCallNotJoinable
	}

	p := s.ensure(userID, now)
	if p.Status == ParticipantOngoing {
		return false, nil
	}

	joined := now
	p.Status = ParticipantOngoing
	p.JoinedAt = &joined
	p.LeftAt = nil
	s.mark(p)

	// only a participant who actually connects starts the call; the caller
	// is seeded ongoing and must not answer their own ring
	if s.Call.Status == CallStatusRinging {
		s.Call.Status = CallStatusOngoing
		s.markCall(now)
	}
	return true, nil
}

// Decline records that userID refused the call. It returns false when the call
// is no longer ringing; a participant still ringing at that point is recorded
// as declined all the same. When every non-caller has declined or is busy the
// call ends.
func (s *CallSession) Decline(userID uuid.UUID, now time.Time) (bool, error) {
	p := s.Participant(userID)
	if p == nil {
		return false, ErrParticipantNotFound
	}
	if userID == s.Call.CallerID {
		return false, nil
	}

	if s.Call.Status != CallStatusRinging {
		if p.Status == ParticipantRinging && !s.Call.Status.IsTerminal() {
			p.Status = ParticipantDeclined
			s.mark(p)
		}
		return false, nil
	}

	switch p.Status {
	case ParticipantDeclined:
		return true, nil
	case ParticipantRinging:
	default:
		return false, nil
	}

	p.Status = ParticipantDeclined
	s.mark(p)

	if s.allCalleesAnsweredNo() {
		s.End(now)
	}
	return true, nil
}

func (s *CallSession) allCalleesAnsweredNo() bool {
	callees := 0
	for _, p := range s.Participants {
		if p.UserID == s.Call.CallerID {
			continue
		}
		callees++
		if !p.Status.AnsweredNo() {
			return false
		}
	}
	return callees > 0
}

// End terminates the call and cascades terminal statuses: ongoing
// participants end, ringing participants are marked missed. Ending an ended
// call returns false.
func (s *CallSession) End(now time.Time) bool {
	if s.Call.Status.IsTerminal() {
		return false
	}

	ended := now
	duration := int(now.Sub(s.Call.StartedAt) / time.Second)
	if duration < 0 {
		duration = 0
	}
	s.Call.Status = CallStatusEnded
	s.Call.EndedAt = &ended
	s.Call.Duration = &duration
	s.markCall(now)

	for _, p := range s.Participants {
		switch p.Status {
		case ParticipantOngoing:
			left := now
			p.Status = ParticipantEnded
			p.LeftAt = &left
			s.mark(p)
		case ParticipantRinging:
			p.Status = ParticipantMissed
			s.mark(p)
		}
	}
	return true
}

// Leave takes userID out of an ongoing call. The call ends once fewer than
// two participants are connected and nobody is still being rung.
func (s *CallSession) Leave(userID uuid.UUID, now time.Time) (bool, error) {
	p := s.Participant(userID)
	if p == nil {
		return false, ErrParticipantNotFound
	}
	if p.Status != ParticipantOngoing || s.Call.Status.IsTerminal() {
		return false, nil
	}

	left := now
	p.Status = ParticipantEnded
	p.LeftAt = &left
	s.mark(p)

	connected, ringing := 0, 0
	for _, other := range s.Participants {
		switch other.Status {
		case ParticipantOngoing:
			connected++
		case ParticipantRinging:
			ringing++
		}
	}
	if connected == 0 || (connected < 2 && ringing == 0) {
		s.End(now)
	}
	return true, nil
}

// Invite adds userID to a live call, or rings them again if they had dropped
// out. It reports whether the user needs to be rung.
func (s *CallSession) Invite(userID uuid.UUID, now time.Time) (bool, error) {
	if s.Call.Status.IsTerminal() {
		return false, ErrCallNotJoinable
	}

	p := s.Participant(userID)
	if p == nil {
		s.ensure(userID, now)
		return true, nil
	}
	if p.Status.IsActive() {
		return false, nil
	}

	p.Status = ParticipantRinging
	p.InvitedAt = now
	p.JoinedAt = nil
	p.LeftAt = nil
	s.mark(p)
	return true, nil
}

// UpdateMedia sets the mute and video flags of a participant. Nil leaves a
// flag as it is.
func (s *CallSession) UpdateMedia(userID uuid.UUID, isMuted, isVideoEnabled *bool) (bool, error) {
	p := s.Participant(userID)
	if p == nil {
		return false, ErrParticipantNotFound
	}

	changed := false
	if isMuted != nil && p.IsMuted != *isMuted {
		p.IsMuted = *isMuted
		changed = true
	}
	if isVideoEnabled != nil && p.IsVideoEnabled != *isVideoEnabled {
		p.IsVideoEnabled = *isVideoEnabled
		changed = true
	}
	if changed {
		s.mark(p)
	}
	return changed, nil
}
