package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store-level sentinels. The call service translates these into AppErrors.
var (
	ErrCallNotFound        = errors.New("call not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrActiveCallExists    = errors.New("conversation already has an active call")
	ErrCallNotJoinable     = errors.New("call is not joinable")
)

// CallType is the media kind of a call
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// ParseCallType accepts "audio"/"voice" and "video"
func ParseCallType(s string) (CallType, error) {
	switch s {
	case "audio", "voice":
		return CallTypeAudio, nil
	case "video":
		return CallTypeVideo, nil
	}
	return "", fmt.Errorf("invalid call type %q", s)
}

// CallStatus is the aggregate status of a call
type CallStatus string

const (
	CallStatusRinging CallStatus = "ringing"
	CallStatusOngoing CallStatus = "ongoing"
	CallStatusEnded   CallStatus = "ended"
)

type statusTraits struct {
	terminal   bool
	answeredNo bool
}

var callStatusTable = map[CallStatus]statusTraits{
	CallStatusRinging: {},
	CallStatusOngoing: {},
	CallStatusEnded:   {terminal: true},
}

// Valid reports whether s is a known call status
func (s CallStatus) Valid() bool {
	_, ok := callStatusTable[s]
	return ok
}

// IsTerminal reports whether no further transitions are possible
func (s CallStatus) IsTerminal() bool {
	return callStatusTable[s].terminal
}

// IsActive reports whether the call is ringing or ongoing
func (s CallStatus) IsActive() bool {
	t, ok := callStatusTable[s]
	return ok && !t.terminal
}

// ActiveCallStatuses lists the statuses covered by the one-active-call rule
func ActiveCallStatuses() []CallStatus {
	return []CallStatus{CallStatusRinging, CallStatusOngoing}
}

// ParticipantStatus is one user's status within a call
type ParticipantStatus string

const (
	ParticipantRinging  ParticipantStatus = "ringing"
	ParticipantOngoing  ParticipantStatus = "ongoing"
	ParticipantDeclined ParticipantStatus = "declined"
	ParticipantMissed   ParticipantStatus = "missed"
	ParticipantBusy     ParticipantStatus = "busy"
	ParticipantEnded    ParticipantStatus = "ended"
)

var participantStatusTable = map[ParticipantStatus]statusTraits{
	ParticipantRinging:  {},
	ParticipantOngoing:  {},
	ParticipantDeclined: {terminal: true, answeredNo: true},
	ParticipantMissed:   {terminal: true},
	ParticipantBusy:     {terminal: true, answeredNo: true},
	ParticipantEnded:    {terminal: true},
}

// Valid reports whether s is a known participant status
func (s ParticipantStatus) Valid() bool {
	_, ok := participantStatusTable[s]
	return ok
}

// IsTerminal reports whether the participant has left the call for good
func (s ParticipantStatus) IsTerminal() bool {
	return participantStatusTable[s].terminal
}

// IsActive reports whether the participant is ringing or in the call
func (s ParticipantStatus) IsActive() bool {
	t, ok := participantStatusTable[s]
	return ok && !t.terminal
}

// AnsweredNo reports whether the participant refused or could not take the call
func (s ParticipantStatus) AnsweredNo() bool {
	return participantStatusTable[s].answeredNo
}

// Call represents a call attempt within a conversation.
// Maps to CockroachDB calls table
type Call struct {
	CallID         uuid.UUID  `json:"call_id" db:"call_id"`
	ConversationID uuid.UUID  `json:"conversation_id" db:"conversation_id"`
	CallerID       uuid.UUID  `json:"caller_id" db:"caller_id"`
	RoomID         string     `json:"room_id" db:"room_id"`
	CallType       CallType   `json:"call_type" db:"call_type"`
	Status         CallStatus `json:"status" db:"status"`
	StartedAt      time.Time  `json:"started_at" db:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	Duration       *int       `json:"duration,omitempty" db:"duration"` // seconds
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// RoomForCall derives the media room name for a call id
func RoomForCall(callID uuid.UUID) string {
	return "call_" + callID.String()
}

// Clone returns a deep copy
func (c *Call) Clone() *Call {
	if c == nil {
		return nil
	}
	cp := *c
	if c.EndedAt != nil {
		t := *c.EndedAt
		cp.EndedAt = &t
	}
	if c.Duration != nil {
		d := *c.Duration
		cp.Duration = &d
	}
	return &cp
}

// CallParticipant tracks one user's state within a call.
// Maps to CockroachDB call_participants table
type CallParticipant struct {
	CallID         uuid.UUID         `json:"call_id" db:"call_id"`
	UserID         uuid.UUID         `json:"user_id" db:"user_id"`
	Status         ParticipantStatus `json:"status" db:"status"`
	InvitedAt      time.Time         `json:"invited_at" db:"invited_at"`
	JoinedAt       *time.Time        `json:"joined_at,omitempty" db:"joined_at"`
	LeftAt         *time.Time        `json:"left_at,omitempty" db:"left_at"`
	IsMuted        bool              `json:"is_muted" db:"is_muted"`
	IsVideoEnabled bool              `json:"is_video_enabled" db:"is_video_enabled"`
}

// Clone returns a deep copy
func (p *CallParticipant) Clone() *CallParticipant {
	if p == nil {
		return nil
	}
	cp := *p
	if p.JoinedAt != nil {
		t := *p.JoinedAt
		cp.JoinedAt = &t
	}
	if p.LeftAt != nil {
		t := *p.LeftAt
		cp.LeftAt = &t
	}
	return &cp
}
