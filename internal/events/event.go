// Package events defines the call event envelope delivered to clients over
// Redis pub/sub and to downstream consumers over Kafka.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"callsignal-backend/internal/domain"
)

// Type names what happened to a call
type Type string

const (
	TypeIncoming           Type = "call.incoming"
	TypeParticipantUpdated Type = "call.participant_updated"
	TypeEnded              Type = "call.ended"
	TypeMissed             Type = "call.missed"
)

// CallEvent is the envelope every sink receives
type CallEvent struct {
	ID             uuid.UUID               `json:"id"`
	Type           Type                    `json:"type"`
	CallID         uuid.UUID               `json:"call_id"`
	ConversationID uuid.UUID               `json:"conversation_id"`
	CallerID       uuid.UUID               `json:"caller_id"`
	CallerName     string                  `json:"caller_name,omitempty"`
	CallType       domain.CallType         `json:"call_type"`
	Status         domain.CallStatus       `json:"status"`
	RoomID         string                  `json:"room_id"`
	Duration       *int                    `json:"duration,omitempty"`
	Participant    *domain.CallParticipant `json:"participant,omitempty"`
	Recipients     []uuid.UUID             `json:"recipients,omitempty"`
	OccurredAt     time.Time               `json:"occurred_at"`
}

// NewCallEvent snapshots call into an event of type t
func NewCallEvent(t Type, call *domain.Call, recipients []uuid.UUID) *CallEvent {
	return &CallEvent{
		ID:             uuid.New(),
		Type:           t,
		CallID:         call.CallID,
		ConversationID: call.ConversationID,
		CallerID:       call.CallerID,
		CallType:       call.CallType,
		Status:         call.Status,
		RoomID:         call.RoomID,
		Duration:       call.Duration,
		Recipients:     recipients,
		OccurredAt:     time.Now().UTC(),
	}
}

// Encode serializes an event
func Encode(e *CallEvent) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode call event: %w", err)
	}
	return data, nil
}

// Decode parses an encoded event
func Decode(data []byte) (*CallEvent, error) {
	var e CallEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode call event: %w", err)
	}
	return &e, nil
}

// Publisher delivers an event to its recipients
type Publisher interface {
	Publish(ctx context.Context, event *CallEvent) error
}
