package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"callsignal-backend/pkg/constants"
)

// EventType represents the type of audit event
type EventType string

const (
	EventCallInitiate EventType = "call_initiate"
	EventCallJoin     EventType = "call_join"
	EventCallDecline  EventType = "call_decline"
	EventCallLeave    EventType = "call_leave"
	EventCallInvite   EventType = "call_invite"
	EventCallEnd      EventType = "call_end"

	// EventCallReaped is written when the reaper terminates a call
	EventCallReaped EventType = "call_reaped"
)

// Event represents an audit log entry
type Event struct {
	EventID   uuid.UUID  `json:"event_id"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	EventType EventType  `json:"event_type"`
	Resource  string     `json:"resource,omitempty"`
	Action    string     `json:"action,omitempty"`
	Success   bool       `json:"success"`
	ErrorCode string     `json:"error_code,omitempty"`
	Details   string     `json:"details,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Logger appends audit events to a per-day Redis list
type Logger struct {
	redisClient *redis.Client
	now         func() time.Time
}

// NewLogger creates a new audit logger
func NewLogger(redisClient *redis.Client) *Logger {
	return &Logger{
		redisClient: redisClient,
		now:         time.Now,
	}
}

func dayKey(t time.Time) string {
	return fmt.Sprintf("audit:events:%s", t.UTC().Format("2006-01-02"))
}

// Log stores an audit event
func (l *Logger) Log(ctx context.Context, event *Event) error {
	event.Timestamp = l.now().UTC()
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	key := dayKey(event.Timestamp)
	pipe := l.redisClient.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.Expire(ctx, key, constants.AuditLogRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store audit event: %w", err)
	}
	return nil
}

// Recent returns up to limit events recorded on day, newest first
func (l *Logger) Recent(ctx context.Context, day time.Time, limit int) ([]*Event, error) {
	members, err := l.redisClient.LRange(ctx, dayKey(day), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get audit events: %w", err)
	}

	events := make([]*Event, 0, len(members))
	for _, member := range members {
		var event Event
		if err := json.Unmarshal([]byte(member), &event); err != nil {
			continue
		}
		events = append(events, &event)
	}
	return events, nil
}

// CallEvent builds an audit entry for an action on a call
func CallEvent(eventType EventType, userID *uuid.UUID, callID uuid.UUID, details string) *Event {
	return &Event{
		UserID:    userID,
		EventType: eventType,
		Resource:  callID.String(),
		Action:    string(eventType),
		Success:   true,
		Details:   details,
	}
}
