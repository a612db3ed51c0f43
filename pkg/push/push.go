package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	apperrors "callsignal-backend/pkg/errors"
	"callsignal-backend/pkg/logger"
	"callsignal-backend/pkg/resilience"
)

// Provider defines interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
	// TTL bounds delivery; a ring notification is useless once the call stopped ringing
	TTL time.Duration `json:"ttl,omitempty"`
}

// CallNotificationData describes the call a notification is about
type CallNotificationData struct {
	CallID         uuid.UUID
	ConversationID uuid.UUID
	CallerID       uuid.UUID
	CallerName     string
	CallType       string
	RoomID         string
	Duration       int64 // seconds, ended calls only
	Timestamp      int64
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"  // Firebase Cloud Messaging
	TokenTypeAPNs TokenType = "apns" // Apple Push Notification Service
)

// Token represents a push notification token for a user
type Token struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	DeviceID  string    `json:"device_id,omitempty"`
	Platform  string    `json:"platform,omitempty"` // ios, android, web
	Active    bool      `json:"active"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// TokenRepository defines interface for storing and retrieving push tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	GetByToken(ctx context.Context, token string) (*Token, error)
	Update(ctx context.Context, token *Token) error
	Delete(ctx context.Context, tokenID uuid.UUID) error
	MarkInactive(ctx context.Context, tokenID uuid.UUID) error
}

// Service sends call notifications to users' registered devices. The provider
// sits behind a circuit breaker so a failing push backend is skipped quickly.
type Service struct {
	provider Provider
	repo     TokenRepository
	breaker  *gobreaker.CircuitBreaker[*SendResult]
}

// NewService creates a new push notification service
func NewService(provider Provider, repo TokenRepository, breakerCfg resilience.BreakerConfig) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
		breaker:  resilience.NewBreaker[*SendResult]("push_provider", breakerCfg),
	}
}

// RegisterToken registers a push token, reactivating it if already known
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	existing, err := s.repo.GetByToken(ctx, token.Token)
	if err == nil && existing != nil {
		existing.UserID = token.UserID
		existing.Active = true
		existing.UpdatedAt = token.UpdatedAt
		existing.DeviceID = token.DeviceID
		existing.Platform = token.Platform
		return s.repo.Update(ctx, existing)
	}

	return s.repo.Store(ctx, token)
}

// UnregisterToken removes a push token owned by userID
func (s *Service) UnregisterToken(ctx context.Context, userID uuid.UUID, tokenStr string) error {
	token, err := s.repo.GetByToken(ctx, tokenStr)
	if err != nil {
		return err
	}
	if token == nil || token.UserID != userID {
		return apperrors.NotFoundError("Push token")
	}
	return s.repo.Delete(ctx, token.ID)
}

// SendIncomingCall rings the callees' devices
func (s *Service) SendIncomingCall(ctx context.Context, data *CallNotificationData, calleeIDs []uuid.UUID, ringTTL time.Duration) error {
	notification := &Notification{
		Title:    "Incoming Call",
		Body:     fmt.Sprintf("%s is calling you", data.CallerName),
		Priority: "high",
		Sound:    "default",
		Category: "INCOMING_CALL",
		TTL:      ringTTL,
		Data: map[string]string{
			"type":            "call",
			"call_id":         data.CallID.String(),
			"conversation_id": data.ConversationID.String(),
			"caller_id":       data.CallerID.String(),
			"caller_name":     data.CallerName,
			"call_type":       data.CallType,
			"room_id":         data.RoomID,
			"timestamp":       fmt.Sprintf("%d", data.Timestamp),
		},
	}

	return s.sendToUsers(ctx, "incoming_call", notification, calleeIDs)
}

// SendCallEnded tells participants' other devices to stop ringing or hang up
func (s *Service) SendCallEnded(ctx context.Context, data *CallNotificationData, participantIDs []uuid.UUID) error {
	notification := &Notification{
		Title:    "Call Ended",
		Body:     fmt.Sprintf("Call ended. Duration: %s", formatDuration(data.Duration)),
		Priority: "high",
		Category: "CALL_ENDED",
		Data: map[string]string{
			"type":            "call_ended",
			"call_id":         data.CallID.String(),
			"conversation_id": data.ConversationID.String(),
			"duration":        fmt.Sprintf("%d", data.Duration),
		},
	}

	return s.sendToUsers(ctx, "call_ended", notification, participantIDs)
}

// SendMissedCall notifies users who never answered
func (s *Service) SendMissedCall(ctx context.Context, data *CallNotificationData, calleeIDs []uuid.UUID) error {
	notification := &Notification{
		Title:    "Missed Call",
		Body:     fmt.Sprintf("You missed a call from %s", data.CallerName),
		Priority: "normal",
		Sound:    "default",
		Category: "MISSED_CALL",
		Data: map[string]string{
			"type":            "missed_call",
			"call_id":         data.CallID.String(),
			"conversation_id": data.ConversationID.String(),
			"caller_id":       data.CallerID.String(),
			"caller_name":     data.CallerName,
			"call_type":       data.CallType,
		},
	}

	return s.sendToUsers(ctx, "missed_call", notification, calleeIDs)
}

func (s *Service) sendToUsers(ctx context.Context, kind string, notification *Notification, userIDs []uuid.UUID) error {
	tokens := s.activeTokens(ctx, userIDs)
	if len(tokens) == 0 {
		logger.Debug("No active push tokens for recipients",
			zap.String("type", kind),
			zap.Int("user_count", len(userIDs)))
		return nil
	}

	result, err := s.breaker.Execute(func() (*SendResult, error) {
		return s.provider.Send(ctx, notification, tokens)
	})
	if err != nil {
		return fmt.Errorf("failed to send %s notification: %w", kind, err)
	}

	logger.Info("Push notification sent",
		zap.String("type", kind),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount),
		zap.Int("invalid_tokens", len(result.InvalidTokens)))

	if len(result.InvalidTokens) > 0 {
		s.handleInvalidTokens(ctx, result.InvalidTokens)
	}
	return nil
}

func (s *Service) activeTokens(ctx context.Context, userIDs []uuid.UUID) []string {
	var all []string
	for _, userID := range userIDs {
		tokens, err := s.repo.GetByUserID(ctx, userID)
		if err != nil {
			logger.Warn("Failed to get push tokens for user",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}

		for _, token := range tokens {
			if token.Active {
				all = append(all, token.Token)
			}
		}
	}
	return all
}

// handleInvalidTokens marks invalid tokens as inactive
func (s *Service) handleInvalidTokens(ctx context.Context, invalidTokens []string) {
	for _, tokenStr := range invalidTokens {
		token, err := s.repo.GetByToken(ctx, tokenStr)
		if err == nil && token != nil {
			if err := s.repo.MarkInactive(ctx, token.ID); err != nil {
				logger.Warn("Failed to mark token as inactive",
					zap.String("token_id", token.ID.String()),
					zap.Error(err))
			}
		}
	}
}

// formatDuration formats duration in seconds to human-readable format
func formatDuration(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	minutes = minutes % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// MockProvider accepts every notification. Used when PUSH_PROVIDER=mock.
type MockProvider struct {
	mu   sync.Mutex
	sent []*Notification
}

// Send implements Provider interface
func (m *MockProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.mu.Lock()
	m.sent = append(m.sent, notification)
	m.mu.Unlock()

	logger.Debug("MockProvider: Sending notification",
		zap.String("title", notification.Title),
		zap.Int("token_count", len(tokens)))

	return &SendResult{SuccessCount: len(tokens)}, nil
}

// Sent returns the notifications accepted so far
func (m *MockProvider) Sent() []*Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Notification(nil), m.sent...)
}
