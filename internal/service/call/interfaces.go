package call

import (
	"context"
	"time"

	"github.com/google/uuid"

	"callsignal-backend/internal/domain"
	"callsignal-backend/pkg/audit"
	"callsignal-backend/pkg/jwt"
)

// Store persists calls and their participants. Mutate must run fn against a
// consistent snapshot and commit its changes atomically.
type Store interface {
	Create(ctx context.Context, call *domain.Call, participants []*domain.CallParticipant) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	GetActiveByConversation(ctx context.Context, conversationID uuid.UUID) (*domain.Call, error)
	GetParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error)
	Mutate(ctx context.Context, callID uuid.UUID, fn func(*domain.CallSession) error) (*domain.CallSession, error)
	ListStale(ctx context.Context, statuses []domain.CallStatus, startedBefore time.Time, limit int) ([]uuid.UUID, error)
	GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error)
	ListBusyUsers(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error)
}

// MemberDirectory answers conversation membership questions
type MemberDirectory interface {
	GetActiveMembers(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)
	IsMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

// UserDirectory resolves display names
type UserDirectory interface {
	GetDisplayName(ctx context.Context, userID uuid.UUID) (string, error)
}

// CredentialIssuer mints media-session tokens
type CredentialIssuer interface {
	Mint(identity, displayName string, grant jwt.MediaGrant, ttl time.Duration) (string, error)
}

// Notifier delivers call notifications. Implementations must not block and
// report nothing back.
type Notifier interface {
	NotifyIncoming(ctx context.Context, call *domain.Call, callerName string, recipientIDs []uuid.UUID)
	NotifyEnded(ctx context.Context, call *domain.Call, recipientIDs []uuid.UUID)
	NotifyMissed(ctx context.Context, call *domain.Call, callerName string, recipientIDs []uuid.UUID)
	NotifyParticipantUpdate(ctx context.Context, call *domain.Call, participant *domain.CallParticipant, recipientIDs []uuid.UUID)
}

// AuditLogger records call actions
type AuditLogger interface {
	Log(ctx context.Context, event *audit.Event) error
}

// Locker hands out short leases so a periodic job runs on one instance at a time
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}
