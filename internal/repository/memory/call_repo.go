// Package memory holds an in-process call store used by tests and by local
// runs started with CALL_STORE=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"callsignal-backend/internal/domain"
)

type callRecord struct {
	call         *domain.Call
	participants []*domain.CallParticipant
}

// CallRepository keeps calls in maps guarded by one mutex, which gives every
// Mutate the same isolation a row lock would.
type CallRepository struct {
	mu    sync.Mutex
	calls map[uuid.UUID]*callRecord
}

// NewCallRepository creates an empty store
func NewCallRepository() *CallRepository {
	return &CallRepository{calls: make(map[uuid.UUID]*callRecord)}
}

// Create inserts the call unless its conversation already has an active call
func (r *CallRepository) Create(ctx context.Context, call *domain.Call, participants []*domain.CallParticipant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if call.Status.IsActive() {
		for _, rec := range r.calls {
			if rec.call.ConversationID == call.ConversationID && rec.call.Status.IsActive() {
				return domain.ErrActiveCallExists
			}
		}
	}

	r.calls[call.CallID] = &callRecord{
		call:         call.Clone(),
		participants: cloneParticipants(participants),
	}
	return nil
}

// GetByID returns a copy of the call
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	return rec.call.Clone(), nil
}

// GetActiveByConversation returns the ringing or ongoing call of a conversation
func (r *CallRepository) GetActiveByConversation(ctx context.Context, conversationID uuid.UUID) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.calls {
		if rec.call.ConversationID == conversationID && rec.call.Status.IsActive() {
			return rec.call.Clone(), nil
		}
	}
	return nil, domain.ErrCallNotFound
}

// GetParticipants returns copies of all participant rows of a call
func (r *CallRepository) GetParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	return cloneParticipants(rec.participants), nil
}

// Mutate runs fn against a private snapshot and commits it only when fn
// succeeds
func (r *CallRepository) Mutate(ctx context.Context, callID uuid.UUID, fn func(*domain.CallSession) error) (*domain.CallSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}

	session := domain.NewCallSession(rec.call.Clone(), cloneParticipants(rec.participants))
	if err := fn(session); err != nil {
		return nil, err
	}

	if session.Changed() {
		rec.call = session.Call.Clone()
		rec.participants = cloneParticipants(session.Participants)
	}
	return session, nil
}

// ListStale returns ids of calls in one of statuses that started before the cutoff
func (r *CallRepository) ListStale(ctx context.Context, statuses []domain.CallStatus, startedBefore time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []*domain.Call
	for _, rec := range r.calls {
		if !rec.call.StartedAt.Before(startedBefore) {
			continue
		}
		for _, s := range statuses {
			if rec.call.Status == s {
				stale = append(stale, rec.call)
				break
			}
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].StartedAt.Before(stale[j].StartedAt) })

	ids := make([]uuid.UUID, 0, len(stale))
	for _, c := range stale {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, c.CallID)
	}
	return ids, nil
}

// GetUserCalls returns calls the user took part in, newest first
func (r *CallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var calls []*domain.Call
	for _, rec := range r.calls {
		for _, p := range rec.participants {
			if p.UserID == userID {
				calls = append(calls, rec.call.Clone())
				break
			}
		}
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].StartedAt.After(calls[j].StartedAt) })

	if offset < 0 || limit <= 0 || offset >= len(calls) {
		return []*domain.Call{}, nil
	}
	end := offset + limit
	if end > len(calls) || end < offset {
		end = len(calls)
	}
	return calls[offset:end], nil
}

// ListBusyUsers reports which of userIDs are connected to an active call
func (r *CallRepository) ListBusyUsers(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[uuid.UUID]bool, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = true
	}

	busy := make(map[uuid.UUID]bool)
	for _, rec := range r.calls {
		if !rec.call.Status.IsActive() {
			continue
		}
		for _, p := range rec.participants {
			if wanted[p.UserID] && p.Status == domain.ParticipantOngoing {
				busy[p.UserID] = true
			}
		}
	}
	return busy, nil
}

func cloneParticipants(in []*domain.CallParticipant) []*domain.CallParticipant {
	out := make([]*domain.CallParticipant, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}
