package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"callsignal-backend/internal/domain"
	"callsignal-backend/pkg/logger"
)

const (
	// partial unique index from migrations/000001_create_calls.up.sql
	activeCallIndex = "calls_one_active_per_conversation"

	sqlStateUniqueViolation     = "23505"
	sqlStateSerializationFailed = "40001"

	txRetryAttempts = 5
)

const callColumns = `call_id, conversation_id, caller_id, room_id, call_type, status,
		started_at, ended_at, duration, created_at, updated_at`

const participantColumns = `call_id, user_id, status, invited_at, joined_at, left_at,
		is_muted, is_video_enabled`

const upsertParticipantSQL = `
	INSERT INTO call_participants (` + participantColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (call_id, user_id) DO UPDATE SET
		status = excluded.status,
		invited_at = excluded.invited_at,
		joined_at = excluded.joined_at,
		left_at = excluded.left_at,
		is_muted = excluded.is_muted,
		is_video_enabled = excluded.is_video_enabled
`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CallRepository persists calls and their participants in CockroachDB.
// Every state change goes through Mutate, which holds the call row lock for
// the whole read-modify-write.
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// Create inserts a call and its initial participants in one transaction.
// A second active call for the same conversation trips the partial unique
// index and returns domain.ErrActiveCallExists. Serialization failures are
// retried like Mutate.
func (r *CallRepository) Create(ctx context.Context, call *domain.Call, participants []*domain.CallParticipant) error {
	return retryTx(ctx, call.CallID, func() error {
		return r.createOnce(ctx, call, participants)
	})
}

func (r *CallRepository) createOnce(ctx context.Context, call *domain.Call, participants []*domain.CallParticipant) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO calls (` + callColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = tx.Exec(ctx, query,
		call.CallID,
		call.ConversationID,
		call.CallerID,
		call.RoomID,
		call.CallType,
		call.Status,
		call.StartedAt,
		call.EndedAt,
		call.Duration,
		call.CreatedAt,
		call.UpdatedAt,
	)
	if err != nil {
		if isActiveCallViolation(err) {
			return domain.ErrActiveCallExists
		}
		return fmt.Errorf("failed to create call: %w", err)
	}

	if err := upsertParticipants(ctx, tx, participants); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isActiveCallViolation(err) {
			return domain.ErrActiveCallExists
		}
		return fmt.Errorf("failed to commit call: %w", err)
	}
	return nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE call_id = $1`
	return scanCall(r.pool.QueryRow(ctx, query, callID))
}

// GetActiveByConversation retrieves the ringing or ongoing call of a conversation
func (r *CallRepository) GetActiveByConversation(ctx context.Context, conversationID uuid.UUID) (*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE conversation_id = $1 AND status IN ('ringing', 'ongoing')
		LIMIT 1
	`
	return scanCall(r.pool.QueryRow(ctx, query, conversationID))
}

// GetParticipants retrieves all participants in a call
func (r *CallRepository) GetParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	return queryParticipants(ctx, r.pool, callID)
}

// Mutate locks the call row, hands a consistent snapshot to fn and writes back
// whatever fn changed. Serialization failures are retried, so fn may run more
// than once and must not keep state across runs.
func (r *CallRepository) Mutate(ctx context.Context, callID uuid.UUID, fn func(*domain.CallSession) error) (*domain.CallSession, error) {
	var session *domain.CallSession
	err := retryTx(ctx, callID, func() error {
		s, err := r.mutateOnce(ctx, callID, fn)
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// retryTx reruns op while CockroachDB aborts it with a serialization failure
func retryTx(ctx context.Context, callID uuid.UUID, op func() error) error {
	return retry.Do(op,
		retry.Context(ctx),
		retry.Attempts(txRetryAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(20*time.Millisecond),
		retry.MaxDelay(500*time.Millisecond),
		retry.RetryIf(isSerializationFailure),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug("Retrying call transaction",
				zap.String("call_id", callID.String()),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	)
}

func (r *CallRepository) mutateOnce(ctx context.Context, callID uuid.UUID, fn func(*domain.CallSession) error) (*domain.CallSession, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	call, err := scanCall(tx.QueryRow(ctx,
		`SELECT `+callColumns+` FROM calls WHERE call_id = $1 FOR UPDATE`, callID))
	if err != nil {
		return nil, err
	}

	participants, err := queryParticipants(ctx, tx, callID)
	if err != nil {
		return nil, err
	}

	session := domain.NewCallSession(call, participants)
	if err := fn(session); err != nil {
		return nil, err
	}
	if !session.Changed() {
		return session, nil
	}

	if session.CallChanged() {
		query := `
			UPDATE calls
			SET status = $2, ended_at = $3, duration = $4, updated_at = $5
			WHERE call_id = $1
		`
		c := session.Call
		if _, err := tx.Exec(ctx, query, c.CallID, c.Status, c.EndedAt, c.Duration, c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to update call: %w", err)
		}
	}

	if err := upsertParticipants(ctx, tx, session.DirtyParticipants()); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit call update: %w", err)
	}
	return session, nil
}

// ListStale returns ids of calls in one of statuses that started before the cutoff, oldest first
func (r *CallRepository) ListStale(ctx context.Context, statuses []domain.CallStatus, startedBefore time.Time, limit int) ([]uuid.UUID, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	query := `
		SELECT call_id
		FROM calls
		WHERE status = ANY($1) AND started_at < $2
		ORDER BY started_at ASC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, names, startedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale calls: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan call id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetUserCalls retrieves calls the user took part in, newest first
func (r *CallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	if offset < 0 || limit <= 0 {
		return []*domain.Call{}, nil
	}

	query := `
		SELECT c.call_id, c.conversation_id, c.caller_id, c.room_id, c.call_type, c.status,
		       c.started_at, c.ended_at, c.duration, c.created_at, c.updated_at
		FROM calls c
		JOIN call_participants cp ON c.call_id = cp.call_id
		WHERE cp.user_id = $1
		ORDER BY c.started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user calls: %w", err)
	}
	defer rows.Close()

	calls := make([]*domain.Call, 0, limit)
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	return calls, rows.Err()
}

// ListBusyUsers reports which of userIDs are connected to an active call
func (r *CallRepository) ListBusyUsers(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	busy := make(map[uuid.UUID]bool)
	if len(userIDs) == 0 {
		return busy, nil
	}

	query := `
		SELECT DISTINCT cp.user_id
		FROM call_participants cp
		JOIN calls c ON c.call_id = cp.call_id
		WHERE cp.user_id = ANY($1)
		  AND cp.status = 'ongoing'
		  AND c.status IN ('ringing', 'ongoing')
	`
	rows, err := r.pool.Query(ctx, query, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list busy users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		busy[id] = true
	}
	return busy, rows.Err()
}

func scanCall(row pgx.Row) (*domain.Call, error) {
	call := &domain.Call{}
	err := row.Scan(
		&call.CallID,
		&call.ConversationID,
		&call.CallerID,
		&call.RoomID,
		&call.CallType,
		&call.Status,
		&call.StartedAt,
		&call.EndedAt,
		&call.Duration,
		&call.CreatedAt,
		&call.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCallNotFound
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	return call, nil
}

func queryParticipants(ctx context.Context, q querier, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM call_participants
		WHERE call_id = $1
		ORDER BY invited_at ASC, user_id ASC
	`

	rows, err := q.Query(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []*domain.CallParticipant
	for rows.Next() {
		p := &domain.CallParticipant{}
		err := rows.Scan(
			&p.CallID,
			&p.UserID,
			&p.Status,
			&p.InvitedAt,
			&p.JoinedAt,
			&p.LeftAt,
			&p.IsMuted,
			&p.IsVideoEnabled,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func upsertParticipants(ctx context.Context, tx pgx.Tx, participants []*domain.CallParticipant) error {
	if len(participants) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range participants {
		batch.Queue(upsertParticipantSQL,
			p.CallID,
			p.UserID,
			p.Status,
			p.InvitedAt,
			p.JoinedAt,
			p.LeftAt,
			p.IsMuted,
			p.IsVideoEnabled,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to write participants: %w", err)
	}
	return nil
}

func isActiveCallViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == sqlStateUniqueViolation &&
		pgErr.ConstraintName == activeCallIndex
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateSerializationFailed
}
