package cockroach

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callsignal-backend/internal/domain"
	"callsignal-backend/internal/repository/storetest"
	"callsignal-backend/internal/testutil"
)

func TestCallRepository(t *testing.T) {
	db := testutil.StartPostgres(t)
	storetest.Run(t, NewCallRepository(db))
}

func seedMember(t *testing.T, db *pgxpool.Pool, conversationID, userID uuid.UUID, offset string) {
	t.Helper()
	_, err := db.Exec(context.Background(),
		`INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
		 VALUES ($1, $2, now() + $3::interval)`,
		conversationID, userID, offset)
	require.NoError(t, err)
}

func TestConversationAndUserRepositories(t *testing.T) {
	db := testutil.StartPostgres(t)
	ctx := context.Background()

	t.Run("GetActiveMembers", func(t *testing.T) {
		repo := NewConversationRepository(db)
		conversation := uuid.New()
		first, second := uuid.New(), uuid.New()
		seedMember(t, db, conversation, second, "1 second")
		seedMember(t, db, conversation, first, "0 seconds")

		members, err := repo.GetActiveMembers(ctx, conversation)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{first, second}, members)

		members, err = repo.GetActiveMembers(ctx, uuid.New())
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("IsMember", func(t *testing.T) {
		repo := NewConversationRepository(db)
		conversation, member := uuid.New(), uuid.New()
		seedMember(t, db, conversation, member, "0 seconds")

		ok, err := repo.IsMember(ctx, conversation, member)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.IsMember(ctx, conversation, uuid.New())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("GetDisplayName", func(t *testing.T) {
		repo := NewUserRepository(db)
		named, plain := uuid.New(), uuid.New()
		_, err := db.Exec(ctx,
			`INSERT INTO users (user_id, username, display_name) VALUES ($1, 'alice', 'Alice A'), ($2, 'bob', '')`,
			named, plain)
		require.NoError(t, err)

		name, err := repo.GetDisplayName(ctx, named)
		require.NoError(t, err)
		assert.Equal(t, "Alice A", name)

		name, err = repo.GetDisplayName(ctx, plain)
		require.NoError(t, err)
		assert.Equal(t, "bob", name)

		// served from cache after the row changes
		_, err = db.Exec(ctx, `UPDATE users SET display_name = 'Renamed' WHERE user_id = $1`, named)
		require.NoError(t, err)
		name, err = repo.GetDisplayName(ctx, named)
		require.NoError(t, err)
		assert.Equal(t, "Alice A", name)

		_, err = repo.GetDisplayName(ctx, uuid.New())
		assert.Error(t, err)
	})
}

func TestRetryTx_RetriesSerializationFailures(t *testing.T) {
	ctx := context.Background()
	conflict := &pgconn.PgError{Code: sqlStateSerializationFailed}

	calls := 0
	err := retryTx(ctx, uuid.New(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("failed to create call: %w", conflict)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = retryTx(ctx, uuid.New(), func() error {
		calls++
		return domain.ErrActiveCallExists
	})
	assert.ErrorIs(t, err, domain.ErrActiveCallExists)
	assert.Equal(t, 1, calls, "a unique violation is final")

	calls = 0
	err = retryTx(ctx, uuid.New(), func() error {
		calls++
		return conflict
	})
	assert.True(t, isSerializationFailure(err))
	assert.Equal(t, txRetryAttempts, calls)
}
