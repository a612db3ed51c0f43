package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callsignal-backend/internal/testutil"
	"callsignal-backend/pkg/push"
)

func TestPushTokenRepository(t *testing.T) {
	client := testutil.StartRedis(t)
	repo := NewPushTokenRepository(client)
	ctx := context.Background()

	alice, bob := uuid.New(), uuid.New()
	token := &push.Token{UserID: alice, Token: "device-1", Type: push.TokenTypeFCM, Active: true}

	require.NoError(t, repo.Store(ctx, token))
	assert.NotEqual(t, uuid.Nil, token.ID)

	got, err := repo.GetByToken(ctx, "device-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, alice, got.UserID)

	missing, err := repo.GetByToken(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.MarkInactive(ctx, token.ID))
	tokens, err := repo.GetByUserID(ctx, alice)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.False(t, tokens[0].Active)

	// re-registering on another account moves the token
	got.UserID = bob
	got.Active = true
	require.NoError(t, repo.Update(ctx, got))

	tokens, err = repo.GetByUserID(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, tokens)
	tokens, err = repo.GetByUserID(ctx, bob)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.True(t, tokens[0].Active)

	require.NoError(t, repo.Delete(ctx, token.ID))
	tokens, err = repo.GetByUserID(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, tokens)

	assert.NoError(t, repo.Delete(ctx, uuid.New()))
	assert.NoError(t, repo.MarkInactive(ctx, uuid.New()))
}

func TestPushTokenRepository_PrunesExpiredRecords(t *testing.T) {
	client := testutil.StartRedis(t)
	repo := NewPushTokenRepository(client)
	ctx := context.Background()

	userID := uuid.New()
	token := &push.Token{UserID: userID, Token: "gone", Type: push.TokenTypeAPNs, Active: true}
	require.NoError(t, repo.Store(ctx, token))
	require.NoError(t, client.Del(ctx, tokenKey("gone")).Err())

	tokens, err := repo.GetByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, tokens)

	members, err := client.SMembers(ctx, userTokensKey(userID)).Result()
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestLockRepository(t *testing.T) {
	client := testutil.StartRedis(t)
	locks := NewLockRepository(client)
	ctx := context.Background()

	release, ok, err := locks.TryLock(ctx, "calls:test:lock", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locks.TryLock(ctx, "calls:test:lock", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lock is held")

	require.NoError(t, release(ctx))

	again, ok, err := locks.TryLock(ctx, "calls:test:lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, again(ctx))
}

func TestLockRepository_StaleReleaseKeepsNewHolder(t *testing.T) {
	client := testutil.StartRedis(t)
	locks := NewLockRepository(client)
	ctx := context.Background()

	stale, ok, err := locks.TryLock(ctx, "calls:test:lease", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// simulate the first lease expiring and another replica taking over
	require.NoError(t, client.Del(ctx, "calls:test:lease").Err())
	_, ok, err = locks.TryLock(ctx, "calls:test:lease", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, stale(ctx))

	exists, err := client.Exists(ctx, "calls:test:lease").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}
