package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"callsignal-backend/pkg/cache"
	"callsignal-backend/pkg/sanitize"
)

const displayNameTTL = 10 * time.Minute

// UserRepository resolves display names for call tokens and ring
// notifications. Lookups are cached in memory because the same few names are
// read on every join.
type UserRepository struct {
	pool  *pgxpool.Pool
	names *cache.MemoryCache[uuid.UUID, string]
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{
		pool:  pool,
		names: cache.NewMemoryCache[uuid.UUID, string](displayNameTTL, 10000),
	}
}

// GetDisplayName returns the user's display name, falling back to the
// username, cleaned for use in notifications
func (r *UserRepository) GetDisplayName(ctx context.Context, userID uuid.UUID) (string, error) {
	if name, ok := r.names.Get(userID); ok {
		return name, nil
	}

	query := `
		SELECT COALESCE(NULLIF(display_name, ''), username)
		FROM users
		WHERE user_id = $1
	`

	var name string
	err := r.pool.QueryRow(ctx, query, userID).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("user not found")
		}
		return "", fmt.Errorf("failed to get user: %w", err)
	}

	name = sanitize.DisplayName(name)
	r.names.Set(userID, name, 0)
	return name, nil
}
