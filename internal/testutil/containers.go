// Package testutil starts throwaway Postgres and Redis containers for
// integration tests. Tests using it are skipped under -short or when Docker
// is not reachable.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"callsignal-backend/migrations"
	"callsignal-backend/pkg/database"
)

// directorySchema stands in for the tables owned by the conversation and
// user services, which the call store only reads
const directorySchema = `
CREATE TABLE IF NOT EXISTS users (
	user_id      UUID PRIMARY KEY,
	username     TEXT NOT NULL,
	display_name TEXT
);
CREATE TABLE IF NOT EXISTS conversation_participants (
	conversation_id UUID NOT NULL,
	user_id         UUID NOT NULL,
	joined_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (conversation_id, user_id)
);
`

func newPool(t *testing.T) *dockertest.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	pool.MaxWait = 2 * time.Minute
	return pool
}

func run(t *testing.T, pool *dockertest.Pool, opts *dockertest.RunOptions) *dockertest.Resource {
	t.Helper()

	resource, err := pool.RunWithOptions(opts, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)
	require.NoError(t, resource.Expire(300))

	t.Cleanup(func() { _ = pool.Purge(resource) })
	return resource
}

func hostPort(t *testing.T, resource *dockertest.Resource, port string) (string, int) {
	t.Helper()

	host, portStr, err := net.SplitHostPort(resource.GetHostPort(port))
	require.NoError(t, err)
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	p, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, p
}

// StartPostgres runs postgres, applies the call migrations plus a minimal
// directory schema, and returns a connected pool
func StartPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	pool := newPool(t)
	resource := run(t, pool, &dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "15",
		Env: []string{
			"POSTGRES_PASSWORD=secret",
			"POSTGRES_USER=calls",
			"POSTGRES_DB=calls",
		},
		ExposedPorts: []string{"5432/tcp"},
	})

	host, port := hostPort(t, resource, "5432/tcp")
	cfg := &database.CockroachConfig{
		Host:     host,
		Port:     port,
		User:     "calls",
		Password: "secret",
		Database: "calls",
		SSLMode:  "disable",
	}

	ctx := context.Background()
	var db *pgxpool.Pool
	require.NoError(t, pool.Retry(func() error {
		p, err := pgxpool.New(ctx, cfg.URL("postgresql"))
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		db = p
		return nil
	}))
	t.Cleanup(db.Close)

	require.NoError(t, Migrate(cfg.URL("pgx5")))

	_, err := db.Exec(ctx, directorySchema)
	require.NoError(t, err)

	return db
}

// Migrate applies every embedded migration to the database at url
func Migrate(url string) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, url)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// StartRedis runs redis and returns a connected client
func StartRedis(t *testing.T) *redis.Client {
	t.Helper()

	pool := newPool(t)
	resource := run(t, pool, &dockertest.RunOptions{
		Repository:   "redis",
		Tag:          "7-alpine",
		ExposedPorts: []string{"6379/tcp"},
	})

	host, port := hostPort(t, resource, "6379/tcp")
	client := redis.NewClient(&redis.Options{Addr: net.JoinHostPort(host, strconv.Itoa(port))})
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, pool.Retry(func() error {
		return client.Ping(context.Background()).Err()
	}))
	return client
}
