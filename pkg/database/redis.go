package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"callsignal-backend/pkg/logger"
)

var (
	redisDegraded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redis_degraded_mode",
		Help: "Indicates if Redis is in degraded mode (1 = degraded, 0 = healthy)",
	})
	redisHealthChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redis_health_check_total",
		Help: "Total number of Redis health checks",
	}, []string{"result"})
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// RedisDB wraps the Redis client and tracks whether Redis is reachable.
// Callers on best-effort paths check IsDegraded to skip Redis work quickly.
type RedisDB struct {
	Client *redis.Client

	mu       sync.RWMutex
	degraded bool
}

// NewRedisDB creates a new Redis client and verifies the connection
func NewRedisDB(ctx context.Context, config *RedisConfig) (*RedisDB, error) {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   3,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisDB{Client: client}, nil
}

// Close closes the Redis connection
func (db *RedisDB) Close() error {
	return db.Client.Close()
}

// IsDegraded returns true if the last health check failed
func (db *RedisDB) IsDegraded() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.degraded
}

// HealthCheck pings Redis and updates degraded mode
func (db *RedisDB) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err := db.Client.Ping(healthCtx).Err()
	db.setDegraded(err != nil)
	if err != nil {
		redisHealthChecks.WithLabelValues("failure").Inc()
		return fmt.Errorf("redis health check failed: %w", err)
	}
	redisHealthChecks.WithLabelValues("success").Inc()
	return nil
}

// StartHealthCheck runs HealthCheck every interval until ctx is cancelled
func (db *RedisDB) StartHealthCheck(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.HealthCheck(ctx); err != nil {
					logger.Warn("Redis unavailable, running degraded", zap.Error(err))
				}
			}
		}
	}()
}

func (db *RedisDB) setDegraded(degraded bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.degraded == degraded {
		return
	}
	db.degraded = degraded
	if degraded {
		redisDegraded.Set(1)
		return
	}
	redisDegraded.Set(0)
	logger.Info("Redis recovered from degraded mode")
}
