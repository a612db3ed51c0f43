// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// RequestTimeout bounds a single API request
	RequestTimeout = 15 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 30 * time.Second

	// WebSocketPongWait is how long a client may stay silent before it is dropped
	WebSocketPongWait = 60 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 20 * time.Second

	// NotificationTimeout bounds a single fan-out delivery
	NotificationTimeout = 10 * time.Second
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute

	// MediaTokenExpiry is the lifetime of a media room credential
	MediaTokenExpiry = 2 * time.Hour
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// Push notification constants
const (
	// PushTokenExpiry is the validity period for push notification tokens
	PushTokenExpiry = 30 * 24 * time.Hour // 30 days
)

// Audit log constants
const (
	// AuditLogRetention is the duration audit logs are retained
	AuditLogRetention = 90 * 24 * time.Hour // 90 days
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 20

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 100
)

// Call-related constants
const (
	// StaleCallMaxAge is how long a non-terminal call may live before the reaper ends it
	StaleCallMaxAge = 4 * time.Hour

	// RingTimeout is how long a call may ring unanswered
	RingTimeout = 60 * time.Second

	// ReaperInterval is the period between reaper sweeps
	ReaperInterval = 30 * time.Second

	// ReaperLockKey serializes sweeps across replicas
	ReaperLockKey = "calls:reaper:lock"

	// CallEventsTopic is the Kafka topic that receives call lifecycle events
	CallEventsTopic = "call-events"
)
