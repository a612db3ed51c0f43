// Package config loads service configuration from the environment (and an
// optional .env file) with viper and validates it.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"callsignal-backend/pkg/constants"
	"callsignal-backend/pkg/env"
)

// Config holds all configuration for the call service
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Media    MediaConfig    `mapstructure:"media"`
	Push     PushConfig     `mapstructure:"push"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Calls    CallsConfig    `mapstructure:"calls"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int      `mapstructure:"port"            validate:"min=1,max=65535"`
	Environment    string   `mapstructure:"environment"     validate:"oneof=development staging production"`
	ServiceName    string   `mapstructure:"service_name"    validate:"required"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"      validate:"required"`
	Port     int    `mapstructure:"port"      validate:"min=1,max=65535"`
	User     string `mapstructure:"user"      validate:"required"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"name"      validate:"required"`
	SSLMode  string `mapstructure:"ssl_mode"  validate:"oneof=disable require verify-ca verify-full"`
	MaxConns int32  `mapstructure:"max_conns" validate:"gte=0"`
	MinConns int32  `mapstructure:"min_conns" validate:"gte=0"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string        `mapstructure:"host"      validate:"required"`
	Port     int           `mapstructure:"port"      validate:"min=1,max=65535"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"        validate:"gte=0,lte=15"`
	PoolSize int           `mapstructure:"pool_size" validate:"gte=1"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// JWTConfig holds API token configuration
type JWTConfig struct {
	Secret            string        `mapstructure:"secret"`
	AccessTokenExpiry time.Duration `mapstructure:"access_token_expiry"`
}

// MediaConfig configures the media server credentials handed to clients
type MediaConfig struct {
	URL       string        `mapstructure:"url"`
	APIKey    string        `mapstructure:"api_key"    validate:"required"`
	APISecret string        `mapstructure:"api_secret" validate:"required"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"  validate:"gt=0"`
}

// PushConfig selects and configures the push provider
type PushConfig struct {
	Provider           string `mapstructure:"provider"             validate:"oneof=mock fcm apns"`
	FCMProjectID       string `mapstructure:"fcm_project_id"       validate:"required_if=Provider fcm"`
	FCMCredentialsPath string `mapstructure:"fcm_credentials_path"`
	APNsBundleID       string `mapstructure:"apns_bundle_id"       validate:"required_if=Provider apns"`
	APNsKeyPath        string `mapstructure:"apns_key_path"`
	APNsKeyID          string `mapstructure:"apns_key_id"`
	APNsTeamID         string `mapstructure:"apns_team_id"`
	APNsCertPath       string `mapstructure:"apns_cert_path"`
	APNsCertPassword   string `mapstructure:"apns_cert_password"`
	APNsProduction     bool   `mapstructure:"apns_production"`
}

// KafkaConfig configures the call event stream. Setting brokers enables it.
type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"     validate:"required"`
	ClientID string   `mapstructure:"client_id"`
}

// CallsConfig tunes call lifecycle timing
type CallsConfig struct {
	Store                string        `mapstructure:"store"                  validate:"oneof=cockroach memory"`
	RingTimeout          time.Duration `mapstructure:"ring_timeout"           validate:"gt=0"`
	MaxAge               time.Duration `mapstructure:"max_age"                validate:"gt=0"`
	ReaperInterval       time.Duration `mapstructure:"reaper_interval"        validate:"gt=0"`
	ReaperBatchSize      int           `mapstructure:"reaper_batch_size"      validate:"gte=1"`
	ReaperParallelism    int           `mapstructure:"reaper_parallelism"     validate:"gte=1"`
	NotificationPoolSize int           `mapstructure:"notification_pool_size" validate:"gte=1"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"    validate:"oneof=json text"`
	Output   string `mapstructure:"output"    validate:"oneof=stdout file"`
	FilePath string `mapstructure:"file_path"`
}

// setting binds one config key to its environment variable and default
type setting struct {
	key string
	env string
	def any
}

var settings = []setting{
	{"server.port", "PORT", 8080},
	{"server.environment", "ENV", "development"},
	{"server.service_name", "SERVICE_NAME", "call-service"},
	{"server.allowed_origins", "CORS_ALLOWED_ORIGINS", []string{}},

	{"database.host", "DB_HOST", "localhost"},
	{"database.port", "DB_PORT", 26257},
	{"database.user", "DB_USER", "root"},
	{"database.name", "DB_NAME", "callsignal"},
	{"database.ssl_mode", "DB_SSL_MODE", "disable"},
	{"database.max_conns", "DB_MAX_CONNS", 25},
	{"database.min_conns", "DB_MIN_CONNS", 5},

	{"redis.host", "REDIS_HOST", "localhost"},
	{"redis.port", "REDIS_PORT", 6379},
	{"redis.db", "REDIS_DB", 0},
	{"redis.pool_size", "REDIS_POOL_SIZE", 10},
	{"redis.timeout", "REDIS_TIMEOUT", "3s"},

	{"jwt.access_token_expiry", "JWT_ACCESS_EXPIRY", constants.AccessTokenExpiry.String()},

	{"media.url", "MEDIA_URL", ""},
	{"media.api_key", "MEDIA_API_KEY", ""},
	{"media.token_ttl", "MEDIA_TOKEN_TTL", constants.MediaTokenExpiry.String()},

	{"push.provider", "PUSH_PROVIDER", "mock"},
	{"push.fcm_project_id", "FCM_PROJECT_ID", ""},
	{"push.fcm_credentials_path", "FCM_CREDENTIALS_PATH", ""},
	{"push.apns_bundle_id", "APNS_BUNDLE_ID", ""},
	{"push.apns_key_path", "APNS_KEY_PATH", ""},
	{"push.apns_key_id", "APNS_KEY_ID", ""},
	{"push.apns_team_id", "APNS_TEAM_ID", ""},
	{"push.apns_cert_path", "APNS_CERT_PATH", ""},
	{"push.apns_production", "APNS_PRODUCTION", false},

	{"kafka.enabled", "KAFKA_ENABLED", false},
	{"kafka.brokers", "KAFKA_BROKERS", []string{}},
	{"kafka.topic", "KAFKA_CALL_EVENTS_TOPIC", constants.CallEventsTopic},
	{"kafka.client_id", "KAFKA_CLIENT_ID", "call-service"},

	{"calls.store", "CALL_STORE", "cockroach"},
	{"calls.ring_timeout", "CALL_RING_TIMEOUT", constants.RingTimeout.String()},
	{"calls.max_age", "CALL_MAX_AGE", constants.StaleCallMaxAge.String()},
	{"calls.reaper_interval", "CALL_REAPER_INTERVAL", constants.ReaperInterval.String()},
	{"calls.reaper_batch_size", "CALL_REAPER_BATCH_SIZE", 200},
	{"calls.reaper_parallelism", "CALL_REAPER_PARALLELISM", 8},
	{"calls.notification_pool_size", "CALL_NOTIFICATION_POOL_SIZE", 64},

	{"log.level", "LOG_LEVEL", "info"},
	{"log.format", "LOG_FORMAT", "json"},
	{"log.output", "LOG_OUTPUT", "stdout"},
	{"log.file_path", "LOG_FILE_PATH", "/logs/app.log"},
}

// Load reads configuration from the environment and an optional .env file
// in the working directory
func Load() (*Config, error) {
	return load(".")
}

// LoadDatabase reads only what the migration tool needs
func LoadDatabase() (*DatabaseConfig, error) {
	cfg, err := read(".")
	if err != nil {
		return nil, err
	}
	if err := validator.New().Struct(&cfg.Database); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	return &cfg.Database, nil
}

func load(configPath string) (*Config, error) {
	cfg, err := read(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(configPath string) (*Config, error) {
	// .env entries use the same names as the environment, so read them on
	// their own and feed them in as defaults beneath the real environment
	file := viper.New()
	file.SetConfigName(".env")
	file.SetConfigType("env")
	file.AddConfigPath(configPath)
	if err := file.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v := viper.New()
	v.AllowEmptyEnv(true)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, s := range settings {
		def := s.def
		if file.IsSet(s.env) {
			def = file.Get(s.env)
		}
		v.SetDefault(s.key, def)
		if err := v.BindEnv(s.key, s.env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", s.env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Secrets honour the Docker *_FILE convention
	cfg.Database.Password = env.GetStringFromFile("DB_PASSWORD", file.GetString("DB_PASSWORD"))
	cfg.Redis.Password = env.GetStringFromFile("REDIS_PASSWORD", file.GetString("REDIS_PASSWORD"))
	cfg.JWT.Secret = env.GetStringFromFile("JWT_SECRET", file.GetString("JWT_SECRET"))
	cfg.Media.APISecret = env.GetStringFromFile("MEDIA_API_SECRET", file.GetString("MEDIA_API_SECRET"))
	cfg.Push.APNsCertPassword = env.GetStringFromFile("APNS_CERT_PASSWORD", file.GetString("APNS_CERT_PASSWORD"))

	if len(cfg.Kafka.Brokers) > 0 {
		cfg.Kafka.Enabled = true
	}
	return &cfg, nil
}

// Validate checks struct constraints and production-only rules
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS must be set when Kafka is enabled")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.Server.Environment == "production" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	return nil
}
