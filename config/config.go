package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	Environment    string
	LogLevel       string
	AllowedOrigins []string
	JWTSecret      string
	StoreBackend   string // "memory" or "redis"
	Redis          RedisConfig
	Session        SessionConfig
}

type RedisConfig struct {
	Host      string
	Port      string
	Password  string
	DB        int
	Retention time.Duration // How long closed rooms stay readable
}

// SessionConfig tunes room lifecycle timers and signaling buffers
type SessionConfig struct {
	HeartbeatInterval      time.Duration
	MissedHeartbeats       int
	GracePeriod            time.Duration
	RoomTTL                time.Duration
	SweepInterval          time.Duration
	SignalBufferWindow     time.Duration
	OutboundQueueSize      int
	DefaultMaxParticipants int
	DefaultHostPolicy      string
}

func Load() *Config {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		StoreBackend:   getEnv("STORE_BACKEND", "memory"),
		Redis: RedisConfig{
			Host:      getEnv("REDIS_HOST", "localhost"),
			Port:      getEnv("REDIS_PORT", "6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			Retention: getEnvDuration("REDIS_RETENTION", 7*24*time.Hour),
		},
		Session: SessionConfig{
			HeartbeatInterval:      getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
			MissedHeartbeats:       getEnvInt("MISSED_HEARTBEATS", 3),
			GracePeriod:            getEnvDuration("HOST_GRACE_PERIOD", 3*time.Minute),
			RoomTTL:                getEnvDuration("ROOM_TTL", 24*time.Hour),
			SweepInterval:          getEnvDuration("SWEEP_INTERVAL", time.Minute),
			SignalBufferWindow:     getEnvDuration("SIGNAL_BUFFER_WINDOW", 10*time.Second),
			OutboundQueueSize:      getEnvInt("OUTBOUND_QUEUE_SIZE", 64),
			DefaultMaxParticipants: getEnvInt("MAX_PARTICIPANTS", 8),
			DefaultHostPolicy:      getEnv("HOST_POLICY", "viewer-only"),
		},
	}
}

// Validate reports every setting that would make the server misbehave
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.Environment == "production" && c.JWTSecret == "change-me-in-production" {
		errs = append(errs, errors.New("JWT_SECRET must be set in production"))
	}
	switch c.StoreBackend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.StoreBackend))
	}

	s := c.Session
	if s.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat interval must be positive"))
	}
	if s.MissedHeartbeats < 2 {
		errs = append(errs, errors.New("missed heartbeats must be at least 2"))
	}
	if s.GracePeriod < 2*time.Minute || s.GracePeriod > 5*time.Minute {
		errs = append(errs, fmt.Errorf("host grace period %v outside 2m-5m", s.GracePeriod))
	}
	if s.RoomTTL <= 0 || s.SweepInterval <= 0 || s.SignalBufferWindow <= 0 {
		errs = append(errs, errors.New("room TTL, sweep interval and signal buffer window must be positive"))
	}
	if s.OutboundQueueSize < 1 {
		errs = append(errs, errors.New("outbound queue size must be at least 1"))
	}
	if s.DefaultMaxParticipants < 2 {
		errs = append(errs, errors.New("max participants must be at least 2"))
	}
	switch s.DefaultHostPolicy {
	case "backup-host", "promote-controller", "viewer-only":
	default:
		errs = append(errs, fmt.Errorf("unknown host policy %q", s.DefaultHostPolicy))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
