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
	GinMode        string
	LogLevel       string
	AllowedOrigins []string
	JWTSecret      string

	RedisURL      string
	RedisPassword string
	RedisDB       int

	HeartbeatInterval  time.Duration
	PresenceTTL        time.Duration
	ReconnectGrace     time.Duration
	InviteTimeout      time.Duration
	DeclineNotice      time.Duration
	ChatRetention      time.Duration
	ChatSweepInterval  time.Duration
	ChatMaxMessages    int
	DepartureGrace     time.Duration
	RematchWindow      time.Duration
	SessionSnapshotTTL time.Duration
	SendBufferSize     int
}

// LoadConfig reads the process environment. Malformed numeric values are
// reported together rather than silently replaced by defaults.
func LoadConfig() (*Config, error) {
	var errs []error
	asInt := func(key string, def int) int {
		v, err := GetEnvAsInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	asDuration := func(key string, def int, unit time.Duration) time.Duration {
		v, err := GetEnvAsDuration(key, def, unit)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	// Frontend & CORS
	allowedOrigins := []string{"http://localhost:5173"}
	if raw := GetEnv("ALLOWED_ORIGINS", ""); raw != "" {
		allowedOrigins = allowedOrigins[:0]
		for _, origin := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				allowedOrigins = append(allowedOrigins, trimmed)
			}
		}
	}

	cfg := &Config{
		Port:           GetEnv("PORT", "8080"),
		GinMode:        GetEnv("GIN_MODE", "release"),
		LogLevel:       GetEnv("LOG_LEVEL", "info"),
		AllowedOrigins: allowedOrigins,
		JWTSecret:      GetEnv("JWT_SECRET", ""),

		RedisURL:      GetEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       asInt("REDIS_DB", 0),

		HeartbeatInterval:  asDuration("HEARTBEAT_INTERVAL_SECONDS", 15, time.Second),
		PresenceTTL:        asDuration("PRESENCE_TTL_SECONDS", 30, time.Second),
		ReconnectGrace:     asDuration("RECONNECT_GRACE_SECONDS", 10, time.Second),
		InviteTimeout:      asDuration("INVITE_TIMEOUT_SECONDS", 60, time.Second),
		DeclineNotice:      asDuration("DECLINE_NOTICE_SECONDS", 5, time.Second),
		ChatRetention:      asDuration("CHAT_RETENTION_SECONDS", 30, time.Second),
		ChatSweepInterval:  asDuration("CHAT_SWEEP_INTERVAL_SECONDS", 10, time.Second),
		ChatMaxMessages:    asInt("CHAT_MAX_MESSAGES", 200),
		DepartureGrace:     asDuration("DEPARTURE_GRACE_SECONDS", 60, time.Second),
		RematchWindow:      asDuration("REMATCH_WINDOW_SECONDS", 0, time.Second),
		SessionSnapshotTTL: asDuration("SESSION_SNAPSHOT_TTL_MINUTES", 120, time.Minute),
		SendBufferSize:     asInt("SEND_BUFFER_SIZE", 64),
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the relationships between settings.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must be set"))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat interval must be positive"))
	}
	if c.PresenceTTL <= c.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("presence ttl %s must exceed heartbeat interval %s", c.PresenceTTL, c.HeartbeatInterval))
	}
	if c.ReconnectGrace < 0 || c.DeclineNotice < 0 || c.DepartureGrace < 0 || c.RematchWindow < 0 {
		errs = append(errs, errors.New("grace windows cannot be negative"))
	}
	if c.InviteTimeout <= 0 {
		errs = append(errs, errors.New("invite timeout must be positive"))
	}
	if c.ChatRetention <= 0 || c.ChatSweepInterval <= 0 {
		errs = append(errs, errors.New("chat retention and sweep interval must be positive"))
	}
	if c.ChatMaxMessages <= 0 {
		errs = append(errs, errors.New("chat history cap must be positive"))
	}
	if c.SessionSnapshotTTL <= 0 {
		errs = append(errs, errors.New("session snapshot ttl must be positive"))
	}
	if c.SendBufferSize <= 0 {
		errs = append(errs, errors.New("send buffer size must be positive"))
	}
	return errors.Join(errs...)
}

func GetEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func GetEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue, fmt.Errorf("invalid integer value for %s: %q", key, valueStr)
	}
	return value, nil
}

// GetEnvAsDuration reads an integer count of unit.
func GetEnvAsDuration(key string, defaultValue int, unit time.Duration) (time.Duration, error) {
	value, err := GetEnvAsInt(key, defaultValue)
	return time.Duration(value) * unit, err
}
