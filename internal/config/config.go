// Package config provides configuration management for the application
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP and logging configuration
type ServerConfig struct {
	Port      string
	LogLevel  string
	LogFormat string
}

// RedisConfig holds Redis/Valkey configuration
type RedisConfig struct {
	Enabled bool
	// URI is prioritized if provided, otherwise individual connection parameters are used
	URI       string
	Host      string
	Port      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	// TTL for rooms and presence entries (0 means no expiration)
	RoomTTL time.Duration
}

// RoomsConfig holds room code generation and membership policy
type RoomsConfig struct {
	CodeAlphabet    string
	CodeLength      int
	CodeMaxAttempts int
	MaxMembersLimit int
	BlockedWords    []string
	ReconnectGrace  time.Duration
	ReaperInterval  time.Duration
	MinNameLength   int
	MaxNameLength   int
	MinMembers      int
}

// newViper returns a viper instance bound to the environment with all defaults set.
// A fresh instance per call keeps t.Setenv in tests effective.
func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_URI_ZPARTY", "")
	v.SetDefault("REDIS_ADDRESS", "localhost")
	v.SetDefault("REDIS_PORT_ZPARTY", "6379")
	v.SetDefault("REDIS_USERNAME_ZPARTY", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "zparty:")
	v.SetDefault("REDIS_ROOM_TTL_HOURS", 24)

	v.SetDefault("ROOM_CODE_ALPHABET", "ABCDEFGHJKLMNPQRSTUVWXYZ23456789")
	v.SetDefault("ROOM_CODE_LENGTH", 6)
	v.SetDefault("ROOM_CREATION_MAX_RETRY_ATTEMPTS", 50)
	v.SetDefault("ROOM_MAX_MEMBERS_LIMIT", 20)
	v.SetDefault("ROOM_BLOCKED_WORDS", "")
	v.SetDefault("ROOM_RECONNECT_GRACE", "0s")
	v.SetDefault("ROOM_REAPER_INTERVAL", "30s")

	return v
}

// GetServerConfig loads HTTP server and logging configuration from environment variables
func GetServerConfig() ServerConfig {
	v := newViper()
	return ServerConfig{
		Port:      v.GetString("PORT"),
		LogLevel:  strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat: strings.ToLower(v.GetString("LOG_FORMAT")),
	}
}

// GetRedisConfig loads Redis/Valkey configuration from environment variables
func GetRedisConfig() RedisConfig {
	v := newViper()

	ttl := time.Duration(v.GetInt("REDIS_ROOM_TTL_HOURS")) * time.Hour
	if ttl < 0 {
		ttl = 0
	}

	return RedisConfig{
		Enabled:   v.GetBool("REDIS_ENABLED"),
		URI:       v.GetString("REDIS_URI_ZPARTY"),
		Host:      getString(v, "REDIS_HOST_ZPARTY", "REDIS_ADDRESS"),
		Port:      v.GetString("REDIS_PORT_ZPARTY"),
		Username:  v.GetString("REDIS_USERNAME_ZPARTY"),
		Password:  getString(v, "REDIS_PASSWORD_ZPARTY", "REDIS_PASSWORD"),
		DB:        v.GetInt("REDIS_DB"),
		KeyPrefix: v.GetString("REDIS_KEY_PREFIX"),
		RoomTTL:   ttl,
	}
}

// GetRoomsConfig loads room policy configuration from environment variables
func GetRoomsConfig() RoomsConfig {
	v := newViper()

	cfg := RoomsConfig{
		CodeAlphabet:    v.GetString("ROOM_CODE_ALPHABET"),
		CodeLength:      v.GetInt("ROOM_CODE_LENGTH"),
		CodeMaxAttempts: v.GetInt("ROOM_CREATION_MAX_RETRY_ATTEMPTS"),
		MaxMembersLimit: v.GetInt("ROOM_MAX_MEMBERS_LIMIT"),
		BlockedWords:    splitCSV(v.GetString("ROOM_BLOCKED_WORDS")),
		ReconnectGrace:  v.GetDuration("ROOM_RECONNECT_GRACE"),
		ReaperInterval:  v.GetDuration("ROOM_REAPER_INTERVAL"),
		MinNameLength:   2,
		MaxNameLength:   20,
		MinMembers:      2,
	}

	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 6
	}
	if cfg.CodeMaxAttempts <= 0 {
		cfg.CodeMaxAttempts = 50
	}
	if cfg.MaxMembersLimit < cfg.MinMembers {
		cfg.MaxMembersLimit = 20
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = 30 * time.Second
	}

	return cfg
}

// ReaperEnabled reports whether disconnected members should be removed after a grace period
func (c RoomsConfig) ReaperEnabled() bool {
	return c.ReconnectGrace > 0
}

// getString returns the first non-empty value among the given keys
func getString(v *viper.Viper, keys ...string) string {
	for _, key := range keys {
		if value := v.GetString(key); value != "" {
			return value
		}
	}
	return ""
}

// splitCSV trims and filters a comma-separated list
func splitCSV(value string) []string {
	var out []string
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
