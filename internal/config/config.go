// Package config provides configuration for the teamdesk realtime service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int // REST + /ws
	RPCPort  int // JSON-RPC for out-of-process task services

	// Storage
	StoreDriver   string
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string

	// Auth settings
	JWTSecret string

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
	SendBuffer     int

	UserCacheTTL time.Duration
	PolicyFile   string
	SeedFile     string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:       getEnvInt("HTTP_PORT", 8080),
		RPCPort:        getEnvInt("RPC_PORT", 8092),
		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
		DatabaseURL:    getEnv("DATABASE_URL", "file:teamdesk.db?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"),
		MongoURI:       getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:  getEnv("MONGO_DATABASE", "teamdesk"),
		JWTSecret:      strings.TrimSpace(os.Getenv("JWT_ACCESS_SECRET")),
		PingInterval:   time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:   time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:    time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		SendBuffer:     getEnvInt("WS_SEND_BUFFER", 256),
		UserCacheTTL:   time.Duration(getEnvInt("USER_CACHE_TTL_MS", 30000)) * time.Millisecond,
		PolicyFile:     getEnv("POLICY_FILE", ""),
		SeedFile:       getEnv("SEED_FILE", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports missing or invalid settings.
func (c *Config) Validate() error {
	var missing, invalid []string

	if c.JWTSecret == "" {
		missing = append(missing, "JWT_ACCESS_SECRET")
	}
	if c.StoreDriver != DriverSQLite && c.StoreDriver != DriverMongo {
		invalid = append(invalid, "STORE_DRIVER")
	}
	if c.HTTPPort <= 0 {
		invalid = append(invalid, "HTTP_PORT")
	}
	if c.RPCPort < 0 {
		invalid = append(invalid, "RPC_PORT")
	}
	if c.SendBuffer <= 0 {
		invalid = append(invalid, "WS_SEND_BUFFER")
	}
	if c.PingInterval <= 0 || c.ReadTimeout <= c.PingInterval {
		invalid = append(invalid, "WS_PING_INTERVAL_MS")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid environment variables: %s", strings.Join(invalid, ", "))
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
