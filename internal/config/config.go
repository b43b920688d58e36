package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the SiteGuard service.
type Config struct {
	// Cameras to monitor at startup
	Cameras      []string
	TickInterval time.Duration

	Detection DetectionSettings

	SubscriberBuffer int

	Store StoreSettings

	// Service addresses
	NatsURL       string
	HTTPPort      string
	GRPCPort      string
	HealthPort    string
	ScreenshotDir string

	// Used by siteguard-watch
	ServerAddress     string
	ReconcileInterval time.Duration
}

// DetectionSettings are the debounce, cooldown and distance knobs
type DetectionSettings struct {
	AlertThreshold          time.Duration // gear_missing debounce
	ProximityAlertThreshold time.Duration // too_close debounce
	ProximityDistance       float64
	Cooldown                time.Duration
	AbsenceTimeout          time.Duration
	GraceGap                time.Duration
	RequiredGear            []string
}

type StoreSettings struct {
	Backend       string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresURL   string
	WriteAttempts int
	WriteBackoff  time.Duration
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	envPaths := []string{
		".env",
		"../.env",
		"/app/.env", // Docker
	}

	envLoaded := false
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			log.Printf("Loaded config from: %s", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		log.Printf("No .env file found, using environment variables")
	}

	config := FromEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// FromEnv builds the config from the current environment without validating it
func FromEnv() *Config {
	tick := parseDurationOrDefault("TICK_INTERVAL", 500*time.Millisecond)

	return &Config{
		Cameras:      splitList(getEnvOrDefault("CAMERAS", "cam-1")),
		TickInterval: tick,

		Detection: DetectionSettings{
			AlertThreshold:          seconds(parseFloatOrDefault("ALERT_THRESHOLD_SECONDS", 3)),
			ProximityAlertThreshold: seconds(parseFloatOrDefault("PROXIMITY_ALERT_THRESHOLD_SECONDS", 0)),
			ProximityDistance:       parseFloatOrDefault("PROXIMITY_THRESHOLD_DISTANCE", 80),
			Cooldown:                seconds(parseFloatOrDefault("ALERT_COOLDOWN_SECONDS", 5)),
			AbsenceTimeout:          seconds(parseFloatOrDefault("ABSENCE_TIMEOUT_SECONDS", 10)),
			GraceGap:                parseDurationOrDefault("GRACE_GAP", 2*tick),
			RequiredGear:            splitList(getEnvOrDefault("REQUIRED_GEAR", "helmet,vest")),
		},

		SubscriberBuffer: parseIntOrDefault("SUBSCRIBER_BUFFER", 256),

		Store: StoreSettings{
			Backend:       strings.ToLower(getEnvOrDefault("STORE_BACKEND", BackendSQLite)),
			SQLitePath:    getEnvOrDefault("SQLITE_PATH", "./data/siteguard.db"),
			RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			RedisDB:       parseIntOrDefault("REDIS_DB", 0),
			PostgresURL:   os.Getenv("POSTGRES_URL"),
			WriteAttempts: parseIntOrDefault("STORE_WRITE_ATTEMPTS", 5),
			WriteBackoff:  parseDurationOrDefault("STORE_WRITE_BACKOFF", 200*time.Millisecond),
		},

		NatsURL:       getEnvOrDefault("NATS_URL", "nats://localhost:4222"),
		HTTPPort:      getEnvOrDefault("HTTP_PORT", "8090"),
		GRPCPort:      getEnvOrDefault("GRPC_PORT", "50061"),
		HealthPort:    getEnvOrDefault("HEALTH_PORT", "8091"),
		ScreenshotDir: getEnvOrDefault("SCREENSHOT_DIR", "./data/violations"),

		ServerAddress:     getEnvOrDefault("SITEGUARD_ADDRESS", "localhost:50061"),
		ReconcileInterval: parseDurationOrDefault("RECONCILE_INTERVAL", 3*time.Second),
	}
}

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive")
	}

	d := c.Detection
	if d.AlertThreshold < 0 || d.ProximityAlertThreshold < 0 {
		return fmt.Errorf("ALERT_THRESHOLD_SECONDS must not be negative")
	}
	if d.ProximityDistance <= 0 {
		return fmt.Errorf("PROXIMITY_THRESHOLD_DISTANCE must be positive")
	}
	if d.Cooldown < 0 {
		return fmt.Errorf("ALERT_COOLDOWN_SECONDS must not be negative")
	}
	// shorter timeouts flap between frames
	if d.AbsenceTimeout < 2*c.TickInterval {
		return fmt.Errorf("ABSENCE_TIMEOUT_SECONDS must be at least twice TICK_INTERVAL (%s)", c.TickInterval)
	}
	if d.GraceGap < c.TickInterval {
		return fmt.Errorf("GRACE_GAP must be at least TICK_INTERVAL (%s)", c.TickInterval)
	}
	if len(d.RequiredGear) == 0 {
		return fmt.Errorf("REQUIRED_GEAR is required")
	}

	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("SUBSCRIBER_BUFFER must be positive")
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis backend")
		}
	case BackendPostgres:
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("POSTGRES_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, sqlite, redis, postgres (got %q)", c.Store.Backend)
	}
	if c.Store.WriteAttempts <= 0 {
		return fmt.Errorf("STORE_WRITE_ATTEMPTS must be positive")
	}

	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT is required")
	}
	if c.GRPCPort == "" {
		return fmt.Errorf("GRPC_PORT is required")
	}

	return nil
}

// Helper functions
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
		log.Printf("Warning: invalid %s=%q, using %v", key, value, defaultValue)
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
		log.Printf("Warning: invalid %s=%q, using %d", key, value, defaultValue)
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Warning: invalid %s=%q, using %s", key, value, defaultValue)
	}
	return defaultValue
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
