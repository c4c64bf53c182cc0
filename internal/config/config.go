package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string

	// Session engine
	ACWDuration time.Duration // after-call-work window before auto-close

	// Transfer coordinator
	TransferTimeout time.Duration // warm-transfer accept window

	// Queue router
	RoutingInterval time.Duration // periodic assignment sweep
	SLTarget        int           // default service-level target percentage
	SLThresholdSecs int           // default service-level threshold
	DefaultQueues   []QueueSpec   // queues registered at startup

	// Event bus
	SubscriberBuffer int // per-subscriber channel capacity

	// WebSocket
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	acwSecs, err := getEnvInt("ACW_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	config.ACWDuration = time.Duration(acwSecs) * time.Second

	transferSecs, err := getEnvInt("TRANSFER_TIMEOUT_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	config.TransferTimeout = time.Duration(transferSecs) * time.Second

	routingMillis, err := getEnvInt("ROUTING_INTERVAL_MS", 1000)
	if err != nil {
		return nil, err
	}
	config.RoutingInterval = time.Duration(routingMillis) * time.Millisecond

	config.SLTarget, err = getEnvInt("SL_TARGET", 80)
	if err != nil {
		return nil, err
	}
	config.SLThresholdSecs, err = getEnvInt("SL_THRESHOLD_SECONDS", 20)
	if err != nil {
		return nil, err
	}

	config.DefaultQueues = parseQueues(getEnv("DEFAULT_QUEUES", "general:general"))

	config.SubscriberBuffer, err = getEnvInt("SUBSCRIBER_BUFFER", 256)
	if err != nil {
		return nil, err
	}

	wsReadTimeout, err := getEnvInt("WS_READ_TIMEOUT", 60)
	if err != nil {
		return nil, err
	}
	config.WSReadTimeout = time.Duration(wsReadTimeout) * time.Second

	wsWriteTimeout, err := getEnvInt("WS_WRITE_TIMEOUT", 10)
	if err != nil {
		return nil, err
	}
	config.WSWriteTimeout = time.Duration(wsWriteTimeout) * time.Second

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 512

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

// QueueSpec is a queue registered at startup
type QueueSpec struct {
	QueueID string
	Skills  []string
}

// parseQueues parses the DEFAULT_QUEUES env format:
// "queueId:skill1|skill2,queueId2:skill3". A queue without a skill list
// gets its own id as the single skill.
func parseQueues(raw string) []QueueSpec {
	var specs []QueueSpec
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		spec := QueueSpec{}
		if idx := strings.Index(part, ":"); idx >= 0 {
			spec.QueueID = part[:idx]
			for _, skill := range strings.Split(part[idx+1:], "|") {
				if skill = strings.TrimSpace(skill); skill != "" {
					spec.Skills = append(spec.Skills, skill)
				}
			}
		} else {
			spec.QueueID = part
		}
		if spec.QueueID == "" {
			continue
		}
		if len(spec.Skills) == 0 {
			spec.Skills = []string{spec.QueueID}
		}
		specs = append(specs, spec)
	}
	return specs
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a fallback default
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
