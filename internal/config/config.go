// Package config provides application configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// RoleWhite is the only role this binary can play.
const RoleWhite = "white"

// Config holds all application configuration.
type Config struct {
	Host           string
	Port           string
	AgentURL       string
	GRPCHealthPort string // "" disables the gRPC health server
	DBPath         string
	Role           string
	LogLevel       string
	LogFile        string
	CORSOrigins    string
	ContextTTL     time.Duration

	LLM             LLMConfig
	Agent           AgentConfig
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
	Timeout         TimeoutConfig
}

// LLMConfig selects and tunes the language-model provider.
type LLMConfig struct {
	Provider          string
	Model             string
	OpenAIKey         string
	OpenAIBaseURL     string
	GeminiKey         string
	Timeout           time.Duration
	RequestsPerMinute int
}

// AgentConfig controls agent behavior.
type AgentConfig struct {
	MaxReflections   int
	TrackCleanup     bool
	MaxSteps         int
	SystemPromptPath string
	CardPath         string
}

// RateLimitConfig throttles agent calls per context.
type RateLimitConfig struct {
	RequestsPerMinute int // 0 disables throttling
	Burst             int
}

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// TimeoutConfig holds server timeouts.
type TimeoutConfig struct {
	HealthCheck     time.Duration
	ShutdownGrace   time.Duration
	ReadHeader      time.Duration
	IdleConnections time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Host:           getEnv("HOST", "0.0.0.0"),
		Port:           getEnv("PORT", getEnv("AGENT_PORT", "9002")),
		AgentURL:       getEnv("AGENT_URL", ""),
		GRPCHealthPort: getEnv("GRPC_HEALTH_PORT", ""),
		DBPath:         getEnv("DB_PATH", "./data/whiteagent.db"),
		Role:           strings.ToLower(getEnv("ROLE", RoleWhite)),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFile:        getEnv("LOG_FILE", ""),
		CORSOrigins:    getEnv("CORS_ORIGINS", "*"),
		ContextTTL:     getEnvDuration("CONTEXT_TTL", 60*time.Minute),
		LLM: LLMConfig{
			Provider:          strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
			Model:             getEnv("MODEL", ""),
			OpenAIKey:         getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
			GeminiKey:         getEnv("GEMINI_API_KEY", ""),
			Timeout:           getEnvDuration("LLM_TIMEOUT", 30*time.Second),
			RequestsPerMinute: getEnvInt("LLM_REQUESTS_PER_MINUTE", 0),
		},
		Agent: AgentConfig{
			MaxReflections:   getEnvInt("MAX_REFLECTIONS", 3),
			TrackCleanup:     getEnvBool("TRACK_CLEANUP", true),
			MaxSteps:         getEnvInt("MAX_STEPS", 50),
			SystemPromptPath: getEnv("SYSTEM_PROMPT_PATH", ""),
			CardPath:         getEnv("AGENT_CARD_PATH", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 0),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 10),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
		Timeout: TimeoutConfig{
			HealthCheck:     getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
			ShutdownGrace:   getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			ReadHeader:      10 * time.Second,
			IdleConnections: 120 * time.Second,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Role != RoleWhite {
		return fmt.Errorf("unknown role %q: only %q is supported", c.Role, RoleWhite)
	}
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric: %w", err)
	}
	if c.GRPCHealthPort != "" {
		if _, err := strconv.Atoi(c.GRPCHealthPort); err != nil {
			return fmt.Errorf("GRPC_HEALTH_PORT must be numeric: %w", err)
		}
		if c.GRPCHealthPort == c.Port {
			return fmt.Errorf("GRPC_HEALTH_PORT must differ from PORT")
		}
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("LLM_PROVIDER must be openai or gemini, got %q", c.LLM.Provider)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	if c.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("LLM_REQUESTS_PER_MINUTE must be >= 0")
	}
	if c.Agent.MaxReflections <= 0 {
		return fmt.Errorf("MAX_REFLECTIONS must be > 0")
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("MAX_STEPS must be > 0")
	}
	if c.ContextTTL < 0 {
		return fmt.Errorf("CONTEXT_TTL must be >= 0")
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be >= 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// PublicURL returns AGENT_URL, or the listen address as a URL.
func (c *Config) PublicURL() string {
	if c.AgentURL != "" {
		return strings.TrimRight(c.AgentURL, "/")
	}
	return "http://" + c.Addr()
}

// GRPCHealthAddr returns the gRPC health listen address, or "" when disabled.
func (c *Config) GRPCHealthAddr() string {
	if c.GRPCHealthPort == "" {
		return ""
	}
	return net.JoinHostPort(c.Host, c.GRPCHealthPort)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
