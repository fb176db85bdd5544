// Package config provides configuration for the chatrelay service.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// Config holds the chatrelay configuration.
type Config struct {
	// Server settings
	HTTPPort     int // External port: REST API and /ws
	InternalPort int // Internal port: /health, /internal/send

	// Database
	DatabaseDriver string // sqlite3 or postgres
	DatabaseURL    string

	// Auth settings
	JWTSecret string
	TokenTTL  time.Duration
	OTPTTL    time.Duration

	// Model gateway
	LLMMode     string
	LLMBaseURL  string
	LLMAPIKey   string
	LLMModel    string
	LLMTimeout  time.Duration
	HistoryMode domain.HistoryMode

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
	QueueSize      int
	RateLimit      float64 // messages per second per connection, 0 disables
	RateBurst      int

	// Rooms
	RedisURL   string
	RoomFanout bool

	// Mail
	SMTPHost           string
	SMTPPort           int
	SMTPUser           string
	SMTPPassword       string
	MailFrom           string
	AdminApproverEmail string
	PublicBaseURL      string

	// Logging
	LogLevel  string
	LogFormat string
}

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Load loads configuration from a .env file, an optional YAML file named by
// CONFIG_FILE, and environment variables. Environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	src := source{file: map[string]string{}}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		values, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = values
	}

	cfg := src.build()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	switch c.HistoryMode {
	case domain.HistoryModeFull, domain.HistoryModeLatest:
	default:
		return fmt.Errorf("unsupported HISTORY_MODE %q", c.HistoryMode)
	}
	if c.QueueSize <= 0 {
		return errors.New("WS_QUEUE_SIZE must be positive")
	}
	if c.PingInterval <= 0 {
		return errors.New("WS_PING_INTERVAL_MS must be positive")
	}
	if c.PingInterval >= c.ReadTimeout {
		return errors.New("WS_PING_INTERVAL_MS must be shorter than WS_READ_TIMEOUT_MS")
	}
	return nil
}

// MockLLM reports whether the stub model gateway should be used.
func (c *Config) MockLLM() bool {
	return strings.EqualFold(c.LLMMode, "MOCK") || c.LLMBaseURL == ""
}

type source struct {
	file map[string]string
}

func (s source) build() *Config {
	return &Config{
		HTTPPort:           s.getInt("HTTP_PORT", 8080),
		InternalPort:       s.getInt("INTERNAL_PORT", 8081),
		DatabaseDriver:     s.get("DATABASE_DRIVER", DriverSQLite),
		DatabaseURL:        s.get("DATABASE_URL", "file:chatrelay.db?cache=shared&mode=rwc"),
		JWTSecret:          s.get("JWT_SECRET", ""),
		TokenTTL:           s.getDuration("TOKEN_TTL", 30*24*time.Hour),
		OTPTTL:             s.getDuration("OTP_TTL", 10*time.Minute),
		LLMMode:            s.get("LLM_MODE", ""),
		LLMBaseURL:         s.get("LLM_BASE_URL", ""),
		LLMAPIKey:          s.get("LLM_API_KEY", ""),
		LLMModel:           s.get("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:         time.Duration(s.getInt("LLM_TIMEOUT_MS", 60000)) * time.Millisecond,
		HistoryMode:        domain.HistoryMode(strings.ToLower(s.get("HISTORY_MODE", string(domain.HistoryModeFull)))),
		PingInterval:       time.Duration(s.getInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:       time.Duration(s.getInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:        time.Duration(s.getInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:     int64(s.getInt("WS_MAX_MESSAGE_SIZE", 65536)),
		QueueSize:          s.getInt("WS_QUEUE_SIZE", 32),
		RateLimit:          s.getFloat("WS_RATE_LIMIT", 5),
		RateBurst:          s.getInt("WS_RATE_BURST", 10),
		RedisURL:           s.get("REDIS_URL", ""),
		RoomFanout:         s.getBool("ROOM_FANOUT", false),
		SMTPHost:           s.get("SMTP_HOST", ""),
		SMTPPort:           s.getInt("SMTP_PORT", 587),
		SMTPUser:           s.get("SMTP_USER", ""),
		SMTPPassword:       s.get("SMTP_PASSWORD", ""),
		MailFrom:           s.get("MAIL_FROM", "no-reply@chatrelay.local"),
		AdminApproverEmail: s.get("ADMIN_APPROVER_EMAIL", ""),
		PublicBaseURL:      strings.TrimSuffix(s.get("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		LogLevel:           s.get("LOG_LEVEL", "info"),
		LogFormat:          s.get("LOG_FORMAT", "text"),
	}
}

// readFile reads a flat YAML mapping whose keys are the environment variable names.
func readFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml config %s: %w", path, err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		values[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return values, nil
}

func (s source) get(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if val, ok := s.file[key]; ok && val != "" {
		return val
	}
	return defaultVal
}

func (s source) getInt(key string, defaultVal int) int {
	if val := s.get(key, ""); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func (s source) getFloat(key string, defaultVal float64) float64 {
	if val := s.get(key, ""); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func (s source) getBool(key string, defaultVal bool) bool {
	if val := s.get(key, ""); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func (s source) getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := s.get(key, ""); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
