package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Default limits for sessions and their workspaces
const (
	DefaultMaxConcurrentSessions = 5
	DefaultSessionTimeout        = 4 * time.Hour
	DefaultSessionStorageQuota   = 100 * 1024 * 1024  // 100 MiB per session
	DefaultGlobalStorageQuota    = 1024 * 1024 * 1024 // 1 GiB process-wide
	DefaultStreamChunkSize       = 1024 * 1024        // 1 MiB
	DefaultFileLockTimeout       = 30 * time.Second
	DefaultTeardownGracePeriod   = 5 * time.Minute
	DefaultSweepInterval         = 10 * time.Minute
	DefaultAudioMaxUploadSize    = 30 * 1024 * 1024 // 30 MiB
	DefaultStorageRoot           = "/tmp/cliniprompt"
)

// Config holds the configuration for all services
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// DatabaseConfig holds settings for the session event journal
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Driver   string `yaml:"driver"` // sqlite, postgres
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StorageConfig holds workspace storage configuration
type StorageConfig struct {
	Type                string `yaml:"type"` // local
	Root                string `yaml:"root"`
	PurgeOrphansOnStart bool   `yaml:"purge_orphans_on_start"`
}

// SessionConfig holds session lifetime and quota limits
type SessionConfig struct {
	MaxConcurrent      int           `yaml:"max_concurrent"`
	Timeout            time.Duration `yaml:"timeout"`
	StorageQuota       int64         `yaml:"storage_quota"`
	GlobalStorageQuota int64         `yaml:"global_storage_quota"`
	ChunkSize          int           `yaml:"chunk_size"`
	LockTimeout        time.Duration `yaml:"lock_timeout"`
	GracePeriod        time.Duration `yaml:"grace_period"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	MaxAudioSize       int64         `yaml:"max_audio_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvInt("SERVER_PORT", 8000),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 60*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			AllowedOrigins: getEnvList("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:8501", "http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvBool("DB_ENABLED", false),
			Driver:   getEnv("DB_DRIVER", "sqlite"),
			Path:     getEnv("DB_PATH", "./cliniprompt.db"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "cliniprompt"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "cliniprompt"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Storage: StorageConfig{
			Type:                getEnv("STORAGE_TYPE", "local"),
			Root:                getEnv("STORAGE_ROOT", getEnv("CLINIPROMPT_STORAGE_ROOT", DefaultStorageRoot)),
			PurgeOrphansOnStart: getEnvBool("PURGE_ORPHANS_ON_START", true),
		},
		Session: SessionConfig{
			MaxConcurrent:      getEnvInt("SESSION_MAX_CONCURRENT", DefaultMaxConcurrentSessions),
			Timeout:            getEnvDuration("SESSION_TIMEOUT", DefaultSessionTimeout),
			StorageQuota:       getEnvInt64("SESSION_STORAGE_QUOTA", DefaultSessionStorageQuota),
			GlobalStorageQuota: getEnvInt64("GLOBAL_STORAGE_QUOTA", DefaultGlobalStorageQuota),
			ChunkSize:          getEnvInt("STREAM_CHUNK_SIZE", DefaultStreamChunkSize),
			LockTimeout:        getEnvDuration("FILE_LOCK_TIMEOUT", DefaultFileLockTimeout),
			GracePeriod:        getEnvDuration("TEARDOWN_GRACE_PERIOD", DefaultTeardownGracePeriod),
			SweepInterval:      getEnvDuration("SESSION_SWEEP_INTERVAL", DefaultSweepInterval),
			MaxAudioSize:       getEnvInt64("AUDIO_MAX_UPLOAD_SIZE", DefaultAudioMaxUploadSize),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// DefaultSessionConfig returns the session limits with no environment overrides
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxConcurrent:      DefaultMaxConcurrentSessions,
		Timeout:            DefaultSessionTimeout,
		StorageQuota:       DefaultSessionStorageQuota,
		GlobalStorageQuota: DefaultGlobalStorageQuota,
		ChunkSize:          DefaultStreamChunkSize,
		LockTimeout:        DefaultFileLockTimeout,
		GracePeriod:        DefaultTeardownGracePeriod,
		SweepInterval:      DefaultSweepInterval,
		MaxAudioSize:       DefaultAudioMaxUploadSize,
	}
}

// Validate rejects limits that would break quota arithmetic or expiry
func (s *SessionConfig) Validate() error {
	switch {
	case s.MaxConcurrent <= 0:
		return fmt.Errorf("max concurrent sessions must be positive, got %d", s.MaxConcurrent)
	case s.Timeout <= 0:
		return fmt.Errorf("session timeout must be positive, got %s", s.Timeout)
	case s.StorageQuota <= 0 || s.GlobalStorageQuota <= 0:
		return fmt.Errorf("storage quotas must be positive")
	case s.StorageQuota > s.GlobalStorageQuota:
		return fmt.Errorf("session quota %d exceeds global quota %d", s.StorageQuota, s.GlobalStorageQuota)
	case s.ChunkSize <= 0:
		return fmt.Errorf("chunk size must be positive, got %d", s.ChunkSize)
	case s.LockTimeout <= 0:
		return fmt.Errorf("lock timeout must be positive, got %s", s.LockTimeout)
	case s.GracePeriod < 0:
		return fmt.Errorf("grace period cannot be negative, got %s", s.GracePeriod)
	}
	return nil
}

// DatabaseURL returns a PostgreSQL connection string
func (d *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisAddr returns the Redis address
func (r *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SetupLogging configures the global zerolog logger
func (l *LoggingConfig) SetupLogging() {
	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if l.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
