package archive

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds archive database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN returns the pgx-compatible connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LoadConfigFromEnv builds the archive configuration from ARCHIVE_DB_*
// environment variables with local-development defaults.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		Host:            getEnv("ARCHIVE_DB_HOST", "localhost"),
		User:            getEnv("ARCHIVE_DB_USER", "taskwave"),
		Password:        getEnv("ARCHIVE_DB_PASSWORD", "taskwave"),
		Database:        getEnv("ARCHIVE_DB_NAME", "taskwave"),
		SSLMode:         getEnv("ARCHIVE_DB_SSLMODE", "disable"),
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}

	port, err := strconv.Atoi(getEnv("ARCHIVE_DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid ARCHIVE_DB_PORT: %w", err)
	}
	cfg.Port = port
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
