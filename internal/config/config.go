package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"seatcheck/internal/models"
)

// Config holds all application configuration
type Config struct {
	Port         string
	DatabasePath string // SQLite file path
	RedisURL     string // optional: cross-instance alert relay
	PresetsPath  string // optional: presets.json catalog override

	// Device pairing / auth
	JWTSecret       string
	PairingCodeHash string // argon2id hash of the pairing code
	TokenExpiry     time.Duration

	// Escalation
	MaxAlertRepeats int

	// History retention
	RetentionDays int
	RetentionCron string // cron expression for the nightly cleanup
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "3001"),
		DatabasePath: getEnv("DATABASE_PATH", "seatcheck.db"),
		RedisURL:     getEnv("REDIS_URL", ""),
		PresetsPath:  getEnv("PRESETS_PATH", ""),

		JWTSecret:       getEnv("JWT_SECRET", ""),
		PairingCodeHash: getEnv("PAIRING_CODE_HASH", ""),
		TokenExpiry:     getDurationEnv("TOKEN_EXPIRY", 30*24*time.Hour),

		MaxAlertRepeats: getIntEnv("MAX_ALERT_REPEATS", 30),

		RetentionDays: getIntEnv("RETENTION_DAYS", 90),
		RetentionCron: getEnv("RETENTION_CRON", "0 3 * * *"),
	}
}

// LoadPresets loads the activity preset catalog from a JSON file
func LoadPresets(filePath string) ([]models.PresetInfo, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read presets file: %w", err)
	}

	var presets []models.PresetInfo
	if err := json.Unmarshal(data, &presets); err != nil {
		return nil, fmt.Errorf("failed to parse presets JSON: %w", err)
	}

	return presets, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
