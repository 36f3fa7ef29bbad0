package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr           string
	LogLevel       string
	Storage        string // "sqlite" or "memory"
	DBPath         string
	AllowedOrigins []string

	AutosaveInterval time.Duration
	AutosaveKeep     int
}

// Load reads configuration from the environment, with a .env file as
// an optional source.
func Load() Config {
	godotenv.Load()

	cfg := Config{
		Addr:             ":8080",
		LogLevel:         "info",
		Storage:          "sqlite",
		DBPath:           "./data/pairpad.db",
		AllowedOrigins:   []string{"*"},
		AutosaveInterval: 2 * time.Minute,
		AutosaveKeep:     20,
	}

	if v := os.Getenv("PAIRPAD_ADDR"); v != "" {
		cfg.Addr = v
	} else if port := os.Getenv("PORT"); port != "" {
		cfg.Addr = ":" + port
	}
	if v := os.Getenv("PAIRPAD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PAIRPAD_STORAGE"); v != "" {
		cfg.Storage = v
	}
	if v := os.Getenv("PAIRPAD_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PAIRPAD_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("PAIRPAD_AUTOSAVE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AutosaveInterval = d
		}
	}
	if v := os.Getenv("PAIRPAD_AUTOSAVE_KEEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AutosaveKeep = n
		}
	}

	return cfg
}
