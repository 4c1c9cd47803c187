package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

type Config struct {
	DefaultMaxPlayers        int
	DefaultMaxTurns          int
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeSeconds int
	DBConnMaxIdleTimeSeconds int
	RedisAddr                string
	RedisDB                  int
	OpenAIAPIKey             string
	OpenAIImageModel         string
	OpenAIBaseURL            string
	ImagePollIntervalSeconds int
	ImagePollMaxAttempts     int
	ImageTimeoutSeconds      int
	TokenExpireSeconds       int
}

func Default() Config {
	return Config{
		DefaultMaxPlayers:        8,
		DefaultMaxTurns:          10,
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           10,
		DBConnMaxLifetimeSeconds: 300,
		DBConnMaxIdleTimeSeconds: 60,
		OpenAIImageModel:         "gpt-image-1",
		OpenAIBaseURL:            "https://api.openai.com/v1",
		ImagePollIntervalSeconds: 2,
		ImagePollMaxAttempts:     30,
		ImageTimeoutSeconds:      120,
		TokenExpireSeconds:       72 * 3600,
	}
}

func Load() Config {
	cfg := Default()
	if raw := os.Getenv("DEFAULT_MAX_PLAYERS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 1 {
			cfg.DefaultMaxPlayers = value
		}
	}
	if raw := os.Getenv("DEFAULT_MAX_TURNS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DefaultMaxTurns = value
		}
	}
	if raw := os.Getenv("DB_MAX_OPEN_CONNS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBMaxOpenConns = value
		}
	}
	if raw := os.Getenv("DB_MAX_IDLE_CONNS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBMaxIdleConns = value
		}
	}
	if raw := os.Getenv("DB_CONN_MAX_LIFETIME_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBConnMaxLifetimeSeconds = value
		}
	}
	if raw := os.Getenv("DB_CONN_MAX_IDLE_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBConnMaxIdleTimeSeconds = value
		}
	}
	if raw := os.Getenv("REDIS_ADDR"); raw != "" {
		cfg.RedisAddr = raw
	}
	if raw := os.Getenv("REDIS_DB"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value >= 0 {
			cfg.RedisDB = value
		}
	}
	if raw := os.Getenv("OPENAI_API_KEY"); raw != "" {
		cfg.OpenAIAPIKey = raw
	}
	if raw := os.Getenv("OPENAI_IMAGE_MODEL"); raw != "" {
		cfg.OpenAIImageModel = raw
	}
	if raw := os.Getenv("OPENAI_BASE_URL"); raw != "" {
		cfg.OpenAIBaseURL = raw
	}
	if raw := os.Getenv("IMAGE_POLL_INTERVAL_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.ImagePollIntervalSeconds = value
		}
	}
	if raw := os.Getenv("IMAGE_POLL_MAX_ATTEMPTS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.ImagePollMaxAttempts = value
		}
	}
	if raw := os.Getenv("IMAGE_TIMEOUT_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.ImageTimeoutSeconds = value
		}
	}
	if raw := os.Getenv("TOKEN_EXPIRE_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value >= 0 {
			cfg.TokenExpireSeconds = value
		}
	}
	return cfg
}
