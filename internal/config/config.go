package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port            int
	LogLevel        string
	OpenAIAPIKey    string
	OpenAIModel     string
	TMDBAPIKey      string
	TMDBBaseURL     string
	NatsURL         string
	NatsToken       string
	DatabaseURL     string
	APIToken        string
	GenerateTimeout time.Duration
	LookupTimeout   time.Duration
}

func Load() Config {
	return Config{
		Port:            envInt("MARQUEE_PORT", 8760),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),
		OpenAIModel:     envStr("MARQUEE_MODEL", "gpt-4-0125-preview"),
		TMDBAPIKey:      envStr("TMDB_API_KEY", ""),
		TMDBBaseURL:     envStr("TMDB_BASE_URL", "https://api.themoviedb.org/3"),
		NatsURL:         envStr("NATS_URL", ""),
		NatsToken:       envStr("NATS_TOKEN", ""),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		APIToken:        envStr("MARQUEE_API_TOKEN", ""),
		GenerateTimeout: envDur("GENERATE_TIMEOUT", 60*time.Second),
		LookupTimeout:   envDur("LOOKUP_TIMEOUT", 5*time.Second),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
