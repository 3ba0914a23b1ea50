package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port           string
	Env            string
	LogLevel       string
	FrontendOrigin string

	// Provider A
	GeminiAPIKey string
	GeminiAPIURL string
	GeminiModel  string

	// Provider B
	OpenAIAPIKey string
	OpenAIAPIURL string
	OpenAIModel  string

	// Upstream calls
	UpstreamTimeout    time.Duration
	UpstreamMaxRetries int

	// Identity. Firebase wins when both are set.
	JWTSecret           string
	FirebaseProjectID   string
	FirebasePrivateKey  string
	FirebaseClientEmail string

	// Optional stores
	RedisURL    string
	DatabaseURL string

	// Inbound rate limit
	ChatRateLimit  int
	ChatRateWindow time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:               getEnvOrDefault("PORT", "3000"),
		Env:                getEnvOrDefault("ENV", "development"),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		FrontendOrigin:     getEnvOrDefault("FRONTEND_ORIGIN", "http://localhost:3000"),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiAPIURL:       os.Getenv("GEMINI_API_URL"),
		GeminiModel:        os.Getenv("GEMINI_MODEL"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIAPIURL:       os.Getenv("OPENAI_API_URL"),
		OpenAIModel:        os.Getenv("OPENAI_MODEL"),
		UpstreamTimeout:    time.Duration(getEnvAsIntOrDefault("UPSTREAM_TIMEOUT_MS", 30000)) * time.Millisecond,
		UpstreamMaxRetries: getEnvAsIntOrDefault("UPSTREAM_MAX_RETRIES", 3),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		FirebaseProjectID:  os.Getenv("FIREBASE_PROJECT_ID"),
		RedisURL:           os.Getenv("REDIS_URL"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		ChatRateLimit:      getEnvAsIntOrDefault("CHAT_RATE_LIMIT", 30),
		ChatRateWindow:     time.Duration(getEnvAsIntOrDefault("CHAT_RATE_WINDOW_SEC", 60)) * time.Second,
	}

	// A half-configured service account is a deployment mistake, not a
	// reason to silently run without auth.
	if cfg.FirebaseProjectID != "" {
		cfg.FirebasePrivateKey = mustGetEnv("FIREBASE_PRIVATE_KEY")
		cfg.FirebaseClientEmail = mustGetEnv("FIREBASE_CLIENT_EMAIL")
	}

	if cfg.UpstreamMaxRetries < 0 {
		cfg.UpstreamMaxRetries = 0
	}

	return cfg
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
