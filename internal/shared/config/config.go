package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port        string
	CORS        CORS
	DatabaseURL string
	Env         string
	JWTSecret   string

	QueueDriver       string
	SQSQueueURL       string
	AWSRegion         string
	LocalDataDir      string
	WorkerConcurrency int
	ShutdownTimeout   time.Duration

	KeepaAPIKey   string
	KeepaEndpoint string
	KeepaDomain   int

	ApifyToken           string
	ApifyReviewActor     string
	ApifyCompetitorActor string

	AdsClientID     string
	AdsClientSecret string
	AdsRefreshToken string
	AdsProfileID    string
	AdsEndpoint     string

	LLMProvider     string
	LLMModel        string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string

	ScheduleCron string
	CleanupCron  string

	Pipeline Pipeline
}

// CORS lists what browsers may send to and read from the API.
type CORS struct {
	AllowOrigins  []string
	AllowMethods  []string
	AllowHeaders  []string
	ExposeHeaders []string
	MaxAge        time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	pipeline, err := LoadPipeline(os.Getenv("PIPELINE_CONFIG"))
	if err != nil {
		log.Printf("pipeline config: %v; using defaults", err)
		pipeline = DefaultPipeline()
	}

	queueURL := getEnv("SQS_QUEUE_URL", "")

	return Config{
		Port: getEnv("PORT", "8080"),
		CORS: CORS{
			AllowOrigins:  splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000")),
			AllowMethods:  splitAndTrim(getEnv("CORS_ALLOW_METHODS", "GET,POST,PUT,PATCH,DELETE,OPTIONS")),
			AllowHeaders:  splitAndTrim(getEnv("CORS_ALLOW_HEADERS", "Content-Type,Authorization,X-Dev-User-Id,X-Request-Id")),
			ExposeHeaders: splitAndTrim(getEnv("CORS_EXPOSE_HEADERS", "X-Request-Id,Retry-After")),
			MaxAge:        time.Duration(getEnvInt("CORS_MAX_AGE_SECONDS", 600)) * time.Second,
		},
		DatabaseURL: dbURL,
		Env:         env,
		JWTSecret:   getEnv("JWT_SECRET", ""),

		QueueDriver:       normalizeQueueDriver(getEnv("QUEUE_DRIVER", ""), queueURL),
		SQSQueueURL:       queueURL,
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
		LocalDataDir:      getEnv("LOCAL_DATA_DIR", "./data"),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 3),
		ShutdownTimeout:   time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 30)) * time.Second,

		KeepaAPIKey:   getEnv("KEEPA_API_KEY", ""),
		KeepaEndpoint: getEnv("KEEPA_ENDPOINT", "https://api.keepa.com"),
		KeepaDomain:   getEnvInt("KEEPA_DOMAIN", 1),

		ApifyToken:           getEnv("APIFY_API_KEY", ""),
		ApifyReviewActor:     getEnv("APIFY_REVIEW_ACTOR", "junglee~amazon-reviews-scraper"),
		ApifyCompetitorActor: getEnv("APIFY_COMPETITOR_ACTOR", "junglee~amazon-crawler"),

		AdsClientID:     getEnv("AMAZON_ADS_CLIENT_ID", ""),
		AdsClientSecret: getEnv("AMAZON_ADS_CLIENT_SECRET", ""),
		AdsRefreshToken: getEnv("AMAZON_ADS_REFRESH_TOKEN", ""),
		AdsProfileID:    getEnv("AMAZON_ADS_PROFILE_ID", ""),
		AdsEndpoint:     getEnv("AMAZON_ADS_ENDPOINT", "https://advertising-api.amazon.com"),

		LLMProvider:     strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
		LLMModel:        getEnv("LLM_MODEL", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),

		ScheduleCron: getEnv("SCHEDULE_CRON", "*/5 * * * *"),
		CleanupCron:  getEnv("CLEANUP_CRON", "0 3 * * *"),

		Pipeline: pipeline,
	}
}

// IsDevLike reports whether the environment tolerates in-memory fallbacks.
func (c Config) IsDevLike() bool {
	switch c.Env {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config %s invalid int: %v", key, err)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeQueueDriver(raw, queueURL string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqs":
		return "sqs"
	case "local", "badger":
		return "local"
	case "memory":
		return "memory"
	}
	if strings.TrimSpace(queueURL) != "" {
		return "sqs"
	}
	return "local"
}
