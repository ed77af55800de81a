package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	App struct {
		ENV string
	}

	Log struct {
		Level     string
		Format    string
		Component string
		Source    bool
	}

	DB struct {
		Driver     string
		DSN        string
		Host       string
		Port       string
		User       string
		Password   string
		Name       string
		SQLitePath string
		LogQueries bool
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	GRPC struct {
		Host string
		Port string
	}

	// Embedding configures the OpenAI-compatible embedding provider.
	Embedding struct {
		APIKey      string
		BaseURL     string
		Model       string
		Dimension   int
		MaxChars    int
		Timeout     time.Duration
		RetryBase   time.Duration
		MaxAttempts int
	}

	Vector struct {
		Driver      string // pinecone | memory
		Timeout     time.Duration
		RetryBase   time.Duration
		MaxAttempts int
	}

	Pinecone struct {
		APIKey      string
		IndexName   string
		Namespace   string
		CreateIndex bool
		Cloud       string
		Region      string
	}

	Ingest struct {
		LockTTL         time.Duration
		TerminalBackoff time.Duration
	}

	Match struct {
		DefaultTopK     int
		QueryMarginMin  int
		QueryMarginRate float64
		MaxAge          time.Duration
		RunTimeout      time.Duration
	}

	Worker struct {
		Concurrency   int
		PopTimeout    time.Duration
		SweepInterval time.Duration
		SweepBatch    int
	}
}

func New() *Config {
	cfg := &Config{}

	cfg.App.ENV = getEnvDefault("APP_ENV", "development")

	// Logger
	cfg.Log.Level = getEnvDefault("LOG_LEVEL", "info")
	cfg.Log.Format = getEnvDefault("LOG_FORMAT", "text")
	cfg.Log.Component = getEnvDefault("LOG_COMPONENT", "storymatch")
	cfg.Log.Source = isTruthy(os.Getenv("LOG_SOURCE"))

	// Database
	cfg.DB.Driver = getEnvDefault("DB_DRIVER", "mysql")
	cfg.DB.SQLitePath = getEnvDefault("DB_SQLITE_PATH", "storymatch.db")
	cfg.DB.LogQueries = isTruthy(os.Getenv("DB_LOG_QUERIES"))
	cfg.DB.DSN = os.Getenv("MYSQL_DSN")
	if cfg.DB.DSN == "" {
		cfg.DB.Host = getEnvDefault("DB_HOST", "localhost")
		cfg.DB.Port = getEnvDefault("DB_PORT", "3306")
		cfg.DB.User = getEnvDefault("DB_USER", "root")
		cfg.DB.Password = getEnvDefault("DB_PASSWORD", "root")
		cfg.DB.Name = getEnvDefault("DB_NAME", "storymatch")

		cfg.DB.DSN = fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
			cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name,
		)
	}

	// Redis
	cfg.Redis.Addr = getEnvDefault("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnvDefault("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	// gRPC
	cfg.GRPC.Host = getEnvDefault("GRPC_HOST", "127.0.0.1")
	cfg.GRPC.Port = getEnvDefault("GRPC_PORT", "50051")

	// Embedding provider (Together AI speaks the OpenAI embeddings API)
	cfg.Embedding.APIKey = os.Getenv("TOGETHER_API_KEY")
	cfg.Embedding.BaseURL = getEnvDefault("EMBEDDING_BASE_URL", "https://api.together.xyz/v1")
	cfg.Embedding.Model = getEnvDefault("EMBEDDING_MODEL", "BAAI/bge-large-en-v1.5")
	cfg.Embedding.Dimension = getEnvInt("EMBEDDING_DIMENSION", 1024)
	cfg.Embedding.MaxChars = getEnvInt("EMBEDDING_MAX_CHARS", 8000)
	cfg.Embedding.Timeout = getEnvDuration("EMBEDDING_TIMEOUT", 10*time.Second)
	cfg.Embedding.RetryBase = getEnvDuration("EMBEDDING_RETRY_BASE", 250*time.Millisecond)
	cfg.Embedding.MaxAttempts = getEnvInt("EMBEDDING_RETRY_MAX_ATTEMPTS", 4)

	// Vector index
	cfg.Vector.Driver = getEnvDefault("VECTOR_DRIVER", "pinecone")
	cfg.Vector.Timeout = getEnvDuration("VECTOR_TIMEOUT", 5*time.Second)
	cfg.Vector.RetryBase = getEnvDuration("VECTOR_RETRY_BASE", 200*time.Millisecond)
	cfg.Vector.MaxAttempts = getEnvInt("VECTOR_RETRY_MAX_ATTEMPTS", 3)

	cfg.Pinecone.APIKey = os.Getenv("PINECONE_API_KEY")
	cfg.Pinecone.IndexName = getEnvDefault("PINECONE_INDEX_NAME", "friendly-app")
	cfg.Pinecone.Namespace = getEnvDefault("PINECONE_NAMESPACE", "stories")
	cfg.Pinecone.CreateIndex = isTruthy(os.Getenv("PINECONE_CREATE_INDEX"))
	cfg.Pinecone.Cloud = getEnvDefault("PINECONE_CLOUD", "aws")
	cfg.Pinecone.Region = getEnvDefault("PINECONE_REGION", "us-east-1")

	// Ingestion lock must outlive one embed + upsert sequence including retries.
	cfg.Ingest.LockTTL = getEnvDuration("INGEST_LOCK_TTL", 90*time.Second)
	// Stories that failed for good (auth, dimension, deactivated user) wait this long before the sweeper retries.
	cfg.Ingest.TerminalBackoff = getEnvDuration("INGEST_TERMINAL_BACKOFF", time.Hour)

	// Matching
	cfg.Match.DefaultTopK = getEnvInt("MATCH_DEFAULT_TOP_K", 10)
	cfg.Match.QueryMarginMin = getEnvInt("MATCH_QUERY_MARGIN_MIN", 10)
	cfg.Match.QueryMarginRate = getEnvFloat("MATCH_QUERY_MARGIN_RATIO", 0.5)
	cfg.Match.MaxAge = getEnvDuration("MATCH_MAX_AGE", 24*time.Hour)
	cfg.Match.RunTimeout = getEnvDuration("MATCH_RUN_TIMEOUT", 30*time.Second)

	// Background workers
	cfg.Worker.Concurrency = getEnvInt("WORKER_CONCURRENCY", 4)
	cfg.Worker.PopTimeout = getEnvDuration("WORKER_POP_TIMEOUT", 5*time.Second)
	cfg.Worker.SweepInterval = getEnvDuration("SWEEP_INTERVAL", time.Minute)
	cfg.Worker.SweepBatch = getEnvInt("SWEEP_BATCH", 50)

	return cfg
}

func getEnvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v, err := strconv.Atoi(getEnvDefault(k, "")); err == nil {
		return v
	}
	return def
}

func getEnvFloat(k string, def float64) float64 {
	if v, err := strconv.ParseFloat(getEnvDefault(k, ""), 64); err == nil {
		return v
	}
	return def
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnvDefault(k, "")); err == nil {
		return v
	}
	return def
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
