package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// Worker pool
	WorkerCount  int
	MaxQueueSize int

	// Usage policy
	MaxUploadBytes int64
	MaxPages       int
	MinRankDocs    int
	MaxRankDocs    int

	// Job state
	JobTTL     time.Duration
	JobTimeout time.Duration

	// Result cache; empty means in-memory.
	CachePath string
	CacheTTL  time.Duration

	// PDF
	PDFFallbackPdftotext bool

	// Optional YAML file with classifier and ranker tunables.
	HeuristicsFile string

	LogLevel slog.Level
}

// Load reads configuration from the environment, after merging a .env file
// from the working directory if one exists.
func Load() Config {
	_ = godotenv.Load(".env")

	cfg := Config{
		Port: envOr("PORT", "8090"),

		APIKey: os.Getenv("DOCOUTLINE_API_KEY"),

		WorkerCount:  envInt("WORKER_COUNT", 4),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 100),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 10*1024*1024), // 10MB
		MaxPages:       envInt("MAX_PAGES", 50),
		MinRankDocs:    envInt("MIN_RANK_DOCS", 3),
		MaxRankDocs:    envInt("MAX_RANK_DOCS", 10),

		JobTTL:     envDuration("JOB_TTL", 1*time.Hour),
		JobTimeout: envDuration("JOB_TIMEOUT", 2*time.Minute),

		CachePath: os.Getenv("CACHE_PATH"),
		CacheTTL:  envDuration("CACHE_TTL", 7*24*time.Hour),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),

		HeuristicsFile: os.Getenv("HEURISTICS_FILE"),

		LogLevel: envLevel("LOG_LEVEL", slog.LevelInfo),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 * 1024 * 1024
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if cfg.MinRankDocs <= 0 {
		cfg.MinRankDocs = 3
	}
	if cfg.MaxRankDocs <= 0 {
		cfg.MaxRankDocs = 10
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}

	return cfg
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("DOCOUTLINE_API_KEY is required")
	}
	if c.MinRankDocs > c.MaxRankDocs {
		return fmt.Errorf("MIN_RANK_DOCS (%d) exceeds MAX_RANK_DOCS (%d)", c.MinRankDocs, c.MaxRankDocs)
	}
	return nil
}

func envOr(key, fallback string) string {
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

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envLevel(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return lvl
}
