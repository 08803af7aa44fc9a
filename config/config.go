package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Identity key modes. Exactly one is active per deployment.
const (
	IdentityCase        = "case"
	IdentityCaseAddress = "case_address"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	AppName string

	DBDriver         string // postgres, sqlite or memory
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	SQLitePath       string
	StoreTimeout     time.Duration

	RulesPath       string
	IdentityKey     string
	StaleWindowDays int
	CaseStrictness  string
	ScoringWorkers  int
	RetainHistory   bool

	RegistryURLs   []string
	MaxConcurrency int
	RateLimitMs    int
	MaxRetries     int
	RawCSVPath     string
	ChromeBin      string

	LogLevel       string
	LogFormat      string
	FluentEnabled  bool
	FluentHost     string
	FluentPort     int
	FluentLogLevel string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	cfg := &Config{
		AppName: getEnv("APP_NAME", "auction-analyzer"),

		DBDriver:         strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "auction"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "auction123"),
		PostgresDB:       getEnv("POSTGRES_DB", "auction_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		SQLitePath:       getEnv("SQLITE_PATH", "./data/auction.db"),
		StoreTimeout:     time.Duration(getEnvInt("STORE_TIMEOUT_MS", 5000)) * time.Millisecond,

		RulesPath:       getEnv("RULES_PATH", ""),
		IdentityKey:     getEnv("IDENTITY_KEY", IdentityCaseAddress),
		StaleWindowDays: getEnvInt("STALE_WINDOW_DAYS", 30),
		CaseStrictness:  getEnv("CASE_STRICTNESS", "lenient"),
		ScoringWorkers:  getEnvInt("SCORING_WORKERS", 4),
		RetainHistory:   getEnvBool("RETAIN_ANALYSIS_HISTORY", false),

		RegistryURLs:   splitList(getEnv("REGISTRY_URLS", "")),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 2000),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		RawCSVPath:     getEnv("RAW_CSV_PATH", "./output/raw_rows.csv"),
		ChromeBin:      getEnv("CHROME_BIN", ""),

		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
		FluentEnabled:  getEnvBool("FLUENTBIT_ENABLED", false),
		FluentHost:     getEnv("FLUENTBIT_HOST", ""),
		FluentPort:     getEnvInt("FLUENTBIT_PORT", 24224),
		FluentLogLevel: getEnv("FLUENTBIT_LOG_LEVEL", "info"),
	}

	if cfg.FluentEnabled && cfg.FluentHost == "" {
		log.Println("[config] FLUENTBIT_ENABLED is true but FLUENTBIT_HOST is empty, disabling Fluent Bit")
		cfg.FluentEnabled = false
	}
	if cfg.IdentityKey != IdentityCase && cfg.IdentityKey != IdentityCaseAddress {
		log.Printf("[config] Unknown IDENTITY_KEY %q, using %q", cfg.IdentityKey, IdentityCaseAddress)
		cfg.IdentityKey = IdentityCaseAddress
	}
	return cfg
}

// MinCaseLength is the shortest case-number cell the extractor accepts.
func (c *Config) MinCaseLength() int {
	if strings.EqualFold(c.CaseStrictness, "strict") {
		return 5
	}
	return 3
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
		log.Printf("[config] %s=%q is not an integer, using %d", key, val, fallback)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
		log.Printf("[config] %s=%q is not a bool, using %t", key, val, fallback)
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
