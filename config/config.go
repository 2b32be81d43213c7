package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	SQLitePath string

	JWTSecret   string
	Port        string
	LogLevel    string
	CORSOrigins []string

	PipelineSchedule   string
	RulesFile          string
	StepTimeout        time.Duration
	MaxConcurrentRuns  int
	DistinctExactLimit int
	AlertResolveAfter  int
	HistoryWindow      int
}

func LoadConfig() Config {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	return Config{
		DBDriver:   envOr("DB_DRIVER", "postgres"),
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBSSLMode:  envOr("DB_SSLMODE", "disable"),
		SQLitePath: envOr("SQLITE_PATH", "dq-engine.db"),

		JWTSecret:   os.Getenv("JWT_SECRET"),
		Port:        envOr("PORT", "8080"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		CORSOrigins: splitList(os.Getenv("CORS_ORIGINS")),

		PipelineSchedule:   os.Getenv("PIPELINE_SCHEDULE"),
		RulesFile:          os.Getenv("RULES_FILE"),
		StepTimeout:        envDuration("STEP_TIMEOUT", 10*time.Minute),
		MaxConcurrentRuns:  envInt("MAX_CONCURRENT_RUNS", 4),
		DistinctExactLimit: envInt("DISTINCT_EXACT_LIMIT", 100000),
		AlertResolveAfter:  envInt("ALERT_RESOLVE_AFTER", 1),
		HistoryWindow:      envInt("HISTORY_WINDOW", 7),
	}
}

// PostgresDSN builds a key/value DSN for the postgres driver.
func (c Config) PostgresDSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
