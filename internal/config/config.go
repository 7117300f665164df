package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config holds service configuration.
type Config struct {
	NodeID              string
	StorageDriver       string
	DatabaseURL         string
	MigrationsDir       string
	ServerAddr          string
	SessionTTL          time.Duration
	SessionCookieName   string
	SessionCookieSecure bool
	RedisURL            string
	PresenceTTL         time.Duration
	FeeExpression       string
	AuditSigningKey     []byte
	AllowedOrigins      []string
	LogLevel            string
	LogFormat           string
}

// Load reads configuration from the environment after an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "mediation_hub")
		pass := getenv("POSTGRES_PASSWORD", "mediation_hub_pass")
		db := getenv("POSTGRES_DB", "mediation_hub")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	driver := strings.ToLower(getenv("STORAGE_DRIVER", StoragePostgres))
	if driver != StoragePostgres && driver != StorageMemory {
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", driver)
	}

	var signKey []byte
	if v := os.Getenv("AUDIT_SIGNING_KEY"); v != "" {
		b, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("AUDIT_SIGNING_KEY must be hex: %w", err)
		}
		signKey = b
	}

	nodeID := os.Getenv("NODE_ID")
	if nodeID == "" {
		host, _ := os.Hostname()
		nodeID = getenv("HOSTNAME", host)
		if nodeID == "" {
			nodeID = "node-1"
		}
	}

	return &Config{
		NodeID:              nodeID,
		StorageDriver:       driver,
		DatabaseURL:         dsn,
		MigrationsDir:       getenv("MIGRATIONS_DIR", ""),
		ServerAddr:          getenv("SERVER_ADDR", "0.0.0.0:8080"),
		SessionTTL:          parseDuration(getenv("SESSION_TTL", "24h"), 24*time.Hour),
		SessionCookieName:   getenv("SESSION_COOKIE_NAME", "mediation_session"),
		SessionCookieSecure: parseBool(getenv("SESSION_COOKIE_SECURE", "false"), false),
		RedisURL:            os.Getenv("REDIS_URL"),
		PresenceTTL:         parseDuration(getenv("PRESENCE_TTL", "60s"), time.Minute),
		FeeExpression:       os.Getenv("MEDIATOR_FEE_EXPRESSION"),
		AuditSigningKey:     signKey,
		AllowedOrigins:      splitCSV(os.Getenv("WS_ALLOWED_ORIGINS")),
		LogLevel:            getenv("LOG_LEVEL", "info"),
		LogFormat:           strings.ToLower(getenv("LOG_FORMAT", "json")),
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseBool(val string, def bool) bool {
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}

func splitCSV(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
