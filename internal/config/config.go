package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	RecalcInterval      time.Duration
	RecalcConcurrency   int
	RecalcEntityTimeout time.Duration

	DispatchWorkers    int
	DispatchQueueSize  int
	NotifyProvider     string
	NotifyWebhookURL   string
	NotifyWebhookToken string
	RoleActors         map[string]string

	RulesFile string

	RateLimitPerMinute int
	RateLimitBurst     int

	LogLevel  string
	LogFormat string

	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),

		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       readInt("REDIS_DB", 0),
		LockTTL:       readDurationSeconds("LOCK_TTL_SECONDS", 60),

		RecalcInterval:      readDurationSeconds("RECALC_INTERVAL_SECONDS", 300),
		RecalcConcurrency:   readInt("RECALC_CONCURRENCY", 8),
		RecalcEntityTimeout: readDurationSeconds("RECALC_ENTITY_TIMEOUT_SECONDS", 30),

		DispatchWorkers:    readInt("DISPATCH_WORKERS", 4),
		DispatchQueueSize:  readInt("DISPATCH_QUEUE_SIZE", 256),
		NotifyProvider:     readString("NOTIFY_PROVIDER", "log"),
		NotifyWebhookURL:   strings.TrimSpace(os.Getenv("NOTIFY_WEBHOOK_URL")),
		NotifyWebhookToken: os.Getenv("NOTIFY_WEBHOOK_TOKEN"),
		RoleActors:         readPairs("ASSIGN_ROLE_ACTORS"),

		RulesFile: strings.TrimSpace(os.Getenv("RULES_FILE")),

		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),

		LogLevel:  readString("LOG_LEVEL", "info"),
		LogFormat: readString("LOG_FORMAT", "json"),

		OTLPEndpoint: strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTLPInsecure: readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
	}
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

// readPairs parses "key=value,key=value". Malformed entries are skipped.
func readPairs(key string) map[string]string {
	pairs := map[string]string{}
	for _, entry := range strings.Split(os.Getenv(key), ",") {
		name, value, ok := strings.Cut(entry, "=")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			continue
		}
		pairs[name] = value
	}
	return pairs
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
