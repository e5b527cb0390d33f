package platform

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-wide configuration, initialized at startup and
// immutable afterward. Values are read from environment variables with
// defaults matching the control plane's documented configuration table.
type Config struct {
	DatabaseURL string // database_url
	RedisURL    string

	RequireApproval bool // require_approval (default on)

	CORSOrigins      []string // cors_origins
	RateLimitPerMin  int      // rate_limit_per_min
	SecretKey        string   // secret_key: opaque key enabling at-rest encryption

	SchedulerBackgroundInterval time.Duration // scheduler_background_interval (0 disables)

	MaxRetries           int           // default Retry Policy
	BackoffBaseSeconds   float64
	BackoffJitterSeconds float64

	DefaultClaimTTL time.Duration // default_claim_ttl_seconds (300)

	HTTP HTTPConfig
}

// HTTPConfig tunes the HTTP server.
type HTTPConfig struct {
	Addr              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

// LoadConfig reads configuration from the environment, falling back to
// defaults for anything unset. Precedence is env > default; there is no
// functional-option layer. An unset JOBCTL_REDIS_URL leaves RedisURL empty,
// which selects the in-memory Store in cmd/server.
func LoadConfig() *Config {
	c := &Config{
		DatabaseURL:                 getEnv("JOBCTL_DATABASE_URL", ""),
		RedisURL:                    getEnv("JOBCTL_REDIS_URL", ""),
		RequireApproval:             getEnvBool("JOBCTL_REQUIRE_APPROVAL", true),
		CORSOrigins:                 getEnvList("JOBCTL_CORS_ORIGINS", nil),
		RateLimitPerMin:             getEnvInt("JOBCTL_RATE_LIMIT_PER_MIN", 600),
		SecretKey:                   getEnv("JOBCTL_SECRET_KEY", ""),
		SchedulerBackgroundInterval: getEnvDuration("JOBCTL_SCHEDULER_BACKGROUND_INTERVAL", 0),
		MaxRetries:                  getEnvInt("JOBCTL_MAX_RETRIES", 3),
		BackoffBaseSeconds:          getEnvFloat("JOBCTL_BACKOFF_BASE_SECONDS", 1.0),
		BackoffJitterSeconds:        getEnvFloat("JOBCTL_BACKOFF_JITTER_SECONDS", 0.0),
		DefaultClaimTTL:             getEnvDuration("JOBCTL_DEFAULT_CLAIM_TTL", 300*time.Second),
		HTTP: HTTPConfig{
			Addr:              getEnv("JOBCTL_HTTP_ADDR", ":8080"),
			ReadTimeout:       getEnvDuration("JOBCTL_HTTP_READ_TIMEOUT", 30*time.Second),
			ReadHeaderTimeout: getEnvDuration("JOBCTL_HTTP_READ_HEADER_TIMEOUT", 10*time.Second),
			WriteTimeout:      getEnvDuration("JOBCTL_HTTP_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvDuration("JOBCTL_HTTP_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout:   getEnvDuration("JOBCTL_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
	}
	return c
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
