package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingCredential is returned by Load when no upstream bearer token is configured.
var ErrMissingCredential = errors.New("upstream credential missing: set UPSTREAM_TOKEN or GITHUB_TOKEN")

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// ServerConfig controls the inbound HTTP surface.
type ServerConfig struct {
	Port         string
	StaticDir    string
	UploadDir    string
	MaxBodyBytes int64
	CORSOrigin   string
}

// UpstreamConfig describes the inference endpoint and the fixed request knobs.
type UpstreamConfig struct {
	BaseURL        string
	Flavor         string // "chat" | "responses"
	Path           string // overrides the flavor default when set
	Token          string
	Model          string
	Temperature    float64
	MaxTokens      int
	Timeout        time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	MaxInflight    int
}

// BreakerConfig configures the optional Redis-backed circuit breaker.
type BreakerConfig struct {
	RedisURL         string
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	FailureThreshold int
}

// SourceConfig controls remote image references (s3://, http(s)://).
type SourceConfig struct {
	AllowRemote bool
	S3Bucket    string
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	MaxBytes    int64
}

// Config is the top-level configuration. It is built once at startup and
// passed by pointer; nothing reads the environment after Load returns.
type Config struct {
	Logging  LoggingConfig
	Axiom    AxiomConfig
	Server   ServerConfig
	Upstream UpstreamConfig
	Breaker  BreakerConfig
	Source   SourceConfig
}

// Load reads configuration from the environment with defaults.
// The upstream credential is the only required value.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", ""),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_imagedescriber",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Server = ServerConfig{
		Port:         getEnv("PORT", "3000"),
		StaticDir:    getEnv("STATIC_DIR", "public"),
		UploadDir:    getEnv("UPLOAD_DIR", os.TempDir()),
		MaxBodyBytes: int64(parseInt(getEnv("MAX_BODY_BYTES", "10485760"), 10<<20)),
		CORSOrigin:   getEnv("CORS_ORIGIN", "*"),
	}

	token := strings.TrimSpace(os.Getenv("UPSTREAM_TOKEN"))
	if token == "" {
		token = strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
	}
	cfg.Upstream = UpstreamConfig{
		BaseURL:        strings.TrimRight(getEnv("UPSTREAM_BASE_URL", "https://models.github.ai/inference"), "/"),
		Flavor:         strings.ToLower(getEnv("UPSTREAM_API", "chat")),
		Path:           getEnv("UPSTREAM_PATH", ""),
		Token:          token,
		Model:          getEnv("UPSTREAM_MODEL", "meta/Llama-3.2-90B-Vision-Instruct"),
		Temperature:    parseFloat(getEnv("UPSTREAM_TEMPERATURE", "0.7"), 0.7),
		MaxTokens:      parseInt(getEnv("UPSTREAM_MAX_TOKENS", "512"), 512),
		Timeout:        parseDuration(getEnv("UPSTREAM_TIMEOUT", "60s"), 60*time.Second),
		MaxAttempts:    parseInt(getEnv("UPSTREAM_MAX_ATTEMPTS", "2"), 2),
		RetryBaseDelay: parseDuration(getEnv("UPSTREAM_RETRY_BASE_DELAY", "500ms"), 500*time.Millisecond),
		MaxInflight:    parseInt(getEnv("UPSTREAM_MAX_INFLIGHT", "8"), 8),
	}
	if cfg.Upstream.MaxAttempts < 1 {
		cfg.Upstream.MaxAttempts = 1
	}

	cfg.Breaker = BreakerConfig{
		RedisURL:         getEnv("REDIS_URL", ""),
		BaseBackoff:      parseDuration(getEnv("BREAKER_BASE_BACKOFF", "30s"), 30*time.Second),
		MaxBackoff:       parseDuration(getEnv("BREAKER_MAX_BACKOFF", "5m"), 5*time.Minute),
		FailureThreshold: parseInt(getEnv("BREAKER_FAILURE_THRESHOLD", "3"), 3),
	}

	cfg.Source = SourceConfig{
		AllowRemote: parseBool(getEnv("ALLOW_REMOTE_IMAGE_REFS", "0")),
		S3Bucket:    getEnv("AWS_S3_BUCKET", ""),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3Region:    getEnv("AWS_REGION", ""),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		MaxBytes:    int64(parseInt(getEnv("REMOTE_IMAGE_MAX_BYTES", "20971520"), 20<<20)),
	}

	if token == "" {
		return cfg, ErrMissingCredential
	}
	return cfg, nil
}

// UpstreamPath returns the request path for the configured API flavor.
func (c *Config) UpstreamPath() string {
	if c.Upstream.Path != "" {
		return c.Upstream.Path
	}
	if c.Upstream.Flavor == "responses" {
		return "/responses"
	}
	return "/chat/completions"
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
