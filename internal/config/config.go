// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, the entity store, enrichment (Bot API tokens and timeouts),
// webhook ingestion, rate limiting and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-chat-ingest/internal/utils"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-chat-ingest")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// StoreConfig selects the database backend.
type StoreConfig struct {
	Driver  string        // DB_DRIVER: sqlite|postgres
	Path    string        // DB_PATH (sqlite)
	DSN     string        // DATABASE_URL (postgres)
	Timeout time.Duration // STORE_TIMEOUT, bounds each core transaction
}

// EnrichmentConfig configures the Bot API enrichment client.
type EnrichmentConfig struct {
	Enabled     bool             // ENRICHMENT_ENABLED
	APIEndpoint string           // TELEGRAM_API_ENDPOINT, fmt template (token, method)
	BotTokens   map[int64]string // BOT_TOKENS: "<botId>=<token>,..."
	Timeout     time.Duration    // ENRICHMENT_TIMEOUT
	CacheTTL    time.Duration    // ENRICHMENT_CACHE_TTL (0 disables the file-info cache)
}

// IngestConfig configures webhook ingestion.
type IngestConfig struct {
	WebhookBasePath    string        // WEBHOOK_BASE_PATH (default "/tg")
	WebhookSecret      string        // WEBHOOK_SECRET, compared to X-Telegram-Bot-Api-Secret-Token
	CommandPrefix      string        // COMMAND_PREFIX (default "/")
	ProcessedUpdateTTL time.Duration // PROCESSED_UPDATE_TTL
	MaxBodyBytes       int64         // MAX_BODY_BYTES
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for the read API

	Store      StoreConfig
	Enrichment EnrichmentConfig
	Ingest     IngestConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	tokens, tokErr := parseBotTokens(getenv("BOT_TOKENS", ""))

	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		Store: StoreConfig{
			Driver:  strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:    getenv("DB_PATH", "app.db"),
			DSN:     getenv("DATABASE_URL", ""),
			Timeout: getdur("STORE_TIMEOUT", 5*time.Second),
		},

		Enrichment: EnrichmentConfig{
			Enabled:     getbool("ENRICHMENT_ENABLED", true),
			APIEndpoint: getenv("TELEGRAM_API_ENDPOINT", "https://api.telegram.org/bot%s/%s"),
			BotTokens:   tokens,
			Timeout:     getdur("ENRICHMENT_TIMEOUT", 3*time.Second),
			CacheTTL:    getdur("ENRICHMENT_CACHE_TTL", time.Hour),
		},

		Ingest: IngestConfig{
			WebhookBasePath:    normalizeBasePath(getenv("WEBHOOK_BASE_PATH", "/tg")),
			WebhookSecret:      getenv("WEBHOOK_SECRET", ""),
			CommandPrefix:      getenv("COMMAND_PREFIX", "/"),
			ProcessedUpdateTTL: getdur("PROCESSED_UPDATE_TTL", 24*time.Hour),
			MaxBodyBytes:       int64(getint("MAX_BODY_BYTES", 1<<20)),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-chat-ingest"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.Store.Driver == "postgresql" || cfg.Store.Driver == "pg" {
		cfg.Store.Driver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.Store.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.Store.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Store.DSN) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.Store.Timeout <= 0 {
		return cfg, errors.New("STORE_TIMEOUT must be > 0")
	}
	if tokErr != nil {
		return cfg, fmt.Errorf("BOT_TOKENS: %w", tokErr)
	}
	if cfg.Enrichment.Timeout <= 0 {
		return cfg, errors.New("ENRICHMENT_TIMEOUT must be > 0")
	}
	if cfg.Enrichment.CacheTTL < 0 {
		return cfg, errors.New("ENRICHMENT_CACHE_TTL must be >= 0")
	}
	if cfg.Enrichment.Enabled && strings.Count(cfg.Enrichment.APIEndpoint, "%s") != 2 {
		return cfg, errors.New("TELEGRAM_API_ENDPOINT must contain two %s verbs (token, method)")
	}
	if cfg.Ingest.WebhookBasePath == "/" {
		return cfg, errors.New("WEBHOOK_BASE_PATH must not be the root path")
	}
	if strings.TrimSpace(cfg.Ingest.CommandPrefix) == "" {
		return cfg, errors.New("COMMAND_PREFIX must not be empty")
	}
	if cfg.Ingest.ProcessedUpdateTTL < 0 {
		return cfg, errors.New("PROCESSED_UPDATE_TTL must be >= 0")
	}
	if cfg.Ingest.MaxBodyBytes <= 0 {
		return cfg, errors.New("MAX_BODY_BYTES must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseBotTokens parses "<botId>=<token>" pairs. Token values never appear
// in returned errors.
func parseBotTokens(s string) (map[int64]string, error) {
	out := map[int64]string{}
	for _, part := range splitCSV(s) {
		idStr, tok, ok := strings.Cut(part, "=")
		if !ok {
			return nil, errors.New("entries must be <botId>=<token>")
		}
		id, valid := utils.ParseID(strings.TrimSpace(idStr))
		if !valid {
			return nil, fmt.Errorf("invalid bot id %q", strings.TrimSpace(idStr))
		}
		if strings.TrimSpace(tok) == "" {
			return nil, fmt.Errorf("empty token for bot %d", id)
		}
		out[id] = strings.TrimSpace(tok)
	}
	return out, nil
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
