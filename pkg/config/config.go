package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gaspipe/docvault/pkg/observability"
)

// Scope policies for resolving which services a user may see
const (
	ScopePolicyDirect = "direct"
	ScopePolicyUmg    = "umg"
)

// Resolver cache backends
const (
	CacheOff   = "off"
	CacheLocal = "local"
	CacheRedis = "redis"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Access        AccessConfig
	Cache         CacheConfig
	Search        SearchConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RunMigrations   bool
	// StatsSchedule is the cron expression for refreshing pool gauges
	StatsSchedule string
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
	Issuer    string

	// Bootstrap admin is created on startup when no user holds the
	// administrator role
	BootstrapAdminUsername string
	BootstrapAdminPassword string
}

// AccessConfig controls authorization behaviour
type AccessConfig struct {
	ScopePolicy       string
	CapabilitiesFile  string
	WatchCapabilities bool
}

// CacheConfig controls the optional resolver cache
type CacheConfig struct {
	Backend  string
	Size     int
	TTL      time.Duration
	RedisURL string
}

// SearchIndexLanguage is the text search configuration the documents
// search_vector column is generated with. Queries must parse with the same
// one or stems stop matching.
const SearchIndexLanguage = "russian"

// SearchConfig tunes the document search engine
type SearchConfig struct {
	Language            string
	SimilarityThreshold float64
	DefaultLimit        int
	MaxLimit            int
}

// RateLimitConfig holds request budgets per minute. Limiters share Redis
// when the resolver cache does.
type RateLimitConfig struct {
	Enabled        bool
	LoginPerMinute int
	LoginBurst     int
	APIPerMinute   int
	APIBurst       int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from DOCVAULT_* environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("DOCVAULT_HOST", "0.0.0.0"),
			Port:            getEnv("DOCVAULT_PORT", "8080"),
			ReadTimeout:     getEnvDuration("DOCVAULT_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("DOCVAULT_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("DOCVAULT_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("DOCVAULT_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxBodyBytes:    getEnvInt64("DOCVAULT_MAX_BODY_BYTES", 1<<20),
			HealthPort:      getEnv("DOCVAULT_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DOCVAULT_POSTGRES_URL", ""),
			MaxOpenConns:    getEnvInt("DOCVAULT_POSTGRES_MAX_CONNS", 20),
			MaxIdleConns:    getEnvInt("DOCVAULT_POSTGRES_MIN_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DOCVAULT_POSTGRES_CONN_LIFETIME", 30*time.Minute),
			RunMigrations:   getEnvBool("DOCVAULT_RUN_MIGRATIONS", true),
			StatsSchedule:   getEnv("DOCVAULT_DB_STATS_SCHEDULE", "@every 30s"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("DOCVAULT_JWT_SECRET", ""),
			TokenTTL:  getEnvDuration("DOCVAULT_TOKEN_TTL", 12*time.Hour),
			Issuer:    getEnv("DOCVAULT_TOKEN_ISSUER", "docvault"),

			BootstrapAdminUsername: getEnv("DOCVAULT_BOOTSTRAP_ADMIN_USERNAME", ""),
			BootstrapAdminPassword: getEnv("DOCVAULT_BOOTSTRAP_ADMIN_PASSWORD", ""),
		},
		Access: AccessConfig{
			ScopePolicy:       strings.ToLower(getEnv("DOCVAULT_SCOPE_POLICY", ScopePolicyUmg)),
			CapabilitiesFile:  getEnv("DOCVAULT_CAPABILITIES_FILE", ""),
			WatchCapabilities: getEnvBool("DOCVAULT_WATCH_CAPABILITIES", true),
		},
		Cache: CacheConfig{
			Backend:  strings.ToLower(getEnv("DOCVAULT_RBAC_CACHE", CacheOff)),
			Size:     getEnvInt("DOCVAULT_RBAC_CACHE_SIZE", 4096),
			TTL:      getEnvDuration("DOCVAULT_RBAC_CACHE_TTL", 5*time.Minute),
			RedisURL: getEnv("DOCVAULT_REDIS_URL", ""),
		},
		Search: SearchConfig{
			Language:            getEnv("DOCVAULT_SEARCH_LANGUAGE", SearchIndexLanguage),
			SimilarityThreshold: getEnvFloat("DOCVAULT_SEARCH_SIMILARITY", 0.3),
			DefaultLimit:        getEnvInt("DOCVAULT_SEARCH_DEFAULT_LIMIT", 20),
			MaxLimit:            getEnvInt("DOCVAULT_SEARCH_MAX_LIMIT", 100),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("DOCVAULT_RATELIMIT_ENABLED", true),
			LoginPerMinute: getEnvInt("DOCVAULT_RATELIMIT_LOGIN_PER_MINUTE", 10),
			LoginBurst:     getEnvInt("DOCVAULT_RATELIMIT_LOGIN_BURST", 5),
			APIPerMinute:   getEnvInt("DOCVAULT_RATELIMIT_API_PER_MINUTE", 600),
			APIBurst:       getEnvInt("DOCVAULT_RATELIMIT_API_BURST", 60),
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLogLevel(getEnv("DOCVAULT_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("DOCVAULT_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("DOCVAULT_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("DOCVAULT_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("DOCVAULT_OTEL_SERVICE_NAME", "docvault"),
			OTelServiceVersion: getEnv("DOCVAULT_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("DOCVAULT_OTEL_INSECURE", true),
			OTelSampleRatio:    getEnvFloat("DOCVAULT_OTEL_SAMPLE_RATIO", 1.0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 bytes")
	}
	if (c.Auth.BootstrapAdminUsername == "") != (c.Auth.BootstrapAdminPassword == "") {
		return fmt.Errorf("bootstrap admin username and password must be set together")
	}

	switch c.Access.ScopePolicy {
	case ScopePolicyDirect, ScopePolicyUmg:
	default:
		return fmt.Errorf("invalid scope policy: %s (must be direct or umg)", c.Access.ScopePolicy)
	}

	switch c.Cache.Backend {
	case CacheOff:
	case CacheLocal:
		if c.Cache.Size <= 0 {
			return fmt.Errorf("cache size must be positive for local cache")
		}
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis cache")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be off, local, or redis)", c.Cache.Backend)
	}

	if lang := c.Search.Language; lang != "" && lang != SearchIndexLanguage {
		return fmt.Errorf("search language %q does not match the index language %q", lang, SearchIndexLanguage)
	}
	if c.Search.SimilarityThreshold <= 0 || c.Search.SimilarityThreshold >= 1 {
		return fmt.Errorf("search similarity threshold must be between 0 and 1")
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("search limits are inconsistent: default %d, max %d", c.Search.DefaultLimit, c.Search.MaxLimit)
	}

	if c.RateLimit.Enabled && (c.RateLimit.LoginPerMinute <= 0 || c.RateLimit.APIPerMinute <= 0) {
		return fmt.Errorf("rate limits must be positive when rate limiting is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
