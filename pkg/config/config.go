package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultDatabaseQueryTimeout bounds a single loyalty operation when no override is configured
const DefaultDatabaseQueryTimeout = 5 * time.Second

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	NATS      NATSConfig
	Loyalty   LoyaltyConfig
	Tracing   TracingConfig
	Sentry    SentryConfig
	Log       LogConfig
	RateLimit RateLimitConfig
	Secrets   SecretsConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port           string
	Environment    string
	ServiceName    string
	ReadTimeout    int
	WriteTimeout   int
	RequestTimeout int    // seconds, applied per request
	CORSOrigins    string // Comma-separated list of allowed origins
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
	Migrate  bool

	MaxConnLifetime time.Duration
	ConnectTimeout  time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string
}

// NATSConfig holds event bus configuration
type NATSConfig struct {
	URL     string
	Stream  string
	Enabled bool
	Breaker BreakerConfig
}

// BreakerConfig tunes the circuit breaker in front of a downstream dependency
type BreakerConfig struct {
	Interval         time.Duration
	OpenTimeout      time.Duration
	FailureThreshold int
	SuccessThreshold int
}

// LoyaltyConfig holds the points policy knobs
type LoyaltyConfig struct {
	IncomeMultiplier int
	CodeBonus        int
	DateBonus        int
	CampaignAnchor   time.Time
	CampaignDays     int
	CampaignMode     string // weekday | elapsed
	CodeBackend      string // postgres | redis | memory
	OperationTimeout time.Duration
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	SampleRatio float64
}

// SentryConfig holds Sentry configuration
type SentryConfig struct {
	DSN string
}

// LogConfig holds the optional rotating log file settings
type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// RateLimitConfig holds the per-caller request limits
type RateLimitConfig struct {
	Enabled           bool
	WindowSeconds     int
	DefaultLimit      int
	DefaultBurst      int
	AnonymousLimit    int
	AnonymousBurst    int
	RedisPrefix       string
	EndpointOverrides map[string]EndpointRateLimitConfig
}

// EndpointRateLimitConfig overrides the defaults for one route
type EndpointRateLimitConfig struct {
	AuthenticatedLimit int `json:"authenticated_limit"`
	AuthenticatedBurst int `json:"authenticated_burst"`
	AnonymousLimit     int `json:"anonymous_limit"`
	AnonymousBurst     int `json:"anonymous_burst"`
	WindowSeconds      int `json:"window_seconds"`
}

// Window returns the refill window, one minute when unset
func (c RateLimitConfig) Window() time.Duration {
	if c.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.WindowSeconds) * time.Second
}

// SecretsConfig selects an external secret store. A non-empty *Ref replaces the
// matching plain value at startup.
type SecretsConfig struct {
	Provider string // vault | aws | gcp | kubernetes, empty disables
	CacheTTL time.Duration

	VaultAddress   string
	VaultToken     string
	VaultNamespace string
	VaultMount     string

	AWSRegion   string
	AWSProfile  string
	AWSEndpoint string

	GCPProject         string
	GCPCredentialsFile string

	KubernetesBasePath string

	DatabasePasswordRef string
	RedisPasswordRef    string
	JWTSecretRef        string
	SentryDSNRef        string
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	anchor, err := getEnvAsDate("LOYALTY_CAMPAIGN_ANCHOR", time.Now())
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Environment:    getEnv("ENVIRONMENT", "development"),
			ServiceName:    serviceName,
			ReadTimeout:    getEnvAsInt("READ_TIMEOUT", 10),
			WriteTimeout:   getEnvAsInt("WRITE_TIMEOUT", 10),
			RequestTimeout: getEnvAsInt("REQUEST_TIMEOUT", 15),
			CORSOrigins:    getEnv("CORS_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "loyalty"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 5),
			Migrate:  getEnvAsBool("DB_MIGRATE", true),

			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			ConnectTimeout:  getEnvAsDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
			Stream:  getEnv("NATS_STREAM", "LOYALTY"),
			Enabled: getEnvAsBool("NATS_ENABLED", false),
			Breaker: BreakerConfig{
				Interval:         getEnvAsDuration("NATS_BREAKER_INTERVAL", time.Minute),
				OpenTimeout:      getEnvAsDuration("NATS_BREAKER_OPEN_TIMEOUT", 30*time.Second),
				FailureThreshold: getEnvAsInt("NATS_BREAKER_FAILURES", 5),
				SuccessThreshold: getEnvAsInt("NATS_BREAKER_SUCCESSES", 1),
			},
		},
		Loyalty: LoyaltyConfig{
			IncomeMultiplier: getEnvAsInt("LOYALTY_INCOME_MULTIPLIER", 10),
			CodeBonus:        getEnvAsInt("LOYALTY_CODE_BONUS", 50),
			DateBonus:        getEnvAsInt("LOYALTY_DATE_BONUS", 100),
			CampaignAnchor:   anchor,
			CampaignDays:     getEnvAsInt("LOYALTY_CAMPAIGN_DAYS", 7),
			CampaignMode:     getEnv("LOYALTY_CAMPAIGN_MODE", "weekday"),
			CodeBackend:      getEnv("LOYALTY_CODE_BACKEND", "postgres"),
			OperationTimeout: getEnvAsDuration("LOYALTY_OPERATION_TIMEOUT", DefaultDatabaseQueryTimeout),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvAsBool("OTEL_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			SampleRatio: getEnvAsFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
		Sentry: SentryConfig{
			DSN: getEnv("SENTRY_DSN", ""),
		},
		Log: LogConfig{
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 30),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvAsBool("RATE_LIMIT_ENABLED", true),
			WindowSeconds:  getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			DefaultLimit:   getEnvAsInt("RATE_LIMIT_DEFAULT_LIMIT", 120),
			DefaultBurst:   getEnvAsInt("RATE_LIMIT_DEFAULT_BURST", 20),
			AnonymousLimit: getEnvAsInt("RATE_LIMIT_ANONYMOUS_LIMIT", 30),
			AnonymousBurst: getEnvAsInt("RATE_LIMIT_ANONYMOUS_BURST", 5),
			RedisPrefix:    getEnv("RATE_LIMIT_REDIS_PREFIX", "loyalty:rl"),
		},
		Secrets: SecretsConfig{
			Provider:            getEnv("SECRETS_PROVIDER", ""),
			CacheTTL:            getEnvAsDuration("SECRETS_CACHE_TTL", 5*time.Minute),
			VaultAddress:        getEnv("VAULT_ADDR", ""),
			VaultToken:          getEnv("VAULT_TOKEN", ""),
			VaultNamespace:      getEnv("VAULT_NAMESPACE", ""),
			VaultMount:          getEnv("VAULT_MOUNT", "secret"),
			AWSRegion:           getEnv("AWS_REGION", ""),
			AWSProfile:          getEnv("AWS_PROFILE", ""),
			AWSEndpoint:         getEnv("AWS_SECRETS_ENDPOINT", ""),
			GCPProject:          getEnv("GCP_PROJECT_ID", ""),
			GCPCredentialsFile:  getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
			KubernetesBasePath:  getEnv("K8S_SECRETS_PATH", "/var/run/secrets/loyalty"),
			DatabasePasswordRef: getEnv("DB_PASSWORD_SECRET_REF", ""),
			RedisPasswordRef:    getEnv("REDIS_PASSWORD_SECRET_REF", ""),
			JWTSecretRef:        getEnv("JWT_SECRET_REF", ""),
			SentryDSNRef:        getEnv("SENTRY_DSN_SECRET_REF", ""),
		},
	}

	overrides, err := getEnvAsEndpointOverrides("RATE_LIMIT_ENDPOINTS")
	if err != nil {
		return nil, err
	}
	cfg.RateLimit.EndpointOverrides = overrides

	if err := cfg.Loyalty.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Secrets.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *SecretsConfig) validate() error {
	switch c.Provider {
	case "", "vault", "aws", "gcp", "kubernetes":
	default:
		return fmt.Errorf("invalid SECRETS_PROVIDER %q", c.Provider)
	}
	if c.Provider == "" && (c.DatabasePasswordRef != "" || c.RedisPasswordRef != "" || c.JWTSecretRef != "" || c.SentryDSNRef != "") {
		return fmt.Errorf("secret references are set but SECRETS_PROVIDER is empty")
	}
	return nil
}

func (c *LoyaltyConfig) validate() error {
	switch c.CampaignMode {
	case "weekday", "elapsed":
	default:
		return fmt.Errorf("invalid LOYALTY_CAMPAIGN_MODE %q", c.CampaignMode)
	}
	switch c.CodeBackend {
	case "postgres", "redis", "memory":
	default:
		return fmt.Errorf("invalid LOYALTY_CODE_BACKEND %q", c.CodeBackend)
	}
	if c.IncomeMultiplier < 0 || c.CodeBonus < 0 || c.DateBonus < 0 {
		return fmt.Errorf("loyalty bonuses must not be negative")
	}
	return nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDate(key string, defaultValue time.Time) (time.Time, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.Parse("2006-01-02", valueStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

// getEnvAsEndpointOverrides reads a JSON object keyed by route path
func getEnvAsEndpointOverrides(key string) (map[string]EndpointRateLimitConfig, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return nil, nil
	}
	var overrides map[string]EndpointRateLimitConfig
	if err := json.Unmarshal([]byte(valueStr), &overrides); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return overrides, nil
}
