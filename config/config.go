package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DevelopmentJWTSecret is the signing secret used when JWT_SECRET is unset.
// It is rejected in production.
const DevelopmentJWTSecret = "laundry-api-development-secret-do-not-deploy"

// MinSecretLength is the minimum HMAC secret length in bytes
const MinSecretLength = 32

// Backend names for pluggable stores
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Session       SessionConfig
	Audit         AuditConfig
	CORS          CORSConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	InitSchema      bool
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// RedisConfig holds the Redis connection used for revocation and rate limiting
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds access token signing configuration
type JWTConfig struct {
	Algorithm      string
	Secret         string
	PrivateKeyFile string
	PublicKeyFile  string
	Issuer         string
	TTL            time.Duration
	RefreshGrace   time.Duration
}

// SessionConfig holds refresh token, revocation, and login throttling settings
type SessionConfig struct {
	RevocationBackend      string
	RefreshTokenTTL        time.Duration
	RefreshTokenMaxUses    int
	RefreshCleanupInterval time.Duration
	LoginRateLimit         int
	LoginRateWindow        time.Duration
	RateLimitBackend       string
	BcryptCost             int
}

// AuditConfig holds the async audit writer settings
type AuditConfig struct {
	BufferSize int
	Workers    int
}

// CORSConfig holds cross-origin settings for the HTTP API
type CORSConfig struct {
	AllowedOrigins []string
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := Load()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Load reads the configuration from the environment without validating it
func Load() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			InitSchema:      getEnvAsBool("DB_INIT_SCHEMA", false),
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Algorithm:      strings.ToUpper(getEnv("JWT_ALGORITHM", "HS256")),
			Secret:         getEnv("JWT_SECRET", DevelopmentJWTSecret),
			PrivateKeyFile: getEnv("JWT_PRIVATE_KEY_FILE", ""),
			PublicKeyFile:  getEnv("JWT_PUBLIC_KEY_FILE", ""),
			Issuer:         getEnv("JWT_ISSUER", "laundry-api"),
			TTL:            getEnvAsDuration("JWT_TTL", 60*time.Minute),
			RefreshGrace:   getEnvAsDuration("JWT_REFRESH_GRACE", 14*24*time.Hour),
		},
		Session: SessionConfig{
			RevocationBackend:      strings.ToLower(getEnv("REVOCATION_BACKEND", BackendMemory)),
			RefreshTokenTTL:        getEnvAsDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
			RefreshTokenMaxUses:    getEnvAsInt("REFRESH_TOKEN_MAX_USES", 0),
			RefreshCleanupInterval: getEnvAsDuration("REFRESH_TOKEN_CLEANUP_INTERVAL", time.Hour),
			LoginRateLimit:         getEnvAsInt("LOGIN_RATE_LIMIT", 5),
			LoginRateWindow:        getEnvAsDuration("LOGIN_RATE_WINDOW", time.Minute),
			RateLimitBackend:       strings.ToLower(getEnv("RATE_LIMIT_BACKEND", BackendMemory)),
			BcryptCost:             getEnvAsInt("BCRYPT_COST", 0),
		},
		Audit: AuditConfig{
			BufferSize: getEnvAsInt("AUDIT_BUFFER_SIZE", 1000),
			Workers:    getEnvAsInt("AUDIT_WORKERS", 2),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if err := c.JWT.validate(c.IsProduction()); err != nil {
		return err
	}

	for name, backend := range map[string]string{
		"REVOCATION_BACKEND": c.Session.RevocationBackend,
		"RATE_LIMIT_BACKEND": c.Session.RateLimitBackend,
	} {
		switch backend {
		case BackendMemory:
		case BackendRedis:
			if c.Redis.Addr == "" {
				return fmt.Errorf("%s=redis requires REDIS_ADDR", name)
			}
		default:
			return fmt.Errorf("unsupported %s: %q", name, backend)
		}
	}

	if c.Session.LoginRateLimit <= 0 || c.Session.LoginRateWindow <= 0 {
		return fmt.Errorf("login rate limit and window must be positive")
	}
	if c.Session.RefreshTokenTTL <= 0 {
		return fmt.Errorf("refresh token TTL must be positive")
	}
	if c.Audit.BufferSize <= 0 || c.Audit.Workers <= 0 {
		return fmt.Errorf("audit buffer size and workers must be positive")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

func (j *JWTConfig) validate(production bool) error {
	if j.TTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive")
	}
	if j.RefreshGrace < 0 {
		return fmt.Errorf("JWT_REFRESH_GRACE must not be negative")
	}

	switch j.Algorithm {
	case "HS256", "HS384", "HS512":
		if len(j.Secret) < MinSecretLength {
			return fmt.Errorf("JWT_SECRET must be at least %d bytes", MinSecretLength)
		}
		if production && j.Secret == DevelopmentJWTSecret {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
	case "RS256":
		if j.PrivateKeyFile == "" || j.PublicKeyFile == "" {
			return fmt.Errorf("RS256 requires JWT_PRIVATE_KEY_FILE and JWT_PUBLIC_KEY_FILE")
		}
	default:
		return fmt.Errorf("unsupported JWT_ALGORITHM: %q", j.Algorithm)
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "laundry"),
		Password:        getEnv("DB_PASSWORD", "laundry"),
		Database:        getEnv("DB_NAME", "laundry"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
