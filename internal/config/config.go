package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backends for reset-device requests
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
	Reset    ResetConfig    `mapstructure:"reset"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Email    EmailConfig    `mapstructure:"email"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// TrustedProxies lists the addresses or CIDR ranges whose
	// X-Forwarded-For and X-Real-IP headers are believed
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// TrustedProxyNets parses TrustedProxies. A bare address is a single-host range.
func (s ServerConfig) TrustedProxyNets() ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(s.TrustedProxies))
	for _, entry := range s.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid server.trusted_proxies entry %q", entry)
			}
			bits := 8 * net.IPv6len
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 8*net.IPv4len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid server.trusted_proxies entry %q", entry)
		}
		nets = append(nets, ipNet)
	}
	return nets, nil
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	Answer       AnswerConfig       `mapstructure:"answer"`
	ServiceAuth  ServiceAuthConfig  `mapstructure:"service_auth"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// AnswerConfig holds the Argon2id parameters for security answer digests
type AnswerConfig struct {
	Argon2Memory      uint32 `mapstructure:"argon2_memory"`
	Argon2Iterations  uint32 `mapstructure:"argon2_iterations"`
	Argon2Parallelism uint8  `mapstructure:"argon2_parallelism"`
}

// ServiceAuthConfig holds the shared secret used by internal callers that
// trigger reset requests (account service, support tooling).
type ServiceAuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	ChallengeRate int           `mapstructure:"challenge_limit"`
	AnswerRate    int           `mapstructure:"answer_limit"`
	Window        time.Duration `mapstructure:"window"`
}

// ResetConfig holds the device-reset request lifecycle settings
type ResetConfig struct {
	// Store selects the request store backend: "postgres" or "redis"
	Store string `mapstructure:"store"`
	// TokenTTL is how long a granted token stays usable
	TokenTTL time.Duration `mapstructure:"token_ttl"`
	// MaxAttempts is the number of wrong answers that locks a request
	MaxAttempts int `mapstructure:"max_attempts"`
	// RecordRetention is how long closed requests are kept (redis store only)
	RecordRetention time.Duration `mapstructure:"record_retention"`
	// SweepInterval is how often expired grants are closed; zero disables the sweeper
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// LinkBaseURL is the page that renders the challenge, the token is appended as ?token=
	LinkBaseURL string `mapstructure:"link_base_url"`
}

// AuditConfig holds audit event delivery configuration
type AuditConfig struct {
	// Async buffers events and writes them from a background goroutine
	Async      bool `mapstructure:"async"`
	BufferSize int  `mapstructure:"buffer_size"`
	// StreamChannel is the Redis pub/sub channel for analytics consumers; empty disables it
	StreamChannel string `mapstructure:"stream_channel"`
}

// EmailConfig holds email sending configuration
type EmailConfig struct {
	// Provider is the email provider to use: "gmail" or "log"
	Provider string `mapstructure:"provider"`
	// AppName is the application name shown in emails
	AppName string           `mapstructure:"app_name"`
	Gmail   GmailEmailConfig `mapstructure:"gmail"`
}

// GmailEmailConfig holds Gmail API configuration
type GmailEmailConfig struct {
	// CredentialsJSON is the service account credentials JSON content
	CredentialsJSON string `mapstructure:"credentials_json"`
	// ClientID for OAuth2 token-based auth (alternative to service account)
	ClientID string `mapstructure:"client_id"`
	// ClientSecret for OAuth2 token-based auth
	ClientSecret string `mapstructure:"client_secret"`
	// RefreshToken for OAuth2 token-based auth
	RefreshToken  string `mapstructure:"refresh_token"`
	SenderAddress string `mapstructure:"sender_address"`
	SenderName    string `mapstructure:"sender_name"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	// A local .env is optional; real environment variables win.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/devicereset")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("DEVICERESET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks settings that would otherwise break the reset lifecycle at runtime
func (c *Config) Validate() error {
	switch c.Reset.Store {
	case StorePostgres, StoreRedis:
	default:
		return fmt.Errorf("invalid reset.store %q: must be %q or %q", c.Reset.Store, StorePostgres, StoreRedis)
	}
	if c.Reset.TokenTTL <= 0 {
		return fmt.Errorf("reset.token_ttl must be positive")
	}
	if c.Reset.MaxAttempts < 1 {
		return fmt.Errorf("reset.max_attempts must be at least 1")
	}
	if _, err := c.Server.TrustedProxyNets(); err != nil {
		return err
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.trusted_proxies", []string{})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "devicereset")
	v.SetDefault("database.user", "devicereset")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Security defaults
	v.SetDefault("security.answer.argon2_memory", 65536)
	v.SetDefault("security.answer.argon2_iterations", 3)
	v.SetDefault("security.answer.argon2_parallelism", 4)

	v.SetDefault("security.service_auth.secret", "")
	v.SetDefault("security.service_auth.issuer", "account-service")
	v.SetDefault("security.service_auth.audience", "devicereset")
	v.SetDefault("security.service_auth.token_ttl", "5m")

	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.challenge_limit", 30)
	v.SetDefault("security.rate_limiting.answer_limit", 10)
	v.SetDefault("security.rate_limiting.window", "15m")

	// Reset lifecycle defaults
	v.SetDefault("reset.store", StorePostgres)
	v.SetDefault("reset.token_ttl", "24h")
	v.SetDefault("reset.max_attempts", 3)
	v.SetDefault("reset.record_retention", "720h")
	v.SetDefault("reset.sweep_interval", "15m")
	v.SetDefault("reset.link_base_url", "http://localhost:3000/reset-device")

	// Audit defaults
	v.SetDefault("audit.async", false)
	v.SetDefault("audit.buffer_size", 256)
	v.SetDefault("audit.stream_channel", "")

	// Email defaults
	v.SetDefault("email.provider", "log")
	v.SetDefault("email.app_name", "HostedID")
	v.SetDefault("email.gmail.sender_address", "")
	v.SetDefault("email.gmail.sender_name", "HostedID")
}
