package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	JWT      JWTConfig      `yaml:"jwt"`
	Log      LogConfig      `yaml:"log"`
	Payment  PaymentConfig  `yaml:"payment"`
	Session  SessionConfig  `yaml:"session"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents API configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	// Driver is "postgres" or "memory" (development mode)
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PaymentConfig represents payment gateway configuration
type PaymentConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	WebhookSecret string        `yaml:"webhook_secret"`
	Currency      string        `yaml:"currency"`
	Timeout       time.Duration `yaml:"timeout"`

	// PollInterval drives the fallback poll for missed webhooks;
	// PollGrace is how long a payment may stay PENDING before polling.
	PollInterval time.Duration `yaml:"poll_interval"`
	PollGrace    time.Duration `yaml:"poll_grace"`
}

// SessionConfig represents session lifecycle configuration
type SessionConfig struct {
	// ReaperInterval is the sweep period for expired grants
	ReaperInterval time.Duration `yaml:"reaper_interval"`

	// PresenceTimeout bounds every access controller call
	PresenceTimeout time.Duration `yaml:"presence_timeout"`

	// VoucherTTL is the redemption window for new vouchers
	VoucherTTL time.Duration `yaml:"voucher_ttl"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply environment overrides
	cfg.applyEnvOverrides()

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if apiKey := os.Getenv("PAYMENT_API_KEY"); apiKey != "" {
		c.Payment.APIKey = apiKey
	}

	if secret := os.Getenv("PAYMENT_WEBHOOK_SECRET"); secret != "" {
		c.Payment.WebhookSecret = secret
	}
}

func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "netflow-server"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 15 * time.Minute
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.Payment.Currency == "" {
		c.Payment.Currency = "TZS"
	}
	if c.Payment.Timeout == 0 {
		c.Payment.Timeout = 30 * time.Second
	}
	if c.Payment.PollInterval == 0 {
		c.Payment.PollInterval = 2 * time.Minute
	}
	if c.Payment.PollGrace == 0 {
		c.Payment.PollGrace = time.Minute
	}
	if c.Session.ReaperInterval == 0 {
		c.Session.ReaperInterval = time.Minute
	}
	if c.Session.PresenceTimeout == 0 {
		c.Session.PresenceTimeout = 10 * time.Second
	}
	if c.Session.VoucherTTL == 0 {
		c.Session.VoucherTTL = 30 * 24 * time.Hour
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver: %s", c.Database.Driver)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}

	return nil
}
