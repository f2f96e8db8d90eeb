package internal

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"http_server"`
	Database DatabaseConfig `mapstructure:"database"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

type SecurityConfig struct {
	// RiderTokenSecret verifies bearer tokens minted by the identity
	// service. This service only reads the rider id claim, it never
	// issues tokens.
	RiderTokenSecret string `mapstructure:"rider_token_secret"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GatewayConfig holds payment gateway connectivity and webhook
// verification settings. WebhookSecret is the shared secret the
// gateway signs callbacks with.
type GatewayConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	KeyID          string        `mapstructure:"key_id"`
	WebhookSecret  string        `mapstructure:"webhook_secret"`
	WebhookURL     string        `mapstructure:"webhook_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxWorkers     int           `mapstructure:"max_workers"`
	JobQueueSize   int           `mapstructure:"job_queue_size"`
	WorkerPoolSize int           `mapstructure:"worker_pool_size"`
}

// WalletConfig bounds order amounts and caps the optimistic-apply
// retry loop before a conflict is surfaced to the caller.
type WalletConfig struct {
	Currency        string `mapstructure:"currency"`
	MinAmount       int64  `mapstructure:"min_amount"`
	MaxAmount       int64  `mapstructure:"max_amount"`
	ApplyMaxRetries int    `mapstructure:"apply_max_retries"`
}

type SweeperConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	BatchSize  int           `mapstructure:"batch_size"`
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Gateway.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("gateway config: %v", err))
	}

	if err := c.Wallet.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("wallet config: %v", err))
	}

	if err := c.Sweeper.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("sweeper config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *GatewayConfig) Validate() error {
	if c.WebhookSecret == "" {
		return errors.New("webhook_secret is required")
	}
	// empty base_url means simulator mode, which posts callbacks itself
	if c.BaseURL == "" && c.WebhookURL == "" {
		return errors.New("webhook_url is required in simulator mode")
	}
	return nil
}

func (c *WalletConfig) Validate() error {
	if c.MinAmount < 1 {
		return errors.New("min_amount must be at least 1")
	}
	if c.MaxAmount < c.MinAmount {
		return errors.New("max_amount must be >= min_amount")
	}
	if c.ApplyMaxRetries < 1 {
		return errors.New("apply_max_retries must be at least 1")
	}
	return nil
}

func (c *SweeperConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Interval <= 0 {
		return errors.New("interval must be positive when sweeper is enabled")
	}
	if c.StaleAfter <= 0 {
		return errors.New("stale_after must be positive when sweeper is enabled")
	}
	return nil
}
