package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	DatabasePath string `env:"DATABASE_PATH" envDefault:"data/anyrouter.db"`
	SeedFile     string `env:"SEED_FILE" envDefault:"configs/accounts.yaml"`

	BaseURL           string        `env:"ANYROUTER_BASE_URL" envDefault:"https://anyrouter.top"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"300s"`
	PrimingTimeout    time.Duration `env:"PRIMING_TIMEOUT" envDefault:"10s"`
	ChallengeDelay    time.Duration `env:"CHALLENGE_DELAY" envDefault:"2s"`
	SignRetryTimes    int           `env:"SIGN_RETRY_TIMES" envDefault:"3"`
	SignRetryInterval time.Duration `env:"SIGN_RETRY_INTERVAL" envDefault:"3s"`
	TransportRetries  int           `env:"TRANSPORT_RETRIES" envDefault:"3"`
	TransportBackoff  time.Duration `env:"TRANSPORT_BACKOFF" envDefault:"1s"`
	RequestsPerSecond float64       `env:"REQUESTS_PER_SECOND" envDefault:"2"`
	QuotaRate         int64         `env:"QUOTA_RATE" envDefault:"500000"`
	ProxyURL          string        `env:"PROXY_URL"`

	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
	TimeZone     string        `env:"TZ_NAME" envDefault:"Local"`
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`

	RedisURL    string `env:"REDIS_URL"`
	EventsTopic string `env:"EVENTS_TOPIC" envDefault:"anyrouter.sign.outcome"`

	ConsoleUI bool `env:"CONSOLE_UI" envDefault:"true"`

	LogPath       string `env:"LOG_PATH" envDefault:"logs/app.log"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT" envDefault:"text"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"10"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"30"`
	LogMaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"30"`
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse reads the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config from environment: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return cfg, nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid ANYROUTER_BASE_URL: %q", c.BaseURL)
	}
	if c.ProxyURL != "" {
		if _, err := url.Parse(c.ProxyURL); err != nil {
			return fmt.Errorf("invalid PROXY_URL: %w", err)
		}
	}
	if c.RequestTimeout <= 0 || c.PrimingTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT and PRIMING_TIMEOUT must be positive")
	}
	if c.SignRetryTimes < 1 {
		return fmt.Errorf("SIGN_RETRY_TIMES must be at least 1, got %d", c.SignRetryTimes)
	}
	if c.TransportRetries < 0 {
		return fmt.Errorf("TRANSPORT_RETRIES must not be negative, got %d", c.TransportRetries)
	}
	if c.QuotaRate <= 0 {
		return fmt.Errorf("QUOTA_RATE must be positive, got %d", c.QuotaRate)
	}
	if c.PollInterval <= 0 {
		return errors.New("POLL_INTERVAL must be positive")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid LOG_FORMAT %q (text or json)", c.LogFormat)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// HTTPEnabled is false when HTTP_ADDR is "off".
func (c Config) HTTPEnabled() bool {
	addr := strings.TrimSpace(c.HTTPAddr)
	return addr != "" && addr != "off"
}

// Location resolves TZ_NAME; "Local" and empty mean the host zone.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.TimeZone)
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid TZ_NAME %q: %w", name, err)
	}
	return loc, nil
}
