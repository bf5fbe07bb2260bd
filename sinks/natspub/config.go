package natspub

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	defaultSubject        = "price_updates"
	defaultPublishTimeout = 5 * time.Second

	envNATSURL        = "NATS_URL"
	envNATSSubject    = "NATS_SUBJECT"
	envPublishTimeout = "NATS_PUBLISH_TIMEOUT_MS"
)

// Config captures the runtime parameters for the price publisher.
type Config struct {
	URL            string
	Subject        string
	PublishTimeout time.Duration
}

// DefaultConfig initialises Config with defaults for optional fields.
func DefaultConfig() Config {
	return Config{
		Subject:        defaultSubject,
		PublishTimeout: defaultPublishTimeout,
	}
}

// Validate ensures required fields are populated and durations are sane.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("NATS URL is required")
	}
	if c.Subject == "" {
		return fmt.Errorf("subject cannot be empty")
	}
	if c.PublishTimeout <= 0 {
		return fmt.Errorf("publish timeout must be positive")
	}
	return nil
}

// FromEnv constructs a Config from environment variables.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	if v := os.Getenv(envNATSURL); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv(envNATSSubject); v != "" {
		cfg.Subject = v
	}
	if v := os.Getenv(envPublishTimeout); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envPublishTimeout, err)
		}
		cfg.PublishTimeout = time.Duration(ms) * time.Millisecond
	}
	return cfg, cfg.Validate()
}
