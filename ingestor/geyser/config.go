package geyser

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	swapdecoder "github.com/piotrostr/listen-engine/ingestor/decoder"
)

// Config holds Geyser client configuration
type Config struct {
	// Endpoint is the Geyser gRPC endpoint (e.g., "grpc.chainstack.com:443")
	Endpoint string `yaml:"endpoint"`

	// APIKey is the authentication key for the Geyser endpoint
	APIKey string `yaml:"api_key"`

	// Commitment selects the subscription commitment level:
	// processed | confirmed | finalized. Lower levels trade finality for
	// latency.
	Commitment string `yaml:"commitment"`

	// ProgramFilters maps friendly names to tracked AMM program IDs
	ProgramFilters map[string]string `yaml:"program_filters"`
}

// LoadConfig loads configuration from environment variables and an optional
// programs.yaml. Without a programs file the built-in tracked program set is
// used.
func LoadConfig(programsYAMLPath string) (*Config, error) {
	cfg := &Config{
		Endpoint:       os.Getenv("GEYSER_ENDPOINT"),
		APIKey:         os.Getenv("GEYSER_API_KEY"),
		Commitment:     os.Getenv("GEYSER_COMMITMENT"),
		ProgramFilters: make(map[string]string),
	}
	if cfg.Commitment == "" {
		cfg.Commitment = "confirmed"
	}

	if programsYAMLPath != "" {
		filters, err := loadProgramFilters(programsYAMLPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load program filters: %w", err)
		}
		cfg.ProgramFilters = filters
	}

	if len(cfg.ProgramFilters) == 0 {
		for _, programID := range swapdecoder.TrackedPrograms() {
			cfg.ProgramFilters[programID[:8]] = programID
		}
	}

	return cfg, nil
}

// loadProgramFilters reads program IDs from a YAML file
func loadProgramFilters(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read programs file: %w", err)
	}

	var config struct {
		Programs map[string]string `yaml:"programs"`
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse programs YAML: %w", err)
	}

	return config.Programs, nil
}

// Validate checks that required configuration fields are set
func (c *Config) Validate() error {
	var errs []string

	if c.Endpoint == "" {
		errs = append(errs, "GEYSER_ENDPOINT is required")
	}
	if c.APIKey == "" {
		errs = append(errs, "GEYSER_API_KEY is required")
	}

	switch c.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		errs = append(errs, fmt.Sprintf("invalid commitment level %q", c.Commitment))
	}

	if len(c.ProgramFilters) == 0 {
		errs = append(errs, "at least one program filter is required")
	}
	for name, programID := range c.ProgramFilters {
		if programID == "" {
			errs = append(errs, fmt.Sprintf("program filter '%s' has empty program ID", name))
		} else if len(programID) < 32 || len(programID) > 44 {
			errs = append(errs, fmt.Sprintf("program filter '%s' has invalid program ID length: %s", name, programID))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a sanitized string representation of the config
func (c *Config) String() string {
	maskedKey := c.APIKey
	if len(maskedKey) > 8 {
		maskedKey = maskedKey[:4] + "****" + maskedKey[len(maskedKey)-4:]
	} else if maskedKey != "" {
		maskedKey = "****"
	}

	var programs []string
	for name, id := range c.ProgramFilters {
		programs = append(programs, fmt.Sprintf("%s=%s", name, id))
	}

	return fmt.Sprintf("Config{Endpoint=%s, APIKey=%s, Commitment=%s, Programs=[%s]}",
		c.Endpoint, maskedKey, c.Commitment, strings.Join(programs, ", "))
}
