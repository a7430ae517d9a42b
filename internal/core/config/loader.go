package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/lingo/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, expanding environment variables first so secrets
// can stay out of the file.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.SubmitRPS == 0 {
		cfg.Server.SubmitRPS = 5
	}
	if cfg.Server.SubmitBurst == 0 {
		cfg.Server.SubmitBurst = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.State.Driver == "" {
		cfg.State.Driver = "memory"
	}
	if cfg.State.Path == "" {
		cfg.State.Path = "lingo.db"
	}
	if cfg.State.SaveInterval == 0 {
		cfg.State.SaveInterval = 30 * time.Second
	}

	if cfg.Dispatch.Mode == "" {
		cfg.Dispatch.Mode = domain.ModeParallel
	}
	if cfg.Dispatch.Concurrency == 0 {
		cfg.Dispatch.Concurrency = 4
	}
	if cfg.Dispatch.CallTimeout == 0 {
		cfg.Dispatch.CallTimeout = 2 * time.Minute
	}

	if cfg.Retry.MaxSameCredentialAttempts == 0 {
		cfg.Retry.MaxSameCredentialAttempts = 3
	}
	if cfg.Retry.MaxCrossCredentialAttempts == 0 {
		cfg.Retry.MaxCrossCredentialAttempts = 2
	}
	if cfg.Retry.CrossCredential == nil {
		enabled := true
		cfg.Retry.CrossCredential = &enabled
	}
	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry.InitialBackoff = time.Second
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry.MaxBackoff = 30 * time.Second
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2.0
	}
	if cfg.Retry.Cooldown == 0 {
		cfg.Retry.Cooldown = 60 * time.Second
	}

	if cfg.Chunking.DirectSendThreshold == 0 {
		cfg.Chunking.DirectSendThreshold = 3000
	}
	if cfg.Chunking.MaxSize == 0 {
		cfg.Chunking.MaxSize = 2000
	}
	if cfg.Chunking.LookBack == 0 {
		cfg.Chunking.LookBack = 500
	}
	if cfg.Chunking.SubtitleBatch == 0 {
		cfg.Chunking.SubtitleBatch = 40
	}

	for i := range cfg.Providers {
		if cfg.Providers[i].Type == "" {
			cfg.Providers[i].Type = "openai"
		}
	}

	if cfg.Jobs.MaxConcurrent == 0 {
		cfg.Jobs.MaxConcurrent = 2
	}
	if cfg.Jobs.QueueSize == 0 {
		cfg.Jobs.QueueSize = 100
	}

	if cfg.Worker.Count == 0 {
		cfg.Worker.Count = 1
	}
	if cfg.Worker.Queue == "" {
		cfg.Worker.Queue = "lingo:jobs"
	}
	if cfg.Worker.ResultTTL == 0 {
		cfg.Worker.ResultTTL = 24 * time.Hour
	}
	if cfg.Worker.EmptySleep == 0 {
		cfg.Worker.EmptySleep = 5 * time.Second
	}
}

// Validate checks cross-field constraints.
func (c *AppConfig) Validate() error {
	switch c.Dispatch.Mode {
	case domain.ModeIsolation, domain.ModeParallel:
	default:
		return fmt.Errorf("invalid dispatch mode %q", c.Dispatch.Mode)
	}

	switch c.State.Driver {
	case "memory", "sqlite", "postgres", "redis":
	default:
		return fmt.Errorf("invalid state driver %q", c.State.Driver)
	}
	if c.State.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("state driver postgres requires database.url")
	}
	if c.State.Driver == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("state driver redis requires redis.url")
	}
	if c.State.ResetZone != "" {
		if _, err := time.LoadLocation(c.State.ResetZone); err != nil {
			return fmt.Errorf("invalid reset zone: %w", err)
		}
	}

	providers := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider without name")
		}
		providers[p.Name] = true
	}

	seen := make(map[string]bool, len(c.Credentials))
	for _, cred := range c.Credentials {
		if cred.ID == "" {
			return fmt.Errorf("credential without id")
		}
		if seen[cred.ID] {
			return fmt.Errorf("duplicate credential id %q", cred.ID)
		}
		seen[cred.ID] = true
		if !providers[cred.Provider] {
			return fmt.Errorf("credential %q references unknown provider %q", cred.ID, cred.Provider)
		}
	}

	if c.Chunking.MaxSize > c.Chunking.DirectSendThreshold {
		return fmt.Errorf("chunking.max_size (%d) exceeds direct_send_threshold (%d)",
			c.Chunking.MaxSize, c.Chunking.DirectSendThreshold)
	}
	return nil
}

// ResetLocation returns the zone whose midnight resets daily quotas.
func (c *AppConfig) ResetLocation() *time.Location {
	if c.State.ResetZone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.State.ResetZone)
	if err != nil {
		return time.Local
	}
	return loc
}
