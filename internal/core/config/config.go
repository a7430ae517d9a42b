package config

import (
	"time"

	"github.com/vietddude/lingo/internal/core/domain"
	"github.com/vietddude/lingo/internal/infra/provider"
	redisclient "github.com/vietddude/lingo/internal/infra/redis"
	"github.com/vietddude/lingo/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig                  `yaml:"server"`
	Logging     LoggingConfig                 `yaml:"logging"`
	Redis       redisclient.Config            `yaml:"redis"`
	Database    postgres.Config               `yaml:"database"`
	State       StateConfig                   `yaml:"state"`
	Dispatch    DispatchConfig                `yaml:"dispatch"`
	Retry       RetryConfig                   `yaml:"retry"`
	Chunking    ChunkingConfig                `yaml:"chunking"`
	Providers   []ProviderConfig              `yaml:"providers"`
	Credentials []domain.CredentialDescriptor `yaml:"credentials"`
	Jobs        JobsConfig                    `yaml:"jobs"`
	Worker      WorkerConfig                  `yaml:"worker"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// AdminKeyHash is a bcrypt hash of the key guarding credential routes.
	AdminKeyHash string  `yaml:"admin_key_hash"`
	SubmitRPS    float64 `yaml:"submit_rps"`
	SubmitBurst  int     `yaml:"submit_burst"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// StateConfig selects where credential usage is persisted.
type StateConfig struct {
	Driver       string        `yaml:"driver"` // memory, sqlite, postgres, redis
	Path         string        `yaml:"path"`   // sqlite file
	SaveInterval time.Duration `yaml:"save_interval"`
	ResetZone    string        `yaml:"reset_zone"` // IANA zone whose midnight resets daily quotas
}

// DispatchConfig holds dispatcher timing and concurrency.
type DispatchConfig struct {
	Mode           domain.DispatchMode `yaml:"mode"`
	Concurrency    int                 `yaml:"concurrency"`
	InterUnitDelay time.Duration       `yaml:"inter_unit_delay"`
	CallTimeout    time.Duration       `yaml:"call_timeout"`
	JobTimeout     time.Duration       `yaml:"job_timeout"` // 0 = none
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxSameCredentialAttempts  int           `yaml:"max_same_credential_attempts"`
	MaxCrossCredentialAttempts int           `yaml:"max_cross_credential_attempts"`
	CrossCredential            *bool         `yaml:"cross_credential"`
	InitialBackoff             time.Duration `yaml:"initial_backoff"`
	MaxBackoff                 time.Duration `yaml:"max_backoff"`
	Multiplier                 float64       `yaml:"multiplier"`
	Cooldown                   time.Duration `yaml:"cooldown"`
}

// ChunkingConfig holds unit sizes, counted in characters.
type ChunkingConfig struct {
	DirectSendThreshold int `yaml:"direct_send_threshold"`
	MaxSize             int `yaml:"max_size"`
	LookBack            int `yaml:"look_back"`
	SubtitleBatch       int `yaml:"subtitle_batch"` // lines per subtitle unit
	ContextOverlap      int `yaml:"context_overlap"`
}

// ProviderConfig holds settings for a translation endpoint.
type ProviderConfig = provider.Config

// JobsConfig holds job runner settings.
type JobsConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	InterJobDelay time.Duration `yaml:"inter_job_delay"`
	Retention     time.Duration `yaml:"retention"` // 0 = keep forever
	QueueSize     int           `yaml:"queue_size"`
}

// WorkerConfig holds distributed worker settings.
type WorkerConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Count      int           `yaml:"count"`
	Queue      string        `yaml:"queue"`
	ResultTTL  time.Duration `yaml:"result_ttl"`
	EmptySleep time.Duration `yaml:"empty_sleep"`
}
