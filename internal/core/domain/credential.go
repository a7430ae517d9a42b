package domain

import "time"

// CredentialState is the availability state of a credential in the pool.
type CredentialState string

const (
	CredentialAvailable CredentialState = "available"
	CredentialExhausted CredentialState = "exhausted"
	CredentialCooldown  CredentialState = "cooldown"
	CredentialDisabled  CredentialState = "disabled"
)

// CredentialDescriptor is what an operator registers with the pool.
type CredentialDescriptor struct {
	ID         string `json:"id" yaml:"id"`
	Provider   string `json:"provider" yaml:"provider"`
	Secret     string `json:"secret,omitempty" yaml:"secret"`
	RPM        int    `json:"rpm" yaml:"rpm"`
	RPD        int    `json:"rpd" yaml:"rpd"`
	TotalLimit int64  `json:"total_limit" yaml:"total_limit"`
}

// Credential is one API key with its quotas and live usage.
type Credential struct {
	ID         string
	Provider   string
	Secret     string
	RPM        int
	RPD        int
	TotalLimit int64

	UsedToday     int
	UsedTotal     int64
	State         CredentialState
	CooldownUntil time.Time
	LastUsedAt    time.Time
}

// CredentialStats is the admin view of a credential. It never carries the secret.
type CredentialStats struct {
	ID            string          `json:"id"`
	Provider      string          `json:"provider"`
	State         CredentialState `json:"state"`
	RPM           int             `json:"rpm"`
	RPD           int             `json:"rpd"`
	TotalLimit    int64           `json:"total_limit"`
	UsedToday     int             `json:"used_today"`
	UsedTotal     int64           `json:"used_total"`
	CooldownUntil time.Time       `json:"cooldown_until,omitempty"`
	LastUsedAt    time.Time       `json:"last_used_at,omitempty"`
	WindowFree    int             `json:"window_free"`
}

// CredentialUsage is the persisted part of a credential's state.
type CredentialUsage struct {
	ID            string          `json:"id" db:"id"`
	UsedToday     int             `json:"used_today" db:"used_today"`
	UsedTotal     int64           `json:"used_total" db:"used_total"`
	Disabled      bool            `json:"disabled" db:"disabled"`
	Exhausted     bool            `json:"exhausted" db:"exhausted"`
	CooldownUntil time.Time       `json:"cooldown_until" db:"cooldown_until"`
	LastUsedAt    time.Time       `json:"last_used_at" db:"last_used_at"`
	ResetAt       time.Time       `json:"reset_at" db:"reset_at"`
	State         CredentialState `json:"state" db:"-"`
}
