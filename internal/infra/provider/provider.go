// Package provider implements translation provider adapters.
//
// This package contains:
//   - Translator interface: one call against one credential
//   - OpenAI: chat completions over HTTP (OpenRouter, DeepSeek and other compatible APIs)
//   - Mock: scripted or echo adapter for dry runs and tests
//   - Router: picks the adapter by the credential's provider name
package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/lingo/internal/core/domain"
)

// Translator performs one translation call. Failures are reported in the
// outcome, never as a Go error, so the caller can classify them.
type Translator interface {
	Translate(ctx context.Context, cred domain.Credential, unit domain.Unit, style domain.Style) domain.RawOutcome
}

// Config describes one configured provider.
type Config struct {
	Name        string            `yaml:"name"`
	Type        string            `yaml:"type"` // openai, mock
	BaseURL     string            `yaml:"base_url"`
	Model       string            `yaml:"model"`
	MaxTokens   int               `yaml:"max_tokens"`
	Temperature float64           `yaml:"temperature"`
	Timeout     time.Duration     `yaml:"timeout"`
	Headers     map[string]string `yaml:"headers"`
}

const (
	TypeOpenAI = "openai"
	TypeMock   = "mock"
)

// NewTranslator builds the adapter for cfg.Type.
func NewTranslator(cfg Config) (Translator, error) {
	switch cfg.Type {
	case TypeOpenAI, "":
		return NewOpenAI(cfg), nil
	case TypeMock:
		return NewEcho(), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// HealthStatus represents the observed health of a provider.
type HealthStatus struct {
	Available     bool          `json:"available"`
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"error_rate"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	LastFailureAt time.Time     `json:"last_failure_at"`
	Requests      int           `json:"requests"`
}

// healthTracker accumulates call statistics for an adapter.
type healthTracker struct {
	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration
	successCount int
	failureCount int
}

func newHealthTracker() *healthTracker {
	return &healthTracker{health: HealthStatus{Available: true}}
}

// Health returns the current health snapshot.
func (h *healthTracker) Health() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.health
}

func (h *healthTracker) recordSuccess(latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.successCount++
	h.health.Requests++
	h.totalLatency += latency
	h.health.LastSuccessAt = time.Now()
	h.health.Available = true
	h.health.ErrorRate = float64(h.failureCount) / float64(h.health.Requests)
	h.health.Latency = h.totalLatency / time.Duration(h.successCount)
}

func (h *healthTracker) recordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.failureCount++
	h.health.Requests++
	h.health.LastFailureAt = time.Now()
	h.health.ErrorRate = float64(h.failureCount) / float64(h.health.Requests)

	if h.health.ErrorRate > 0.5 {
		h.health.Available = false
	}
}
