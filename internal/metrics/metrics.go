package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderCallsTotal tracks provider calls per credential and outcome class
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lingo_provider_calls_total",
			Help: "Total number of provider calls",
		},
		[]string{"credential", "class"},
	)

	// ProviderLatency tracks provider call latency
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lingo_provider_latency_seconds",
			Help:    "Provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"credential"},
	)

	// CredentialCooldowns tracks how often a credential was rested
	CredentialCooldowns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lingo_credential_cooldowns_total",
			Help: "Total number of credential cooldowns",
		},
		[]string{"credential"},
	)

	// CredentialUsedToday mirrors the daily usage counter of each credential
	CredentialUsedToday = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lingo_credential_used_today",
			Help: "Requests issued today per credential",
		},
		[]string{"credential"},
	)

	// CredentialsUsable is the number of credentials that can currently be acquired
	CredentialsUsable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lingo_credentials_usable",
			Help: "Number of credentials that are not exhausted or disabled",
		},
	)

	// UnitsTotal tracks finished units per final status
	UnitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lingo_units_total",
			Help: "Total number of finished units",
		},
		[]string{"status"},
	)

	// UnitAttempts tracks the number of calls a unit needed
	UnitAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lingo_unit_attempts",
			Help:    "Provider calls spent per unit",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12},
		},
	)

	// JobsTotal tracks finished jobs per final status
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lingo_jobs_total",
			Help: "Total number of finished jobs",
		},
		[]string{"status"},
	)

	// JobsRunning is the number of jobs currently dispatching
	JobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lingo_jobs_running",
			Help: "Number of jobs currently dispatching",
		},
	)

	// RateLimitWait tracks time spent waiting for a sliding window slot
	RateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lingo_rate_limit_wait_seconds",
			Help:    "Time spent waiting on the per-credential request window",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
		},
		[]string{"credential"},
	)

	// DBConnectionPoolUsage tracks the percentage of open database connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lingo_db_connection_pool_usage_percent",
			Help: "Open database connections as a percentage of the maximum",
		},
	)

	// DBWaitDuration accumulates time spent waiting for a free connection
	DBWaitDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lingo_db_wait_seconds_total",
			Help: "Total time blocked waiting for a database connection",
		},
	)
)
