package domain

import (
	"strings"
	"time"
)

// Condition is a job-level reason for stopping before every unit settled.
type Condition string

const (
	ConditionNone          Condition = ""
	ConditionPoolExhausted Condition = "pool_exhausted"
	ConditionCancelled     Condition = "cancelled"
	ConditionTimedOut      Condition = "timed_out"
)

// FailedUnit identifies a unit that did not translate.
type FailedUnit struct {
	Index   int        `json:"index"`
	Class   ErrorClass `json:"class"`
	Reason  string     `json:"reason"`
	Payload string     `json:"payload"`
}

// Result is the aggregated outcome of a job.
type Result struct {
	JobID        string        `json:"job_id"`
	Status       JobStatus     `json:"status"`
	Condition    Condition     `json:"condition,omitempty"`
	Output       string        `json:"output"`
	Units        []UnitOutcome `json:"units"`
	Failed       []FailedUnit  `json:"failed,omitempty"`
	NotAttempted []int         `json:"not_attempted,omitempty"`
	Total        int           `json:"total"`
	Succeeded    int           `json:"succeeded"`
	FinishedAt   time.Time     `json:"finished_at"`

	separators []string
	payloads   []string
}

// WithSource attaches the original payloads and separators so the result
// can be reassembled with fallbacks.
func (r *Result) WithSource(units []Unit) {
	r.separators = make([]string, len(units))
	r.payloads = make([]string, len(units))
	for _, u := range units {
		if u.Index >= 0 && u.Index < len(units) {
			r.separators[u.Index] = u.Separator
			r.payloads[u.Index] = u.Payload
		}
	}
}

// OutputWithFallback reassembles every unit in order, substituting the
// original payload for units that did not succeed.
func (r Result) OutputWithFallback() string {
	if len(r.payloads) == 0 {
		return r.Output
	}
	var b strings.Builder
	for i, u := range r.Units {
		if u.Status == UnitSucceeded {
			b.WriteString(u.Text)
		} else {
			b.WriteString(r.payloads[i])
		}
		b.WriteString(r.separators[i])
	}
	return b.String()
}
