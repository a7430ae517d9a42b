package domain

import "time"

// JobStatus is the lifecycle state of a translation job.
type JobStatus string

const (
	JobPending           JobStatus = "pending"
	JobDispatching       JobStatus = "dispatching"
	JobPartiallyComplete JobStatus = "partially_complete"
	JobComplete          JobStatus = "complete"
	JobFailed            JobStatus = "failed"
	JobCancelled         JobStatus = "cancelled"
)

// Terminal reports whether no further progress can happen.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobPartiallyComplete, JobComplete, JobFailed, JobCancelled:
		return true
	}
	return false
}

// DispatchMode selects how units of a job are scheduled.
type DispatchMode string

const (
	ModeIsolation DispatchMode = "isolation"
	ModeParallel  DispatchMode = "parallel"
)

// Format describes the shape of the submitted payload.
type Format string

const (
	FormatText     Format = "text"
	FormatSubtitle Format = "srt"
	FormatLines    Format = "lines"
)

// Style holds the per-job translation parameters. They are fixed for
// the lifetime of the job, retries included.
type Style struct {
	SourceLanguage string            `json:"source_language,omitempty"`
	TargetLanguage string            `json:"target_language"`
	Tone           string            `json:"tone,omitempty"`
	Instructions   string            `json:"instructions,omitempty"`
	Glossary       map[string]string `json:"glossary,omitempty"`
	Model          string            `json:"model,omitempty"`
	Temperature    float64           `json:"temperature,omitempty"`
	ContextOverlap int               `json:"context_overlap,omitempty"`
}

// Job is a submitted translation request.
type Job struct {
	ID          string       `json:"id"`
	Format      Format       `json:"format"`
	Mode        DispatchMode `json:"mode"`
	Style       Style        `json:"style"`
	Units       []Unit       `json:"units"`
	Status      JobStatus    `json:"status"`
	SubmittedAt time.Time    `json:"submitted_at"`
	StartedAt   time.Time    `json:"started_at,omitempty"`
	FinishedAt  time.Time    `json:"finished_at,omitempty"`
}

// JobHandle is returned by a successful submission.
type JobHandle struct {
	ID     string    `json:"id"`
	Units  int       `json:"units"`
	Status JobStatus `json:"status"`
}

// Progress is a point-in-time count of settled units.
type Progress struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	InFlight  int       `json:"in_flight"`
	Retrying  int       `json:"retrying"`
}

// JobSummary is the listing view of a job.
type JobSummary struct {
	ID             string       `json:"id" db:"id"`
	Status         JobStatus    `json:"status" db:"status"`
	Mode           DispatchMode `json:"mode" db:"mode"`
	Format         Format       `json:"format" db:"format"`
	TargetLanguage string       `json:"target_language" db:"target_language"`
	Total          int          `json:"total" db:"total"`
	Succeeded      int          `json:"succeeded" db:"succeeded"`
	Failed         int          `json:"failed" db:"failed"`
	Condition      Condition    `json:"condition,omitempty" db:"stop_condition"`
	SubmittedAt    time.Time    `json:"submitted_at" db:"submitted_at"`
	FinishedAt     *time.Time   `json:"finished_at,omitempty" db:"finished_at"`
}
