package jobs

import (
	"errors"

	"github.com/vietddude/lingo/internal/dispatch"
	"github.com/vietddude/lingo/internal/infra/storage"
)

var (
	// ErrPoolExhausted is returned by SubmitJob when no credential can serve the job.
	ErrPoolExhausted = dispatch.ErrPoolExhausted

	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = storage.ErrJobNotFound

	// ErrJobNotFinished is returned by GetResult while a job is still running.
	ErrJobNotFinished = errors.New("job not finished")

	// ErrJobFinished is returned when cancelling a job that already ended.
	ErrJobFinished = errors.New("job already finished")

	// ErrInvalidRequest wraps submission validation failures.
	ErrInvalidRequest = errors.New("invalid job request")

	// ErrQueueFull is returned when the submission queue has no room.
	ErrQueueFull = errors.New("job queue is full")

	// ErrNotRunning is returned when submitting to a stopped manager.
	ErrNotRunning = errors.New("job manager is not running")
)
