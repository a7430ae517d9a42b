package dispatch

import (
	"errors"
	"fmt"

	"github.com/vietddude/lingo/internal/core/domain"
	"github.com/vietddude/lingo/internal/dispatch/pool"
)

// ErrPoolExhausted is returned when a job stops because no credential is
// usable.
var ErrPoolExhausted = pool.ErrPoolExhausted

// errNoAlternative means every usable credential is excluded for a unit.
var errNoAlternative = errors.New("no other credential to fail over to")

// JobError reports why a job stopped before every unit settled.
type JobError struct {
	Condition domain.Condition
	Err       error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job stopped (%s): %v", e.Condition, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// ConditionOf extracts the job condition from an error returned by Run.
func ConditionOf(err error) domain.Condition {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Condition
	}
	return domain.ConditionNone
}
