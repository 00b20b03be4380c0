package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("status precondition failed")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAlreadyRefunded     = errors.New("credits already refunded")
	ErrNotCancellable      = errors.New("job not cancellable")
	ErrUnsupportedTool     = errors.New("unsupported tool type")
)

// ActiveJobError rejects a submission because the user already holds a queued
// or running job. It carries that job so the client can offer to cancel it.
type ActiveJobError struct {
	Job *Job
}

func (e *ActiveJobError) Error() string {
	return fmt.Sprintf("active job exists: %s (%s)", e.Job.ID, e.Job.Status)
}

// AsActiveJob unwraps err into an ActiveJobError if it is one.
func AsActiveJob(err error) (*ActiveJobError, bool) {
	var aj *ActiveJobError
	if errors.As(err, &aj) {
		return aj, true
	}
	return nil, false
}
