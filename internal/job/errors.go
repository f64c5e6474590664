package job

import (
	"errors"
	"fmt"
)

var (
	ErrNotReady  = errors.New("no tool selected or staged input is incomplete")
	ErrJobActive = errors.New("a job is already in progress")
	ErrCancelled = errors.New("job was cancelled")
)

// SubmissionError means the job request could not be delivered or the backend
// rejected it at the HTTP level.
type SubmissionError struct {
	Tool string
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submitting %s job: %v", e.Tool, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// BackendProcessingError is a failure reported by the backend while processing,
// either in the synchronous reply or through a processing_error event.
type BackendProcessingError struct {
	Tool    string
	Message string
}

func (e *BackendProcessingError) Error() string {
	return fmt.Sprintf("%s job failed: %s", e.Tool, e.Message)
}
