package job

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

type State int

const (
	StateIdle State = iota
	StateStaging
	StateSubmitting
	StateInProgress
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStaging:
		return "staging"
	case StateSubmitting:
		return "submitting"
	case StateInProgress:
		return "in-progress"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsActive reports whether a job in this state is waiting on the backend.
func (s State) IsActive() bool {
	return s == StateSubmitting || s == StateInProgress
}

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Result locates the artifact of a completed job. When Content is set the
// artifact came back inline and Disposition is the raw Content-Disposition
// header; otherwise Filename names it on the backend's download endpoint.
type Result struct {
	Filename    string
	Content     []byte
	Disposition string
}

func (r *Result) IsInline() bool {
	return r != nil && r.Content != nil
}

// Job is an immutable snapshot of a submission. Controllers hand out copies.
type Job struct {
	ID      uuid.UUID
	Tool    string
	Files   []string
	Params  map[string]string
	State   State
	Percent float64
	Status  string
	Message string
	Result  *Result
	// ResultMissing is set on a completed job whose artifact will never be
	// named: the backend reported success but its reply carried no result.
	ResultMissing bool
	Err           string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (j Job) clone() Job {
	c := j
	c.Files = slices.Clone(j.Files)
	c.Params = maps.Clone(j.Params)
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	return c
}
