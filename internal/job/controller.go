package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/docforge/toolkit-client/internal/client"
	"github.com/docforge/toolkit-client/internal/events"
	"github.com/docforge/toolkit-client/internal/staging"
	"github.com/docforge/toolkit-client/internal/tool"
	"github.com/docforge/toolkit-client/pkg/metrics"
	"github.com/docforge/toolkit-client/pkg/requestid"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Submitter sends a job to the backend.
type Submitter interface {
	Submit(ctx context.Context, snap staging.Snapshot, socketID string) (*client.SubmitResponse, error)
}

// IDSource provides the push channel id to attach to submissions.
type IDSource interface {
	CurrentID() (string, bool)
}

// Journal records job transitions.
type Journal interface {
	Write(ctx context.Context, kind string, body io.Reader) error
}

type Observer func(j Job)

type Option func(c *Controller)

func WithJournal(j Journal) Option {
	return func(c *Controller) {
		c.journal = j
	}
}

type tracked struct {
	job        Job
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
	err        error
	secrets    map[string]bool
}

// Controller drives a single job at a time through
// Idle -> Staging -> Submitting -> InProgress -> Completed|Failed.
// Apply is called by the event router and the HTTP reply handler from
// different goroutines; both go through the same lock.
type Controller struct {
	store     *staging.Store
	submitter Submitter
	ids       IDSource
	journal   Journal

	lock       sync.Mutex
	state      State
	current    *tracked
	generation uint64
	observers  []Observer

	// notifyLock keeps observer calls in transition order.
	notifyLock sync.Mutex
}

func NewController(store *staging.Store, submitter Submitter, ids IDSource, opts ...Option) *Controller {
	c := &Controller{
		store:     store,
		submitter: submitter,
		ids:       ids,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Subscribe registers an observer. Observers run synchronously, in transition
// order, and must not call back into the Controller.
func (c *Controller) Subscribe(o Observer) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Controller) State() State {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

// Job returns the current job, ok is false when none was submitted since the
// last tool selection.
func (c *Controller) Job() (Job, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.current == nil {
		return Job{}, false
	}
	return c.current.job.clone(), true
}

// SelectTool switches the active tool. Staged input is cleared and any job in
// flight is abandoned.
func (c *Controller) SelectTool(d tool.Descriptor) {
	c.lock.Lock()
	c.abandon()
	c.store.SetTool(d)
	c.state = StateStaging
	c.lock.Unlock()
	zap.S().Named("job").Debugw("tool selected", "tool", d.ID)
}

// Close abandons any job in flight and returns to Idle. Cancellation is
// advisory: the backend may keep processing, but late replies and events are
// discarded.
func (c *Controller) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.abandon()
	c.store.Reset()
	c.state = StateIdle
}

func (c *Controller) abandon() {
	c.generation++
	if c.current == nil {
		return
	}
	c.current.cancel()
	if !c.current.job.State.IsTerminal() {
		c.current.err = ErrCancelled
		close(c.current.done)
		zap.S().Named("job").Infow("job abandoned", "id", c.current.job.ID, "tool", c.current.job.Tool)
	}
	c.current = nil
}

// Submit snapshots the staged input and sends it. It returns once the job is
// in Submitting; the reply is handled in the background.
func (c *Controller) Submit(ctx context.Context) (Job, error) {
	c.lock.Lock()
	if c.state.IsActive() {
		c.lock.Unlock()
		return Job{}, ErrJobActive
	}
	if c.state == StateIdle {
		c.lock.Unlock()
		return Job{}, ErrNotReady
	}
	snap, ok := c.store.Snapshot()
	if !ok {
		c.lock.Unlock()
		return Job{}, ErrNotReady
	}

	c.abandon()
	id := uuid.New()
	// the job id is sent as the request id so tagged events can be matched to it
	reqCtx, cancel := context.WithCancel(requestid.ToContext(ctx, id.String()))
	now := time.Now()
	t := &tracked{
		job: Job{
			ID:        id,
			Tool:      snap.Tool.ID,
			Params:    snap.Params,
			State:     StateSubmitting,
			CreatedAt: now,
			UpdatedAt: now,
		},
		generation: c.generation,
		cancel:     cancel,
		done:       make(chan struct{}),
		secrets:    map[string]bool{},
	}
	for _, f := range snap.Files {
		t.job.Files = append(t.job.Files, f.Name)
	}
	for _, f := range snap.Tool.Fields {
		if f.Kind == tool.FieldKindSecret {
			t.secrets[f.ID] = true
		}
	}
	c.current = t
	c.state = StateSubmitting
	j := t.job.clone()
	n := c.prepare(t)
	c.lock.Unlock()
	c.publish(n)

	socketID, connected := "", false
	if c.ids != nil {
		socketID, connected = c.ids.CurrentID()
	}
	if !connected {
		zap.S().Named("job").Warnw("submitting without push channel, progress will not be reported", "tool", snap.Tool.ID)
	}
	metrics.IncreaseJobsTotalMetric(snap.Tool.ID, StateSubmitting.String())
	zap.S().Named("job").Infow("job submitted", "id", j.ID, "tool", j.Tool, "files", len(j.Files), "socket_id", socketID)

	go c.send(reqCtx, t.generation, snap, socketID)
	return j, nil
}

func (c *Controller) send(ctx context.Context, generation uint64, snap staging.Snapshot, socketID string) {
	resp, err := c.submitter.Submit(ctx, snap, socketID)
	c.handleReply(generation, snap.Tool.ID, resp, err)
}

func (c *Controller) handleReply(generation uint64, toolID string, resp *client.SubmitResponse, err error) {
	c.update(generation, func(t *tracked) bool {
		j := &t.job
		switch {
		case err != nil, !resp.Success:
			if j.State == StateCompleted {
				return c.loseResult(j, err)
			}
			if j.State.IsTerminal() {
				return false
			}
			if err != nil {
				c.fail(t, &SubmissionError{Tool: toolID, Err: err})
				return true
			}
			msg := resp.Message
			if msg == "" {
				msg = "processing failed"
			}
			c.fail(t, &BackendProcessingError{Tool: toolID, Message: msg})
		default:
			if j.State == StateFailed {
				return false
			}
			if j.State == StateCompleted && (j.Result != nil || j.ResultMissing) {
				return false
			}
			if !resp.IsInline() && resp.Filename == "" {
				j.ResultMissing = true
			} else {
				j.Result = &Result{
					Filename:    resp.Filename,
					Content:     resp.Content,
					Disposition: resp.ContentDisposition,
				}
			}
			if j.State != StateCompleted {
				c.complete(t, "")
			}
		}
		return true
	})
}

// loseResult handles a failed reply for a job a completion event already
// finished without naming its artifact: nothing will ever name it now.
func (c *Controller) loseResult(j *Job, err error) bool {
	if j.Result != nil || j.ResultMissing {
		return false
	}
	j.ResultMissing = true
	zap.S().Named("job").Warnw("job completed but its result was not delivered", "id", j.ID, "tool", j.Tool, "error", err)
	return true
}

// Apply folds one push event into the current job. It returns false when the
// event was discarded.
func (c *Controller) Apply(ev events.Event) bool {
	c.lock.Lock()
	generation := c.generation
	c.lock.Unlock()

	return c.update(generation, func(t *tracked) bool {
		j := &t.job
		if !j.State.IsActive() {
			return false
		}
		if ev.RequestID != "" && ev.RequestID != j.ID.String() {
			zap.S().Named("job").Debugw("event for another job", "id", j.ID, "request_id", ev.RequestID, "kind", ev.Kind.String())
			return false
		}
		switch ev.Kind {
		case events.KindStatus:
			c.setState(j, StateInProgress)
			j.Status = ev.Status
		case events.KindProgress:
			c.setState(j, StateInProgress)
			if p := clampPercent(ev.Percent); p >= j.Percent {
				j.Percent = p
			}
			j.Message = ev.Message
		case events.KindSuccess:
			if ev.Filename != "" {
				j.Result = &Result{Filename: ev.Filename}
			}
			c.complete(t, ev.Status)
		case events.KindError:
			c.fail(t, &BackendProcessingError{Tool: j.Tool, Message: ev.Status})
		default:
			return false
		}
		return true
	})
}

// update runs fn on the current job when it still belongs to generation, then
// notifies observers if fn changed it.
func (c *Controller) update(generation uint64, fn func(t *tracked) bool) bool {
	c.lock.Lock()
	t := c.current
	if t == nil || t.generation != generation || c.generation != generation {
		c.lock.Unlock()
		return false
	}
	if !fn(t) {
		c.lock.Unlock()
		return false
	}
	t.job.UpdatedAt = time.Now()
	c.state = t.job.State
	n := c.prepare(t)
	c.lock.Unlock()
	c.publish(n)
	return true
}

func (c *Controller) setState(j *Job, s State) {
	if j.State != s {
		zap.S().Named("job").Debugw("job transition", "id", j.ID, "from", j.State.String(), "to", s.String())
	}
	j.State = s
}

func (c *Controller) complete(t *tracked, status string) {
	j := &t.job
	c.setState(j, StateCompleted)
	j.Percent = 100
	if status != "" {
		j.Status = status
	}
	close(t.done)
	metrics.IncreaseJobsTotalMetric(j.Tool, StateCompleted.String())
	zap.S().Named("job").Infow("job completed", "id", j.ID, "tool", j.Tool)
}

func (c *Controller) fail(t *tracked, err error) {
	j := &t.job
	c.setState(j, StateFailed)
	j.Err = err.Error()
	if bpe, ok := err.(*BackendProcessingError); ok {
		j.Err = bpe.Message
	}
	t.err = err
	close(t.done)
	metrics.IncreaseJobsTotalMetric(j.Tool, StateFailed.String())
	zap.S().Named("job").Warnw("job failed", "id", j.ID, "tool", j.Tool, "error", err)
}

type notification struct {
	job       Job
	observers []Observer
	secrets   map[string]bool
}

// prepare must be called with lock held. It also takes notifyLock, which
// publish releases, so notifications leave in the order transitions happen.
func (c *Controller) prepare(t *tracked) notification {
	n := notification{
		job:       t.job.clone(),
		observers: append([]Observer(nil), c.observers...),
		secrets:   t.secrets,
	}
	c.notifyLock.Lock()
	return n
}

func (c *Controller) publish(n notification) {
	defer c.notifyLock.Unlock()

	for _, o := range n.observers {
		o(n.job)
	}
	if c.journal != nil {
		c.record(n.job, n.secrets)
	}
}

type transition struct {
	ID      string            `json:"id"`
	Tool    string            `json:"tool"`
	State   string            `json:"state"`
	Percent float64           `json:"percent"`
	Status  string            `json:"status,omitempty"`
	Message string            `json:"message,omitempty"`
	Files   []string          `json:"files"`
	Params  map[string]string `json:"params,omitempty"`
	Result  string            `json:"result,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func (c *Controller) record(j Job, secrets map[string]bool) {
	tr := transition{
		ID:      j.ID.String(),
		Tool:    j.Tool,
		State:   j.State.String(),
		Percent: j.Percent,
		Status:  j.Status,
		Message: j.Message,
		Files:   j.Files,
		Params:  map[string]string{},
		Error:   j.Err,
	}
	for k, v := range j.Params {
		if secrets[k] {
			v = "***"
		}
		tr.Params[k] = v
	}
	if j.Result != nil {
		tr.Result = j.Result.Filename
		if j.Result.IsInline() {
			tr.Result = fmt.Sprintf("inline (%d bytes)", len(j.Result.Content))
		}
	}
	data, err := json.Marshal(tr)
	if err != nil {
		return
	}
	if err := c.journal.Write(context.TODO(), events.JobTransitionKind, bytes.NewReader(data)); err != nil {
		zap.S().Named("job").Debugw("failed to journal transition", "error", err)
	}
}

// Wait blocks until the current job is terminal, abandoned, or ctx is done.
// The returned error is the job's failure, if any.
func (c *Controller) Wait(ctx context.Context) (Job, error) {
	c.lock.Lock()
	t := c.current
	c.lock.Unlock()
	if t == nil {
		return Job{}, ErrNotReady
	}

	select {
	case <-t.done:
	case <-ctx.Done():
		c.lock.Lock()
		defer c.lock.Unlock()
		return t.job.clone(), ctx.Err()
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	return t.job.clone(), t.err
}

func clampPercent(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	return math.Max(0, math.Min(100, p))
}
