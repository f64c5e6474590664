package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/docforge/toolkit-client/internal/client"
	"github.com/docforge/toolkit-client/internal/connection"
	"github.com/docforge/toolkit-client/internal/events"
	"github.com/docforge/toolkit-client/internal/job"
	"github.com/docforge/toolkit-client/internal/result"
	"github.com/docforge/toolkit-client/internal/staging"
	"github.com/docforge/toolkit-client/internal/tool"
	"go.uber.org/zap"
)

// DefaultResultGrace bounds how long Wait waits for the HTTP reply when the
// completion event named no file.
const DefaultResultGrace = 30 * time.Second

// Outcome is what Wait returns for a finished job.
type Outcome struct {
	Job   job.Job
	Saved *result.Saved
}

type Option func(s *Session)

func WithRegistry(r *tool.Registry) Option {
	return func(s *Session) {
		s.registry = r
	}
}

func WithSaver(saver result.Saver) Option {
	return func(s *Session) {
		s.saver = saver
	}
}

// WithAutoDownload makes Wait retrieve the artifact of a completed job.
func WithAutoDownload(enabled bool) Option {
	return func(s *Session) {
		s.autoDownload = enabled
	}
}

// WithJournal publishes job transitions and connectivity changes to w.
func WithJournal(w events.Writer) Option {
	return func(s *Session) {
		s.journalWriter = w
	}
}

func WithTransports(t ...connection.Transport) Option {
	return func(s *Session) {
		s.transports = t
	}
}

func WithConnectionOptions(opts ...connection.Option) Option {
	return func(s *Session) {
		s.connOpts = append(s.connOpts, opts...)
	}
}

func WithNoticeTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.noticeTimeout = d
	}
}

// WithNoticeHandler is called with the visible notices whenever they change.
func WithNoticeHandler(h func(active []Notice)) Option {
	return func(s *Session) {
		s.onNotice = h
	}
}

func WithResultGrace(d time.Duration) Option {
	return func(s *Session) {
		s.resultGrace = d
	}
}

// Session owns every client-side component for one user: the tool registry,
// the staging store, the push channel and the job controller. It replaces
// any process-wide state; two sessions never share anything.
type Session struct {
	cfg           *client.Config
	registry      *tool.Registry
	saver         result.Saver
	autoDownload  bool
	journalWriter events.Writer
	transports    []connection.Transport
	connOpts      []connection.Option
	noticeTimeout time.Duration
	onNotice      func(active []Notice)
	resultGrace   time.Duration

	store      *staging.Store
	backend    *client.Client
	controller *job.Controller
	router     *events.Router
	manager    *connection.Manager
	retriever  *result.Retriever
	notifier   *Notifier
	journal    *events.Producer

	lock       sync.Mutex
	latest     job.Job
	changed    chan struct{}
	observers  []job.Observer
	hadFailure bool
	closed     bool
}

func New(cfg *client.Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		cfg:          cfg,
		autoDownload: true,
		resultGrace:  DefaultResultGrace,
		changed:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.registry == nil {
		s.registry = tool.NewDefaultRegistry()
	}
	if s.saver == nil {
		s.saver = result.NewDirSaver("")
	}
	if s.transports == nil {
		s.transports = connection.DefaultTransports(cfg.PushURL())
	}

	backend, err := client.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	s.backend = backend
	s.store = staging.NewStore()

	var ctrlOpts []job.Option
	if s.journalWriter != nil {
		s.journal = events.NewProducer(s.journalWriter)
		ctrlOpts = append(ctrlOpts, job.WithJournal(s.journal))
	}
	s.controller = job.NewController(s.store, backend, s, ctrlOpts...)
	s.controller.Subscribe(s.observe)
	s.router = events.NewRouter(s.controller)
	s.manager = connection.NewManager(cfg.PushURL(), s.router, s.transports, s.connOpts...)
	s.manager.Subscribe(s.onConnectivity)
	s.retriever = result.NewRetriever(backend, s.saver)
	s.notifier = NewNotifier(s.noticeTimeout, s.onNotice)
	return s, nil
}

// CurrentID lets the controller read the push channel id.
func (s *Session) CurrentID() (string, bool) {
	return s.manager.CurrentID()
}

func (s *Session) Registry() *tool.Registry {
	return s.registry
}

func (s *Session) Store() *staging.Store {
	return s.store
}

func (s *Session) Notifier() *Notifier {
	return s.notifier
}

func (s *Session) ConnectionState() connection.State {
	return s.manager.State()
}

// Subscribe registers an observer for job transitions. The same rules as
// job.Controller.Subscribe apply.
func (s *Session) Subscribe(o job.Observer) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.observers = append(s.observers, o)
}

// Mount opens the push channel. A failure is reported as a notice and
// returned, but the session stays usable: jobs are still submitted, only
// without live progress.
func (s *Session) Mount(ctx context.Context) error {
	if err := s.manager.Connect(ctx); err != nil {
		zap.S().Named("session").Warnw("push channel unavailable, continuing without progress events", "error", err)
		return err
	}
	return nil
}

// SelectTool makes id the active tool and clears the staged input.
func (s *Session) SelectTool(id string) (tool.Descriptor, error) {
	d, err := s.registry.Get(id)
	if err != nil {
		return tool.Descriptor{}, err
	}
	s.controller.SelectTool(d)
	return d, nil
}

func (s *Session) Submit(ctx context.Context) (job.Job, error) {
	return s.controller.Submit(ctx)
}

// Job returns the latest snapshot of the current job.
func (s *Session) Job() (job.Job, bool) {
	return s.controller.Job()
}

// Wait blocks until the current job finishes. With auto download enabled the
// artifact of a completed job is retrieved before returning. A completed job
// whose artifact was never named is reported with result.ErrNoResult.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	j, err := s.controller.Wait(ctx)
	if err != nil {
		return Outcome{Job: j}, err
	}
	if j.State == job.StateCompleted && j.Result == nil && !j.ResultMissing {
		j = s.awaitResult(ctx, j)
	}
	out := Outcome{Job: j}
	if j.State != job.StateCompleted {
		return out, nil
	}
	if j.Result == nil {
		zap.S().Named("session").Warnw("job completed without a result to download", "id", j.ID)
		return out, result.ErrNoResult
	}
	if !s.autoDownload {
		return out, nil
	}
	saved, err := s.retriever.Retrieve(ctx, j.Result)
	if err != nil {
		return out, err
	}
	out.Saved = &saved
	return out, nil
}

// Download retrieves the artifact of the current job.
func (s *Session) Download(ctx context.Context) (result.Saved, error) {
	j, ok := s.controller.Job()
	if !ok || j.State != job.StateCompleted {
		return result.Saved{}, result.ErrNoResult
	}
	return s.retriever.Retrieve(ctx, j.Result)
}

func (s *Session) awaitResult(ctx context.Context, j job.Job) job.Job {
	timer := time.NewTimer(s.resultGrace)
	defer timer.Stop()
	for {
		s.lock.Lock()
		latest, changed := s.latest, s.changed
		s.lock.Unlock()
		if latest.ID == j.ID && (latest.Result != nil || latest.ResultMissing) {
			return latest
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return j
		case <-timer.C:
			return j
		}
	}
}

func (s *Session) observe(j job.Job) {
	s.lock.Lock()
	s.latest = j
	close(s.changed)
	s.changed = make(chan struct{})
	observers := append([]job.Observer(nil), s.observers...)
	s.lock.Unlock()

	for _, o := range observers {
		o(j)
	}
}

func (s *Session) onConnectivity(n connection.Notice) {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return
	}
	recovered := n.State == connection.StateConnected && s.hadFailure
	if n.Err != nil {
		s.hadFailure = true
	} else if recovered {
		s.hadFailure = false
	}
	s.lock.Unlock()

	switch {
	case n.Err != nil:
		s.notifier.Show(LevelError, fmt.Sprintf("Connection error: %v", n.Err.Err))
	case recovered:
		s.notifier.Show(LevelInfo, "Reconnected")
	}
	if s.journal != nil {
		s.recordConnectivity(n)
	}
}

func (s *Session) recordConnectivity(n connection.Notice) {
	payload := map[string]string{"state": n.State.String()}
	if n.ID != "" {
		payload["id"] = n.ID
	}
	if n.Err != nil {
		payload["error"] = n.Err.Error()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = s.journal.Write(context.TODO(), events.ConnectivityEventKind, bytes.NewReader(data))
}

// Close abandons any job in flight, closes the push channel and flushes the
// journal. The session cannot be reused.
func (s *Session) Close() error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil
	}
	s.closed = true
	s.lock.Unlock()

	s.controller.Close()
	s.manager.Close()
	s.router.Close()
	s.notifier.Stop()

	var errs []error
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
