package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docforge/toolkit-client/pkg/metrics"
	"go.uber.org/zap"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrNotConnected = errors.New("push channel is not connected")
	ErrClosed       = errors.New("connection manager is closed")
)

// ConnectivityError reports a channel that could not be established or was lost.
type ConnectivityError struct {
	Endpoint string
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Endpoint, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Notice is sent to observers on every state change. Err is set when the change
// was caused by a failure.
type Notice struct {
	State State
	ID    string
	Err   *ConnectivityError
}

type Observer func(n Notice)

type Option func(m *Manager)

// WithBackoff sets the reconnection policy factory.
func WithBackoff(f func() backoff.BackOff) Option {
	return func(m *Manager) {
		m.newBackoff = f
	}
}

// WithoutReconnect disables reconnection after a dropped channel.
func WithoutReconnect() Option {
	return func(m *Manager) {
		m.reconnect = false
	}
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Manager owns the session's single push channel. Only the Manager mutates
// transport state; other components read the connection id through CurrentID.
type Manager struct {
	endpoint   string
	transports []Transport
	sink       Sink
	newBackoff func() backoff.BackOff
	reconnect  bool

	lifetime context.Context
	shutdown context.CancelFunc

	lock       sync.Mutex
	state      State
	id         string
	generation uint64
	epoch      uint64
	cancelRun  context.CancelFunc
	observers  []Observer
	wg         sync.WaitGroup
}

// NewManager creates a disconnected manager. endpoint is only used in notices.
func NewManager(endpoint string, sink Sink, transports []Transport, opts ...Option) *Manager {
	lifetime, shutdown := context.WithCancel(context.Background())
	m := &Manager{
		endpoint:   endpoint,
		transports: transports,
		sink:       sink,
		newBackoff: defaultBackoff,
		reconnect:  true,
		lifetime:   lifetime,
		shutdown:   shutdown,
	}
	for _, o := range opts {
		o(m)
	}
	metrics.SetConnectionStateMetric(int(StateDisconnected))
	return m
}

// DefaultTransports returns websocket first, then long polling.
func DefaultTransports(pushURL string) []Transport {
	return []Transport{
		&WebsocketTransport{URL: pushURL},
		&PollingTransport{URL: pushURL},
	}
}

func (m *Manager) Subscribe(o Observer) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.observers = append(m.observers, o)
}

func (m *Manager) State() State {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.state
}

// CurrentID returns the backend-assigned id, ok is false while not connected.
func (m *Manager) CurrentID() (string, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.state != StateConnected {
		return "", false
	}
	return m.id, true
}

// Connect opens the channel, trying each transport in order. It returns
// immediately when the channel is already connected or being connected.
func (m *Manager) Connect(ctx context.Context) error {
	if m.lifetime.Err() != nil {
		return ErrClosed
	}

	m.lock.Lock()
	if m.state != StateDisconnected {
		m.lock.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.generation++
	gen := m.generation
	m.lock.Unlock()
	m.notify(Notice{State: StateConnecting})

	ch, transport, err := m.open(ctx)
	if err != nil {
		cerr := &ConnectivityError{Endpoint: m.endpoint, Err: err}
		m.lock.Lock()
		if m.generation == gen {
			m.state = StateDisconnected
		}
		m.lock.Unlock()
		m.notify(Notice{State: StateDisconnected, Err: cerr})
		return cerr
	}

	m.lock.Lock()
	if m.generation != gen || m.lifetime.Err() != nil {
		// Disconnect was called while the handshake was in flight
		m.lock.Unlock()
		_ = ch.Close()
		return ErrNotConnected
	}
	runCtx, cancel := context.WithCancel(m.lifetime)
	m.state = StateConnected
	m.id = ch.ID()
	m.cancelRun = cancel
	m.wg.Add(1)
	m.lock.Unlock()

	zap.S().Named("connection").Infow("connected", "endpoint", m.endpoint, "transport", transport, "id", ch.ID())
	m.notify(Notice{State: StateConnected, ID: ch.ID()})

	go m.run(runCtx, gen, ch)
	return nil
}

func (m *Manager) open(ctx context.Context) (Channel, string, error) {
	var errs []error
	for _, t := range m.transports {
		ch, err := t.Open(ctx)
		if err == nil {
			return ch, t.Name(), nil
		}
		zap.S().Named("connection").Debugw("transport failed", "transport", t.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, "", errors.New("no transport configured")
	}
	return nil, "", errors.Join(errs...)
}

func (m *Manager) run(ctx context.Context, gen uint64, ch Channel) {
	defer m.wg.Done()
	defer utilruntime.HandleCrash()

	err := ch.Run(ctx, m.sink)
	_ = ch.Close()

	m.lock.Lock()
	if m.generation != gen {
		m.lock.Unlock()
		return
	}
	m.state = StateDisconnected
	m.id = ""
	m.cancelRun = nil
	reconnect := m.reconnect && m.lifetime.Err() == nil
	m.lock.Unlock()

	if err == nil {
		err = errors.New("channel closed by peer")
	}
	zap.S().Named("connection").Warnw("connection lost", "endpoint", m.endpoint, "error", err)
	m.notify(Notice{State: StateDisconnected, Err: &ConnectivityError{Endpoint: m.endpoint, Err: err}})

	if reconnect {
		m.wg.Add(1)
		go m.reconnectLoop(m.currentEpoch())
	}
}

func (m *Manager) currentEpoch() uint64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.epoch
}

// reconnectLoop retries until connected, closed, or explicitly disconnected.
func (m *Manager) reconnectLoop(epoch uint64) {
	defer m.wg.Done()

	b := backoff.WithContext(m.newBackoff(), m.lifetime)
	_ = backoff.Retry(func() error {
		if m.lifetime.Err() != nil {
			return backoff.Permanent(ErrClosed)
		}
		if m.currentEpoch() != epoch {
			return backoff.Permanent(ErrNotConnected)
		}
		metrics.IncreaseReconnectsMetric()
		return m.Connect(m.lifetime)
	}, b)
}

// Disconnect closes the current channel without scheduling a reconnection.
func (m *Manager) Disconnect() {
	m.lock.Lock()
	wasConnected := m.state != StateDisconnected
	m.generation++
	m.epoch++
	m.state = StateDisconnected
	m.id = ""
	if m.cancelRun != nil {
		m.cancelRun()
		m.cancelRun = nil
	}
	m.lock.Unlock()

	if wasConnected {
		m.notify(Notice{State: StateDisconnected})
	}
}

// Close disconnects and stops any reconnection for good.
func (m *Manager) Close() {
	m.shutdown()
	m.Disconnect()
	m.wg.Wait()
}

func (m *Manager) notify(n Notice) {
	metrics.SetConnectionStateMetric(int(n.State))

	m.lock.Lock()
	observers := append([]Observer(nil), m.observers...)
	m.lock.Unlock()

	for _, o := range observers {
		o(n)
	}
}
