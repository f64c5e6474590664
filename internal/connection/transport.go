package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/docforge/toolkit-client/internal/events"
	"github.com/gorilla/websocket"
	"github.com/lthibault/jitterbug/v2"
)

const (
	WebsocketPath        = "/ws"
	PollHandshakePath    = "/poll/handshake"
	PollPath             = "/poll"
	DefaultPollInterval  = 500 * time.Millisecond
	defaultHandshakeWait = 10 * time.Second
)

var ErrHandshake = errors.New("handshake failed")

// Sink receives every frame read from the channel, handshake excluded.
type Sink interface {
	Deliver(f events.Frame)
}

// Channel is an established push channel.
type Channel interface {
	// ID is the identifier the backend assigned during the handshake.
	ID() string
	// Run reads frames into sink until the channel fails or ctx is cancelled.
	Run(ctx context.Context, sink Sink) error
	Close() error
}

// Transport opens a Channel; the Manager tries transports in preference order.
type Transport interface {
	Name() string
	Open(ctx context.Context) (Channel, error)
}

type handshake struct {
	SID string `json:"sid"`
}

// endpoint joins the push address with path, switching the scheme family.
func endpoint(base string, path string, websocketScheme bool) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid push address %q: %w", base, err)
	}
	switch {
	case websocketScheme && u.Scheme == "http":
		u.Scheme = "ws"
	case websocketScheme && u.Scheme == "https":
		u.Scheme = "wss"
	case !websocketScheme && u.Scheme == "ws":
		u.Scheme = "http"
	case !websocketScheme && u.Scheme == "wss":
		u.Scheme = "https"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}

// WebsocketTransport carries frames as JSON text messages. The backend's first
// message is the handshake frame carrying the connection id.
type WebsocketTransport struct {
	URL    string
	Dialer *websocket.Dialer
}

func (t *WebsocketTransport) Name() string { return "websocket" }

func (t *WebsocketTransport) Open(ctx context.Context) (Channel, error) {
	wsURL, err := endpoint(t.URL, WebsocketPath, true)
	if err != nil {
		return nil, err
	}
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	_ = conn.SetReadDeadline(time.Now().Add(defaultHandshakeWait))
	var f events.Frame
	if err := conn.ReadJSON(&f); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	var hs handshake
	if f.Event != events.HandshakeEventName || json.Unmarshal(f.Data, &hs) != nil || hs.SID == "" {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: unexpected first frame %q", ErrHandshake, f.Event)
	}
	_ = conn.SetReadDeadline(time.Time{})

	return &websocketChannel{id: hs.SID, conn: conn}, nil
}

type websocketChannel struct {
	id        string
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (c *websocketChannel) ID() string { return c.id }

func (c *websocketChannel) Run(ctx context.Context, sink Sink) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		var f events.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		sink.Deliver(f)
	}
}

func (c *websocketChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

// PollingTransport is the fallback when websockets are blocked: a handshake
// request followed by periodic fetches of the queued frames.
type PollingTransport struct {
	URL      string
	Client   *http.Client
	Interval time.Duration
}

func (t *PollingTransport) Name() string { return "polling" }

func (t *PollingTransport) client() *http.Client {
	if t.Client == nil {
		return http.DefaultClient
	}
	return t.Client
}

func (t *PollingTransport) Open(ctx context.Context) (Channel, error) {
	hsURL, err := endpoint(t.URL, PollHandshakePath, false)
	if err != nil {
		return nil, err
	}
	pollURL, err := endpoint(t.URL, PollPath, false)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrHandshake, hsURL, resp.StatusCode)
	}
	var hs handshake
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil || hs.SID == "" {
		return nil, fmt.Errorf("%w: invalid handshake response", ErrHandshake)
	}

	interval := t.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &pollingChannel{id: hs.SID, url: pollURL, client: t.client(), interval: interval}, nil
}

type pollingChannel struct {
	id       string
	url      string
	client   *http.Client
	interval time.Duration
}

func (c *pollingChannel) ID() string { return c.id }

func (c *pollingChannel) Run(ctx context.Context, sink Sink) error {
	ticker := jitterbug.New(c.interval, &jitterbug.Norm{Stdev: c.interval / 10})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		frames, err := c.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		for _, f := range frames {
			sink.Deliver(f)
		}
	}
}

func (c *pollingChannel) poll(ctx context.Context) ([]events.Frame, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("sid", c.id)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll returned %d", resp.StatusCode)
	}
	var frames []events.Frame
	if err := json.NewDecoder(resp.Body).Decode(&frames); err != nil {
		return nil, fmt.Errorf("decoding poll response: %w", err)
	}
	return frames, nil
}

// Close is a no-op: the backend expires idle polling sessions on its own.
func (c *pollingChannel) Close() error {
	return nil
}
