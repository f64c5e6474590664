package events

import (
	"context"
	"io"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	JobTransitionKind     string = "toolkit.job.transition"
	ConnectivityEventKind string = "toolkit.connection.state"
	defaultSource         string = "toolkit.client"
)

// Writer is the interface to be implemented by the journal's sink.
type Writer interface {
	Write(ctx context.Context, e cloudevents.Event) error
	Close(ctx context.Context) error
}

type record struct {
	Kind string
	Data []byte
	prev *record
}

// Producer journals session activity as CloudEvents. Writes are queued so the
// caller never waits on the writer.
type Producer struct {
	lock    sync.Mutex
	head    *record
	tail    *record
	wakeCh  chan struct{}
	doneCh  chan struct{}
	stopped chan struct{}
	writer  Writer
	source  string
}

type ProducerOption func(p *Producer)

func WithSource(source string) ProducerOption {
	return func(p *Producer) {
		p.source = source
	}
}

func NewProducer(w Writer, opts ...ProducerOption) *Producer {
	p := &Producer{
		wakeCh:  make(chan struct{}, 1),
		doneCh:  make(chan struct{}),
		stopped: make(chan struct{}),
		writer:  w,
		source:  defaultSource,
	}

	for _, o := range opts {
		o(p)
	}

	go p.run()
	return p
}

func (p *Producer) Write(ctx context.Context, kind string, body io.Reader) error {
	d, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	p.lock.Lock()
	r := &record{Kind: kind, Data: d}
	if p.head == nil {
		p.head = r
		p.tail = r
	} else {
		p.tail.prev = r
		p.tail = r
	}
	p.lock.Unlock()

	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

// Close flushes the queued records and closes the writer.
func (p *Producer) Close() error {
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(closeCtx)
	g.Go(func() error {
		close(p.doneCh)
		select {
		case <-p.stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
		return p.writer.Close(ctx)
	})
	if err := g.Wait(); err != nil {
		zap.S().Named("journal").Errorf("journal closed with error: %s", err)
		return err
	}

	zap.S().Named("journal").Debug("journal closed")
	return nil
}

func (p *Producer) pop() *record {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.head == nil {
		return nil
	}
	r := p.head
	p.head = r.prev
	if p.head == nil {
		p.tail = nil
	}
	return r
}

func (p *Producer) run() {
	defer close(p.stopped)
	for {
		for r := p.pop(); r != nil; r = p.pop() {
			p.send(r)
		}

		select {
		case <-p.wakeCh:
		case <-p.doneCh:
			for r := p.pop(); r != nil; r = p.pop() {
				p.send(r)
			}
			return
		}
	}
}

func (p *Producer) send(r *record) {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(p.source)
	e.SetType(r.Kind)
	e.SetTime(time.Now())
	_ = e.SetData(*cloudevents.StringOfApplicationJSON(), r.Data)

	if err := p.writer.Write(context.TODO(), e); err != nil {
		zap.S().Named("journal").Errorw("failed to write event", "error", err, "event", e)
	}
}
