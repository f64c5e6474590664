package events

import (
	"errors"
	"sync"

	"go.uber.org/zap"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
)

// Handler receives decoded events one at a time, in receipt order.
type Handler interface {
	Apply(ev Event) bool
}

type HandlerFunc func(ev Event) bool

func (f HandlerFunc) Apply(ev Event) bool { return f(ev) }

// Router decodes frames coming from the push channel and hands them to a single
// Handler from one goroutine. Delivery never blocks the transport's read loop.
type Router struct {
	handler Handler
	buffer  *buffer
	wakeCh  chan struct{}
	doneCh  chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func NewRouter(h Handler) *Router {
	r := &Router{
		handler: h,
		buffer:  newBuffer(),
		wakeCh:  make(chan struct{}, 1),
		doneCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go r.run()
	return r
}

// Deliver implements connection.Sink.
func (r *Router) Deliver(f Frame) {
	ev, err := Decode(f)
	if err != nil {
		if errors.Is(err, ErrUnknownEvent) {
			zap.S().Named("router").Debugw("ignoring frame", "event", f.Event)
		} else {
			zap.S().Named("router").Warnw("malformed frame", "event", f.Event, "error", err)
		}
		return
	}

	select {
	case <-r.doneCh:
		return
	default:
	}

	r.buffer.PushBack(&message{Event: ev})
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

// Close stops the dispatch goroutine. Events still buffered are dropped.
func (r *Router) Close() {
	r.once.Do(func() {
		close(r.doneCh)
	})
	<-r.stopped
}

func (r *Router) run() {
	defer close(r.stopped)
	defer utilruntime.HandleCrash()

	for {
		for msg := r.buffer.Pop(); msg != nil; msg = r.buffer.Pop() {
			select {
			case <-r.doneCh:
				return
			default:
			}
			if !r.handler.Apply(msg.Event) {
				zap.S().Named("router").Debugw("event discarded", "kind", msg.Event.Kind.String())
			}
		}

		select {
		case <-r.wakeCh:
		case <-r.doneCh:
			return
		}
	}
}
