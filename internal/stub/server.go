package stub

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/docforge/toolkit-client/internal/events"
	"github.com/docforge/toolkit-client/internal/tool"
	"github.com/docforge/toolkit-client/pkg/log"
	"github.com/docforge/toolkit-client/pkg/metrics"
	"github.com/docforge/toolkit-client/pkg/requestid"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

// Server is a stand-in for the document processing backend. It speaks the same
// HTTP and push protocol so the client can be developed and tested without it.
type Server struct {
	registry         *tool.Registry
	processor        Processor
	disableWebsocket bool
	hub              *hub
	handler          http.Handler

	lock      sync.Mutex
	requests  []Request
	artifacts map[string][]byte
}

type Option func(s *Server)

func WithProcessor(p Processor) Option {
	return func(s *Server) {
		s.processor = p
	}
}

func WithRegistry(r *tool.Registry) Option {
	return func(s *Server) {
		s.registry = r
	}
}

// WithoutWebsocket only serves the polling transport.
func WithoutWebsocket() Option {
	return func(s *Server) {
		s.disableWebsocket = true
	}
}

func New(opts ...Option) *Server {
	s := &Server{
		registry:  tool.NewDefaultRegistry(),
		processor: DefaultProcessor(200 * time.Millisecond),
		hub:       newHub(),
		artifacts: map[string][]byte{},
	}
	for _, o := range opts {
		o(s)
	}

	registry := prometheus.NewRegistry()
	metricMiddleware := metrics.NewMiddleware("stub")
	if err := metricMiddleware.Register(registry); err != nil {
		zap.S().Named("stub").Warnw("failed to register metrics", "error", err)
	}

	router := chi.NewRouter()
	router.Use(
		metricMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{"Content-Disposition"},
			MaxAge:         300,
		}),
		requestid.Middleware,
		log.Logger(zap.L(), "stub"),
		chiMiddleware.Recoverer,
	)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.registerRoutes(router)
	s.handler = router
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves on listener until ctx is cancelled.
func (s *Server) Run(ctx context.Context, listener net.Listener) error {
	srv := http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		zap.S().Named("stub").Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		s.hub.dropAll()
		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		zap.S().Named("stub").Info("stub backend terminated")
	}()

	zap.S().Named("stub").Infof("Listening on %s...", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Emit pushes an event to one connected client.
func (s *Server) Emit(sid string, name string, payload any) error {
	f, err := events.NewFrame(name, payload)
	if err != nil {
		return err
	}
	s.hub.emit(sid, f)
	return nil
}

// SessionIDs lists the connected push sessions.
func (s *Server) SessionIDs() []string {
	return s.hub.ids()
}

// DropSessions closes every push session.
func (s *Server) DropSessions() {
	s.hub.dropAll()
}

// Requests returns the jobs received so far.
func (s *Server) Requests() []Request {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) record(r Request) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.requests = append(s.requests, r)
}

func (s *Server) store(name string, content []byte) {
	if name == "" {
		return
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.artifacts[name] = content
}

func (s *Server) artifact(name string) ([]byte, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	content, ok := s.artifacts[name]
	return content, ok
}
