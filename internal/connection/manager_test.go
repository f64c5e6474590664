package connection_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docforge/toolkit-client/internal/connection"
	"github.com/docforge/toolkit-client/internal/events"
	"github.com/docforge/toolkit-client/internal/stub"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type frameSink struct {
	lock   sync.Mutex
	frames []events.Frame
}

func (s *frameSink) Deliver(f events.Frame) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.frames = append(s.frames, f)
}

func (s *frameSink) Names() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	var out []string
	for _, f := range s.frames {
		out = append(out, f.Event)
	}
	return out
}

type noticeLog struct {
	lock    sync.Mutex
	notices []connection.Notice
}

func (n *noticeLog) observe(notice connection.Notice) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *noticeLog) failures() int {
	n.lock.Lock()
	defer n.lock.Unlock()
	count := 0
	for _, notice := range n.notices {
		if notice.Err != nil {
			count++
		}
	}
	return count
}

func fastBackoff() backoff.BackOff {
	return backoff.NewConstantBackOff(20 * time.Millisecond)
}

var _ = Describe("Manager", func() {
	var (
		backend *stub.Server
		server  *httptest.Server
		sink    *frameSink
		notices *noticeLog
		manager *connection.Manager
	)

	newManager := func(transports []connection.Transport, opts ...connection.Option) *connection.Manager {
		m := connection.NewManager(server.URL, sink, transports, append(opts, connection.WithBackoff(fastBackoff))...)
		m.Subscribe(notices.observe)
		return m
	}

	BeforeEach(func() {
		sink = &frameSink{}
		notices = &noticeLog{}
	})

	AfterEach(func() {
		if manager != nil {
			manager.Close()
			manager = nil
		}
		if server != nil {
			server.Close()
			server = nil
		}
	})

	Context("websocket", func() {
		BeforeEach(func() {
			backend = stub.New()
			server = httptest.NewServer(backend.Handler())
		})

		It("connects and records the backend-assigned id", func() {
			manager = newManager(connection.DefaultTransports(server.URL))
			_, ok := manager.CurrentID()
			Expect(ok).To(BeFalse())
			Expect(manager.State()).To(Equal(connection.StateDisconnected))

			Expect(manager.Connect(context.TODO())).To(Succeed())
			Expect(manager.State()).To(Equal(connection.StateConnected))

			id, ok := manager.CurrentID()
			Expect(ok).To(BeTrue())
			Eventually(backend.SessionIDs).Should(ConsistOf(id))
		})

		It("is idempotent", func() {
			manager = newManager(connection.DefaultTransports(server.URL))
			Expect(manager.Connect(context.TODO())).To(Succeed())
			first, _ := manager.CurrentID()
			Expect(manager.Connect(context.TODO())).To(Succeed())
			second, _ := manager.CurrentID()
			Expect(second).To(Equal(first))
			Consistently(backend.SessionIDs, "100ms").Should(HaveLen(1))
		})

		It("forwards pushed frames to the sink", func() {
			manager = newManager(connection.DefaultTransports(server.URL))
			Expect(manager.Connect(context.TODO())).To(Succeed())
			id, _ := manager.CurrentID()
			Eventually(backend.SessionIDs).Should(ContainElement(id))

			Expect(backend.Emit(id, events.StatusEventName, map[string]string{"status": "hello"})).To(Succeed())
			Expect(backend.Emit(id, events.ProgressEventName, map[string]any{"percent": 50})).To(Succeed())
			Eventually(sink.Names).Should(Equal([]string{events.StatusEventName, events.ProgressEventName}))
		})

		It("reconnects after the channel drops", func() {
			manager = newManager(connection.DefaultTransports(server.URL))
			Expect(manager.Connect(context.TODO())).To(Succeed())
			first, _ := manager.CurrentID()
			Eventually(backend.SessionIDs).Should(ContainElement(first))

			backend.DropSessions()

			Eventually(notices.failures).Should(BeNumerically(">=", 1))
			Eventually(func() string {
				id, _ := manager.CurrentID()
				return id
			}, "3s").ShouldNot(Or(BeEmpty(), Equal(first)))
		})

		It("does not reconnect after an explicit disconnect", func() {
			manager = newManager(connection.DefaultTransports(server.URL))
			Expect(manager.Connect(context.TODO())).To(Succeed())

			manager.Disconnect()
			Expect(manager.State()).To(Equal(connection.StateDisconnected))
			Eventually(backend.SessionIDs).Should(BeEmpty())
			Consistently(manager.State, "200ms").Should(Equal(connection.StateDisconnected))
		})

		It("refuses to connect once closed", func() {
			manager = newManager(connection.DefaultTransports(server.URL))
			manager.Close()
			Expect(manager.Connect(context.TODO())).To(MatchError(connection.ErrClosed))
		})
	})

	Context("polling fallback", func() {
		BeforeEach(func() {
			backend = stub.New(stub.WithoutWebsocket())
			server = httptest.NewServer(backend.Handler())
		})

		It("falls back to polling when the websocket upgrade fails", func() {
			transports := []connection.Transport{
				&connection.WebsocketTransport{URL: server.URL},
				&connection.PollingTransport{URL: server.URL, Interval: 20 * time.Millisecond},
			}
			manager = newManager(transports)
			Expect(manager.Connect(context.TODO())).To(Succeed())

			id, ok := manager.CurrentID()
			Expect(ok).To(BeTrue())
			Expect(backend.Emit(id, events.ErrorEventName, map[string]string{"status": "boom"})).To(Succeed())
			Eventually(sink.Names).Should(Equal([]string{events.ErrorEventName}))
		})

		It("drops the channel when the backend forgets the session", func() {
			transports := []connection.Transport{
				&connection.PollingTransport{URL: server.URL, Interval: 20 * time.Millisecond},
			}
			manager = newManager(transports, connection.WithoutReconnect())
			Expect(manager.Connect(context.TODO())).To(Succeed())

			backend.DropSessions()
			Eventually(manager.State).Should(Equal(connection.StateDisconnected))
			Expect(notices.failures()).To(BeNumerically(">=", 1))
		})
	})

	Context("unreachable backend", func() {
		It("reports a connectivity error", func() {
			backend = stub.New()
			server = httptest.NewServer(backend.Handler())
			url := server.URL
			server.Close()
			server = nil

			manager = connection.NewManager(url, sink, connection.DefaultTransports(url), connection.WithoutReconnect())
			manager.Subscribe(notices.observe)

			err := manager.Connect(context.TODO())
			var cerr *connection.ConnectivityError
			Expect(err).To(BeAssignableToTypeOf(cerr))
			Expect(manager.State()).To(Equal(connection.StateDisconnected))
			Expect(notices.failures()).To(Equal(1))
		})
	})
})
