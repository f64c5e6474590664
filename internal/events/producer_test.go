package events

import (
	"bytes"
	"context"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("producer", Ordered, func() {
	Context("write", func() {
		It("writes successfully", func() {
			w := newTestWriter()
			p := NewProducer(w, WithSource("test"))

			err := p.Write(context.TODO(), JobTransitionKind, bytes.NewReader([]byte(`{"state":"submitting"}`)))
			Expect(err).To(BeNil())
			err = p.Write(context.TODO(), ConnectivityEventKind, bytes.NewReader([]byte(`{"state":"connected"}`)))
			Expect(err).To(BeNil())

			Eventually(func() int { return len(w.Events()) }).Should(Equal(2))
			Expect(w.Events()[0].Type()).To(Equal(JobTransitionKind))
			Expect(w.Events()[0].Source()).To(Equal("test"))
			Expect(string(w.Events()[1].Data())).To(Equal(`{"state":"connected"}`))

			Expect(p.Close()).To(Succeed())
			Expect(w.closed).To(BeTrue())
		})

		It("flushes pending events on close", func() {
			w := newTestWriter()
			p := NewProducer(w)
			for i := 0; i < 20; i++ {
				Expect(p.Write(context.TODO(), JobTransitionKind, bytes.NewReader([]byte(`{}`)))).To(Succeed())
			}
			Expect(p.Close()).To(Succeed())
			Expect(w.Events()).To(HaveLen(20))
		})
	})
})

type testwriter struct {
	lock   sync.Mutex
	events []cloudevents.Event
	closed bool
}

func newTestWriter() *testwriter {
	return &testwriter{}
}

func (t *testwriter) Write(ctx context.Context, e cloudevents.Event) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.events = append(t.events, e)
	return nil
}

func (t *testwriter) Events() []cloudevents.Event {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]cloudevents.Event(nil), t.events...)
}

func (t *testwriter) Close(_ context.Context) error {
	t.closed = true
	return nil
}
