package client_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/docforge/toolkit-client/internal/client"
	"github.com/docforge/toolkit-client/internal/staging"
	"github.com/docforge/toolkit-client/internal/stub"
	"github.com/docforge/toolkit-client/internal/tool"
	"github.com/docforge/toolkit-client/pkg/requestid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func snapshotFor(toolID string, params map[string]string, names ...string) staging.Snapshot {
	d, err := tool.NewDefaultRegistry().Get(toolID)
	Expect(err).To(BeNil())
	store := staging.NewStore()
	store.SetTool(d)
	for _, n := range names {
		store.Add(staging.NewCandidate(n, "application/pdf", []byte("%PDF-"+n)))
	}
	for k, v := range params {
		store.SetParam(k, v)
	}
	snap, ok := store.Snapshot()
	Expect(ok).To(BeTrue())
	return snap
}

func instant(ctx context.Context, req stub.Request, emit stub.Emitter) stub.Outcome {
	return stub.Outcome{Filename: req.Tool.ID + ".pdf", Content: []byte("out")}
}

var _ = Describe("backend client", func() {
	var (
		ctx     context.Context
		backend *stub.Server
		server  *httptest.Server
		c       *client.Client
	)

	start := func(opts ...stub.Option) {
		backend = stub.New(opts...)
		server = httptest.NewServer(backend.Handler())
		c = client.New(server.URL+"/", nil)
	}

	BeforeEach(func() {
		ctx = context.Background()
	})

	AfterEach(func() {
		server.Close()
	})

	Context("Submit", func() {
		It("uploads every file under the multi-file field with the socket id", func() {
			start(stub.WithProcessor(instant))

			resp, err := c.Submit(ctx, snapshotFor("merge", nil, "a.pdf", "b.pdf"), "sock-1")
			Expect(err).To(BeNil())
			Expect(resp.Success).To(BeTrue())
			Expect(resp.Filename).To(Equal("merge.pdf"))
			Expect(resp.IsInline()).To(BeFalse())

			reqs := backend.Requests()
			Expect(reqs).To(HaveLen(1))
			Expect(reqs[0].SocketID).To(Equal("sock-1"))
			Expect(reqs[0].Files).To(HaveLen(2))
			Expect(reqs[0].Files[0].Name).To(Equal("a.pdf"))
			Expect(reqs[0].Files[1].Name).To(Equal("b.pdf"))
			Expect(string(reqs[0].Files[1].Data)).To(Equal("%PDF-b.pdf"))
		})

		It("sends declared params and the request id from the context", func() {
			start(stub.WithProcessor(instant))

			ctx = requestid.ToContext(ctx, "req-42")
			resp, err := c.Submit(ctx, snapshotFor("split", map[string]string{"ranges": "1-3"}, "a.pdf"), "")
			Expect(err).To(BeNil())
			Expect(resp.RequestID).To(Equal("req-42"))

			reqs := backend.Requests()
			Expect(reqs).To(HaveLen(1))
			Expect(reqs[0].RequestID).To(Equal("req-42"))
			Expect(reqs[0].SocketID).To(BeEmpty())
			Expect(reqs[0].Params).To(HaveKeyWithValue("ranges", "1-3"))
		})

		It("returns the backend failure message", func() {
			start(stub.WithProcessor(func(ctx context.Context, req stub.Request, emit stub.Emitter) stub.Outcome {
				return stub.Outcome{Err: "corrupt file"}
			}))

			resp, err := c.Submit(ctx, snapshotFor("compress", nil, "a.pdf"), "")
			Expect(err).To(BeNil())
			Expect(resp.Success).To(BeFalse())
			Expect(resp.Message).To(Equal("corrupt file"))
		})

		It("returns inline artifacts with their disposition", func() {
			start(stub.WithProcessor(func(ctx context.Context, req stub.Request, emit stub.Emitter) stub.Outcome {
				return stub.Outcome{Filename: "small.pdf", Content: []byte("%PDF-small"), Inline: true}
			}))

			resp, err := c.Submit(ctx, snapshotFor("compress", nil, "a.pdf"), "")
			Expect(err).To(BeNil())
			Expect(resp.IsInline()).To(BeTrue())
			Expect(string(resp.Content)).To(Equal("%PDF-small"))
			Expect(resp.ContentDisposition).To(ContainSubstring("small.pdf"))
		})

		It("reports non-2xx answers as StatusError", func() {
			start(stub.WithProcessor(func(ctx context.Context, req stub.Request, emit stub.Emitter) stub.Outcome {
				return stub.Outcome{StatusCode: http.StatusInternalServerError}
			}))

			_, err := c.Submit(ctx, snapshotFor("compress", nil, "a.pdf"), "")
			var statusErr *client.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.StatusCode).To(Equal(http.StatusInternalServerError))
		})

		It("fails when the backend is unreachable", func() {
			start()
			server.Close()

			_, err := c.Submit(ctx, snapshotFor("compress", nil, "a.pdf"), "")
			Expect(err).NotTo(BeNil())
		})
	})

	Context("Download", func() {
		It("streams a stored artifact", func() {
			start(stub.WithProcessor(instant))
			_, err := c.Submit(ctx, snapshotFor("merge", nil, "a.pdf", "b.pdf"), "")
			Expect(err).To(BeNil())

			body, disposition, err := c.Download(ctx, server.URL+"/download/merge.pdf")
			Expect(err).To(BeNil())
			defer body.Close()
			content, err := io.ReadAll(body)
			Expect(err).To(BeNil())
			Expect(string(content)).To(Equal("out"))
			Expect(disposition).To(ContainSubstring("merge.pdf"))
		})

		It("returns a StatusError for a missing artifact", func() {
			start()
			_, _, err := c.Download(ctx, server.URL+"/download/missing.pdf")
			var statusErr *client.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.StatusCode).To(Equal(http.StatusNotFound))
		})
	})
})
