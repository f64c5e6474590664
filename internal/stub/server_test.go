package stub_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/docforge/toolkit-client/internal/client"
	"github.com/docforge/toolkit-client/internal/events"
	"github.com/docforge/toolkit-client/internal/stub"
	"github.com/docforge/toolkit-client/pkg/requestid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func multipartBody(field string, files map[string]string, params map[string]string) (*bytes.Buffer, string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile(field, name)
		Expect(err).To(BeNil())
		_, _ = part.Write([]byte(content))
	}
	for k, v := range params {
		Expect(mw.WriteField(k, v)).To(Succeed())
	}
	Expect(mw.Close()).To(Succeed())
	return &buf, mw.FormDataContentType()
}

var _ = Describe("stub backend", func() {
	var (
		backend *stub.Server
		server  *httptest.Server
	)

	BeforeEach(func() {
		backend = stub.New(stub.WithProcessor(stub.DefaultProcessor(time.Millisecond)))
		server = httptest.NewServer(backend.Handler())
	})

	AfterEach(func() {
		server.Close()
	})

	post := func(toolID string, body io.Reader, contentType string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, server.URL+"/"+toolID, body)
		Expect(err).To(BeNil())
		req.Header.Set("Content-Type", contentType)
		resp, err := http.DefaultClient.Do(req)
		Expect(err).To(BeNil())
		return resp
	}

	It("processes a merge and serves the artifact", func() {
		body, ct := multipartBody("files", map[string]string{"a.pdf": "A"}, nil)
		resp := post("merge", body, ct)
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get(requestid.Header)).NotTo(BeEmpty())

		var reply stub.ProcessReply
		Expect(json.NewDecoder(resp.Body).Decode(&reply)).To(Succeed())
		Expect(reply.Success).To(BeTrue())
		Expect(reply.Filename).To(Equal("merged.pdf"))

		download, err := http.Get(server.URL + "/download/merged.pdf")
		Expect(err).To(BeNil())
		defer download.Body.Close()
		content, _ := io.ReadAll(download.Body)
		Expect(string(content)).To(Equal("A"))
		Expect(download.Header.Get("Content-Disposition")).To(ContainSubstring("merged.pdf"))
	})

	It("rejects a missing required parameter", func() {
		body, ct := multipartBody("file", map[string]string{"a.pdf": "A"}, map[string]string{"ranges": " "})
		resp := post("split", body, ct)
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		Expect(backend.Requests()).To(BeEmpty())
	})

	It("rejects several files for a single-file tool", func() {
		body, ct := multipartBody("file", map[string]string{"a.pdf": "A", "b.pdf": "B"}, nil)
		resp := post("compress", body, ct)
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("returns 404 for unknown tools and artifacts", func() {
		body, ct := multipartBody("file", map[string]string{"a.pdf": "A"}, nil)
		resp := post("ocr", body, ct)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

		download, err := http.Get(server.URL + "/download/nothing.pdf")
		Expect(err).To(BeNil())
		download.Body.Close()
		Expect(download.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("queues events for polling sessions", func() {
		resp, err := http.Get(server.URL + "/poll/handshake")
		Expect(err).To(BeNil())
		var hs stub.HandshakeReply
		Expect(json.NewDecoder(resp.Body).Decode(&hs)).To(Succeed())
		resp.Body.Close()
		Expect(hs.SID).NotTo(BeEmpty())

		Expect(backend.Emit(hs.SID, events.StatusEventName, map[string]string{"status": "queued"})).To(Succeed())

		resp, err = http.Get(server.URL + "/poll?sid=" + hs.SID)
		Expect(err).To(BeNil())
		var frames []events.Frame
		Expect(json.NewDecoder(resp.Body).Decode(&frames)).To(Succeed())
		resp.Body.Close()
		Expect(frames).To(HaveLen(1))
		ev, err := events.Decode(frames[0])
		Expect(err).To(BeNil())
		Expect(ev.Status).To(Equal("queued"))

		backend.DropSessions()
		resp, err = http.Get(server.URL + "/poll?sid=" + hs.SID)
		Expect(err).To(BeNil())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("tags job events with the request id and announces completion before replying", func() {
		resp, err := http.Get(server.URL + "/poll/handshake")
		Expect(err).To(BeNil())
		var hs stub.HandshakeReply
		Expect(json.NewDecoder(resp.Body).Decode(&hs)).To(Succeed())
		resp.Body.Close()

		body, ct := multipartBody("files", map[string]string{"a.pdf": "A"}, nil)
		req, err := http.NewRequest(http.MethodPost, server.URL+"/merge", body)
		Expect(err).To(BeNil())
		req.Header.Set("Content-Type", ct)
		req.Header.Set(requestid.Header, "req-42")
		req.Header.Set(client.SocketIDHeader, hs.SID)
		reply, err := http.DefaultClient.Do(req)
		Expect(err).To(BeNil())
		reply.Body.Close()
		Expect(reply.StatusCode).To(Equal(http.StatusOK))

		// the reply has been read, so every frame of the job is already queued
		resp, err = http.Get(server.URL + "/poll?sid=" + hs.SID)
		Expect(err).To(BeNil())
		var frames []events.Frame
		Expect(json.NewDecoder(resp.Body).Decode(&frames)).To(Succeed())
		resp.Body.Close()

		Expect(frames).NotTo(BeEmpty())
		Expect(frames[len(frames)-1].Event).To(Equal(events.CompleteEventName))
		for _, f := range frames {
			ev, err := events.Decode(f)
			Expect(err).To(BeNil())
			Expect(ev.RequestID).To(Equal("req-42"))
		}
	})

	It("exposes metrics", func() {
		resp, err := http.Get(server.URL + "/metrics")
		Expect(err).To(BeNil())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("shuts down when the context ends", func() {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		listener := httptest.NewUnstartedServer(nil).Listener
		go func() { done <- stub.New().Run(ctx, listener) }()
		cancel()
		Eventually(done, 6*time.Second).Should(Receive(BeNil()))
	})
})
