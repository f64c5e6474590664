package stub

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/docforge/toolkit-client/internal/client"
	"github.com/docforge/toolkit-client/internal/events"
	"github.com/docforge/toolkit-client/internal/tool"
	"github.com/docforge/toolkit-client/pkg/metrics"
	"github.com/docforge/toolkit-client/pkg/requestid"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"
)

const maxUploadMemory = 64 << 20

type ProcessReply struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (p ProcessReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

type HandshakeReply struct {
	SID string `json:"sid"`
}

func (h HandshakeReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (s *Server) registerRoutes(router chi.Router) {
	if !s.disableWebsocket {
		router.Get("/ws", s.hub.serveWebsocket)
	}
	router.Get("/poll/handshake", func(w http.ResponseWriter, r *http.Request) {
		_ = render.Render(w, r, HandshakeReply{SID: s.hub.openPolling()})
	})
	router.Get("/poll", func(w http.ResponseWriter, r *http.Request) {
		frames, ok := s.hub.drain(r.URL.Query().Get("sid"))
		if !ok {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		render.JSON(w, r, frames)
	})
	router.Get("/download/{filename}", s.download)
	router.Post("/{tool}", s.process)
}

func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	d, err := s.registry.Get(chi.URLParam(r, "tool"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	req, err := readRequest(r, d)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		_ = render.Render(w, r, ProcessReply{Message: err.Error()})
		return
	}
	s.record(req)
	metrics.IncreaseStubJobsMetric(d.ID)
	zap.S().Named("stub").Infow("job received", "tool", d.ID, "files", len(req.Files), "sid", req.SocketID)

	emit := &emitter{hub: s.hub, sid: req.SocketID, requestID: req.RequestID}
	out := s.processor(r.Context(), req, emit)

	if out.Err == "" && out.StatusCode < 400 {
		s.store(out.Filename, out.Content)
	}
	// completion is announced once the artifact is downloadable, ahead of the reply
	emit.flush()

	if out.Err != "" {
		status := out.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		render.Status(r, status)
		_ = render.Render(w, r, ProcessReply{Success: false, Message: out.Err})
		return
	}
	if out.StatusCode >= 400 {
		http.Error(w, http.StatusText(out.StatusCode), out.StatusCode)
		return
	}

	if out.Inline {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Filename))
		_, _ = w.Write(out.Content)
		return
	}
	_ = render.Render(w, r, ProcessReply{Success: true, Filename: out.Filename})
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	content, ok := s.artifact(name)
	if !ok {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = w.Write(content)
}

func readRequest(r *http.Request, d tool.Descriptor) (Request, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return Request{}, fmt.Errorf("invalid multipart body: %w", err)
	}
	req := Request{
		Tool:      d,
		SocketID:  r.Header.Get(client.SocketIDHeader),
		RequestID: requestid.FromContext(r.Context()),
		Params:    map[string]string{},
	}

	headers := r.MultipartForm.File[d.UploadField()]
	if len(headers) == 0 {
		return Request{}, fmt.Errorf("missing %q field", d.UploadField())
	}
	if !d.Multiple && len(headers) > 1 {
		return Request{}, errors.New("tool accepts a single file")
	}
	for _, h := range headers {
		data, err := readPart(h)
		if err != nil {
			return Request{}, err
		}
		req.Files = append(req.Files, UploadedFile{Name: h.Filename, Data: data})
	}

	for _, f := range d.Fields {
		v := r.MultipartForm.Value[f.ID]
		if len(v) > 0 {
			req.Params[f.ID] = v[0]
		}
		if f.Required && strings.TrimSpace(req.Params[f.ID]) == "" {
			return Request{}, fmt.Errorf("missing required field %q", f.ID)
		}
	}
	return req, nil
}

func readPart(h *multipart.FileHeader) ([]byte, error) {
	f, err := h.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// emitter tags every frame with the submission's request id so the client
// can tell which job an event belongs to.
type emitter struct {
	hub       *hub
	sid       string
	requestID string
	pending   *events.Frame
}

func (e *emitter) send(name string, payload any) {
	if e.sid == "" {
		return
	}
	f, err := events.NewFrame(name, payload)
	if err != nil {
		return
	}
	e.hub.emit(e.sid, f)
}

func (e *emitter) Status(status string) {
	e.send(events.StatusEventName, map[string]string{"status": status, "request_id": e.requestID})
}

func (e *emitter) Progress(percent float64, message string) {
	e.send(events.ProgressEventName, map[string]any{"percent": percent, "message": message, "request_id": e.requestID})
}

// Complete is held back until flush.
func (e *emitter) Complete(status, filename string) {
	if e.sid == "" {
		return
	}
	f, err := events.NewFrame(events.CompleteEventName, map[string]string{"status": status, "filename": filename, "request_id": e.requestID})
	if err != nil {
		return
	}
	e.pending = &f
}

func (e *emitter) flush() {
	if e.pending != nil {
		e.hub.emit(e.sid, *e.pending)
		e.pending = nil
	}
}

func (e *emitter) Error(status string) {
	e.send(events.ErrorEventName, map[string]string{"status": status, "request_id": e.requestID})
}
