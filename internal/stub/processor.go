package stub

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/docforge/toolkit-client/internal/tool"
	"github.com/google/uuid"
)

type UploadedFile struct {
	Name string
	Data []byte
}

// Request is one job received by the stub.
type Request struct {
	Tool      tool.Descriptor
	SocketID  string
	RequestID string
	Files     []UploadedFile
	Params    map[string]string
}

// Outcome tells the stub how to answer a job.
type Outcome struct {
	// Filename of the produced artifact.
	Filename string
	Content  []byte
	// Inline returns the artifact in the response body instead of a JSON reference.
	Inline bool
	// Err makes the job fail with {success:false, message:Err}.
	Err string
	// StatusCode overrides the HTTP status of the response.
	StatusCode int
}

// Emitter pushes named events to the submitting client's channel.
type Emitter interface {
	Status(status string)
	Progress(percent float64, message string)
	Complete(status, filename string)
	Error(status string)
}

type Processor func(ctx context.Context, req Request, emit Emitter) Outcome

// DefaultProcessor stands in for the real document pipeline: it reports a few
// progress steps and returns the concatenated inputs as the artifact.
func DefaultProcessor(step time.Duration) Processor {
	return func(ctx context.Context, req Request, emit Emitter) Outcome {
		emit.Status(fmt.Sprintf("Processing %d file(s) with %s", len(req.Files), req.Tool.Label))
		for _, p := range []float64{25, 50, 75, 100} {
			select {
			case <-ctx.Done():
				return Outcome{Err: ctx.Err().Error()}
			case <-time.After(step):
			}
			emit.Progress(p, fmt.Sprintf("%s: %.0f%%", req.Tool.ID, p))
		}

		var out bytes.Buffer
		for _, f := range req.Files {
			out.Write(f.Data)
		}
		name := outputName(req.Tool.ID)
		emit.Complete("Processing complete!", name)
		return Outcome{Filename: name, Content: out.Bytes()}
	}
}

func outputName(toolID string) string {
	if toolID == "merge" {
		return "merged.pdf"
	}
	return fmt.Sprintf("%s_%s.pdf", toolID, uuid.NewString()[:8])
}
