package result

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/docforge/toolkit-client/internal/job"
	"go.uber.org/zap"
)

var ErrNoResult = errors.New("job has no result to retrieve")

// Downloader fetches artifacts from the backend.
type Downloader interface {
	BaseURL() string
	Download(ctx context.Context, rawURL string) (io.ReadCloser, string, error)
}

// Saved describes a retrieved artifact.
type Saved struct {
	Name     string
	Location string
}

type Retriever struct {
	downloader Downloader
	saver      Saver
}

func NewRetriever(d Downloader, s Saver) *Retriever {
	return &Retriever{downloader: d, saver: s}
}

// Retrieve saves the artifact of a completed job. Inline content is saved as
// is; a reference is fetched from the download endpoint first.
func (r *Retriever) Retrieve(ctx context.Context, res *job.Result) (Saved, error) {
	if res == nil || (!res.IsInline() && res.Filename == "") {
		return Saved{}, ErrNoResult
	}

	if res.IsInline() {
		name := FilenameFromDisposition(res.Disposition)
		if res.Disposition == "" && sanitize(res.Filename) != "" {
			name = sanitize(res.Filename)
		}
		return r.save(ctx, name, bytes.NewReader(res.Content))
	}

	downloadURL, err := DownloadURL(r.downloader.BaseURL(), res.Filename)
	if err != nil {
		return Saved{}, err
	}
	body, disposition, err := r.downloader.Download(ctx, downloadURL)
	if err != nil {
		return Saved{}, fmt.Errorf("downloading %s: %w", res.Filename, err)
	}
	defer body.Close()

	name := sanitize(res.Filename)
	if name == "" {
		name = FilenameFromDisposition(disposition)
	}
	return r.save(ctx, name, body)
}

func (r *Retriever) save(ctx context.Context, name string, body io.Reader) (Saved, error) {
	location, err := r.saver.Save(ctx, name, body)
	if err != nil {
		return Saved{}, fmt.Errorf("saving %s: %w", name, err)
	}
	zap.S().Named("result").Infow("artifact saved", "name", name, "location", location)
	return Saved{Name: name, Location: location}, nil
}
