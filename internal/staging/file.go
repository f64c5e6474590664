package staging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// Opener returns a fresh reader over a staged file's content.
type Opener func() (io.ReadCloser, error)

// StagedFile is one user-selected input.
type StagedFile struct {
	Name string
	Size int64
	Type string
	Open Opener
}

// HumanSize renders the size the way the file list shows it.
func (f StagedFile) HumanSize() string {
	return humanize.IBytes(uint64(f.Size))
}

// NewCandidateFromPath stats the file and sniffs its MIME type from the content.
func NewCandidateFromPath(path string) (StagedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return StagedFile{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return StagedFile{}, fmt.Errorf("%s is a directory", path)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return StagedFile{}, fmt.Errorf("detecting type of %s: %w", path, err)
	}
	return StagedFile{
		Name: filepath.Base(path),
		Size: info.Size(),
		Type: mt.String(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// NewCandidate wraps in-memory content. An empty mimeType is sniffed from data.
func NewCandidate(name, mimeType string, data []byte) StagedFile {
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
	}
	return StagedFile{
		Name: name,
		Size: int64(len(data)),
		Type: mimeType,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}
