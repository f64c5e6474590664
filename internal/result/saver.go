package result

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

// Saver persists a retrieved artifact and returns where it went.
type Saver interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
}

// DirSaver writes artifacts into a local directory.
type DirSaver struct {
	// rootDir is the output directory; empty means the working directory
	rootDir string
}

func NewDirSaver(rootDir string) *DirSaver {
	return &DirSaver{rootDir: rootDir}
}

// PathFor returns the full path for the provided file name.
func (d *DirSaver) PathFor(name string) string {
	return path.Join(d.rootDir, name)
}

// Save writes into a temporary file next to the target and renames it once
// the copy succeeded, so a failed download never leaves a truncated artifact.
func (d *DirSaver) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	if d.rootDir != "" {
		if err := os.MkdirAll(d.rootDir, 0755); err != nil {
			return "", fmt.Errorf("creating output directory: %w", err)
		}
	}
	target := d.PathFor(name)
	outFile, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.part")
	if err != nil {
		return "", err
	}
	tmpName := outFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(outFile, &ctxReader{ctx: ctx, r: r}); err != nil {
		_ = outFile.Close()
		return "", fmt.Errorf("writing %s: %w", target, err)
	}
	if err := outFile.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", target, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return "", fmt.Errorf("moving %s into place: %w", target, err)
	}
	committed = true
	return target, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
