package files

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Local opens submitted files from the filesystem and spools uploads
// received over HTTP into SpoolDir.
type Local struct {
	SpoolDir string
}

func NewLocal(spoolDir string) (*Local, error) {
	if spoolDir == "" {
		spoolDir = filepath.Join(os.TempDir(), "filescope-spool")
	}
	if err := os.MkdirAll(spoolDir, 0o750); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Local{SpoolDir: spoolDir}, nil
}

// Open implements submission.FileOpener; ref is a filesystem path.
func (l *Local) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	return os.Open(ref)
}

// Stage copies r into the spool dir and returns its path and size. At most
// limit+1 bytes are written so callers can reject oversized uploads.
func (l *Local) Stage(name string, r io.Reader, limit int64) (ref string, size int64, err error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "upload"
	}
	ref = filepath.Join(l.SpoolDir, uuid.NewString()+"-"+base)

	f, err := os.OpenFile(ref, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", 0, err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			os.Remove(ref)
		}
	}()

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	size, err = io.Copy(f, src)
	if err != nil {
		return "", 0, fmt.Errorf("spool %s: %w", base, err)
	}
	return ref, size, nil
}

// Release removes a spooled file. Paths outside the spool dir are left alone.
func (l *Local) Release(ref string) error {
	rel, err := filepath.Rel(l.SpoolDir, ref)
	if err != nil || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return nil
	}
	if err := os.Remove(ref); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Describe stats a local path for the CLI.
func Describe(path string) (name string, size int64, err error) {
	st, err := os.Stat(path)
	if err != nil {
		return "", 0, err
	}
	if st.IsDir() {
		return "", 0, fmt.Errorf("%s is a directory", path)
	}
	return filepath.Base(path), st.Size(), nil
}
