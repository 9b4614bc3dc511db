package files

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slimpdf/slimpdf-api/internal/apperr"
)

const chunkSize = 64 << 10

// Manager owns the two temp directories shared by the API and the worker.
// Files are always named by a random id, never by the client's filename.
type Manager struct {
	root      string
	uploadDir string
	outputDir string
	now       func() time.Time
}

func NewManager(root string) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve temp dir: %w", err)
	}
	m := &Manager{
		root:      abs,
		uploadDir: filepath.Join(abs, "uploads"),
		outputDir: filepath.Join(abs, "processed"),
		now:       time.Now,
	}
	for _, dir := range []string{m.uploadDir, m.outputDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return m, nil
}

func (m *Manager) Root() string      { return m.root }
func (m *Manager) UploadDir() string { return m.uploadDir }
func (m *Manager) OutputDir() string { return m.outputDir }

// Saved is one file persisted to the uploads directory.
type Saved struct {
	Path         string
	OriginalName string
	Size         int64
}

// SaveUpload streams r into a new upload file in fixed-size chunks. Once more
// than maxBytes have been read the partial file is removed and a
// FILE_TOO_LARGE error reports the limit and the bytes seen.
func (m *Manager) SaveUpload(r io.Reader, originalName string, maxBytes int64) (Saved, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	path := filepath.Join(m.uploadDir, uuid.NewString()+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return Saved{}, fmt.Errorf("create upload file: %w", err)
	}

	var total int64
	buf := make([]byte, chunkSize)
	fail := func(err error) (Saved, error) {
		f.Close()
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			slog.Warn("failed to remove partial upload", "path", path, "error", rmErr)
		}
		return Saved{}, err
	}

	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > maxBytes {
				return fail(apperr.FileTooLarge(maxBytes, total))
			}
			if _, err := f.Write(buf[:n]); err != nil {
				return fail(fmt.Errorf("write upload file: %w", err))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			var maxErr *http.MaxBytesError
			if errors.As(rerr, &maxErr) {
				return fail(apperr.FileTooLarge(maxBytes, total))
			}
			return fail(apperr.Validation(apperr.CodeInvalidRequest, "upload stream interrupted"))
		}
	}

	if err := f.Close(); err != nil {
		return fail(fmt.Errorf("close upload file: %w", err))
	}
	return Saved{Path: path, OriginalName: originalName, Size: total}, nil
}

// OutputPath returns a fresh path in the processed directory.
func (m *Manager) OutputPath() string {
	return filepath.Join(m.outputDir, uuid.NewString()+".pdf")
}

// Contains reports whether path lies inside the managed temp root.
func (m *Manager) Contains(path string) bool {
	rel, err := filepath.Rel(m.root, filepath.Clean(path))
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// Delete removes path if it lies inside the temp root. A missing file is not
// an error.
func (m *Manager) Delete(path string) error {
	if path == "" {
		return nil
	}
	if !m.Contains(path) {
		return fmt.Errorf("refusing to delete %s outside temp dir", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", filepath.Base(path), err)
	}
	return nil
}

// DeleteAll removes every path, logging failures and continuing.
func (m *Manager) DeleteAll(paths []string) {
	for _, p := range paths {
		if err := m.Delete(p); err != nil {
			slog.Warn("temp file cleanup failed", "path", p, "error", err)
		}
	}
}

// Exists reports whether path is a regular file inside the temp root.
func (m *Manager) Exists(path string) bool {
	if !m.Contains(path) {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// RemoveOlderThan deletes files in both temp directories whose modification
// time is older than maxAge, regardless of any job that may reference them.
// It returns the number removed; individual failures are logged.
func (m *Manager) RemoveOlderThan(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)
	removed := 0
	for _, dir := range []string{m.uploadDir, m.outputDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			slog.Warn("scan temp dir failed", "dir", dir, "error", err)
			continue
		}
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("orphan file removal failed", "path", path, "error", err)
				continue
			}
			removed++
		}
	}
	return removed
}
