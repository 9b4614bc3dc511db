// Package engine wraps the external tools that transform uploaded files:
// Ghostscript for compression and pdfcpu for merging and image import.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/ledongthuc/pdf"
)

// Result describes a finished output file.
type Result struct {
	OutputPath   string
	OriginalSize int64
	OutputSize   int64
	PageCount    int
	DPI          int
}

// PageCount returns the number of pages in the PDF at path.
func PageCount(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open PDF: %w", err)
	}
	defer f.Close()
	return r.NumPage(), nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func totalSize(paths []string) (int64, error) {
	var n int64
	for _, p := range paths {
		s, err := fileSize(p)
		if err != nil {
			return 0, fmt.Errorf("input file not found: %w", err)
		}
		n += s
	}
	return n, nil
}

func removeIfExists(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to remove engine output", "path", p, "error", err)
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// runBlocking runs fn, which cannot be interrupted, on its own goroutine. If
// ctx ends first the caller gets ctx.Err() immediately and out is removed
// once fn eventually returns.
func runBlocking(ctx context.Context, out string, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		go func() {
			<-done
			removeIfExists(out)
		}()
		return ctx.Err()
	}
}
