package files

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/slimpdf/slimpdf-api/internal/apperr"
)

const maxFieldBytes = 4 << 10

// IntakeSpec bounds one multipart upload.
type IntakeSpec struct {
	Kind     Kind
	Field    string
	MinFiles int
	MaxFiles int
	MaxBytes int64
}

// RequestCeiling is the hard body limit backing the per-file stream ceiling.
func (s IntakeSpec) RequestCeiling() int64 {
	return int64(s.MaxFiles)*s.MaxBytes + 1<<20
}

// Upload is a validated batch of saved files plus the plain form fields that
// arrived with it.
type Upload struct {
	Files  []Saved
	Fields map[string]string

	m *Manager
}

func (u *Upload) Paths() []string {
	paths := make([]string, len(u.Files))
	for i, f := range u.Files {
		paths[i] = f.Path
	}
	return paths
}

func (u *Upload) TotalBytes() int64 {
	var n int64
	for _, f := range u.Files {
		n += f.Size
	}
	return n
}

// Discard deletes every saved file in the batch.
func (u *Upload) Discard() {
	if u == nil || u.m == nil {
		return
	}
	u.m.DeleteAll(u.Paths())
	u.Files = nil
}

// Receive consumes mr part by part. File parts under spec.Field are counted,
// type-checked and streamed to disk in arrival order; the part that would
// exceed spec.MaxFiles is rejected before any of its bytes are written. On
// any failure every file already saved from this request is deleted.
func (m *Manager) Receive(mr *multipart.Reader, spec IntakeSpec) (*Upload, error) {
	u := &Upload{Fields: make(map[string]string), m: m}

	fail := func(err error) (*Upload, error) {
		u.Discard()
		return nil, err
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(streamError(err, spec.MaxBytes))
		}

		name := part.FormName()
		if part.FileName() == "" {
			v, err := readField(part)
			part.Close()
			if err != nil {
				return fail(err)
			}
			u.Fields[name] = v
			continue
		}

		if name != spec.Field {
			part.Close()
			continue
		}

		if len(u.Files) >= spec.MaxFiles {
			part.Close()
			return fail(apperr.Validation(apperr.CodeTooManyFiles,
				fmt.Sprintf("at most %d files allowed for your plan", spec.MaxFiles)))
		}

		if err := ValidateType(spec.Kind, part.FileName(), part.Header.Get("Content-Type")); err != nil {
			part.Close()
			return fail(err)
		}

		saved, err := m.SaveUpload(part, part.FileName(), spec.MaxBytes)
		part.Close()
		if err != nil {
			return fail(err)
		}
		u.Files = append(u.Files, saved)
	}

	if len(u.Files) == 0 {
		return fail(apperr.Validation(apperr.CodeNoFiles, "no files uploaded"))
	}
	if len(u.Files) < spec.MinFiles {
		return fail(apperr.Validation(apperr.CodeTooFewFiles,
			fmt.Sprintf("at least %d files are required", spec.MinFiles)))
	}
	return u, nil
}

func readField(part *multipart.Part) (string, error) {
	b, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
	if err != nil {
		return "", streamError(err, 0)
	}
	if len(b) > maxFieldBytes {
		return "", apperr.Validation(apperr.CodeInvalidRequest,
			fmt.Sprintf("form field %q is too long", part.FormName()))
	}
	return strings.TrimSpace(string(b)), nil
}

func streamError(err error, limit int64) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		if limit == 0 {
			limit = maxErr.Limit
		}
		return apperr.FileTooLarge(limit, maxErr.Limit)
	}
	return apperr.Validation(apperr.CodeInvalidRequest, "malformed multipart body")
}
