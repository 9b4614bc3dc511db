package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/slimpdf/slimpdf-api/internal/auth"
	"github.com/slimpdf/slimpdf-api/internal/config"
	"github.com/slimpdf/slimpdf-api/internal/files"
	"github.com/slimpdf/slimpdf-api/internal/jobs"
	"github.com/slimpdf/slimpdf-api/internal/models"
	"github.com/slimpdf/slimpdf-api/internal/usage"
)

const clientIP = "203.0.113.9"

var testFilesConfig = config.FilesConfig{
	ExpiryFree:         time.Hour,
	ExpiryPro:          24 * time.Hour,
	MaxFileSizeFreeMB:  1,
	MaxFileSizeProMB:   4,
	MaxImageSizeFreeMB: 1,
	MaxImageSizeProMB:  2,
	MaxFilesMergeFree:  3,
	MaxFilesMergePro:   10,
	MaxImagesFree:      3,
	MaxImagesPro:       10,
}

var testLimits = usage.Limits{models.ToolCompress: 2, models.ToolMerge: 3, models.ToolImageToPDF: 3}

// fakeUsage counts accepted submissions so the ledger sees its own writes.
type fakeUsage struct {
	mu      sync.Mutex
	counts  map[string]int
	summary []models.ToolUsage
	since   time.Time
}

func newFakeUsage() *fakeUsage {
	return &fakeUsage{counts: map[string]int{}}
}

func (f *fakeUsage) CountSince(_ context.Context, tool models.Tool, subject usage.Subject, _ time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[string(tool)+"|"+subject.String()], nil
}

func (f *fakeUsage) Summary(_ context.Context, _ uuid.UUID, since time.Time) ([]models.ToolUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = since
	return f.summary, nil
}

func (f *fakeUsage) record(tool models.Tool, id models.Identity) {
	subject, _ := usage.SubjectOf(id)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[string(tool)+"|"+subject.String()]++
}

type fakeSubmitter struct {
	usage *fakeUsage
	subs  []jobs.Submission
	err   error
}

func (f *fakeSubmitter) Submit(_ context.Context, sub jobs.Submission) (*models.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subs = append(f.subs, sub)
	f.usage.record(sub.Tool, sub.Identity)
	return &models.Job{ID: uuid.New(), Tool: sub.Tool, Status: models.JobStatusPending}, nil
}

type toolFixture struct {
	handler *ToolHandler
	files   *files.Manager
	usage   *fakeUsage
	jobs    *fakeSubmitter
}

func newToolFixture(t *testing.T) *toolFixture {
	t.Helper()
	m, err := files.NewManager(t.TempDir())
	require.NoError(t, err)
	u := newFakeUsage()
	s := &fakeSubmitter{usage: u}
	return &toolFixture{
		handler: NewToolHandler(usage.NewLedger(u, testLimits), m, s, testFilesConfig),
		files:   m,
		usage:   u,
		jobs:    s,
	}
}

func (f *toolFixture) uploads(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(f.files.UploadDir())
	require.NoError(t, err)
	return entries
}

type formPart struct {
	field       string
	filename    string
	contentType string
	body        []byte
}

func pdfPart(field, name string, size int) formPart {
	body := append([]byte("%PDF-1.7\n"), bytes.Repeat([]byte("x"), size)...)
	return formPart{field: field, filename: name, contentType: "application/pdf", body: body}
}

func fieldPart(name, value string) formPart {
	return formPart{field: name, body: []byte(value)}
}

func multipartRequest(t *testing.T, target string, parts ...formPart) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		if p.filename == "" {
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, p.field))
		} else {
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.filename))
		}
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		pw, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = pw.Write(p.body)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func withIdentity(req *http.Request, id models.Identity) *http.Request {
	status := auth.StatusAnonymous
	if id.UserID != nil {
		status = auth.StatusAuthenticated
	}
	return req.WithContext(auth.WithResult(req.Context(), auth.Result{Status: status, Identity: id}))
}

func proIdentity() models.Identity {
	id := uuid.New()
	return models.Identity{UserID: &id, Plan: models.PlanPro, IP: clientIP}
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Limit   int64  `json:"limit"`
		Used    int64  `json:"used"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}
