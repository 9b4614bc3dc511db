package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slimpdf/slimpdf-api/internal/apperr"
	"github.com/slimpdf/slimpdf-api/internal/auth"
	"github.com/slimpdf/slimpdf-api/internal/models"
	"github.com/slimpdf/slimpdf-api/internal/usage"
)

type fakeUsers map[uuid.UUID]*models.User

func (f fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, errors.New("user not found")
}

func TestVerify(t *testing.T) {
	h := NewAccountHandler(fakeUsers{}, usage.NewLedger(newFakeUsage(), testLimits))

	rec := httptest.NewRecorder()
	h.Verify(rec, withIdentity(httptest.NewRequest(http.MethodGet, "/v1/auth/verify", nil), models.Anonymous(clientIP)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"authenticated":false,"plan":"free","is_pro":false}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Verify(rec, withIdentity(httptest.NewRequest(http.MethodGet, "/v1/auth/verify", nil), proIdentity()))
	assert.JSONEq(t, `{"authenticated":true,"plan":"pro","is_pro":true}`, rec.Body.String())
}

func TestMe(t *testing.T) {
	u := newFakeUsage()
	uid := uuid.New()
	users := fakeUsers{uid: {ID: uid, Email: "dana@example.com", Plan: models.PlanFree}}
	h := NewAccountHandler(users, usage.NewLedger(u, testLimits))

	id := models.Identity{UserID: &uid, Plan: models.PlanFree, IP: clientIP}
	u.record(models.ToolMerge, id)

	rec := httptest.NewRecorder()
	h.Me(rec, withIdentity(httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil), id))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Email string            `json:"email"`
		Usage []usage.ToolQuota `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "dana@example.com", body.Email)
	require.Len(t, body.Usage, len(models.Tools))
	for _, q := range body.Usage {
		if q.Tool == models.ToolMerge {
			assert.Equal(t, 1, q.Used)
			assert.Equal(t, 2, q.Remaining)
		}
	}

	rec = httptest.NewRecorder()
	h.Me(rec, withIdentity(httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil), models.Anonymous(clientIP)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUsageDays(t *testing.T) {
	u := newFakeUsage()
	u.summary = []models.ToolUsage{
		{Tool: models.ToolCompress, Count: 4, InputBytes: 4000},
		{Tool: models.ToolMerge, Count: 1, InputBytes: 500},
	}
	h := NewAccountHandler(fakeUsers{}, usage.NewLedger(u, testLimits))
	id := proIdentity()

	for _, days := range []string{"0", "91", "week"} {
		rec := httptest.NewRecorder()
		h.Usage(rec, withIdentity(httptest.NewRequest(http.MethodGet, "/v1/auth/usage?days="+days, nil), id))
		assert.Equal(t, http.StatusBadRequest, rec.Code, days)
	}

	rec := httptest.NewRecorder()
	h.Usage(rec, withIdentity(httptest.NewRequest(http.MethodGet, "/v1/auth/usage?days=7", nil), id))
	require.Equal(t, http.StatusOK, rec.Code)

	var st usage.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 7, st.Days)
	assert.Equal(t, int64(5), st.Total)
	assert.Equal(t, int64(4500), st.InputBytes)
	assert.Equal(t, usage.StartOfDay(time.Now()).AddDate(0, 0, -6), u.since)

	rec = httptest.NewRecorder()
	h.Usage(rec, withIdentity(httptest.NewRequest(http.MethodGet, "/v1/auth/usage", nil), id))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 30, st.Days)
}

type fakeKeys struct {
	keys map[uuid.UUID]models.APIKey
}

func (f *fakeKeys) Create(_ context.Context, owner uuid.UUID, name string) (*auth.CreatedKey, error) {
	k := models.APIKey{ID: uuid.New(), UserID: owner, Name: name, KeyPrefix: "sk_live_abcdefgh...", CreatedAt: time.Now()}
	f.keys[k.ID] = k
	return &auth.CreatedKey{APIKey: k, Key: "sk_live_secret"}, nil
}

func (f *fakeKeys) List(_ context.Context, owner uuid.UUID) ([]models.APIKey, error) {
	out := []models.APIKey{}
	for _, k := range f.keys {
		if k.UserID == owner {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeKeys) Revoke(_ context.Context, owner, keyID uuid.UUID) error {
	k, ok := f.keys[keyID]
	if !ok || k.UserID != owner {
		return apperr.NotFound(apperr.CodeKeyNotFound, "API key not found or already revoked")
	}
	delete(f.keys, keyID)
	return nil
}

func TestKeyLifecycle(t *testing.T) {
	h := NewKeyHandler(&fakeKeys{keys: map[uuid.UUID]models.APIKey{}})
	r := chi.NewRouter()
	r.Get("/v1/keys", h.List)
	r.Post("/v1/keys", h.Create)
	r.Delete("/v1/keys/{key_id}", h.Revoke)
	id := proIdentity()

	do := func(method, target, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, withIdentity(httptest.NewRequest(method, target, strings.NewReader(body)), id))
		return rec
	}

	rec := do(http.MethodPost, "/v1/keys", `{"name":"ci"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Key     string `json:"key"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "ci", created.Name)
	assert.Equal(t, "sk_live_secret", created.Key)
	assert.NotEmpty(t, created.Message)

	rec = do(http.MethodGet, "/v1/keys", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sk_live_secret")
	assert.Contains(t, rec.Body.String(), created.ID)

	rec = do(http.MethodDelete, "/v1/keys/"+created.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodDelete, "/v1/keys/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.CodeKeyNotFound, decodeError(t, rec).Error.Code)

	rec = do(http.MethodPost, "/v1/keys", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodGet, "/v1/keys", "")
	assert.JSONEq(t, `{"keys":[]}`, rec.Body.String())
}

func TestReadyz(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"database": PingFunc(func(context.Context) error { return nil }),
		"redis":    PingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "ok", body.Checks["database"])
	assert.Contains(t, body.Checks["redis"], "connection refused")

	rec = httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
