package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slimpdf/slimpdf-api/internal/api/middleware"
	"github.com/slimpdf/slimpdf-api/internal/apperr"
	"github.com/slimpdf/slimpdf-api/internal/auth"
	"github.com/slimpdf/slimpdf-api/internal/config"
	"github.com/slimpdf/slimpdf-api/internal/models"
	"github.com/slimpdf/slimpdf-api/internal/usage"
	"github.com/slimpdf/slimpdf-api/internal/users"
)

type memUsers map[uuid.UUID]*models.User

func (m memUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := m[id]; ok {
		return u, nil
	}
	return nil, users.ErrNotFound
}

type memKeys struct {
	keys map[uuid.UUID]*models.APIKey
}

func (m *memKeys) FindActiveByHash(_ context.Context, hash string) (*models.APIKey, error) {
	for _, k := range m.keys {
		if k.KeyHash == hash && k.IsActive() {
			return k, nil
		}
	}
	return nil, auth.ErrKeyNotFound
}

func (m *memKeys) TouchLastUsed(context.Context, uuid.UUID, time.Time) error { return nil }

func (m *memKeys) CreateWithinLimit(_ context.Context, key *models.APIKey, _ int) error {
	key.ID = uuid.New()
	key.CreatedAt = time.Now()
	m.keys[key.ID] = key
	return nil
}

func (m *memKeys) ListActive(_ context.Context, userID uuid.UUID) ([]models.APIKey, error) {
	var out []models.APIKey
	for _, k := range m.keys {
		if k.UserID == userID && k.IsActive() {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (m *memKeys) Revoke(_ context.Context, userID, keyID uuid.UUID, at time.Time) error {
	k, ok := m.keys[keyID]
	if !ok || k.UserID != userID || !k.IsActive() {
		return auth.ErrKeyNotFound
	}
	k.RevokedAt = &at
	return nil
}

// seenIPs records the address each quota lookup was made for.
type seenIPs struct {
	ips []string
}

func (s *seenIPs) Today(_ context.Context, id models.Identity) ([]usage.ToolQuota, error) {
	s.ips = append(s.ips, id.IP)
	return nil, nil
}

func (s *seenIPs) Stats(context.Context, uuid.UUID, int) (*usage.Stats, error) {
	return &usage.Stats{}, nil
}

type fixture struct {
	handler http.Handler
	tokens  *auth.TokenManager
	keys    *auth.KeyService
	users   memUsers
	usage   *seenIPs
}

func newFixture(t *testing.T, trusted ...netip.Prefix) *fixture {
	t.Helper()
	cfg := &config.Config{Server: config.ServerConfig{
		CORSOrigins:    []string{"https://slimpdf.io"},
		TrustedProxies: trusted,
	}}
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	store := &memKeys{keys: map[uuid.UUID]*models.APIKey{}}
	u := memUsers{}
	keys := auth.NewKeyService(store)
	seen := &seenIPs{}

	router := NewRouter(cfg, Deps{
		Auth:    auth.NewMiddleware(auth.NewResolver(tokens, store, u), "X-API-Key"),
		Limiter: middleware.NewRateLimiter(100, 100),
		Keys:    keys,
		Users:   u,
		Usage:   seen,
	})
	return &fixture{handler: router.Setup(), tokens: tokens, keys: keys, users: u, usage: seen}
}

func (f *fixture) user(t *testing.T, plan models.Plan) (*models.User, string) {
	t.Helper()
	u := &models.User{ID: uuid.New(), Email: "sam@example.com", Plan: plan}
	f.users[u.ID] = u
	token, err := f.tokens.Issue(u)
	require.NoError(t, err)
	return u, token
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	req.RemoteAddr = "198.51.100.20:4000"
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestKeysRequirePro(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/v1/keys", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperr.CodeAuthRequired, errorCode(t, rec))

	_, free := f.user(t, models.PlanFree)
	req := httptest.NewRequest(http.MethodGet, "/v1/keys", nil)
	req.Header.Set("Authorization", "Bearer "+free)
	rec = f.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperr.CodeProRequired, errorCode(t, rec))

	_, pro := f.user(t, models.PlanPro)
	req = httptest.NewRequest(http.MethodGet, "/v1/keys", nil)
	req.Header.Set("Authorization", "Bearer "+pro)
	rec = f.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"keys":[]}`, rec.Body.String())
}

func TestRevokedKeyRejectedOnKeys(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.user(t, models.PlanPro)

	created, err := f.keys.Create(context.Background(), owner.ID, "ci")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/keys", nil)
	req.Header.Set("X-API-Key", created.Key)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, f.keys.Revoke(context.Background(), owner.ID, created.ID))

	req = httptest.NewRequest(http.MethodGet, "/v1/keys", nil)
	req.Header.Set("X-API-Key", created.Key)
	rec = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperr.CodeAPIKeyInvalid, errorCode(t, rec))
}

func TestAuthRoutesValidateOrigin(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/verify", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := f.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperr.CodeOriginRejected, errorCode(t, rec))

	req = httptest.NewRequest(http.MethodGet, "/v1/auth/verify", nil)
	req.Header.Set("Origin", "https://slimpdf.io")
	rec = f.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://slimpdf.io", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/v1/auth/verify", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"authenticated":false,"plan":"free","is_pro":false}`, rec.Body.String())
}

func TestInvalidTokenDegradesOnVerifyButNotOnMe(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/verify", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := f.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperr.CodeTokenInvalid, errorCode(t, rec))
}

func TestForwardedForIgnoredFromUntrustedPeer(t *testing.T) {
	f := newFixture(t)
	_, token := f.user(t, models.PlanFree)

	for _, spoof := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Forwarded-For", spoof)
		rec := f.do(req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, []string{"198.51.100.20", "198.51.100.20"}, f.usage.ips)
}

func TestForwardedForHonoredFromTrustedProxy(t *testing.T) {
	f := newFixture(t, netip.MustParsePrefix("198.51.100.0/24"))
	_, token := f.user(t, models.PlanFree)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Forwarded-For", "203.0.113.1, 198.51.100.20")
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"203.0.113.1"}, f.usage.ips)
}
