package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slimpdf/slimpdf-api/internal/apperr"
	"github.com/slimpdf/slimpdf-api/internal/models"
)

type resolverFixture struct {
	resolver *Resolver
	tokens   *TokenManager
	keys     *fakeKeyStore
	users    fakeUsers
	svc      *KeyService
}

func newResolverFixture() *resolverFixture {
	f := &resolverFixture{
		tokens: NewTokenManager("secret", time.Hour),
		keys:   newFakeKeyStore(),
		users:  fakeUsers{},
	}
	f.resolver = NewResolver(f.tokens, f.keys, f.users)
	f.svc = NewKeyService(f.keys)
	return f
}

func (f *resolverFixture) addUser(plan models.Plan) *models.User {
	u := &models.User{ID: uuid.New(), Email: "user@example.com", Plan: plan}
	f.users[u.ID] = u
	return u
}

func TestResolveAnonymous(t *testing.T) {
	f := newResolverFixture()
	res := f.resolver.Resolve(context.Background(), "", "203.0.113.7")

	assert.Equal(t, StatusAnonymous, res.Status)
	assert.Nil(t, res.Identity.UserID)
	assert.False(t, res.Identity.IsPro())
	assert.Equal(t, "203.0.113.7", res.Identity.IP)
}

func TestResolveAPIKeyProOwner(t *testing.T) {
	f := newResolverFixture()
	owner := f.addUser(models.PlanPro)
	created, err := f.svc.Create(context.Background(), owner.ID, "ci")
	require.NoError(t, err)

	res := f.resolver.Resolve(context.Background(), created.Key, "10.0.0.1")
	require.Equal(t, StatusAuthenticated, res.Status)
	assert.True(t, res.Identity.IsPro())
	assert.True(t, res.Identity.ViaAPIKey)
	assert.Equal(t, owner.ID, *res.Identity.UserID)
	assert.Equal(t, "10.0.0.1", res.Identity.IP)
	assert.Equal(t, []uuid.UUID{created.ID}, f.keys.touched)
}

func TestResolveAPIKeyFreeOwnerRejected(t *testing.T) {
	f := newResolverFixture()
	owner := f.addUser(models.PlanPro)
	created, err := f.svc.Create(context.Background(), owner.ID, "")
	require.NoError(t, err)

	// plan lapsed after the key was created
	owner.Plan = models.PlanFree

	res := f.resolver.Resolve(context.Background(), created.Key, "10.0.0.1")
	require.Equal(t, StatusInvalid, res.Status)
	assert.Equal(t, apperr.CodeProRequired, res.Err.Code)
	assert.Equal(t, apperr.KindAuthentication, res.Err.Kind)
	assert.False(t, res.Identity.IsPro())
}

func TestResolveRevokedAPIKey(t *testing.T) {
	f := newResolverFixture()
	owner := f.addUser(models.PlanPro)
	created, err := f.svc.Create(context.Background(), owner.ID, "")
	require.NoError(t, err)
	require.NoError(t, f.svc.Revoke(context.Background(), owner.ID, created.ID))

	res := f.resolver.Resolve(context.Background(), created.Key, "10.0.0.1")
	require.Equal(t, StatusInvalid, res.Status)
	assert.Equal(t, apperr.CodeAPIKeyInvalid, res.Err.Code)
	assert.Empty(t, f.keys.touched)
}

func TestResolveSessionPrefersStoredPlan(t *testing.T) {
	f := newResolverFixture()
	u := f.addUser(models.PlanFree)
	tok, err := f.tokens.Issue(u)
	require.NoError(t, err)

	// upgraded after the token was minted
	u.Plan = models.PlanPro

	res := f.resolver.Resolve(context.Background(), tok, "10.0.0.1")
	require.Equal(t, StatusAuthenticated, res.Status)
	assert.True(t, res.Identity.IsPro())
	assert.False(t, res.Identity.ViaAPIKey)
}

func TestResolveSessionFallsBackToClaims(t *testing.T) {
	f := newResolverFixture()
	u := &models.User{ID: uuid.New(), Email: "ghost@example.com", Plan: models.PlanPro}
	tok, err := f.tokens.Issue(u)
	require.NoError(t, err)

	res := f.resolver.Resolve(context.Background(), tok, "10.0.0.1")
	require.Equal(t, StatusAuthenticated, res.Status)
	assert.True(t, res.Identity.IsPro())
	assert.Equal(t, "ghost@example.com", res.Identity.Email)
}

func TestResolveBadSession(t *testing.T) {
	f := newResolverFixture()

	res := f.resolver.Resolve(context.Background(), "not.a.jwt", "10.0.0.1")
	require.Equal(t, StatusInvalid, res.Status)
	assert.Equal(t, apperr.CodeTokenInvalid, res.Err.Code)
	assert.Equal(t, "10.0.0.1", res.Identity.IP)

	f.tokens.now = func() time.Time { return time.Now().Add(-3 * time.Hour) }
	tok, err := f.tokens.Issue(&models.User{ID: uuid.New()})
	require.NoError(t, err)
	f.tokens.now = time.Now

	res = f.resolver.Resolve(context.Background(), tok, "10.0.0.1")
	require.Equal(t, StatusInvalid, res.Status)
	assert.Equal(t, apperr.CodeTokenExpired, res.Err.Code)
}
