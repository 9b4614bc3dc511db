package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slimpdf/slimpdf-api/internal/apperr"
	"github.com/slimpdf/slimpdf-api/internal/models"
	"github.com/slimpdf/slimpdf-api/internal/users"
)

type Status int

const (
	StatusAnonymous Status = iota
	StatusAuthenticated
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusInvalid:
		return "invalid"
	default:
		return "anonymous"
	}
}

// Result is the outcome of resolving a request's credentials. For Invalid,
// Identity is the anonymous identity the caller degrades to on optional-auth
// paths and Err explains the rejection.
type Result struct {
	Status   Status
	Identity models.Identity
	Err      *apperr.Error
}

type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type Resolver struct {
	tokens *TokenManager
	keys   KeyStore
	users  UserLookup
	now    func() time.Time
}

func NewResolver(tokens *TokenManager, keys KeyStore, users UserLookup) *Resolver {
	return &Resolver{tokens: tokens, keys: keys, users: users, now: time.Now}
}

// Resolve turns a bearer credential (session token or API key, possibly
// empty) into a Result. ip is recorded on every identity so anonymous
// callers can be counted.
func (r *Resolver) Resolve(ctx context.Context, credential, ip string) Result {
	credential = strings.TrimSpace(credential)
	anon := models.Anonymous(ip)

	if credential == "" {
		return Result{Status: StatusAnonymous, Identity: anon}
	}

	var (
		id  models.Identity
		err error
	)
	if LooksLikeAPIKey(credential) {
		id, err = r.resolveAPIKey(ctx, credential)
	} else {
		id, err = r.resolveSession(ctx, credential)
	}
	if err != nil {
		e := apperr.As(err)
		if e == nil {
			slog.Error("identity resolution failed", "error", err)
			e = apperr.Authentication(apperr.CodeTokenInvalid, "could not verify credentials")
		}
		return Result{Status: StatusInvalid, Identity: anon, Err: e}
	}

	id.IP = ip
	return Result{Status: StatusAuthenticated, Identity: id}
}

func (r *Resolver) resolveAPIKey(ctx context.Context, key string) (models.Identity, error) {
	ak, err := r.keys.FindActiveByHash(ctx, HashAPIKey(key))
	if errors.Is(err, ErrKeyNotFound) {
		return models.Identity{}, apperr.Authentication(apperr.CodeAPIKeyInvalid, "invalid or revoked API key")
	}
	if err != nil {
		return models.Identity{}, err
	}

	if err := r.keys.TouchLastUsed(ctx, ak.ID, r.now()); err != nil {
		slog.Warn("failed to record api key use", "key_id", ak.ID, "error", err)
	}

	owner, err := r.users.GetByID(ctx, ak.UserID)
	if errors.Is(err, users.ErrNotFound) {
		return models.Identity{}, apperr.Authentication(apperr.CodeAPIKeyInvalid, "API key owner no longer exists")
	}
	if err != nil {
		return models.Identity{}, fmt.Errorf("load api key owner: %w", err)
	}
	if !owner.IsPro() {
		return models.Identity{}, apperr.Authentication(apperr.CodeProRequired, "API keys require an active Pro subscription")
	}

	return models.Identity{
		UserID:    &owner.ID,
		Email:     owner.Email,
		Name:      owner.Name,
		Plan:      models.PlanPro,
		ViaAPIKey: true,
	}, nil
}

func (r *Resolver) resolveSession(ctx context.Context, token string) (models.Identity, error) {
	claims, userID, err := r.tokens.Parse(token)
	if errors.Is(err, ErrTokenExpired) {
		return models.Identity{}, apperr.Authentication(apperr.CodeTokenExpired, "session token has expired")
	}
	if err != nil {
		return models.Identity{}, apperr.Authentication(apperr.CodeTokenInvalid, "invalid session token")
	}

	id := models.Identity{UserID: &userID, Email: claims.Email, Name: claims.Name, Plan: claims.Plan}
	if id.Plan != models.PlanPro {
		id.Plan = models.PlanFree
	}

	u, err := r.users.GetByID(ctx, userID)
	switch {
	case err == nil:
		id.Email, id.Name, id.Plan = u.Email, u.Name, u.Plan
	case errors.Is(err, users.ErrNotFound):
		// claims stand in for users without a durable record
	default:
		slog.Warn("user lookup failed, using token claims", "user_id", userID, "error", err)
	}
	return id, nil
}
