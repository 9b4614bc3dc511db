package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/slimpdf/slimpdf-api/internal/cache"
	"github.com/slimpdf/slimpdf-api/internal/database"
	"github.com/slimpdf/slimpdf-api/internal/models"
)

var ErrNotFound = errors.New("user not found")

type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Service reads durable user records, caching them in redis for ttl so that
// identity resolution does not hit Postgres on every request.
type Service struct {
	db    database.DBTX
	cache Cache
	ttl   time.Duration
}

func NewService(db database.DBTX, c Cache, ttl time.Duration) *Service {
	return &Service{db: db, cache: c, ttl: ttl}
}

func cacheKey(id uuid.UUID) string {
	return "user:" + id.String()
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if s.cache != nil {
		var u models.User
		err := s.cache.Get(ctx, cacheKey(id), &u)
		if err == nil {
			return &u, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			slog.Warn("user cache read failed", "user_id", id, "error", err)
		}
	}

	var u models.User
	err := s.db.QueryRow(ctx,
		`SELECT id, email, name, plan, stripe_customer_id, created_at, updated_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Name, &u.Plan, &u.StripeCustomerID, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey(id), u, s.ttl); err != nil {
			slog.Warn("user cache write failed", "user_id", id, "error", err)
		}
	}
	return &u, nil
}
