package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/slimpdf/slimpdf-api/internal/apperr"
	"github.com/slimpdf/slimpdf-api/internal/database"
	"github.com/slimpdf/slimpdf-api/internal/models"
)

const (
	MaxActiveKeys  = 5
	defaultKeyName = "Default"
	maxKeyNameLen  = 100
)

var (
	ErrKeyNotFound     = errors.New("api key not found")
	ErrKeyLimitReached = errors.New("api key limit reached")
)

type KeyStore interface {
	FindActiveByHash(ctx context.Context, hash string) (*models.APIKey, error)
	TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	CreateWithinLimit(ctx context.Context, key *models.APIKey, max int) error
	ListActive(ctx context.Context, userID uuid.UUID) ([]models.APIKey, error)
	Revoke(ctx context.Context, userID, keyID uuid.UUID, at time.Time) error
}

type PostgresKeyStore struct {
	db database.Beginner
}

func NewPostgresKeyStore(db database.Beginner) *PostgresKeyStore {
	return &PostgresKeyStore{db: db}
}

const keyColumns = `id, user_id, key_hash, key_prefix, name, last_used_at, created_at, revoked_at`

func scanKey(row pgx.Row) (*models.APIKey, error) {
	var k models.APIKey
	err := row.Scan(&k.ID, &k.UserID, &k.KeyHash, &k.KeyPrefix, &k.Name, &k.LastUsedAt, &k.CreatedAt, &k.RevokedAt)
	return &k, err
}

func (s *PostgresKeyStore) FindActiveByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	k, err := scanKey(s.db.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL`, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find api key: %w", err)
	}
	return k, nil
}

func (s *PostgresKeyStore) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := s.db.Exec(ctx, "UPDATE api_keys SET last_used_at = $1 WHERE id = $2", at, id); err != nil {
		return fmt.Errorf("update api key last_used_at: %w", err)
	}
	return nil
}

// CreateWithinLimit inserts key unless its owner already has max active keys.
// The owner's row lock serializes concurrent creations.
func (s *PostgresKeyStore) CreateWithinLimit(ctx context.Context, key *models.APIKey, max int) error {
	return database.WithTx(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT id FROM users WHERE id = $1 FOR UPDATE", key.UserID); err != nil {
			return fmt.Errorf("lock key owner: %w", err)
		}

		var active int
		if err := tx.QueryRow(ctx,
			"SELECT COUNT(*) FROM api_keys WHERE user_id = $1 AND revoked_at IS NULL", key.UserID,
		).Scan(&active); err != nil {
			return fmt.Errorf("count api keys: %w", err)
		}
		if active >= max {
			return ErrKeyLimitReached
		}

		err := tx.QueryRow(ctx,
			`INSERT INTO api_keys (user_id, key_hash, key_prefix, name)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, created_at`,
			key.UserID, key.KeyHash, key.KeyPrefix, key.Name,
		).Scan(&key.ID, &key.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert api key: %w", err)
		}
		return nil
	})
}

func (s *PostgresKeyStore) ListActive(ctx context.Context, userID uuid.UUID) ([]models.APIKey, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+keyColumns+` FROM api_keys
		 WHERE user_id = $1 AND revoked_at IS NULL
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

func (s *PostgresKeyStore) Revoke(ctx context.Context, userID, keyID uuid.UUID, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE api_keys SET revoked_at = $1 WHERE id = $2 AND user_id = $3 AND revoked_at IS NULL",
		at, keyID, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// CreatedKey is returned once at creation; Key is the only copy of the
// plaintext.
type CreatedKey struct {
	models.APIKey
	Key string `json:"key"`
}

// KeyService manages the API key lifecycle for Pro owners.
type KeyService struct {
	store KeyStore
	now   func() time.Time
}

func NewKeyService(store KeyStore) *KeyService {
	return &KeyService{store: store, now: time.Now}
}

func (s *KeyService) Create(ctx context.Context, owner uuid.UUID, name string) (*CreatedKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultKeyName
	}
	if len(name) > maxKeyNameLen {
		return nil, apperr.Validation(apperr.CodeInvalidRequest, fmt.Sprintf("key name must be at most %d characters", maxKeyNameLen))
	}

	plain, display, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	key := models.APIKey{
		UserID:    owner,
		KeyHash:   HashAPIKey(plain),
		KeyPrefix: display,
		Name:      name,
	}
	err = s.store.CreateWithinLimit(ctx, &key, MaxActiveKeys)
	if errors.Is(err, ErrKeyLimitReached) {
		return nil, apperr.Validation(apperr.CodeKeyLimitReached,
			fmt.Sprintf("maximum of %d active API keys allowed, revoke one to create another", MaxActiveKeys))
	}
	if err != nil {
		return nil, err
	}
	return &CreatedKey{APIKey: key, Key: plain}, nil
}

func (s *KeyService) List(ctx context.Context, owner uuid.UUID) ([]models.APIKey, error) {
	keys, err := s.store.ListActive(ctx, owner)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []models.APIKey{}
	}
	return keys, nil
}

func (s *KeyService) Revoke(ctx context.Context, owner, keyID uuid.UUID) error {
	err := s.store.Revoke(ctx, owner, keyID, s.now())
	if errors.Is(err, ErrKeyNotFound) {
		return apperr.NotFound(apperr.CodeKeyNotFound, "API key not found or already revoked")
	}
	return err
}
