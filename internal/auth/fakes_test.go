package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slimpdf/slimpdf-api/internal/models"
	"github.com/slimpdf/slimpdf-api/internal/users"
)

type fakeKeyStore struct {
	mu      sync.Mutex
	keys    map[uuid.UUID]*models.APIKey
	touched []uuid.UUID
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{keys: map[uuid.UUID]*models.APIKey{}}
}

func (f *fakeKeyStore) FindActiveByHash(_ context.Context, hash string) (*models.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.keys {
		if k.KeyHash == hash && k.IsActive() {
			c := *k
			return &c, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (f *fakeKeyStore) TouchLastUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[id].LastUsedAt = &at
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeKeyStore) CreateWithinLimit(_ context.Context, key *models.APIKey, max int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	active := 0
	for _, k := range f.keys {
		if k.UserID == key.UserID && k.IsActive() {
			active++
		}
	}
	if active >= max {
		return ErrKeyLimitReached
	}
	key.ID = uuid.New()
	key.CreatedAt = time.Now()
	c := *key
	f.keys[key.ID] = &c
	return nil
}

func (f *fakeKeyStore) ListActive(_ context.Context, userID uuid.UUID) ([]models.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.APIKey
	for _, k := range f.keys {
		if k.UserID == userID && k.IsActive() {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (f *fakeKeyStore) Revoke(_ context.Context, userID, keyID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[keyID]
	if !ok || k.UserID != userID || !k.IsActive() {
		return ErrKeyNotFound
	}
	k.RevokedAt = &at
	return nil
}

type fakeUsers map[uuid.UUID]*models.User

func (f fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	return u, nil
}
