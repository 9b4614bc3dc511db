package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/slimpdf/slimpdf-api/internal/apperr"
	"github.com/slimpdf/slimpdf-api/internal/auth"
	"github.com/slimpdf/slimpdf-api/internal/models"
)

type KeyManager interface {
	Create(ctx context.Context, owner uuid.UUID, name string) (*auth.CreatedKey, error)
	List(ctx context.Context, owner uuid.UUID) ([]models.APIKey, error)
	Revoke(ctx context.Context, owner, keyID uuid.UUID) error
}

// KeyHandler serves /v1/keys. Routes are mounted behind auth.RequirePro, so
// the identity always carries a user id.
type KeyHandler struct {
	keys KeyManager
}

func NewKeyHandler(keys KeyManager) *KeyHandler {
	return &KeyHandler{keys: keys}
}

type createKeyRequest struct {
	Name string `json:"name"`
}

type createKeyResponse struct {
	*auth.CreatedKey
	Message string `json:"message"`
}

func owner(r *http.Request) uuid.UUID {
	id := auth.IdentityFromContext(r.Context())
	if id.UserID == nil {
		return uuid.Nil
	}
	return *id.UserID
}

func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List(r.Context(), owner(r))
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": keys})
}

func (h *KeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	r.Body = http.MaxBytesReader(w, r.Body, 4<<10)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		apperr.Write(w, apperr.Validation(apperr.CodeInvalidRequest, "invalid request body"))
		return
	}

	created, err := h.keys.Create(r.Context(), owner(r), req.Name)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createKeyResponse{
		CreatedKey: created,
		Message:    "Store this key securely - it cannot be retrieved again!",
	})
}

func (h *KeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	keyID, err := uuid.Parse(chi.URLParam(r, "key_id"))
	if err != nil {
		apperr.Write(w, apperr.NotFound(apperr.CodeKeyNotFound, "API key not found or already revoked"))
		return
	}
	if err := h.keys.Revoke(r.Context(), owner(r), keyID); err != nil {
		apperr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "API key revoked successfully"})
}
