package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/slimpdf/slimpdf-api/internal/apperr"
	"github.com/slimpdf/slimpdf-api/internal/auth"
	"github.com/slimpdf/slimpdf-api/internal/models"
	"github.com/slimpdf/slimpdf-api/internal/usage"
)

const (
	defaultUsageDays = 30
	maxUsageDays     = 90
)

type UserGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type UsageReporter interface {
	Today(ctx context.Context, id models.Identity) ([]usage.ToolQuota, error)
	Stats(ctx context.Context, userID uuid.UUID, days int) (*usage.Stats, error)
}

type AccountHandler struct {
	users UserGetter
	usage UsageReporter
}

func NewAccountHandler(users UserGetter, usage UsageReporter) *AccountHandler {
	return &AccountHandler{users: users, usage: usage}
}

type meResponse struct {
	*models.User
	Usage []usage.ToolQuota `json:"usage"`
}

// Me handles GET /v1/auth/me.
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id.UserID == nil {
		apperr.Write(w, apperr.Authentication(apperr.CodeAuthRequired, "authentication required"))
		return
	}

	u, err := h.users.GetByID(r.Context(), *id.UserID)
	if err != nil {
		apperr.Write(w, apperr.Internal(err))
		return
	}
	today, err := h.usage.Today(r.Context(), id)
	if err != nil {
		apperr.Write(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: u, Usage: today})
}

// Verify handles GET /v1/auth/verify. It never fails for anonymous callers.
func (h *AccountHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": id.IsAuthenticated(),
		"plan":          id.Plan,
		"is_pro":        id.IsPro(),
	})
}

// Usage handles GET /v1/auth/usage?days=N.
func (h *AccountHandler) Usage(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id.UserID == nil {
		apperr.Write(w, apperr.Authentication(apperr.CodeAuthRequired, "authentication required"))
		return
	}

	days := defaultUsageDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxUsageDays {
			apperr.Write(w, apperr.Validation(apperr.CodeInvalidRequest, "days must be between 1 and 90"))
			return
		}
		days = n
	}

	st, err := h.usage.Stats(r.Context(), *id.UserID, days)
	if err != nil {
		apperr.Write(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}
