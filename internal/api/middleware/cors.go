package middleware

import (
	"net/http"
	"strings"

	"github.com/slimpdf/slimpdf-api/internal/apperr"
)

func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	originsSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsSet[strings.TrimRight(o, "/")] = true
	}
	allowAll := originsSet["*"]

	exposed := strings.Join([]string{
		"Content-Disposition",
		"Retry-After",
		"X-RateLimit-Tier",
		"X-RateLimit-Limit",
		"X-RateLimit-Used",
		"X-RateLimit-Remaining",
	}, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || originsSet[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-API-Key")
			w.Header().Set("Access-Control-Expose-Headers", exposed)
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ValidateOrigin rejects browser requests whose Origin is not allowed.
// Requests without an Origin header (server-to-server callers) and
// preflights pass.
func ValidateOrigin(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if r.Method == http.MethodOptions || origin == "" || allowed["*"] || allowed[strings.TrimRight(origin, "/")] {
				next.ServeHTTP(w, r)
				return
			}
			apperr.Write(w, apperr.Forbidden(apperr.CodeOriginRejected, "origin not allowed"))
		})
	}
}
