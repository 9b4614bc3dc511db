package auth

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/slimpdf/slimpdf-api/internal/apperr"
)

// Middleware resolves the caller once per request and stores the Result in
// the request context. Guards then decide whether an Invalid result degrades
// to anonymous or is rejected.
type Middleware struct {
	resolver     *Resolver
	apiKeyHeader string
}

func NewMiddleware(resolver *Resolver, apiKeyHeader string) *Middleware {
	return &Middleware{resolver: resolver, apiKeyHeader: apiKeyHeader}
}

func (m *Middleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := extractBearerToken(r)
		if credential == "" && m.apiKeyHeader != "" {
			credential = r.Header.Get(m.apiKeyHeader)
		}
		res := m.resolver.Resolve(r.Context(), credential, ClientIP(r))
		next.ServeHTTP(w, r.WithContext(WithResult(r.Context(), res)))
	})
}

// RequireAuth rejects anonymous and invalid callers.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, _ := ResultFromContext(r.Context())
		switch res.Status {
		case StatusAuthenticated:
			next.ServeHTTP(w, r)
		case StatusInvalid:
			apperr.Write(w, res.Err)
		default:
			apperr.Write(w, apperr.Authentication(apperr.CodeAuthRequired, "authentication required"))
		}
	})
}

// RequirePro rejects callers that are not authenticated Pro identities.
func RequirePro(next http.Handler) http.Handler {
	return RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IdentityFromContext(r.Context()).IsPro() {
			apperr.Write(w, apperr.Forbidden(apperr.CodeProRequired, "a Pro subscription is required"))
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// ClientIP returns the caller's address without port, or "" when it cannot
// be parsed. Forwarding headers from trusted proxies have already been applied
// to RemoteAddr by the router.
func ClientIP(r *http.Request) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(host))
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}
