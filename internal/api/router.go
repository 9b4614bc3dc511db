package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/slimpdf/slimpdf-api/internal/api/handlers"
	"github.com/slimpdf/slimpdf-api/internal/api/middleware"
	"github.com/slimpdf/slimpdf-api/internal/auth"
	"github.com/slimpdf/slimpdf-api/internal/config"
)

// Deps are the services the HTTP layer is wired to. cmd/api builds them from
// Postgres, Redis and the temp directory; tests substitute fakes.
type Deps struct {
	Health    map[string]handlers.Pinger
	Auth      *auth.Middleware
	Limiter   *middleware.RateLimiter
	Quota     handlers.QuotaChecker
	Usage     handlers.UsageReporter
	Uploads   handlers.Receiver
	Submitter handlers.Submitter
	Jobs      handlers.JobGetter
	Downloads handlers.DownloadOpener
	Keys      handlers.KeyManager
	Users     handlers.UserGetter
}

type Router struct {
	mux  *chi.Mux
	cfg  *config.Config
	deps Deps
}

func NewRouter(cfg *config.Config, deps Deps) *Router {
	return &Router{mux: chi.NewRouter(), cfg: cfg, deps: deps}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux
	origins := rt.cfg.Server.CORSOrigins

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RealIP(rt.cfg.Server.TrustedProxies))
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(origins))
	if rt.deps.Limiter != nil {
		r.Use(rt.deps.Limiter.Limit)
	}

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.deps.Health)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	tools := handlers.NewToolHandler(rt.deps.Quota, rt.deps.Uploads, rt.deps.Submitter, rt.cfg.Files)
	jobsH := handlers.NewJobHandler(rt.deps.Jobs, rt.deps.Downloads)
	account := handlers.NewAccountHandler(rt.deps.Users, rt.deps.Usage)
	keys := handlers.NewKeyHandler(rt.deps.Keys)

	r.Route("/v1", func(r chi.Router) {
		// Credentials are optional here; guards below decide per route.
		r.Use(rt.deps.Auth.Identify)

		r.Post("/compress", tools.Compress)
		r.Post("/merge", tools.Merge)
		r.Post("/image-to-pdf", tools.ImageToPDF)

		r.Get("/status/{job_id}", jobsH.Status)
		r.Get("/download/{job_id}", jobsH.Download)

		r.Route("/auth", func(r chi.Router) {
			r.Use(middleware.ValidateOrigin(origins))
			r.Get("/verify", account.Verify)
			r.With(auth.RequireAuth).Get("/me", account.Me)
			r.With(auth.RequireAuth).Get("/usage", account.Usage)
		})

		r.Route("/keys", func(r chi.Router) {
			r.Use(middleware.ValidateOrigin(origins))
			r.Use(auth.RequirePro)
			r.Get("/", keys.List)
			r.Post("/", keys.Create)
			r.Delete("/{key_id}", keys.Revoke)
		})
	})

	return r
}
