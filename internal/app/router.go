package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-edu/authcore/internal/audit"
	"github.com/meridian-edu/authcore/internal/authz"
	"github.com/meridian-edu/authcore/internal/clone"
	"github.com/meridian-edu/authcore/internal/grants"
	"github.com/meridian-edu/authcore/internal/observability"
	"github.com/meridian-edu/authcore/internal/reconcile"
	"github.com/meridian-edu/authcore/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	AuthzHandler     *authz.Handler
	GrantsHandler    *grants.Handler
	CloneHandler     *clone.Handler
	AuditHandler     *audit.Handler
	ReconcileHandler *reconcile.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with authcore defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/authz", params.AuthzHandler.MountRoutes)
		r.Route("/grants", params.GrantsHandler.MountRoutes)
		r.Route("/clone", params.CloneHandler.MountRoutes)
		r.Route("/audit", params.AuditHandler.MountRoutes)
		r.Route("/reconcile", params.ReconcileHandler.MountRoutes)
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
