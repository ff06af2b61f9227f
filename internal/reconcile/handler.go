package reconcile

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-edu/authcore/internal/authz"
	"github.com/meridian-edu/authcore/internal/platform/httpx"
	"github.com/meridian-edu/authcore/internal/shared"
)

// Handler exposes reconciliation endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   authz.Middleware
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAll(shared.PermReconcileRun))
		r.Get("/roles", h.viewRoles)
		r.Post("/roles/{roleID}", h.reconcileRole)
	})
}

func (h *Handler) viewRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ViewRoles(r.Context())
	if err != nil {
		h.logger.Error("list view roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) reconcileRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
	if err != nil || roleID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid roleID")
		return
	}
	opts := Options{DryRun: r.URL.Query().Get("dry_run") == "true"}
	report, err := h.service.ReconcileRole(r.Context(), roleID, opts)
	if err != nil {
		h.logger.Error("reconcile role", slog.Int64("role_id", roleID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}
