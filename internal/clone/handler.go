package clone

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-edu/authcore/internal/authz"
	"github.com/meridian-edu/authcore/internal/platform/httpx"
	"github.com/meridian-edu/authcore/internal/shared"
)

// Handler exposes the clone preview endpoint.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   authz.Middleware
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers clone routes. The route guard gates entry; the
// service re-checks the capability and decides the permission-comparison
// privilege on its own.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAll(shared.PermCloneRoles))
		r.Get("/preview", h.preview)
	})
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	set, err := h.service.Compare(r.Context(), q.Get("instance"), q.Get("source"), q.Get("target"))
	if err != nil {
		h.logger.Error("clone preview", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, set)
}
