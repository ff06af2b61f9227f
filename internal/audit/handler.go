package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-edu/authcore/internal/authz"
	"github.com/meridian-edu/authcore/internal/platform/httpx"
	"github.com/meridian-edu/authcore/internal/shared"
)

// Handler exposes the audit timeline to administrative tooling.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   authz.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermAuditView))
		r.Get("/", h.timeline)
		r.Get("/export", h.export)
	})
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters := parseFilters(r)
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": result.Rows, "paging": result.Paging})
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	filters := parseFilters(r)
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit export", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func parseFilters(r *http.Request) TimelineFilters {
	q := r.URL.Query()
	filters := TimelineFilters{
		Actor:  strings.TrimSpace(q.Get("actor")),
		Entity: strings.TrimSpace(q.Get("entity")),
		Kind:   strings.TrimSpace(q.Get("kind")),
	}
	if raw := q.Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filters.From = t
		}
	}
	if raw := q.Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filters.To = t
		}
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		filters.Page = page
	}
	if size, err := strconv.Atoi(q.Get("page_size")); err == nil {
		filters.PageSize = size
	}
	return filters
}
