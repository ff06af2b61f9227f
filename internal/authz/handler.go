package authz

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-edu/authcore/internal/platform/httpx"
	"github.com/meridian-edu/authcore/internal/shared"
)

// Handler exposes the capability query surface consumed by route guards and
// administrative tooling across the suite.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers query routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/permissions", h.effectivePermissions)
	r.Get("/roles", h.roles)
	r.Get("/check", h.check)
	r.Get("/in-role", h.inRole)
}

// subject resolves the principal a query targets: the caller itself, or any
// principal when the caller may inspect other principals' grants.
func (h *Handler) subject(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := shared.ActorFromContext(r.Context())
	principal := strings.TrimSpace(r.URL.Query().Get("principal"))
	if principal == "" || principal == actor {
		if actor == "" {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "no authenticated principal")
			return "", false
		}
		return actor, true
	}
	allowed, err := h.service.HasPermission(r.Context(), actor, shared.PermGrantsView)
	if err != nil || !allowed {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "grants.view capability required")
		return "", false
	}
	return principal, true
}

func (h *Handler) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.subject(w, r)
	if !ok {
		return
	}
	names, err := h.service.EffectivePermissions(r.Context(), principal)
	if err != nil {
		h.logger.Error("effective permissions", slog.String("principal", principal), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"principal": principal, "permissions": names})
}

func (h *Handler) roles(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.subject(w, r)
	if !ok {
		return
	}
	roles, err := h.service.GetRoles(r.Context(), principal)
	if err != nil {
		h.logger.Error("get roles", slog.String("principal", principal), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"principal": principal, "roles": names})
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.subject(w, r)
	if !ok {
		return
	}
	permission := strings.TrimSpace(r.URL.Query().Get("permission"))
	if permission == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "permission query parameter required")
		return
	}
	allowed, err := h.service.HasPermission(r.Context(), principal, permission)
	if err != nil {
		// Fail closed: resolution errors read as "not granted".
		allowed = false
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"principal": principal, "permission": permission, "allowed": allowed})
}

func (h *Handler) inRole(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.subject(w, r)
	if !ok {
		return
	}
	roleName := strings.TrimSpace(r.URL.Query().Get("role"))
	if roleName == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "role query parameter required")
		return
	}
	member, err := h.service.IsInRole(r.Context(), principal, roleName)
	if err != nil {
		member = false
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"principal": principal, "role": roleName, "member": member})
}
