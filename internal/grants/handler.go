package grants

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-edu/authcore/internal/authz"
	"github.com/meridian-edu/authcore/internal/platform/httpx"
	"github.com/meridian-edu/authcore/internal/shared"
)

// Handler exposes the grant administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     authz.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, guard: guard, validator: validator.New()}
}

// MountRoutes registers grant administration routes. Route guards cover the
// read surface; write endpoints re-check capabilities in the service so the
// delegated-administration path stays available.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermRolesView, shared.PermGrantsView))
		r.Get("/roles", h.listRoles)
		r.Get("/roles/{roleID}", h.getRole)
		r.Get("/roles/{roleID}/members/{principal}", h.getMembership)
		r.Get("/roles/{roleID}/controlled", h.controlledRoles)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermPermissionsView, shared.PermGrantsView))
		r.Get("/permissions", h.listPermissions)
	})

	r.Post("/roles", h.createRole)
	r.Put("/roles/{roleID}", h.updateRole)
	r.Delete("/roles/{roleID}", h.deleteRole)
	r.Put("/roles/{roleID}/controlled", h.setControlledRoles)

	r.Post("/permissions", h.createPermission)
	r.Put("/permissions/{permissionID}", h.updatePermission)
	r.Delete("/permissions/{permissionID}", h.deletePermission)

	r.Post("/roles/{roleID}/members", h.grantMembership)
	r.Put("/roles/{roleID}/members/{principal}", h.updateMembership)
	r.Delete("/roles/{roleID}/members/{principal}", h.revokeMembership)

	r.Post("/roles/{roleID}/permissions", h.setRolePermission)
	r.Put("/roles/{roleID}/permissions/{permissionID}", h.updateRolePermission)
	r.Delete("/roles/{roleID}/permissions/{permissionID}", h.removeRolePermission)

	r.Post("/members/{principal}/permissions", h.grantMemberPermission)
	r.Put("/members/{principal}/permissions/{permissionID}", h.updateMemberPermission)
	r.Delete("/members/{principal}/permissions/{permissionID}", h.revokeMemberPermission)
}

type rolePayload struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	ViewName    string `json:"view_name"`
	AllowAll    bool   `json:"allow_all"`
	Application bool   `json:"application"`
}

type permissionPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type membershipPayload struct {
	Principal string `json:"principal"`
	StartsOn  string `json:"starts_on"`
	EndsOn    string `json:"ends_on"`
	Comment   string `json:"comment"`
}

type rolePermissionPayload struct {
	PermissionID int64  `json:"permission_id"`
	Access       string `json:"access"`
	Comment      string `json:"comment"`
}

type memberPermissionPayload struct {
	PermissionID int64  `json:"permission_id"`
	Access       string `json:"access"`
	StartsOn     string `json:"starts_on"`
	EndsOn       string `json:"ends_on"`
	Comment      string `json:"comment"`
}

type controlledRolesPayload struct {
	RoleIDs []int64 `json:"role_ids"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var payload rolePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	in := CreateRoleInput{
		Name:        payload.Name,
		DisplayName: payload.DisplayName,
		ViewName:    payload.ViewName,
		AllowAll:    payload.AllowAll,
		Application: payload.Application,
	}
	if !h.validate(w, in) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), in)
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	var payload rolePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	in := UpdateRoleInput{
		Name:        payload.Name,
		DisplayName: payload.DisplayName,
		ViewName:    payload.ViewName,
		AllowAll:    payload.AllowAll,
		Application: payload.Application,
	}
	if !h.validate(w, in) {
		return
	}
	role, err := h.service.UpdateRole(r.Context(), id, in)
	if err != nil {
		h.fail(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		h.fail(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) controlledRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	roles, err := h.service.ControlledRoles(r.Context(), id)
	if err != nil {
		h.fail(w, "controlled roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) setControlledRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	var payload controlledRolesPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	if err := h.service.SetControlledRoles(r.Context(), id, payload.RoleIDs); err != nil {
		h.fail(w, "set controlled roles", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var payload permissionPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	in := CreatePermissionInput{Name: payload.Name, Description: payload.Description}
	if !h.validate(w, in) {
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), in)
	if err != nil {
		h.fail(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

func (h *Handler) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "permissionID")
	if !ok {
		return
	}
	var payload permissionPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	in := CreatePermissionInput{Name: payload.Name, Description: payload.Description}
	if !h.validate(w, in) {
		return
	}
	perm, err := h.service.UpdatePermission(r.Context(), id, in)
	if err != nil {
		h.fail(w, "update permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.service.DeletePermission(r.Context(), id); err != nil {
		h.fail(w, "delete permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getMembership(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	m, err := h.service.GetMembership(r.Context(), roleID, chi.URLParam(r, "principal"))
	if err != nil {
		h.fail(w, "get membership", err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) grantMembership(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	var payload membershipPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	window, err := parseWindow(payload.StartsOn, payload.EndsOn)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	in := GrantMembershipInput{
		RoleID:    roleID,
		Principal: payload.Principal,
		Window:    window,
		Comment:   payload.Comment,
	}
	if !h.validate(w, in) {
		return
	}
	m, err := h.service.GrantMembership(r.Context(), in)
	if err != nil {
		h.fail(w, "grant membership", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) updateMembership(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	var payload membershipPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	window, err := parseWindow(payload.StartsOn, payload.EndsOn)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	in := UpdateMembershipInput{
		RoleID:    roleID,
		Principal: chi.URLParam(r, "principal"),
		Window:    window,
		Comment:   payload.Comment,
	}
	if !h.validate(w, in) {
		return
	}
	m, err := h.service.UpdateMembership(r.Context(), in)
	if err != nil {
		h.fail(w, "update membership", err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) revokeMembership(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	in := RevokeMembershipInput{
		RoleID:    roleID,
		Principal: chi.URLParam(r, "principal"),
		Comment:   r.URL.Query().Get("comment"),
	}
	if !h.validate(w, in) {
		return
	}
	if err := h.service.RevokeMembership(r.Context(), in); err != nil {
		h.fail(w, "revoke membership", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setRolePermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	var payload rolePermissionPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	access, err := authz.ParseAccess(payload.Access)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	in := SetRolePermissionInput{
		RoleID:       roleID,
		PermissionID: payload.PermissionID,
		Access:       access,
		Comment:      payload.Comment,
	}
	if !h.validate(w, in) {
		return
	}
	if err := h.service.SetRolePermission(r.Context(), in); err != nil {
		h.fail(w, "set role permission", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) updateRolePermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	permissionID, ok := pathID(w, r, "permissionID")
	if !ok {
		return
	}
	var payload rolePermissionPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	access, err := authz.ParseAccess(payload.Access)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	in := SetRolePermissionInput{
		RoleID:       roleID,
		PermissionID: permissionID,
		Access:       access,
		Comment:      payload.Comment,
	}
	if err := h.service.UpdateRolePermission(r.Context(), in); err != nil {
		h.fail(w, "update role permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeRolePermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	permissionID, ok := pathID(w, r, "permissionID")
	if !ok {
		return
	}
	in := RemoveRolePermissionInput{
		RoleID:       roleID,
		PermissionID: permissionID,
		Comment:      r.URL.Query().Get("comment"),
	}
	if err := h.service.RemoveRolePermission(r.Context(), in); err != nil {
		h.fail(w, "remove role permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) grantMemberPermission(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")
	var payload memberPermissionPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	in, err := memberPermissionInput(principal, payload.PermissionID, payload)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	if !h.validate(w, in) {
		return
	}
	if err := h.service.GrantMemberPermission(r.Context(), in); err != nil {
		h.fail(w, "grant member permission", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) updateMemberPermission(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")
	permissionID, ok := pathID(w, r, "permissionID")
	if !ok {
		return
	}
	var payload memberPermissionPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	in, err := memberPermissionInput(principal, permissionID, payload)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	if err := h.service.UpdateMemberPermission(r.Context(), in); err != nil {
		h.fail(w, "update member permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeMemberPermission(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")
	permissionID, ok := pathID(w, r, "permissionID")
	if !ok {
		return
	}
	in := RevokeMemberPermissionInput{
		Principal:    principal,
		PermissionID: permissionID,
		Comment:      r.URL.Query().Get("comment"),
	}
	if err := h.service.RevokeMemberPermission(r.Context(), in); err != nil {
		h.fail(w, "revoke member permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) validate(w http.ResponseWriter, in any) bool {
	if err := h.validator.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func memberPermissionInput(principal string, permissionID int64, payload memberPermissionPayload) (MemberPermissionInput, error) {
	access, err := authz.ParseAccess(payload.Access)
	if err != nil {
		return MemberPermissionInput{}, err
	}
	window, err := parseWindow(payload.StartsOn, payload.EndsOn)
	if err != nil {
		return MemberPermissionInput{}, err
	}
	return MemberPermissionInput{
		Principal:    principal,
		PermissionID: permissionID,
		Access:       access,
		Window:       window,
		Comment:      payload.Comment,
	}, nil
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid "+name)
		return 0, false
	}
	return id, true
}

func parseWindow(startsOn, endsOn string) (authz.DateWindow, error) {
	var window authz.DateWindow
	if startsOn != "" {
		t, err := time.Parse("2006-01-02", startsOn)
		if err != nil {
			return authz.DateWindow{}, err
		}
		window.StartsOn = &t
	}
	if endsOn != "" {
		t, err := time.Parse("2006-01-02", endsOn)
		if err != nil {
			return authz.DateWindow{}, err
		}
		window.EndsOn = &t
	}
	return window, nil
}
