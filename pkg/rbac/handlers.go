package rbac

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/hiregate/pkg/audit"
	"github.com/platinummonkey/hiregate/pkg/auth"
	"github.com/platinummonkey/hiregate/pkg/contextkeys"
	apperrors "github.com/platinummonkey/hiregate/pkg/errors"
	"github.com/platinummonkey/hiregate/pkg/httputil"
)

// Handlers provides HTTP handlers for permission administration and checks
type Handlers struct {
	store            GrantStore
	checker          *Checker
	guards           *Guards
	auditLogger      audit.Logger
	log              *logrus.Logger
	bootstrapGranter int64
}

// NewHandlers creates new RBAC handlers. Seeding through the API is
// attributed to bootstrapGranter.
func NewHandlers(store GrantStore, checker *Checker, guards *Guards, auditLogger audit.Logger, log *logrus.Logger, bootstrapGranter int64) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NoOp()
	}
	if log == nil {
		log = logrus.New()
	}
	return &Handlers{
		store:            store,
		checker:          checker,
		guards:           guards,
		auditLogger:      auditLogger,
		log:              log,
		bootstrapGranter: bootstrapGranter,
	}
}

// RegisterRoutes registers all RBAC routes under /rbac. middlewares run
// before any guard, so authentication belongs there.
func (h *Handlers) RegisterRoutes(router *mux.Router, middlewares ...mux.MiddlewareFunc) {
	r := router.PathPrefix("/rbac").Subrouter()
	r.Use(middlewares...)

	admin := func(fn http.HandlerFunc) http.Handler {
		return h.guards.RequireRole(auth.RoleAdmin)(fn)
	}

	// Catalog
	r.Handle("/permissions", admin(h.ListPermissions)).Methods("GET")
	r.Handle("/permissions/categories", admin(h.ListCategories)).Methods("GET")
	r.Handle("/permissions/seed", admin(h.SeedPermissions)).Methods("POST")

	// Role grants
	r.Handle("/roles/{role}/permissions", admin(h.GetRolePermissions)).Methods("GET")
	r.Handle("/roles/{role}/permissions", admin(h.ReplaceRolePermissions)).Methods("PUT")

	// User grants
	r.Handle("/users/{id}/permissions", admin(h.GetUserPermissions)).Methods("GET")
	r.Handle("/users/{id}/permissions", admin(h.GrantUserPermission)).Methods("POST")
	r.Handle("/users/{id}/permissions/{permission}", admin(h.RevokeUserPermission)).Methods("DELETE")
	r.Handle("/users/{id}/check/{permission}",
		h.guards.RequireSelfOrRole("id", auth.RoleAdmin)(http.HandlerFunc(h.CheckUserPermission))).Methods("GET")

	// Settings matrix
	r.Handle("/settings", admin(h.GetSettings)).Methods("GET")
	r.Handle("/settings", admin(h.UpdateSettings)).Methods("PUT")

	// Caller
	r.HandleFunc("/me/permissions", h.GetMyPermissions).Methods("GET")
	r.HandleFunc("/me/check/{permission}", h.CheckMyPermission).Methods("GET")
}

// ListPermissions returns the permission catalog
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.store.ListPermissions(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

// ListCategories returns the catalog grouped into display categories
func (h *Handlers) ListCategories(w http.ResponseWriter, r *http.Request) {
	perms, err := h.store.ListPermissions(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if unmapped := UnmappedPermissions(perms); len(unmapped) > 0 {
		h.log.WithField("permissions", unmapped).Warn("Permissions without a category")
	}
	httputil.WriteSuccess(w, Categorize(perms))
}

// SeedPermissions creates the default catalog and onboarding grants
func (h *Handlers) SeedPermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := h.store.Seed(ctx, h.bootstrapGranter)
	event := h.newEvent(ctx, r, audit.EventTypeCatalogSeed, audit.ResourceTypeCatalog, "default", err)
	event.Metadata["count"] = result.Count
	event.Metadata["created"] = result.Created
	event.Metadata["grants_created"] = result.GrantsCreated
	if len(result.Failed) > 0 {
		event.Metadata["failed"] = result.Failed
	}
	h.logAudit(ctx, event)

	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// rolePermissions is the body of role grant reads
type rolePermissions struct {
	Role        auth.Role `json:"role"`
	Permissions []string  `json:"permissions"`
}

// GetRolePermissions returns the permissions granted to a role
func (h *Handlers) GetRolePermissions(w http.ResponseWriter, r *http.Request) {
	role, ok := parseRoleVar(w, r)
	if !ok {
		return
	}

	names, err := h.store.ListGrants(r.Context(), RoleTarget(role))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, rolePermissions{Role: role, Permissions: names})
}

// ReplaceRolePermissions makes the request body the exact grant set of a role
func (h *Handlers) ReplaceRolePermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	role, ok := parseRoleVar(w, r)
	if !ok {
		return
	}

	var req struct {
		Permissions json.RawMessage `json:"permissions"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	names, err := decodePermissionList(req.Permissions)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	caller, _ := contextkeys.GetIdentity(ctx)
	result, err := h.store.ReplaceRoleGrants(ctx, role, names, caller.ID())
	h.logReplace(ctx, r, role, result, err)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// userPermissions is the body of user grant reads
type userPermissions struct {
	UserID      int64    `json:"user_id"`
	Permissions []string `json:"permissions"`
}

// GetUserPermissions returns the permissions granted directly to a user
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	names, err := h.store.ListGrants(r.Context(), UserTarget(userID))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, userPermissions{UserID: userID, Permissions: names})
}

// GrantUserPermission grants a permission directly to a user
func (h *Handlers) GrantUserPermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Permission string `json:"permission"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	caller, _ := contextkeys.GetIdentity(ctx)
	grant, err := h.store.Grant(ctx, UserTarget(userID), req.Permission, caller.ID())

	event := h.newEvent(ctx, r, audit.EventTypePermissionGrant, audit.ResourceTypeUser, strconv.FormatInt(userID, 10), err)
	event.Metadata["permission"] = req.Permission
	h.logAudit(ctx, event)

	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, grant)
}

// RevokeUserPermission removes a direct grant from a user
func (h *Handlers) RevokeUserPermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	name, ok := httputil.ParsePathStringOrError(w, r, "permission")
	if !ok {
		return
	}

	result, err := h.store.Revoke(ctx, UserTarget(userID), name)

	event := h.newEvent(ctx, r, audit.EventTypePermissionRevoke, audit.ResourceTypeUser, strconv.FormatInt(userID, 10), err)
	event.Metadata["permission"] = name
	event.Metadata["removed"] = result.RemovedCount
	h.logAudit(ctx, event)

	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// checkResult is the body of check responses
type checkResult struct {
	UserID     int64  `json:"user_id"`
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
}

// CheckUserPermission reports whether a user holds a permission
func (h *Handlers) CheckUserPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	name, ok := httputil.ParsePathStringOrError(w, r, "permission")
	if !ok {
		return
	}

	httputil.WriteSuccess(w, checkResult{
		UserID:     userID,
		Permission: name,
		Allowed:    h.checker.Check(r.Context(), userID, name),
	})
}

// settingsView is the role/permission matrix shown on the settings page
type settingsView struct {
	Roles       map[auth.Role][]string       `json:"roles"`
	Permissions []Permission                 `json:"permissions"`
	Categories  map[Category][]CategoryEntry `json:"categories"`
}

// GetSettings returns the grant sets of every configurable role together
// with the catalog
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	perms, err := h.store.ListPermissions(ctx)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	view := settingsView{
		Roles:       make(map[auth.Role][]string, len(SettingsRoles())),
		Permissions: perms,
		Categories:  Categorize(perms),
	}
	for _, role := range SettingsRoles() {
		names, err := h.store.ListGrants(ctx, RoleTarget(role))
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		view.Roles[role] = names
	}
	httputil.WriteSuccess(w, view)
}

// UpdateSettings replaces the grant sets of several roles at once. Roles
// missing from the body are left untouched.
func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Roles map[string]json.RawMessage `json:"roles"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Roles) == 0 {
		httputil.WriteBadRequest(w, "roles is required")
		return
	}

	grants := make(map[auth.Role][]string, len(req.Roles))
	for name, raw := range req.Roles {
		role := auth.Role(name)
		if !isSettingsRole(role) {
			httputil.WriteError(w, r, apperrors.Newf(apperrors.KindValidation, "role %q cannot be configured", name))
			return
		}
		names, err := decodePermissionList(raw)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		grants[role] = names
	}

	caller, _ := contextkeys.GetIdentity(ctx)
	results, err := h.store.ReplaceRoleGrantsBulk(ctx, grants, caller.ID())
	if err != nil {
		roles := make([]string, 0, len(grants))
		for role := range grants {
			roles = append(roles, string(role))
		}
		sort.Strings(roles)
		for _, role := range roles {
			h.logReplace(ctx, r, auth.Role(role), ReplaceResult{}, err)
		}
		httputil.WriteError(w, r, err)
		return
	}
	for _, result := range results {
		h.logReplace(ctx, r, result.Role, result, nil)
	}
	httputil.WriteSuccess(w, results)
}

// GetMyPermissions returns the caller's effective permissions
func (h *Handlers) GetMyPermissions(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	effective, err := h.checker.Effective(r.Context(), caller)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, effective)
}

// CheckMyPermission explains whether the caller holds a permission and why
func (h *Handlers) CheckMyPermission(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	name, ok := httputil.ParsePathStringOrError(w, r, "permission")
	if !ok {
		return
	}

	decision, err := h.checker.Evaluate(r.Context(), caller, name)
	if err != nil {
		httputil.WriteError(w, r, apperrors.Internal("permission check failed", err))
		return
	}
	httputil.WriteSuccess(w, decision)
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, ok := contextkeys.GetIdentity(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return auth.Identity{}, false
	}
	return identity, true
}

func parseRoleVar(w http.ResponseWriter, r *http.Request) (auth.Role, bool) {
	role, err := auth.ParseRole(mux.Vars(r)["role"])
	if err != nil {
		httputil.WriteError(w, r, apperrors.Wrap(apperrors.KindValidation, "invalid role", err))
		return "", false
	}
	return role, true
}

// decodePermissionList reads a JSON list of permission names.
func decodePermissionList(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, apperrors.New(apperrors.KindValidation, "permissions must be a list of permission names")
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, apperrors.New(apperrors.KindValidation, "permissions must be a list of permission names")
	}
	return names, nil
}

func (h *Handlers) logReplace(ctx context.Context, r *http.Request, role auth.Role, result ReplaceResult, err error) {
	event := h.newEvent(ctx, r, audit.EventTypeRoleReplace, audit.ResourceTypeRole, string(role), err)
	if err == nil {
		event.Metadata["added"] = result.Added
		event.Metadata["removed"] = result.Removed
	}
	h.logAudit(ctx, event)
}

func (h *Handlers) newEvent(ctx context.Context, r *http.Request, eventType audit.EventType, resourceType audit.ResourceType, resourceID string, err error) *audit.AuditEvent {
	status := audit.EventStatusSuccess
	if err != nil {
		status = audit.EventStatusFailure
	}
	event := audit.NewEvent(ctx, eventType, status)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Method = r.Method
	event.Path = r.URL.Path
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	return event
}

func (h *Handlers) logAudit(ctx context.Context, event *audit.AuditEvent) {
	if err := h.auditLogger.Log(ctx, event); err != nil {
		h.log.WithError(err).WithField("event_type", event.EventType).Warn("Failed to write audit event")
	}
}
