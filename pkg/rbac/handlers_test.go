package rbac

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/hiregate/pkg/audit"
	"github.com/platinummonkey/hiregate/pkg/auth"
	"github.com/platinummonkey/hiregate/pkg/contextkeys"
	apperrors "github.com/platinummonkey/hiregate/pkg/errors"
)

var (
	adminCaller     = auth.NewIdentity(1, auth.RoleAdmin)
	managerCaller   = auth.NewIdentity(3, auth.RoleManager)
	recruiterCaller = auth.NewIdentity(7, auth.RoleRecruiter)
)

// headerAuth reads the caller from test headers.
func headerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Test-User"); id != "" {
			userID, _ := strconv.ParseInt(id, 10, 64)
			identity := auth.NewIdentity(userID, auth.Role(r.Header.Get("X-Test-Role")))
			r = r.WithContext(contextkeys.WithIdentity(r.Context(), identity))
		}
		next.ServeHTTP(w, r)
	})
}

type handlerFixture struct {
	router *mux.Router
	store  *Store
	audit  *recordingAuditLogger
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	store := newTestStore(t)
	identities := &stubIdentities{roles: map[int64]auth.Role{
		1: auth.RoleAdmin,
		3: auth.RoleManager,
		7: auth.RoleRecruiter,
	}}
	auditLogger := &recordingAuditLogger{}
	checker := NewChecker(store, identities, quietLogger(), nil)
	guards := NewGuards(checker, auditLogger, quietLogger(), nil)
	handlers := NewHandlers(store, checker, guards, auditLogger, quietLogger(), 1)

	router := mux.NewRouter()
	handlers.RegisterRoutes(router, headerAuth)

	return &handlerFixture{router: router, store: store, audit: auditLogger}
}

func (f *handlerFixture) do(method, path string, caller *auth.Identity, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if caller != nil {
		req.Header.Set("X-Test-User", strconv.FormatInt(caller.ID(), 10))
		req.Header.Set("X-Test-Role", string(caller.Role()))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *handlerFixture) seed(t *testing.T) {
	t.Helper()
	_, err := f.store.Seed(context.Background(), 1)
	require.NoError(t, err)
}

func TestHandlers_AdminRoutesRequireAdmin(t *testing.T) {
	f := newHandlerFixture(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/rbac/permissions"},
		{http.MethodGet, "/rbac/permissions/categories"},
		{http.MethodPost, "/rbac/permissions/seed"},
		{http.MethodGet, "/rbac/roles/manager/permissions"},
		{http.MethodPut, "/rbac/roles/manager/permissions"},
		{http.MethodGet, "/rbac/users/7/permissions"},
		{http.MethodPost, "/rbac/users/7/permissions"},
		{http.MethodDelete, "/rbac/users/7/permissions/jobs.create"},
		{http.MethodGet, "/rbac/settings"},
		{http.MethodPut, "/rbac/settings"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			w := f.do(route.method, route.path, &managerCaller, "")
			assert.Equal(t, http.StatusForbidden, w.Code)

			w = f.do(route.method, route.path, nil, "")
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestHandlers_Catalog(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(http.MethodPost, "/rbac/permissions/seed", &adminCaller, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result SeedResult
	decodeData(t, w, &result)
	assert.Equal(t, len(DefaultPermissions()), result.Count)

	seeds := f.audit.ofType(audit.EventTypeCatalogSeed)
	require.Len(t, seeds, 1)
	assert.Equal(t, audit.EventStatusSuccess, seeds[0].Status)

	w = f.do(http.MethodGet, "/rbac/permissions", &adminCaller, "")
	require.Equal(t, http.StatusOK, w.Code)
	var perms []Permission
	decodeData(t, w, &perms)
	assert.Len(t, perms, len(DefaultPermissions()))

	w = f.do(http.MethodGet, "/rbac/permissions/categories", &adminCaller, "")
	require.Equal(t, http.StatusOK, w.Code)
	var categories map[Category][]CategoryEntry
	decodeData(t, w, &categories)
	assert.Contains(t, categories[CategoryJobs], CategoryEntry{DisplayName: "Create Jobs", Permission: "jobs.create"})
	assert.Len(t, categories[CategoryOnboarding], 18)
}

func TestHandlers_RolePermissions(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t)

	w := f.do(http.MethodPut, "/rbac/roles/manager/permissions", &adminCaller, `{"permissions":["jobs.view","jobs.edit"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var replaced ReplaceResult
	decodeData(t, w, &replaced)
	assert.Equal(t, []string{"jobs.edit", "jobs.view"}, replaced.Added)
	assert.Len(t, replaced.Removed, len(OnboardingGrants()))

	w = f.do(http.MethodGet, "/rbac/roles/manager/permissions", &adminCaller, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got rolePermissions
	decodeData(t, w, &got)
	assert.Equal(t, auth.RoleManager, got.Role)
	assert.Equal(t, []string{"jobs.edit", "jobs.view"}, got.Permissions)

	events := f.audit.ofType(audit.EventTypeRoleReplace)
	require.Len(t, events, 1)
	assert.Equal(t, "manager", events[0].ResourceID)
	assert.Equal(t, int64(1), *events[0].UserID)

	t.Run("bad bodies", func(t *testing.T) {
		for _, body := range []string{`{"permissions":"jobs.view"}`, `{}`, `{"permissions":null}`, `not json`, `{"perms":[]}`} {
			w := f.do(http.MethodPut, "/rbac/roles/manager/permissions", &adminCaller, body)
			assert.Equal(t, http.StatusBadRequest, w.Code, body)
		}
	})

	t.Run("unknown permission", func(t *testing.T) {
		w := f.do(http.MethodPut, "/rbac/roles/manager/permissions", &adminCaller, `{"permissions":["jobs.view","bogus.permission"]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		env := decodeEnvelope(t, w)
		assert.Equal(t, apperrors.KindValidation, env.Error.Kind)

		events := f.audit.ofType(audit.EventTypeRoleReplace)
		assert.Equal(t, audit.EventStatusFailure, events[len(events)-1].Status)
	})

	t.Run("unknown role", func(t *testing.T) {
		w := f.do(http.MethodGet, "/rbac/roles/owner/permissions", &adminCaller, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandlers_UserPermissions(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t)

	w := f.do(http.MethodPost, "/rbac/users/7/permissions", &adminCaller, `{"permission":"jobs.create"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var grant Grant
	decodeData(t, w, &grant)
	assert.Equal(t, int64(7), grant.UserID)
	assert.Equal(t, "jobs.create", grant.Permission)
	assert.Equal(t, int64(1), grant.GrantedBy)

	w = f.do(http.MethodGet, "/rbac/users/7/permissions", &adminCaller, "")
	require.Equal(t, http.StatusOK, w.Code)
	var listed userPermissions
	decodeData(t, w, &listed)
	assert.Equal(t, []string{"jobs.create"}, listed.Permissions)

	w = f.do(http.MethodDelete, "/rbac/users/7/permissions/jobs.create", &adminCaller, "")
	require.Equal(t, http.StatusOK, w.Code)
	var revoked RevokeResult
	decodeData(t, w, &revoked)
	assert.Equal(t, int64(1), revoked.RemovedCount)

	assert.Len(t, f.audit.ofType(audit.EventTypePermissionGrant), 1)
	revokes := f.audit.ofType(audit.EventTypePermissionRevoke)
	require.Len(t, revokes, 1)
	assert.Equal(t, "jobs.create", revokes[0].Metadata["permission"])

	t.Run("errors", func(t *testing.T) {
		w := f.do(http.MethodPost, "/rbac/users/abc/permissions", &adminCaller, `{"permission":"jobs.create"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = f.do(http.MethodPost, "/rbac/users/7/permissions", &adminCaller, `{"permission":"jobs"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = f.do(http.MethodDelete, "/rbac/users/7/permissions/jobs.nonexistent", &adminCaller, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandlers_CheckUserPermission(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t)

	w := f.do(http.MethodGet, "/rbac/users/7/check/onboarding.view", &recruiterCaller, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result checkResult
	decodeData(t, w, &result)
	assert.Equal(t, checkResult{UserID: 7, Permission: "onboarding.view", Allowed: true}, result)

	w = f.do(http.MethodGet, "/rbac/users/7/check/jobs.delete", &adminCaller, "")
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &result)
	assert.False(t, result.Allowed)

	w = f.do(http.MethodGet, "/rbac/users/7/check/jobs.view", &managerCaller, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodGet, "/rbac/users/404/check/jobs.view", &adminCaller, "")
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &result)
	assert.False(t, result.Allowed)
}

func TestHandlers_Settings(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t)

	w := f.do(http.MethodGet, "/rbac/settings", &adminCaller, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view settingsView
	decodeData(t, w, &view)
	assert.Len(t, view.Roles, len(SettingsRoles()))
	assert.ElementsMatch(t, OnboardingGrants(), view.Roles[auth.RoleRecruiter])
	assert.Empty(t, view.Roles[auth.RoleUser])
	assert.Len(t, view.Permissions, len(DefaultPermissions()))
	assert.NotEmpty(t, view.Categories)

	w = f.do(http.MethodPut, "/rbac/settings", &adminCaller,
		`{"roles":{"user":["dashboard.view"],"recruiter":["jobs.view","candidates.view"]}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var results []ReplaceResult
	decodeData(t, w, &results)
	require.Len(t, results, 2)
	assert.Equal(t, auth.RoleRecruiter, results[0].Role)
	assert.Equal(t, auth.RoleUser, results[1].Role)
	assert.Len(t, f.audit.ofType(audit.EventTypeRoleReplace), 2)

	names, err := f.store.ListGrants(context.Background(), RoleTarget(auth.RoleUser))
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard.view"}, names)

	names, err = f.store.ListGrants(context.Background(), RoleTarget(auth.RoleManager))
	require.NoError(t, err)
	assert.ElementsMatch(t, OnboardingGrants(), names, "roles missing from the body are untouched")

	t.Run("rejections", func(t *testing.T) {
		for _, body := range []string{
			`{"roles":{"guest":["dashboard.view"]}}`,
			`{"roles":{"owner":[]}}`,
			`{"roles":{"user":"dashboard.view"}}`,
			`{"roles":{}}`,
			`{"roles":{"user":["bogus.permission"]}}`,
		} {
			w := f.do(http.MethodPut, "/rbac/settings", &adminCaller, body)
			assert.Equal(t, http.StatusBadRequest, w.Code, body)
		}

		names, err := f.store.ListGrants(context.Background(), RoleTarget(auth.RoleUser))
		require.NoError(t, err)
		assert.Equal(t, []string{"dashboard.view"}, names)
	})
}

func TestHandlers_Me(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t)
	_, err := f.store.Grant(context.Background(), UserTarget(7), "jobs.create", 1)
	require.NoError(t, err)

	w := f.do(http.MethodGet, "/rbac/me/permissions", &recruiterCaller, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var eff EffectivePermissions
	decodeData(t, w, &eff)
	assert.Equal(t, []string{"jobs.create"}, eff.User)
	assert.Len(t, eff.Effective, len(OnboardingGrants())+1)

	w = f.do(http.MethodGet, "/rbac/me/check/jobs.create", &recruiterCaller, "")
	require.Equal(t, http.StatusOK, w.Code)
	var decision Decision
	decodeData(t, w, &decision)
	assert.True(t, decision.Allowed)
	assert.Equal(t, SourceUser, decision.Source)

	w = f.do(http.MethodGet, "/rbac/me/check/jobs.delete", &recruiterCaller, "")
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &decision)
	assert.False(t, decision.Allowed)
	assert.Equal(t, SourceNone, decision.Source)

	w = f.do(http.MethodGet, "/rbac/me/permissions", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
