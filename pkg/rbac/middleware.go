package rbac

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/hiregate/pkg/audit"
	"github.com/platinummonkey/hiregate/pkg/auth"
	"github.com/platinummonkey/hiregate/pkg/contextkeys"
	apperrors "github.com/platinummonkey/hiregate/pkg/errors"
	"github.com/platinummonkey/hiregate/pkg/httputil"
)

// Guard names used in metrics and audit records.
const (
	GuardPermission     = "permission"
	GuardAnyPermission  = "any_permission"
	GuardAllPermissions = "all_permissions"
	GuardRole           = "role"
	GuardSelfOrRole     = "self_or_role"
)

// Guards builds request guards. Every guard expects the authentication
// middleware to have run first; a request without an identity is answered
// as unauthenticated. Lookup failures answer internal errors, never allow.
type Guards struct {
	checker  *Checker
	audit    audit.Logger
	log      *logrus.Logger
	recorder Recorder
}

// NewGuards creates guards on checker. Denials are written to auditLogger.
func NewGuards(checker *Checker, auditLogger audit.Logger, log *logrus.Logger, recorder Recorder) *Guards {
	if auditLogger == nil {
		auditLogger = audit.NoOp()
	}
	if log == nil {
		log = logrus.New()
	}
	return &Guards{
		checker:  checker,
		audit:    auditLogger,
		log:      log,
		recorder: recorderOrNoop(recorder),
	}
}

// RequirePermission admits callers holding name.
func (g *Guards) RequirePermission(name string) mux.MiddlewareFunc {
	return g.permissionGuard(GuardPermission, []string{name}, false)
}

// RequireAnyPermission admits callers holding at least one of names.
// Names are evaluated in order.
func (g *Guards) RequireAnyPermission(names ...string) mux.MiddlewareFunc {
	return g.permissionGuard(GuardAnyPermission, names, true)
}

// RequireAllPermissions admits callers holding every one of names. An empty
// list admits nobody.
func (g *Guards) RequireAllPermissions(names ...string) mux.MiddlewareFunc {
	return g.permissionGuard(GuardAllPermissions, names, false)
}

func (g *Guards) permissionGuard(guard string, names []string, matchAny bool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := g.identity(w, r, guard)
			if !ok {
				return
			}

			allowed, err := g.evaluate(r.Context(), identity, names, matchAny)
			if err != nil {
				g.recorder.ObserveDenial(guard, string(apperrors.KindInternal))
				httputil.WriteError(w, r, apperrors.Internal("permission check failed", err))
				return
			}
			if !allowed {
				g.deny(w, r, guard, identity, names)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guards) evaluate(ctx context.Context, identity auth.Identity, names []string, matchAny bool) (bool, error) {
	if len(names) == 0 {
		return false, nil
	}
	for _, name := range names {
		decision, err := g.checker.Evaluate(ctx, identity, name)
		if err != nil {
			return false, err
		}
		if matchAny && decision.Allowed {
			return true, nil
		}
		if !matchAny && !decision.Allowed {
			return false, nil
		}
	}
	return !matchAny, nil
}

// RequireRole admits callers whose role ranks at least as high as the
// lowest of roles.
func (g *Guards) RequireRole(roles ...auth.Role) mux.MiddlewareFunc {
	required := roleNames(roles)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := g.identity(w, r, GuardRole)
			if !ok {
				return
			}
			if !Allows(identity.Role(), roles...) {
				g.deny(w, r, GuardRole, identity, required)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSelfOrRole admits the user named by the pathVar route variable,
// and anyone passing RequireRole(roles...).
func (g *Guards) RequireSelfOrRole(pathVar string, roles ...auth.Role) mux.MiddlewareFunc {
	required := roleNames(roles)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := g.identity(w, r, GuardSelfOrRole)
			if !ok {
				return
			}
			userID, err := strconv.ParseInt(mux.Vars(r)[pathVar], 10, 64)
			if err != nil || userID <= 0 {
				httputil.WriteBadRequest(w, fmt.Sprintf("invalid %s", pathVar))
				return
			}
			if userID != identity.ID() && !Allows(identity.Role(), roles...) {
				g.deny(w, r, GuardSelfOrRole, identity, required)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guards) identity(w http.ResponseWriter, r *http.Request, guard string) (auth.Identity, bool) {
	identity, ok := contextkeys.GetIdentity(r.Context())
	if !ok {
		g.recorder.ObserveDenial(guard, string(apperrors.KindUnauthenticated))
		httputil.WriteUnauthorized(w, "authentication required")
		return auth.Identity{}, false
	}
	return identity, true
}

// deny answers Forbidden and records the denial.
func (g *Guards) deny(w http.ResponseWriter, r *http.Request, guard string, identity auth.Identity, required []string) {
	ctx := r.Context()
	g.recorder.ObserveDenial(guard, string(apperrors.KindForbidden))

	event := audit.NewEvent(ctx, audit.EventTypeAccessDenied, audit.EventStatusDenied)
	event.ResourceType = audit.ResourceTypeRoute
	event.ResourceID = r.URL.Path
	event.Method = r.Method
	event.Path = r.URL.Path
	event.Message = fmt.Sprintf("%s guard denied %s", guard, identity.Role())
	event.Metadata["guard"] = guard
	event.Metadata["required"] = required
	if err := g.audit.Log(ctx, event); err != nil {
		g.log.WithError(err).Warn("Failed to record access denial")
	}

	g.log.WithFields(logrus.Fields{
		"guard":    guard,
		"user_id":  identity.ID(),
		"role":     identity.Role(),
		"required": required,
		"path":     r.URL.Path,
	}).Info("Access denied")

	httputil.WriteError(w, r, apperrors.Forbidden(required, identity.ID(), string(identity.Role())))
}

func roleNames(roles []auth.Role) []string {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	return names
}
