package rbac

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/hiregate/pkg/auth"
	apperrors "github.com/platinummonkey/hiregate/pkg/errors"
)

// Checker decides whether a caller holds a permission.
//
// An explicit grant to the user allows. Otherwise a grant to the caller's
// role allows. Otherwise the answer is deny. Checks never write.
type Checker struct {
	grants     GrantReader
	identities auth.IdentityProvider
	log        *logrus.Logger
	recorder   Recorder
}

// NewChecker creates a checker reading grants from grants and resolving
// roles through identities.
func NewChecker(grants GrantReader, identities auth.IdentityProvider, log *logrus.Logger, recorder Recorder) *Checker {
	if log == nil {
		log = logrus.New()
	}
	return &Checker{
		grants:     grants,
		identities: identities,
		log:        log,
		recorder:   recorderOrNoop(recorder),
	}
}

// Evaluate decides name for identity. Unknown or malformed names and
// unknown roles deny without error; a storage failure is returned so the
// caller can fail closed.
func (c *Checker) Evaluate(ctx context.Context, identity auth.Identity, name string) (decision Decision, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "rbac.Evaluate", trace.WithAttributes(
		attribute.Int64("rbac.user_id", identity.ID()),
		attribute.String("rbac.role", string(identity.Role())),
		attribute.String("rbac.permission", name),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Bool("rbac.allowed", decision.Allowed),
				attribute.String("rbac.source", string(decision.Source)),
			)
			c.recorder.ObserveDecision(verdict(decision.Allowed), string(decision.Source), time.Since(start))
		}
		span.End()
	}()

	decision = Decision{
		Source:     SourceNone,
		Permission: name,
		UserID:     identity.ID(),
		Role:       identity.Role(),
	}
	if identity.IsZero() || ValidatePermissionName(name) != nil {
		return decision, nil
	}

	if identity.ID() > 0 {
		held, err := c.holds(ctx, UserTarget(identity.ID()), name)
		if err != nil {
			return decision, err
		}
		if held {
			decision.Allowed = true
			decision.Source = SourceUser
			return decision, nil
		}
	}

	if identity.Role().Valid() {
		held, err := c.holds(ctx, RoleTarget(identity.Role()), name)
		if err != nil {
			return decision, err
		}
		if held {
			decision.Allowed = true
			decision.Source = SourceRole
		}
	}
	return decision, nil
}

func (c *Checker) holds(ctx context.Context, target GrantTarget, name string) (bool, error) {
	names, err := c.grants.ListGrants(ctx, target)
	if err != nil {
		return false, err
	}
	for _, held := range names {
		if held == name {
			return true, nil
		}
	}
	return false, nil
}

func verdict(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}

// resolve builds the identity of userID, or reports false after logging
// why it could not.
func (c *Checker) resolve(ctx context.Context, userID int64) (auth.Identity, bool) {
	role, err := c.identities.LookupRole(ctx, userID)
	if err != nil {
		entry := c.log.WithError(err).WithField("user_id", userID)
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			entry.Debug("Permission check for unknown user")
		} else {
			entry.Error("Failed to resolve role for permission check")
		}
		return auth.Identity{}, false
	}
	return auth.NewIdentity(userID, role), true
}

func (c *Checker) evaluateOrDeny(ctx context.Context, identity auth.Identity, name string) bool {
	decision, err := c.Evaluate(ctx, identity, name)
	if err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"user_id":    identity.ID(),
			"permission": name,
		}).Error("Permission check failed, denying")
		return false
	}
	return decision.Allowed
}

// Check reports whether userID holds name. It never fails: unknown users,
// unknown permissions and storage errors all answer false.
func (c *Checker) Check(ctx context.Context, userID int64, name string) bool {
	identity, ok := c.resolve(ctx, userID)
	if !ok {
		return false
	}
	return c.evaluateOrDeny(ctx, identity, name)
}

// CheckAny reports whether userID holds at least one of names, stopping at
// the first match.
func (c *Checker) CheckAny(ctx context.Context, userID int64, names []string) bool {
	if len(names) == 0 {
		return false
	}
	identity, ok := c.resolve(ctx, userID)
	if !ok {
		return false
	}
	for _, name := range names {
		if c.evaluateOrDeny(ctx, identity, name) {
			return true
		}
	}
	return false
}

// CheckAll reports whether userID holds every name, stopping at the first
// miss, which is returned as failed. An empty list holds vacuously.
func (c *Checker) CheckAll(ctx context.Context, userID int64, names []string) (ok bool, failed string) {
	if len(names) == 0 {
		return true, ""
	}
	identity, resolved := c.resolve(ctx, userID)
	if !resolved {
		return false, names[0]
	}
	for _, name := range names {
		if !c.evaluateOrDeny(ctx, identity, name) {
			return false, name
		}
	}
	return true, ""
}

// EffectivePermissions lists what identity holds directly, through its
// role, and the union of both.
type EffectivePermissions struct {
	UserID    int64     `json:"user_id"`
	Role      auth.Role `json:"role"`
	User      []string  `json:"user_permissions"`
	RoleGrant []string  `json:"role_permissions"`
	Effective []string  `json:"effective_permissions"`
}

// Effective loads the user and role grant sets of identity concurrently.
func (c *Checker) Effective(ctx context.Context, identity auth.Identity) (EffectivePermissions, error) {
	result := EffectivePermissions{
		UserID:    identity.ID(),
		Role:      identity.Role(),
		User:      []string{},
		RoleGrant: []string{},
	}

	g, gctx := errgroup.WithContext(ctx)
	if identity.ID() > 0 {
		g.Go(func() error {
			names, err := c.grants.ListGrants(gctx, UserTarget(identity.ID()))
			if err != nil {
				return err
			}
			result.User = names
			return nil
		})
	}
	if identity.Role().Valid() {
		g.Go(func() error {
			names, err := c.grants.ListGrants(gctx, RoleTarget(identity.Role()))
			if err != nil {
				return err
			}
			result.RoleGrant = names
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return EffectivePermissions{}, err
	}

	seen := make(map[string]bool, len(result.User)+len(result.RoleGrant))
	result.Effective = make([]string, 0, len(result.User)+len(result.RoleGrant))
	for _, names := range [][]string{result.User, result.RoleGrant} {
		for _, name := range names {
			if !seen[name] {
				seen[name] = true
				result.Effective = append(result.Effective, name)
			}
		}
	}
	sort.Strings(result.Effective)
	return result, nil
}
