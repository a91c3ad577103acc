package rbac

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/platinummonkey/hiregate/pkg/errors"
)

// Seed creates every default permission that is missing, then grants the
// onboarding set to the onboarding roles, attributed to grantedBy. Both
// phases are idempotent. Individual failures are logged and skipped; the
// call fails only when storage is unreachable or nothing could be seeded.
func (s *Store) Seed(ctx context.Context, grantedBy int64) (result SeedResult, err error) {
	ctx, done := s.startOp(ctx, "seed", true, attribute.Int64("rbac.granted_by", grantedBy))
	defer done(&err)

	if grantedBy <= 0 {
		return SeedResult{}, apperrors.New(apperrors.KindValidation, "bootstrap granter is required")
	}
	if err := s.Ping(ctx); err != nil {
		return SeedResult{}, apperrors.Internal("storage unavailable for seeding", err)
	}

	defaults := DefaultPermissions()
	seeded := make(map[string]Permission, len(defaults))

	for _, name := range defaults {
		perm, created, err := s.ensurePermission(ctx, s.db, name)
		if err != nil {
			s.log.WithError(err).WithField("permission", name).Warn("Failed to seed permission")
			result.Failed = append(result.Failed, name)
			continue
		}
		seeded[name] = perm
		result.Count++
		if created {
			result.Created++
		}
	}

	if result.Count == 0 {
		return result, apperrors.Internal("seeding failed for every permission", nil)
	}

	for _, role := range OnboardingRoles() {
		target := RoleTarget(role)
		for _, name := range OnboardingGrants() {
			perm, ok := seeded[name]
			if !ok {
				continue
			}
			_, created, err := s.insertGrant(ctx, s.db, target, perm, grantedBy)
			if err != nil {
				s.log.WithError(err).WithFields(logrus.Fields{
					"role":       role,
					"permission": name,
				}).Warn("Failed to seed role grant")
				result.Failed = append(result.Failed, target.String()+"/"+name)
				continue
			}
			if created {
				result.GrantsCreated++
			}
		}
	}

	s.log.WithFields(logrus.Fields{
		"count":          result.Count,
		"created":        result.Created,
		"grants_created": result.GrantsCreated,
		"failed":         len(result.Failed),
	}).Info("Permission catalog seeded")

	return result, nil
}
