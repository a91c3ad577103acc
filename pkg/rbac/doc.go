// Package rbac decides what a caller of the recruitment platform may do.
//
// # Model
//
// Every caller has one coarse role (guest, user, recruiter, manager, admin)
// supplied by the identity provider. Fine-grained permissions are named
// resource.action, for example "jobs.create" or "offer.approve", and live
// in a catalog. A permission is granted either to a role or directly to a
// single user.
//
// # Decisions
//
// Checker answers "may user U do P?":
//
//  1. a direct grant of P to U allows (source "user")
//  2. otherwise a grant of P to U's role allows (source "role")
//  3. otherwise the answer is deny (source "none")
//
// Unknown users, unknown or malformed permission names and storage failures
// all deny. Check, CheckAny and CheckAll never return errors.
//
// Role checks are separate and use a fixed ordering. Allows reports whether
// a caller's role ranks at least as high as the lowest required role.
//
// # HTTP
//
// Guards wrap handlers with permission or role requirements and answer 401
// or 403 in the standard error envelope. Handlers exposes catalog, grant and
// settings administration under /rbac:
//
//	GET    /rbac/permissions
//	GET    /rbac/permissions/categories
//	POST   /rbac/permissions/seed
//	GET    /rbac/roles/{role}/permissions
//	PUT    /rbac/roles/{role}/permissions
//	GET    /rbac/users/{id}/permissions
//	POST   /rbac/users/{id}/permissions
//	DELETE /rbac/users/{id}/permissions/{permission}
//	GET    /rbac/users/{id}/check/{permission}
//	GET    /rbac/settings
//	PUT    /rbac/settings
//	GET    /rbac/me/permissions
//	GET    /rbac/me/check/{permission}
//
// # Usage
//
//	manager := rbac.NewManager(cm, identities, redisClient, auditLogger, log, metrics, rbac.DefaultConfig())
//	if err := manager.Initialize(ctx); err != nil {
//		return err
//	}
//	manager.RegisterRoutes(router, authMiddleware.Handler)
//
//	router.Handle("/jobs", manager.Guards().RequirePermission("jobs.create")(createJob)).Methods("POST")
//
// # Caching
//
// With caching enabled, grant sets are held in an in-process LRU in front of
// Redis. Every mutation invalidates the affected role or user, so a
// revocation is seen by the next check on any instance sharing the Redis.
package rbac
