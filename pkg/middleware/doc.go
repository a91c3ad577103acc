// Package middleware provides HTTP middleware for authentication and rate limiting.
//
// AuthMiddleware resolves "Authorization: Bearer <token>" through an
// auth.IdentityProvider and stores the caller's auth.Identity in the request
// context. Permission and role guards live in pkg/rbac and read that
// identity back through contextkeys.GetIdentity.
//
//	authn := middleware.NewAuthMiddleware(auth.NewSQLProvider(db))
//	router.Use(authn.Handler)
//
// RateLimitMiddleware limits requests per authenticated user (or client
// address for anonymous requests). RateLimiter keeps buckets in memory;
// DistributedRateLimiter shares fixed-window counters through Redis.
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "")
//	router.Use(middleware.NewRateLimitMiddleware(limiter, log).Handler)
//
// # Related Packages
//
//   - pkg/auth: Identity provider
//   - pkg/rbac: Permission guards
package middleware
