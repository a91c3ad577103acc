// Package auth resolves who is calling.
//
// # Roles
//
// Every caller holds exactly one Role. Roles are ranked, weakest first:
//
//	guest < user < recruiter < manager < admin
//
// The rank is used by the coarse role gate in package rbac; fine-grained
// decisions go through permission grants.
//
// # Identity
//
// Identity is an immutable {id, role} value produced by the authentication
// middleware and carried in the request context:
//
//	identity, err := provider.Authenticate(ctx, bearerToken)
//	ctx = contextkeys.WithIdentity(ctx, identity)
//
// # Identity provider
//
// SQLProvider validates hg_-prefixed session tokens by their SHA256 hash
// against the sessions table and reads roles from the users table. Issuing
// sessions (login, passwords, token minting) is handled by another service.
package auth
