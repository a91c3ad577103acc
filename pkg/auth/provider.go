package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "github.com/platinummonkey/hiregate/pkg/errors"
)

// IdentityProvider resolves callers. Session issuance lives elsewhere; this
// side only validates tokens and reads roles.
type IdentityProvider interface {
	// Authenticate resolves a bearer token to the caller's identity.
	Authenticate(ctx context.Context, token string) (Identity, error)

	// LookupRole returns the current role of an active user.
	LookupRole(ctx context.Context, userID int64) (Role, error)
}

// SQLProvider reads sessions and users from the application database.
type SQLProvider struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLProvider creates an identity provider backed by db.
func NewSQLProvider(db *sql.DB) *SQLProvider {
	return &SQLProvider{db: db, now: time.Now}
}

// Authenticate implements IdentityProvider.
func (p *SQLProvider) Authenticate(ctx context.Context, token string) (Identity, error) {
	if err := ValidateTokenFormat(token); err != nil {
		return Identity{}, apperrors.Wrap(apperrors.KindUnauthenticated, "invalid token", err)
	}

	query := `
		SELECT u.id, u.role
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1
		  AND s.revoked_at IS NULL
		  AND (s.expires_at IS NULL OR s.expires_at > $2)
		  AND u.is_active = TRUE
	`

	var (
		userID  int64
		roleStr string
	)
	err := p.db.QueryRowContext(ctx, query, HashToken(token), p.now().UTC()).Scan(&userID, &roleStr)
	if err == sql.ErrNoRows {
		return Identity{}, apperrors.New(apperrors.KindUnauthenticated, "invalid or expired token")
	}
	if err != nil {
		return Identity{}, apperrors.Internal("failed to look up session", err)
	}

	role, err := ParseRole(roleStr)
	if err != nil {
		return Identity{}, apperrors.Internal(fmt.Sprintf("user %d has an unusable role", userID), err)
	}

	return NewIdentity(userID, role), nil
}

// LookupRole implements IdentityProvider.
func (p *SQLProvider) LookupRole(ctx context.Context, userID int64) (Role, error) {
	var roleStr string
	err := p.db.QueryRowContext(ctx,
		`SELECT role FROM users WHERE id = $1 AND is_active = TRUE`, userID,
	).Scan(&roleStr)
	if err == sql.ErrNoRows {
		return "", apperrors.Newf(apperrors.KindNotFound, "user not found: %d", userID)
	}
	if err != nil {
		return "", apperrors.Internal("failed to look up user role", err)
	}

	role, err := ParseRole(roleStr)
	if err != nil {
		return "", apperrors.Internal(fmt.Sprintf("user %d has an unusable role", userID), err)
	}
	return role, nil
}
