package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/hiregate/pkg/auth"
	apperrors "github.com/platinummonkey/hiregate/pkg/errors"
)

var tracer = otel.Tracer("github.com/platinummonkey/hiregate/pkg/rbac")

// GrantReader lists the permission names held by a target.
type GrantReader interface {
	ListGrants(ctx context.Context, target GrantTarget) ([]string, error)
}

// GrantStore is the catalog and grant API used by handlers and the
// manager. Store and CachedStore implement it.
type GrantStore interface {
	GrantReader
	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermission(ctx context.Context, name string) (Permission, error)
	Grant(ctx context.Context, target GrantTarget, name string, grantedBy int64) (Grant, error)
	Revoke(ctx context.Context, target GrantTarget, name string) (RevokeResult, error)
	ReplaceRoleGrants(ctx context.Context, role auth.Role, names []string, grantedBy int64) (ReplaceResult, error)
	ReplaceRoleGrantsBulk(ctx context.Context, grants map[auth.Role][]string, grantedBy int64) ([]ReplaceResult, error)
	Seed(ctx context.Context, grantedBy int64) (SeedResult, error)
	Stats(ctx context.Context) (Stats, error)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store persists the permission catalog and grants.
type Store struct {
	db       *sql.DB
	reader   *sql.DB
	log      *logrus.Logger
	recorder Recorder
	now      func() time.Time
}

// NewStore creates a store on db. Grant lookups always use db so checks
// see their own writes.
func NewStore(db *sql.DB, log *logrus.Logger, recorder Recorder) *Store {
	if log == nil {
		log = logrus.New()
	}
	return &Store{
		db:       db,
		reader:   db,
		log:      log,
		recorder: recorderOrNoop(recorder),
		now:      time.Now,
	}
}

// WithReader routes statistics queries to a read replica.
func (s *Store) WithReader(reader *sql.DB) *Store {
	if reader != nil {
		s.reader = reader
	}
	return s
}

// DB returns the primary database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies the primary database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// startOp opens a span for a store call. The returned func ends it and,
// for mutations, records the outcome.
func (s *Store) startOp(ctx context.Context, op string, mutation bool, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := tracer.Start(ctx, "rbac.store."+op, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		err := *errp
		if mutation {
			s.recorder.ObserveStoreOperation(op, err)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// ListPermissions returns the catalog ordered by name.
func (s *Store) ListPermissions(ctx context.Context) (perms []Permission, err error) {
	ctx, done := s.startOp(ctx, "list_permissions", false)
	defer done(&err)

	perms, err = listPermissions(ctx, s.db)
	if err != nil {
		return nil, apperrors.Internal("failed to list permissions", err)
	}
	return perms, nil
}

func listPermissions(ctx context.Context, q queryer) ([]Permission, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, name, created_at FROM permissions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	perms := []Permission{}
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GetPermission looks a permission up by name.
func (s *Store) GetPermission(ctx context.Context, name string) (Permission, error) {
	return getPermission(ctx, s.db, name)
}

func getPermission(ctx context.Context, q queryer, name string) (Permission, error) {
	var p Permission
	err := q.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM permissions WHERE name = $1`, name,
	).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Permission{}, apperrors.Newf(apperrors.KindNotFound, "permission not found: %s", name)
	}
	if err != nil {
		return Permission{}, apperrors.Internal("failed to get permission", err)
	}
	return p, nil
}

// ensurePermission finds or creates name. created reports whether this call
// inserted it.
func (s *Store) ensurePermission(ctx context.Context, q queryer, name string) (Permission, bool, error) {
	now := s.now().UTC()

	var id int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO permissions (name, created_at) VALUES ($1, $2) ON CONFLICT DO NOTHING RETURNING id`,
		name, now,
	).Scan(&id)
	if err == nil {
		return Permission{ID: id, Name: name, CreatedAt: now}, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Permission{}, false, fmt.Errorf("failed to create permission %s: %w", name, err)
	}

	p, err := getPermission(ctx, q, name)
	if err != nil {
		return Permission{}, false, err
	}
	return p, false, nil
}

// grantColumns returns the table, target column and target value for t.
func grantColumns(t GrantTarget) (table, column string, value interface{}) {
	if t.Kind() == TargetUser {
		return "user_permissions", "user_id", t.UserID()
	}
	return "role_permissions", "role", string(t.Role())
}

// insertGrant adds a grant unless one exists. The unique index on
// (target, permission_id) makes concurrent inserts of the same pair safe.
func (s *Store) insertGrant(ctx context.Context, q queryer, target GrantTarget, perm Permission, grantedBy int64) (Grant, bool, error) {
	table, column, value := grantColumns(target)
	now := s.now().UTC()

	g := Grant{
		PermissionID: perm.ID,
		Permission:   perm.Name,
		Role:         target.Role(),
		UserID:       target.UserID(),
		GrantedBy:    grantedBy,
		GrantedAt:    now,
	}

	err := q.QueryRowContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (%s, permission_id, granted_by, granted_at) VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING RETURNING id`,
		table, column), value, perm.ID, grantedBy, now,
	).Scan(&g.ID)
	if err == nil {
		return g, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Grant{}, false, fmt.Errorf("failed to insert grant: %w", err)
	}

	err = q.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, granted_by, granted_at FROM %s WHERE %s = $1 AND permission_id = $2`,
		table, column), value, perm.ID,
	).Scan(&g.ID, &g.GrantedBy, &g.GrantedAt)
	if err != nil {
		return Grant{}, false, fmt.Errorf("failed to load existing grant: %w", err)
	}
	return g, false, nil
}

// validateGrantable checks a name that a grant may add to the catalog.
func validateGrantable(name string) error {
	if err := ValidatePermissionName(name); err != nil {
		return err
	}
	p := Permission{Name: name}
	if _, ok := CategoryFor(p.Namespace()); !ok {
		return apperrors.Newf(apperrors.KindValidation, "unknown permission namespace %q", p.Namespace())
	}
	return nil
}

// Grant gives target the named permission, creating the permission if it is
// not yet in the catalog. Granting an existing pair returns the existing
// grant.
func (s *Store) Grant(ctx context.Context, target GrantTarget, name string, grantedBy int64) (g Grant, err error) {
	ctx, done := s.startOp(ctx, "grant", true,
		attribute.String("rbac.target", target.String()),
		attribute.String("rbac.permission", name))
	defer done(&err)

	if err := target.Validate(); err != nil {
		return Grant{}, err
	}
	if err := validateGrantable(name); err != nil {
		return Grant{}, err
	}
	if grantedBy <= 0 {
		return Grant{}, apperrors.New(apperrors.KindValidation, "granter is required")
	}

	perm, _, err := s.ensurePermission(ctx, s.db, name)
	if err != nil {
		return Grant{}, apperrors.Internal("failed to resolve permission", err)
	}

	g, created, err := s.insertGrant(ctx, s.db, target, perm, grantedBy)
	if err != nil {
		return Grant{}, apperrors.Internal("failed to grant permission", err)
	}

	if created {
		s.log.WithFields(logrus.Fields{
			"target":     target.String(),
			"permission": name,
			"granted_by": grantedBy,
		}).Info("Permission granted")
	}
	return g, nil
}

// Revoke removes the grant of name from target. An unknown permission name
// is NotFound; a known name that was not granted removes nothing.
func (s *Store) Revoke(ctx context.Context, target GrantTarget, name string) (result RevokeResult, err error) {
	ctx, done := s.startOp(ctx, "revoke", true,
		attribute.String("rbac.target", target.String()),
		attribute.String("rbac.permission", name))
	defer done(&err)

	if err := target.Validate(); err != nil {
		return RevokeResult{}, err
	}
	if err := ValidatePermissionName(name); err != nil {
		return RevokeResult{}, err
	}

	perm, err := getPermission(ctx, s.db, name)
	if err != nil {
		return RevokeResult{}, err
	}

	table, column, value := grantColumns(target)
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE %s = $1 AND permission_id = $2`, table, column),
		value, perm.ID,
	)
	if err != nil {
		return RevokeResult{}, apperrors.Internal("failed to revoke permission", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return RevokeResult{}, apperrors.Internal("failed to revoke permission", err)
	}

	if removed > 0 {
		s.log.WithFields(logrus.Fields{
			"target":     target.String(),
			"permission": name,
		}).Info("Permission revoked")
	}
	return RevokeResult{RemovedCount: removed}, nil
}

// ListGrants returns the names granted to target, sorted.
func (s *Store) ListGrants(ctx context.Context, target GrantTarget) (names []string, err error) {
	ctx, done := s.startOp(ctx, "list_grants", false, attribute.String("rbac.target", target.String()))
	defer done(&err)

	if err := target.Validate(); err != nil {
		return nil, err
	}

	granted, err := grantedPermissions(ctx, s.db, target)
	if err != nil {
		return nil, apperrors.Internal("failed to list grants", err)
	}

	names = make([]string, 0, len(granted))
	for name := range granted {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// grantedPermissions maps each permission name granted to target to its id.
func grantedPermissions(ctx context.Context, q queryer, target GrantTarget) (map[string]int64, error) {
	table, column, value := grantColumns(target)
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT p.id, p.name
		FROM %s g
		JOIN permissions p ON p.id = g.permission_id
		WHERE g.%s = $1
	`, table, column), value)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	defer rows.Close()

	granted := make(map[string]int64)
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		granted[name] = id
	}
	return granted, rows.Err()
}

// normalizeNames checks shape and removes duplicates, returning the names
// sorted.
func normalizeNames(names []string) ([]string, error) {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if err := ValidatePermissionName(name); err != nil {
			return nil, err
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// ReplaceRoleGrants makes names the exact grant set of role. Every name must
// already be in the catalog; otherwise nothing changes and the call fails
// with a validation error.
func (s *Store) ReplaceRoleGrants(ctx context.Context, role auth.Role, names []string, grantedBy int64) (result ReplaceResult, err error) {
	ctx, done := s.startOp(ctx, "replace_role_grants", true, attribute.String("rbac.role", string(role)))
	defer done(&err)

	results, err := s.replace(ctx, map[auth.Role][]string{role: names}, grantedBy)
	if err != nil {
		return ReplaceResult{}, err
	}
	return results[0], nil
}

// ReplaceRoleGrantsBulk applies ReplaceRoleGrants to several roles in one
// transaction. Results are ordered by role name.
func (s *Store) ReplaceRoleGrantsBulk(ctx context.Context, grants map[auth.Role][]string, grantedBy int64) (results []ReplaceResult, err error) {
	ctx, done := s.startOp(ctx, "replace_role_grants_bulk", true, attribute.Int("rbac.roles", len(grants)))
	defer done(&err)

	if len(grants) == 0 {
		return nil, apperrors.New(apperrors.KindValidation, "no roles to update")
	}
	return s.replace(ctx, grants, grantedBy)
}

func (s *Store) replace(ctx context.Context, grants map[auth.Role][]string, grantedBy int64) ([]ReplaceResult, error) {
	if grantedBy <= 0 {
		return nil, apperrors.New(apperrors.KindValidation, "granter is required")
	}

	roles := make([]auth.Role, 0, len(grants))
	desired := make(map[auth.Role][]string, len(grants))
	for role, names := range grants {
		if err := RoleTarget(role).Validate(); err != nil {
			return nil, err
		}
		normalized, err := normalizeNames(names)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
		desired[role] = normalized
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Internal("failed to start transaction", err)
	}
	defer tx.Rollback()

	catalog, err := listPermissions(ctx, tx)
	if err != nil {
		return nil, apperrors.Internal("failed to load catalog", err)
	}
	byName := make(map[string]Permission, len(catalog))
	for _, p := range catalog {
		byName[p.Name] = p
	}

	var unknown []string
	for _, role := range roles {
		for _, name := range desired[role] {
			if _, ok := byName[name]; !ok {
				unknown = append(unknown, name)
			}
		}
	}
	if len(unknown) > 0 {
		return nil, apperrors.Newf(apperrors.KindValidation, "unknown permissions: %s", strings.Join(unknown, ", "))
	}

	results := make([]ReplaceResult, 0, len(roles))
	for _, role := range roles {
		result, err := s.replaceRole(ctx, tx, role, desired[role], byName, grantedBy)
		if err != nil {
			return nil, apperrors.Internal("failed to replace role permissions", err)
		}
		results = append(results, result)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Internal("failed to commit role permissions", err)
	}

	for _, result := range results {
		s.log.WithFields(logrus.Fields{
			"role":       result.Role,
			"added":      len(result.Added),
			"removed":    len(result.Removed),
			"granted_by": grantedBy,
		}).Info("Role permissions replaced")
	}
	return results, nil
}

func (s *Store) replaceRole(ctx context.Context, tx *sql.Tx, role auth.Role, names []string, catalog map[string]Permission, grantedBy int64) (ReplaceResult, error) {
	target := RoleTarget(role)
	current, err := grantedPermissions(ctx, tx, target)
	if err != nil {
		return ReplaceResult{}, err
	}

	result := ReplaceResult{Role: role, Added: []string{}, Removed: []string{}}
	want := make(map[string]bool, len(names))
	for _, name := range names {
		want[name] = true
		if _, ok := current[name]; ok {
			continue
		}
		if _, _, err := s.insertGrant(ctx, tx, target, catalog[name], grantedBy); err != nil {
			return ReplaceResult{}, err
		}
		result.Added = append(result.Added, name)
	}

	for name, permissionID := range current {
		if want[name] {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM role_permissions WHERE role = $1 AND permission_id = $2`,
			string(role), permissionID,
		); err != nil {
			return ReplaceResult{}, fmt.Errorf("failed to remove grant %s: %w", name, err)
		}
		result.Removed = append(result.Removed, name)
	}
	sort.Strings(result.Removed)
	return result, nil
}

// Stats counts permissions and grants, reading from the replica when one is
// configured.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.reader.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM permissions),
			(SELECT COUNT(*) FROM role_permissions),
			(SELECT COUNT(*) FROM user_permissions)
	`).Scan(&stats.Permissions, &stats.RoleGrants, &stats.UserGrants)
	if err != nil {
		return Stats{}, apperrors.Internal("failed to count grants", err)
	}
	return stats, nil
}
