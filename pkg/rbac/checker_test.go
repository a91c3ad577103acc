package rbac

import (
	"context"
	"errors"
	"testing"
	"testing/quick"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/hiregate/pkg/auth"
)

func newStubChecker(grants *stubGrants, roles map[int64]auth.Role) *Checker {
	return NewChecker(grants, &stubIdentities{roles: roles}, quietLogger(), nil)
}

func TestChecker_Evaluate(t *testing.T) {
	grants := &stubGrants{sets: map[string][]string{
		"user:7":         {"jobs.create"},
		"role:recruiter": {"jobs.view", "candidates.view"},
		"role:admin":     {"jobs.create", "jobs.view"},
	}}
	recorder := newRecordingRecorder()
	checker := NewChecker(grants, &stubIdentities{}, quietLogger(), recorder)
	ctx := context.Background()

	tests := []struct {
		name       string
		identity   auth.Identity
		permission string
		allowed    bool
		source     DecisionSource
	}{
		{"direct user grant", auth.NewIdentity(7, auth.RoleRecruiter), "jobs.create", true, SourceUser},
		{"role grant", auth.NewIdentity(7, auth.RoleRecruiter), "jobs.view", true, SourceRole},
		{"user grant wins over role grant", auth.NewIdentity(7, auth.RoleAdmin), "jobs.create", true, SourceUser},
		{"neither", auth.NewIdentity(7, auth.RoleRecruiter), "jobs.delete", false, SourceNone},
		{"other user does not inherit grant", auth.NewIdentity(8, auth.RoleRecruiter), "jobs.create", false, SourceNone},
		{"unknown role falls back to user grants", auth.NewIdentity(7, auth.Role("owner")), "jobs.create", true, SourceUser},
		{"unknown role has no role grants", auth.NewIdentity(9, auth.Role("owner")), "jobs.view", false, SourceNone},
		{"malformed permission", auth.NewIdentity(7, auth.RoleAdmin), "jobs", false, SourceNone},
		{"zero identity", auth.Identity{}, "jobs.view", false, SourceNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := checker.Evaluate(ctx, tt.identity, tt.permission)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, decision.Allowed)
			assert.Equal(t, tt.source, decision.Source)
			assert.Equal(t, tt.permission, decision.Permission)
		})
	}

	assert.Equal(t, 3, recorder.decisions["allow/user"])
	assert.Equal(t, 1, recorder.decisions["allow/role"])
}

func TestChecker_Evaluate_StorageError(t *testing.T) {
	grants := &stubGrants{err: errors.New("connection refused")}
	checker := newStubChecker(grants, nil)

	decision, err := checker.Evaluate(context.Background(), auth.NewIdentity(7, auth.RoleAdmin), "jobs.view")
	require.Error(t, err)
	assert.False(t, decision.Allowed)
}

func TestChecker_Check(t *testing.T) {
	grants := &stubGrants{sets: map[string][]string{
		"user:7":         {"jobs.create"},
		"role:recruiter": {"jobs.view"},
	}}
	checker := newStubChecker(grants, map[int64]auth.Role{
		7: auth.RoleRecruiter,
		8: auth.RoleUser,
	})
	ctx := context.Background()

	assert.True(t, checker.Check(ctx, 7, "jobs.create"))
	assert.True(t, checker.Check(ctx, 7, "jobs.view"))
	assert.False(t, checker.Check(ctx, 8, "jobs.view"))
	assert.False(t, checker.Check(ctx, 7, "jobs.publish"))
	assert.False(t, checker.Check(ctx, 7, "not-a-permission"))

	t.Run("unknown user", func(t *testing.T) {
		calls := grants.calls
		assert.False(t, checker.Check(ctx, 404, "jobs.view"))
		assert.Equal(t, calls, grants.calls, "no grant lookup for unresolved users")
	})

	t.Run("identity provider failure", func(t *testing.T) {
		failing := NewChecker(grants, &stubIdentities{err: errors.New("timeout")}, quietLogger(), nil)
		assert.False(t, failing.Check(ctx, 7, "jobs.view"))
	})

	t.Run("grant store failure", func(t *testing.T) {
		broken := newStubChecker(&stubGrants{err: errors.New("timeout")}, map[int64]auth.Role{7: auth.RoleRecruiter})
		assert.False(t, broken.Check(ctx, 7, "jobs.view"))
	})
}

func TestChecker_CheckAnyAll(t *testing.T) {
	grants := &stubGrants{sets: map[string][]string{
		"role:recruiter": {"jobs.view", "candidates.view"},
	}}
	checker := newStubChecker(grants, map[int64]auth.Role{7: auth.RoleRecruiter})
	ctx := context.Background()

	assert.True(t, checker.CheckAny(ctx, 7, []string{"jobs.delete", "jobs.view"}))
	assert.False(t, checker.CheckAny(ctx, 7, []string{"jobs.delete", "jobs.publish"}))
	assert.False(t, checker.CheckAny(ctx, 7, nil))
	assert.False(t, checker.CheckAny(ctx, 404, []string{"jobs.view"}))

	ok, failed := checker.CheckAll(ctx, 7, []string{"jobs.view", "candidates.view"})
	assert.True(t, ok)
	assert.Empty(t, failed)

	ok, failed = checker.CheckAll(ctx, 7, []string{"jobs.view", "jobs.delete", "jobs.publish"})
	assert.False(t, ok)
	assert.Equal(t, "jobs.delete", failed)

	ok, failed = checker.CheckAll(ctx, 7, nil)
	assert.True(t, ok)
	assert.Empty(t, failed)

	ok, failed = checker.CheckAll(ctx, 404, []string{"jobs.view"})
	assert.False(t, ok)
	assert.Equal(t, "jobs.view", failed)
}

// CheckAny and CheckAll agree with folding Check over the same names.
func TestChecker_CombinatorsMatchCheck(t *testing.T) {
	universe := []string{"jobs.view", "jobs.create", "jobs.delete", "candidates.view", "offer.approve", "bogus"}
	grants := &stubGrants{sets: map[string][]string{
		"user:7":         {"offer.approve"},
		"role:recruiter": {"jobs.view", "candidates.view"},
	}}
	checker := newStubChecker(grants, map[int64]auth.Role{7: auth.RoleRecruiter})
	ctx := context.Background()

	pick := func(mask uint8) []string {
		var names []string
		for i, name := range universe {
			if mask&(1<<uint(i)) != 0 {
				names = append(names, name)
			}
		}
		return names
	}

	property := func(mask uint8) bool {
		names := pick(mask)
		wantAny, wantAll := false, true
		for _, name := range names {
			held := checker.Check(ctx, 7, name)
			wantAny = wantAny || held
			wantAll = wantAll && held
		}
		gotAll, _ := checker.CheckAll(ctx, 7, names)
		return checker.CheckAny(ctx, 7, names) == wantAny && gotAll == wantAll
	}

	require.NoError(t, quick.Check(property, &quick.Config{MaxCount: 200}))
}

func TestChecker_FailsClosedOnDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM user_permissions").WillReturnError(errors.New("connection reset by peer"))

	store := NewStore(db, quietLogger(), nil)
	checker := NewChecker(store, &stubIdentities{roles: map[int64]auth.Role{7: auth.RoleAdmin}}, quietLogger(), nil)

	assert.False(t, checker.Check(context.Background(), 7, "jobs.view"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChecker_Effective(t *testing.T) {
	grants := &stubGrants{sets: map[string][]string{
		"user:7":         {"offer.approve", "jobs.view"},
		"role:recruiter": {"jobs.view", "candidates.view"},
	}}
	checker := newStubChecker(grants, nil)
	ctx := context.Background()

	eff, err := checker.Effective(ctx, auth.NewIdentity(7, auth.RoleRecruiter))
	require.NoError(t, err)
	assert.Equal(t, int64(7), eff.UserID)
	assert.Equal(t, auth.RoleRecruiter, eff.Role)
	assert.Equal(t, []string{"offer.approve", "jobs.view"}, eff.User)
	assert.Equal(t, []string{"jobs.view", "candidates.view"}, eff.RoleGrant)
	assert.Equal(t, []string{"candidates.view", "jobs.view", "offer.approve"}, eff.Effective)

	t.Run("unknown role", func(t *testing.T) {
		eff, err := checker.Effective(ctx, auth.NewIdentity(7, auth.Role("owner")))
		require.NoError(t, err)
		assert.Empty(t, eff.RoleGrant)
		assert.Equal(t, []string{"jobs.view", "offer.approve"}, eff.Effective)
	})

	t.Run("storage failure", func(t *testing.T) {
		broken := newStubChecker(&stubGrants{err: errors.New("timeout")}, nil)
		_, err := broken.Effective(ctx, auth.NewIdentity(7, auth.RoleRecruiter))
		assert.Error(t, err)
	})
}
