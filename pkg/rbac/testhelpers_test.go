package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/hiregate/pkg/audit"
	"github.com/platinummonkey/hiregate/pkg/auth"
	"github.com/platinummonkey/hiregate/pkg/contextkeys"
	apperrors "github.com/platinummonkey/hiregate/pkg/errors"
	"github.com/platinummonkey/hiregate/pkg/httputil"
	"github.com/platinummonkey/hiregate/pkg/storage"
)

var testClock = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

// sqliteDialect rewrites the Postgres-only parts of Migrations.
var sqliteDialect = strings.NewReplacer(
	"BIGSERIAL PRIMARY KEY", "INTEGER PRIMARY KEY AUTOINCREMENT",
	"DEFAULT NOW()", "DEFAULT CURRENT_TIMESTAMP",
)

func sqliteMigrations() []storage.Migration {
	migrations := Migrations()
	for i := range migrations {
		migrations[i].SQL = sqliteDialect.Replace(migrations[i].SQL)
	}
	return migrations
}

// setupTestDB opens an in-memory SQLite database migrated with the grant
// schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.Migrate(context.Background(), db, "rbac_migrations", sqliteMigrations(), quietLogger()))
	return db
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(setupTestDB(t), quietLogger(), nil)
	store.now = func() time.Time { return testClock }
	return store
}

// mustCreate adds names to the catalog without granting them.
func mustCreate(t *testing.T, store *Store, names ...string) {
	t.Helper()
	for _, name := range names {
		_, _, err := store.ensurePermission(context.Background(), store.db, name)
		require.NoError(t, err)
	}
}

// stubIdentities resolves roles from a fixed table.
type stubIdentities struct {
	roles map[int64]auth.Role
	err   error
}

func (s *stubIdentities) Authenticate(ctx context.Context, token string) (auth.Identity, error) {
	return auth.Identity{}, apperrors.New(apperrors.KindUnauthenticated, "not supported")
}

func (s *stubIdentities) LookupRole(ctx context.Context, userID int64) (auth.Role, error) {
	if s.err != nil {
		return "", s.err
	}
	role, ok := s.roles[userID]
	if !ok {
		return "", apperrors.Newf(apperrors.KindNotFound, "user %d not found", userID)
	}
	return role, nil
}

// stubGrants serves grant sets keyed by target string.
type stubGrants struct {
	mu    sync.Mutex
	sets  map[string][]string
	err   error
	calls int
}

func (s *stubGrants) ListGrants(ctx context.Context, target GrantTarget) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]string{}, s.sets[target.String()]...), nil
}

// recordingAuditLogger keeps every event it is given.
type recordingAuditLogger struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (l *recordingAuditLogger) Log(ctx context.Context, event *audit.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *recordingAuditLogger) Close() error { return nil }

func (l *recordingAuditLogger) ofType(eventType audit.EventType) []*audit.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*audit.AuditEvent
	for _, e := range l.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// recordingRecorder counts the metrics calls the package makes.
type recordingRecorder struct {
	noopRecorder
	mu        sync.Mutex
	decisions map[string]int
	denials   map[string]int
	hits      map[string]int
	misses    map[string]int
	stats     Stats
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{
		decisions: map[string]int{},
		denials:   map[string]int{},
		hits:      map[string]int{},
		misses:    map[string]int{},
	}
}

func (r *recordingRecorder) ObserveDecision(decision, source string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[decision+"/"+source]++
}

func (r *recordingRecorder) ObserveDenial(guard, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denials[guard+"/"+kind]++
}

func (r *recordingRecorder) CacheHit(layer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits[layer]++
}

func (r *recordingRecorder) CacheMiss(layer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misses[layer]++
}

func (r *recordingRecorder) SetGrantStats(permissions, roleGrants, userGrants int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = Stats{Permissions: permissions, RoleGrants: roleGrants, UserGrants: userGrants}
}

// asCaller injects identity the way the authentication middleware does.
func asCaller(identity auth.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(contextkeys.WithIdentity(r.Context(), identity)))
		})
	}
}

// testEnvelope mirrors httputil.Envelope with the payload left raw.
type testEnvelope struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *httputil.ErrorBody `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	env := decodeEnvelope(t, w)
	require.True(t, env.Success, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, dest))
}
