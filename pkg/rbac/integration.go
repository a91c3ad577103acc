package rbac

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/hiregate/pkg/audit"
	"github.com/platinummonkey/hiregate/pkg/auth"
	"github.com/platinummonkey/hiregate/pkg/storage"
)

// Config holds RBAC configuration
type Config struct {
	// BootstrapGranterID is recorded as the granter of seeded grants.
	BootstrapGranterID int64

	// SeedOnStartup seeds the default catalog during Initialize.
	SeedOnStartup bool

	// StatsSchedule is a cron spec for refreshing grant gauges. Empty
	// disables the refresher.
	StatsSchedule string

	CacheEnabled bool
	Cache        CacheConfig
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		BootstrapGranterID: 1,
		SeedOnStartup:      true,
		StatsSchedule:      "@every 1m",
		CacheEnabled:       true,
		Cache:              DefaultCacheConfig(),
	}
}

// Manager manages all RBAC components
type Manager struct {
	connections *storage.ConnectionManager
	store       *Store
	grants      GrantStore
	checker     *Checker
	guards      *Guards
	handlers    *Handlers
	recorder    Recorder
	log         *logrus.Logger
	config      Config
	cron        *cron.Cron
}

// NewManager creates a new RBAC manager. redisClient may be nil, in which
// case the grant cache is in-process only.
func NewManager(
	cm *storage.ConnectionManager,
	identities auth.IdentityProvider,
	redisClient *redis.Client,
	auditLogger audit.Logger,
	log *logrus.Logger,
	recorder Recorder,
	config Config,
) *Manager {
	if log == nil {
		log = logrus.New()
	}
	recorder = recorderOrNoop(recorder)

	store := NewStore(cm.Primary(), log, recorder).WithReader(cm.Replica())

	var grants GrantStore = store
	if config.CacheEnabled {
		grants = NewCachedStore(store, NewGrantCache(config.Cache, redisClient, log, recorder))
	}

	checker := NewChecker(grants, identities, log, recorder)
	guards := NewGuards(checker, auditLogger, log, recorder)

	return &Manager{
		connections: cm,
		store:       store,
		grants:      grants,
		checker:     checker,
		guards:      guards,
		handlers:    NewHandlers(grants, checker, guards, auditLogger, log, config.BootstrapGranterID),
		recorder:    recorder,
		log:         log,
		config:      config,
	}
}

// Initialize sets up RBAC system
func (m *Manager) Initialize(ctx context.Context) error {
	if err := RunMigrations(ctx, m.store.DB(), m.log); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := ValidateCategories(); err != nil {
		return fmt.Errorf("invalid category table: %w", err)
	}

	if m.config.SeedOnStartup {
		if _, err := m.grants.Seed(ctx, m.config.BootstrapGranterID); err != nil {
			return fmt.Errorf("failed to seed permissions: %w", err)
		}
	}

	return nil
}

// RegisterRoutes registers RBAC routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router, middlewares ...mux.MiddlewareFunc) {
	m.handlers.RegisterRoutes(router, middlewares...)
}

// Store returns the grant store, cached when caching is enabled
func (m *Manager) Store() GrantStore {
	return m.grants
}

// Checker returns the permission checker
func (m *Manager) Checker() *Checker {
	return m.checker
}

// Guards returns the request guards
func (m *Manager) Guards() *Guards {
	return m.guards
}

// GetStats returns catalog and grant counts
func (m *Manager) GetStats(ctx context.Context) (Stats, error) {
	return m.grants.Stats(ctx)
}

// RefreshStats publishes grant counts and connection pool stats to the
// recorder.
func (m *Manager) RefreshStats(ctx context.Context) error {
	stats, err := m.GetStats(ctx)
	if err != nil {
		return err
	}
	m.recorder.SetGrantStats(stats.Permissions, stats.RoleGrants, stats.UserGrants)
	m.recorder.UpdateDBStats(m.connections.Stats().Primary)
	return nil
}

// StartStatsRefresher runs RefreshStats on the configured schedule until
// Stop is called. It does nothing when no schedule is configured.
func (m *Manager) StartStatsRefresher(ctx context.Context) error {
	if m.config.StatsSchedule == "" {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(m.config.StatsSchedule, func() {
		if err := m.RefreshStats(ctx); err != nil {
			m.log.WithError(err).Warn("Failed to refresh grant stats")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid stats schedule %q: %w", m.config.StatsSchedule, err)
	}

	m.cron = c
	c.Start()
	m.log.WithField("schedule", m.config.StatsSchedule).Info("Grant stats refresher started")
	return nil
}

// Stop halts the stats refresher and waits for a running refresh to finish.
func (m *Manager) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}
