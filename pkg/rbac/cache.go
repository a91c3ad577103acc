package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/hiregate/pkg/auth"
)

const (
	cacheLayerL1 = "l1"
	cacheLayerL2 = "l2"
)

// CacheConfig sizes the grant-set cache.
type CacheConfig struct {
	L1Size   int
	L1TTL    time.Duration
	RedisTTL time.Duration

	// RedisPrefix namespaces the shared keys.
	RedisPrefix string
}

// DefaultCacheConfig returns the cache settings used when none are given.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		L1Size:      4096,
		L1TTL:       30 * time.Second,
		RedisTTL:    5 * time.Minute,
		RedisPrefix: "hiregate:grants",
	}
}

// GrantCache holds grant sets per target: an in-process LRU in front of an
// optional shared Redis layer.
//
// Every target carries a generation that Invalidate increments. Entries are
// stored under the generation observed before the database read that
// produced them, so a read that races a mutation caches under a generation
// nobody asks for again. With Redis the generation is shared, which also
// retires L1 entries on every other instance.
type GrantCache struct {
	l1       *expirable.LRU[string, cacheEntry]
	redis    *redis.Client
	config   CacheConfig
	log      *logrus.Logger
	recorder Recorder

	// generations backs an L1-only cache.
	mu          sync.Mutex
	generations map[string]uint64
}

type cacheEntry struct {
	generation uint64
	names      []string
}

// NewGrantCache creates a cache. client may be nil for an L1-only cache.
func NewGrantCache(config CacheConfig, client *redis.Client, log *logrus.Logger, recorder Recorder) *GrantCache {
	defaults := DefaultCacheConfig()
	if config.L1Size <= 0 {
		config.L1Size = defaults.L1Size
	}
	if config.L1TTL <= 0 {
		config.L1TTL = defaults.L1TTL
	}
	if config.RedisTTL <= 0 {
		config.RedisTTL = defaults.RedisTTL
	}
	if config.RedisPrefix == "" {
		config.RedisPrefix = defaults.RedisPrefix
	}
	if log == nil {
		log = logrus.New()
	}

	return &GrantCache{
		l1:          expirable.NewLRU[string, cacheEntry](config.L1Size, nil, config.L1TTL),
		redis:       client,
		config:      config,
		log:         log,
		recorder:    recorderOrNoop(recorder),
		generations: make(map[string]uint64),
	}
}

func (c *GrantCache) redisKey(target GrantTarget, generation uint64) string {
	return c.config.RedisPrefix + ":" + target.String() + ":" + strconv.FormatUint(generation, 10)
}

func (c *GrantCache) generationKey(target GrantTarget) string {
	return c.config.RedisPrefix + ":gen:" + target.String()
}

// Generation returns the current generation of target. ok is false when the
// shared generation cannot be read; callers must then bypass the cache.
func (c *GrantCache) Generation(ctx context.Context, target GrantTarget) (generation uint64, ok bool) {
	if c.redis == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.generations[target.String()], true
	}

	generation, err := c.redis.Get(ctx, c.generationKey(target)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		c.log.WithError(err).WithField("target", target.String()).Warn("Grant cache generation read failed")
		return 0, false
	}
	return generation, true
}

// Get returns the grant set of target cached under generation. Redis hits
// are copied into L1.
func (c *GrantCache) Get(ctx context.Context, target GrantTarget, generation uint64) ([]string, bool) {
	key := target.String()
	if entry, ok := c.l1.Get(key); ok && entry.generation == generation {
		c.recorder.CacheHit(cacheLayerL1)
		return append([]string(nil), entry.names...), true
	}
	c.recorder.CacheMiss(cacheLayerL1)

	if c.redis == nil {
		return nil, false
	}

	raw, err := c.redis.Get(ctx, c.redisKey(target, generation)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).WithField("target", key).Warn("Grant cache read failed")
		}
		c.recorder.CacheMiss(cacheLayerL2)
		return nil, false
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		c.log.WithError(err).WithField("target", key).Warn("Discarding corrupt grant cache entry")
		c.recorder.CacheMiss(cacheLayerL2)
		return nil, false
	}
	c.recorder.CacheHit(cacheLayerL2)
	c.l1.Add(key, cacheEntry{generation: generation, names: names})
	return append([]string(nil), names...), true
}

// Set stores the grant set of target under generation in both layers.
func (c *GrantCache) Set(ctx context.Context, target GrantTarget, generation uint64, names []string) {
	stored := append([]string{}, names...)
	c.l1.Add(target.String(), cacheEntry{generation: generation, names: stored})

	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.redisKey(target, generation), raw, c.config.RedisTTL).Err(); err != nil {
		c.log.WithError(err).WithField("target", target.String()).Warn("Grant cache write failed")
	}
}

// Invalidate advances the generation of targets and drops their L1 entries.
func (c *GrantCache) Invalidate(ctx context.Context, targets ...GrantTarget) {
	if len(targets) == 0 {
		return
	}
	for _, target := range targets {
		c.l1.Remove(target.String())
	}

	if c.redis == nil {
		c.mu.Lock()
		for _, target := range targets {
			c.generations[target.String()]++
		}
		c.mu.Unlock()
		return
	}

	keys := make([]string, 0, len(targets))
	pipe := c.redis.TxPipeline()
	for _, target := range targets {
		key := c.generationKey(target)
		keys = append(keys, key)
		pipe.Incr(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.WithError(err).WithField("keys", keys).Error("Grant cache invalidation failed")
	}
}

// CachedStore serves ListGrants through a GrantCache and invalidates the
// affected targets after every mutation.
type CachedStore struct {
	*Store
	cache *GrantCache
}

// NewCachedStore wraps store with cache.
func NewCachedStore(store *Store, cache *GrantCache) *CachedStore {
	return &CachedStore{Store: store, cache: cache}
}

// ListGrants implements GrantReader. The generation is read before the
// database so that a mutation committed during the read retires the result.
func (s *CachedStore) ListGrants(ctx context.Context, target GrantTarget) ([]string, error) {
	generation, cacheable := s.cache.Generation(ctx, target)
	if cacheable {
		if names, ok := s.cache.Get(ctx, target, generation); ok {
			return names, nil
		}
	}
	names, err := s.Store.ListGrants(ctx, target)
	if err != nil {
		return nil, err
	}
	if cacheable {
		s.cache.Set(ctx, target, generation, names)
	}
	return names, nil
}

// Grant implements GrantStore.
func (s *CachedStore) Grant(ctx context.Context, target GrantTarget, name string, grantedBy int64) (Grant, error) {
	g, err := s.Store.Grant(ctx, target, name, grantedBy)
	if err == nil {
		s.cache.Invalidate(ctx, target)
	}
	return g, err
}

// Revoke implements GrantStore.
func (s *CachedStore) Revoke(ctx context.Context, target GrantTarget, name string) (RevokeResult, error) {
	result, err := s.Store.Revoke(ctx, target, name)
	if err == nil {
		s.cache.Invalidate(ctx, target)
	}
	return result, err
}

// ReplaceRoleGrants implements GrantStore.
func (s *CachedStore) ReplaceRoleGrants(ctx context.Context, role auth.Role, names []string, grantedBy int64) (ReplaceResult, error) {
	result, err := s.Store.ReplaceRoleGrants(ctx, role, names, grantedBy)
	if err == nil {
		s.cache.Invalidate(ctx, RoleTarget(role))
	}
	return result, err
}

// ReplaceRoleGrantsBulk implements GrantStore.
func (s *CachedStore) ReplaceRoleGrantsBulk(ctx context.Context, grants map[auth.Role][]string, grantedBy int64) ([]ReplaceResult, error) {
	results, err := s.Store.ReplaceRoleGrantsBulk(ctx, grants, grantedBy)
	if err == nil {
		targets := make([]GrantTarget, 0, len(results))
		for _, result := range results {
			targets = append(targets, RoleTarget(result.Role))
		}
		s.cache.Invalidate(ctx, targets...)
	}
	return results, err
}

// Seed implements GrantStore.
func (s *CachedStore) Seed(ctx context.Context, grantedBy int64) (SeedResult, error) {
	result, err := s.Store.Seed(ctx, grantedBy)
	targets := make([]GrantTarget, 0, len(onboardingRoles))
	for _, role := range OnboardingRoles() {
		targets = append(targets, RoleTarget(role))
	}
	s.cache.Invalidate(ctx, targets...)
	return result, err
}
