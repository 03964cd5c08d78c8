package cache

import (
	"strings"
	"sync"
	"time"

	catalogdomain "github.com/smallbiznis/allowance/internal/catalog/domain"
	"github.com/smallbiznis/allowance/internal/clock"
	"github.com/smallbiznis/allowance/internal/config"
)

// RouteFeatureCache stores resolver results keyed by (method, operation).
// A cached nil feature records that the operation is not metered.
type RouteFeatureCache interface {
	Get(method, operationID string) (feature *catalogdomain.Feature, ok bool)
	Set(method, operationID string, feature *catalogdomain.Feature)
	// Generation returns a token that changes whenever the operation is
	// invalidated. Take it before reading the store.
	Generation(operationID string) uint64
	// SetIfCurrent stores feature only if no invalidation of the operation
	// happened since gen was taken.
	SetIfCurrent(method, operationID string, feature *catalogdomain.Feature, gen uint64) bool
	// InvalidateOperation drops every cached method for the operation.
	InvalidateOperation(operationID string) int
	Purge()
}

type routeKey struct {
	method      string
	operationID string
}

type routeFeatureCache struct {
	entries Cache[routeKey, *catalogdomain.Feature]
	cfg     *config.EnforcementConfigHolder

	mu       sync.Mutex
	seq      uint64
	purgedAt uint64
	gens     map[string]uint64
}

// NewRouteFeatureCache reads the entry TTL from cfg on every Set, so a
// reloaded routeCacheTTL applies to new entries immediately.
func NewRouteFeatureCache(cfg *config.EnforcementConfigHolder) RouteFeatureCache {
	return NewRouteFeatureCacheWithClock(cfg, clock.NewSystemClock())
}

func NewRouteFeatureCacheWithClock(cfg *config.EnforcementConfigHolder, c clock.Clock) RouteFeatureCache {
	return &routeFeatureCache{
		entries: NewTTLCacheWithClock[routeKey, *catalogdomain.Feature](c),
		cfg:     cfg,
		gens:    make(map[string]uint64),
	}
}

func (c *routeFeatureCache) Get(method, operationID string) (*catalogdomain.Feature, bool) {
	return c.entries.Get(newRouteKey(method, operationID))
}

func (c *routeFeatureCache) Set(method, operationID string, feature *catalogdomain.Feature) {
	c.entries.Set(newRouteKey(method, operationID), feature, c.ttl())
}

func (c *routeFeatureCache) Generation(operationID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generationLocked(operationID)
}

func (c *routeFeatureCache) SetIfCurrent(method, operationID string, feature *catalogdomain.Feature, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generationLocked(operationID) != gen {
		return false
	}
	c.entries.Set(newRouteKey(method, operationID), feature, c.ttl())
	return true
}

func (c *routeFeatureCache) InvalidateOperation(operationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.gens[operationID] = c.seq
	return c.entries.DeleteFunc(func(k routeKey) bool {
		return k.operationID == operationID
	})
}

func (c *routeFeatureCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.purgedAt = c.seq
	// per-operation marks older than the purge are subsumed by it
	clear(c.gens)
	c.entries.Purge()
}

func (c *routeFeatureCache) generationLocked(operationID string) uint64 {
	if gen, ok := c.gens[operationID]; ok && gen > c.purgedAt {
		return gen
	}
	return c.purgedAt
}

func (c *routeFeatureCache) ttl() time.Duration {
	ttl := c.cfg.Get().RouteCacheTTL
	if ttl <= 0 {
		return config.DefaultEnforcementConfig().RouteCacheTTL
	}
	return ttl
}

func newRouteKey(method, operationID string) routeKey {
	return routeKey{
		method:      strings.ToUpper(strings.TrimSpace(method)),
		operationID: operationID,
	}
}
