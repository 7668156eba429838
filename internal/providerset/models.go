package providerset

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chatforge/backend/internal/model"
)

const (
	modelListTTL      = 10 * time.Minute
	modelListCacheCap = 256
	// modelListTimeout is spec.md §4's shorter timeout for model-listing
	// calls, distinct from the 30s default applied to generate/stream
	// requests.
	modelListTimeout = 10 * time.Second
)

type modelListEntry struct {
	models  []string
	expires time.Time
}

// modelLister is implemented by provider adapters that can enumerate
// their available models (currently only pkg/providers/google, per
// spec.md §4's Gemini-shaped "model listing at /v1beta/models" case).
// Adapters that don't support it simply aren't asserted to this
// interface, and ListModels reports ErrNotSupported.
type modelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ErrNotSupported is returned when a provider's adapter has no listing
// capability.
var ErrNotSupported = fmt.Errorf("provider does not support model listing")

// modelCache is the process-wide, TTL-swept model-list cache named in
// SPEC_FULL.md's domain-stack table ("LRU caches (model-list cache,
// ...)", hashicorp/golang-lru/v2), mirroring internal/tools.CursorCache's
// shape: an LRU bounded by entry count with a TTL checked on read.
type modelCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, modelListEntry]
}

func newModelCache() *modelCache {
	c, _ := lru.New[string, modelListEntry](modelListCacheCap)
	return &modelCache{cache: c}
}

func (c *modelCache) get(key string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		c.cache.Remove(key)
		return nil, false
	}
	return e.models, true
}

func (c *modelCache) put(key string, models []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, modelListEntry{models: models, expires: time.Now().Add(modelListTTL)})
}

// Sweep removes every expired model-list entry; intended to run off the
// same cron schedule as internal/tools.CursorCache.Sweep.
func (c *modelCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for _, key := range c.cache.Keys() {
		if e, ok := c.cache.Peek(key); ok && now.After(e.expires) {
			c.cache.Remove(key)
		}
	}
}

// ListModels returns the models rec's provider reports as available,
// cached for modelListTTL per provider id. Resolve must succeed first
// (the adapter instance is reused, not reconstructed).
func (r *Resolver) ListModels(ctx context.Context, rec *model.Provider) ([]string, error) {
	if cached, ok := r.modelCache.get(rec.ID.String()); ok {
		return cached, nil
	}

	inst, err := r.Resolve(ctx, rec)
	if err != nil {
		return nil, err
	}
	lister, ok := inst.(modelLister)
	if !ok {
		return nil, ErrNotSupported
	}

	listCtx, cancel := context.WithTimeout(ctx, modelListTimeout)
	defer cancel()
	models, err := lister.ListModels(listCtx)
	if err != nil {
		return nil, err
	}

	r.modelCache.put(rec.ID.String(), models)
	return models, nil
}

// SweepModelCache evicts expired cached model lists; wired onto the
// same cron schedule as internal/tools.CursorCache in cmd/chatforge.
func (r *Resolver) SweepModelCache() {
	r.modelCache.Sweep()
}
