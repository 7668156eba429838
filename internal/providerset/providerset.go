// Package providerset resolves a user-owned model.Provider row plus its
// decrypted API key into a live pkg/provider.Provider adapter instance,
// scoped to one request. This is distinct from the teacher's
// pkg/registry.Registry (a process-wide, statically-configured provider
// map): here the provider set is per-user and per-credential, resolved
// fresh (or from a short-lived cache) on every request rather than
// registered once at boot.
package providerset

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatforge/backend/internal/crypto"
	"github.com/chatforge/backend/internal/model"
	"github.com/chatforge/backend/pkg/provider"
	"github.com/chatforge/backend/pkg/providers/anthropic"
	"github.com/chatforge/backend/pkg/providers/genericoa"
	"github.com/chatforge/backend/pkg/providers/google"
	"github.com/chatforge/backend/pkg/providers/openai"
)

// instantiate builds the pkg/provider.Provider implementation matching
// rec.Type, given the already-decrypted API key. Adding a fifth
// provider_type means adding one case here.
func instantiate(rec *model.Provider, apiKey string) (provider.Provider, error) {
	switch rec.Type {
	case model.ProviderOpenAI:
		return openai.New(openai.Config{
			APIKey:       apiKey,
			BaseURL:      rec.BaseURL,
			ExtraHeaders: rec.ExtraHeaders,
		}), nil
	case model.ProviderAnthropic:
		return anthropic.New(anthropic.Config{
			APIKey:  apiKey,
			BaseURL: rec.BaseURL,
		}), nil
	case model.ProviderGemini:
		return google.New(google.Config{
			APIKey:  apiKey,
			BaseURL: rec.BaseURL,
		}), nil
	case model.ProviderGenericOpenAICompatible:
		simulateStreaming, _ := rec.Metadata["simulate_streaming"].(bool)
		return genericoa.New(genericoa.Config{
			APIKey:            apiKey,
			BaseURL:           rec.BaseURL,
			ExtraHeaders:      rec.ExtraHeaders,
			SimulateStreaming: simulateStreaming,
		})
	default:
		return nil, fmt.Errorf("unknown provider_type %q", rec.Type)
	}
}

// cacheEntry holds a resolved provider instance for a bounded time, so a
// burst of requests against the same provider doesn't re-decrypt and
// re-construct an HTTP client on every call.
type cacheEntry struct {
	instance provider.Provider
	expires  time.Time
}

const cacheTTL = 5 * time.Minute

// Resolver builds per-user provider instances from encrypted Provider
// rows, caching the decrypted instance briefly per provider id.
type Resolver struct {
	masterKey *crypto.MasterKey

	mu    sync.Mutex
	cache map[string]cacheEntry

	modelCache *modelCache
}

// NewResolver builds a Resolver that decrypts Provider.APIKeyEncrypted
// with masterKey.
func NewResolver(masterKey *crypto.MasterKey) *Resolver {
	return &Resolver{masterKey: masterKey, cache: make(map[string]cacheEntry), modelCache: newModelCache()}
}

// Resolve returns a live provider.Provider for rec, owned by the
// conversation's authenticated user — callers must have already
// verified rec.OwnerUserID matches the caller's identity before
// invoking Resolve; this package does not re-check ownership.
func (r *Resolver) Resolve(ctx context.Context, rec *model.Provider) (provider.Provider, error) {
	if !rec.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", rec.ID)
	}

	key := rec.ID.String()
	r.mu.Lock()
	if e, ok := r.cache[key]; ok && time.Now().Before(e.expires) {
		r.mu.Unlock()
		return e.instance, nil
	}
	r.mu.Unlock()

	plaintext, err := r.masterKey.Decrypt(rec.APIKeyEncrypted, rec.APIKeyNonce)
	if err != nil {
		return nil, fmt.Errorf("decrypt provider %s api key: %w", rec.ID, err)
	}

	instance, err := instantiate(rec, string(plaintext))
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{instance: instance, expires: time.Now().Add(cacheTTL)}
	r.mu.Unlock()

	return instance, nil
}

// Invalidate drops any cached instance for providerID, called after a
// provider's credentials are rotated or it is disabled.
func (r *Resolver) Invalidate(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, providerID)
}
