package registry

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/oshokin/dynaso/internal/domain/nativelib"
	"github.com/oshokin/dynaso/internal/logger"
)

// Cache lifetimes of positive lookups.
const (
	DefaultHitTTL          = 5 * time.Minute
	DefaultCleanupInterval = 10 * time.Minute
)

// Client issues lookups against the remote registry.
// An empty locator with a nil error means the key is not hosted.
type Client interface {
	Lookup(ctx context.Context, libraryType, key string) (string, error)
}

// Gate wraps a registry client with fail-open semantics and a hit cache.
type Gate struct {
	// client is the remote registry; nil disables lookups entirely.
	client Client
	// hits caches locators of keys known to be hosted. Misses are never stored.
	hits *gocache.Cache
	// hitTTL is the lifetime of a cached hit.
	hitTTL time.Duration
}

// Option configures the gate.
type Option func(*Gate)

// WithHitTTL overrides how long a positive lookup is remembered.
func WithHitTTL(ttl time.Duration) Option {
	return func(g *Gate) {
		if ttl > 0 {
			g.hitTTL = ttl
		}
	}
}

// NewGate creates a gate over client. A nil client yields a gate that reports
// every key as not hosted.
func NewGate(client Client, opts ...Option) *Gate {
	gate := &Gate{
		client: client,
		hitTTL: DefaultHitTTL,
	}

	for _, opt := range opts {
		opt(gate)
	}

	gate.hits = gocache.New(gate.hitTTL, DefaultCleanupInterval)

	return gate
}

// Lookup returns the locator of the hosted archive for (libraryType, key) and
// whether it was found. Registry failures are logged and reported as not found.
func (g *Gate) Lookup(ctx context.Context, libraryType, key string) (string, bool) {
	if g == nil || g.client == nil {
		return "", false
	}

	cacheKey := libraryType + "/" + key

	if cached, found := g.hits.Get(cacheKey); found {
		if url, ok := cached.(string); ok {
			logger.DebugKV(ctx, "Registry cache hit", "key", key)

			return url, true
		}
	}

	url, err := g.client.Lookup(ctx, libraryType, key)
	if err != nil {
		logger.WarnKV(ctx, "Registry lookup failed, treating as not hosted",
			"key", key,
			"error", fmt.Errorf("%w: %w", nativelib.ErrRegistryUnavailable, err))

		return "", false
	}

	if url == "" {
		return "", false
	}

	g.hits.Set(cacheKey, url, g.hitTTL)

	return url, true
}
