package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/agentgrid/agentgrid/internal/common/logger"
)

const (
	defaultCacheSize = 256
	defaultClientTTL = 30 * time.Minute
)

// ErrUnknownProvider is returned for provider types with no factory.
var ErrUnknownProvider = errors.New("unknown provider type")

// ErrUnknownOperation is returned by clients for unsupported operations.
var ErrUnknownOperation = errors.New("unknown operation")

type cachedClient struct {
	client  Client
	expires time.Time
}

// Registry caches initialized provider clients.
type Registry struct {
	mu        sync.Mutex
	cache     *lru.Cache[string, *cachedClient]
	group     singleflight.Group
	fetch     CredentialFetcher
	factories map[string]Factory
	ttl       time.Duration
	now       func() time.Time
	logger    *logger.Logger
}

// NewRegistry creates a registry with the built-in provider factories. A
// non-positive ttl falls back to the default.
func NewRegistry(fetch CredentialFetcher, ttl time.Duration, log *logger.Logger) (*Registry, error) {
	if ttl <= 0 {
		ttl = defaultClientTTL
	}
	r := &Registry{
		fetch:     fetch,
		factories: make(map[string]Factory),
		ttl:       ttl,
		now:       time.Now,
		logger:    log.WithFields(zap.String("component", "provider-registry")),
	}
	cache, err := lru.NewWithEvict[string, *cachedClient](defaultCacheSize, func(key string, entry *cachedClient) {
		if err := entry.client.Cleanup(); err != nil {
			r.logger.Warn("Provider client cleanup failed",
				zap.String("key", key), zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client cache: %w", err)
	}
	r.cache = cache

	r.Register(TypeLooker, func() Client { return NewLookerClient() })
	r.Register(TypeRedash, func() Client { return NewRedashClient() })
	r.Register(TypeDataHub, func() Client { return NewDataHubClient() })
	r.Register(TypeS3, func() Client { return NewS3Client() })
	return r, nil
}

// Register installs a factory for a provider type, replacing any existing
// one.
func (r *Registry) Register(providerType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[providerType] = factory
}

// Client returns a live initialized client for (project, provider type),
// constructing and caching one when absent or expired. Concurrent callers
// for the same key share one construction.
func (r *Registry) Client(ctx context.Context, projectID, providerType string) (Client, error) {
	config, err := r.fetch(ctx, projectID, providerType)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s|%s|%s", projectID, providerType, configFingerprint(config))

	if entry, ok := r.cache.Get(key); ok {
		if r.now().Before(entry.expires) {
			return entry.client, nil
		}
		// Expired; eviction runs the disposer.
		r.cache.Remove(key)
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if entry, ok := r.cache.Get(key); ok && r.now().Before(entry.expires) {
			return entry.client, nil
		}

		r.mu.Lock()
		factory, ok := r.factories[providerType]
		r.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("%s: %w", providerType, ErrUnknownProvider)
		}

		client := factory()
		if err := client.Initialize(ctx, config); err != nil {
			return nil, fmt.Errorf("failed to initialize %s client: %w", providerType, err)
		}
		r.cache.Add(key, &cachedClient{client: client, expires: r.now().Add(r.ttl)})
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Client), nil
}

// Call resolves the client and invokes one operation.
func (r *Registry) Call(ctx context.Context, projectID, providerType, operation string, args map[string]any) (any, error) {
	client, err := r.Client(ctx, projectID, providerType)
	if err != nil {
		return nil, err
	}
	return client.Call(ctx, operation, args)
}

// Cleanup disposes every cached client. The registry stays usable.
func (r *Registry) Cleanup() {
	r.cache.Purge()
}
