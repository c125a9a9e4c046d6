package auth

import (
	"context"
	"sync"
	"time"

	"ghostbus/internal/config"
	"ghostbus/internal/store"
)

type cacheEntry struct {
	vehicleID string
	expiresAt time.Time
}

// Authenticator resolves feed API keys in levels: fleet-wide static keys,
// per-vehicle bound keys from config, a local expiring cache, then Redis.
// It degrades to config-only keys when Redis is absent.
type Authenticator struct {
	localCache sync.Map
	redis      *store.RedisStore
	ttl        time.Duration
	staticKeys map[string]bool
	boundKeys  map[string]string
}

func NewAuthenticator(cfg *config.Config, redis *store.RedisStore) *Authenticator {
	staticKeys := make(map[string]bool, len(cfg.ValidAPIKeys))
	for _, k := range cfg.ValidAPIKeys {
		if k != "" {
			staticKeys[k] = true
		}
	}

	boundKeys := make(map[string]string, len(cfg.VehicleAPIKeys))
	for k, vehicleID := range cfg.VehicleAPIKeys {
		if k != "" && vehicleID != "" {
			boundKeys[k] = vehicleID
		}
	}

	return &Authenticator{
		redis:      redis,
		ttl:        time.Duration(cfg.AuthCacheTTLSeconds) * time.Second,
		staticKeys: staticKeys,
		boundKeys:  boundKeys,
	}
}

// Resolve reports whether the key is valid and, for per-vehicle keys, the
// vehicle id the key is bound to. Fleet-wide keys resolve with an empty id.
func (a *Authenticator) Resolve(ctx context.Context, apiKey string) (string, bool) {
	// Level 0: fleet-wide static keys
	if a.staticKeys[apiKey] {
		return "", true
	}

	// Level 1: per-vehicle keys from config
	if vehicleID, ok := a.boundKeys[apiKey]; ok {
		return vehicleID, true
	}

	// Level 2: in-memory cache
	if raw, ok := a.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if time.Now().Before(entry.expiresAt) {
			return entry.vehicleID, true
		}
		a.localCache.Delete(apiKey)
	}

	// Level 3: Redis lookup
	vehicleID, err := a.redis.GetAPIKey(ctx, apiKey)
	if err != nil || vehicleID == "" {
		return "", false
	}

	a.localCache.Store(apiKey, cacheEntry{
		vehicleID: vehicleID,
		expiresAt: time.Now().Add(a.ttl),
	})

	return vehicleID, true
}
