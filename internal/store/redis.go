package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ghostbus/internal/config"
	"ghostbus/internal/domain"
)

// Mirror TTLs. Redis is an eventually-consistent mirror of the in-memory
// state store, never the source of truth for classification.
const (
	positionTTL  = 300 * time.Second
	historyTTL   = 3600 * time.Second
	referenceTTL = 86400 * time.Second
	dedupTTL     = 5 * time.Minute

	historyLength = 60

	updatesChannel = "bus_updates"
	alertsChannel  = "ghost_alerts"
)

// RedisStore mirrors live vehicle state into Redis and carries cross-process
// pub/sub. A nil *RedisStore is valid: every method degrades to a no-op so
// the live path keeps working when Redis is absent.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	if r == nil {
		return nil
	}
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("redis not configured")
	}
	return r.client.Ping(ctx).Err()
}

// MirrorStatus writes one enriched status: latest-position hash, bounded
// history list, and a publish for cross-process observers, all in a single
// pipeline round trip.
func (r *RedisStore) MirrorStatus(ctx context.Context, s *domain.VehicleStatus) error {
	if r == nil {
		return nil
	}

	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	stateData := map[string]interface{}{
		"id":          s.ID,
		"lat":         s.Latitude,
		"lon":         s.Longitude,
		"route_id":    s.RouteID,
		"timestamp":   s.Timestamp,
		"is_ghost":    s.IsGhost,
		"severity":    string(s.Severity),
		"status":      string(s.Status),
		"received_at": s.ReceivedAt,
	}
	if s.Speed != nil {
		stateData["speed"] = *s.Speed
	}
	if s.Bearing != nil {
		stateData["bearing"] = *s.Bearing
	}

	historyEntry, err := json.Marshal(map[string]interface{}{
		"lat":       s.Latitude,
		"lon":       s.Longitude,
		"timestamp": s.Timestamp,
		"speed":     s.Speed,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	stateKey := fmt.Sprintf("bus:%s", s.ID)
	historyKey := fmt.Sprintf("bus:%s:history", s.ID)

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, stateKey, stateData)
	pipe.Expire(ctx, stateKey, positionTTL)
	pipe.LPush(ctx, historyKey, historyEntry)
	pipe.LTrim(ctx, historyKey, 0, historyLength-1)
	pipe.Expire(ctx, historyKey, historyTTL)
	pipe.Publish(ctx, updatesChannel, payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// CacheRoute stores one reference route row under the long reference TTL.
func (r *RedisStore) CacheRoute(ctx context.Context, routeID string, route map[string]interface{}) error {
	if r == nil {
		return nil
	}
	key := fmt.Sprintf("route:%s", routeID)
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, route)
	pipe.Expire(ctx, key, referenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("route cache failed: %w", err)
	}
	return nil
}

// CheckAnomalyDedup reports whether this vehicle/tag pair alerted recently.
func (r *RedisStore) CheckAnomalyDedup(ctx context.Context, vehicleID string, tag domain.AnomalyType) (bool, error) {
	if r == nil {
		return false, nil
	}
	key := fmt.Sprintf("anomaly:%s:%s", vehicleID, string(tag))
	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return count > 0, nil
}

func (r *RedisStore) SetAnomalyDedup(ctx context.Context, vehicleID string, tag domain.AnomalyType) error {
	if r == nil {
		return nil
	}
	key := fmt.Sprintf("anomaly:%s:%s", vehicleID, string(tag))
	return r.client.Set(ctx, key, "1", dedupTTL).Err()
}

// PublishAlert pushes a ghost alert for cross-process subscribers.
func (r *RedisStore) PublishAlert(ctx context.Context, payload []byte) error {
	if r == nil {
		return nil
	}
	return r.client.Publish(ctx, alertsChannel, payload).Err()
}

// GetAPIKey resolves an API key to its vehicle id, empty when unknown.
func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	if r == nil {
		return "", nil
	}
	key := fmt.Sprintf("vehicle:auth:%s", apiKey)
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}
