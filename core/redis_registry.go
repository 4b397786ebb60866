package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisRegistry provides a Redis-backed SourceRegistry. Manifests are
// persisted under <namespace>:sources:<id> so the set of known backends
// survives process restarts when several federator replicas share a
// deployment.
type RedisRegistry struct {
	client    *redis.Client
	namespace string
}

// NewRedisRegistry creates a new Redis registry client.
func NewRedisRegistry(redisURL string) (*RedisRegistry, error) {
	return NewRedisRegistryWithNamespace(redisURL, "federator")
}

// NewRedisRegistryWithNamespace creates a new Redis registry client with custom namespace.
func NewRedisRegistryWithNamespace(redisURL, namespace string) (*RedisRegistry, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisRegistry{
		client:    client,
		namespace: namespace,
	}, nil
}

func (r *RedisRegistry) key(id string) string {
	return fmt.Sprintf("%s:sources:%s", r.namespace, id)
}

func (r *RedisRegistry) indexKey() string {
	return fmt.Sprintf("%s:sources", r.namespace)
}

// Register inserts or replaces a manifest by id.
func (r *RedisRegistry) Register(ctx context.Context, manifest *Manifest) error {
	if manifest == nil || manifest.ID == "" {
		return NewFederationError("registry.Register", "registry", ErrInvalidConfiguration)
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := r.client.Set(ctx, r.key(manifest.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to register source: %w", err)
	}

	// Membership index keeps IDs() a single round trip
	if err := r.client.SAdd(ctx, r.indexKey(), manifest.ID).Err(); err != nil {
		return fmt.Errorf("failed to index source: %w", err)
	}

	return nil
}

// Get returns the manifest for id.
func (r *RedisRegistry) Get(ctx context.Context, id string) (*Manifest, bool) {
	data, err := r.client.Get(ctx, r.key(id)).Result()
	if err != nil {
		return nil, false
	}

	var manifest Manifest
	if err := json.Unmarshal([]byte(data), &manifest); err != nil {
		return nil, false
	}

	return &manifest, true
}

// IDs returns the registered source ids in sorted order.
func (r *RedisRegistry) IDs(ctx context.Context) []string {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil
	}
	sort.Strings(ids)
	return ids
}

// Close releases the Redis connection.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
