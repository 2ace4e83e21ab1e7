package server

import (
	"context"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"netops/config"
)

// Pinger is satisfied by *pgxpool.Pool
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyState tracks initialization state for health checks. Redis and the
// database are optional: a component that is not configured never blocks
// readiness.
type ReadyState struct {
	config        *config.Config
	rdb           *redis.Client
	db            Pinger
	redisReady    atomic.Bool
	databaseReady atomic.Bool
}

// NewReadyState creates a new ReadyState instance. rdb and db may be nil.
func NewReadyState(cfg *config.Config, rdb *redis.Client, db Pinger) *ReadyState {
	return &ReadyState{
		config: cfg,
		rdb:    rdb,
		db:     db,
	}
}

// MarkRedisReady marks the Redis initialization as complete
func (r *ReadyState) MarkRedisReady() {
	r.redisReady.Store(true)
}

// MarkDatabaseReady marks migrations as applied
func (r *ReadyState) MarkDatabaseReady() {
	r.databaseReady.Store(true)
}

// IsRedisReady returns true if Redis initialization is complete
func (r *ReadyState) IsRedisReady() bool {
	return r.redisReady.Load()
}

// IsDatabaseReady returns true if migrations have been applied
func (r *ReadyState) IsDatabaseReady() bool {
	return r.databaseReady.Load()
}

// NetBoxConfigured reports whether the source of truth can be queried
func (r *ReadyState) NetBoxConfigured() bool {
	return r.config != nil && r.config.NetBoxURL != ""
}

// GetRedis returns the Redis client
func (r *ReadyState) GetRedis() *redis.Client {
	return r.rdb
}

// GetConfig returns the application configuration
func (r *ReadyState) GetConfig() *config.Config {
	return r.config
}

// Components reports each dependency's state. ready is false when any of
// them is not usable.
func (r *ReadyState) Components(ctx context.Context) (components map[string]bool, ready bool) {
	components = map[string]bool{
		"netbox":   r.NetBoxConfigured(),
		"redis":    true,
		"database": true,
	}
	if r.rdb != nil {
		components["redis"] = r.IsRedisReady() && r.rdb.Ping(ctx).Err() == nil
	}
	if r.db != nil {
		components["database"] = r.IsDatabaseReady() && r.db.Ping(ctx) == nil
	}

	ready = true
	for _, ok := range components {
		ready = ready && ok
	}
	return components, ready
}
