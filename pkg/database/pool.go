package database

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DatabasePool caches one store per process so warm invocations reuse it.
type DatabasePool struct {
	instance DatabaseInterface
	config   DatabaseConfig
	mu       sync.RWMutex
	lastUsed time.Time
}

var (
	globalPool *DatabasePool
	poolMutex  sync.Mutex
)

// GetDatabase returns the cached store, recreating it when the config
// changed, it sat idle too long, or it fails its health check.
func GetDatabase(ctx context.Context, config DatabaseConfig, log *zap.Logger) (DatabaseInterface, error) {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool != nil && !shouldRecreateConnection(ctx, globalPool, config, log) {
		globalPool.mu.Lock()
		globalPool.lastUsed = time.Now()
		globalPool.mu.Unlock()
		return globalPool.instance, nil
	}

	log.Info("creating database connection")
	if globalPool != nil && globalPool.instance != nil {
		globalPool.instance.Close()
	}

	instance, err := NewDatabase(ctx, config, log)
	if err != nil {
		globalPool = nil
		return nil, err
	}
	globalPool = &DatabasePool{
		instance: instance,
		config:   config,
		lastUsed: time.Now(),
	}
	return instance, nil
}

// shouldRecreateConnection decides whether the cached store is stale.
func shouldRecreateConnection(ctx context.Context, pool *DatabasePool, newConfig DatabaseConfig, log *zap.Logger) bool {
	if pool == nil || pool.instance == nil {
		return true
	}

	if pool.config != newConfig {
		log.Info("database configuration changed, recreating connection")
		return true
	}

	// An in-memory store holds all data; recreating it would lose everything.
	if _, ok := pool.instance.(*MemoryDatabase); ok {
		return false
	}

	pool.mu.RLock()
	expired := time.Since(pool.lastUsed) > idleTimeout()
	pool.mu.RUnlock()
	if expired {
		log.Info("database connection expired, recreating")
		return true
	}

	if err := pool.instance.HealthCheck(ctx); err != nil {
		log.Warn("database health check failed, recreating", zap.Error(err))
		return true
	}

	return false
}

// IsServerless reports whether the process runs as a serverless function,
// where frozen instances hold connections the database may already have
// dropped.
func IsServerless() bool {
	return os.Getenv("VERCEL") != "" || os.Getenv("VERCEL_ENV") != "" || os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

func idleTimeout() time.Duration {
	if IsServerless() {
		return 10 * time.Minute
	}
	return 30 * time.Minute
}

// GetConnectionStats reports the cached store's state for the debug endpoint.
func GetConnectionStats() map[string]interface{} {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool == nil {
		return map[string]interface{}{
			"status":    "no_connection",
			"last_used": nil,
		}
	}

	globalPool.mu.RLock()
	lastUsed := globalPool.lastUsed
	globalPool.mu.RUnlock()

	kind := "postgres"
	if _, ok := globalPool.instance.(*MemoryDatabase); ok {
		kind = "memory"
	}

	return map[string]interface{}{
		"status":     "connected",
		"kind":       kind,
		"serverless": IsServerless(),
		"last_used":  lastUsed.Format(time.RFC3339),
		"age":        time.Since(lastUsed).String(),
	}
}

// resetPool drops the cached store.
func resetPool() {
	poolMutex.Lock()
	defer poolMutex.Unlock()
	if globalPool != nil && globalPool.instance != nil {
		globalPool.instance.Close()
	}
	globalPool = nil
}
