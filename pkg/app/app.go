// Package app wires the stores, the points ledger, the lifecycle engine and
// the broadcast channel into one HTTP service.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sitter-points-backend/pkg/broadcast"
	"sitter-points-backend/pkg/config"
	"sitter-points-backend/pkg/database"
	"sitter-points-backend/pkg/ledger"
	"sitter-points-backend/pkg/lifecycle"
	"sitter-points-backend/pkg/notify"
	"sitter-points-backend/pkg/posts"
	"sitter-points-backend/pkg/utils"
)

// App holds the wired service.
type App struct {
	Config     *config.Config
	DB         database.DatabaseInterface
	Ledger     *ledger.Ledger
	Posts      *posts.Store
	Hub        *broadcast.Hub
	Channel    broadcast.Channel
	Dispatcher *notify.Dispatcher
	Engine     *lifecycle.Engine
	JWT        *utils.JWTService
	Log        *zap.Logger

	relay *broadcast.RedisChannel
	redis redis.UniversalClient
}

// Option configures New.
type Option func(*options)

type options struct {
	redis     redis.UniversalClient
	lifecycle []lifecycle.Option
	notify    []notify.Option
}

// WithRedis fans broadcasts out through client instead of the local hub.
func WithRedis(client redis.UniversalClient) Option {
	return func(o *options) { o.redis = client }
}

// WithLifecycleOptions passes options through to the engine.
func WithLifecycleOptions(opts ...lifecycle.Option) Option {
	return func(o *options) { o.lifecycle = append(o.lifecycle, opts...) }
}

// WithNotifyOptions passes options through to the dispatcher.
func WithNotifyOptions(opts ...notify.Option) Option {
	return func(o *options) { o.notify = append(o.notify, opts...) }
}

// New wires an App over db.
func New(cfg *config.Config, db database.DatabaseInterface, log *zap.Logger, opts ...Option) *App {
	if log == nil {
		log = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Config: cfg,
		DB:     db,
		Log:    log,
		JWT:    utils.NewJWTService(cfg.JWTSecret),
		Hub:    broadcast.NewHub(broadcast.DefaultBuffer, log),
		redis:  o.redis,
	}
	a.Channel = a.Hub
	if o.redis != nil {
		a.relay = broadcast.NewRedisChannel(o.redis, a.Hub, log)
		a.Channel = a.relay
	}

	a.Ledger = ledger.New(db, log)
	a.Posts = posts.NewStore(db)
	a.Dispatcher = notify.NewDispatcher(db, a.Channel, log, o.notify...)
	a.Engine = lifecycle.New(a.Ledger, a.Posts, a.Dispatcher, log, o.lifecycle...)
	return a
}

// DatabaseConfig selects the store described by cfg.
func DatabaseConfig(cfg *config.Config) database.DatabaseConfig {
	return database.DatabaseConfig{
		PostgresDSN: cfg.PostgresDSN,
		Production:  cfg.IsProduction(),
		Debug:       cfg.Debug,
	}
}

// Build opens the pooled database and wires an App over it.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	db, err := database.GetDatabase(ctx, DatabaseConfig(cfg), log)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return Assemble(ctx, cfg, db, log)
}

// Assemble connects Redis when configured and wires an App over db.
func Assemble(ctx context.Context, cfg *config.Config, db database.DatabaseInterface, log *zap.Logger) (*App, error) {
	var opts []Option
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		opts = append(opts, WithRedis(client))
	}

	return New(cfg, db, log, opts...), nil
}

// RunRelay relays Redis broadcasts into the local hub until ctx is done. It
// returns immediately when Redis is not configured.
func (a *App) RunRelay(ctx context.Context) error {
	if a.relay == nil {
		return nil
	}
	return a.relay.Run(ctx)
}

// RelayReady is closed once the Redis relay is subscribed. It is nil
// without Redis.
func (a *App) RelayReady() <-chan struct{} {
	if a.relay == nil {
		return nil
	}
	return a.relay.Ready()
}

// Handler returns the HTTP router.
func (a *App) Handler() http.Handler {
	return NewRouter(a)
}

// Close waits for pending broadcasts and releases the Redis client. The
// database is owned by the pool and stays open.
func (a *App) Close() error {
	a.Dispatcher.Wait()
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}
