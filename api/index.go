package handler

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"sitter-points-backend/pkg/app"
	"sitter-points-backend/pkg/config"
	"sitter-points-backend/pkg/database"
	"sitter-points-backend/pkg/logger"
	"sitter-points-backend/pkg/utils"
)

// Handler is the serverless entry point. Redis relay and websocket pushes
// need a long-running process; see cmd/server.
func Handler(w http.ResponseWriter, r *http.Request) {
	defaultCache.ServeHTTP(w, r)
}

var defaultCache = &appCache{open: openPooled, assemble: app.Assemble}

// appCache keeps the last successfully built app. Every request resolves
// the pooled database first; when the pool hands back a new connection the
// app is rebuilt around it, and a failed build is retried on the next
// request.
type appCache struct {
	mu       sync.Mutex
	open     func(ctx context.Context) (*config.Config, database.DatabaseInterface, *zap.Logger, error)
	assemble func(ctx context.Context, cfg *config.Config, db database.DatabaseInterface, log *zap.Logger) (*app.App, error)

	app     *app.App
	handler http.Handler
}

func (c *appCache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h, err := c.get(r.Context())
	if err != nil {
		utils.WriteErrorResponseWithCode(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE",
			"Service temporarily unavailable, please try again", "")
		return
	}
	h.ServeHTTP(w, r)
}

func (c *appCache) get(ctx context.Context) (http.Handler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, db, log, err := c.open(ctx)
	if err != nil {
		if log != nil {
			log.Error("app unavailable", zap.Error(err))
		}
		return nil, err
	}
	if c.app != nil && c.app.DB == db {
		return c.handler, nil
	}

	a, err := c.assemble(ctx, cfg, db, log)
	if err != nil {
		log.Error("app build failed", zap.Error(err))
		return nil, err
	}
	if c.app != nil {
		log.Info("database connection replaced, app rebuilt")
		if err := c.app.Close(); err != nil {
			log.Warn("close previous app", zap.Error(err))
		}
	}
	c.app, c.handler = a, a.Handler()
	return c.handler, nil
}

// procLog is built once from the first valid config; guarded by appCache.mu.
var procLog *zap.Logger

func openPooled(ctx context.Context) (*config.Config, database.DatabaseInterface, *zap.Logger, error) {
	cfg, err := config.GetCached()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}
	if procLog == nil {
		if procLog, err = logger.New(cfg); err != nil {
			procLog = zap.NewNop()
		}
	}

	db, err := database.GetDatabase(ctx, app.DatabaseConfig(cfg), procLog)
	if err != nil {
		return nil, nil, procLog, err
	}
	return cfg, db, procLog, nil
}
