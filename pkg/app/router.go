package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sitter-points-backend/pkg/database"
	"sitter-points-backend/pkg/handlers"
	customMiddleware "sitter-points-backend/pkg/middleware"
	"sitter-points-backend/pkg/utils"
)

// NewRouter builds the chi router serving every endpoint under /api.
func NewRouter(a *App) *chi.Mux {
	router := chi.NewRouter()
	setupMiddleware(router, a)
	setupRoutes(router, a)
	return router
}

func setupMiddleware(router *chi.Mux, a *App) {
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	// Normalize before logging and routing.
	router.Use(customMiddleware.Normalize())
	router.Use(customMiddleware.RequestLogger(a.Log))
	router.Use(customMiddleware.Recovery(a.Config, a.Log))
	router.Use(customMiddleware.CORS(a.Config))

	if a.Config.IsDevelopment() {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

func setupRoutes(router *chi.Mux, a *App) {
	authHandler := handlers.NewAuthHandler(a.Config, a.DB, a.Ledger, a.JWT, a.Log)
	postsHandler := handlers.NewPostsHandler(a.Engine, a.Posts, a.Log)
	pointsHandler := handlers.NewPointsHandler(a.Ledger, a.Log)
	notificationsHandler := handlers.NewNotificationsHandler(a.Dispatcher, a.Log)
	healthHandler := handlers.NewHealthHandler(a.DB, a.Hub, a.Log)
	wsHandler := handlers.NewWebsocketHandler(a.Hub)

	router.Get("/", healthHandler.HealthCheck)

	if a.Config.IsDevelopment() {
		router.Get("/debug/db-pool", func(w http.ResponseWriter, r *http.Request) {
			utils.WriteSuccessResponse(w, database.GetConnectionStats())
		})
	}

	router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(customMiddleware.ContentTypeJSON)
			r.Use(customMiddleware.MaxBodySize(customMiddleware.DefaultMaxBodyBytes))
			r.Use(middleware.Timeout(25 * time.Second))

			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.RefreshToken)
		})

		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.Auth(a.JWT, a.Log))
			r.Use(customMiddleware.MemberTracker)

			// Long-lived; no timeout or compression.
			r.Get("/ws", wsHandler.ServeHTTP)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(25 * time.Second))
				r.Use(middleware.Compress(5))
				r.Use(customMiddleware.ContentTypeJSON)
				r.Use(customMiddleware.MaxBodySize(customMiddleware.DefaultMaxBodyBytes))

				r.Route("/posts", func(r chi.Router) {
					r.Get("/", postsHandler.Feed)
					r.Post("/", postsHandler.Create)
					r.Get("/mine", postsHandler.Mine)
					r.Get("/{id}", postsHandler.Get)
					r.Put("/{id}", postsHandler.Edit)
					r.Post("/{id}/accept", postsHandler.Accept)
					r.Post("/{id}/complete", postsHandler.Complete)
					r.Post("/{id}/cancel", postsHandler.Cancel)
				})

				r.Route("/points", func(r chi.Router) {
					r.Get("/", pointsHandler.Balance)
					r.Get("/history", pointsHandler.History)
				})

				r.Route("/notifications", func(r chi.Router) {
					r.Get("/", notificationsHandler.List)
					r.Get("/unseen-count", notificationsHandler.UnseenCount)
					r.Post("/seen", notificationsHandler.MarkAllSeen)
					r.Post("/{id}/seen", notificationsHandler.MarkSeen)
				})
			})
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFoundResponse(w, fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), "")
	})
}
