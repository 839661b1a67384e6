package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"

	"sitter-points-backend/pkg/config"
)

// CORS creates the CORS middleware from the configured origins. Origins may
// end in "*" to allow a prefix.
func CORS(cfg *config.Config) func(http.Handler) http.Handler {
	corsOptions := cors.Options{
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Requested-With",
		},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 || contains(origins, "*") {
		// Credentials cannot be combined with a wildcard origin.
		corsOptions.AllowedOrigins = []string{"*"}
		corsOptions.AllowCredentials = false
		return cors.Handler(corsOptions)
	}

	corsOptions.AllowOriginFunc = func(_ *http.Request, origin string) bool {
		return isOriginAllowed(origin, origins)
	}
	corsOptions.AllowCredentials = true
	return cors.Handler(corsOptions)
}

func isOriginAllowed(origin string, allowedOrigins []string) bool {
	if origin == "" {
		return false
	}
	if contains(allowedOrigins, origin) {
		return true
	}
	for _, allowed := range allowedOrigins {
		if strings.HasSuffix(allowed, "*") && strings.HasPrefix(origin, strings.TrimSuffix(allowed, "*")) {
			return true
		}
	}
	return false
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
