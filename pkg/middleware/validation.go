package middleware

import (
	"net/http"
	"strings"

	"sitter-points-backend/pkg/utils"
)

// DefaultMaxBodyBytes bounds JSON request bodies.
const DefaultMaxBodyBytes int64 = 1 << 20

// ContentTypeJSON rejects write requests with a body that is not JSON.
// Bodiless transitions such as POST /posts/{id}/accept pass through.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			if r.ContentLength != 0 {
				contentType := r.Header.Get("Content-Type")
				if contentType == "" {
					utils.WriteBadRequestResponse(w, "Content-Type header is required")
					return
				}
				if !strings.HasPrefix(strings.ToLower(contentType), "application/json") {
					utils.WriteBadRequestResponse(w, "Content-Type must be application/json")
					return
				}
			}
		}

		next.ServeHTTP(w, r)
	})
}

// MaxBodySize limits the request body to maxBytes.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
