package middleware

import (
	"net/http"
	"strings"
)

// Normalize cleans up request fields rewritten by proxies in front of the
// API. Whitespace around the path and a trailing slash are dropped, and
// scheme and host are restored from the forwarding headers.
func Normalize() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := strings.TrimSpace(r.URL.Path)
			if len(path) > 1 {
				path = strings.TrimRight(path, "/")
				if path == "" {
					path = "/"
				}
			}
			if path != r.URL.Path {
				r.URL.Path = path
				r.URL.RawPath = ""
			}

			if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
				r.URL.Scheme = proto
			}
			if host := r.Header.Get("X-Forwarded-Host"); host != "" {
				r.Host = host
			}
			next.ServeHTTP(w, r)
		})
	}
}
