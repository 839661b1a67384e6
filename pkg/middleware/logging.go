package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestLogger logs one structured line per request. Server errors log at
// error, client errors at warn, everything else at info.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			// Auth runs further down the chain and stores the member on its own
			// request copy, so the holder is filled in by MemberTracker.
			holder := &memberHolder{}
			next.ServeHTTP(ww, r.WithContext(withMemberHolder(r.Context(), holder)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("ip", getClientIP(r)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if holder.memberID != "" {
				fields = append(fields, zap.String("member_id", holder.memberID))
			}

			level := zapcore.InfoLevel
			switch {
			case status >= 500:
				level = zapcore.ErrorLevel
			case status >= 400:
				level = zapcore.WarnLevel
			}
			if ce := log.Check(level, "request"); ce != nil {
				ce.Write(fields...)
			}
		})
	}
}

// MemberTracker reports the authenticated member to RequestLogger. Mount it
// after Auth.
func MemberTracker(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if holder, ok := r.Context().Value(memberHolderKey).(*memberHolder); ok {
			if member, ok := GetMemberFromContext(r.Context()); ok {
				holder.memberID = member.ID
			}
		}
		next.ServeHTTP(w, r)
	})
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-IP.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
