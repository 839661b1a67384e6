package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"sitter-points-backend/pkg/models"
	"sitter-points-backend/pkg/utils"
)

// ContextKey keys request-scoped values set by this package.
type ContextKey string

const (
	MemberContextKey ContextKey = "member"
)

// ErrNotAuthenticated is returned by RequireMember without a member.
var ErrNotAuthenticated = errors.New("member not authenticated")

// Auth authenticates the request with an access token and stores the
// member in the context. Browsers cannot set headers on websocket upgrades,
// so GET requests may pass the token as the "token" query parameter.
func Auth(jwtService *utils.JWTService, log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := tokenFromRequest(r)
			if !ok {
				utils.WriteUnauthorizedResponse(w, "Missing or malformed authorization")
				return
			}

			claims, err := jwtService.ValidateAccessToken(tokenString)
			if err != nil {
				log.Debug("token rejected", zap.String("path", r.URL.Path), zap.Error(err))
				utils.WriteUnauthorizedResponse(w, "Invalid or expired token")
				return
			}

			member := &models.Member{ID: claims.MemberID, Email: claims.Email}
			ctx := context.WithValue(r.Context(), MemberContextKey, member)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tokenFromRequest(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header || strings.TrimSpace(token) == "" {
			return "", false
		}
		return strings.TrimSpace(token), true
	}
	if r.Method == http.MethodGet {
		if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
			return token, true
		}
	}
	return "", false
}

// WithMember returns ctx carrying member, as Auth does.
func WithMember(ctx context.Context, member *models.Member) context.Context {
	return context.WithValue(ctx, MemberContextKey, member)
}

// GetMemberFromContext returns the authenticated member, if any.
func GetMemberFromContext(ctx context.Context) (*models.Member, bool) {
	member, ok := ctx.Value(MemberContextKey).(*models.Member)
	return member, ok && member != nil
}

// RequireMember returns the authenticated member or ErrNotAuthenticated.
func RequireMember(ctx context.Context) (*models.Member, error) {
	member, ok := GetMemberFromContext(ctx)
	if !ok {
		return nil, ErrNotAuthenticated
	}
	return member, nil
}
