package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"sitter-points-backend/pkg/config"
	"sitter-points-backend/pkg/models"
	"sitter-points-backend/pkg/utils"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp utils.APIResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func TestAuthAcceptsBearerAndQueryTokens(t *testing.T) {
	svc := utils.NewJWTService("secret")
	token, _, err := svc.GenerateAccessToken("m1", "m1@example.com")
	require.NoError(t, err)

	var seen *models.Member
	h := Auth(svc, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		member, err := RequireMember(r.Context())
		require.NoError(t, err)
		seen = member
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/points", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "m1", seen.ID)
	assert.Equal(t, "m1@example.com", seen.Email)

	seen = nil
	req = httptest.NewRequest(http.MethodGet, "/api/ws?token="+token, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
}

func TestAuthRejections(t *testing.T) {
	svc := utils.NewJWTService("secret")
	access, refresh, _, err := svc.GenerateTokenPair("m1", "m1@example.com")
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		target string
		header string
	}{
		{"missing", http.MethodGet, "/api/points", ""},
		{"not bearer", http.MethodGet, "/api/points", "Basic abc"},
		{"empty bearer", http.MethodGet, "/api/points", "Bearer "},
		{"refresh token", http.MethodGet, "/api/points", "Bearer " + refresh},
		{"garbage", http.MethodGet, "/api/points", "Bearer nope"},
		{"query token on post", http.MethodPost, "/api/posts?token=" + access, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := Auth(svc, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.False(t, called)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
		})
	}
}

func TestRequireMemberWithoutAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := RequireMember(req.Context())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	ctx := WithMember(req.Context(), &models.Member{ID: "m2"})
	member, err := RequireMember(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m2", member.ID)
}

func TestCORS(t *testing.T) {
	cfg := &config.Config{AllowedOrigins: []string{"https://app.example.com", "https://preview-*"}}
	h := CORS(cfg)(http.HandlerFunc(okHandler))

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/posts", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := preflight("https://app.example.com")
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = preflight("https://preview-42.example.dev")
	assert.Equal(t, "https://preview-42.example.dev", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = preflight("https://evil.example.com")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcard(t *testing.T) {
	h := CORS(&config.Config{AllowedOrigins: []string{"*"}})(http.HandlerFunc(okHandler))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRequestLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFoundResponse(w, "Post not found")
	})
	h = MemberTracker(h)
	h = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithMember(r.Context(), &models.Member{ID: "m9"})))
		})
	}(h)
	h = RequestLogger(log)(h)
	h = chimw.RequestID(h)

	req := httptest.NewRequest(http.MethodGet, "/api/posts/p1", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, "request", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, "/api/posts/p1", fields["path"])
	assert.EqualValues(t, http.StatusNotFound, fields["status"])
	assert.Equal(t, "203.0.113.7", fields["ip"])
	assert.Equal(t, "m9", fields["member_id"])
	assert.NotEmpty(t, fields["request_id"])
}

func TestRequestLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	for _, status := range []int{http.StatusOK, http.StatusInternalServerError} {
		status := status
		h := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.InfoLevel, logs.All()[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[1].Level)
	_, hasMember := logs.All()[0].ContextMap()["member_id"]
	assert.False(t, hasMember)
}

func TestRecovery(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("ledger exploded")
	})

	core, logs := observer.New(zapcore.ErrorLevel)
	prod := Recovery(&config.Config{Environment: "production"}, zap.New(core))(panicking)
	rec := httptest.NewRecorder()
	prod.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp utils.APIResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotContains(t, resp.Error.Message, "ledger exploded")
	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())

	dev := Recovery(&config.Config{Environment: "development"}, nil)(panicking)
	rec = httptest.NewRecorder()
	dev.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), "ledger exploded")
}

func TestNormalize(t *testing.T) {
	var gotPath, gotHost, gotScheme string
	h := Normalize()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotHost, gotScheme = r.URL.Path, r.Host, r.URL.Scheme
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/posts/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "points.example.com")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "/api/posts", gotPath)
	assert.Equal(t, "points.example.com", gotHost)
	assert.Equal(t, "https", gotScheme)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "/", gotPath)
}

func TestContentTypeJSON(t *testing.T) {
	h := ContentTypeJSON(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodPost, "/api/posts", strings.NewReader("type=offer"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/posts", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/posts/p1/accept", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMaxBodySize(t *testing.T) {
	var readErr error
	h := MaxBodySize(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64))))
	assert.Error(t, readErr)
}
