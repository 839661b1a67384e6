package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"sitter-points-backend/pkg/config"
	"sitter-points-backend/pkg/database"
	"sitter-points-backend/pkg/ledger"
	"sitter-points-backend/pkg/lifecycle"
	"sitter-points-backend/pkg/middleware"
	"sitter-points-backend/pkg/models"
	"sitter-points-backend/pkg/notify"
	"sitter-points-backend/pkg/posts"
	"sitter-points-backend/pkg/utils"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) utils.APIResponse {
	t.Helper()
	var resp utils.APIResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func asMember(r *http.Request, id string) *http.Request {
	return r.WithContext(middleware.WithMember(r.Context(), &models.Member{ID: id}))
}

type failingGranter struct{}

func (failingGranter) Credit(context.Context, string, int, ledger.Reason) (int, error) {
	return 0, errors.New("ledger offline")
}

func TestRegisterSurvivesFailedGrant(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	db := database.NewMemoryDatabase()
	h := NewAuthHandler(&config.Config{InitialPoints: 10}, db, failingGranter{}, utils.NewJWTService("s"), zap.New(core))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"email":"erin@example.com","password":"long enough"}`))
	rec := httptest.NewRecorder()
	h.Register(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("signup grant failed").Len())

	stored, err := db.GetMemberByEmail(context.Background(), "erin@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "long enough", stored.Password)
	assert.Equal(t, 0, stored.Points)
}

func TestRegisterWithoutGrant(t *testing.T) {
	db := database.NewMemoryDatabase()
	l := ledger.New(db, nil)
	h := NewAuthHandler(&config.Config{InitialPoints: 0}, db, l, utils.NewJWTService("s"), nil)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"f@example.com","password":"long enough"}`))
	rec := httptest.NewRecorder()
	h.Register(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	member, err := db.GetMemberByEmail(context.Background(), "f@example.com")
	require.NoError(t, err)
	history, err := l.History(context.Background(), member.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestLoginUnknownEmail(t *testing.T) {
	h := NewAuthHandler(&config.Config{}, database.NewMemoryDatabase(), nil, utils.NewJWTService("s"), nil)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"ghost@example.com","password":"x"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid email or password", decode(t, rec).Error.Message)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	jwt := utils.NewJWTService("s")
	access, _, err := jwt.GenerateAccessToken("m1", "m1@example.com")
	require.NoError(t, err)

	h := NewAuthHandler(&config.Config{}, database.NewMemoryDatabase(), nil, jwt, nil)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"refresh_token":"`+access+`"}`))
	rec := httptest.NewRecorder()
	h.RefreshToken(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type brokenDB struct{}

func (brokenDB) HealthCheck(context.Context) error { return errors.New("connection refused") }

type fixedCount int

func (c fixedCount) Count() int { return int(c) }

type okDB struct{}

func (okDB) HealthCheck(context.Context) error { return nil }

func TestHealthCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(okDB{}, fixedCount(3), nil).HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec).Data.(map[string]any)
	assert.Equal(t, "ok", data["status"])
	assert.EqualValues(t, 3, data["subscribers"])

	rec = httptest.NewRecorder()
	NewHealthHandler(brokenDB{}, nil, nil).HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "unavailable", resp.Data.(map[string]any)["database"])
}

type brokenPoints struct{}

func (brokenPoints) Balance(context.Context, string) (int, error) { return 0, errors.New("timeout") }

func (brokenPoints) History(context.Context, string) ([]models.PointTransaction, error) {
	return nil, nil
}

func TestPointsHandler(t *testing.T) {
	h := NewPointsHandler(brokenPoints{}, nil)

	rec := httptest.NewRecorder()
	h.Balance(rec, asMember(httptest.NewRequest(http.MethodGet, "/", nil), "m1"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "timeout")

	rec = httptest.NewRecorder()
	h.History(rec, asMember(httptest.NewRequest(http.MethodGet, "/", nil), "m1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec).Data)

	rec = httptest.NewRecorder()
	h.Balance(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMarkSeenRoutesID(t *testing.T) {
	db := database.NewMemoryDatabase()
	dispatcher := notify.NewDispatcher(db, nil, nil)
	n, err := dispatcher.Notify(context.Background(), "m1", "p1", "hello")
	require.NoError(t, err)

	h := NewNotificationsHandler(dispatcher, nil)
	router := chi.NewRouter()
	router.Post("/notifications/{id}/seen", func(w http.ResponseWriter, r *http.Request) {
		h.MarkSeen(w, asMember(r, "m1"))
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/notifications/"+n.ID+"/seen", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/notifications/unknown/seen", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	count, err := dispatcher.UnseenCount(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

// unreachablePosts finds an open post owned by m1 but cannot write it.
type unreachablePosts struct{}

func (unreachablePosts) Create(context.Context, models.Post) (*models.Post, error) {
	return nil, errors.New("connection reset by peer")
}

func (unreachablePosts) GetByID(_ context.Context, id string) (*models.Post, error) {
	return &models.Post{ID: id, PostedBy: "m1", Type: models.PostTypeOffer, Status: models.PostStatusOpen, HoursNeeded: 2}, nil
}

func (unreachablePosts) GuardedTransition(context.Context, string, posts.Guard, models.PostPatch) (*models.Post, error) {
	return nil, errors.New("connection reset by peer")
}

func TestTransitionLogsUnexpectedCause(t *testing.T) {
	db := database.NewMemoryDatabase()
	engine := lifecycle.New(ledger.New(db, nil), unreachablePosts{}, notify.NewDispatcher(db, nil, nil), nil)

	core, logs := observer.New(zapcore.DebugLevel)
	h := NewPostsHandler(engine, nil, zap.New(core))
	router := chi.NewRouter()
	router.Post("/posts/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		h.Cancel(w, asMember(r, "m1"))
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/posts/p1/cancel", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")

	entries := logs.FilterMessage("cancel post").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "connection reset by peer", fields["error"])
	assert.Equal(t, "p1", fields["post_id"])
	assert.Equal(t, "m1", fields["member_id"])
}

func TestDomainRejectionsAreNotLogged(t *testing.T) {
	db := database.NewMemoryDatabase()
	engine := lifecycle.New(ledger.New(db, nil), posts.NewStore(db), notify.NewDispatcher(db, nil, nil), nil)

	core, logs := observer.New(zapcore.DebugLevel)
	h := NewPostsHandler(engine, nil, zap.New(core))
	router := chi.NewRouter()
	router.Post("/posts/{id}/accept", func(w http.ResponseWriter, r *http.Request) {
		h.Accept(w, asMember(r, "m1"))
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/posts/missing/accept", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, logs.Len())
}

func TestFeedListsNewestFirst(t *testing.T) {
	ctx := context.Background()
	db := database.NewMemoryDatabase()
	store := posts.NewStore(db)
	for _, desc := range []string{"older", "newer"} {
		require.NoError(t, db.CreatePost(ctx, &models.Post{PostedBy: "m2", Type: models.PostTypeOffer, HoursNeeded: 1, Description: desc}))
	}
	h := NewPostsHandler(nil, store, nil)

	rec := httptest.NewRecorder()
	h.Feed(rec, asMember(httptest.NewRequest(http.MethodGet, "/posts", nil), "m1"))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []models.Post `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, "newer", body.Data[0].Description)
	assert.Equal(t, "older", body.Data[1].Description)
}
