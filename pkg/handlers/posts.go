package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sitter-points-backend/pkg/lifecycle"
	"sitter-points-backend/pkg/middleware"
	"sitter-points-backend/pkg/models"
	"sitter-points-backend/pkg/posts"
	"sitter-points-backend/pkg/utils"
)

// PostReader serves the read-only post queries.
type PostReader interface {
	GetByID(ctx context.Context, id string) (*models.Post, error)
	ListForOthers(ctx context.Context, memberID string) ([]models.Post, error)
	ListOwnedBy(ctx context.Context, memberID string) ([]models.Post, error)
}

// PostsHandler serves the post feed and every post transition.
type PostsHandler struct {
	engine *lifecycle.Engine
	posts  PostReader
	log    *zap.Logger
}

// NewPostsHandler creates a PostsHandler.
func NewPostsHandler(engine *lifecycle.Engine, reader PostReader, log *zap.Logger) *PostsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PostsHandler{engine: engine, posts: reader, log: log.Named("posts")}
}

// Feed lists every post not owned by the caller, newest first.
func (h *PostsHandler) Feed(w http.ResponseWriter, r *http.Request) {
	member, ok := requireMember(w, r)
	if !ok {
		return
	}
	list, err := h.posts.ListForOthers(r.Context(), member.ID)
	if err != nil {
		h.readFailed(w, "list feed", err)
		return
	}
	utils.WriteSuccessResponse(w, nonNil(list))
}

// Mine lists the caller's own posts.
func (h *PostsHandler) Mine(w http.ResponseWriter, r *http.Request) {
	member, ok := requireMember(w, r)
	if !ok {
		return
	}
	list, err := h.posts.ListOwnedBy(r.Context(), member.ID)
	if err != nil {
		h.readFailed(w, "list own posts", err)
		return
	}
	utils.WriteSuccessResponse(w, nonNil(list))
}

// Get returns one post.
func (h *PostsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireMember(w, r); !ok {
		return
	}
	post, err := h.posts.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.readFailed(w, "get post", err)
		return
	}
	utils.WriteSuccessResponse(w, post)
}

// Create publishes a post for the caller.
func (h *PostsHandler) Create(w http.ResponseWriter, r *http.Request) {
	member, ok := requireMember(w, r)
	if !ok {
		return
	}
	var req models.PostRequest
	if err := utils.ParseAndValidate(r, &req); err != nil {
		utils.WriteRequestError(w, err)
		return
	}

	post, err := h.engine.Create(r.Context(), member.ID, postInput(req))
	if err != nil {
		h.writeError(w, "create post", member.ID, err)
		return
	}
	utils.WriteCreatedResponse(w, post)
}

// Edit replaces the editable fields of the caller's open post.
func (h *PostsHandler) Edit(w http.ResponseWriter, r *http.Request) {
	member, ok := requireMember(w, r)
	if !ok {
		return
	}
	var req models.PostRequest
	if err := utils.ParseAndValidate(r, &req); err != nil {
		utils.WriteRequestError(w, err)
		return
	}

	post, err := h.engine.Edit(r.Context(), member.ID, chi.URLParam(r, "id"), postInput(req))
	if err != nil {
		h.writeError(w, "edit post", member.ID, err)
		return
	}
	utils.WriteSuccessResponse(w, post)
}

// Accept takes on another member's open post.
func (h *PostsHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "accept post", h.engine.Accept)
}

// Complete marks the caller's accepted post as done.
func (h *PostsHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "complete post", h.engine.Complete)
}

// Cancel withdraws the caller's post.
func (h *PostsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel post", h.engine.Cancel)
}

type transitionFunc func(ctx context.Context, callerID, postID string) (*models.Post, error)

func (h *PostsHandler) transition(w http.ResponseWriter, r *http.Request, op string, run transitionFunc) {
	member, ok := requireMember(w, r)
	if !ok {
		return
	}
	postID := chi.URLParam(r, "id")
	post, err := run(r.Context(), member.ID, postID)
	if err != nil {
		h.writeError(w, op, member.ID, err, zap.String("post_id", postID))
		return
	}
	utils.WriteSuccessResponse(w, post)
}

// writeError answers with the mapped domain error. Unexpected failures hide
// their cause from the caller, so it is logged here.
func (h *PostsHandler) writeError(w http.ResponseWriter, op, memberID string, err error, fields ...zap.Field) {
	if lifecycle.KindOf(err) == lifecycle.KindUnexpected {
		cause := errors.Unwrap(err)
		if cause == nil {
			cause = err
		}
		fields = append(fields, zap.String("member_id", memberID), zap.Error(cause))
		h.log.Error(op, fields...)
	}
	utils.WriteDomainError(w, err)
}

func (h *PostsHandler) readFailed(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, posts.ErrNotFound) {
		utils.WriteNotFoundResponse(w, "Post not found")
		return
	}
	h.log.Error(op, zap.Error(err))
	utils.WriteInternalServerErrorResponse(w, "Something went wrong, please try again")
}

func postInput(req models.PostRequest) lifecycle.PostInput {
	return lifecycle.PostInput{
		Type:        req.Type,
		HoursNeeded: req.HoursNeeded,
		Description: req.Description,
		DateTime:    req.DateTime,
	}
}

// requireMember writes 401 when the request carries no member.
func requireMember(w http.ResponseWriter, r *http.Request) (*models.Member, bool) {
	member, err := middleware.RequireMember(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return nil, false
	}
	return member, true
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
