package posts

import (
	"context"
	"errors"
	"fmt"

	"sitter-points-backend/pkg/database"
	"sitter-points-backend/pkg/models"
)

var (
	// ErrNotFound indicates the post does not exist.
	ErrNotFound = errors.New("post not found")
	// ErrPreconditionFailed indicates the post is not owned by the expected
	// member or is in a status the update forbids.
	ErrPreconditionFailed = errors.New("post precondition failed")
)

// Database is the subset of the persistence layer used for posts.
type Database interface {
	CreatePost(ctx context.Context, post *models.Post) error
	GetPost(ctx context.Context, id string) (*models.Post, error)
	ListPostsExcludingMember(ctx context.Context, memberID string) ([]models.Post, error)
	ListPostsByMember(ctx context.Context, memberID string) ([]models.Post, error)
	UpdatePost(ctx context.Context, id string, patch models.PostPatch, cond database.PostCondition) (*models.Post, error)
}

// Store adapts the database to post semantics.
type Store struct {
	db Database
}

// NewStore creates a Store over db.
func NewStore(db Database) *Store {
	return &Store{db: db}
}

// Create persists post at status open with no acceptor.
func (s *Store) Create(ctx context.Context, post models.Post) (*models.Post, error) {
	post.Status = models.PostStatusOpen
	post.AcceptedBy = ""
	if err := s.db.CreatePost(ctx, &post); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return &post, nil
}

// GetByID loads a post.
func (s *Store) GetByID(ctx context.Context, id string) (*models.Post, error) {
	post, err := s.db.GetPost(ctx, id)
	if err != nil {
		return nil, translate(err, id)
	}
	return post, nil
}

// ListForOthers is the discovery feed: every post not owned by memberID.
func (s *Store) ListForOthers(ctx context.Context, memberID string) ([]models.Post, error) {
	list, err := s.db.ListPostsExcludingMember(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("list posts for others: %w", err)
	}
	return list, nil
}

// ListOwnedBy returns memberID's posts, newest first.
func (s *Store) ListOwnedBy(ctx context.Context, memberID string) ([]models.Post, error) {
	list, err := s.db.ListPostsByMember(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("list owned posts: %w", err)
	}
	return list, nil
}

// UpdateFields applies patch unconditionally.
func (s *Store) UpdateFields(ctx context.Context, id string, patch models.PostPatch) (*models.Post, error) {
	post, err := s.db.UpdatePost(ctx, id, patch, database.PostCondition{})
	if err != nil {
		return nil, translate(err, id)
	}
	return post, nil
}

// ConditionalTransition applies patch only if the post is owned by
// expectedOwner (any owner when empty) and its status is not one of
// forbidden. The check is made by the store in the same atomic write.
func (s *Store) ConditionalTransition(ctx context.Context, id, expectedOwner string, forbidden []models.PostStatus, patch models.PostPatch) (*models.Post, error) {
	return s.GuardedTransition(ctx, id, Guard{Owner: expectedOwner, Forbidden: forbidden}, patch)
}

// Guard lists what must still hold for a guarded transition to apply.
// Zero fields are not checked.
type Guard struct {
	Owner       string
	Forbidden   []models.PostStatus
	Type        models.PostType
	HoursNeeded int
}

// GuardedTransition is ConditionalTransition that can also pin the type and
// hours observed by the caller, so a concurrent edit fails the write instead
// of invalidating points already moved for the old values.
func (s *Store) GuardedTransition(ctx context.Context, id string, guard Guard, patch models.PostPatch) (*models.Post, error) {
	cond := database.PostCondition{
		PostedBy:          guard.Owner,
		ForbiddenStatuses: guard.Forbidden,
		Type:              guard.Type,
		HoursNeeded:       guard.HoursNeeded,
	}
	post, err := s.db.UpdatePost(ctx, id, patch, cond)
	if err != nil {
		return nil, translate(err, id)
	}
	return post, nil
}

func translate(err error, id string) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return fmt.Errorf("post %s: %w", id, ErrNotFound)
	case errors.Is(err, database.ErrPreconditionFailed):
		return fmt.Errorf("post %s: %w", id, ErrPreconditionFailed)
	default:
		return fmt.Errorf("post %s: %w", id, err)
	}
}
