package database

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sitter-points-backend/pkg/models"
)

var (
	// ErrNotFound indicates the referenced record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrPreconditionFailed indicates a conditional update matched no row.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrInsufficientBalance indicates a points adjustment would go negative.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDuplicate indicates a uniqueness constraint was violated.
	ErrDuplicate = errors.New("duplicate record")
)

// PostCondition guards UpdatePost. The update applies only when the post is
// owned by PostedBy (if set), its status is not in ForbiddenStatuses, and
// its type and hours still match Type and HoursNeeded (if set).
type PostCondition struct {
	PostedBy          string
	ForbiddenStatuses []models.PostStatus
	Type              models.PostType
	HoursNeeded       int
}

// Allows reports whether post satisfies the condition.
func (c PostCondition) Allows(post *models.Post) bool {
	if c.PostedBy != "" && post.PostedBy != c.PostedBy {
		return false
	}
	if c.Type != "" && post.Type != c.Type {
		return false
	}
	if c.HoursNeeded != 0 && post.HoursNeeded != c.HoursNeeded {
		return false
	}
	for _, s := range c.ForbiddenStatuses {
		if post.Status == s {
			return false
		}
	}
	return true
}

// DatabaseInterface is the persistence boundary for members, points, posts
// and notifications.
type DatabaseInterface interface {
	// Members
	CreateMember(ctx context.Context, member *models.Member) error
	GetMemberByID(ctx context.Context, id string) (*models.Member, error)
	GetMemberByEmail(ctx context.Context, email string) (*models.Member, error)

	// Points. AdjustPoints applies entry.Delta atomically, rejecting a
	// would-be-negative result with ErrInsufficientBalance, and records the
	// entry; it fills entry.ID, entry.BalanceAfter and entry.CreatedAt.
	GetPoints(ctx context.Context, memberID string) (int, error)
	AdjustPoints(ctx context.Context, entry *models.PointTransaction) (int, error)
	ListPointTransactions(ctx context.Context, memberID string) ([]models.PointTransaction, error)

	// Posts. UpdatePost re-checks cond atomically with the write.
	CreatePost(ctx context.Context, post *models.Post) error
	GetPost(ctx context.Context, id string) (*models.Post, error)
	ListPostsExcludingMember(ctx context.Context, memberID string) ([]models.Post, error)
	ListPostsByMember(ctx context.Context, memberID string) ([]models.Post, error)
	UpdatePost(ctx context.Context, id string, patch models.PostPatch, cond PostCondition) (*models.Post, error)

	// Notifications
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID string) ([]models.Notification, error)
	MarkNotificationSeen(ctx context.Context, userID, id string) error
	MarkAllNotificationsSeen(ctx context.Context, userID string) (int, error)
	CountUnseenNotifications(ctx context.Context, userID string) (int, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// DatabaseConfig selects and configures a store implementation.
type DatabaseConfig struct {
	PostgresDSN string
	Production  bool
	Debug       bool
}

// NewDatabase opens Postgres when a DSN is configured and falls back to the
// in-memory store outside production.
func NewDatabase(ctx context.Context, config DatabaseConfig, log *zap.Logger) (DatabaseInterface, error) {
	if config.PostgresDSN != "" {
		log.Info("using PostgreSQL database")
		return NewPostgresDatabase(ctx, config.PostgresDSN, log)
	}

	if config.Production {
		return nil, fmt.Errorf("no database configured: set POSTGRES_DSN")
	}

	log.Warn("POSTGRES_DSN not set, using in-memory database")
	return NewMemoryDatabase(), nil
}
