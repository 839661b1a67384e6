package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sitter-points-backend/pkg/models"
)

// MemoryDatabase keeps everything in process memory. Every operation runs
// under one lock, so conditional updates and balance checks are atomic.
type MemoryDatabase struct {
	mu            sync.RWMutex
	members       map[string]*models.Member
	emails        map[string]string
	posts         map[string]*models.Post
	notifications map[string]*models.Notification
	transactions  []models.PointTransaction
	order         map[string]int64 // insertion sequence, breaks CreatedAt ties
	seq           int64
	now           func() time.Time
}

// NewMemoryDatabase creates an empty in-memory store.
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		members:       make(map[string]*models.Member),
		emails:        make(map[string]string),
		posts:         make(map[string]*models.Post),
		notifications: make(map[string]*models.Notification),
		order:         make(map[string]int64),
		now:           time.Now,
	}
}

// CreateMember stores member, assigning an ID when none is set.
func (db *MemoryDatabase) CreateMember(_ context.Context, member *models.Member) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(member.Email))
	if _, exists := db.emails[email]; exists {
		return fmt.Errorf("member %s: %w", email, ErrDuplicate)
	}
	if member.ID == "" {
		member.ID = uuid.New().String()
	}
	if _, exists := db.members[member.ID]; exists {
		return fmt.Errorf("member %s: %w", member.ID, ErrDuplicate)
	}
	if member.Points < 0 {
		return fmt.Errorf("member %s: %w", member.ID, ErrInsufficientBalance)
	}

	now := db.now()
	member.Email = email
	member.CreatedAt = now
	member.UpdatedAt = now

	stored := *member
	db.members[member.ID] = &stored
	db.emails[email] = member.ID
	return nil
}

// GetMemberByID returns a copy of the member.
func (db *MemoryDatabase) GetMemberByID(_ context.Context, id string) (*models.Member, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	m, ok := db.members[id]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", id, ErrNotFound)
	}
	out := *m
	return &out, nil
}

// GetMemberByEmail returns a copy of the member registered with email.
func (db *MemoryDatabase) GetMemberByEmail(ctx context.Context, email string) (*models.Member, error) {
	db.mu.RLock()
	id, ok := db.emails[strings.ToLower(strings.TrimSpace(email))]
	db.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("member %s: %w", email, ErrNotFound)
	}
	return db.GetMemberByID(ctx, id)
}

// GetPoints returns the member's balance.
func (db *MemoryDatabase) GetPoints(_ context.Context, memberID string) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	m, ok := db.members[memberID]
	if !ok {
		return 0, fmt.Errorf("member %s: %w", memberID, ErrNotFound)
	}
	return m.Points, nil
}

// AdjustPoints applies entry.Delta and records the entry.
func (db *MemoryDatabase) AdjustPoints(_ context.Context, entry *models.PointTransaction) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	m, ok := db.members[entry.MemberID]
	if !ok {
		return 0, fmt.Errorf("member %s: %w", entry.MemberID, ErrNotFound)
	}
	next := m.Points + entry.Delta
	if next < 0 {
		return m.Points, fmt.Errorf("member %s balance %d, delta %d: %w", m.ID, m.Points, entry.Delta, ErrInsufficientBalance)
	}

	now := db.now()
	m.Points = next
	m.UpdatedAt = now

	entry.ID = uuid.New().String()
	entry.BalanceAfter = next
	entry.CreatedAt = now
	db.transactions = append(db.transactions, *entry)

	return next, nil
}

// ListPointTransactions returns the member's ledger entries, newest first.
func (db *MemoryDatabase) ListPointTransactions(_ context.Context, memberID string) ([]models.PointTransaction, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make([]models.PointTransaction, 0)
	for i := len(db.transactions) - 1; i >= 0; i-- {
		if db.transactions[i].MemberID == memberID {
			out = append(out, db.transactions[i])
		}
	}
	return out, nil
}

// CreatePost stores post at status open with no acceptor.
func (db *MemoryDatabase) CreatePost(_ context.Context, post *models.Post) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.members[post.PostedBy]; !ok {
		return fmt.Errorf("poster %s: %w", post.PostedBy, ErrNotFound)
	}
	if post.ID == "" {
		post.ID = uuid.New().String()
	}
	now := db.now()
	post.Status = models.PostStatusOpen
	post.AcceptedBy = ""
	post.CreatedAt = now
	post.UpdatedAt = now

	stored := *post
	db.posts[post.ID] = &stored
	db.seq++
	db.order[post.ID] = db.seq
	return nil
}

// GetPost returns a copy of the post.
func (db *MemoryDatabase) GetPost(_ context.Context, id string) (*models.Post, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	p, ok := db.posts[id]
	if !ok {
		return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	out := *p
	return &out, nil
}

// ListPostsExcludingMember returns posts not owned by memberID, newest first.
func (db *MemoryDatabase) ListPostsExcludingMember(_ context.Context, memberID string) ([]models.Post, error) {
	return db.listPosts(func(p *models.Post) bool { return p.PostedBy != memberID }), nil
}

// ListPostsByMember returns posts owned by memberID, newest first.
func (db *MemoryDatabase) ListPostsByMember(_ context.Context, memberID string) ([]models.Post, error) {
	return db.listPosts(func(p *models.Post) bool { return p.PostedBy == memberID }), nil
}

func (db *MemoryDatabase) listPosts(keep func(*models.Post) bool) []models.Post {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make([]models.Post, 0)
	for _, p := range db.posts {
		if keep(p) {
			out = append(out, *p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return db.order[out[i].ID] > db.order[out[j].ID]
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// UpdatePost applies patch when cond holds for the current post.
func (db *MemoryDatabase) UpdatePost(_ context.Context, id string, patch models.PostPatch, cond PostCondition) (*models.Post, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	p, ok := db.posts[id]
	if !ok {
		return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	if !cond.Allows(p) {
		return nil, fmt.Errorf("post %s in status %s: %w", id, p.Status, ErrPreconditionFailed)
	}

	patch.Apply(p)
	p.UpdatedAt = db.now()

	out := *p
	return &out, nil
}

// CreateNotification stores n with status new.
func (db *MemoryDatabase) CreateNotification(_ context.Context, n *models.Notification) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.Status = models.NotificationNew
	n.CreatedAt = db.now()

	stored := *n
	db.notifications[n.ID] = &stored
	db.seq++
	db.order[n.ID] = db.seq
	return nil
}

// ListNotifications returns the recipient's notifications, newest first.
func (db *MemoryDatabase) ListNotifications(_ context.Context, userID string) ([]models.Notification, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make([]models.Notification, 0)
	for _, n := range db.notifications {
		if n.UserID == userID {
			out = append(out, *n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return db.order[out[i].ID] > db.order[out[j].ID]
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// MarkNotificationSeen flips one of the recipient's notifications to seen.
func (db *MemoryDatabase) MarkNotificationSeen(_ context.Context, userID, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	n, ok := db.notifications[id]
	if !ok || n.UserID != userID {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	n.Status = models.NotificationSeen
	return nil
}

// MarkAllNotificationsSeen flips every new notification of the recipient.
func (db *MemoryDatabase) MarkAllNotificationsSeen(_ context.Context, userID string) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	count := 0
	for _, n := range db.notifications {
		if n.UserID == userID && n.Status == models.NotificationNew {
			n.Status = models.NotificationSeen
			count++
		}
	}
	return count, nil
}

// CountUnseenNotifications counts the recipient's new notifications.
func (db *MemoryDatabase) CountUnseenNotifications(_ context.Context, userID string) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	count := 0
	for _, n := range db.notifications {
		if n.UserID == userID && n.Status == models.NotificationNew {
			count++
		}
	}
	return count, nil
}

// HealthCheck always succeeds.
func (db *MemoryDatabase) HealthCheck(context.Context) error { return nil }

// Close is a no-op.
func (db *MemoryDatabase) Close() error { return nil }
