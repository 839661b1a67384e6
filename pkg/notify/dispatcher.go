// Package notify persists member notifications and pushes the matching
// transient broadcast events.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"sitter-points-backend/pkg/broadcast"
	"sitter-points-backend/pkg/database"
	"sitter-points-backend/pkg/models"
)

// DefaultBroadcastTimeout bounds one asynchronous broadcast.
const DefaultBroadcastTimeout = 5 * time.Second

var (
	// ErrNotFound indicates the notification does not exist for the member.
	ErrNotFound = errors.New("notification not found")
	// ErrRecipientRequired indicates an empty recipient id.
	ErrRecipientRequired = errors.New("notification recipient is required")
)

// Store is the notification persistence boundary.
type Store interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID string) ([]models.Notification, error)
	MarkNotificationSeen(ctx context.Context, userID, id string) error
	MarkAllNotificationsSeen(ctx context.Context, userID string) (int, error)
	CountUnseenNotifications(ctx context.Context, userID string) (int, error)
}

// Dispatcher creates notifications and emits broadcast events. Broadcasts
// run in the background so callers get their result first.
type Dispatcher struct {
	store   Store
	channel broadcast.Channel
	log     *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBroadcastTimeout overrides DefaultBroadcastTimeout.
func WithBroadcastTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// NewDispatcher wires a dispatcher. A nil channel discards broadcasts.
func NewDispatcher(store Store, channel broadcast.Channel, log *zap.Logger, opts ...Option) *Dispatcher {
	if channel == nil {
		channel = broadcast.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		store:   store,
		channel: channel,
		log:     log.Named("notify"),
		timeout: DefaultBroadcastTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify persists a new notification for memberID about postID.
func (d *Dispatcher) Notify(ctx context.Context, memberID, postID, message string) (*models.Notification, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return nil, ErrRecipientRequired
	}
	n := &models.Notification{
		UserID:  memberID,
		PostID:  postID,
		Message: message,
		Status:  models.NotificationNew,
	}
	if err := d.store.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("notify %s: %w", memberID, err)
	}
	return n, nil
}

// NotifyMany sends one notification per distinct recipient, with the text
// chosen by message. Empty recipients are skipped. Every recipient is
// attempted; failures are joined.
func (d *Dispatcher) NotifyMany(ctx context.Context, recipients []string, postID string, message func(memberID string) string) ([]models.Notification, error) {
	sent := make([]models.Notification, 0, len(recipients))
	seen := make(map[string]bool, len(recipients))
	var errs []error
	for _, memberID := range recipients {
		if memberID == "" || seen[memberID] {
			continue
		}
		seen[memberID] = true
		n, err := d.Notify(ctx, memberID, postID, message(memberID))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sent = append(sent, *n)
	}
	return sent, errors.Join(errs...)
}

// BroadcastAll emits ev to every subscriber in the background.
func (d *Dispatcher) BroadcastAll(ev broadcast.Event) {
	d.async(ev.Name, "", func(ctx context.Context) error {
		return d.channel.BroadcastAll(ctx, ev)
	})
}

// BroadcastTo emits ev to each distinct member in the background.
func (d *Dispatcher) BroadcastTo(memberIDs []string, ev broadcast.Event) {
	seen := make(map[string]bool, len(memberIDs))
	for _, memberID := range memberIDs {
		if memberID == "" || seen[memberID] {
			continue
		}
		seen[memberID] = true
		target := memberID
		d.async(ev.Name, target, func(ctx context.Context) error {
			return d.channel.BroadcastTo(ctx, target, ev)
		})
	}
}

func (d *Dispatcher) async(event, target string, send func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := send(ctx); err != nil {
			d.log.Warn("broadcast failed",
				zap.String("event", event),
				zap.String("member_id", target),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until every in-flight broadcast has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// List returns the member's notifications, newest first.
func (d *Dispatcher) List(ctx context.Context, memberID string) ([]models.Notification, error) {
	list, err := d.store.ListNotifications(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return list, nil
}

// UnseenCount counts the member's notifications still marked new.
func (d *Dispatcher) UnseenCount(ctx context.Context, memberID string) (int, error) {
	count, err := d.store.CountUnseenNotifications(ctx, memberID)
	if err != nil {
		return 0, fmt.Errorf("count unseen notifications: %w", err)
	}
	return count, nil
}

// MarkSeen moves one of the member's notifications from new to seen.
func (d *Dispatcher) MarkSeen(ctx context.Context, memberID, id string) error {
	err := d.store.MarkNotificationSeen(ctx, memberID, id)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("mark notification seen: %w", err)
	}
	return nil
}

// MarkAllSeen moves every new notification of the member to seen.
func (d *Dispatcher) MarkAllSeen(ctx context.Context, memberID string) (int, error) {
	count, err := d.store.MarkAllNotificationsSeen(ctx, memberID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications seen: %w", err)
	}
	return count, nil
}
