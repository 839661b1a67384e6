package models

import "time"

// NotificationStatus tracks whether the recipient has seen a notification
type NotificationStatus string

const (
	NotificationNew  NotificationStatus = "new"
	NotificationSeen NotificationStatus = "seen"
)

// Notification is a persisted message for one member about one lifecycle event.
type Notification struct {
	ID        string             `json:"id" db:"id"`
	UserID    string             `json:"user_id" db:"user_id"`
	PostID    string             `json:"post_id,omitempty" db:"post_id"`
	Message   string             `json:"message" db:"message"`
	Status    NotificationStatus `json:"status" db:"status"`
	CreatedAt time.Time          `json:"created_at" db:"created_at"`
}
