// Package broadcast fans post events out to connected members.
package broadcast

import (
	"context"

	"sitter-points-backend/pkg/models"
)

// Event is one transient message pushed to subscribers.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// PostsUpdated is the global "discovery feed changed" event.
func PostsUpdated() Event {
	return Event{Name: models.EventPostsUpdated}
}

// PostStatusUpdate is the targeted event sent to the parties of a post.
func PostStatusUpdate(post models.Post, transition models.TransitionType) Event {
	return Event{
		Name:    models.EventNotifyPostStatusUpdate,
		Payload: models.PostStatusUpdate{Post: post, TransitionType: transition},
	}
}

// Channel delivers events either to every subscriber or to the sessions of
// a single member.
type Channel interface {
	BroadcastAll(ctx context.Context, ev Event) error
	BroadcastTo(ctx context.Context, memberID string, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) BroadcastAll(context.Context, Event) error { return nil }

func (Nop) BroadcastTo(context.Context, string, Event) error { return nil }
