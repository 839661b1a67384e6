package models

// Event names pushed over the broadcast channel.
const (
	EventPostsUpdated           = "posts-updated"
	EventNotifyPostStatusUpdate = "notify-post-status-update"
)

// TransitionType names the lifecycle transition that produced an event.
type TransitionType string

const (
	TransitionCreate   TransitionType = "create"
	TransitionEdit     TransitionType = "edit"
	TransitionAccept   TransitionType = "accept"
	TransitionComplete TransitionType = "complete"
	TransitionCancel   TransitionType = "cancel"
)

// PostStatusUpdate is the payload of a targeted post status event.
type PostStatusUpdate struct {
	Post           Post           `json:"post"`
	TransitionType TransitionType `json:"transitionType"`
}
