package models

import "time"

// PostType distinguishes babysitting offered from babysitting requested
type PostType string

const (
	PostTypeOffer   PostType = "offer"
	PostTypeRequest PostType = "request"
)

// Valid reports whether t is a known post type.
func (t PostType) Valid() bool {
	return t == PostTypeOffer || t == PostTypeRequest
}

// PostStatus is the lifecycle state of a post
type PostStatus string

const (
	PostStatusOpen      PostStatus = "open"
	PostStatusAccepted  PostStatus = "accepted"
	PostStatusCompleted PostStatus = "completed"
	PostStatusCancelled PostStatus = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s PostStatus) Terminal() bool {
	return s == PostStatusCompleted || s == PostStatusCancelled
}

// Post is a time-bound offer or request for babysitting.
//
// AcceptedBy is empty unless Status is accepted or completed, except that a
// cancelled post which had been accepted keeps its acceptor.
type Post struct {
	ID          string     `json:"id" db:"id"`
	PostedBy    string     `json:"posted_by" db:"posted_by"`
	Type        PostType   `json:"type" db:"type"`
	Status      PostStatus `json:"status" db:"status"`
	HoursNeeded int        `json:"hours_needed" db:"hours_needed"`
	Description string     `json:"description" db:"description"`
	DateTime    time.Time  `json:"date_time" db:"date_time"`
	AcceptedBy  string     `json:"accepted_by,omitempty" db:"accepted_by"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// PostPatch lists the fields an update may change; nil leaves a field as is.
type PostPatch struct {
	Type        *PostType
	Status      *PostStatus
	HoursNeeded *int
	Description *string
	DateTime    *time.Time
	AcceptedBy  *string
}

// Apply writes the non-nil fields of p onto post.
func (p PostPatch) Apply(post *Post) {
	if p.Type != nil {
		post.Type = *p.Type
	}
	if p.Status != nil {
		post.Status = *p.Status
	}
	if p.HoursNeeded != nil {
		post.HoursNeeded = *p.HoursNeeded
	}
	if p.Description != nil {
		post.Description = *p.Description
	}
	if p.DateTime != nil {
		post.DateTime = *p.DateTime
	}
	if p.AcceptedBy != nil {
		post.AcceptedBy = *p.AcceptedBy
	}
}

// PostRequest represents the request payload for creating or editing a post
type PostRequest struct {
	Type        PostType  `json:"type" validate:"required,oneof=offer request"`
	HoursNeeded int       `json:"hours_needed" validate:"required,min=1"`
	Description string    `json:"description" validate:"required,max=2000"`
	DateTime    time.Time `json:"date_time" validate:"required"`
}
