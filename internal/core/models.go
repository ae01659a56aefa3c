package core

import (
	"time"
)

type PostStatus string

const (
	StatusPending   PostStatus = "pending"
	StatusPublished PostStatus = "published"
	StatusFailed    PostStatus = "failed"
)

// DefaultTimezone is the zone recorded for posts scheduled without one.
const DefaultTimezone = "Asia/Kolkata"

type ScheduledPost struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	Content        string     `json:"content"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	Timezone       string     `json:"timezone"`
	Status         PostStatus `json:"status"`
	ExternalPostID *string    `json:"external_post_id,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Credential is the LinkedIn authorization stored on a user row.
// Empty strings stand for NULL columns.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	MemberURN    string
}

type User struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Credential Credential `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
}

// StatusUpdate is a terminal transition written by the publisher.
type StatusUpdate struct {
	Status         PostStatus
	ExternalPostID string
	ErrorMessage   string
	UpdatedAt      time.Time
}

// CredentialUpdate replaces the access token after a refresh.
// An empty RefreshToken keeps the stored one.
type CredentialUpdate struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type NewScheduledPost struct {
	OwnerID     string
	Content     string
	ScheduledAt time.Time
	Timezone    string
}

// ScheduledPostPatch carries the caller-editable fields; nil means unchanged.
type ScheduledPostPatch struct {
	Content     *string
	ScheduledAt *time.Time
	Timezone    *string
}
