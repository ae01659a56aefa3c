package provider

import (
	"context"
	"errors"
	"fmt"
)

// Publisher creates a post on the social network on behalf of an account.
type Publisher interface {
	Publish(ctx context.Context, accessToken, authorURN, content string) (postID string, err error)
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Token, error)
}

// Client is a provider that can do both.
type Client interface {
	Publisher
	Refresher
}

type Token struct {
	AccessToken  string
	RefreshToken string // empty when the provider does not rotate it
	ExpiresIn    int64  // seconds; 0 when the response omitted it
}

var (
	ErrMalformedToken = errors.New("token response without access_token")
	ErrEmptyPostID    = errors.New("LinkedIn returned an empty post id")
)

// APIError is a non-success HTTP answer from the provider.
type APIError struct {
	Op     string // "publish" or "refresh"
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Op == "refresh" {
		return fmt.Sprintf("Failed to refresh LinkedIn token. Status: %d - %s", e.Status, e.Body)
	}
	return fmt.Sprintf("Failed to post to LinkedIn. Status: %d - %s", e.Status, e.Body)
}

// New returns the provider registered under name.
func New(name string, cfg LinkedInConfig) (Client, error) {
	switch name {
	case "", "linkedin":
		return NewLinkedIn(cfg), nil
	case "dummy":
		return NewDummy(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
