package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultAPIURL   = "https://api.linkedin.com/v2"
	DefaultOAuthURL = "https://www.linkedin.com/oauth/v2"

	// LinkedIn access tokens live 60 days.
	defaultTokenTTL = 60 * 24 * time.Hour
)

type LinkedInConfig struct {
	APIURL       string
	OAuthURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	QPS          float64 // sustained request rate across publish and refresh
	Burst        int
}

// LinkedIn publishes UGC posts and refreshes member tokens.
type LinkedIn struct {
	cfg        LinkedInConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewLinkedIn(cfg LinkedInConfig) *LinkedIn {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.OAuthURL == "" {
		cfg.OAuthURL = DefaultOAuthURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.QPS > 0 {
		limit = rate.Limit(cfg.QPS)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &LinkedIn{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
	}
}

type ugcPost struct {
	Author          string          `json:"author"`
	LifecycleState  string          `json:"lifecycleState"`
	SpecificContent specificContent `json:"specificContent"`
	Visibility      visibility      `json:"visibility"`
}

type specificContent struct {
	ShareContent shareContent `json:"com.linkedin.ugc.ShareContent"`
}

type shareContent struct {
	ShareCommentary    shareCommentary `json:"shareCommentary"`
	ShareMediaCategory string          `json:"shareMediaCategory"`
}

type shareCommentary struct {
	Text string `json:"text"`
}

type visibility struct {
	MemberNetwork string `json:"com.linkedin.ugc.MemberNetworkVisibility"`
}

type ugcPostResponse struct {
	ID string `json:"id"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// Publish creates a public text post authored by authorURN.
func (c *LinkedIn) Publish(ctx context.Context, accessToken, authorURN, content string) (string, error) {
	body := ugcPost{
		Author:         authorURN,
		LifecycleState: "PUBLISHED",
		SpecificContent: specificContent{ShareContent: shareContent{
			ShareCommentary:    shareCommentary{Text: content},
			ShareMediaCategory: "NONE",
		}},
		Visibility: visibility{MemberNetwork: "PUBLIC"},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal post: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/ugcPosts", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	status, header, respBody, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", &APIError{Op: "publish", Status: status, Body: string(respBody)}
	}

	var out ugcPostResponse
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil {
			return "", fmt.Errorf("decode post response: %w", err)
		}
	}
	if out.ID == "" {
		out.ID = header.Get("X-RestLi-Id")
	}
	if out.ID == "" {
		return "", ErrEmptyPostID
	}
	return out.ID, nil
}

// Refresh runs the refresh_token grant against the OAuth endpoint.
func (c *LinkedIn) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OAuthURL+"/accessToken", strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	status, _, respBody, err := c.do(req)
	if err != nil {
		return Token{}, err
	}
	if status != http.StatusOK {
		return Token{}, &APIError{Op: "refresh", Status: status, Body: string(respBody)}
	}

	var out tokenResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return Token{}, fmt.Errorf("decode token response: %w", err)
	}
	if out.AccessToken == "" {
		return Token{}, fmt.Errorf("%w: %s", ErrMalformedToken, respBody)
	}
	return Token{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken, ExpiresIn: out.ExpiresIn}, nil
}

func (c *LinkedIn) do(req *http.Request) (int, http.Header, []byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return 0, nil, nil, fmt.Errorf("rate limit: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, resp.Header, body, nil
}
