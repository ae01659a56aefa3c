package provider

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Dummy stands in for LinkedIn in local runs.
type Dummy struct {
	Latency  time.Duration
	FailRate int // percent
}

func NewDummy() *Dummy { return &Dummy{Latency: 50 * time.Millisecond, FailRate: 3} }

func (d *Dummy) Publish(ctx context.Context, accessToken, authorURN, content string) (string, error) {
	if err := d.wait(ctx); err != nil {
		return "", err
	}
	if rand.Intn(100) < d.FailRate {
		return "", &APIError{Op: "publish", Status: 503, Body: "provider_temporary_error"}
	}
	return "urn:li:share:" + randomID(), nil
}

func (d *Dummy) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	if err := d.wait(ctx); err != nil {
		return Token{}, err
	}
	if refreshToken == "" {
		return Token{}, errors.New("empty refresh token")
	}
	return Token{AccessToken: "dummy-" + randomID(), ExpiresIn: int64(defaultTokenTTL / time.Second)}, nil
}

func (d *Dummy) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.Latency):
		return nil
	}
}

func randomID() string {
	const digits = "0123456789"
	b := make([]byte, 19)
	for i := range b {
		b[i] = digits[rand.Intn(len(digits))]
	}
	return string(b)
}
