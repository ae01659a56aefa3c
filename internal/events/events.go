// Package events announces terminal post transitions to other services.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/automarketer/publisher/internal/core"
)

// Event describes a post that just left the pending state.
type Event struct {
	PostID         string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	Status         core.PostStatus `json:"status"`
	ExternalPostID string          `json:"external_post_id,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	At             time.Time       `json:"at"`
}

// Notifier is told about every terminal transition the publisher commits.
type Notifier interface {
	PostFinished(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) PostFinished(context.Context, Event) error { return nil }

// Subject returns the NATS subject an event is published on.
func Subject(status core.PostStatus) string { return "post." + string(status) }

// Message builds the NATS message for ev.
func Message(ev Event) (*nats.Msg, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	msg := &nats.Msg{
		Subject: Subject(ev.Status),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Content-Type", "application/json")
	// lets JetStream consumers dedupe a replayed transition
	msg.Header.Set(nats.MsgIdHdr, ev.PostID+":"+string(ev.Status))
	return msg, nil
}

type NATS struct {
	nc *nats.Conn
}

func NewNATS(nc *nats.Conn) *NATS { return &NATS{nc: nc} }

func (n *NATS) PostFinished(_ context.Context, ev Event) error {
	msg, err := Message(ev)
	if err != nil {
		return err
	}
	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Connect returns a NATS notifier for url, or Nop when url is empty.
// The returned close func drains the connection.
func Connect(url string) (Notifier, func(), error) {
	if url == "" {
		return Nop{}, func() {}, nil
	}
	nc, err := nats.Connect(url, nats.Name("post-publisher"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	return NewNATS(nc), func() { _ = nc.Drain() }, nil
}
