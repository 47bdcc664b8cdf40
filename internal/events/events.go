// Package events defines the identity change events emitted after a
// successful Identify and the publishers that deliver them.
package events

import (
	"context"
	"errors"
	"time"
)

// Event types.
const (
	TypeContactCreated = "contact.created"
	TypeContactLinked  = "contact.linked"
	TypeContactMerged  = "contact.merged"
)

// Event describes one committed change to a cluster.
// ContactIDs holds the new contact for created/linked and the demoted
// primaries for merged.
type Event struct {
	Type             string    `json:"type"`
	PrimaryContactID int64     `json:"primaryContactId"`
	ContactIDs       []int64   `json:"contactIds"`
	Timestamp        time.Time `json:"timestamp"`
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Fanout publishes every event to all of its publishers.
type Fanout []Publisher

// Publish delivers ev to each publisher and joins their errors.
func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, Event) error { return nil }
