// Package pubsub provides a generic publish/subscribe event system.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// UpdatedEvent is published when a grammar dropped its compiled rules
	// because a grammar it includes changed.
	UpdatedEvent EventType = "updated"
	// AddedEvent is published when a grammar is registered.
	AddedEvent EventType = "added"
	// RemovedEvent is published when a grammar registration is disposed.
	RemovedEvent EventType = "removed"
	// LoggedEvent carries a formatted log entry.
	LoggedEvent EventType = "logged"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
