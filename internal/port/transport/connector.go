// Package transport defines the connector contract consumed by the core
// (spec §6): message delivery between worlds. Messages are opaque to the
// core.
package transport

import (
	"context"

	"github.com/google/uuid"
)

// Message is an opaque payload sent between worlds.
type Message struct {
	Kind    string
	Payload []byte
}

// Connector is implemented by the transport substrate. In production this
// is NATS (internal/adapter/nats); tests use a direct in-process connector
// whose StopListening simulates a partition (internal/adapter/inproc).
type Connector interface {
	Send(ctx context.Context, targetWorldID uuid.UUID, msg Message) error
	StartListening(ctx context.Context, worldID uuid.UUID) (<-chan Message, error)
	StopListening(ctx context.Context, worldID uuid.UUID) error
}
