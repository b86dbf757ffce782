// Package inproc is a direct in-process transport.Connector for tests: no
// network, no serialization. StopListening closes the target's channel,
// simulating a partition so invalidator tests can exercise spec §6's
// "the transport may fail to deliver" behavior deterministically.
package inproc

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/anchorhq/anchord/internal/domain"
	"github.com/anchorhq/anchord/internal/port/transport"
)

// Network is a shared in-process bus. Each Connector registered against
// the same Network can Send to any other registered world.
type Network struct {
	mu       sync.Mutex
	inboxes  map[uuid.UUID]chan transport.Message
	partition map[uuid.UUID]bool
}

// NewNetwork creates an empty Network.
func NewNetwork() *Network {
	return &Network{
		inboxes:  make(map[uuid.UUID]chan transport.Message),
		partition: make(map[uuid.UUID]bool),
	}
}

// Connector is a transport.Connector backed by a Network.
type Connector struct {
	net *Network
}

// New returns a Connector bound to net.
func New(net *Network) *Connector {
	return &Connector{net: net}
}

// Send implements transport.Connector.
func (c *Connector) Send(_ context.Context, targetWorldID uuid.UUID, msg transport.Message) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()

	if c.net.partition[targetWorldID] {
		return domain.ErrTransport
	}
	inbox, ok := c.net.inboxes[targetWorldID]
	if !ok {
		return domain.ErrTransport
	}
	select {
	case inbox <- msg:
		return nil
	default:
		return domain.ErrTransport
	}
}

// StartListening implements transport.Connector.
func (c *Connector) StartListening(_ context.Context, worldID uuid.UUID) (<-chan transport.Message, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()

	inbox := make(chan transport.Message, 64)
	c.net.inboxes[worldID] = inbox
	delete(c.net.partition, worldID)
	return inbox, nil
}

// StopListening implements transport.Connector, closing the world's inbox
// and marking it partitioned so subsequent Sends fail fast.
func (c *Connector) StopListening(_ context.Context, worldID uuid.UUID) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()

	if inbox, ok := c.net.inboxes[worldID]; ok {
		close(inbox)
		delete(c.net.inboxes, worldID)
	}
	c.net.partition[worldID] = true
	return nil
}
