// Package nats implements transport.Connector over plain NATS core
// pub/sub: one subject per world, "worlds.<world_id>". Sends are guarded
// by a circuit breaker so a partitioned or down NATS server fails fast
// instead of blocking the invalidator or auto-execute sweep.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/google/uuid"

	"github.com/anchorhq/anchord/internal/domain"
	"github.com/anchorhq/anchord/internal/port/transport"
	"github.com/anchorhq/anchord/internal/resilience"
)

func subject(worldID uuid.UUID) string {
	return "worlds." + worldID.String()
}

// Connector implements transport.Connector over a single shared NATS
// connection.
type Connector struct {
	nc      *nats.Conn
	breaker *resilience.Breaker

	mu   sync.Mutex
	subs map[uuid.UUID]*nats.Subscription
}

// Connect establishes a connection to NATS for use as the inter-world
// transport.
func Connect(url string, breaker *resilience.Breaker) (*Connector, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	slog.Info("nats connected", "url", url)
	return &Connector{
		nc:      nc,
		breaker: breaker,
		subs:    make(map[uuid.UUID]*nats.Subscription),
	}, nil
}

// Send implements transport.Connector.
func (c *Connector) Send(_ context.Context, targetWorldID uuid.UUID, msg transport.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = c.breaker.Execute(func() error {
		return c.nc.Publish(subject(targetWorldID), data)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return fmt.Errorf("%w: circuit open for %s", domain.ErrTransport, targetWorldID)
		}
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	return nil
}

// StartListening implements transport.Connector.
func (c *Connector) StartListening(_ context.Context, worldID uuid.UUID) (<-chan transport.Message, error) {
	out := make(chan transport.Message, 64)

	sub, err := c.nc.Subscribe(subject(worldID), func(natsMsg *nats.Msg) {
		var msg transport.Message
		if err := json.Unmarshal(natsMsg.Data, &msg); err != nil {
			slog.Error("nats: dropping malformed message", "world_id", worldID, "error", err)
			return
		}
		select {
		case out <- msg:
		default:
			slog.Warn("nats: listener backpressure, dropping message", "world_id", worldID)
		}
	})
	if err != nil {
		close(out)
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}

	c.mu.Lock()
	c.subs[worldID] = sub
	c.mu.Unlock()

	return out, nil
}

// StopListening implements transport.Connector.
func (c *Connector) StopListening(_ context.Context, worldID uuid.UUID) error {
	c.mu.Lock()
	sub, ok := c.subs[worldID]
	delete(c.subs, worldID)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe: %w", err)
	}
	return nil
}

// Close closes the underlying NATS connection without draining it.
func (c *Connector) Close() error {
	c.nc.Close()
	return nil
}

// Raw exposes the underlying *nats.Conn so a single connection can also
// back a JetStream context (e.g. the L2 cache's KV bucket), rather than
// opening a second connection to the same server.
func (c *Connector) Raw() *nats.Conn {
	return c.nc
}
