package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for coordination-core broadcasts.
const (
	EventWorldInvalidated = "world.invalidated"
	EventAutoExecuteSweep = "autoexecute.sweep"
	EventValidityCheck    = "validity.check"
)

// WorldInvalidatedEvent is broadcast when Invalidate finishes processing a
// target world's locks.
type WorldInvalidatedEvent struct {
	WorldID string `json:"world_id"`
}

// AutoExecuteSweepEvent is broadcast after an auto-execute sweep completes.
type AutoExecuteSweepEvent struct {
	Dispatched int `json:"dispatched"`
}

// ValidityCheckEvent is broadcast after a worlds or locks validity check
// completes.
type ValidityCheckEvent struct {
	Kind  string `json:"kind"` // "worlds" or "locks"
	Found int    `json:"found"`
}

// BroadcastEvent marshals a typed event and broadcasts it. A nil Hub is a
// no-op, so callers never need to nil-check before calling this.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	if h == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{Type: eventType, Payload: json.RawMessage(data)})
}
