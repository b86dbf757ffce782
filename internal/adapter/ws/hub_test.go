package ws

import (
	"context"
	"testing"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("expected non-nil hub")
	}
	if got := hub.ConnectionCount(); got != 0 {
		t.Fatalf("expected 0 connections, got %d", got)
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub()
	hub.BroadcastEvent(context.Background(), EventWorldInvalidated, WorldInvalidatedEvent{WorldID: "w1"})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub()
	// A channel cannot be marshaled to JSON — should log, not panic.
	hub.BroadcastEvent(context.Background(), "bad", make(chan int))
}

func TestNilHubBroadcastEventIsNoop(t *testing.T) {
	var hub *Hub
	hub.BroadcastEvent(context.Background(), EventAutoExecuteSweep, AutoExecuteSweepEvent{Dispatched: 2})
}
