package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeSerialization(t *testing.T) {
	data := &PeerData{PeerID: "p1", DisplayName: "Alice"}

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}

	env := Envelope{
		ID:        "test-id",
		Type:      PeerJoined,
		Source:    "confab-signal",
		RoomID:    "room-123",
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}

	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}

	if decoded.Type != PeerJoined {
		t.Errorf("type = %q, want %q", decoded.Type, PeerJoined)
	}
	if decoded.RoomID != "room-123" {
		t.Errorf("room_id = %q, want %q", decoded.RoomID, "room-123")
	}

	var payload PeerData
	if err := json.Unmarshal(decoded.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.PeerID != "p1" {
		t.Errorf("peer_id = %q, want %q", payload.PeerID, "p1")
	}
}

func TestEventTypeConstants(t *testing.T) {
	types := []EventType{
		RoomCreated, RoomClosed,
		PeerJoined, PeerLeft,
		ProducerCreated, ProducerClosed,
	}

	seen := make(map[EventType]bool)
	for _, et := range types {
		if et == "" {
			t.Error("empty event type constant")
		}
		if seen[et] {
			t.Errorf("duplicate event type: %q", et)
		}
		seen[et] = true
	}
}

func TestLocalSubscription(t *testing.T) {
	pub := NewPublisher(nil, "test", "events")

	ch := pub.Subscribe("sub-1", 4)
	defer pub.Unsubscribe("sub-1")

	err := pub.Emit(context.Background(), PeerJoined, "R", PeerData{PeerID: "p1", DisplayName: "A"})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	select {
	case env := <-ch:
		if env.Type != PeerJoined {
			t.Errorf("type = %q, want %q", env.Type, PeerJoined)
		}
		if env.RoomID != "R" {
			t.Errorf("room_id = %q, want %q", env.RoomID, "R")
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestSubscriberBufferFullDropsEvent(t *testing.T) {
	pub := NewPublisher(nil, "test", "events")

	ch := pub.Subscribe("slow", 1)
	defer pub.Unsubscribe("slow")

	ctx := context.Background()
	_ = pub.Emit(ctx, PeerJoined, "R", nil)
	// Buffer is full now; the next emit must not block.
	_ = pub.Emit(ctx, PeerLeft, "R", nil)

	if got := len(ch); got != 1 {
		t.Errorf("buffered events = %d, want 1", got)
	}
}
