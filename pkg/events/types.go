package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event flowing through the system.
type EventType string

const (
	RoomCreated     EventType = "room.created"
	RoomClosed      EventType = "room.closed"
	PeerJoined      EventType = "peer.joined"
	PeerLeft        EventType = "peer.left"
	ProducerCreated EventType = "producer.created"
	ProducerClosed  EventType = "producer.closed"
)

// Envelope is the standard event wrapper published to the event bus.
type Envelope struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Source    string          `json:"source"`
	RoomID    string          `json:"room_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// PeerData is the payload for peer.joined and peer.left events.
type PeerData struct {
	PeerID      string `json:"peer_id"`
	DisplayName string `json:"display_name"`
}

// ProducerData is the payload for producer lifecycle events.
type ProducerData struct {
	PeerID     string `json:"peer_id"`
	ProducerID string `json:"producer_id"`
	Kind       string `json:"kind,omitempty"`
	Source     string `json:"source,omitempty"`
}

// RoomData is the payload for room lifecycle events.
type RoomData struct {
	RouterID string `json:"router_id,omitempty"`
}
