package signal

import (
	"fmt"
	"sync"
)

// Registry owns the three process-wide indices: connection to peer id,
// peer id to room id, and room id to room. All three are mutated together
// under one mutex so they never diverge; lookups are snapshot reads.
type Registry struct {
	mu       sync.Mutex
	connPeer map[Conn]string
	peerRoom map[string]string
	rooms    map[string]*Room
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connPeer: make(map[Conn]string),
		peerRoom: make(map[string]string),
		rooms:    make(map[string]*Room),
	}
}

// EnsureRoom returns the room with the given id, materializing it through
// create when absent. Concurrent callers for the same id observe the same
// room; exactly one router is created.
func (g *Registry) EnsureRoom(id string, create func(id string) (*Room, error)) (*Room, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if room, ok := g.rooms[id]; ok {
		return room, false, nil
	}
	room, err := create(id)
	if err != nil {
		return nil, false, err
	}
	g.rooms[id] = room
	return room, true, nil
}

// AttachPeer binds a peer to its room, records all indices and returns the
// join snapshot of the other members. A peer id already bound anywhere is
// rejected.
func (g *Registry) AttachPeer(room *Room, p *Peer) ([]PeerSnapshot, []ProducerSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, bound := g.peerRoom[p.ID()]; bound {
		return nil, nil, fmt.Errorf("peer id taken")
	}
	peers, producers, err := room.addPeer(p)
	if err != nil {
		return nil, nil, err
	}
	g.connPeer[p.conn] = p.ID()
	g.peerRoom[p.ID()] = room.ID()
	return peers, producers, nil
}

// DetachPeer removes the peer from all indices and from its room. When the
// room empties it is dropped from the registry and returned with empty
// true so the caller can release its media resources.
func (g *Registry) DetachPeer(p *Peer) (room *Room, empty bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.connPeer, p.conn)
	roomID, bound := g.peerRoom[p.ID()]
	if !bound {
		return nil, false
	}
	delete(g.peerRoom, p.ID())

	room, ok := g.rooms[roomID]
	if !ok {
		return nil, false
	}
	if room.removePeer(p.ID()) {
		delete(g.rooms, roomID)
		return room, true
	}
	return room, false
}

// PeerByConn resolves the peer bound to a connection.
func (g *Registry) PeerByConn(conn Conn) (*Peer, *Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	peerID, ok := g.connPeer[conn]
	if !ok {
		return nil, nil, false
	}
	return g.resolveLocked(peerID)
}

// Peer resolves a peer and its room by peer id.
func (g *Registry) Peer(peerID string) (*Peer, *Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resolveLocked(peerID)
}

func (g *Registry) resolveLocked(peerID string) (*Peer, *Room, bool) {
	roomID, ok := g.peerRoom[peerID]
	if !ok {
		return nil, nil, false
	}
	room, ok := g.rooms[roomID]
	if !ok {
		return nil, nil, false
	}
	p, ok := room.Peer(peerID)
	if !ok {
		return nil, nil, false
	}
	return p, room, true
}

// Room returns a room by id.
func (g *Registry) Room(id string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[id]
	return room, ok
}

// Rooms returns a snapshot of all rooms.
func (g *Registry) Rooms() []*Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	return out
}

// Stats reports aggregate counts across all rooms.
type Stats struct {
	RoomCount     int `json:"roomCount"`
	PeerCount     int `json:"peerCount"`
	ProducerCount int `json:"producerCount"`
	ConsumerCount int `json:"consumerCount"`
}

// Stats computes aggregate counts.
func (g *Registry) Stats() Stats {
	rooms := g.Rooms()

	stats := Stats{RoomCount: len(rooms)}
	for _, r := range rooms {
		for _, p := range r.Peers() {
			stats.PeerCount++
			producers, consumers := p.counts()
			stats.ProducerCount += producers
			stats.ConsumerCount += consumers
		}
	}
	return stats
}
