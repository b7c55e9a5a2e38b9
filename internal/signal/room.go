package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pitabwire/frame/workerpool"

	"github.com/confabhq/confab/internal/mediaworker"
)

// Room owns a router, an audio level observer and the set of peers in the
// conference. It exists exactly while at least one peer is in it.
type Room struct {
	mu       sync.RWMutex
	id       string
	router   mediaworker.Router
	observer mediaworker.AudioLevelObserver
	peers    map[string]*Peer
	pool     workerpool.WorkerPool
	closed   bool
}

// NewRoom materializes a room: one router and one audio level observer,
// both sharing the room's lifetime. Volume reports from the observer are
// fanned out as audioLevel notifications to every peer, the speaker
// included, so UIs can self-highlight.
func NewRoom(id string, worker mediaworker.Worker, pool workerpool.WorkerPool) (*Room, error) {
	router, err := worker.CreateRouter()
	if err != nil {
		return nil, fmt.Errorf("room %q: %w", id, err)
	}

	observer, err := router.CreateAudioLevelObserver()
	if err != nil {
		router.Close()
		return nil, fmt.Errorf("room %q: %w", id, err)
	}

	r := &Room{
		id:       id,
		router:   router,
		observer: observer,
		peers:    make(map[string]*Peer),
		pool:     pool,
	}

	observer.OnVolumes(func(reports []mediaworker.VolumeReport) {
		r.submit(func() {
			for _, report := range reports {
				if report.PeerID == "" {
					continue
				}
				r.Broadcast(newAudioLevel(report.PeerID, report.Volume), "")
			}
		})
	})

	return r, nil
}

// ID returns the room's identifier.
func (r *Room) ID() string { return r.id }

// Router returns the room's router handle.
func (r *Room) Router() mediaworker.Router { return r.router }

// Observer returns the room's audio level observer.
func (r *Room) Observer() mediaworker.AudioLevelObserver { return r.observer }

// RtpCapabilities returns the router's codec advertisement.
func (r *Room) RtpCapabilities() json.RawMessage {
	return r.router.RtpCapabilities()
}

// addPeer inserts the peer and snapshots the other members and their
// producers in the same critical section. Producer registration takes the
// same lock, so a producer lands either in this snapshot or in a later
// newProducer notification to the joiner, never both and never neither.
func (r *Room) addPeer(p *Peer) ([]PeerSnapshot, []ProducerSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, nil, fmt.Errorf("room %q is closed", r.id)
	}
	if _, taken := r.peers[p.ID()]; taken {
		return nil, nil, fmt.Errorf("peer id taken")
	}
	r.peers[p.ID()] = p

	peers := make([]PeerSnapshot, 0, len(r.peers)-1)
	producers := make([]ProducerSnapshot, 0)
	for id, member := range r.peers {
		if id == p.ID() {
			continue
		}
		peers = append(peers, PeerSnapshot{
			ID:              id,
			DisplayName:     member.DisplayName(),
			ConnectionState: member.State(),
		})
		producers = append(producers, member.producerSnapshots()...)
	}
	return peers, producers, nil
}

// registerProducer records a new producer on its owning peer and snapshots
// the recipients of the matching newProducer notification. Shares the room
// lock with addPeer so join snapshots and producer broadcasts are mutually
// exclusive for any given producer.
func (r *Room) registerProducer(p *Peer, rec *producerRecord) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p.addProducer(rec)
	out := make([]*Peer, 0, len(r.peers))
	for id, member := range r.peers {
		if id == p.ID() {
			continue
		}
		out = append(out, member)
	}
	return out
}

// findProducer resolves a producer id to its owning peer and record.
func (r *Room) findProducer(producerID string) (*Peer, *producerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, member := range r.peers {
		if rec, ok := member.producer(producerID); ok {
			return member, rec, true
		}
	}
	return nil, nil, false
}

// removePeer evicts the peer, reporting whether the room is now empty.
func (r *Room) removePeer(peerID string) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, peerID)
	return len(r.peers) == 0
}

// Peer returns a member by id.
func (r *Room) Peer(peerID string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[peerID]
	return p, ok
}

// Peers returns a snapshot of the members.
func (r *Room) Peers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// PeerCount returns the number of members.
func (r *Room) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Broadcast delivers a notification to every member except the named one.
// The recipient set is snapshotted under the room lock and delivery runs
// outside of it; a failed or closed recipient is a silent no-op.
func (r *Room) Broadcast(v interface{}, exceptPeerID string) {
	for _, p := range r.recipients(exceptPeerID) {
		if err := p.Send(v); err != nil {
			slog.Debug("broadcast dropped",
				slog.String("room", r.id), slog.String("peer", p.ID()))
		}
	}
}

func (r *Room) recipients(exceptPeerID string) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for id, p := range r.peers {
		if id == exceptPeerID {
			continue
		}
		out = append(out, p)
	}
	return out
}

// submit runs fn on the worker pool, inline as a goroutine when no pool
// was configured.
func (r *Room) submit(fn func()) {
	if r.pool != nil {
		if err := r.pool.Submit(context.Background(), fn); err == nil {
			return
		}
	}
	go fn()
}

// close releases the observer and router. Idempotent.
func (r *Room) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.observer.Close()
	r.router.Close()
}
