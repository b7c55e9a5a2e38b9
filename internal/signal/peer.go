package signal

import (
	"fmt"
	"sync"

	"github.com/confabhq/confab/internal/mediaworker"
)

// Peer connection states. Terminal state is disconnected.
const (
	StateNew          = "new"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
)

// producerRecord tracks one uplink stream originated by a peer.
type producerRecord struct {
	id     string
	kind   string
	source string
	paused bool
	muted  bool
	handle mediaworker.Producer
}

// consumerRecord tracks one downlink stream. Records are keyed by the
// upstream producer id so producer-close events evict in O(1).
type consumerRecord struct {
	id         string
	peerID     string
	producerID string
	handle     mediaworker.Consumer
}

// Peer owns one participant's connection, transports, producers and
// consumers. Mutations are serialized per peer; operations on different
// peers proceed in parallel.
type Peer struct {
	mu          sync.Mutex
	id          string
	displayName string
	roomID      string
	conn        Conn
	state       string

	sendTransport mediaworker.Transport
	recvTransport mediaworker.Transport

	producers map[string]*producerRecord
	consumers map[string]*consumerRecord

	cleanupOnce sync.Once
}

// NewPeer creates a peer bound to its connection, in state new.
func NewPeer(id, displayName, roomID string, conn Conn) *Peer {
	return &Peer{
		id:          id,
		displayName: displayName,
		roomID:      roomID,
		conn:        conn,
		state:       StateNew,
		producers:   make(map[string]*producerRecord),
		consumers:   make(map[string]*consumerRecord),
	}
}

// ID returns the peer's identifier.
func (p *Peer) ID() string { return p.id }

// DisplayName returns the presentational name chosen by the client.
func (p *Peer) DisplayName() string { return p.displayName }

// RoomID returns the id of the room the peer joined.
func (p *Peer) RoomID() string { return p.roomID }

// State returns the current connection state.
func (p *Peer) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) setState(state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}

// Send writes a frame to the peer's connection. A failed send is the
// recipient's problem: its own close handler will tear it down.
func (p *Peer) Send(v interface{}) error {
	return p.conn.WriteJSON(v)
}

// setTransport stores a transport for the given direction. Each direction
// holds at most one transport for the peer's lifetime.
func (p *Peer) setTransport(direction string, t mediaworker.Transport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch direction {
	case DirectionSend:
		if p.sendTransport != nil {
			return fmt.Errorf("send transport already exists")
		}
		p.sendTransport = t
	case DirectionRecv:
		if p.recvTransport != nil {
			return fmt.Errorf("recv transport already exists")
		}
		p.recvTransport = t
	default:
		return fmt.Errorf("unknown transport direction %q", direction)
	}
	return nil
}

// transportByID resolves a transport by its worker-assigned id.
func (p *Peer) transportByID(id string) (mediaworker.Transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendTransport != nil && p.sendTransport.ID() == id {
		return p.sendTransport, true
	}
	if p.recvTransport != nil && p.recvTransport.ID() == id {
		return p.recvTransport, true
	}
	return nil, false
}

func (p *Peer) send() mediaworker.Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sendTransport
}

func (p *Peer) recv() mediaworker.Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recvTransport
}

func (p *Peer) addProducer(rec *producerRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.producers[rec.id] = rec
}

func (p *Peer) producer(id string) (*producerRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.producers[id]
	return rec, ok
}

// removeProducer evicts a producer record, reporting whether it was held.
func (p *Peer) removeProducer(id string) (*producerRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.producers[id]
	if ok {
		delete(p.producers, id)
	}
	return rec, ok
}

// setProducerPaused records the mirrored worker paused state.
func (p *Peer) setProducerPaused(id string, paused bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.producers[id]
	if !ok {
		return false
	}
	rec.paused = paused
	return true
}

// setProducerMuted records the application-level muted flag, which is
// distinct from the worker's paused state.
func (p *Peer) setProducerMuted(id string, muted bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.producers[id]
	if !ok {
		return false
	}
	rec.muted = muted
	return true
}

// producerSnapshots lists the peer's producers for a join snapshot.
func (p *Peer) producerSnapshots() []ProducerSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ProducerSnapshot, 0, len(p.producers))
	for _, rec := range p.producers {
		out = append(out, ProducerSnapshot{
			ID:          rec.id,
			PeerID:      p.id,
			Kind:        rec.kind,
			Source:      rec.source,
			DisplayName: p.displayName,
		})
	}
	return out
}

func (p *Peer) addConsumer(rec *consumerRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers[rec.producerID] = rec
}

// consumesProducer reports whether the peer already holds a consumer for
// the upstream producer.
func (p *Peer) consumesProducer(producerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.consumers[producerID]
	return ok
}

// removeConsumerByProducer evicts the consumer bound to the given upstream
// producer, if any.
func (p *Peer) removeConsumerByProducer(producerID string) (*consumerRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.consumers[producerID]
	if ok {
		delete(p.consumers, producerID)
	}
	return rec, ok
}

// drainProducers empties the producer map and returns the records.
func (p *Peer) drainProducers() []*producerRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*producerRecord, 0, len(p.producers))
	for _, rec := range p.producers {
		out = append(out, rec)
	}
	p.producers = make(map[string]*producerRecord)
	return out
}

// drainConsumers empties the consumer map and returns the records.
func (p *Peer) drainConsumers() []*consumerRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*consumerRecord, 0, len(p.consumers))
	for _, rec := range p.consumers {
		out = append(out, rec)
	}
	p.consumers = make(map[string]*consumerRecord)
	return out
}

// takeTransports clears and returns the peer's transports, send first.
func (p *Peer) takeTransports() []mediaworker.Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []mediaworker.Transport
	if p.sendTransport != nil {
		out = append(out, p.sendTransport)
		p.sendTransport = nil
	}
	if p.recvTransport != nil {
		out = append(out, p.recvTransport)
		p.recvTransport = nil
	}
	return out
}

// counts reports producer and consumer counts for stats.
func (p *Peer) counts() (producers, consumers int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.producers), len(p.consumers)
}

// PeerInfo holds metadata about a peer for external reporting.
type PeerInfo struct {
	ID          string
	DisplayName string
	State       string
	Producers   int
	Consumers   int
}

// Info returns peer metadata for the admin surface.
func (p *Peer) Info() PeerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PeerInfo{
		ID:          p.id,
		DisplayName: p.displayName,
		State:       p.state,
		Producers:   len(p.producers),
		Consumers:   len(p.consumers),
	}
}
