package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pitabwire/frame/workerpool"

	"github.com/confabhq/confab/internal/mediaworker"
	"github.com/confabhq/confab/pkg/events"
)

// Dispatcher drives the signaling protocol: one serial request loop per
// connection, typed per-variant handling, and notification fan-out through
// rooms. Requests on one connection are handled strictly in arrival order;
// connections proceed in parallel.
type Dispatcher struct {
	worker   mediaworker.Worker
	registry *Registry
	pool     workerpool.WorkerPool
	events   *events.Publisher
}

// NewDispatcher creates a dispatcher. The pool and publisher may be nil.
func NewDispatcher(worker mediaworker.Worker, registry *Registry, pool workerpool.WorkerPool, pub *events.Publisher) *Dispatcher {
	return &Dispatcher{
		worker:   worker,
		registry: registry,
		pool:     pool,
		events:   pub,
	}
}

// Registry exposes the session registry, for the admin surface.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Serve consumes the connection's frames until it closes, then tears down
// the bound peer if any. The response for each request is written before
// the next frame is read, and before any notification caused by the
// request goes out.
func (d *Dispatcher) Serve(ctx context.Context, conn Conn) {
	defer func() {
		if p, _, ok := d.registry.PeerByConn(conn); ok {
			d.CleanupPeer(ctx, p)
		}
	}()

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		resp, post := d.dispatch(ctx, conn, raw)
		if resp != nil {
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
		if post != nil {
			post()
		}
	}
}

// dispatch routes one frame to its typed handler. Malformed JSON produces
// an error frame and the connection continues; a handler panic is
// recovered into an error response so one connection cannot take down the
// process.
func (d *Dispatcher) dispatch(ctx context.Context, conn Conn, raw []byte) (resp interface{}, post func()) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errorResponse{Error: "invalid JSON"}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panic",
				slog.String("type", env.Type), slog.Any("panic", r))
			resp, post = errorResponse{ReqID: env.ReqID, Error: "internal error"}, nil
		}
	}()

	switch env.Type {
	case TypeCreateRoom:
		return d.handleCreateRoom(ctx, env, raw)
	case TypeJoinRoom:
		return d.handleJoinRoom(ctx, conn, env, raw)
	case TypeCreateTransport:
		return d.handleCreateTransport(conn, env, raw)
	case TypeConnectTransport:
		return d.handleConnectTransport(conn, env, raw)
	case TypeProduce:
		return d.handleProduce(ctx, conn, env, raw)
	case TypeConsume:
		return d.handleConsume(conn, env, raw)
	case TypePauseProducer:
		return d.handlePauseProducer(conn, env, raw, true)
	case TypeResumeProducer:
		return d.handlePauseProducer(conn, env, raw, false)
	case TypeSetProducerMuted:
		return d.handleSetProducerMuted(conn, env, raw)
	case TypeCloseProducer:
		return d.handleCloseProducer(ctx, conn, env, raw)
	case TypeHangup:
		return d.handleHangup(ctx, conn, env)
	default:
		// Unknown types double as heartbeats.
		return pongResponse{Type: "pong", ReqID: env.ReqID}, nil
	}
}

func (d *Dispatcher) handleCreateRoom(ctx context.Context, env envelope, raw []byte) (interface{}, func()) {
	var req createRoomRequest
	if err := decodeRequest(raw, &req); err != nil {
		return errorResponse{ReqID: env.ReqID, Error: err.Error()}, nil
	}
	if req.RoomID == "" {
		return errorResponse{ReqID: env.ReqID, Error: "roomId is required"}, nil
	}

	room, created, err := d.registry.EnsureRoom(req.RoomID, d.newRoom)
	if err != nil {
		return errorResponse{ReqID: env.ReqID, Error: err.Error()}, nil
	}

	resp := createRoomResponse{Type: "createRoomResponse", ReqID: env.ReqID, Success: true}
	if !created {
		return resp, nil
	}
	return resp, func() {
		d.emit(ctx, events.RoomCreated, room.ID(), events.RoomData{RouterID: room.Router().ID()})
	}
}

func (d *Dispatcher) handleJoinRoom(ctx context.Context, conn Conn, env envelope, raw []byte) (interface{}, func()) {
	var req joinRoomRequest
	if err := decodeRequest(raw, &req); err != nil {
		return errorResponse{ReqID: env.ReqID, Error: err.Error()}, nil
	}
	if req.RoomID == "" || req.PeerID == "" {
		return errorResponse{ReqID: env.ReqID, Error: "roomId and peerId are required"}, nil
	}
	if _, _, bound := d.registry.PeerByConn(conn); bound {
		return errorResponse{ReqID: env.ReqID, Error: "connection already joined a room"}, nil
	}

	room, created, err := d.registry.EnsureRoom(req.RoomID, d.newRoom)
	if err != nil {
		return errorResponse{ReqID: env.ReqID, Error: err.Error()}, nil
	}

	p := NewPeer(req.PeerID, req.DisplayName, room.ID(), conn)
	p.setState(StateConnecting)

	peers, producers, err := d.registry.AttachPeer(room, p)
	if err != nil {
		return errorResponse{ReqID: env.ReqID, Error: err.Error()}, nil
	}

	resp := joinRoomResponse{
		Type:            "joinRoomResponse",
		ReqID:           env.ReqID,
		RtpCapabilities: room.RtpCapabilities(),
		Peers:           peers,
		Producers:       producers,
	}
	return resp, func() {
		p.setState(StateConnected)
		room.Broadcast(newPeerJoined(p.ID(), p.DisplayName()), p.ID())
		if created {
			d.emit(ctx, events.RoomCreated, room.ID(), events.RoomData{RouterID: room.Router().ID()})
		}
		d.emit(ctx, events.PeerJoined, room.ID(), events.PeerData{PeerID: p.ID(), DisplayName: p.DisplayName()})
	}
}

// newRoom materializes a room on the shared media worker.
func (d *Dispatcher) newRoom(id string) (*Room, error) {
	return NewRoom(id, d.worker, d.pool)
}

func (d *Dispatcher) handleCreateTransport(conn Conn, env envelope, raw []byte) (interface{}, func()) {
	var req createTransportRequest
	if err := decodeRequest(raw, &req); err != nil {
		return errorResponse{ReqID: env.ReqID, Error: err.Error()}, nil
	}
	if req.Direction != DirectionSend && req.Direction != DirectionRecv {
		return errorResponse{ReqID: env.ReqID, Error: fmt.Sprintf("invalid direction %q", req.Direction)}, nil
	}

	p, room, ok := d.registry.PeerByConn(conn)
	if !ok {
		return errorResponse{ReqID: env.ReqID, Error: "Peer not found"}, nil
	}

	transport, err := room.Router().CreateWebRtcTransport()
	if err != nil {
		return errorResponse{ReqID: env.ReqID, Error: err.Error()}, nil
	}
	if err := p.setTransport(req.Direction, transport); err != nil {
		transport.Close()
		return errorResponse{ReqID: env.ReqID, Error: err.Error()}, nil
	}

	return createTransportResponse{
		Type:           "createWebRtcTransportResponse",
		ReqID:          env.ReqID,
		ID:             transport.ID(),
		IceParameters:  transport.IceParameters(),
		IceCandidates:  transport.IceCandidates(),
		DtlsParameters: transport.DtlsParameters(),
		SctpParameters: transport.SctpParameters(),
	}, nil
}

func (d *Dispatcher) handleConnectTransport(conn Conn, env envelope, raw []byte) (interface{}, func()) {
	var req connectTransportRequest
	if err := decodeRequest(raw, &req); err != nil {
		return errorResponse{ReqID: env.ReqID, Error: err.Error()}, nil
	}

	p, _, ok := d.registry.PeerByConn(conn)
	if !ok {
		return errorResponse{ReqID: env.ReqID, Error: "Peer not found"}, nil
	}
	transport, ok := p.transportByID(req.TransportID)
	if !ok {
		return errorResponse{ReqID: env.ReqID, Error: "Transport not found"}, nil
	}
	if err := transport.Connect(req.DtlsParameters); err != nil {
		return errorResponse{ReqID: env.ReqID, Error: err.Error()}, nil
	}

	return connectTransportResponse{
		Type:      "connectWebRtcTransportResponse",
		ReqID:     env.ReqID,
		Connected: true,
	}, nil
}

func (d *Dispatcher) handleProduce(ctx context.Context, conn Conn, env envelope, raw []byte) (interface{}, func()) {
	var req produceRequest
	if err := decodeRequest(raw, &req); err != nil {
		return errorResponse{ReqID: env.ReqID, Error: err.Error()}, nil
	}
	if !validKind(req.Kind) {
		return errorResponse{ReqID: env.ReqID, Error: fmt.Sprintf("invalid kind %q", req.Kind)}, nil
	}
	source := req.Source
	if source == "" {
		source = defaultSource(req.Kind)
	}
	if !validSource(source) {
		return errorResponse{ReqID: env.ReqID, Error: fmt.Sprintf("invalid source %q", source)}, nil
	}

	p, room, ok := d.registry.PeerByConn(conn)
	if !ok {
		return errorResponse{ReqID: env.ReqID, Error: "Peer not found"}, nil
	}
	transport := p.send()
	if transport == nil {
		return errorResponse{ReqID: env.ReqID, Error: "send transport not found"}, nil
	}

	producer, err := transport.Produce(mediaworker.ProduceOptions{
		Kind:          req.Kind,
		RtpParameters: req.RtpParameters,
		Paused:        req.Paused,
		// The worker's volume events carry no peer context, so every
		// producer is stamped with its owner at creation.
		AppData: map[string]interface{}{"peerId": p.ID(), "source": source},
	})
	if err != nil {
		return errorResponse{ReqID: env.ReqID, Error: err.Error()}, nil
	}

	if req.Kind == KindAudio {
		if err := room.Observer().AddProducer(producer.ID()); err != nil {
			// Roll back the half-created producer before responding.
			producer.Close()
			return errorResponse{ReqID: env.ReqID, Error: err.Error()}, nil
		}
	}

	rec := &producerRecord{
		id:     producer.ID(),
		kind:   req.Kind,
		source: source,
		paused: req.Paused,
		handle: producer,
	}

	recipients := room.registerProducer(p, rec)

	// Registered after the record is stored: a transportclose arriving
	// from the worker then finds the record and evicts it, instead of
	// no-opping against a not-yet-registered producer.
	roomID, peerID, producerID := room.ID(), p.ID(), producer.ID()
	producer.OnTransportClose(func() {
		d.onProducerTransportClose(roomID, peerID, producerID)
	})

	resp := produceResponse{Type: "produceResponse", ReqID: env.ReqID, ID: producer.ID()}
	return resp, func() {
		note := newProducerNotification{
			Type:        "newProducer",
			ID:          producer.ID(),
			PeerID:      p.ID(),
			Kind:        req.Kind,
			Source:      source,
			DisplayName: p.DisplayName(),
		}
		for _, member := range recipients {
			if err := member.Send(note); err != nil {
				slog.Debug("newProducer dropped", slog.String("peer", member.ID()))
			}
		}
		d.emit(ctx, events.ProducerCreated, room.ID(), events.ProducerData{
			PeerID: p.ID(), ProducerID: producer.ID(), Kind: req.Kind, Source: source,
		})
	}
}

func (d *Dispatcher) handleConsume(conn Conn, env envelope, raw []byte) (interface{}, func()) {
	var req consumeRequest
	if err := decodeRequest(raw, &req); err != nil {
		return errorResponse{ReqID: env.ReqID, Error: err.Error()}, nil
	}

	p, room, ok := d.registry.PeerByConn(conn)
	if !ok {
		return errorResponse{ReqID: env.ReqID, Error: "Peer not found"}, nil
	}
	transport := p.recv()
	if transport == nil {
		return errorResponse{ReqID: env.ReqID, Error: "recv transport not found"}, nil
	}

	owner, rec, ok := room.findProducer(req.ProducerID)
	if !ok {
		return errorResponse{ReqID: env.ReqID, Error: "Producer not found"}, nil
	}
	if owner.ID() == p.ID() {
		return errorResponse{ReqID: env.ReqID, Error: "cannot consume own producer"}, nil
	}
	// Consumer records are keyed by upstream producer; a second consume
	// would silently displace the first handle and leak it.
	if p.consumesProducer(req.ProducerID) {
		return errorResponse{ReqID: env.ReqID, Error: "already consuming producer"}, nil
	}
	if !room.Router().CanConsume(req.ProducerID, req.RtpCapabilities) {
		return errorResponse{ReqID: env.ReqID, Error: "cannot consume producer with given capabilities"}, nil
	}

	consumer, err := transport.Consume(mediaworker.ConsumeOptions{
		ProducerID:      req.ProducerID,
		RtpCapabilities: req.RtpCapabilities,
	})
	if err != nil {
		return errorResponse{ReqID: env.ReqID, Error: err.Error()}, nil
	}

	p.addConsumer(&consumerRecord{
		id:         consumer.ID(),
		peerID:     owner.ID(),
		producerID: req.ProducerID,
		handle:     consumer,
	})

	peerID, producerID := p.ID(), req.ProducerID
	consumer.OnProducerClose(func() {
		d.onConsumerProducerClose(peerID, producerID)
	})

	return consumeResponse{
		Type:          "consumeResponse",
		ReqID:         env.ReqID,
		ID:            consumer.ID(),
		ProducerID:    req.ProducerID,
		Kind:          consumer.Kind(),
		RtpParameters: consumer.RtpParameters(),
		PeerID:        owner.ID(),
		DisplayName:   owner.DisplayName(),
		Source:        rec.source,
	}, nil
}

func (d *Dispatcher) handlePauseProducer(conn Conn, env envelope, raw []byte, pause bool) (interface{}, func()) {
	var req producerRequest
	if err := decodeRequest(raw, &req); err != nil {
		return errorResponse{ReqID: env.ReqID, Error: err.Error()}, nil
	}

	p, _, ok := d.registry.PeerByConn(conn)
	if !ok {
		return errorResponse{ReqID: env.ReqID, Error: "Peer not found"}, nil
	}
	rec, ok := p.producer(req.ProducerID)
	if !ok {
		return errorResponse{ReqID: env.ReqID, Error: "Producer not found"}, nil
	}

	var err error
	if pause {
		err = rec.handle.Pause()
	} else {
		err = rec.handle.Resume()
	}
	if err != nil {
		return errorResponse{ReqID: env.ReqID, Error: err.Error()}, nil
	}
	p.setProducerPaused(req.ProducerID, pause)

	respType := "pauseProducerResponse"
	if !pause {
		respType = "resumeProducerResponse"
	}
	return successResponse{Type: respType, ReqID: env.ReqID, Success: true}, nil
}

func (d *Dispatcher) handleSetProducerMuted(conn Conn, env envelope, raw []byte) (interface{}, func()) {
	var req setProducerMutedRequest
	if err := decodeRequest(raw, &req); err != nil {
		return errorResponse{ReqID: env.ReqID, Error: err.Error()}, nil
	}

	p, room, ok := d.registry.PeerByConn(conn)
	if !ok {
		return errorResponse{ReqID: env.ReqID, Error: "Peer not found"}, nil
	}
	if !p.setProducerMuted(req.ProducerID, req.Muted) {
		return errorResponse{ReqID: env.ReqID, Error: "Producer not found"}, nil
	}

	resp := successResponse{Type: "setProducerMutedResponse", ReqID: env.ReqID, Success: true}
	return resp, func() {
		room.Broadcast(producerMutedNotification{
			Type:       "producerMuted",
			ProducerID: req.ProducerID,
			Muted:      req.Muted,
		}, p.ID())
	}
}

func (d *Dispatcher) handleCloseProducer(ctx context.Context, conn Conn, env envelope, raw []byte) (interface{}, func()) {
	var req producerRequest
	if err := decodeRequest(raw, &req); err != nil {
		return errorResponse{ReqID: env.ReqID, Error: err.Error()}, nil
	}

	p, room, ok := d.registry.PeerByConn(conn)
	if !ok {
		return errorResponse{ReqID: env.ReqID, Error: "Peer not found"}, nil
	}
	rec, ok := p.removeProducer(req.ProducerID)
	if !ok {
		return errorResponse{ReqID: env.ReqID, Error: "Producer not found"}, nil
	}

	rec.handle.Close()
	if rec.kind == KindAudio {
		if err := room.Observer().RemoveProducer(rec.id); err != nil {
			slog.Debug("remove producer from observer", slog.String("producer", rec.id))
		}
	}

	resp := successResponse{Type: "closeProducerResponse", ReqID: env.ReqID, Success: true}
	return resp, func() {
		room.Broadcast(newProducerClosed(p.ID(), rec.id), p.ID())
		d.emit(ctx, events.ProducerClosed, room.ID(), events.ProducerData{
			PeerID: p.ID(), ProducerID: rec.id,
		})
	}
}

func (d *Dispatcher) handleHangup(ctx context.Context, conn Conn, env envelope) (interface{}, func()) {
	p, _, ok := d.registry.PeerByConn(conn)
	if !ok {
		return errorResponse{ReqID: env.ReqID, Error: "Peer not found"}, nil
	}

	resp := successResponse{Type: "hangupResponse", ReqID: env.ReqID, Success: true}
	return resp, func() {
		d.CleanupPeer(ctx, p)
	}
}

// CleanupPeer tears a peer down: producers first (with producerClosed
// broadcasts), then consumers, then transports, then registry and room
// membership, then the peerLeft broadcast, and finally the room's own
// resources when it emptied. Concurrent calls collapse to one execution.
func (d *Dispatcher) CleanupPeer(ctx context.Context, p *Peer) {
	p.cleanupOnce.Do(func() {
		p.setState(StateDisconnected)

		room, _ := d.registry.Room(p.RoomID())

		for _, rec := range p.drainProducers() {
			rec.handle.Close()
			if room != nil {
				if rec.kind == KindAudio {
					_ = room.Observer().RemoveProducer(rec.id)
				}
				room.Broadcast(newProducerClosed(p.ID(), rec.id), p.ID())
			}
		}

		// No broadcast for consumers: the upstream producer's own
		// lifecycle already notified the other side.
		for _, rec := range p.drainConsumers() {
			rec.handle.Close()
		}

		for _, transport := range p.takeTransports() {
			transport.Close()
		}

		room, empty := d.registry.DetachPeer(p)
		if room != nil {
			room.Broadcast(newPeerLeft(p.ID(), p.DisplayName()), p.ID())
			d.emit(ctx, events.PeerLeft, room.ID(), events.PeerData{
				PeerID: p.ID(), DisplayName: p.DisplayName(),
			})
			if empty {
				room.close()
				d.emit(ctx, events.RoomClosed, room.ID(), events.RoomData{})
			}
		}
	})
}

// onProducerTransportClose handles the worker telling us a producer died
// with its transport. Ids are re-resolved so a raced teardown is a no-op.
func (d *Dispatcher) onProducerTransportClose(roomID, peerID, producerID string) {
	p, room, ok := d.registry.Peer(peerID)
	if !ok || room.ID() != roomID {
		return
	}
	rec, ok := p.removeProducer(producerID)
	if !ok {
		return
	}
	rec.handle.Close()
	if rec.kind == KindAudio {
		_ = room.Observer().RemoveProducer(rec.id)
	}
	room.Broadcast(newProducerClosed(peerID, producerID), peerID)
}

// onConsumerProducerClose evicts a consumer whose upstream producer closed
// on the worker side.
func (d *Dispatcher) onConsumerProducerClose(peerID, producerID string) {
	p, _, ok := d.registry.Peer(peerID)
	if !ok {
		return
	}
	rec, ok := p.removeConsumerByProducer(producerID)
	if !ok {
		return
	}
	rec.handle.Close()
}

func (d *Dispatcher) emit(ctx context.Context, eventType events.EventType, roomID string, data interface{}) {
	if d.events == nil {
		return
	}
	if err := d.events.Emit(ctx, eventType, roomID, data); err != nil {
		slog.Warn("emit event",
			slog.String("event_type", string(eventType)), slog.String("room", roomID))
	}
}
