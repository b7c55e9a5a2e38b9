// Package fakeworker provides an in-memory mediaworker implementation for
// tests. Resources track their closed state so tests can assert cleanup,
// and worker events can be fired manually.
package fakeworker

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/xid"

	"github.com/confabhq/confab/internal/mediaworker"
)

// Ensure the fakes satisfy the capability interfaces.
var (
	_ mediaworker.Worker             = (*Worker)(nil)
	_ mediaworker.Router             = (*Router)(nil)
	_ mediaworker.Transport          = (*Transport)(nil)
	_ mediaworker.Producer           = (*Producer)(nil)
	_ mediaworker.Consumer           = (*Consumer)(nil)
	_ mediaworker.AudioLevelObserver = (*Observer)(nil)
)

// Worker is an in-memory mediaworker.Worker.
type Worker struct {
	mu      sync.Mutex
	routers []*Router
	closed  bool

	// FailProduce makes the next Produce call fail with this message.
	FailProduce string
	// FailConsume makes the next Consume call fail with this message.
	FailConsume string
}

// New creates a fake worker.
func New() *Worker {
	return &Worker{}
}

func (w *Worker) CreateRouter() (mediaworker.Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, fmt.Errorf("worker closed")
	}
	r := &Router{worker: w, id: xid.New().String()}
	w.routers = append(w.routers, r)
	return r, nil
}

func (w *Worker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

// Routers returns every router ever created, including closed ones.
func (w *Worker) Routers() []*Router {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*Router(nil), w.routers...)
}

// Router is an in-memory mediaworker.Router.
type Router struct {
	mu        sync.Mutex
	worker    *Worker
	id        string
	closed    bool
	producers map[string]*Producer
	observers []*Observer
}

func (r *Router) ID() string { return r.id }

func (r *Router) RtpCapabilities() json.RawMessage {
	return json.RawMessage(`{"codecs":[{"mimeType":"audio/opus","clockRate":48000,"channels":2},{"mimeType":"video/VP8","clockRate":90000}]}`)
}

func (r *Router) CreateWebRtcTransport() (mediaworker.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("router closed")
	}
	return &Transport{router: r, id: xid.New().String()}, nil
}

func (r *Router) CreateAudioLevelObserver() (mediaworker.AudioLevelObserver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("router closed")
	}
	o := &Observer{}
	r.observers = append(r.observers, o)
	return o, nil
}

func (r *Router) CanConsume(producerID string, _ json.RawMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[producerID]
	return ok && !p.IsClosed()
}

func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// IsClosed reports whether Close was called.
func (r *Router) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Observers returns the observers created on this router.
func (r *Router) Observers() []*Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Observer(nil), r.observers...)
}

func (r *Router) registerProducer(p *Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.producers == nil {
		r.producers = make(map[string]*Producer)
	}
	r.producers[p.id] = p
}

// Transport is an in-memory mediaworker.Transport.
type Transport struct {
	mu        sync.Mutex
	router    *Router
	id        string
	connected bool
	closed    bool
	producers []*Producer
	consumers []*Consumer
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) IceParameters() json.RawMessage {
	return json.RawMessage(`{"usernameFragment":"fake","password":"fake","iceLite":true}`)
}

func (t *Transport) IceCandidates() json.RawMessage {
	return json.RawMessage(`[{"foundation":"udpcandidate","ip":"127.0.0.1","port":40000,"protocol":"udp","type":"host"}]`)
}

func (t *Transport) DtlsParameters() json.RawMessage {
	return json.RawMessage(`{"role":"auto","fingerprints":[{"algorithm":"sha-256","value":"00"}]}`)
}

func (t *Transport) SctpParameters() json.RawMessage {
	return json.RawMessage(`null`)
}

func (t *Transport) Connect(_ json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport closed")
	}
	t.connected = true
	return nil
}

// IsConnected reports whether Connect was called.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Produce(opts mediaworker.ProduceOptions) (mediaworker.Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("transport closed")
	}
	if msg := t.router.worker.FailProduce; msg != "" {
		t.router.worker.FailProduce = ""
		return nil, fmt.Errorf("%s", msg)
	}
	p := &Producer{id: xid.New().String(), kind: opts.Kind, appData: opts.AppData}
	t.producers = append(t.producers, p)
	t.router.registerProducer(p)
	return p, nil
}

func (t *Transport) Consume(opts mediaworker.ConsumeOptions) (mediaworker.Consumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("transport closed")
	}
	if msg := t.router.worker.FailConsume; msg != "" {
		t.router.worker.FailConsume = ""
		return nil, fmt.Errorf("%s", msg)
	}

	t.router.mu.Lock()
	upstream, ok := t.router.producers[opts.ProducerID]
	t.router.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("producer %q not found on router", opts.ProducerID)
	}

	c := &Consumer{id: xid.New().String(), producerID: opts.ProducerID, kind: upstream.kind}
	upstream.attachConsumer(c)
	t.consumers = append(t.consumers, c)
	return c, nil
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	producers := append([]*Producer(nil), t.producers...)
	t.mu.Unlock()

	// The worker closes producers whose transport goes away and fires
	// transportclose on each.
	for _, p := range producers {
		p.transportClosed()
	}
}

// IsClosed reports whether Close was called.
func (t *Transport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Producers returns the producers created on this transport.
func (t *Transport) Producers() []*Producer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Producer(nil), t.producers...)
}

// Consumers returns the consumers created on this transport.
func (t *Transport) Consumers() []*Consumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Consumer(nil), t.consumers...)
}

// Producer is an in-memory mediaworker.Producer.
type Producer struct {
	mu               sync.Mutex
	id               string
	kind             string
	appData          map[string]interface{}
	paused           bool
	closed           bool
	onTransportClose []func()
	consumers        []*Consumer
}

func (p *Producer) ID() string   { return p.id }
func (p *Producer) Kind() string { return p.kind }

// AppData returns the application data supplied at produce time.
func (p *Producer) AppData() map[string]interface{} { return p.appData }

func (p *Producer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	return nil
}

func (p *Producer) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	return nil
}

// IsPaused reports the worker-side paused state.
func (p *Producer) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	consumers := append([]*Consumer(nil), p.consumers...)
	p.mu.Unlock()

	for _, c := range consumers {
		c.producerClosed()
	}
}

// IsClosed reports whether the producer was closed.
func (p *Producer) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Producer) OnTransportClose(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTransportClose = append(p.onTransportClose, fn)
}

func (p *Producer) attachConsumer(c *Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers = append(p.consumers, c)
}

func (p *Producer) transportClosed() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	fns := append([]func(){}, p.onTransportClose...)
	consumers := append([]*Consumer(nil), p.consumers...)
	p.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	for _, c := range consumers {
		c.producerClosed()
	}
}

// Consumer is an in-memory mediaworker.Consumer.
type Consumer struct {
	mu              sync.Mutex
	id              string
	producerID      string
	kind            string
	closed          bool
	onProducerClose []func()
}

func (c *Consumer) ID() string         { return c.id }
func (c *Consumer) ProducerID() string { return c.producerID }
func (c *Consumer) Kind() string       { return c.kind }

func (c *Consumer) RtpParameters() json.RawMessage {
	return json.RawMessage(`{"codecs":[],"encodings":[]}`)
}

func (c *Consumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// IsClosed reports whether the consumer was closed.
func (c *Consumer) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Consumer) OnProducerClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onProducerClose = append(c.onProducerClose, fn)
}

func (c *Consumer) producerClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fns := append([]func(){}, c.onProducerClose...)
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Observer is an in-memory mediaworker.AudioLevelObserver.
type Observer struct {
	mu        sync.Mutex
	producers map[string]struct{}
	onVolumes []func([]mediaworker.VolumeReport)
	closed    bool

	// FailAddProducer makes the next AddProducer call fail with this message.
	FailAddProducer string
}

func (o *Observer) AddProducer(producerID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if msg := o.FailAddProducer; msg != "" {
		o.FailAddProducer = ""
		return fmt.Errorf("%s", msg)
	}
	if o.producers == nil {
		o.producers = make(map[string]struct{})
	}
	o.producers[producerID] = struct{}{}
	return nil
}

func (o *Observer) RemoveProducer(producerID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.producers, producerID)
	return nil
}

// HasProducer reports whether the producer is registered.
func (o *Observer) HasProducer(producerID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.producers[producerID]
	return ok
}

func (o *Observer) OnVolumes(fn func([]mediaworker.VolumeReport)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onVolumes = append(o.onVolumes, fn)
}

// EmitVolumes fires the registered volume callbacks, simulating a worker
// observation tick.
func (o *Observer) EmitVolumes(reports []mediaworker.VolumeReport) {
	o.mu.Lock()
	fns := append([]func([]mediaworker.VolumeReport){}, o.onVolumes...)
	o.mu.Unlock()

	for _, fn := range fns {
		fn(reports)
	}
}

func (o *Observer) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
}

// IsClosed reports whether Close was called.
func (o *Observer) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
