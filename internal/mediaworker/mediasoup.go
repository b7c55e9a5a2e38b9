package mediaworker

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jiyeyuran/mediasoup-go"
)

// defaultMediaCodecs is the fixed router codec set: Opus for audio and VP8
// for video. Clients negotiate against these via the router capabilities.
func defaultMediaCodecs() []*mediasoup.RtpCodecCapability {
	return []*mediasoup.RtpCodecCapability{
		{
			Kind:      mediasoup.MediaKind_Audio,
			MimeType:  "audio/opus",
			ClockRate: 48000,
			Channels:  2,
		},
		{
			Kind:      mediasoup.MediaKind_Video,
			MimeType:  "video/VP8",
			ClockRate: 90000,
			Parameters: mediasoup.RtpCodecSpecificParameters{
				XGoogleStartBitrate: 1000,
			},
		},
	}
}

type msWorker struct {
	worker   *mediasoup.Worker
	settings Settings
}

// NewMediasoupWorker spawns the single media worker subprocess shared by
// all routers for the life of the process.
func NewMediasoupWorker(settings Settings) (Worker, error) {
	worker, err := mediasoup.NewWorker(
		func(o *mediasoup.WorkerSettings) {
			o.LogLevel = mediasoup.WorkerLogLevel(settings.LogLevel)
			o.RtcMinPort = uint16(settings.RTCMinPort)
			o.RtcMaxPort = uint16(settings.RTCMaxPort)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("spawn media worker: %w", err)
	}

	worker.On("died", func() {
		slog.Error("media worker died", slog.Int("pid", worker.Pid()))
	})

	return &msWorker{worker: worker, settings: settings}, nil
}

func (w *msWorker) CreateRouter() (Router, error) {
	router, err := w.worker.CreateRouter(mediasoup.RouterOptions{
		MediaCodecs: defaultMediaCodecs(),
	})
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}
	return &msRouter{router: router, settings: w.settings}, nil
}

func (w *msWorker) Close() {
	w.worker.Close()
}

type msRouter struct {
	router   *mediasoup.Router
	settings Settings
}

func (r *msRouter) ID() string {
	return r.router.Id()
}

func (r *msRouter) RtpCapabilities() json.RawMessage {
	raw, err := json.Marshal(r.router.RtpCapabilities())
	if err != nil {
		return nil
	}
	return raw
}

func (r *msRouter) CreateWebRtcTransport() (Transport, error) {
	transport, err := r.router.CreateWebRtcTransport(mediasoup.WebRtcTransportOptions{
		ListenIps: []mediasoup.TransportListenIp{
			{Ip: r.settings.ListenIP, AnnouncedIp: r.settings.AnnouncedIP},
		},
		EnableUdp:                       mediasoup.Bool(true),
		EnableTcp:                       true,
		PreferUdp:                       true,
		InitialAvailableOutgoingBitrate: int(r.settings.InitialOutgoingBitrate),
	})
	if err != nil {
		return nil, fmt.Errorf("create webrtc transport: %w", err)
	}
	return &msTransport{transport: transport}, nil
}

func (r *msRouter) CreateAudioLevelObserver() (AudioLevelObserver, error) {
	observer, err := r.router.CreateAudioLevelObserver(func(o *mediasoup.AudioLevelObserverOptions) {
		o.MaxEntries = 1
		o.Threshold = r.settings.AudioLevelThreshold
		o.Interval = r.settings.AudioLevelInterval
	})
	if err != nil {
		return nil, fmt.Errorf("create audio level observer: %w", err)
	}
	return &msObserver{observer: observer}, nil
}

func (r *msRouter) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	var caps mediasoup.RtpCapabilities
	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil {
		return false
	}
	return r.router.CanConsume(producerID, caps)
}

func (r *msRouter) Close() {
	r.router.Close()
}

type msTransport struct {
	transport *mediasoup.WebRtcTransport
}

func (t *msTransport) ID() string {
	return t.transport.Id()
}

func (t *msTransport) IceParameters() json.RawMessage {
	raw, _ := json.Marshal(t.transport.IceParameters())
	return raw
}

func (t *msTransport) IceCandidates() json.RawMessage {
	raw, _ := json.Marshal(t.transport.IceCandidates())
	return raw
}

func (t *msTransport) DtlsParameters() json.RawMessage {
	raw, _ := json.Marshal(t.transport.DtlsParameters())
	return raw
}

func (t *msTransport) SctpParameters() json.RawMessage {
	raw, _ := json.Marshal(t.transport.SctpParameters())
	return raw
}

func (t *msTransport) Connect(dtlsParameters json.RawMessage) error {
	var dtls mediasoup.DtlsParameters
	if err := json.Unmarshal(dtlsParameters, &dtls); err != nil {
		return fmt.Errorf("parse dtls parameters: %w", err)
	}
	return t.transport.Connect(mediasoup.TransportConnectOptions{
		DtlsParameters: &dtls,
	})
}

func (t *msTransport) Produce(opts ProduceOptions) (Producer, error) {
	var rtp mediasoup.RtpParameters
	if err := json.Unmarshal(opts.RtpParameters, &rtp); err != nil {
		return nil, fmt.Errorf("parse rtp parameters: %w", err)
	}

	appData := mediasoup.H{}
	for k, v := range opts.AppData {
		appData[k] = v
	}

	producer, err := t.transport.Produce(mediasoup.ProducerOptions{
		Kind:          mediasoup.MediaKind(opts.Kind),
		RtpParameters: rtp,
		Paused:        opts.Paused,
		AppData:       appData,
	})
	if err != nil {
		return nil, err
	}
	return &msProducer{producer: producer}, nil
}

func (t *msTransport) Consume(opts ConsumeOptions) (Consumer, error) {
	var caps mediasoup.RtpCapabilities
	if err := json.Unmarshal(opts.RtpCapabilities, &caps); err != nil {
		return nil, fmt.Errorf("parse rtp capabilities: %w", err)
	}

	consumer, err := t.transport.Consume(mediasoup.ConsumerOptions{
		ProducerId:      opts.ProducerID,
		RtpCapabilities: caps,
		Paused:          opts.Paused,
	})
	if err != nil {
		return nil, err
	}
	return &msConsumer{consumer: consumer}, nil
}

func (t *msTransport) Close() {
	t.transport.Close()
}

type msProducer struct {
	producer *mediasoup.Producer
}

func (p *msProducer) ID() string {
	return p.producer.Id()
}

func (p *msProducer) Kind() string {
	return string(p.producer.Kind())
}

func (p *msProducer) Pause() error {
	return p.producer.Pause()
}

func (p *msProducer) Resume() error {
	return p.producer.Resume()
}

func (p *msProducer) Close() {
	p.producer.Close()
}

func (p *msProducer) OnTransportClose(fn func()) {
	p.producer.On("transportclose", func() { fn() })
}

type msConsumer struct {
	consumer *mediasoup.Consumer
}

func (c *msConsumer) ID() string {
	return c.consumer.Id()
}

func (c *msConsumer) ProducerID() string {
	return c.consumer.ProducerId()
}

func (c *msConsumer) Kind() string {
	return string(c.consumer.Kind())
}

func (c *msConsumer) RtpParameters() json.RawMessage {
	raw, _ := json.Marshal(c.consumer.RtpParameters())
	return raw
}

func (c *msConsumer) Close() {
	c.consumer.Close()
}

func (c *msConsumer) OnProducerClose(fn func()) {
	c.consumer.On("producerclose", func() { fn() })
}

type msObserver struct {
	observer *mediasoup.AudioLevelObserver
}

func (o *msObserver) AddProducer(producerID string) error {
	o.observer.AddProducer(producerID)
	return nil
}

func (o *msObserver) RemoveProducer(producerID string) error {
	o.observer.RemoveProducer(producerID)
	return nil
}

func (o *msObserver) OnVolumes(fn func([]VolumeReport)) {
	o.observer.On("volumes", func(volumes []mediasoup.AudioLevelObserverVolume) {
		reports := make([]VolumeReport, 0, len(volumes))
		for _, v := range volumes {
			report := VolumeReport{
				ProducerID: v.Producer.Id(),
				Volume:     float64(v.Volume),
			}
			if appData, ok := v.Producer.AppData().(mediasoup.H); ok {
				if peerID, ok := appData["peerId"].(string); ok {
					report.PeerID = peerID
				}
			}
			reports = append(reports, report)
		}
		fn(reports)
	})
}

func (o *msObserver) Close() {
	o.observer.Close()
}
