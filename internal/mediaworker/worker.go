// Package mediaworker abstracts the external media engine behind narrow
// capability interfaces. The production implementation wraps a mediasoup
// worker subprocess; tests use the in-memory fakeworker.
package mediaworker

import (
	"encoding/json"
)

// Settings holds the process-level media plane configuration.
type Settings struct {
	RTCMinPort             int
	RTCMaxPort             int
	ListenIP               string
	AnnouncedIP            string
	InitialOutgoingBitrate int
	LogLevel               string

	// AudioLevelInterval is the observer reporting cadence in milliseconds.
	AudioLevelInterval int
	// AudioLevelThreshold is the minimum volume in dBFS to report (negative).
	AudioLevelThreshold int
}

// DefaultSettings returns the fixed production defaults.
func DefaultSettings() Settings {
	return Settings{
		RTCMinPort:             40000,
		RTCMaxPort:             49999,
		ListenIP:               "0.0.0.0",
		AnnouncedIP:            "127.0.0.1",
		InitialOutgoingBitrate: 800000,
		LogLevel:               "warn",
		AudioLevelInterval:     800,
		AudioLevelThreshold:    -80,
	}
}

// Worker is a handle to the media engine process.
type Worker interface {
	CreateRouter() (Router, error)
	Close()
}

// Router routes RTP between the transports created on it.
type Router interface {
	ID() string
	RtpCapabilities() json.RawMessage
	CreateWebRtcTransport() (Transport, error)
	CreateAudioLevelObserver() (AudioLevelObserver, error)
	CanConsume(producerID string, rtpCapabilities json.RawMessage) bool
	Close()
}

// Transport is one DTLS/ICE channel between a client and a router.
type Transport interface {
	ID() string
	IceParameters() json.RawMessage
	IceCandidates() json.RawMessage
	DtlsParameters() json.RawMessage
	SctpParameters() json.RawMessage
	Connect(dtlsParameters json.RawMessage) error
	Produce(opts ProduceOptions) (Producer, error)
	Consume(opts ConsumeOptions) (Consumer, error)
	Close()
}

// ProduceOptions carries the client-supplied parameters for a new producer.
// AppData is stamped with the owning peer id so worker events can be routed
// back without peer context of their own.
type ProduceOptions struct {
	Kind          string
	RtpParameters json.RawMessage
	Paused        bool
	AppData       map[string]interface{}
}

// ConsumeOptions carries the parameters for a new consumer.
type ConsumeOptions struct {
	ProducerID      string
	RtpCapabilities json.RawMessage
	Paused          bool
}

// Producer is an uplink media stream terminated at the router.
type Producer interface {
	ID() string
	Kind() string
	Pause() error
	Resume() error
	Close()
	// OnTransportClose registers a callback fired when the worker closes
	// the producer because its transport went away.
	OnTransportClose(fn func())
}

// Consumer is a downlink media stream bound to one upstream producer.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() string
	RtpParameters() json.RawMessage
	Close()
	// OnProducerClose registers a callback fired when the upstream
	// producer is closed on the worker side.
	OnProducerClose(fn func())
}

// VolumeReport is one entry of an audio level observation.
type VolumeReport struct {
	ProducerID string
	// PeerID is resolved from the producer's appData stamp.
	PeerID string
	// Volume is in dBFS, typically -127..0.
	Volume float64
}

// AudioLevelObserver periodically reports the loudest audio producer.
type AudioLevelObserver interface {
	AddProducer(producerID string) error
	RemoveProducer(producerID string) error
	OnVolumes(fn func([]VolumeReport))
	Close()
}
