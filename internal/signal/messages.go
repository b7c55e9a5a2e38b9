package signal

import (
	"encoding/json"
	"fmt"
)

// Request types recognized by the dispatcher. Anything else is answered
// with a pong so clients can use arbitrary frames as heartbeats.
const (
	TypeCreateRoom       = "createRoom"
	TypeJoinRoom         = "joinRoom"
	TypeCreateTransport  = "createWebRtcTransport"
	TypeConnectTransport = "connectWebRtcTransport"
	TypeProduce          = "produce"
	TypeConsume          = "consume"
	TypePauseProducer    = "pauseProducer"
	TypeResumeProducer   = "resumeProducer"
	TypeSetProducerMuted = "setProducerMuted"
	TypeCloseProducer    = "closeProducer"
	TypeHangup           = "hangup"
)

// envelope is the part of every frame decoded before variant dispatch.
type envelope struct {
	Type  string `json:"type"`
	ReqID string `json:"reqId,omitempty"`
}

// Media kinds and sources accepted on produce.
const (
	KindAudio = "audio"
	KindVideo = "video"

	SourceMic    = "mic"
	SourceWebcam = "webcam"
	SourceScreen = "screen"
)

// Transport directions.
const (
	DirectionSend = "send"
	DirectionRecv = "recv"
)

func validKind(kind string) bool {
	return kind == KindAudio || kind == KindVideo
}

func validSource(source string) bool {
	return source == SourceMic || source == SourceWebcam || source == SourceScreen
}

// defaultSource picks the source implied by the media kind when the client
// omits it.
func defaultSource(kind string) string {
	if kind == KindVideo {
		return SourceWebcam
	}
	return SourceMic
}

type createRoomRequest struct {
	RoomID string `json:"roomId"`
}

type joinRoomRequest struct {
	RoomID      string `json:"roomId"`
	PeerID      string `json:"peerId"`
	DisplayName string `json:"displayName"`
}

type createTransportRequest struct {
	Direction string `json:"direction"`
}

type connectTransportRequest struct {
	TransportID    string          `json:"transportId"`
	DtlsParameters json.RawMessage `json:"dtlsParameters"`
}

type produceRequest struct {
	Kind          string          `json:"kind"`
	RtpParameters json.RawMessage `json:"rtpParameters"`
	Source        string          `json:"source"`
	Paused        bool            `json:"paused"`
}

type consumeRequest struct {
	ProducerID      string          `json:"producerId"`
	RtpCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type producerRequest struct {
	ProducerID string `json:"producerId"`
}

type setProducerMutedRequest struct {
	ProducerID string `json:"producerId"`
	Muted      bool   `json:"muted"`
}

// PeerSnapshot describes another participant in a joinRoom response.
type PeerSnapshot struct {
	ID              string `json:"id"`
	DisplayName     string `json:"displayName"`
	ConnectionState string `json:"connectionState"`
}

// ProducerSnapshot describes an existing producer in a joinRoom response.
type ProducerSnapshot struct {
	ID          string `json:"id"`
	PeerID      string `json:"peerId"`
	Kind        string `json:"kind"`
	Source      string `json:"source"`
	DisplayName string `json:"displayName"`
}

type createRoomResponse struct {
	Type    string `json:"type"`
	ReqID   string `json:"reqId,omitempty"`
	Success bool   `json:"success"`
}

type joinRoomResponse struct {
	Type            string             `json:"type"`
	ReqID           string             `json:"reqId,omitempty"`
	RtpCapabilities json.RawMessage    `json:"rtpCapabilities"`
	Peers           []PeerSnapshot     `json:"peers"`
	Producers       []ProducerSnapshot `json:"producers"`
}

type createTransportResponse struct {
	Type           string          `json:"type"`
	ReqID          string          `json:"reqId,omitempty"`
	ID             string          `json:"id"`
	IceParameters  json.RawMessage `json:"iceParameters"`
	IceCandidates  json.RawMessage `json:"iceCandidates"`
	DtlsParameters json.RawMessage `json:"dtlsParameters"`
	SctpParameters json.RawMessage `json:"sctpParameters,omitempty"`
}

type connectTransportResponse struct {
	Type      string `json:"type"`
	ReqID     string `json:"reqId,omitempty"`
	Connected bool   `json:"connected"`
}

type produceResponse struct {
	Type  string `json:"type"`
	ReqID string `json:"reqId,omitempty"`
	ID    string `json:"id"`
}

type consumeResponse struct {
	Type          string          `json:"type"`
	ReqID         string          `json:"reqId,omitempty"`
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	Kind          string          `json:"kind"`
	RtpParameters json.RawMessage `json:"rtpParameters"`
	PeerID        string          `json:"peerId"`
	DisplayName   string          `json:"displayName"`
	Source        string          `json:"source"`
}

type successResponse struct {
	Type    string `json:"type"`
	ReqID   string `json:"reqId,omitempty"`
	Success bool   `json:"success"`
}

type pongResponse struct {
	Type  string `json:"type"`
	ReqID string `json:"reqId,omitempty"`
}

type errorResponse struct {
	ReqID string `json:"reqId,omitempty"`
	Error string `json:"error"`
}

// Notifications are server-initiated frames carrying no reqId.

type peerJoinedNotification struct {
	Type        string `json:"type"`
	PeerID      string `json:"peerId"`
	DisplayName string `json:"displayName"`
}

type peerLeftNotification struct {
	Type        string `json:"type"`
	PeerID      string `json:"peerId"`
	DisplayName string `json:"displayName"`
}

type newProducerNotification struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	PeerID      string `json:"peerId"`
	Kind        string `json:"kind"`
	Source      string `json:"source"`
	DisplayName string `json:"displayName"`
}

type producerClosedNotification struct {
	Type       string `json:"type"`
	PeerID     string `json:"peerId"`
	ProducerID string `json:"producerId"`
}

type producerMutedNotification struct {
	Type       string `json:"type"`
	ProducerID string `json:"producerId"`
	Muted      bool   `json:"muted"`
}

type audioLevelNotification struct {
	Type   string  `json:"type"`
	PeerID string  `json:"peerId"`
	Volume float64 `json:"volume"`
}

func newPeerJoined(peerID, displayName string) peerJoinedNotification {
	return peerJoinedNotification{Type: "peerJoined", PeerID: peerID, DisplayName: displayName}
}

func newPeerLeft(peerID, displayName string) peerLeftNotification {
	return peerLeftNotification{Type: "peerLeft", PeerID: peerID, DisplayName: displayName}
}

func newProducerClosed(peerID, producerID string) producerClosedNotification {
	return producerClosedNotification{Type: "producerClosed", PeerID: peerID, ProducerID: producerID}
}

func newAudioLevel(peerID string, volume float64) audioLevelNotification {
	return audioLevelNotification{Type: "audioLevel", PeerID: peerID, Volume: volume}
}

// decodeRequest unmarshals a request payload, reporting missing or invalid
// JSON as a client error.
func decodeRequest(raw []byte, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid request payload: %w", err)
	}
	return nil
}
