// Package media abstracts the WebRTC transport layer behind a small contract:
// load negotiated capabilities, create one send and one receive transport,
// produce local tracks and consume remote ones. The session client depends
// only on these interfaces; the pion-backed implementation lives alongside.
package media

import (
	"encoding/json"
	"errors"
)

// Kind of a media stream. Share is video originating from screen capture;
// the server distinguishes it via appData, the client via this kind.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
	KindShare Kind = "share"
)

// ConnectionState mirrors the transport-level ICE/DTLS aggregate state.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

var (
	ErrNotLoaded       = errors.New("media: engine capabilities not loaded")
	ErrWrongDirection  = errors.New("media: operation not valid for this transport direction")
	ErrTransportClosed = errors.New("media: transport closed")
)

// RTPCodecCapability is the subset of a router codec entry the client needs
// for layer selection; the rest of the capability set stays opaque.
type RTPCodecCapability struct {
	Kind       string         `json:"kind"`
	MimeType   string         `json:"mimeType"`
	ClockRate  int            `json:"clockRate"`
	Channels   int            `json:"channels,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// RTPCapabilities is the negotiated capability set exchanged with the router.
type RTPCapabilities struct {
	Codecs           []RTPCodecCapability `json:"codecs"`
	HeaderExtensions json.RawMessage      `json:"headerExtensions,omitempty"`
}

// RTPEncoding describes one simulcast stream or SVC encoding of an outbound
// video track.
type RTPEncoding struct {
	MaxBitrate            int     `json:"maxBitrate,omitempty"`
	ScaleResolutionDownBy float64 `json:"scaleResolutionDownBy,omitempty"`
	ScalabilityMode       string  `json:"scalabilityMode,omitempty"`
	DTX                   bool    `json:"dtx,omitempty"`
}

// TransportInfo is the server-allocated transport description returned by
// createWebRtcTransport. ICE/DTLS blobs stay opaque to the session layer.
type TransportInfo struct {
	ID             string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

// TransportCallbacks inverts the server handshake into the transport:
// OnConnect fires when the transport needs its DTLS parameters relayed
// (connectWebRtcTransport), OnProduce when a local track needs a server-side
// producer (produce) and must return the server-assigned producer id.
type TransportCallbacks struct {
	OnConnect func(dtlsParameters json.RawMessage) error
	OnProduce func(kind Kind, rtpParameters json.RawMessage, appData map[string]any) (string, error)
}

// Track is an underlying local or remote media track handle.
type Track interface {
	ID() string
	Kind() Kind
	Label() string
	// Stop releases the capture or receive resources behind the track.
	Stop()
	// OnEnded registers a handler for unexpected track termination, e.g.
	// OS-level device revocation. At most one handler.
	OnEnded(func())
}

// ProduceOptions configures one outbound producer.
type ProduceOptions struct {
	Track        Track
	Encodings    []RTPEncoding
	CodecOptions map[string]any
	AppData      map[string]any
}

// ConsumeOptions mirrors the server's newConsumer request payload.
type ConsumeOptions struct {
	ID            string
	ProducerID    string
	Kind          Kind
	RTPParameters json.RawMessage
	AppData       map[string]any
}

// Producer is a local outbound media source attached to a send transport.
type Producer interface {
	ID() string
	Kind() Kind
	Paused() bool
	Pause()
	Resume()
	Track() Track
	Codec() string
	RTPParameters() json.RawMessage
	// ReplaceTrack swaps the underlying capture without renegotiation.
	ReplaceTrack(Track) error
	SetMaxSpatialLayer(layer int) error
	Close()
	OnTransportClose(func())
}

// Consumer is a local handle to one remote participant's inbound track.
type Consumer interface {
	ID() string
	Kind() Kind
	Track() Track
	RTPParameters() json.RawMessage
	// ScalabilityMode of the first negotiated encoding, e.g. "L3T3_KEY".
	ScalabilityMode() string
	Paused() bool
	Pause()
	Resume()
	Close()
	OnTransportClose(func())
}

// Transport is one directional WebRTC transport. Produce is valid only on
// send transports, Consume only on receive transports.
type Transport interface {
	ID() string
	Produce(opts ProduceOptions) (Producer, error)
	Consume(opts ConsumeOptions) (Consumer, error)
	// RestartICE applies fresh ICE parameters obtained via the restartIce
	// signaling request; cheaper than recreating the transport.
	RestartICE(iceParameters json.RawMessage) error
	OnConnectionStateChange(func(ConnectionState))
	Closed() bool
	Close()
}

// Engine is the local media capability: one per session client.
type Engine interface {
	// Load applies the router capability set; must precede transport creation.
	Load(routerRTPCapabilities RTPCapabilities) error
	Loaded() bool
	RTPCapabilities() RTPCapabilities
	CanProduce(kind Kind) bool
	CreateSendTransport(info TransportInfo, cb TransportCallbacks) (Transport, error)
	CreateRecvTransport(info TransportInfo, cb TransportCallbacks) (Transport, error)
}
