package media

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// LocalTrackProvider is implemented by capture tracks that wrap a pion local
// track (the mediadevices path); the engine attaches it directly.
type LocalTrackProvider interface {
	LocalTrack() webrtc.TrackLocal
}

// RTPSource is the fallback attach path: tracks that expose raw RTP packets
// are pumped onto a static local track.
type RTPSource interface {
	ReadRTP() (*rtp.Packet, error)
}

// PionEngine implements Engine on top of pion/webrtc. One engine per session
// client; each transport owns its own PeerConnection.
type PionEngine struct {
	mu     sync.Mutex
	api    *webrtc.API
	caps   RTPCapabilities
	loaded bool
}

func NewPionEngine() (*PionEngine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	// Generous ICE timeouts so brief relay/NAT hiccups do not kill transports
	// that recovery logic could have saved.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	return &PionEngine{api: api}, nil
}

func (e *PionEngine) Load(caps RTPCapabilities) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(caps.Codecs) == 0 {
		return fmt.Errorf("media: empty router capability set")
	}
	e.caps = caps
	e.loaded = true
	log.Info().Str("module", "media").Int("codecs", len(caps.Codecs)).Msg("capabilities loaded")
	return nil
}

func (e *PionEngine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

func (e *PionEngine) RTPCapabilities() RTPCapabilities {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.caps
}

func (e *PionEngine) CanProduce(kind Kind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return false
	}
	want := string(kind)
	if kind == KindShare {
		want = "video"
	}
	for _, c := range e.caps.Codecs {
		if c.Kind == want {
			return true
		}
	}
	return false
}

func (e *PionEngine) CreateSendTransport(info TransportInfo, cb TransportCallbacks) (Transport, error) {
	return e.createTransport(info, cb, directionSend)
}

func (e *PionEngine) CreateRecvTransport(info TransportInfo, cb TransportCallbacks) (Transport, error) {
	return e.createTransport(info, cb, directionRecv)
}

type direction int

const (
	directionSend direction = iota
	directionRecv
)

func (e *PionEngine) createTransport(info TransportInfo, cb TransportCallbacks, dir direction) (Transport, error) {
	e.mu.Lock()
	loaded := e.loaded
	e.mu.Unlock()
	if !loaded {
		return nil, ErrNotLoaded
	}

	pc, err := e.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	t := &pionTransport{
		id:        info.ID,
		dir:       dir,
		pc:        pc,
		cb:        cb,
		dtls:      info.DTLSParameters,
		ice:       info.ICEParameters,
		consumers: make(map[string]*pionConsumer),
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "media").Str("transport", t.id).Str("state", s.String()).Msg("transport state")
		t.fireState(mapConnectionState(s))
	})

	if dir == directionRecv {
		pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			t.bindRemoteTrack(remote)
		})
	}

	return t, nil
}

func mapConnectionState(s webrtc.PeerConnectionState) ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return ConnectionNew
	case webrtc.PeerConnectionStateConnecting:
		return ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnectionFailed
	default:
		return ConnectionClosed
	}
}

type pionTransport struct {
	id   string
	dir  direction
	pc   *webrtc.PeerConnection
	cb   TransportCallbacks
	dtls json.RawMessage

	mu        sync.Mutex
	closed    bool
	connected bool
	ice       json.RawMessage
	onState   func(ConnectionState)
	producers []*pionProducer
	consumers map[string]*pionConsumer
}

func (t *pionTransport) ID() string { return t.id }

func (t *pionTransport) OnConnectionStateChange(fn func(ConnectionState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *pionTransport) fireState(s ConnectionState) {
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// connectOnce relays our DTLS parameters on first produce/consume, matching
// the lazy connect of the coordination protocol.
func (t *pionTransport) connectOnce() error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.connected = true
	t.mu.Unlock()

	if t.cb.OnConnect == nil {
		return nil
	}
	return t.cb.OnConnect(t.dtls)
}

func (t *pionTransport) Produce(opts ProduceOptions) (Producer, error) {
	if t.dir != directionSend {
		return nil, ErrWrongDirection
	}
	if t.Closed() {
		return nil, ErrTransportClosed
	}
	if opts.Track == nil {
		return nil, fmt.Errorf("media: produce without track")
	}

	if err := t.connectOnce(); err != nil {
		return nil, fmt.Errorf("transport connect: %w", err)
	}

	local, err := t.localTrackFor(opts.Track)
	if err != nil {
		return nil, err
	}
	sender, err := t.pc.AddTrack(local)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}

	rtpParams, codec := encodeRTPParameters(opts)

	id := uuid.NewString()
	if t.cb.OnProduce != nil {
		serverID, err := t.cb.OnProduce(opts.Track.Kind(), rtpParams, opts.AppData)
		if err != nil {
			_ = t.pc.RemoveTrack(sender)
			return nil, err
		}
		id = serverID
	}

	p := &pionProducer{
		id:        id,
		kind:      opts.Track.Kind(),
		track:     opts.Track,
		sender:    sender,
		rtpParams: rtpParams,
		codec:     codec,
	}
	t.mu.Lock()
	t.producers = append(t.producers, p)
	t.mu.Unlock()
	return p, nil
}

// localTrackFor resolves the pion track behind a capture handle. Static RTP
// sources get their own pump goroutine.
func (t *pionTransport) localTrackFor(track Track) (webrtc.TrackLocal, error) {
	if p, ok := track.(LocalTrackProvider); ok {
		return p.LocalTrack(), nil
	}
	src, ok := track.(RTPSource)
	if !ok {
		return nil, fmt.Errorf("media: track %s exposes neither a local track nor RTP", track.ID())
	}

	mime := webrtc.MimeTypeOpus
	if track.Kind() != KindAudio {
		mime = webrtc.MimeTypeVP8
	}
	local, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: mime},
		track.ID(), "callkit",
	)
	if err != nil {
		return nil, err
	}
	go pumpRTP(src, local)
	return local, nil
}

func pumpRTP(src RTPSource, dst *webrtc.TrackLocalStaticRTP) {
	for {
		pkt, err := src.ReadRTP()
		if err != nil {
			return
		}
		if err := dst.WriteRTP(pkt); err != nil {
			return
		}
	}
}

func encodeRTPParameters(opts ProduceOptions) (json.RawMessage, string) {
	codec := "opus"
	if opts.Track.Kind() != KindAudio {
		codec = "VP8"
	}
	params := map[string]any{
		"codecs": []map[string]any{{
			"mimeType": mimeFor(opts.Track.Kind()),
		}},
	}
	if len(opts.Encodings) > 0 {
		params["encodings"] = opts.Encodings
	}
	if len(opts.CodecOptions) > 0 {
		params["codecOptions"] = opts.CodecOptions
	}
	raw, _ := json.Marshal(params)
	return raw, codec
}

func mimeFor(kind Kind) string {
	if kind == KindAudio {
		return webrtc.MimeTypeOpus
	}
	return webrtc.MimeTypeVP8
}

func (t *pionTransport) Consume(opts ConsumeOptions) (Consumer, error) {
	if t.dir != directionRecv {
		return nil, ErrWrongDirection
	}
	if t.Closed() {
		return nil, ErrTransportClosed
	}

	if err := t.connectOnce(); err != nil {
		return nil, fmt.Errorf("transport connect: %w", err)
	}

	c := &pionConsumer{
		id:        opts.ID,
		kind:      opts.Kind,
		rtpParams: opts.RTPParameters,
		track:     &remoteTrack{id: opts.ID, kind: opts.Kind},
	}
	t.mu.Lock()
	t.consumers[opts.ID] = c
	t.mu.Unlock()
	return c, nil
}

// bindRemoteTrack attaches an arriving remote track to the consumer created
// for it; the server uses the consumer id as the track id.
func (t *pionTransport) bindRemoteTrack(remote *webrtc.TrackRemote) {
	t.mu.Lock()
	c, ok := t.consumers[remote.ID()]
	t.mu.Unlock()
	if !ok {
		log.Warn().Str("module", "media").Str("track", remote.ID()).Msg("remote track without consumer")
		return
	}
	c.track.bind(remote)
}

func (t *pionTransport) RestartICE(iceParameters json.RawMessage) error {
	if t.Closed() {
		return ErrTransportClosed
	}
	// The connection is parameter-exchanged rather than SDP-negotiated, so
	// there is no answer leg to complete a local restart offer. The fresh
	// server parameters replace the stale ones; recovery that needs a whole
	// new ICE session goes through transport recreation instead.
	t.mu.Lock()
	t.ice = iceParameters
	t.mu.Unlock()
	log.Debug().Str("module", "media").Str("transport", t.id).Msg("ice parameters refreshed")
	return nil
}

func (t *pionTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *pionTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	producers := t.producers
	t.producers = nil
	consumers := t.consumers
	t.consumers = make(map[string]*pionConsumer)
	t.mu.Unlock()

	for _, p := range producers {
		p.transportClosed()
	}
	for _, c := range consumers {
		c.transportClosed()
	}
	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "media").Str("transport", t.id).Msg("close error")
	}
	t.fireState(ConnectionClosed)
}

type pionProducer struct {
	id        string
	kind      Kind
	sender    *webrtc.RTPSender
	rtpParams json.RawMessage
	codec     string

	mu               sync.Mutex
	track            Track
	paused           bool
	closed           bool
	onTransportClose func()
}

func (p *pionProducer) ID() string                     { return p.id }
func (p *pionProducer) Kind() Kind                     { return p.kind }
func (p *pionProducer) Codec() string                  { return p.codec }
func (p *pionProducer) RTPParameters() json.RawMessage { return p.rtpParams }

func (p *pionProducer) Track() Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track
}

func (p *pionProducer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *pionProducer) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

func (p *pionProducer) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

func (p *pionProducer) ReplaceTrack(track Track) error {
	provider, ok := track.(LocalTrackProvider)
	if !ok {
		return fmt.Errorf("media: replacement track has no local track")
	}
	if err := p.sender.ReplaceTrack(provider.LocalTrack()); err != nil {
		return err
	}
	p.mu.Lock()
	p.track = track
	p.mu.Unlock()
	return nil
}

func (p *pionProducer) SetMaxSpatialLayer(layer int) error {
	// pion exposes no per-encoding disable; the cap is advisory and the
	// server's layer selection does the actual throttling.
	log.Debug().Str("module", "media").Str("producer", p.id).Int("layer", layer).Msg("max spatial layer")
	return nil
}

func (p *pionProducer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	track := p.track
	p.mu.Unlock()
	if track != nil {
		track.Stop()
	}
}

func (p *pionProducer) OnTransportClose(fn func()) {
	p.mu.Lock()
	p.onTransportClose = fn
	p.mu.Unlock()
}

func (p *pionProducer) transportClosed() {
	p.mu.Lock()
	fn := p.onTransportClose
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
	p.Close()
}

type pionConsumer struct {
	id        string
	kind      Kind
	rtpParams json.RawMessage
	track     *remoteTrack

	mu               sync.Mutex
	paused           bool
	closed           bool
	onTransportClose func()
}

func (c *pionConsumer) ID() string                     { return c.id }
func (c *pionConsumer) Kind() Kind                     { return c.kind }
func (c *pionConsumer) Track() Track                   { return c.track }
func (c *pionConsumer) RTPParameters() json.RawMessage { return c.rtpParams }

func (c *pionConsumer) ScalabilityMode() string {
	var params struct {
		Encodings []struct {
			ScalabilityMode string `json:"scalabilityMode"`
		} `json:"encodings"`
	}
	if err := json.Unmarshal(c.rtpParams, &params); err != nil || len(params.Encodings) == 0 {
		return ""
	}
	return params.Encodings[0].ScalabilityMode
}

func (c *pionConsumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *pionConsumer) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

func (c *pionConsumer) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

func (c *pionConsumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.track.Stop()
}

func (c *pionConsumer) OnTransportClose(fn func()) {
	c.mu.Lock()
	c.onTransportClose = fn
	c.mu.Unlock()
}

func (c *pionConsumer) transportClosed() {
	c.mu.Lock()
	fn := c.onTransportClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
	c.Close()
}

// remoteTrack is a consumer's track handle; the pion remote track binds in
// asynchronously when the media actually arrives.
type remoteTrack struct {
	id   string
	kind Kind

	mu      sync.Mutex
	remote  *webrtc.TrackRemote
	onEnded func()
	stopped bool
}

func (r *remoteTrack) ID() string    { return r.id }
func (r *remoteTrack) Kind() Kind    { return r.kind }
func (r *remoteTrack) Label() string { return strings.ToLower(string(r.kind)) + ":" + r.id }

func (r *remoteTrack) bind(remote *webrtc.TrackRemote) {
	r.mu.Lock()
	r.remote = remote
	r.mu.Unlock()
}

func (r *remoteTrack) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	fn := r.onEnded
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (r *remoteTrack) OnEnded(fn func()) {
	r.mu.Lock()
	r.onEnded = fn
	r.mu.Unlock()
}
