// Package session orchestrates one live call: it owns the signaling channel
// and the two media transports, translates protocol events into reducer
// actions and exposes imperative operations to the lifecycle manager.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/atrium/callkit/internal/devices"
	"github.com/atrium/callkit/internal/domain"
	"github.com/atrium/callkit/internal/media"
	"github.com/atrium/callkit/internal/signaling"
)

var (
	ErrClosed        = errors.New("session: client closed")
	ErrAudioOnly     = errors.New("session: call is audio only")
	ErrCannotProduce = errors.New("session: media engine cannot produce this kind")
	ErrNoMicProducer = errors.New("session: no microphone producer")
)

// Conn is the slice of the signaling channel the client uses. Tests swap in
// a fake; production uses *signaling.Channel.
type Conn interface {
	Request(ctx context.Context, method string, data any) (json.RawMessage, error)
	Close()
}

// Dialer opens a signaling connection.
type Dialer func(ctx context.Context, rawURL string, cb signaling.Callbacks) (Conn, error)

// DialSignaling is the production Dialer.
func DialSignaling(ctx context.Context, rawURL string, cb signaling.Callbacks) (Conn, error) {
	return signaling.Dial(ctx, rawURL, cb)
}

// Authenticator turns the server's signable secret into the login payload.
type Authenticator interface {
	Login(ctx context.Context, secret string) (any, error)
}

// CaptureSource provides local device enumeration and capture.
type CaptureSource interface {
	Microphones() []devices.Device
	Cameras() []devices.Device
	Microphone(deviceID string) (media.Track, error)
	Camera(deviceID string, quality devices.VideoQuality) (media.Track, error)
	Screen() (media.Track, error)
}

// Options wires one client instance.
type Options struct {
	Call             *domain.Call
	User             *domain.User
	Device           domain.DeviceInfo
	Produce          bool
	Consume          bool
	ConsumerReplicas int
	Muted            bool

	Auth     Authenticator
	Engine   media.Engine
	Source   CaptureSource
	Dialer   Dialer
	Dispatch func(Action)

	// OnModerationMuted lets the lifecycle manager reconcile its muted flag
	// when a moderator silences us.
	OnModerationMuted func()
}

// Client runs one call session. All public methods are safe for concurrent
// use; internal media state is guarded by a single mutex.
type Client struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	closed        bool
	conn          Conn
	sendTransport media.Transport
	recvTransport media.Transport
	mic           media.Producer
	webcam        media.Producer
	share         media.Producer
	consumers     map[string]media.Consumer
	consumerPeers map[string]domain.PeerID
	webcamDevice  devices.Device
	reactionTimer *time.Timer
}

func NewClient(opts Options) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	if opts.Dialer == nil {
		opts.Dialer = DialSignaling
	}
	return &Client{
		opts:          opts,
		ctx:           ctx,
		cancel:        cancel,
		consumers:     make(map[string]media.Consumer),
		consumerPeers: make(map[string]domain.PeerID),
	}
}

func (c *Client) alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// emit dispatches an action unless the client has been replaced or closed;
// every async continuation goes through here.
func (c *Client) emit(a Action) {
	if !c.alive() {
		return
	}
	c.opts.Dispatch(a)
}

// Join opens the signaling channel and runs the join handshake. Any failure
// closes the session and returns the triggering error.
func (c *Client) Join(ctx context.Context) error {
	c.emit(SetRoomState{State: RoomConnecting})

	rawURL, err := signaling.BuildURL(signaling.URLParams{
		ServerURL:        c.opts.Call.CallServerURL,
		RoomID:           c.opts.Call.ID,
		PeerID:           c.opts.User.PeerID(),
		ConsumerReplicas: c.opts.ConsumerReplicas,
		CallKind:         c.opts.Call.Kind,
		CallCreator:      c.opts.Call.Creator,
	})
	if err != nil {
		c.Close()
		return err
	}

	conn, err := c.opts.Dialer(ctx, rawURL, signaling.Callbacks{
		OnRequest:      c.handleServerRequest,
		OnNotification: c.handleNotification,
		OnDisconnected: func(err error) {
			log.Warn().Err(err).Str("module", "session").Msg("signaling lost")
			c.Close()
		},
	})
	if err != nil {
		c.Close()
		return fmt.Errorf("dial signaling: %w", err)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	if err := c.handshake(ctx); err != nil {
		c.Close()
		return err
	}
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	if c.opts.Auth != nil {
		raw, err := c.request(ctx, "getSignableSecret", map[string]any{
			"peerId": c.opts.User.PeerID(),
		})
		if err != nil {
			return fmt.Errorf("get signable secret: %w", err)
		}
		var secret struct {
			Secret string `json:"secret"`
		}
		if err := json.Unmarshal(raw, &secret); err != nil {
			return fmt.Errorf("decode signable secret: %w", err)
		}
		payload, err := c.opts.Auth.Login(ctx, secret.Secret)
		if err != nil {
			return fmt.Errorf("sign secret: %w", err)
		}
		if _, err := c.request(ctx, "login", payload); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}

	raw, err := c.request(ctx, "getRouterRtpCapabilities", nil)
	if err != nil {
		return fmt.Errorf("get router capabilities: %w", err)
	}
	var caps media.RTPCapabilities
	if err := json.Unmarshal(raw, &caps); err != nil {
		return fmt.Errorf("decode router capabilities: %w", err)
	}
	if err := c.opts.Engine.Load(caps); err != nil {
		return fmt.Errorf("load capabilities: %w", err)
	}

	if c.opts.Produce {
		if err := c.createSendTransport(ctx); err != nil {
			return err
		}
	}
	if c.opts.Consume {
		if err := c.createRecvTransport(ctx); err != nil {
			return err
		}
	}

	raw, err = c.request(ctx, "join", map[string]any{
		"displayName":     c.opts.User.DisplayName,
		"device":          c.opts.Device,
		"rtpCapabilities": c.opts.Engine.RTPCapabilities(),
	})
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}
	var joined struct {
		Peers        []signaling.PeerInfo `json:"peers"`
		Broadcasters []domain.PeerID      `json:"broadcasters"`
		HandsRaised  []domain.PeerID      `json:"handsRaised"`
	}
	if err := json.Unmarshal(raw, &joined); err != nil {
		return fmt.Errorf("decode join response: %w", err)
	}

	me := Peer{
		ID:          c.opts.User.PeerID(),
		DisplayName: c.opts.User.DisplayName,
		Device:      c.opts.Device,
		Priority:    1,
	}
	c.emit(InitializeCall{
		Call:        c.opts.Call,
		Me:          me,
		StartTime:   c.opts.Call.StartedAt,
		Muted:       c.opts.Muted,
		AudioOnly:   c.opts.Call.AudioOnly,
		HighQuality: c.opts.Call.HighQuality,
		CallSlots:   c.opts.Call.Slots,
		StageSlots:  c.opts.Call.StageSlots,
	})

	roster := make([]Peer, 0, len(joined.Peers))
	for _, p := range joined.Peers {
		roster = append(roster, Peer{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Device:      p.Device,
			Priority:    1,
		})
	}
	if c.opts.Call.Kind == domain.CallKindBroadcast {
		c.emit(InitializeBroadcast{
			Peers:        roster,
			Broadcasters: joined.Broadcasters,
			RaisedHands:  joined.HandsRaised,
		})
	} else if len(roster) > 0 {
		c.emit(AddPeers{Peers: roster, Seed: true})
	}

	c.emit(SetMediaCapabilities{
		CanSendMic:    c.opts.Engine.CanProduce(media.KindAudio),
		CanSendWebcam: c.opts.Engine.CanProduce(media.KindVideo),
	})
	if c.opts.Source != nil {
		c.emit(SetCanChangeWebcam{Can: len(c.opts.Source.Cameras()) > 1})
	}
	return nil
}

// Close is idempotent: it tears down the channel, both transports and every
// producer/consumer, then resets the snapshot.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	send, recv := c.sendTransport, c.recvTransport
	c.sendTransport, c.recvTransport = nil, nil
	c.mic, c.webcam, c.share = nil, nil, nil
	consumers := c.consumers
	c.consumers = map[string]media.Consumer{}
	c.consumerPeers = map[string]domain.PeerID{}
	if c.reactionTimer != nil {
		c.reactionTimer.Stop()
		c.reactionTimer = nil
	}
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		conn.Close()
	}
	if send != nil {
		send.Close()
	}
	if recv != nil {
		recv.Close()
	}
	for _, cons := range consumers {
		cons.Close()
	}

	// Terminal actions bypass the liveness guard on purpose.
	c.opts.Dispatch(SetRoomState{State: RoomClosed})
	c.opts.Dispatch(ExitCall{})
	log.Info().Str("module", "session").Str("call", string(c.opts.Call.ID)).Msg("session closed")
}

func (c *Client) request(ctx context.Context, method string, data any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrClosed
	}
	return conn.Request(ctx, method, data)
}

// ---- transports ----

func (c *Client) createSendTransport(ctx context.Context) error {
	info, err := c.createTransportInfo(ctx, true, false)
	if err != nil {
		return err
	}
	t, err := c.opts.Engine.CreateSendTransport(info, media.TransportCallbacks{
		OnConnect: func(dtls json.RawMessage) error {
			_, err := c.request(c.ctx, "connectWebRtcTransport", map[string]any{
				"transportId":    info.ID,
				"dtlsParameters": dtls,
			})
			return err
		},
		OnProduce: func(kind media.Kind, rtpParams json.RawMessage, appData map[string]any) (string, error) {
			wireKind := kind
			if wireKind == media.KindShare {
				wireKind = media.KindVideo
			}
			raw, err := c.request(c.ctx, "produce", map[string]any{
				"transportId":   info.ID,
				"kind":          wireKind,
				"rtpParameters": rtpParams,
				"appData":       appData,
			})
			if err != nil {
				return "", err
			}
			var res struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(raw, &res); err != nil {
				return "", err
			}
			return res.ID, nil
		},
	})
	if err != nil {
		return fmt.Errorf("create send transport: %w", err)
	}
	t.OnConnectionStateChange(func(s media.ConnectionState) {
		if s == media.ConnectionFailed || s == media.ConnectionDisconnected {
			go c.recreateSendTransport()
		}
	})

	c.mu.Lock()
	c.sendTransport = t
	c.mu.Unlock()
	return nil
}

func (c *Client) createRecvTransport(ctx context.Context) error {
	info, err := c.createTransportInfo(ctx, false, true)
	if err != nil {
		return err
	}
	t, err := c.opts.Engine.CreateRecvTransport(info, media.TransportCallbacks{
		OnConnect: func(dtls json.RawMessage) error {
			_, err := c.request(c.ctx, "connectWebRtcTransport", map[string]any{
				"transportId":    info.ID,
				"dtlsParameters": dtls,
			})
			return err
		},
	})
	if err != nil {
		return fmt.Errorf("create recv transport: %w", err)
	}
	t.OnConnectionStateChange(func(s media.ConnectionState) {
		// A receive-side hiccup is recovered with an ICE restart; the
		// consumers stay attached.
		if s == media.ConnectionFailed || s == media.ConnectionDisconnected {
			go c.restartRecvICE(info.ID)
		}
	})

	c.mu.Lock()
	c.recvTransport = t
	c.mu.Unlock()
	return nil
}

func (c *Client) createTransportInfo(ctx context.Context, producing, consuming bool) (media.TransportInfo, error) {
	raw, err := c.request(ctx, "createWebRtcTransport", map[string]any{
		"producing": producing,
		"consuming": consuming,
		"forceTcp":  false,
	})
	if err != nil {
		return media.TransportInfo{}, fmt.Errorf("create transport: %w", err)
	}
	var info media.TransportInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return media.TransportInfo{}, fmt.Errorf("decode transport info: %w", err)
	}
	return info, nil
}

// recreateSendTransport replaces a failed send transport. Producers are not
// resurrected; callers re-enable mic/camera explicitly.
func (c *Client) recreateSendTransport() {
	if !c.alive() {
		return
	}
	c.mu.Lock()
	old := c.sendTransport
	c.sendTransport = nil
	mic, webcam, share := c.mic, c.webcam, c.share
	c.mic, c.webcam, c.share = nil, nil, nil
	c.mu.Unlock()

	log.Warn().Str("module", "session").Msg("send transport failed, recreating")
	for _, p := range []media.Producer{mic, webcam, share} {
		if p != nil {
			c.emit(RemoveProducer{ProducerID: p.ID()})
			p.Close()
		}
	}
	if old != nil {
		old.Close()
	}
	if err := c.createSendTransport(c.ctx); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("send transport recreation failed")
	}
}

func (c *Client) restartRecvICE(transportID string) {
	if !c.alive() {
		return
	}
	log.Warn().Str("module", "session").Msg("recv transport failed, restarting ice")
	raw, err := c.request(c.ctx, "restartIce", map[string]any{"transportId": transportID})
	if err != nil {
		log.Error().Err(err).Str("module", "session").Msg("restartIce request failed")
		return
	}
	var res struct {
		ICEParameters json.RawMessage `json:"iceParameters"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("restartIce decode failed")
		return
	}
	c.mu.Lock()
	t := c.recvTransport
	c.mu.Unlock()
	if t == nil {
		return
	}
	if err := t.RestartICE(res.ICEParameters); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("ice restart failed")
	}
}

func (c *Client) ensureSendTransport(ctx context.Context) error {
	c.mu.Lock()
	have := c.sendTransport != nil
	c.mu.Unlock()
	if have {
		return nil
	}
	return c.createSendTransport(ctx)
}

// ---- microphone ----

func (c *Client) IsMicEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mic != nil
}

// EnableMic captures the preferred microphone and produces it. A stale
// device preference falls back to the default device inside the source.
func (c *Client) EnableMic(ctx context.Context) error {
	if !c.alive() {
		return ErrClosed
	}
	c.mu.Lock()
	exists := c.mic != nil
	c.mu.Unlock()
	if exists {
		return nil
	}
	if !c.opts.Engine.CanProduce(media.KindAudio) {
		return ErrCannotProduce
	}
	if err := c.ensureSendTransport(ctx); err != nil {
		return err
	}

	track, err := c.opts.Source.Microphone("")
	if err != nil {
		return fmt.Errorf("capture microphone: %w", err)
	}

	c.mu.Lock()
	t := c.sendTransport
	c.mu.Unlock()
	if t == nil {
		track.Stop()
		return ErrClosed
	}
	producer, err := t.Produce(media.ProduceOptions{
		Track:        track,
		CodecOptions: media.OpusCodecOptions(),
		AppData:      map[string]any{"source": "mic"},
	})
	if err != nil {
		track.Stop()
		return fmt.Errorf("produce mic: %w", err)
	}

	c.mu.Lock()
	c.mic = producer
	c.mu.Unlock()

	c.emit(AddProducer{Producer: Producer{
		ID:          producer.ID(),
		Source:      SourceMic,
		Kind:        media.KindAudio,
		Codec:       producer.Codec(),
		DeviceLabel: track.Label(),
	}})

	producer.OnTransportClose(func() {
		c.clearProducer(SourceMic, producer.ID())
	})
	track.OnEnded(func() {
		// OS-level device revocation: treat as implicit mute + disable.
		log.Warn().Str("module", "session").Msg("microphone track ended")
		c.MuteMic(c.ctx)
		c.DisableMic(c.ctx)
	})
	return nil
}

func (c *Client) DisableMic(ctx context.Context) {
	c.mu.Lock()
	producer := c.mic
	c.mic = nil
	c.mu.Unlock()
	if producer == nil {
		return
	}
	c.emit(RemoveProducer{ProducerID: producer.ID()})
	producer.Close()
	if _, err := c.request(ctx, "closeProducer", map[string]any{"producerId": producer.ID()}); err != nil {
		// Local state must not get stuck on a server hiccup.
		log.Error().Err(err).Str("module", "session").Msg("closeProducer failed")
	}
}

func (c *Client) MuteMic(ctx context.Context) {
	c.mu.Lock()
	producer := c.mic
	c.mu.Unlock()
	if producer == nil {
		return
	}
	producer.Pause()
	c.emit(SetProducerPaused{ProducerID: producer.ID()})
	if _, err := c.request(ctx, "pauseProducer", map[string]any{"producerId": producer.ID()}); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("pauseProducer failed")
	}
}

// UnmuteMic resumes the producer, creating one first if none exists yet.
func (c *Client) UnmuteMic(ctx context.Context) error {
	c.mu.Lock()
	producer := c.mic
	c.mu.Unlock()
	if producer == nil {
		if err := c.EnableMic(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		producer = c.mic
		c.mu.Unlock()
		if producer == nil {
			return ErrNoMicProducer
		}
	}
	producer.Resume()
	c.emit(SetProducerResumed{ProducerID: producer.ID()})
	if _, err := c.request(ctx, "resumeProducer", map[string]any{"producerId": producer.ID()}); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("resumeProducer failed")
	}
	return nil
}

// ChangeMicrophone swaps the capture device under the existing producer.
func (c *Client) ChangeMicrophone(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	producer := c.mic
	c.mu.Unlock()
	if producer == nil {
		return ErrNoMicProducer
	}
	track, err := c.opts.Source.Microphone(deviceID)
	if err != nil {
		return fmt.Errorf("capture microphone: %w", err)
	}
	old := producer.Track()
	if err := producer.ReplaceTrack(track); err != nil {
		track.Stop()
		return fmt.Errorf("replace mic track: %w", err)
	}
	if old != nil {
		old.Stop()
	}
	c.emit(SetProducerDevice{ProducerID: producer.ID(), DeviceLabel: track.Label()})
	return nil
}

// ---- webcam ----

// EnableWebcam captures the camera and produces it with simulcast/SVC
// encodings. Camera and screen-share are mutually exclusive.
func (c *Client) EnableWebcam(ctx context.Context) error {
	if !c.alive() {
		return ErrClosed
	}
	if c.opts.Call.AudioOnly {
		return ErrAudioOnly
	}
	c.mu.Lock()
	exists := c.webcam != nil
	c.mu.Unlock()
	if exists {
		return nil
	}
	if !c.opts.Engine.CanProduce(media.KindVideo) {
		return ErrCannotProduce
	}

	c.DisableShare(ctx)

	c.emit(SetWebcamInProgress{InProgress: true})
	defer c.emit(SetWebcamInProgress{InProgress: false})

	if err := c.ensureSendTransport(ctx); err != nil {
		return err
	}

	quality := devices.QualityMedium
	if c.opts.Call.HighQuality {
		quality = devices.QualityHigh
	}
	c.mu.Lock()
	preferred := c.webcamDevice.ID
	c.mu.Unlock()
	camera, _ := devices.FindDevice(c.opts.Source.Cameras(), preferred)
	track, err := c.opts.Source.Camera(camera.ID, quality)
	if err != nil {
		return fmt.Errorf("capture camera: %w", err)
	}

	c.mu.Lock()
	t := c.sendTransport
	c.mu.Unlock()
	if t == nil {
		track.Stop()
		return ErrClosed
	}
	producer, err := t.Produce(media.ProduceOptions{
		Track:        track,
		Encodings:    media.WebcamEncodings(c.opts.Engine.RTPCapabilities(), defaultNumStreams),
		CodecOptions: media.VideoCodecOptions(),
		AppData:      map[string]any{"source": "webcam"},
	})
	if err != nil {
		track.Stop()
		return fmt.Errorf("produce webcam: %w", err)
	}

	source := SourceFront
	if camera.Facing == devices.FacingEnvironment {
		source = SourceBack
	}

	c.mu.Lock()
	c.webcam = producer
	c.webcamDevice = camera
	c.mu.Unlock()

	c.emit(AddProducer{Producer: Producer{
		ID:          producer.ID(),
		Source:      source,
		Kind:        media.KindVideo,
		Codec:       producer.Codec(),
		DeviceLabel: track.Label(),
	}})
	c.emit(SetCanChangeWebcam{Can: len(c.opts.Source.Cameras()) > 1})

	producer.OnTransportClose(func() {
		c.clearProducer(source, producer.ID())
	})
	track.OnEnded(func() {
		log.Warn().Str("module", "session").Msg("webcam track ended")
		c.DisableWebcam(c.ctx)
	})
	return nil
}

func (c *Client) DisableWebcam(ctx context.Context) {
	c.mu.Lock()
	producer := c.webcam
	c.webcam = nil
	c.mu.Unlock()
	if producer == nil {
		return
	}
	c.emit(RemoveProducer{ProducerID: producer.ID()})
	producer.Close()
	if _, err := c.request(ctx, "closeProducer", map[string]any{"producerId": producer.ID()}); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("closeProducer failed")
	}
}

// ChangeWebcam cycles to the next enumerated camera.
func (c *Client) ChangeWebcam(ctx context.Context) error {
	c.mu.Lock()
	current := c.webcamDevice
	enabled := c.webcam != nil
	c.mu.Unlock()
	if !enabled {
		return c.EnableWebcam(ctx)
	}
	next, ok := devices.NextCamera(c.opts.Source.Cameras(), current.ID)
	if !ok || next.ID == current.ID {
		return nil
	}
	c.DisableWebcam(ctx)
	c.mu.Lock()
	c.webcamDevice = next
	c.mu.Unlock()
	return c.EnableWebcam(ctx)
}

// ---- screen share ----

func (c *Client) EnableShare(ctx context.Context) error {
	if !c.alive() {
		return ErrClosed
	}
	if c.opts.Call.AudioOnly {
		return ErrAudioOnly
	}
	c.mu.Lock()
	exists := c.share != nil
	c.mu.Unlock()
	if exists {
		return nil
	}
	if !c.opts.Engine.CanProduce(media.KindVideo) {
		return ErrCannotProduce
	}

	c.DisableWebcam(ctx)

	c.emit(SetShareInProgress{InProgress: true})
	defer c.emit(SetShareInProgress{InProgress: false})

	if err := c.ensureSendTransport(ctx); err != nil {
		return err
	}

	track, err := c.opts.Source.Screen()
	if err != nil {
		return fmt.Errorf("capture screen: %w", err)
	}

	c.mu.Lock()
	t := c.sendTransport
	c.mu.Unlock()
	if t == nil {
		track.Stop()
		return ErrClosed
	}
	producer, err := t.Produce(media.ProduceOptions{
		Track:        track,
		Encodings:    media.ShareEncodings(c.opts.Engine.RTPCapabilities(), defaultNumStreams),
		CodecOptions: media.VideoCodecOptions(),
		AppData:      map[string]any{"source": "share"},
	})
	if err != nil {
		track.Stop()
		return fmt.Errorf("produce share: %w", err)
	}

	c.mu.Lock()
	c.share = producer
	c.mu.Unlock()

	c.emit(AddProducer{Producer: Producer{
		ID:     producer.ID(),
		Source: SourceShare,
		Kind:   media.KindShare,
		Codec:  producer.Codec(),
	}})

	producer.OnTransportClose(func() {
		c.clearProducer(SourceShare, producer.ID())
	})
	track.OnEnded(func() {
		log.Info().Str("module", "session").Msg("share track ended")
		c.DisableShare(c.ctx)
	})
	return nil
}

func (c *Client) DisableShare(ctx context.Context) {
	c.mu.Lock()
	producer := c.share
	c.share = nil
	c.mu.Unlock()
	if producer == nil {
		return
	}
	c.emit(RemoveProducer{ProducerID: producer.ID()})
	producer.Close()
	if _, err := c.request(ctx, "closeProducer", map[string]any{"producerId": producer.ID()}); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("closeProducer failed")
	}
}

const defaultNumStreams = 3

// SetMaxSendingSpatialLayer caps the outbound video layer on whichever video
// producer is active.
func (c *Client) SetMaxSendingSpatialLayer(layer int) error {
	c.mu.Lock()
	producer := c.webcam
	if producer == nil {
		producer = c.share
	}
	c.mu.Unlock()
	if producer == nil {
		return nil
	}
	return producer.SetMaxSpatialLayer(layer)
}

func (c *Client) clearProducer(source ProducerSource, id string) {
	c.mu.Lock()
	switch source {
	case SourceMic:
		if c.mic != nil && c.mic.ID() == id {
			c.mic = nil
		}
	case SourceShare:
		if c.share != nil && c.share.ID() == id {
			c.share = nil
		}
	default:
		if c.webcam != nil && c.webcam.ID() == id {
			c.webcam = nil
		}
	}
	c.mu.Unlock()
	c.emit(RemoveProducer{ProducerID: id})
}

// ---- consumers ----

func (c *Client) SetConsumerPreferredLayers(ctx context.Context, consumerID string, spatial, temporal int) error {
	if _, err := c.request(ctx, "setConsumerPreferredLayers", map[string]any{
		"consumerId":    consumerID,
		"spatialLayer":  spatial,
		"temporalLayer": temporal,
	}); err != nil {
		return err
	}
	c.emit(SetConsumerPreferredLayers{ConsumerID: consumerID, Spatial: spatial, Temporal: temporal})
	return nil
}

func (c *Client) SetConsumerPriority(ctx context.Context, consumerID string, priority int) error {
	if _, err := c.request(ctx, "setConsumerPriority", map[string]any{
		"consumerId": consumerID,
		"priority":   priority,
	}); err != nil {
		return err
	}
	c.emit(SetConsumerPriority{ConsumerID: consumerID, Priority: priority})
	return nil
}

func (c *Client) PauseConsumer(ctx context.Context, consumerID string) error {
	c.mu.Lock()
	consumer := c.consumers[consumerID]
	c.mu.Unlock()
	if consumer == nil {
		return nil
	}
	consumer.Pause()
	if _, err := c.request(ctx, "pauseConsumer", map[string]any{"consumerId": consumerID}); err != nil {
		return err
	}
	c.emit(SetConsumerPaused{ConsumerID: consumerID, Origin: OriginLocal})
	return nil
}

func (c *Client) ResumeConsumer(ctx context.Context, consumerID string) error {
	c.mu.Lock()
	consumer := c.consumers[consumerID]
	c.mu.Unlock()
	if consumer == nil {
		return nil
	}
	consumer.Resume()
	if _, err := c.request(ctx, "resumeConsumer", map[string]any{"consumerId": consumerID}); err != nil {
		return err
	}
	c.emit(SetConsumerResumed{ConsumerID: consumerID, Origin: OriginLocal})
	return nil
}

// ---- moderation / interaction ----

// SpotlightPeer pins a peer's tile locally. An empty id clears the pin; a
// spotlight the server set stays in place regardless.
func (c *Client) SpotlightPeer(peerID domain.PeerID) {
	c.emit(SetPeerSpotlight{PeerID: peerID, Origin: OriginLocal})
}

func (c *Client) RaiseHand(ctx context.Context) error {
	if _, err := c.request(ctx, "raiseHand", nil); err != nil {
		return err
	}
	c.emit(RaiseHand{PeerID: c.opts.User.PeerID()})
	return nil
}

func (c *Client) LowerHand(ctx context.Context) error {
	if _, err := c.request(ctx, "lowerHand", nil); err != nil {
		return err
	}
	c.emit(LowerHand{PeerID: c.opts.User.PeerID()})
	return nil
}

// PromoteBroadcaster grants a peer producing rights. Authorization failures
// propagate so the caller can react.
func (c *Client) PromoteBroadcaster(ctx context.Context, peerID domain.PeerID) error {
	if _, err := c.request(ctx, "promoteBroadcaster", map[string]any{"peerId": peerID}); err != nil {
		return err
	}
	c.emit(PromoteBroadcaster{PeerID: peerID})
	return nil
}

func (c *Client) DemoteBroadcaster(ctx context.Context, peerID domain.PeerID) error {
	if _, err := c.request(ctx, "demoteBroadcaster", map[string]any{"peerId": peerID}); err != nil {
		return err
	}
	c.emit(DemoteBroadcaster{PeerID: peerID})
	if peerID == c.opts.User.PeerID() {
		c.teardownProducing()
	}
	return nil
}

func (c *Client) SendReaction(ctx context.Context, emoji string) error {
	if _, err := c.request(ctx, "peerReaction", map[string]any{"reaction": emoji}); err != nil {
		return err
	}
	c.emit(AddReaction{PeerID: c.opts.User.PeerID(), Emoji: emoji, At: time.Now()})
	c.scheduleReactionSweep()
	return nil
}

func (c *Client) ModerationMuteMic(ctx context.Context, peerID domain.PeerID) error {
	_, err := c.request(ctx, "moderationMute", map[string]any{"peerId": peerID})
	return err
}

func (c *Client) EndCallForEveryone(ctx context.Context) error {
	_, err := c.request(ctx, "endCallForEveryone", nil)
	return err
}

// teardownProducing disables every local producer and drops the send
// transport; used when the local peer loses broadcasting rights.
func (c *Client) teardownProducing() {
	c.DisableMic(c.ctx)
	c.DisableWebcam(c.ctx)
	c.DisableShare(c.ctx)
	c.mu.Lock()
	t := c.sendTransport
	c.sendTransport = nil
	c.mu.Unlock()
	if t != nil {
		t.Close()
	}
}

func (c *Client) scheduleReactionSweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.reactionTimer != nil {
		c.reactionTimer.Reset(ReactionWindow)
		return
	}
	c.reactionTimer = time.AfterFunc(ReactionWindow, func() {
		c.emit(ClearReactions{})
		c.mu.Lock()
		c.reactionTimer = nil
		c.mu.Unlock()
	})
}

// ---- server-initiated requests ----

// handleServerRequest answers the only server request in the protocol,
// newConsumer. Anything else is rejected.
func (c *Client) handleServerRequest(method string, data json.RawMessage) error {
	if method != "newConsumer" {
		return signaling.Reject(400, fmt.Sprintf("unknown request method %q", method))
	}
	if !c.opts.Consume {
		return signaling.Reject(403, "I do not want to consume")
	}

	var req struct {
		PeerID         domain.PeerID   `json:"peerId"`
		ProducerID     string          `json:"producerId"`
		ID             string          `json:"id"`
		Kind           media.Kind      `json:"kind"`
		RTPParameters  json.RawMessage `json:"rtpParameters"`
		Type           string          `json:"type"`
		AppData        map[string]any  `json:"appData"`
		ProducerPaused bool            `json:"producerPaused"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return signaling.Reject(400, "bad newConsumer payload")
	}

	kind := req.Kind
	if share, _ := req.AppData["source"].(string); share == "share" {
		kind = media.KindShare
	}

	c.mu.Lock()
	t := c.recvTransport
	c.mu.Unlock()
	if t == nil {
		return signaling.Reject(500, "no receive transport")
	}
	consumer, err := t.Consume(media.ConsumeOptions{
		ID:            req.ID,
		ProducerID:    req.ProducerID,
		Kind:          kind,
		RTPParameters: req.RTPParameters,
		AppData:       req.AppData,
	})
	if err != nil {
		return signaling.Reject(500, err.Error())
	}

	c.mu.Lock()
	c.consumers[req.ID] = consumer
	c.consumerPeers[req.ID] = req.PeerID
	c.mu.Unlock()

	consumer.OnTransportClose(func() {
		c.dropConsumer(req.ID)
	})

	spatial, temporal := media.ParseScalabilityMode(consumer.ScalabilityMode())
	codec := ""
	var params struct {
		Codecs []struct {
			MimeType string `json:"mimeType"`
		} `json:"codecs"`
	}
	if json.Unmarshal(req.RTPParameters, &params) == nil && len(params.Codecs) > 0 {
		codec = params.Codecs[0].MimeType
	}

	c.emit(AddConsumer{
		PeerID: req.PeerID,
		Consumer: Consumer{
			ID:                req.ID,
			Kind:              kind,
			RemotelyPaused:    req.ProducerPaused,
			SpatialLayers:     spatial,
			TemporalLayers:    temporal,
			PreferredSpatial:  spatial - 1,
			PreferredTemporal: temporal - 1,
			Priority:          1,
			Codec:             codec,
		},
	})
	return nil
}

func (c *Client) dropConsumer(id string) {
	c.mu.Lock()
	consumer, ok := c.consumers[id]
	peerID := c.consumerPeers[id]
	delete(c.consumers, id)
	delete(c.consumerPeers, id)
	c.mu.Unlock()
	if !ok {
		return
	}
	consumer.Close()
	c.emit(RemoveConsumer{ConsumerID: id, PeerID: peerID})
}

// ---- notifications ----

func (c *Client) handleNotification(n signaling.Notification) {
	switch v := n.(type) {
	case *signaling.ProducerScore:
		c.emit(SetProducerScore{ProducerID: v.ProducerID, Score: v.Score})

	case *signaling.NewPeer:
		c.emit(AddPeers{Peers: []Peer{{
			ID:          v.Peer.ID,
			DisplayName: v.Peer.DisplayName,
			Device:      v.Peer.Device,
			Priority:    1,
		}}})

	case *signaling.PeerClosed:
		c.emit(RemovePeer{PeerID: v.PeerID})

	case *signaling.DownlinkBwe:
		log.Debug().Str("module", "session").RawJSON("bwe", v.Data).Msg("downlink bwe")

	case *signaling.ConsumerClosed:
		c.dropConsumer(v.ConsumerID)

	case *signaling.ConsumerPaused:
		c.mu.Lock()
		consumer := c.consumers[v.ConsumerID]
		c.mu.Unlock()
		if consumer != nil {
			consumer.Pause()
		}
		c.emit(SetConsumerPaused{ConsumerID: v.ConsumerID, Origin: OriginRemote})

	case *signaling.ConsumerResumed:
		c.mu.Lock()
		consumer := c.consumers[v.ConsumerID]
		c.mu.Unlock()
		if consumer != nil {
			consumer.Resume()
		}
		c.emit(SetConsumerResumed{ConsumerID: v.ConsumerID, Origin: OriginRemote})

	case *signaling.ConsumerLayersChanged:
		c.emit(SetConsumerCurrentLayers{ConsumerID: v.ConsumerID, Spatial: v.SpatialLayer, Temporal: v.TemporalLayer})

	case *signaling.ConsumerScore:
		c.emit(SetConsumerScore{ConsumerID: v.ConsumerID, Score: v.Score})

	case *signaling.ActiveSpeaker:
		c.emit(SetPeerVolume{PeerID: v.PeerID, Volume: v.Volume})
		c.emit(SetPeerTalking{PeerID: v.PeerID, Talking: true, At: time.Now()})

	case *signaling.DominantSpeaker:
		c.emit(SetDominantSpeaker{PeerID: v.PeerID})

	case *signaling.HandRaised:
		c.emit(RaiseHand{PeerID: v.PeerID})

	case *signaling.HandLowered:
		c.emit(LowerHand{PeerID: v.PeerID})

	case *signaling.BroadcasterPromoted:
		c.emit(PromoteBroadcaster{PeerID: v.PeerID})
		if v.PeerID == c.opts.User.PeerID() {
			go func() {
				if err := c.ensureSendTransport(c.ctx); err != nil {
					log.Error().Err(err).Str("module", "session").Msg("producing setup after promotion failed")
				}
			}()
		}

	case *signaling.BroadcasterDemoted:
		c.emit(DemoteBroadcaster{PeerID: v.PeerID})
		if v.PeerID == c.opts.User.PeerID() {
			c.teardownProducing()
		}

	case *signaling.CallEnded:
		log.Info().Str("module", "session").Msg("call ended by server")
		c.Close()

	case *signaling.ModerationMuted:
		log.Info().Str("module", "session").Msg("muted by moderator")
		c.MuteMic(c.ctx)
		if c.opts.OnModerationMuted != nil {
			c.opts.OnModerationMuted()
		}

	case *signaling.ReactionReceived:
		c.emit(AddReaction{PeerID: v.PeerID, Emoji: v.Reaction, At: time.Now()})
		c.scheduleReactionSweep()

	case *signaling.CallUpdated:
		c.emit(UpdateCallConfig{
			AudioOnly:   v.AudioOnly,
			HighQuality: v.HighQuality,
			CallSlots:   v.Slots,
			StageSlots:  v.StageSlots,
		})
	}
}
