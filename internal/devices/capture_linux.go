//go:build linux

package devices

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/atrium/callkit/internal/media"
)

func newCodecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

// CaptureMicrophone opens the microphone with the given device id, retrying
// without the id when that exact device cannot be opened.
func CaptureMicrophone(deviceID string) (media.Track, error) {
	selector, err := newCodecSelector()
	if err != nil {
		return nil, err
	}

	for _, id := range idAttempts(deviceID) {
		id := id
		constraints := mediadevices.MediaStreamConstraints{Codec: selector}
		constraints.Audio = func(c *mediadevices.MediaTrackConstraints) {
			if id != "" {
				c.DeviceID = prop.StringExact(id)
			}
			c.SampleRate = prop.Int(48000)
			c.ChannelCount = prop.Int(1)
			c.SampleSize = prop.Int(16)
			c.IsFloat = prop.BoolExact(false)
			c.IsBigEndian = prop.BoolExact(false)
			c.IsInterleaved = prop.BoolExact(true)
			c.Latency = prop.Duration(20 * time.Millisecond)
		}
		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warn().Err(err).Str("module", "devices").Str("device", id).Msg("microphone open failed")
			continue
		}
		tracks := stream.GetAudioTracks()
		if len(tracks) == 0 {
			continue
		}
		return wrapTrack(tracks[0], media.KindAudio, "mic"), nil
	}
	return nil, fmt.Errorf("devices: no microphone available")
}

// CaptureCamera opens the camera at the requested quality tier. MJPEG nodes
// are excluded; some cameras emit malformed JPEG frames that poison the VP8
// encoder.
func CaptureCamera(deviceID string, quality VideoQuality) (media.Track, error) {
	selector, err := newCodecSelector()
	if err != nil {
		return nil, err
	}
	width := qualityWidth(quality)

	for _, id := range idAttempts(deviceID) {
		id := id
		constraints := mediadevices.MediaStreamConstraints{Codec: selector}
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			if id != "" {
				c.DeviceID = prop.StringExact(id)
			}
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Ideal: width, Max: 1920}
			c.Height = prop.IntRanged{Max: 1080}
		}
		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warn().Err(err).Str("module", "devices").Str("device", id).Msg("camera open failed")
			continue
		}
		tracks := stream.GetVideoTracks()
		if len(tracks) == 0 {
			continue
		}
		return wrapTrack(tracks[0], media.KindVideo, "webcam"), nil
	}
	return nil, fmt.Errorf("devices: no camera available")
}

// CaptureScreen grabs the primary display.
func CaptureScreen() (media.Track, error) {
	selector, err := newCodecSelector()
	if err != nil {
		return nil, err
	}
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: selector,
		Video: func(c *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, fmt.Errorf("devices: screen capture: %w", err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("devices: screen capture returned no track")
	}
	return wrapTrack(tracks[0], media.KindShare, "share"), nil
}

// idAttempts tries the exact device first, then any device. A stale persisted
// id must not keep the hardware from opening at all.
func idAttempts(deviceID string) []string {
	if deviceID == "" {
		return []string{""}
	}
	return []string{deviceID, ""}
}

type captureTrack struct {
	inner mediadevices.Track
	kind  media.Kind
	label string

	mu      sync.Mutex
	onEnded func()
	stopped bool
}

func wrapTrack(t mediadevices.Track, kind media.Kind, label string) *captureTrack {
	c := &captureTrack{inner: t, kind: kind, label: label}
	t.OnEnded(func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("module", "devices").Str("track", t.ID()).Msg("track ended")
		}
		c.fireEnded()
	})
	return c
}

func (c *captureTrack) ID() string                    { return c.inner.ID() }
func (c *captureTrack) Kind() media.Kind              { return c.kind }
func (c *captureTrack) Label() string                 { return c.label }
func (c *captureTrack) LocalTrack() webrtc.TrackLocal { return c.inner }

func (c *captureTrack) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()
	_ = c.inner.Close()
}

func (c *captureTrack) OnEnded(fn func()) {
	c.mu.Lock()
	c.onEnded = fn
	c.mu.Unlock()
}

func (c *captureTrack) fireEnded() {
	c.mu.Lock()
	fn := c.onEnded
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
