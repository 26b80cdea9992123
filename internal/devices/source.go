package devices

import (
	"github.com/rs/zerolog/log"

	"github.com/atrium/callkit/internal/media"
)

// Source bundles probing, capture and preference persistence. A nil pref
// store disables persistence but not capture.
type Source struct {
	prefs *PrefStore
}

func NewSource(prefs *PrefStore) *Source {
	return &Source{prefs: prefs}
}

func (s *Source) Microphones() []Device {
	mics, _, _ := Probe()
	return mics
}

func (s *Source) Cameras() []Device {
	_, cameras, _ := Probe()
	return cameras
}

func (s *Source) Outputs() []Device {
	_, _, outputs := Probe()
	return outputs
}

// Microphone opens a capture track, consulting the persisted selection when
// no explicit device is requested and healing a stale one.
func (s *Source) Microphone(deviceID string) (media.Track, error) {
	if deviceID == "" && s.prefs != nil {
		deviceID = s.prefs.AudioDeviceID()
	}
	if d, ok := FindDevice(s.Microphones(), deviceID); ok && d.ID != deviceID {
		log.Info().Str("module", "devices").Str("fallback", d.Label).Msg("stored microphone gone")
		deviceID = d.ID
	}
	track, err := CaptureMicrophone(deviceID)
	if err != nil {
		return nil, err
	}
	if s.prefs != nil && deviceID != "" {
		s.prefs.SetAudioDeviceID(deviceID)
	}
	return track, nil
}

func (s *Source) Camera(deviceID string, quality VideoQuality) (media.Track, error) {
	if deviceID == "" && s.prefs != nil {
		deviceID = s.prefs.VideoDeviceID()
	}
	if d, ok := FindDevice(s.Cameras(), deviceID); ok && d.ID != deviceID {
		log.Info().Str("module", "devices").Str("fallback", d.Label).Msg("stored camera gone")
		deviceID = d.ID
	}
	track, err := CaptureCamera(deviceID, quality)
	if err != nil {
		return nil, err
	}
	if s.prefs != nil && deviceID != "" {
		s.prefs.SetVideoDeviceID(deviceID)
	}
	return track, nil
}

func (s *Source) Screen() (media.Track, error) {
	return CaptureScreen()
}
