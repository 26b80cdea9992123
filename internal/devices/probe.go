package devices

import (
	"strings"

	"github.com/pion/mediadevices"
	"github.com/rs/zerolog/log"
)

// Facing classifies a camera by its physical orientation where the label
// reveals it. Desktop cameras are always FacingUser.
type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

type DeviceKind string

const (
	KindAudioInput  DeviceKind = "audioinput"
	KindAudioOutput DeviceKind = "audiooutput"
	KindVideoInput  DeviceKind = "videoinput"
)

type Device struct {
	ID     string
	Label  string
	Kind   DeviceKind
	Facing Facing
}

// Probe enumerates capture and playback hardware. Entries without a device
// id are permission placeholders and are dropped.
func Probe() (mics, cameras, outputs []Device) {
	for _, d := range mediadevices.EnumerateDevices() {
		if d.DeviceID == "" {
			continue
		}
		switch d.Kind {
		case mediadevices.AudioInput:
			mics = append(mics, Device{ID: d.DeviceID, Label: d.Label, Kind: KindAudioInput})
		case mediadevices.AudioOutput:
			outputs = append(outputs, Device{ID: d.DeviceID, Label: d.Label, Kind: KindAudioOutput})
		case mediadevices.VideoInput:
			cameras = append(cameras, Device{
				ID:     d.DeviceID,
				Label:  d.Label,
				Kind:   KindVideoInput,
				Facing: classifyFacing(d.Label),
			})
		}
	}
	log.Debug().Str("module", "devices").Int("mics", len(mics)).Int("cameras", len(cameras)).Int("outputs", len(outputs)).Msg("probe")
	return mics, cameras, outputs
}

func classifyFacing(label string) Facing {
	l := strings.ToLower(label)
	if strings.Contains(l, "back") || strings.Contains(l, "rear") || strings.Contains(l, "environment") {
		return FacingEnvironment
	}
	return FacingUser
}

// FindDevice resolves a preferred id against the probed list, falling back to
// the first device when the preference is empty or no longer present.
func FindDevice(list []Device, preferredID string) (Device, bool) {
	if len(list) == 0 {
		return Device{}, false
	}
	if preferredID != "" {
		for _, d := range list {
			if d.ID == preferredID {
				return d, true
			}
		}
	}
	return list[0], true
}

// NextCamera returns the camera after current in enumeration order, wrapping
// around. Used by the webcam cycling operation.
func NextCamera(cameras []Device, currentID string) (Device, bool) {
	if len(cameras) == 0 {
		return Device{}, false
	}
	for i, d := range cameras {
		if d.ID == currentID {
			return cameras[(i+1)%len(cameras)], true
		}
	}
	return cameras[0], true
}
