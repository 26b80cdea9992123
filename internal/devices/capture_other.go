//go:build !linux

package devices

import (
	"errors"

	"github.com/atrium/callkit/internal/media"
)

// ErrCaptureUnsupported is returned on platforms without capture drivers.
var ErrCaptureUnsupported = errors.New("devices: capture not supported on this platform")

func CaptureMicrophone(deviceID string) (media.Track, error) {
	return nil, ErrCaptureUnsupported
}

func CaptureCamera(deviceID string, quality VideoQuality) (media.Track, error) {
	return nil, ErrCaptureUnsupported
}

func CaptureScreen() (media.Track, error) {
	return nil, ErrCaptureUnsupported
}
