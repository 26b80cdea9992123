package media

import (
	"regexp"
	"strconv"
	"strings"
)

const defaultSimulcastStreams = 3

var scalabilityModeRe = regexp.MustCompile(`^[LS](\d+)T(\d+)`)

// ParseScalabilityMode extracts spatial and temporal layer counts from a
// mode string such as "L3T3_KEY". Malformed input yields a single layer.
func ParseScalabilityMode(mode string) (spatial, temporal int) {
	m := scalabilityModeRe.FindStringSubmatch(mode)
	if m == nil {
		return 1, 1
	}
	spatial, _ = strconv.Atoi(m[1])
	temporal, _ = strconv.Atoi(m[2])
	return spatial, temporal
}

// firstVideoCodec returns the first video codec of the capability set, which
// decides the layering strategy for outbound video.
func firstVideoCodec(caps RTPCapabilities) (RTPCodecCapability, bool) {
	for _, c := range caps.Codecs {
		if c.Kind == "video" {
			return c, true
		}
	}
	return RTPCodecCapability{}, false
}

func isVP9(c RTPCodecCapability) bool {
	return strings.EqualFold(c.MimeType, "video/vp9")
}

// WebcamEncodings computes the encoding set for a camera producer: a single
// SVC encoding when VP9 leads the codec list, simulcast otherwise.
func WebcamEncodings(caps RTPCapabilities, numStreams int) []RTPEncoding {
	if numStreams <= 0 {
		numStreams = defaultSimulcastStreams
	}

	if c, ok := firstVideoCodec(caps); ok && isVP9(c) {
		return []RTPEncoding{{ScalabilityMode: "L3T3_KEY"}}
	}

	encodings := []RTPEncoding{{ScalabilityMode: "L1T3"}}
	if numStreams > 1 {
		encodings = append([]RTPEncoding{{ScaleResolutionDownBy: 1.25, ScalabilityMode: "L1T3"}}, encodings...)
	}
	if numStreams > 2 {
		encodings = append([]RTPEncoding{{ScaleResolutionDownBy: 2, ScalabilityMode: "L1T3"}}, encodings...)
	}
	return encodings
}

// ShareEncodings computes the encoding set for a screen-share producer.
// Shares carry bitrate caps per stream and DTX since the content is mostly
// static.
func ShareEncodings(caps RTPCapabilities, numStreams int) []RTPEncoding {
	if numStreams <= 0 {
		numStreams = defaultSimulcastStreams
	}

	if c, ok := firstVideoCodec(caps); ok && isVP9(c) {
		return []RTPEncoding{{MaxBitrate: 10_000_000, ScalabilityMode: "L3T3", DTX: true}}
	}

	encodings := []RTPEncoding{{ScaleResolutionDownBy: 1, MaxBitrate: 10_000_000, ScalabilityMode: "L1T3", DTX: true}}
	if numStreams > 1 {
		encodings = append([]RTPEncoding{{ScaleResolutionDownBy: 1.25, MaxBitrate: 2_500_000, ScalabilityMode: "L1T3", DTX: true}}, encodings...)
	}
	if numStreams > 2 {
		encodings = append([]RTPEncoding{{ScaleResolutionDownBy: 2, MaxBitrate: 1_000_000, ScalabilityMode: "L1T3", DTX: true}}, encodings...)
	}
	return encodings
}

// OpusCodecOptions are the audio options requested for microphone producers.
func OpusCodecOptions() map[string]any {
	return map[string]any{
		"opusStereo": true,
		"opusDtx":    true,
		"opusFec":    true,
	}
}

// VideoCodecOptions are the options requested for camera and share producers.
func VideoCodecOptions() map[string]any {
	return map[string]any{
		"videoGoogleStartBitrate": 1000,
	}
}
