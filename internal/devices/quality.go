package devices

// VideoQuality selects the camera capture tier.
type VideoQuality string

const (
	QualityLow    VideoQuality = "low"
	QualityMedium VideoQuality = "medium"
	QualityHigh   VideoQuality = "high"
)

func qualityWidth(q VideoQuality) int {
	switch q {
	case QualityLow:
		return 320
	case QualityHigh:
		return 1280
	default:
		return 640
	}
}
