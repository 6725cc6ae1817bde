package engagement

import "math"

// Default thresholds used by [Derive].
const (
	DefaultLookAwayThreshold = 0.18
	DefaultEyeAspectRatio    = 0.18
	DefaultSmileThreshold    = 0.45
)

// Thresholds convert raw detector ratios into the boolean flags of a
// [Measurement].
type Thresholds struct {
	// LookAway is the normalised face-centre offset above which the user is
	// considered to be looking away.
	LookAway float64 `json:"look_away_threshold" yaml:"look_away_threshold"`

	// EyeAspectRatio is the ratio below which the eyes count as closed.
	EyeAspectRatio float64 `json:"eye_aspect_ratio_threshold" yaml:"eye_aspect_ratio_threshold"`

	// Smile is the mouth-width ratio above which the user is smiling.
	Smile float64 `json:"smile_threshold" yaml:"smile_threshold"`
}

// DefaultThresholds returns the thresholds used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LookAway:       DefaultLookAwayThreshold,
		EyeAspectRatio: DefaultEyeAspectRatio,
		Smile:          DefaultSmileThreshold,
	}
}

// RawSignals are the numeric outputs of an external face detector for one
// frame.
type RawSignals struct {
	Timestamp    float64 `json:"timestamp"`
	FaceDetected bool    `json:"face_detected"`

	// CenterOffset is the distance of the face centre from the frame centre,
	// normalised by the frame diagonal.
	CenterOffset float64 `json:"center_offset"`

	EyeAspectRatio float64 `json:"eye_aspect_ratio"`
	SmileRatio     float64 `json:"smile_ratio"`
}

// Derive turns raw detector signals into a [Measurement]. When no face was
// detected the eyes count as closed and both scores are zero.
func Derive(s RawSignals, t Thresholds) Measurement {
	if !s.FaceDetected {
		return Measurement{
			Timestamp:  s.Timestamp,
			EyesClosed: true,
		}
	}
	lookAway := math.Max(t.LookAway, 1e-3)
	return Measurement{
		Timestamp:      s.Timestamp,
		FaceDetected:   true,
		EyesClosed:     s.EyeAspectRatio < t.EyeAspectRatio,
		LookingAway:    s.CenterOffset > t.LookAway,
		AttentionScore: math.Max(0, 1-math.Min(1, s.CenterOffset/lookAway)),
		IsSmiling:      s.SmileRatio > t.Smile,
		SmileScore:     s.SmileRatio,
	}
}
