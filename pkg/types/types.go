// Package types holds the data types shared by the provider packages and the
// voice pipeline.
package types

import "time"

// AudioFrame is a chunk of PCM audio.
type AudioFrame struct {
	// Data is little-endian signed 16-bit PCM.
	Data []byte

	// SampleRate is the sample rate in Hz, e.g. 16000 or 48000.
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int

	// Timestamp is the offset of the frame from the start of the stream.
	Timestamp time.Duration
}

// Transcript is a partial or final speech-to-text result.
type Transcript struct {
	Text    string
	IsFinal bool

	// Confidence is the provider's overall confidence in [0, 1].
	Confidence float64

	// Words is optional per-word detail.
	Words []WordDetail

	Timestamp time.Duration
	Duration  time.Duration
}

// WordDetail is the timing and confidence of a single recognised word.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Message is one turn of an LLM conversation.
type Message struct {
	// Role is "system", "user" or "assistant".
	Role    string
	Content string
}

// ModelCapabilities describes static properties of an LLM.
type ModelCapabilities struct {
	ContextWindow   int
	MaxOutputTokens int

	SupportsStreaming bool

	// SupportsStructuredOutput is true when the backend can constrain replies
	// to a JSON schema natively.
	SupportsStructuredOutput bool
}

// KeywordBoost raises the recognition weight of a domain term.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}

// VoiceProfile identifies a synthesis voice.
type VoiceProfile struct {
	ID       string
	Name     string
	Provider string

	// SpeedFactor scales speaking rate; 1.0 is normal.
	SpeedFactor float64

	Metadata map[string]string
}

// VADEventType classifies a voice-activity result.
type VADEventType int

const (
	// VADSpeechStart marks the first frame of a speech segment.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue marks a frame inside a speech segment.
	VADSpeechContinue

	// VADSpeechEnd marks the frame that closed a speech segment.
	VADSpeechEnd

	// VADSilence marks a frame outside any speech segment.
	VADSilence
)

// VADEvent is the result of processing one audio frame.
type VADEvent struct {
	Type VADEventType

	// Probability is the speech likelihood of the frame in [0, 1].
	Probability float64
}
