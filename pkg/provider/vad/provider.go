// Package vad defines the Engine interface for voice activity detection.
//
// A VAD engine turns fixed-size PCM frames into speech start and end events.
// Each session keeps its own smoothing state so that every participant in a
// room is gated independently.
//
// ProcessFrame is synchronous and must not block: it runs inline in the audio
// loop that feeds speech-to-text.
package vad

import (
	"errors"
	"fmt"
	"time"

	"github.com/nwang783/just-in-case/pkg/types"
)

// Defaults used when a Config field is zero.
const (
	DefaultConfidence  = 0.7
	DefaultStartDelay  = 200 * time.Millisecond
	DefaultStopDelay   = 800 * time.Millisecond
	DefaultMinVolume   = 0.6
	DefaultFrameSizeMs = 20

	// TurnDetectionStopDelay replaces the stop delay when a separate turn
	// detector decides when the candidate has finished.
	TurnDetectionStopDelay = 200 * time.Millisecond
)

// ErrSessionClosed is returned by ProcessFrame after Close.
var ErrSessionClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the rate of the 16-bit mono PCM frames in Hz.
	SampleRate int

	// FrameSizeMs is the duration of each frame. ProcessFrame rejects frames
	// of any other size.
	FrameSizeMs int

	// Confidence is the speech likelihood in [0, 1] a frame must reach to
	// count as speech.
	Confidence float64

	// StartDelay is how long speech must persist before VADSpeechStart.
	StartDelay time.Duration

	// StopDelay is how long silence must persist before VADSpeechEnd.
	StopDelay time.Duration

	// MinVolume is the normalized volume in [0, 1] below which a frame is
	// silence regardless of confidence.
	MinVolume float64
}

// WithDefaults returns c with zero fields replaced by the package defaults.
func (c Config) WithDefaults() Config {
	if c.FrameSizeMs == 0 {
		c.FrameSizeMs = DefaultFrameSizeMs
	}
	if c.Confidence == 0 {
		c.Confidence = DefaultConfidence
	}
	if c.StartDelay == 0 {
		c.StartDelay = DefaultStartDelay
	}
	if c.StopDelay == 0 {
		c.StopDelay = DefaultStopDelay
	}
	if c.MinVolume == 0 {
		c.MinVolume = DefaultMinVolume
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("vad: sample rate must be positive, got %d", c.SampleRate)
	case c.FrameSizeMs <= 0:
		return fmt.Errorf("vad: frame size must be positive, got %d", c.FrameSizeMs)
	case c.Confidence < 0 || c.Confidence > 1:
		return fmt.Errorf("vad: confidence %v outside [0, 1]", c.Confidence)
	case c.MinVolume < 0 || c.MinVolume > 1:
		return fmt.Errorf("vad: min volume %v outside [0, 1]", c.MinVolume)
	case c.StartDelay < 0 || c.StopDelay < 0:
		return errors.New("vad: delays must not be negative")
	}
	return nil
}

// FrameBytes is the byte length of one 16-bit mono frame.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// SessionHandle is an active VAD session for one audio stream. It is not safe
// for concurrent use.
type SessionHandle interface {
	// ProcessFrame analyses one frame of little-endian 16-bit PCM.
	ProcessFrame(frame []byte) (types.VADEvent, error)

	// Reset clears detection state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine creates VAD sessions. Implementations must be safe for concurrent
// use.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}
