// Package stt defines the Provider interface for streaming speech-to-text
// backends.
//
// A session accepts raw PCM audio and emits two streams of transcripts:
// low-latency partials and authoritative finals. Only finals are written to
// the interview transcript and passed to the interviewer model.
package stt

import (
	"context"
	"errors"

	"github.com/nwang783/just-in-case/pkg/types"
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition hints of a session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels; 1 for mono.
	Channels int

	// Language is a BCP-47 tag. Empty uses the provider default.
	Language string

	// Keywords boosts recognition of case vocabulary such as firm names and
	// finance acronyms.
	Keywords []types.KeywordBoost
}

// SessionHandle is an open streaming session. All methods are safe for
// concurrent use. Close must be called when the session is no longer needed.
type SessionHandle interface {
	// SendAudio queues a chunk of PCM audio in the agreed format.
	SendAudio(chunk []byte) error

	// Partials emits interim results. Closed when the session ends.
	Partials() <-chan types.Transcript

	// Finals emits committed results. Closed when the session ends.
	Finals() <-chan types.Transcript

	// Close flushes pending audio and releases the connection. Calling Close
	// more than once is safe.
	Close() error
}

// Provider opens streaming sessions. Implementations must be safe for
// concurrent use; the voice agent opens one session per participant.
type Provider interface {
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
