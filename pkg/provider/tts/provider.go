// Package tts defines the Provider interface for streaming text-to-speech
// backends.
//
// SynthesizeStream accepts a channel of sentences and returns a channel of
// raw PCM chunks as they are synthesised, so interviewer replies can be
// spoken while the model is still generating them.
package tts

import (
	"context"

	"github.com/nwang783/just-in-case/pkg/types"
)

// Provider is the abstraction over any TTS backend. Implementations must be
// safe for concurrent use.
type Provider interface {
	// SynthesizeStream consumes text fragments until text is closed and
	// returns a channel of little-endian 16-bit mono PCM at SampleRate. The
	// audio channel is closed when all text has been spoken, on provider
	// error or when ctx is cancelled. The caller must drain it.
	//
	// A non-nil error means the stream could not be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the voices available to the configured account.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)

	// SampleRate is the rate in Hz of the PCM produced by SynthesizeStream.
	SampleRate() int
}
