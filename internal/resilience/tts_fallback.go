package resilience

import (
	"context"

	"github.com/nwang783/just-in-case/pkg/provider/tts"
	"github.com/nwang783/just-in-case/pkg/types"
)

// TTSFallback implements [tts.Provider] with failover across backends.
//
// Opening a stream is the only failover point: the text channel is handed to
// whichever backend accepts it first. All backends should be configured for
// the same output sample rate; SampleRate reports the primary's.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred
// backend. cfg.Kind defaults to "tts".
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// SynthesizeStream implements tts.Provider.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

// ListVoices implements tts.Provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// SampleRate implements tts.Provider.
func (f *TTSFallback) SampleRate() int {
	return f.group.Primary().SampleRate()
}
