// Package mock provides a test double for the tts.Provider interface.
//
//	p := &mock.Provider{SynthesizeChunks: [][]byte{[]byte("audio1")}}
//	ch, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"sync"

	"github.com/nwang783/just-in-case/pkg/provider/tts"
	"github.com/nwang783/just-in-case/pkg/types"
)

// Provider is a mock implementation of tts.Provider. Every text fragment it
// receives is recorded; one copy of SynthesizeChunks is emitted per
// fragment.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks is emitted for every received text fragment.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned by SynthesizeStream.
	SynthesizeErr error

	// ListVoicesResult and ListVoicesErr are returned by ListVoices.
	ListVoicesResult []types.VoiceProfile
	ListVoicesErr    error

	// Rate is returned by SampleRate. Zero reports 16000.
	Rate int

	texts  []string
	voices []types.VoiceProfile
}

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStream records voice and forwards audio for each text fragment
// until text is closed.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.voices = append(p.voices, voice)
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := append([][]byte(nil), p.SynthesizeChunks...)
	p.mu.Unlock()

	ch := make(chan []byte, 16)
	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-text:
				if !ok {
					return
				}
				p.mu.Lock()
				p.texts = append(p.texts, s)
				p.mu.Unlock()
				for _, c := range chunks {
					select {
					case ch <- c:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch, nil
}

// ListVoices returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

// SampleRate returns Rate or 16000.
func (p *Provider) SampleRate() int {
	if p.Rate == 0 {
		return 16000
	}
	return p.Rate
}

// Texts returns every text fragment received so far.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

// Voices returns the voice of every SynthesizeStream call.
func (p *Provider) Voices() []types.VoiceProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.VoiceProfile(nil), p.voices...)
}
