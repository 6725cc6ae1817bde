// Package mock provides test doubles for the stt package interfaces.
//
// Tests push results with [Session.EmitFinal] and inspect the audio the
// caller delivered with [Session.Audio]:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess.EmitFinal("let's size the market")
package mock

import (
	"context"
	"sync"

	"github.com/nwang783/just-in-case/pkg/provider/stt"
	"github.com/nwang783/just-in-case/pkg/types"
)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by StartStream. When nil a fresh Session is
	// created per call.
	Session *Session

	// StartStreamErr, if non-nil, is returned by StartStream.
	StartStreamErr error

	configs  []stt.StreamConfig
	sessions []*Session
}

var _ stt.Provider = (*Provider)(nil)

// StartStream records cfg and returns Session, StartStreamErr.
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs = append(p.configs, cfg)
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	s := p.Session
	if s == nil {
		s = NewSession()
	}
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Configs returns the StreamConfig of every StartStream call.
func (p *Provider) Configs() []stt.StreamConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]stt.StreamConfig(nil), p.configs...)
}

// Sessions returns the sessions handed out so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

// Session is a mock implementation of stt.SessionHandle. Close closes both
// result channels.
type Session struct {
	mu sync.Mutex

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	partials chan types.Transcript
	finals   chan types.Transcript
	audio    [][]byte
	closed   bool
	closes   int
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns a Session with buffered result channels.
func NewSession() *Session {
	return &Session{
		partials: make(chan types.Transcript, 16),
		finals:   make(chan types.Transcript, 16),
	}
}

// SendAudio records a copy of chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.audio = append(s.audio, append([]byte(nil), chunk...))
	return nil
}

// Partials implements stt.SessionHandle.
func (s *Session) Partials() <-chan types.Transcript { return s.partials }

// Finals implements stt.SessionHandle.
func (s *Session) Finals() <-chan types.Transcript { return s.finals }

// EmitPartial delivers an interim result. It is a no-op after Close.
func (s *Session) EmitPartial(text string) {
	s.emit(s.partials, types.Transcript{Text: text})
}

// EmitFinal delivers a committed result. It is a no-op after Close.
func (s *Session) EmitFinal(text string) {
	s.emit(s.finals, types.Transcript{Text: text, IsFinal: true, Confidence: 0.95})
}

func (s *Session) emit(ch chan types.Transcript, t types.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	ch <- t
}

// Close closes the result channels on first call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if !s.closed {
		s.closed = true
		close(s.partials)
		close(s.finals)
	}
	return nil
}

// Audio returns the chunks delivered so far.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.audio...)
}

// CloseCount returns how often Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
