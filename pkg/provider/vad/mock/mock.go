// Package mock provides test doubles for the vad package interfaces.
//
//	sess := &mock.Session{Events: []types.VADEvent{{Type: types.VADSpeechStart}}}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/nwang783/just-in-case/pkg/provider/vad"
	"github.com/nwang783/just-in-case/pkg/types"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil, a new Session is returned.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned by NewSession.
	NewSessionErr error

	configs []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

// NewSession records cfg and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Configs returns every Config passed to NewSession.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Session is a mock implementation of vad.SessionHandle. ProcessFrame
// replays Events in order and then returns Fallback.
type Session struct {
	mu sync.Mutex

	Events   []types.VADEvent
	Fallback types.VADEvent

	// ProcessFrameErr, if non-nil, is returned by every ProcessFrame call.
	ProcessFrameErr error

	frames int
	resets int
	closes int
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessFrame returns the next scripted event.
func (s *Session) ProcessFrame([]byte) (types.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	if s.ProcessFrameErr != nil {
		return types.VADEvent{}, s.ProcessFrameErr
	}
	if len(s.Events) > 0 {
		ev := s.Events[0]
		s.Events = s.Events[1:]
		return ev, nil
	}
	return s.Fallback, nil
}

// Reset counts the call.
func (s *Session) Reset() {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
}

// Close counts the call.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

// Counts returns the number of ProcessFrame, Reset and Close calls.
func (s *Session) Counts() (frames, resets, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames, s.resets, s.closes
}
