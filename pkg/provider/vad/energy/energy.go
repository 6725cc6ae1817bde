// Package energy implements a voice activity detector that classifies frames
// by their energy relative to an adaptive noise floor.
//
// Each frame yields two numbers. Volume is the frame level in dBFS mapped
// onto [0, 1] and exponentially smoothed. Confidence is the frame's margin
// above the tracked noise floor mapped onto [0, 1]. A frame is speech when
// both reach the configured thresholds; StartDelay and StopDelay debounce
// the transitions.
package energy

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/nwang783/just-in-case/pkg/provider/vad"
	"github.com/nwang783/just-in-case/pkg/types"
)

const (
	// volumeRangeDB maps [-volumeRangeDB, 0] dBFS onto volume [0, 1].
	volumeRangeDB = 60.0

	// snrRangeDB is the margin above the noise floor that yields full
	// confidence.
	snrRangeDB = 20.0

	silenceDB       = -96.0
	initialFloorDB  = -60.0
	volumeSmoothing = 0.2
	floorRiseRate   = 0.001
)

// Engine creates energy VAD sessions.
type Engine struct{}

var _ vad.Engine = Engine{}

// New returns an Engine.
func New() Engine { return Engine{} }

// NewSession validates cfg, after applying defaults, and returns a session.
func (Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	frame := time.Duration(cfg.FrameSizeMs) * time.Millisecond
	s := &Session{
		cfg:        cfg,
		frameBytes: cfg.FrameBytes(),
		startNeed:  framesFor(cfg.StartDelay, frame),
		stopNeed:   framesFor(cfg.StopDelay, frame),
	}
	s.Reset()
	return s, nil
}

func framesFor(d, frame time.Duration) int {
	n := int((d + frame - 1) / frame)
	return max(n, 1)
}

type state int

const (
	stateQuiet state = iota
	stateStarting
	stateSpeaking
	stateStopping
)

// Session is one energy VAD stream.
type Session struct {
	cfg        vad.Config
	frameBytes int
	startNeed  int
	stopNeed   int

	state   state
	pending int
	volume  float64
	floorDB float64
	closed  bool
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessFrame implements vad.SessionHandle.
func (s *Session) ProcessFrame(frame []byte) (types.VADEvent, error) {
	if s.closed {
		return types.VADEvent{}, vad.ErrSessionClosed
	}
	if len(frame) != s.frameBytes {
		return types.VADEvent{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	level := levelDB(frame)
	s.volume += volumeSmoothing * (clamp01((level+volumeRangeDB)/volumeRangeDB) - s.volume)
	if level < s.floorDB {
		s.floorDB = level
	}
	confidence := clamp01((level - s.floorDB) / snrRangeDB)
	speech := confidence >= s.cfg.Confidence && s.volume >= s.cfg.MinVolume

	// The floor only rises while nobody is talking.
	if s.state == stateQuiet && !speech {
		s.floorDB += floorRiseRate * (level - s.floorDB)
	}

	return types.VADEvent{Type: s.step(speech), Probability: confidence}, nil
}

// step advances the debounce state machine by one frame.
func (s *Session) step(speech bool) types.VADEventType {
	switch s.state {
	case stateQuiet, stateStarting:
		if !speech {
			s.state = stateQuiet
			s.pending = 0
			return types.VADSilence
		}
		s.pending++
		if s.pending >= s.startNeed {
			s.state = stateSpeaking
			s.pending = 0
			return types.VADSpeechStart
		}
		s.state = stateStarting
		return types.VADSilence
	default:
		if speech {
			s.state = stateSpeaking
			s.pending = 0
			return types.VADSpeechContinue
		}
		s.pending++
		if s.pending >= s.stopNeed {
			s.state = stateQuiet
			s.pending = 0
			return types.VADSpeechEnd
		}
		s.state = stateStopping
		return types.VADSpeechContinue
	}
}

// Speaking reports whether the session is inside a speech segment.
func (s *Session) Speaking() bool {
	return s.state == stateSpeaking || s.state == stateStopping
}

// Reset implements vad.SessionHandle.
func (s *Session) Reset() {
	s.state = stateQuiet
	s.pending = 0
	s.volume = 0
	s.floorDB = initialFloorDB
}

// Close implements vad.SessionHandle.
func (s *Session) Close() error {
	s.closed = true
	return nil
}

// levelDB returns the RMS level of 16-bit little-endian PCM in dBFS.
func levelDB(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return silenceDB
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(frame[2*i:]))) / 32768
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(n))
	if rms == 0 {
		return silenceDB
	}
	return max(20*math.Log10(rms), silenceDB)
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
