package audio

import (
	"sync/atomic"
	"time"
)

// InterruptReason identifies why the current segment was cut short.
type InterruptReason int

const (
	// SystemOverride stops playback on behalf of the bot itself, e.g. when
	// the session is stopping.
	SystemOverride InterruptReason = iota

	// CandidateBargeIn means the candidate started talking over the bot.
	// Queued replies are discarded along with the current one.
	CandidateBargeIn
)

// String returns the human-readable name of the interrupt reason.
func (r InterruptReason) String() string {
	switch r {
	case SystemOverride:
		return "SYSTEM_OVERRIDE"
	case CandidateBargeIn:
		return "CANDIDATE_BARGE_IN"
	default:
		return "UNKNOWN"
	}
}

// AudioSegment is one spoken reply. Audio is streamed so playback can start
// before synthesis finishes; the producer closes the channel at the end.
type AudioSegment struct {
	// Label names the segment in logs, e.g. "greeting" or "reply".
	Label string

	// Audio carries raw 16-bit PCM chunks.
	Audio <-chan []byte

	// SampleRate and Channels describe the PCM on Audio. Both must be > 0.
	SampleRate int
	Channels   int

	streamErr atomic.Pointer[error]
}

// Err returns the error that closed Audio early, or nil.
func (s *AudioSegment) Err() error {
	if p := s.streamErr.Load(); p != nil {
		return *p
	}
	return nil
}

// SetStreamErr records a mid-stream error. Call it before closing Audio.
func (s *AudioSegment) SetStreamErr(err error) {
	s.streamErr.Store(&err)
}

// Mixer schedules the bot's speech onto the connection output. Only one
// segment plays at a time.
//
// Implementations must be safe for concurrent use.
type Mixer interface {
	// Enqueue schedules segment. A segment with a higher priority than the
	// one playing interrupts it with [SystemOverride] semantics.
	Enqueue(segment *AudioSegment, priority int)

	// Interrupt stops the current segment. Nothing happens when idle.
	Interrupt(reason InterruptReason)

	// BargeIn interrupts with [CandidateBargeIn] semantics and notifies the
	// handler registered with OnBargeIn.
	BargeIn(participantID string)

	// OnBargeIn registers the barge-in handler, replacing any previous one.
	OnBargeIn(handler func(participantID string))

	// Playing reports whether a segment is being played.
	Playing() bool

	// SetGap sets the silence inserted between consecutive segments.
	SetGap(d time.Duration)
}
