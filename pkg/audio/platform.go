// Package audio defines how the interviewer bot joins a room and exchanges
// audio with the participants in it.
//
//   - [Platform] joins a room by name and returns a [Connection].
//   - [Connection] exposes one input stream per remote participant, a single
//     output stream for the bot's voice, and join/leave events.
//
// Transport adapters live in sub-packages (audio/wsroom). The package also
// carries the PCM helpers shared by the voice pipeline: format conversion,
// fixed-size framing and the [Mixer] that schedules the bot's speech.
package audio

import (
	"context"

	"github.com/nwang783/just-in-case/pkg/types"
)

// EventType classifies participant lifecycle events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a participant enters the room.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the room.
	EventLeave
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant joining or leaving a room.
type Event struct {
	Type EventType

	// ParticipantID is the transport's identifier for the participant.
	ParticipantID string

	// Name is the display name, if the participant supplied one.
	Name string
}

// Connection is the bot's presence in one room.
//
// All input channels are closed when the connection terminates. The output
// channel is owned by the connection and is never closed; frames written
// after Disconnect are dropped.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// InputStreams returns a snapshot of the per-participant input channels
	// keyed by participant ID. Call it again after an [EventJoin] to pick up
	// new participants.
	InputStreams() map[string]<-chan types.AudioFrame

	// OutputStream returns the channel for the bot's audio. Frames are
	// delivered to every participant. Writes must not block indefinitely.
	OutputStream() chan<- types.AudioFrame

	// OutputFormat is the format the transport expects on OutputStream.
	OutputFormat() Format

	// OnParticipantChange registers the lifecycle callback, replacing any
	// previous one. It is invoked on an internal goroutine and must not
	// block.
	OnParticipantChange(cb func(Event))

	// Disconnect leaves the room. Calling it more than once returns nil.
	Disconnect() error
}

// Platform joins rooms. Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the room named roomName. ctx bounds the join only; the
	// returned Connection lives until Disconnect.
	Connect(ctx context.Context, roomName string) (Connection, error)
}
