// Package engagement turns per-frame engagement measurements (face presence,
// eye closure, gaze offset, smile ratio) into debounced, human-readable
// events such as "user disengaged (eyes closed)" or "user started smiling".
//
// The [Classifier] is a small state machine with two independent tracks:
//
//   - Attention: unknown → attentive | distracted, decided per measurement by
//     ordered rules (no face, eyes closed, looking away, otherwise attentive).
//   - Smile: a boolean following the measurement's is-smiling flag.
//
// State always follows the latest measurement. Only event emission is
// debounced: an event of a given kind is emitted when at least the configured
// gap has elapsed since the last emitted event of that kind.
//
// A Classifier is not safe for concurrent use. Give every session its own
// instance and feed it from a single goroutine, or wrap it in a [Sampler].
package engagement

import (
	"fmt"
	"time"
)

// DefaultMinEventGap is the cooldown between two emitted events of the same
// kind when none is configured.
const DefaultMinEventGap = 2500 * time.Millisecond

// Reasons attached to distracted transitions.
const (
	ReasonLostFace    = "lost face tracking"
	ReasonEyesClosed  = "eyes closed"
	ReasonLookingAway = "looking away from the screen"
)

// AttentionState is the coarse attention classification of a session.
type AttentionState int

const (
	AttentionUnknown AttentionState = iota
	AttentionAttentive
	AttentionDistracted
)

// String returns the lower-case name of the state.
func (s AttentionState) String() string {
	switch s {
	case AttentionAttentive:
		return "attentive"
	case AttentionDistracted:
		return "distracted"
	default:
		return "unknown"
	}
}

// EventKind distinguishes the two event tracks.
type EventKind string

const (
	KindAttention EventKind = "attention"
	KindSmile     EventKind = "smile"
)

// Measurement is one analysed frame. Timestamps are seconds and must be
// non-decreasing across calls for one session.
type Measurement struct {
	Timestamp      float64 `json:"timestamp"`
	FaceDetected   bool    `json:"face_detected"`
	EyesClosed     bool    `json:"eyes_closed"`
	LookingAway    bool    `json:"looking_away"`
	AttentionScore float64 `json:"attention_score"`
	IsSmiling      bool    `json:"is_smiling"`
	SmileScore     float64 `json:"smile_score"`
}

// Event is a debounced change in attention or smile state.
type Event struct {
	Kind    EventKind
	Summary string

	// Reason is set only for attention events moving to distracted.
	Reason string

	// State is the attention state after the transition (attention events).
	State AttentionState

	// Smiling is the smile state after the transition (smile events).
	Smiling bool

	AttentionScore float64
	SmileScore     float64

	// Measurement is the sample that triggered the event.
	Measurement Measurement
}

// Payload returns the event specific metadata persisted alongside the
// event. Attention events carry {"reason": ...} only when a reason exists and
// nil otherwise; smile events carry the score and the new smile flag.
func (e Event) Payload() map[string]any {
	switch e.Kind {
	case KindAttention:
		if e.Reason == "" {
			return nil
		}
		return map[string]any{"reason": e.Reason}
	case KindSmile:
		return map[string]any{
			"smile_score": e.SmileScore,
			"smiling":     e.Smiling,
		}
	default:
		return nil
	}
}

// Classifier converts measurements into debounced engagement events.
type Classifier struct {
	gap float64

	attention     AttentionState
	lastAttention float64
	hasAttention  bool

	smiling   bool
	lastSmile float64
	hasSmile  bool
}

// NewClassifier returns a Classifier in the unknown/not-smiling state.
// A negative gap is treated as zero.
func NewClassifier(minEventGap time.Duration) *Classifier {
	if minEventGap < 0 {
		minEventGap = 0
	}
	return &Classifier{gap: minEventGap.Seconds()}
}

// State reports the current attention state.
func (c *Classifier) State() AttentionState { return c.attention }

// Smiling reports the current smile state.
func (c *Classifier) Smiling() bool { return c.smiling }

// Update feeds one measurement through both tracks and returns the events it
// produced: none, one, or one per track.
func (c *Classifier) Update(m Measurement) []Event {
	var events []Event
	if ev, ok := c.updateAttention(m); ok {
		events = append(events, ev)
	}
	if ev, ok := c.updateSmile(m); ok {
		events = append(events, ev)
	}
	return events
}

func (c *Classifier) updateAttention(m Measurement) (Event, bool) {
	candidate, reason := classify(m)
	if candidate == c.attention {
		return Event{}, false
	}
	c.attention = candidate

	now := m.Timestamp
	if c.hasAttention && now-c.lastAttention < c.gap {
		return Event{}, false
	}
	c.lastAttention = now
	c.hasAttention = true

	ev := Event{
		Kind:           KindAttention,
		Reason:         reason,
		State:          candidate,
		Smiling:        c.smiling,
		AttentionScore: m.AttentionScore,
		SmileScore:     m.SmileScore,
		Measurement:    m,
	}
	if candidate == AttentionAttentive {
		ev.Summary = fmt.Sprintf("User re-engaged with the interview (attention %.2f).", m.AttentionScore)
	} else {
		ev.Summary = "User disengaged or lost attention"
		if reason != "" {
			ev.Summary += " (" + reason + ")"
		}
		ev.Summary += "."
	}
	return ev, true
}

func (c *Classifier) updateSmile(m Measurement) (Event, bool) {
	if m.IsSmiling == c.smiling {
		return Event{}, false
	}
	c.smiling = m.IsSmiling

	now := m.Timestamp
	if c.hasSmile && now-c.lastSmile < c.gap {
		return Event{}, false
	}
	c.lastSmile = now
	c.hasSmile = true

	ev := Event{
		Kind:           KindSmile,
		State:          c.attention,
		Smiling:        m.IsSmiling,
		AttentionScore: m.AttentionScore,
		SmileScore:     m.SmileScore,
		Measurement:    m,
	}
	if m.IsSmiling {
		ev.Summary = fmt.Sprintf("User started smiling (score %.2f)", m.SmileScore)
	} else {
		ev.Summary = "User stopped smiling."
	}
	return ev, true
}

// classify applies the attention rules in order; the first match wins.
func classify(m Measurement) (AttentionState, string) {
	switch {
	case !m.FaceDetected:
		return AttentionDistracted, ReasonLostFace
	case m.EyesClosed:
		return AttentionDistracted, ReasonEyesClosed
	case m.LookingAway:
		return AttentionDistracted, ReasonLookingAway
	default:
		return AttentionAttentive, ""
	}
}
