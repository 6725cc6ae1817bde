package engagement

import (
	"testing"
	"time"
)

func attentive(ts float64) Measurement {
	return Measurement{Timestamp: ts, FaceDetected: true, AttentionScore: 0.9}
}

func TestClassifier_FirstUpdateAlwaysEmits(t *testing.T) {
	t.Parallel()

	for _, gap := range []time.Duration{0, DefaultMinEventGap, time.Hour} {
		c := NewClassifier(gap)
		events := c.Update(attentive(0))
		if len(events) != 1 {
			t.Fatalf("gap %v: got %d events, want 1", gap, len(events))
		}
		if events[0].Kind != KindAttention {
			t.Errorf("gap %v: kind = %q, want attention", gap, events[0].Kind)
		}
		if c.State() != AttentionAttentive {
			t.Errorf("gap %v: state = %v, want attentive", gap, c.State())
		}
	}
}

func TestClassifier_PriorityRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		m      Measurement
		state  AttentionState
		reason string
	}{
		{
			name:   "no face wins over everything",
			m:      Measurement{FaceDetected: false, EyesClosed: true, LookingAway: true},
			state:  AttentionDistracted,
			reason: ReasonLostFace,
		},
		{
			name:   "eyes closed wins over looking away",
			m:      Measurement{FaceDetected: true, EyesClosed: true, LookingAway: true},
			state:  AttentionDistracted,
			reason: ReasonEyesClosed,
		},
		{
			name:   "looking away",
			m:      Measurement{FaceDetected: true, LookingAway: true},
			state:  AttentionDistracted,
			reason: ReasonLookingAway,
		},
		{
			name:  "attentive",
			m:     Measurement{FaceDetected: true, AttentionScore: 0.5},
			state: AttentionAttentive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewClassifier(0)
			events := c.Update(tt.m)
			if len(events) != 1 {
				t.Fatalf("got %d events, want 1", len(events))
			}
			ev := events[0]
			if ev.State != tt.state {
				t.Errorf("state = %v, want %v", ev.State, tt.state)
			}
			if ev.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", ev.Reason, tt.reason)
			}
		})
	}
}

func TestClassifier_Summaries(t *testing.T) {
	t.Parallel()

	c := NewClassifier(0)

	events := c.Update(Measurement{Timestamp: 1, FaceDetected: true, AttentionScore: 0.857})
	if got, want := events[0].Summary, "User re-engaged with the interview (attention 0.86)."; got != want {
		t.Errorf("attentive summary = %q, want %q", got, want)
	}

	events = c.Update(Measurement{Timestamp: 2, FaceDetected: true, EyesClosed: true})
	if got, want := events[0].Summary, "User disengaged or lost attention (eyes closed)."; got != want {
		t.Errorf("distracted summary = %q, want %q", got, want)
	}

	events = c.Update(Measurement{Timestamp: 3, FaceDetected: true, EyesClosed: true, IsSmiling: true, SmileScore: 0.5})
	if len(events) != 1 || events[0].Kind != KindSmile {
		t.Fatalf("events = %+v, want one smile event", events)
	}
	if got, want := events[0].Summary, "User started smiling (score 0.50)"; got != want {
		t.Errorf("smile summary = %q, want %q", got, want)
	}

	events = c.Update(Measurement{Timestamp: 4, FaceDetected: true, EyesClosed: true})
	if got, want := events[0].Summary, "User stopped smiling."; got != want {
		t.Errorf("stop summary = %q, want %q", got, want)
	}
}

func TestClassifier_Scenario(t *testing.T) {
	t.Parallel()

	c := NewClassifier(0)

	if n := len(c.Update(Measurement{Timestamp: 1, FaceDetected: true})); n != 1 {
		t.Fatalf("t=1: got %d events, want 1", n)
	}

	events := c.Update(Measurement{Timestamp: 2, FaceDetected: true, LookingAway: true})
	if len(events) != 1 {
		t.Fatalf("t=2: got %d events, want 1", len(events))
	}
	if events[0].Reason != ReasonLookingAway {
		t.Errorf("t=2: reason = %q, want %q", events[0].Reason, ReasonLookingAway)
	}

	events = c.Update(Measurement{Timestamp: 3, FaceDetected: true, IsSmiling: true, SmileScore: 0.6})
	if len(events) != 2 {
		t.Fatalf("t=3: got %d events, want 2", len(events))
	}
	if events[0].Kind != KindAttention || events[0].State != AttentionAttentive {
		t.Errorf("t=3: first event = %+v, want attentive", events[0])
	}
	if events[1].Kind != KindSmile || !events[1].Smiling {
		t.Errorf("t=3: second event = %+v, want smile start", events[1])
	}
}

func TestClassifier_DebounceMeasuredFromLastEmission(t *testing.T) {
	t.Parallel()

	c := NewClassifier(2 * time.Second)

	if n := len(c.Update(attentive(0))); n != 1 {
		t.Fatalf("t=0: got %d events, want 1", n)
	}

	// Flicker inside the cooldown: state follows, nothing is emitted.
	away := Measurement{Timestamp: 0.5, FaceDetected: true, LookingAway: true}
	if n := len(c.Update(away)); n != 0 {
		t.Fatalf("t=0.5: got %d events, want 0", n)
	}
	if c.State() != AttentionDistracted {
		t.Fatalf("state = %v, want distracted", c.State())
	}
	if n := len(c.Update(attentive(1.0))); n != 0 {
		t.Fatalf("t=1.0: got %d events, want 0", n)
	}
	away.Timestamp = 1.9
	if n := len(c.Update(away)); n != 0 {
		t.Fatalf("t=1.9: got %d events, want 0", n)
	}

	// Two seconds after the last emission the next transition is emitted,
	// even though suppressed transitions happened in between.
	events := c.Update(attentive(2.0))
	if len(events) != 1 {
		t.Fatalf("t=2.0: got %d events, want 1", len(events))
	}
	if events[0].State != AttentionAttentive {
		t.Errorf("t=2.0: state = %v, want attentive", events[0].State)
	}
}

func TestClassifier_SuppressedTransitionDoesNotResetCooldown(t *testing.T) {
	t.Parallel()

	c := NewClassifier(time.Second)
	c.Update(attentive(10))

	// Suppressed at 10.9; the cooldown still ends at 11.0.
	c.Update(Measurement{Timestamp: 10.9, FaceDetected: false})
	if n := len(c.Update(attentive(11.0))); n != 1 {
		t.Fatalf("got %d events, want 1", n)
	}
}

func TestClassifier_UnchangedMeasurementIsIdempotent(t *testing.T) {
	t.Parallel()

	c := NewClassifier(0)
	m := Measurement{FaceDetected: true, IsSmiling: true, SmileScore: 0.7}
	for i := range 20 {
		m.Timestamp = float64(i)
		events := c.Update(m)
		if i == 0 && len(events) != 2 {
			t.Fatalf("first update: got %d events, want 2", len(events))
		}
		if i > 0 && len(events) != 0 {
			t.Fatalf("update %d: got %d events, want 0", i, len(events))
		}
	}
}

func TestClassifier_SmileStartsFalse(t *testing.T) {
	t.Parallel()

	c := NewClassifier(0)
	events := c.Update(attentive(0))
	for _, ev := range events {
		if ev.Kind == KindSmile {
			t.Fatalf("unexpected smile event %+v for a non-smiling first sample", ev)
		}
	}
}

func TestClassifier_SmileDebounceIndependentOfAttention(t *testing.T) {
	t.Parallel()

	c := NewClassifier(5 * time.Second)
	c.Update(attentive(0))

	// Attention is still cooling down, smile has never emitted.
	events := c.Update(Measurement{Timestamp: 1, FaceDetected: false, IsSmiling: true, SmileScore: 0.9})
	if len(events) != 1 || events[0].Kind != KindSmile {
		t.Fatalf("events = %+v, want a single smile event", events)
	}
}

func TestClassifier_AtMostTwoEvents(t *testing.T) {
	t.Parallel()

	c := NewClassifier(0)
	for i := range 64 {
		m := Measurement{
			Timestamp:    float64(i),
			FaceDetected: i%2 == 0,
			EyesClosed:   i%3 == 0,
			LookingAway:  i%5 == 0,
			IsSmiling:    i%7 < 3,
		}
		if n := len(c.Update(m)); n > 2 {
			t.Fatalf("update %d: got %d events", i, n)
		}
	}
}

func TestEvent_Payload(t *testing.T) {
	t.Parallel()

	regained := Event{Kind: KindAttention}
	if p := regained.Payload(); p != nil {
		t.Errorf("regained payload = %v, want nil", p)
	}

	dropped := Event{Kind: KindAttention, Reason: ReasonEyesClosed}
	if p := dropped.Payload(); p["reason"] != ReasonEyesClosed {
		t.Errorf("dropped payload = %v", p)
	}

	smile := Event{Kind: KindSmile, Smiling: true, SmileScore: 0.4}
	p := smile.Payload()
	if p["smiling"] != true || p["smile_score"] != 0.4 {
		t.Errorf("smile payload = %v", p)
	}
}
