package engagement

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"
)

// DefaultSampleInterval is the minimum spacing between two analysed samples.
const DefaultSampleInterval = time.Second

// EventRecorder persists engagement events. It is satisfied by
// *transcript.Writer.
type EventRecorder interface {
	RecordEvent(event, text string, metadata map[string]any) error
}

// EventFunc is called for every emitted event after it was recorded.
type EventFunc func(ctx context.Context, ev Event)

// SamplerOption configures a [Sampler].
type SamplerOption func(*Sampler)

// WithSampleInterval sets the minimum spacing between analysed samples.
// Samples arriving sooner are dropped.
func WithSampleInterval(d time.Duration) SamplerOption {
	return func(s *Sampler) { s.interval = d.Seconds() }
}

// WithRecorder persists every event as a "vision" transcript event.
func WithRecorder(r EventRecorder) SamplerOption {
	return func(s *Sampler) { s.recorder = r }
}

// WithCallback registers fn to receive every event.
func WithCallback(fn EventFunc) SamplerOption {
	return func(s *Sampler) { s.callback = fn }
}

// WithLogger overrides the logger used for the console sink.
func WithLogger(l *slog.Logger) SamplerOption {
	return func(s *Sampler) { s.log = l }
}

// Sampler gates incoming samples to a bounded rate, runs the survivors
// through a [Classifier] and fans the resulting events out to its sinks.
// It is safe for concurrent use. Samples are serialised internally, and the
// sinks run under the same lock, so events reach them in emission order.
// Sinks must not call back into the Sampler.
type Sampler struct {
	mu         sync.Mutex
	classifier *Classifier
	interval   float64
	lastSample float64
	sampled    bool

	recorder EventRecorder
	callback EventFunc
	log      *slog.Logger
}

// NewSampler wraps classifier. Without options it samples at most once per
// [DefaultSampleInterval], logs events and records nothing.
func NewSampler(classifier *Classifier, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		classifier: classifier,
		interval:   DefaultSampleInterval.Seconds(),
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Observe processes one measurement. It returns the emitted events, or nil
// when the sample was dropped by the rate gate or produced no change.
func (s *Sampler) Observe(ctx context.Context, m Measurement) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sampled && m.Timestamp-s.lastSample < s.interval {
		return nil
	}
	s.lastSample = m.Timestamp
	s.sampled = true

	events := s.classifier.Update(m)
	for _, ev := range events {
		s.dispatch(ctx, ev)
	}
	return events
}

// ObserveRaw derives a measurement from raw detector signals and observes it.
func (s *Sampler) ObserveRaw(ctx context.Context, raw RawSignals, t Thresholds) []Event {
	return s.Observe(ctx, Derive(raw, t))
}

func (s *Sampler) dispatch(ctx context.Context, ev Event) {
	s.log.InfoContext(ctx, "vision event",
		"kind", string(ev.Kind),
		"summary", ev.Summary,
	)

	if s.recorder != nil {
		if err := s.recorder.RecordEvent("vision", ev.Summary, Metadata(ev)); err != nil {
			s.log.WarnContext(ctx, "failed to record vision event", "err", err)
		}
	}

	if s.callback != nil {
		s.callback(ctx, ev)
	}
}

// Metadata builds the transcript metadata for ev: the event type and both
// scores, merged with the event payload.
func Metadata(ev Event) map[string]any {
	md := map[string]any{
		"event_type":      string(ev.Kind),
		"attention_score": ev.Measurement.AttentionScore,
		"smile_score":     ev.Measurement.SmileScore,
	}
	maps.Copy(md, ev.Payload())
	return md
}
