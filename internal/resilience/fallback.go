package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nwang783/just-in-case/internal/observe"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// Kind names the provider category in metrics: "llm", "stt" or "tts".
	Kind string

	// CircuitBreaker is the template for the per-entry breakers. Name is
	// replaced by the entry name.
	CircuitBreaker CircuitBreakerConfig

	// Metrics, if set, receives one request sample per attempt and one error
	// sample per failed attempt.
	Metrics *observe.Metrics
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and zero or more fallbacks of the same
// provider type, tried in registration order.
//
// Entries must be registered before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a provider tried after every earlier entry.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in try order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Primary returns the first entry.
func (fg *FallbackGroup[T]) Primary() T {
	return fg.entries[0].value
}

// Execute tries fn against each entry in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in order and returns the
// first successful result. Entries whose breaker is open are skipped. When
// every entry fails the error wraps [ErrAllFailed] and the last failure.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider, circuit open", "provider", entry.name, "kind", fg.cfg.Kind)
			lastErr = err
			continue
		}
		fg.record(entry.name, err)
		if err == nil {
			return result, nil
		}
		lastErr = err
		slog.Warn("provider failed, trying next",
			"provider", entry.name, "kind", fg.cfg.Kind, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func (fg *FallbackGroup[T]) record(provider string, err error) {
	if fg.cfg.Metrics == nil {
		return
	}
	ctx := context.Background()
	status := "ok"
	if err != nil {
		status = "error"
		fg.cfg.Metrics.RecordProviderError(ctx, provider, fg.cfg.Kind)
	}
	fg.cfg.Metrics.RecordProviderRequest(ctx, provider, fg.cfg.Kind, status)
}
