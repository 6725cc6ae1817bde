package voice

import (
	"context"
	"fmt"
	"sync"

	"github.com/nwang783/just-in-case/pkg/provider/llm"
	"github.com/nwang783/just-in-case/pkg/types"
)

// summaryPrefix marks compacted history in the message list.
const summaryPrefix = "[Previous conversation summary]: "

// History holds the running conversation of one interview and compacts it
// when its estimated size approaches the model's context window.
//
// Once the estimate exceeds ThresholdRatio × MaxTokens the oldest half of the
// messages is replaced by a summary produced by the [Summariser]. Summaries
// are returned as system messages ahead of the remaining turns.
//
// All methods are safe for concurrent use.
type History struct {
	maxTokens      int
	thresholdRatio float64
	summariser     Summariser

	mu        sync.Mutex
	tokens    int
	messages  []types.Message
	summaries []string
}

// HistoryConfig configures a [History].
type HistoryConfig struct {
	// MaxTokens is the model's context window. Zero disables compaction.
	MaxTokens int

	// ThresholdRatio defaults to 0.75 if zero or negative.
	ThresholdRatio float64

	// Summariser compresses older turns. Nil disables compaction.
	Summariser Summariser
}

// NewHistory returns an empty history.
func NewHistory(cfg HistoryConfig) *History {
	ratio := cfg.ThresholdRatio
	if ratio <= 0 {
		ratio = 0.75
	}
	return &History{
		maxTokens:      cfg.MaxTokens,
		thresholdRatio: ratio,
		summariser:     cfg.Summariser,
	}
}

// Add appends msgs and compacts the history if it grew past the threshold.
// The messages are kept even when compaction fails.
func (h *History) Add(ctx context.Context, msgs ...types.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, msgs...)
	h.tokens += llm.EstimateTokens(msgs)

	if h.summariser == nil || h.maxTokens <= 0 {
		return nil
	}
	threshold := int(float64(h.maxTokens) * h.thresholdRatio)
	if h.tokens > threshold && len(h.messages) > 1 {
		if err := h.compact(ctx); err != nil {
			return fmt.Errorf("history: compact: %w", err)
		}
	}
	return nil
}

// Messages returns the summaries followed by the retained turns.
func (h *History) Messages() []types.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]types.Message, 0, len(h.summaries)+len(h.messages))
	for _, s := range h.summaries {
		out = append(out, types.Message{Role: "system", Content: summaryPrefix + s})
	}
	return append(out, h.messages...)
}

// TokenEstimate returns the current size estimate, summaries included.
func (h *History) TokenEstimate() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tokens
}

// Reset clears all turns and summaries.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
	h.summaries = nil
	h.tokens = 0
}

// compact must be called with h.mu held. The lock is released for the
// duration of the summariser call.
func (h *History) compact(ctx context.Context) error {
	half := max(len(h.messages)/2, 1)
	oldest := append([]types.Message(nil), h.messages[:half]...)

	h.mu.Unlock()
	summary, err := h.summariser.Summarise(ctx, oldest)
	h.mu.Lock()
	if err != nil {
		return err
	}

	// Turns appended while unlocked stay behind the summarised prefix.
	h.messages = h.messages[half:]
	h.tokens -= llm.EstimateTokens(oldest)
	h.summaries = append(h.summaries, summary)
	h.tokens += llm.EstimateTokens([]types.Message{{Role: "system", Content: summaryPrefix + summary}})
	return nil
}
