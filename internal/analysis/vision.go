// Package analysis turns finished interview transcripts into structured
// coaching feedback.
//
// [SummarizeVision] condenses the engagement events of a transcript into
// counts and ranked reasons. [Analyzer] sends the transcript together with
// that summary to a language model and stores the structured result next to
// the transcript. [Repository] lists stored results and pending transcripts,
// and [Backfill] periodically analyses transcripts that were never analysed.
package analysis

import (
	"fmt"
	"slices"

	"github.com/nwang783/just-in-case/internal/transcript"
)

// maxExampleNotes caps [VisionSummary.ExampleNotes].
const maxExampleNotes = 10

// ReasonCount is the number of attention drops attributed to one reason.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// VisionSummary aggregates the vision engagement events of one conversation.
type VisionSummary struct {
	TotalEvents             int           `json:"total_events"`
	AttentionEvents         int           `json:"attention_events"`
	AttentionRegainedEvents int           `json:"attention_regained_events"`
	AttentionDropReasons    []ReasonCount `json:"attention_drop_reasons"`
	SmileEvents             int           `json:"smile_events"`
	SmileStartEvents        int           `json:"smile_start_events"`
	SmileStopEvents         int           `json:"smile_stop_events"`
	ExampleNotes            []string      `json:"example_notes"`
}

// SummarizeVision aggregates the "vision" event entries of a transcript in a
// single pass. Entries that are not vision events are skipped.
//
// An attention event without a reason counts as regained attention.
// Drop reasons are ranked by count, ties keeping first-seen order. Example
// notes keep transcript order and are capped at ten.
func SummarizeVision(entries []transcript.Entry) VisionSummary {
	s := VisionSummary{
		AttentionDropReasons: []ReasonCount{},
		ExampleNotes:         []string{},
	}

	index := make(map[string]int)
	for _, e := range entries {
		if e.Type() != transcript.TypeEvent || e.Event() != "vision" {
			continue
		}
		s.TotalEvents++
		if note := e.Text(); note != "" {
			s.ExampleNotes = append(s.ExampleNotes, note)
		}

		md := e.Metadata()
		switch md["event_type"] {
		case "attention":
			s.AttentionEvents++
			reason, ok := reasonOf(md["reason"])
			if !ok {
				s.AttentionRegainedEvents++
				continue
			}
			if i, seen := index[reason]; seen {
				s.AttentionDropReasons[i].Count++
				continue
			}
			index[reason] = len(s.AttentionDropReasons)
			s.AttentionDropReasons = append(s.AttentionDropReasons, ReasonCount{Reason: reason, Count: 1})
		case "smile":
			s.SmileEvents++
			if truthy(md["smiling"]) {
				s.SmileStartEvents++
			} else {
				s.SmileStopEvents++
			}
		}
	}

	slices.SortStableFunc(s.AttentionDropReasons, func(a, b ReasonCount) int {
		return b.Count - a.Count
	})
	if len(s.ExampleNotes) > maxExampleNotes {
		s.ExampleNotes = s.ExampleNotes[:maxExampleNotes]
	}
	return s
}

func reasonOf(v any) (string, bool) {
	if !truthy(v) {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// truthy mirrors JSON truthiness: false, null, 0, "" and empty containers
// are false.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case int:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}
