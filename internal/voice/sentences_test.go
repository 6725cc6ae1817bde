package voice

import (
	"context"
	"testing"

	"github.com/nwang783/just-in-case/pkg/provider/llm"
)

func TestFirstSentenceBoundary(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", -1},
		{"No boundary yet", -1},
		{"Ends here.", -1},
		{"First. Second", 5},
		{"Really? Yes", 6},
		{"Revenue is $2.5 billion. Next", 23},
		{"Wow!\nOkay", 3},
	}
	for _, tt := range tests {
		if got := firstSentenceBoundary(tt.in); got != tt.want {
			t.Errorf("firstSentenceBoundary(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func feed(chunks ...llm.Chunk) <-chan llm.Chunk {
	ch := make(chan llm.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestForwardSentences(t *testing.T) {
	textCh := make(chan string, 16)
	first := 0
	full := forwardSentences(context.Background(), feed(
		llm.Chunk{Text: "Great. Let's "},
		llm.Chunk{Text: "size the market! How"},
		llm.Chunk{Text: " would you start", FinishReason: "stop"},
	), textCh, func() { first++ })

	var got []string
	for s := range textCh {
		got = append(got, s)
	}
	want := []string{"Great.", "Let's size the market!", "How would you start"}
	if len(got) != len(want) {
		t.Fatalf("sentences = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
	if full != "Great. Let's size the market! How would you start" {
		t.Errorf("full = %q", full)
	}
	if first != 1 {
		t.Errorf("onFirst called %d times", first)
	}
}

func TestForwardSentences_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch := make(chan llm.Chunk)
	textCh := make(chan string)
	full := forwardSentences(ctx, ch, textCh, nil)
	if full != "" {
		t.Errorf("full = %q", full)
	}
	if _, ok := <-textCh; ok {
		t.Error("textCh not closed")
	}
	close(ch)
}
