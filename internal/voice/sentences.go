package voice

import (
	"context"
	"strings"

	"github.com/nwang783/just-in-case/pkg/provider/llm"
)

// forwardSentences reads chunks from ch and writes every complete sentence to
// textCh as soon as it is available. The remainder is flushed when the stream
// finishes. textCh is closed on return. The returned string is everything the
// model produced up to that point.
//
// onFirst, if non-nil, is called once with the first non-empty chunk.
func forwardSentences(ctx context.Context, ch <-chan llm.Chunk, textCh chan<- string, onFirst func()) string {
	defer close(textCh)

	var (
		full strings.Builder
		buf  strings.Builder
	)
	send := func(s string) bool {
		if strings.TrimSpace(s) == "" {
			return true
		}
		select {
		case textCh <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			go drainChunks(ch)
			return full.String()
		case chunk, ok := <-ch:
			if !ok {
				send(buf.String())
				return full.String()
			}
			if chunk.Text != "" {
				if onFirst != nil && full.Len() == 0 {
					onFirst()
				}
				full.WriteString(chunk.Text)
				buf.WriteString(chunk.Text)
			}

			for {
				s := buf.String()
				idx := firstSentenceBoundary(s)
				if idx < 0 {
					break
				}
				buf.Reset()
				buf.WriteString(strings.TrimLeft(s[idx+1:], " \t\n\r"))
				if !send(s[:idx+1]) {
					go drainChunks(ch)
					return full.String()
				}
			}

			if chunk.FinishReason != "" {
				send(buf.String())
				go drainChunks(ch)
				return full.String()
			}
		}
	}
}

// firstSentenceBoundary returns the index of the first '.', '!' or '?' that
// is followed by whitespace, or -1.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
