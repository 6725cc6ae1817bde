package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// maxLineSize bounds a single transcript line.
const maxLineSize = 4 << 20

// ReadFile decodes every non-blank line of the transcript at path.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: open %q: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("transcript: %s:%d: %w", path, line, err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("transcript: read %q: %w", path, err)
	}
	return entries, nil
}

// HasEnded reports whether entries contain a conversation_end line.
func HasEnded(entries []Entry) bool {
	for _, e := range entries {
		if e.Type() == TypeConversationEnd {
			return true
		}
	}
	return false
}
