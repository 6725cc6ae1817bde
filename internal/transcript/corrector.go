package transcript

import (
	"strings"

	"github.com/nwang783/just-in-case/internal/transcript/phonetic"
)

// Correction is one substitution applied to a speech-to-text final.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Corrector fixes misheard domain terms in speech-to-text output using a
// phonetic [phonetic.Vocabulary]. It is safe for concurrent use.
type Corrector struct {
	vocab *phonetic.Vocabulary
}

// NewCorrector returns a Corrector for vocab. A nil or empty vocabulary makes
// Correct a no-op.
func NewCorrector(vocab *phonetic.Vocabulary) *Corrector {
	return &Corrector{vocab: vocab}
}

// Correct scans text left to right, trying the longest word window first at
// every position so multi-word terms win over partial single-word matches.
// Windows that already equal their match (ignoring case) are kept as spoken.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if c == nil || c.vocab == nil || c.vocab.Len() == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		consumed := 1
		replacement := tokens[i]
		for n := min(c.vocab.MaxWords(), len(tokens)-i); n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			bare, trail := splitTrailingPunct(window)
			// Very short words sound like too many things.
			if len(bare) < 3 {
				continue
			}
			match, score, ok := c.vocab.Match(bare)
			if !ok {
				continue
			}
			consumed = n
			replacement = match + trail
			if !strings.EqualFold(match, bare) {
				corrections = append(corrections, Correction{
					Original:   bare,
					Corrected:  match,
					Confidence: score,
				})
			} else {
				replacement = window
			}
			break
		}
		out = append(out, replacement)
		i += consumed
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

func splitTrailingPunct(s string) (string, string) {
	end := len(s)
	for end > 0 && strings.ContainsRune(".,!?;:", rune(s[end-1])) {
		end--
	}
	return s[:end], s[end:]
}
