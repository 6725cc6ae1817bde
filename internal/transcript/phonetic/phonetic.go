// Package phonetic matches misheard phrases against a fixed vocabulary of
// interview terms (firm names, finance jargon, framework names) by sound.
//
// Matching is two-staged. Double Metaphone codes of the phrase and of each
// term are compared first; terms sharing a code are ranked by Jaro-Winkler
// similarity and accepted above the phonetic threshold. When no term shares
// a code, a plain Jaro-Winkler pass with a stricter fuzzy threshold is used.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Vocabulary].
type Option func(*Vocabulary)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a term that
// shares a phonetic code with the phrase. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(v *Vocabulary) { v.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a term that
// shares no phonetic code with the phrase. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(v *Vocabulary) { v.fuzzyThreshold = threshold }
}

type term struct {
	text   string
	tokens []string
	codes  map[string]struct{}
}

// Vocabulary is an immutable set of terms prepared for phonetic lookup.
// It is safe for concurrent use.
type Vocabulary struct {
	terms             []term
	maxWords          int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewVocabulary prepares terms for matching. Blank terms are ignored.
func NewVocabulary(terms []string, opts ...Option) *Vocabulary {
	v := &Vocabulary{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(v)
	}
	for _, t := range terms {
		lower := strings.ToLower(strings.TrimSpace(t))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		v.terms = append(v.terms, term{
			text:   strings.TrimSpace(t),
			tokens: tokens,
			codes:  codesFor(tokens),
		})
		v.maxWords = max(v.maxWords, len(tokens))
	}
	return v
}

// Len returns the number of terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// MaxWords returns the word count of the longest term.
func (v *Vocabulary) MaxWords() int { return v.maxWords }

// Match returns the term that best matches phrase. When ok is false, term is
// phrase unchanged and score is 0.
func (v *Vocabulary) Match(phrase string) (match string, score float64, ok bool) {
	lower := strings.ToLower(strings.TrimSpace(phrase))
	if lower == "" || len(v.terms) == 0 {
		return phrase, 0, false
	}
	tokens := strings.Fields(lower)
	codes := codesFor(tokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range v.terms {
		// Phrases only compete with terms of the same length in words, so a
		// window like "bane is" never collapses into "Bain".
		if len(t.tokens) != len(tokens) {
			continue
		}
		s := similarity(tokens, t.tokens)
		if overlaps(codes, t.codes) {
			if s >= v.phoneticThreshold && (!bestPhonetic || s > bestScore) {
				best, bestScore, bestPhonetic = t.text, s, true
			}
			continue
		}
		if !bestPhonetic && s >= v.fuzzyThreshold && s > bestScore {
			best, bestScore = t.text, s
		}
	}
	if best == "" {
		return phrase, 0, false
	}
	return best, bestScore, true
}

func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, tok := range tokens {
		primary, secondary := matchr.DoubleMetaphone(tok)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the better Jaro-Winkler score of the whole phrases and the
// space-stripped phrases ("ebit da" vs "e bitda").
func similarity(a, b []string) float64 {
	score := matchr.JaroWinkler(strings.Join(a, " "), strings.Join(b, " "), false)
	if len(a) > 1 {
		score = max(score, matchr.JaroWinkler(strings.Join(a, ""), strings.Join(b, ""), false))
	}
	return score
}
