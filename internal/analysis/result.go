package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// List limits applied to model output.
const (
	maxKeyEvents    = 6
	maxFeedbackList = 5
	maxActionItems  = 5
)

// ErrInvalidResult is returned when model output does not match [Result].
var ErrInvalidResult = errors.New("analysis: result does not match schema")

// KeyEvent is a notable moment of the interview.
type KeyEvent struct {
	Timestamp string `json:"timestamp,omitempty"`
	Speaker   string `json:"speaker"`
	Message   string `json:"message"`
}

// CaseSummary describes the case and the candidate's overall approach.
type CaseSummary struct {
	CaseType       string `json:"case_type"`
	OverallSummary string `json:"overall_summary"`
	UserConfidence string `json:"user_confidence" jsonschema:"enum=high,enum=medium,enum=low"`
}

// CoachingFeedback lists what went well and what to practise next.
type CoachingFeedback struct {
	Strengths           []string `json:"strengths" jsonschema:"maxItems=5"`
	AreasForImprovement []string `json:"areas_for_improvement" jsonschema:"maxItems=5"`
	NextPracticeFocus   []string `json:"next_practice_focus" jsonschema:"maxItems=5"`
}

// Sentiment rates the candidate and the interviewer tone.
type Sentiment struct {
	User      string `json:"user" jsonschema:"enum=positive,enum=neutral,enum=negative"`
	Assistant string `json:"assistant" jsonschema:"enum=supportive,enum=neutral,enum=critical"`
}

// EngagementSummary interprets the candidate's non-verbal engagement.
type EngagementSummary struct {
	Summary string `json:"summary" jsonschema_description:"Narrative summary about the candidate's engagement, referencing vision analytics."`
}

// Result is the structured coaching feedback produced for one transcript.
type Result struct {
	ConversationID    string            `json:"conversation_id"`
	CaseSummary       CaseSummary       `json:"case_summary"`
	KeyEvents         []KeyEvent        `json:"key_events" jsonschema:"maxItems=6"`
	CoachingFeedback  CoachingFeedback  `json:"coaching_feedback"`
	ActionItems       []string          `json:"action_items" jsonschema:"maxItems=5"`
	Sentiment         Sentiment         `json:"sentiment"`
	EngagementSummary EngagementSummary `json:"engagement_summary"`
}

// Stored is the analysis document written to disk.
type Stored struct {
	Result
	SourceTranscript string `json:"source_transcript"`
}

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// Schema returns the JSON Schema of [Result].
func Schema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := jsonschema.Reflector{
			AllowAdditionalProperties: false,
			ExpandedStruct:            true,
			DoNotReference:            true,
			Anonymous:                 true,
		}
		s := r.Reflect(&Result{})
		s.Version = ""
		s.Title = "TranscriptAnalysisResult"
		schemaJSON, schemaErr = json.Marshal(s)
	})
	return schemaJSON, schemaErr
}

// ParseResult decodes model output into a Result. Surrounding markdown code
// fences are ignored, over-long lists are truncated and nil lists become
// empty. The normalised document must validate against [Schema].
func ParseResult(content string) (*Result, error) {
	raw := stripFences(content)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidResult)
	}

	var r Result
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	r.normalize()

	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Result) normalize() {
	r.KeyEvents = truncate(r.KeyEvents, maxKeyEvents)
	r.ActionItems = truncate(r.ActionItems, maxActionItems)
	r.CoachingFeedback.Strengths = truncate(r.CoachingFeedback.Strengths, maxFeedbackList)
	r.CoachingFeedback.AreasForImprovement = truncate(r.CoachingFeedback.AreasForImprovement, maxFeedbackList)
	r.CoachingFeedback.NextPracticeFocus = truncate(r.CoachingFeedback.NextPracticeFocus, maxFeedbackList)
}

func (r *Result) validate() error {
	schema, err := Schema()
	if err != nil {
		return fmt.Errorf("analysis: build schema: %w", err)
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("analysis: marshal result: %w", err)
	}
	res, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("analysis: validate: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidResult, strings.Join(msgs, "; "))
}

func truncate[T any](s []T, n int) []T {
	if s == nil {
		return []T{}
	}
	if len(s) > n {
		return s[:n]
	}
	return s
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
