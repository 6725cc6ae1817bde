package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nwang783/just-in-case/internal/observe"
	"github.com/nwang783/just-in-case/internal/transcript"
	"github.com/nwang783/just-in-case/pkg/provider/llm"
	"github.com/nwang783/just-in-case/pkg/types"
)

const systemPrompt = "You are a case interview coach that summarizes transcripts into structured coaching insights."

const instructions = "Review the transcript from the perspective of a case interview coach. " +
	"Focus solely on evaluating the candidate (user), not the coach/assistant. " +
	"Populate every field with concise, user-facing insights and avoid repeating prompts verbatim."

var analysisGoals = []string{
	"Determine the case type and summarize the candidate's approach.",
	"Highlight candidate actions (e.g., clarifying questions, hypotheses, calculations).",
	"List candidate strengths, areas to improve, and next practice focuses.",
	"Provide 1–5 action items tailored to the candidate.",
	"Assess sentiment for the candidate and the assistant's tone.",
	"Leverage the provided vision analytics summary when commenting on engagement, confidence, or non-verbal cues.",
}

// Errors returned by [Analyzer.AnalyzeFile].
var (
	ErrEmptyTranscript  = errors.New("analysis: no transcript entries")
	ErrNoConversationID = errors.New("analysis: transcript missing conversation_id")
	ErrRefused          = errors.New("analysis: refused by model")
)

// Prompt is the user message sent to the model.
type Prompt struct {
	Instructions    string             `json:"instructions"`
	ConversationID  string             `json:"conversation_id"`
	Transcript      []transcript.Entry `json:"transcript"`
	AnalysisGoals   []string           `json:"analysis_goals"`
	VisionAnalytics VisionSummary      `json:"vision_analytics"`
}

// BuildPrompt assembles the analysis request for entries.
func BuildPrompt(entries []transcript.Entry, conversationID string) Prompt {
	return Prompt{
		Instructions:    instructions,
		ConversationID:  conversationID,
		Transcript:      entries,
		AnalysisGoals:   analysisGoals,
		VisionAnalytics: SummarizeVision(entries),
	}
}

// Report is the outcome of a successful analysis.
type Report struct {
	Path   string
	Stored Stored
}

// Option configures an [Analyzer].
type Option func(*Analyzer)

// WithMetrics records analysis latency and outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// WithTemperature sets the sampling temperature. Default: 0.2.
func WithTemperature(t float64) Option {
	return func(a *Analyzer) { a.temperature = t }
}

// Analyzer runs the coaching analysis of finished transcripts. It is safe
// for concurrent use.
type Analyzer struct {
	provider    llm.Provider
	outputDir   string
	temperature float64
	metrics     *observe.Metrics
}

// NewAnalyzer returns an Analyzer that writes results to outputDir.
func NewAnalyzer(provider llm.Provider, outputDir string, opts ...Option) (*Analyzer, error) {
	if provider == nil {
		return nil, errors.New("analysis: provider must not be nil")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("analysis: create output dir %q: %w", outputDir, err)
	}
	a := &Analyzer{
		provider:    provider,
		outputDir:   outputDir,
		temperature: 0.2,
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// OutputPath returns where the analysis of transcriptPath is written.
func (a *Analyzer) OutputPath(transcriptPath string) string {
	stem := strings.TrimSuffix(filepath.Base(transcriptPath), filepath.Ext(transcriptPath))
	return filepath.Join(a.outputDir, stem+"-analysis.json")
}

// AnalyzeFile analyses the transcript at path and writes
// <outputDir>/<stem>-analysis.json.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) (report *Report, err error) {
	start := time.Now()
	defer func() {
		if a.metrics == nil {
			return
		}
		status := "ok"
		if err != nil {
			status = "error"
		}
		a.metrics.RecordAnalysis(ctx, status, time.Since(start))
	}()

	entries, err := transcript.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w at %s", ErrEmptyTranscript, path)
	}
	conversationID := conversationIDOf(entries)
	if conversationID == "" {
		return nil, ErrNoConversationID
	}

	prompt, err := marshalNoEscape(BuildPrompt(entries, conversationID))
	if err != nil {
		return nil, fmt.Errorf("analysis: marshal prompt: %w", err)
	}
	schema, err := Schema()
	if err != nil {
		return nil, fmt.Errorf("analysis: build schema: %w", err)
	}

	slog.InfoContext(ctx, "analyzing transcript", "conversation_id", conversationID, "entries", len(entries))
	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []types.Message{{Role: "user", Content: string(prompt)}},
		Temperature:  a.temperature,
		ResponseFormat: &llm.ResponseFormat{
			Name:   "transcript_analysis",
			Schema: schema,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("analysis: complete: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: no response", ErrInvalidResult)
	}
	if resp.Refusal != "" {
		return nil, fmt.Errorf("%w: %s", ErrRefused, resp.Refusal)
	}

	result, err := ParseResult(resp.Content)
	if err != nil {
		return nil, err
	}
	result.ConversationID = conversationID

	stored := Stored{Result: *result, SourceTranscript: path}
	out := a.OutputPath(path)
	if err := writeJSON(out, stored); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "transcript analysis saved", "conversation_id", conversationID, "path", out)
	return &Report{Path: out, Stored: stored}, nil
}

func conversationIDOf(entries []transcript.Entry) string {
	for _, e := range entries {
		if id := e.ConversationID(); id != "" {
			return id
		}
	}
	return ""
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// writeJSON writes v indented to path through a temporary file so readers
// never observe a partial document.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("analysis: marshal: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".analysis-*")
	if err != nil {
		return fmt.Errorf("analysis: create temp file: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("analysis: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("analysis: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("analysis: rename: %w", err)
	}
	return nil
}
