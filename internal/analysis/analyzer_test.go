package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nwang783/just-in-case/internal/transcript"
	"github.com/nwang783/just-in-case/pkg/provider/llm"
	"github.com/nwang783/just-in-case/pkg/provider/llm/mock"
)

const validResult = `{
  "conversation_id": "model-made-this-up",
  "case_summary": {
    "case_type": "market sizing",
    "overall_summary": "Structured approach with a clear top-down estimate.",
    "user_confidence": "medium"
  },
  "key_events": [
    {"timestamp": "2024-01-01T00:00:05Z", "speaker": "user", "message": "Asked about the geography."}
  ],
  "coaching_feedback": {
    "strengths": ["Clear structure"],
    "areas_for_improvement": ["Sanity-check numbers"],
    "next_practice_focus": ["Profitability cases"]
  },
  "action_items": ["Practise mental math daily"],
  "sentiment": {"user": "positive", "assistant": "supportive"},
  "engagement_summary": {"summary": "Mostly attentive with two brief glances away."}
}`

// writeTranscript records a short finished interview and returns its path.
func writeTranscript(t *testing.T, dir string, end bool) string {
	t.Helper()
	w, err := transcript.NewWriter(transcript.WriterConfig{
		Dir:     dir,
		RoomURL: "https://example.daily.co/case-coach-test",
		BotName: "Case Coach",
	})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(w.RecordMessage(transcript.RoleAssistant, "Estimate the market for electric scooters in Berlin.", nil))
	must(w.RecordMessage(transcript.RoleUser, "Should I consider rentals as well as purchases?", nil))
	must(w.RecordEvent("vision", "Attention lost (looking away).", map[string]any{
		"event_type":      "attention",
		"attention_score": 0.4,
		"smile_score":     0.1,
		"attention":       false,
		"reason":          "looking_away",
	}))
	if end {
		must(w.MarkConversationEnd(""))
	}
	return w.Path()
}

func TestAnalyzeFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTranscript(t, filepath.Join(dir, "transcripts"), true)
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: validResult}}

	a, err := NewAnalyzer(p, filepath.Join(dir, "analysis"))
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	report, err := a.AnalyzeFile(context.Background(), path)
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}

	id := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	if want := filepath.Join(dir, "analysis", id+"-analysis.json"); report.Path != want {
		t.Errorf("Path = %q, want %q", report.Path, want)
	}
	if report.Stored.ConversationID != id {
		t.Errorf("ConversationID = %q, want %q", report.Stored.ConversationID, id)
	}
	if report.Stored.SourceTranscript != path {
		t.Errorf("SourceTranscript = %q, want %q", report.Stored.SourceTranscript, path)
	}

	data, err := os.ReadFile(report.Path)
	if err != nil {
		t.Fatal(err)
	}
	var onDisk map[string]any
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("stored analysis is not JSON: %v", err)
	}
	if onDisk["conversation_id"] != id {
		t.Errorf("stored conversation_id = %v, want %q", onDisk["conversation_id"], id)
	}
	if !strings.Contains(string(data), "\n  \"case_summary\"") {
		t.Error("stored analysis is not indented")
	}

	reqs := p.CompleteRequests()
	if len(reqs) != 1 {
		t.Fatalf("Complete called %d times, want 1", len(reqs))
	}
	req := reqs[0]
	if req.SystemPrompt != systemPrompt {
		t.Errorf("SystemPrompt = %q", req.SystemPrompt)
	}
	if req.ResponseFormat == nil || len(req.ResponseFormat.Schema) == 0 {
		t.Fatal("ResponseFormat schema missing")
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("Messages = %+v, want one user message", req.Messages)
	}

	var prompt Prompt
	if err := json.Unmarshal([]byte(req.Messages[0].Content), &prompt); err != nil {
		t.Fatalf("prompt is not JSON: %v", err)
	}
	if prompt.ConversationID != id {
		t.Errorf("prompt conversation_id = %q, want %q", prompt.ConversationID, id)
	}
	if len(prompt.AnalysisGoals) != 6 {
		t.Errorf("analysis_goals = %d, want 6", len(prompt.AnalysisGoals))
	}
	if prompt.VisionAnalytics.AttentionEvents != 1 {
		t.Errorf("vision attention_events = %d, want 1", prompt.VisionAnalytics.AttentionEvents)
	}
	if len(prompt.Transcript) != 5 {
		t.Errorf("transcript entries = %d, want 5", len(prompt.Transcript))
	}
}

func TestAnalyzeFile_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	valid := writeTranscript(t, filepath.Join(dir, "transcripts"), true)

	empty := filepath.Join(dir, "empty.jsonl")
	if err := os.WriteFile(empty, []byte("\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	noID := filepath.Join(dir, "noid.jsonl")
	if err := os.WriteFile(noID, []byte(`{"type":"message","role":"user","text":"hi"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		resp    *llm.CompletionResponse
		respErr error
		wantErr error
	}{
		{name: "empty transcript", path: empty, wantErr: ErrEmptyTranscript},
		{name: "no conversation id", path: noID, wantErr: ErrNoConversationID},
		{name: "refusal", path: valid, resp: &llm.CompletionResponse{Refusal: "no"}, wantErr: ErrRefused},
		{name: "empty content", path: valid, resp: &llm.CompletionResponse{}, wantErr: ErrInvalidResult},
		{name: "nil response", path: valid, wantErr: ErrInvalidResult},
		{name: "provider error", path: valid, respErr: errors.New("boom")},
		{name: "bad enum", path: valid, resp: &llm.CompletionResponse{
			Content: strings.Replace(validResult, `"medium"`, `"very high"`, 1),
		}, wantErr: ErrInvalidResult},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := &mock.Provider{CompleteResponse: tc.resp, CompleteErr: tc.respErr}
			a, err := NewAnalyzer(p, filepath.Join(t.TempDir(), "analysis"))
			if err != nil {
				t.Fatal(err)
			}
			_, err = a.AnalyzeFile(context.Background(), tc.path)
			if err == nil {
				t.Fatal("AnalyzeFile succeeded, want error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestParseResult(t *testing.T) {
	t.Parallel()

	t.Run("code fences", func(t *testing.T) {
		t.Parallel()
		r, err := ParseResult("```json\n" + validResult + "\n```")
		if err != nil {
			t.Fatalf("ParseResult: %v", err)
		}
		if r.CaseSummary.CaseType != "market sizing" {
			t.Errorf("CaseType = %q", r.CaseSummary.CaseType)
		}
	})

	t.Run("truncates long lists", func(t *testing.T) {
		t.Parallel()
		var doc map[string]any
		if err := json.Unmarshal([]byte(validResult), &doc); err != nil {
			t.Fatal(err)
		}
		doc["action_items"] = []string{"a", "b", "c", "d", "e", "f", "g"}
		raw, _ := json.Marshal(doc)
		r, err := ParseResult(string(raw))
		if err != nil {
			t.Fatalf("ParseResult: %v", err)
		}
		if len(r.ActionItems) != maxActionItems {
			t.Errorf("ActionItems = %d, want %d", len(r.ActionItems), maxActionItems)
		}
	})

	t.Run("missing section", func(t *testing.T) {
		t.Parallel()
		var doc map[string]any
		if err := json.Unmarshal([]byte(validResult), &doc); err != nil {
			t.Fatal(err)
		}
		sentiment := doc["sentiment"].(map[string]any)
		delete(sentiment, "assistant")
		raw, _ := json.Marshal(doc)
		if _, err := ParseResult(string(raw)); !errors.Is(err, ErrInvalidResult) {
			t.Errorf("err = %v, want ErrInvalidResult", err)
		}
	})

	t.Run("not json", func(t *testing.T) {
		t.Parallel()
		if _, err := ParseResult("I cannot help with that."); !errors.Is(err, ErrInvalidResult) {
			t.Errorf("err = %v, want ErrInvalidResult", err)
		}
	})
}

func TestSchema(t *testing.T) {
	t.Parallel()

	raw, err := Schema()
	if err != nil {
		t.Fatal(err)
	}
	var s struct {
		Type                 string         `json:"type"`
		Required             []string       `json:"required"`
		AdditionalProperties *bool          `json:"additionalProperties"`
		Properties           map[string]any `json:"properties"`
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatal(err)
	}
	if s.Type != "object" {
		t.Errorf("type = %q, want object", s.Type)
	}
	if s.AdditionalProperties == nil || *s.AdditionalProperties {
		t.Error("additionalProperties should be false")
	}
	for _, field := range []string{"case_summary", "key_events", "coaching_feedback", "action_items", "sentiment", "engagement_summary"} {
		if _, ok := s.Properties[field]; !ok {
			t.Errorf("schema missing property %q", field)
		}
	}
}

func TestAnalyzer_OutputPath(t *testing.T) {
	t.Parallel()

	a, err := NewAnalyzer(&mock.Provider{}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	got := a.OutputPath("/data/transcripts/conversation-20240101-000000-abcd1234.jsonl")
	if filepath.Base(got) != "conversation-20240101-000000-abcd1234-analysis.json" {
		t.Errorf("OutputPath = %q", got)
	}
}

func TestRepository(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	transcripts := filepath.Join(dir, "transcripts")
	analyses := filepath.Join(dir, "analysis")
	repo, err := NewRepository(transcripts, analyses)
	if err != nil {
		t.Fatal(err)
	}

	analysed := writeTranscript(t, transcripts, true)
	a, err := NewAnalyzer(&mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: validResult}}, analyses)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.AnalyzeFile(context.Background(), analysed); err != nil {
		t.Fatal(err)
	}
	analysedID := strings.TrimSuffix(filepath.Base(analysed), ".jsonl")

	pendingPath := filepath.Join(transcripts, "conversation-20990101-000000-deadbeef.jsonl")
	if err := os.WriteFile(pendingPath, []byte(`{"type":"metadata","conversation_id":"conversation-20990101-000000-deadbeef"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(pendingPath, future, future); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(analyses, "broken-analysis.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("ready only", func(t *testing.T) {
		got, err := repo.List(DefaultListLimit, false)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Fatalf("List = %d entries, want 1", len(got))
		}
		if got[0].ConversationID != analysedID || got[0].Status != StatusReady || got[0].Analysis == nil {
			t.Errorf("List[0] = %+v", got[0])
		}
	})

	t.Run("include pending newest first", func(t *testing.T) {
		got, err := repo.List(DefaultListLimit, true)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Fatalf("List = %d entries, want 2", len(got))
		}
		if got[0].Status != StatusPending || got[0].ConversationID != "conversation-20990101-000000-deadbeef" {
			t.Errorf("List[0] = %+v, want the pending transcript", got[0])
		}
		if got[1].ConversationID != analysedID {
			t.Errorf("List[1] = %+v", got[1])
		}
	})

	t.Run("limit clamped", func(t *testing.T) {
		got, err := repo.List(0, true)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Errorf("List(0) = %d entries, want 1", len(got))
		}
	})

	t.Run("status", func(t *testing.T) {
		st, ok := repo.Status(analysedID)
		if !ok || st.Status != StatusReady {
			t.Errorf("Status(%q) = %+v, %v", analysedID, st, ok)
		}
		st, ok = repo.Status("conversation-20990101-000000-deadbeef")
		if !ok || st.Status != StatusPending || st.Analysis != nil {
			t.Errorf("Status(pending) = %+v, %v", st, ok)
		}
		if _, ok := repo.Status("conversation-unknown"); ok {
			t.Error("Status(unknown) ok = true")
		}
	})
}

func TestBackfill_RunOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	transcripts := filepath.Join(dir, "transcripts")
	analyses := filepath.Join(dir, "analysis")
	repo, err := NewRepository(transcripts, analyses)
	if err != nil {
		t.Fatal(err)
	}

	ended := writeTranscript(t, transcripts, true)
	live := writeTranscript(t, transcripts, false)

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: validResult}}
	a, err := NewAnalyzer(p, analyses)
	if err != nil {
		t.Fatal(err)
	}

	n, err := NewBackfill(a, repo, 2).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Errorf("analysed = %d, want 1", n)
	}
	if _, err := os.Stat(a.OutputPath(ended)); err != nil {
		t.Errorf("ended transcript not analysed: %v", err)
	}
	if _, err := os.Stat(a.OutputPath(live)); err == nil {
		t.Error("live transcript was analysed")
	}

	n, err = NewBackfill(a, repo, 2).RunOnce(context.Background())
	if err != nil || n != 0 {
		t.Errorf("second RunOnce = %d, %v; want 0, nil", n, err)
	}
}
