package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nwang783/just-in-case/internal/config"
	"github.com/nwang783/just-in-case/internal/daily"
	"github.com/nwang783/just-in-case/internal/session"
	audiomock "github.com/nwang783/just-in-case/pkg/audio/mock"
	llmmock "github.com/nwang783/just-in-case/pkg/provider/llm/mock"
	sttmock "github.com/nwang783/just-in-case/pkg/provider/stt/mock"
	ttsmock "github.com/nwang783/just-in-case/pkg/provider/tts/mock"
	vadmock "github.com/nwang783/just-in-case/pkg/provider/vad/mock"
)

// testConfig returns defaults with every directory under a temp dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Transcripts.Dir = filepath.Join(dir, "transcripts")
	cfg.Transcripts.AnalysisDir = filepath.Join(dir, "transcripts", "analysis")
	cfg.Storage.SQLitePath = filepath.Join(dir, "data", "sessions.db")
	return cfg
}

func testProviders() *Providers {
	return &Providers{
		LLM:   &llmmock.Provider{},
		STT:   &sttmock.Provider{},
		TTS:   &ttsmock.Provider{},
		VAD:   &vadmock.Engine{},
		Audio: &audiomock.Platform{},
	}
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...Option) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, testProviders(), opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Providers)
	}{
		{name: "no llm", mutate: func(p *Providers) { p.LLM = nil }},
		{name: "no stt", mutate: func(p *Providers) { p.STT = nil }},
		{name: "no tts", mutate: func(p *Providers) { p.TTS = nil }},
		{name: "no audio", mutate: func(p *Providers) { p.Audio = nil }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := testProviders()
			tc.mutate(p)
			if _, err := New(context.Background(), testConfig(t), p); err == nil {
				t.Error("New() returned nil error, want error")
			}
		})
	}
	if _, err := New(context.Background(), testConfig(t), nil); err == nil {
		t.Error("New(nil providers) returned nil error, want error")
	}
}

func TestNew_ServesAPI(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a := newTestApp(t, cfg, WithRooms(&daily.Local{BaseURL: "http://coach.test", Prefix: "case-coach"}))

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/interviews")
	if err != nil {
		t.Fatalf("GET /api/interviews: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /api/interviews status = %d, want 200", resp.StatusCode)
	}

	body := `{"companySlug":"mckinsey-company","interviewType":"Problem-Solving Interview (PSI)"}`
	resp, err = http.Post(srv.URL+"/api/sessions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /api/sessions status = %d, want 201", resp.StatusCode)
	}
	var rec session.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if !strings.HasPrefix(rec.RoomURL, "http://coach.test/") {
		t.Errorf("RoomURL = %q, want prefix http://coach.test/", rec.RoomURL)
	}
	if rec.Status != session.StatusRoomCreated {
		t.Errorf("Status = %q, want %q", rec.Status, session.StatusRoomCreated)
	}

	// The transcript directories exist for the readiness check.
	for _, dir := range []string{cfg.Transcripts.Dir, cfg.Transcripts.AnalysisDir} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("stat %s: %v", dir, err)
		}
	}
}

func TestNew_SQLiteStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Backend = config.StorageSQLite
	a := newTestApp(t, cfg)

	if _, ok := a.store.(*session.MemoryStore); ok {
		t.Fatal("store is a MemoryStore, want sqlite")
	}
	if len(a.closers) != 1 {
		t.Errorf("closers = %d, want 1", len(a.closers))
	}
	if _, err := os.Stat(cfg.Storage.SQLitePath); err != nil {
		t.Errorf("sqlite file: %v", err)
	}
}

func TestNew_SystemPromptFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "prompt.md")
	if err := os.WriteFile(path, []byte("  You are a strict interviewer.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Bot.SystemPromptFile = path
	a := newTestApp(t, cfg)

	if got := a.bot.Load().SystemPrompt; got != "You are a strict interviewer." {
		t.Errorf("SystemPrompt = %q", got)
	}

	cfg2 := testConfig(t)
	cfg2.Bot.SystemPromptFile = filepath.Join(t.TempDir(), "missing.md")
	if _, err := New(context.Background(), cfg2, testProviders()); err == nil {
		t.Error("New() with missing prompt file returned nil error")
	}
}

func TestVoiceConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Bot.Vocabulary = []string{"MECE", "EBITDA"}
	cfg.Transcripts.AnalyzeOnEnd = false
	cfg.VAD.Enabled = false
	a := newTestApp(t, cfg)

	vc := a.bot.Load()
	if len(vc.Keywords) != 2 || vc.Keywords[0].Keyword != "MECE" || vc.Keywords[0].Boost != keywordBoost {
		t.Errorf("Keywords = %+v", vc.Keywords)
	}
	if vc.VAD != nil {
		t.Error("VAD set while disabled")
	}
	if vc.Analyzer != nil {
		t.Error("Analyzer set while analyze_on_end is false")
	}
	if vc.Voice.Provider != cfg.Providers.TTS.Name {
		t.Errorf("Voice.Provider = %q, want %q", vc.Voice.Provider, cfg.Providers.TTS.Name)
	}
	if vc.Corrector == nil || vc.Summariser == nil {
		t.Error("Corrector and Summariser must be set")
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	lv := new(slog.LevelVar)
	cfg := testConfig(t)
	a := newTestApp(t, cfg, WithLevelVar(lv))

	next := *cfg
	next.Server.LogLevel = config.LogDebug
	next.Bot.Greeting = "Ready when you are."
	next.Transcripts.BackfillSchedule = "@every 1h"
	a.ApplyConfig(cfg, &next)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
	if got := a.bot.Load().Greeting; got != "Ready when you are." {
		t.Errorf("Greeting = %q", got)
	}
	if a.schedule.BackfillSchedule != "@every 1h" {
		t.Errorf("BackfillSchedule = %q", a.schedule.BackfillSchedule)
	}
	select {
	case <-a.reschedule:
	default:
		t.Error("backfill was not rescheduled")
	}

	// A broken prompt file keeps the previous bot settings.
	broken := next
	broken.Bot.SystemPromptFile = filepath.Join(t.TempDir(), "missing.md")
	broken.Bot.Greeting = "ignored"
	a.ApplyConfig(&next, &broken)
	if got := a.bot.Load().Greeting; got != "Ready when you are." {
		t.Errorf("Greeting after failed reload = %q", got)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Transcripts.BackfillSchedule = "@every 1h"
	a := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	a.ApplyConfig(cfg, cfg) // no-op
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t))
	calls := 0
	a.closers = append(a.closers, func() error { calls++; return nil })

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown() = %v", err)
	}
	if calls != 1 {
		t.Errorf("closer calls = %d, want 1", calls)
	}
}

func TestShutdown_DeadlineSkipsClosers(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t))
	called := false
	a.closers = append(a.closers, func() error { called = true; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); err == nil {
		t.Error("Shutdown() with expired context returned nil")
	}
	if called {
		t.Error("closer ran after the deadline")
	}
}

func TestPublicURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		server config.ServerConfig
		want   string
	}{
		{name: "explicit", server: config.ServerConfig{PublicURL: "https://coach.example.com/", Port: 8000}, want: "https://coach.example.com"},
		{name: "wildcard host", server: config.ServerConfig{Host: "0.0.0.0", Port: 8000}, want: "http://localhost:8000"},
		{name: "named host", server: config.ServerConfig{Host: "10.0.0.5", Port: 9000}, want: "http://10.0.0.5:9000"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a := &App{cfg: &config.Config{Server: tc.server}}
			if got := a.publicURL(); got != tc.want {
				t.Errorf("publicURL() = %q, want %q", got, tc.want)
			}
		})
	}
}
