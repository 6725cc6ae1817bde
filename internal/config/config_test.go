package config_test

import (
	"errors"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/nwang783/just-in-case/internal/config"
	"github.com/nwang783/just-in-case/pkg/audio"
	"github.com/nwang783/just-in-case/pkg/provider/llm"
	llmmock "github.com/nwang783/just-in-case/pkg/provider/llm/mock"
	"github.com/nwang783/just-in-case/pkg/provider/vad"
)

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
	if got := cfg.Server.Addr(); got != "0.0.0.0:8000" {
		t.Errorf("Addr = %q, want 0.0.0.0:8000", got)
	}
	if !cfg.Server.IsDevelopment() || cfg.Server.IsProduction() {
		t.Errorf("environment helpers wrong for %q", cfg.Server.Environment)
	}
	if cfg.Providers.LLM.Model != "gpt-4o" {
		t.Errorf("LLM model = %q", cfg.Providers.LLM.Model)
	}
	if cfg.Bot.Name != "Case Interview Coach" {
		t.Errorf("bot name = %q", cfg.Bot.Name)
	}
	if cfg.Engagement.MinEventGap != 2500*time.Millisecond {
		t.Errorf("min event gap = %v", cfg.Engagement.MinEventGap)
	}
}

func TestLogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level config.LogLevel
		valid bool
		slog  slog.Level
	}{
		{config.LogDebug, true, slog.LevelDebug},
		{config.LogInfo, true, slog.LevelInfo},
		{config.LogWarn, true, slog.LevelWarn},
		{config.LogError, true, slog.LevelError},
		{"verbose", false, slog.LevelInfo},
		{"", false, slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			t.Parallel()
			if got := tt.level.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
			if got := tt.level.SlogLevel(); got != tt.slog {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.slog)
			}
		})
	}
}

func TestVADConfig_Params(t *testing.T) {
	t.Parallel()
	c := config.VADConfig{Enabled: true, Confidence: 0.7, StartSecs: 0.2, StopSecs: 0.8, MinVolume: 0.6}
	got := c.Params()
	want := vad.Config{Confidence: 0.7, StartDelay: 200 * time.Millisecond, StopDelay: 800 * time.Millisecond, MinVolume: 0.6}
	if got != want {
		t.Errorf("Params() = %+v, want %+v", got, want)
	}

	c.TurnDetection = true
	if got := c.Params().StopDelay; got != vad.TurnDetectionStopDelay {
		t.Errorf("turn detection StopDelay = %v, want %v", got, vad.TurnDetectionStopDelay)
	}
}

func TestStorageBackend_IsValid(t *testing.T) {
	t.Parallel()
	for _, b := range []config.StorageBackend{config.StorageMemory, config.StorageSQLite, config.StoragePostgres} {
		if !b.IsValid() {
			t.Errorf("%q should be valid", b)
		}
	}
	if config.StorageBackend("redis").IsValid() {
		t.Error("redis should be invalid")
	}
}

func TestRegistry_CreateLLM(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := &llmmock.Provider{}
	var gotEntry config.ProviderEntry
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return want, nil
	})

	p, err := reg.CreateLLM(config.ProviderEntry{Name: "openai", Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if p != want {
		t.Errorf("CreateLLM returned %v, want the registered provider", p)
	}
	if gotEntry.Model != "gpt-4o" {
		t.Errorf("factory got entry %+v", gotEntry)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	tests := []struct {
		name string
		call func() error
	}{
		{"llm", func() error { _, err := reg.CreateLLM(config.ProviderEntry{Name: "x"}); return err }},
		{"stt", func() error { _, err := reg.CreateSTT(config.ProviderEntry{Name: "x"}); return err }},
		{"tts", func() error { _, err := reg.CreateTTS(config.ProviderEntry{Name: "x"}); return err }},
		{"vad", func() error { _, err := reg.CreateVAD(config.ProviderEntry{Name: "x"}); return err }},
		{"audio", func() error { _, err := reg.CreateAudio(config.ProviderEntry{Name: "x"}); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.call(); !errors.Is(err, config.ErrProviderNotRegistered) {
				t.Errorf("err = %v, want ErrProviderNotRegistered", err)
			}
		})
	}
}

func TestRegistry_FactoryErrorWrapped(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterAudio("wsroom", func(config.ProviderEntry) (audio.Platform, error) { return nil, boom })

	_, err := reg.CreateAudio(config.ProviderEntry{Name: "wsroom"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if errors.Is(err, config.ErrProviderNotRegistered) {
		t.Error("factory failure must not look like a missing registration")
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) { return nil, nil })
	reg.RegisterLLM("anthropic", func(config.ProviderEntry) (llm.Provider, error) { return nil, nil })

	names := reg.Names()
	if !slices.Equal(names["llm"], []string{"anthropic", "openai"}) {
		t.Errorf("llm names = %v", names["llm"])
	}
	if len(names["tts"]) != 0 {
		t.Errorf("tts names = %v, want none", names["tts"])
	}
}
