package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/nwang783/just-in-case/internal/config"
)

func TestDiff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		check   func(t *testing.T, d config.ConfigDiff)
		changed bool
	}{
		{
			name:   "identical",
			mutate: func(*config.Config) {},
			check:  func(*testing.T, config.ConfigDiff) {},
		},
		{
			name:    "log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			changed: true,
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
					t.Errorf("log level diff = %+v", d)
				}
				if len(d.RestartRequired) != 0 {
					t.Errorf("log level must not require restart: %v", d.RestartRequired)
				}
			},
		},
		{
			name:    "vocabulary",
			mutate:  func(c *config.Config) { c.Bot.Vocabulary = []string{"EBITDA"} },
			changed: true,
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.BotChanged {
					t.Error("BotChanged = false")
				}
			},
		},
		{
			name:    "vad and engagement",
			mutate:  func(c *config.Config) { c.VAD.StopSecs = 1.2; c.Engagement.MinEventGap = time.Second },
			changed: true,
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.VADChanged || !d.EngagementChanged || d.BotChanged {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name:    "backfill schedule",
			mutate:  func(c *config.Config) { c.Transcripts.BackfillSchedule = "@hourly" },
			changed: true,
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.BackfillChanged || len(d.RestartRequired) != 0 {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name: "restart sections",
			mutate: func(c *config.Config) {
				c.Server.Port = 9001
				c.Providers.LLM.Model = "gpt-4o-mini"
				c.Storage.Backend = config.StorageSQLite
				c.Daily.RoomPrefix = "mock"
				c.Transcripts.Dir = "elsewhere"
			},
			changed: true,
			check: func(t *testing.T, d config.ConfigDiff) {
				want := []string{"server", "providers", "daily", "storage", "transcripts"}
				if !slices.Equal(d.RestartRequired, want) {
					t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := config.Default(), config.Default()
			tt.mutate(new)
			d := config.Diff(old, new)
			if d.HasChanges() != tt.changed {
				t.Errorf("HasChanges() = %v, want %v (%+v)", d.HasChanges(), tt.changed, d)
			}
			tt.check(t, d)
		})
	}
}
