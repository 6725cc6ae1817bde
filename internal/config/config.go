// Package config provides the configuration schema, loader, and provider registry
// for the casecoach server.
package config

import (
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nwang783/just-in-case/pkg/provider/vad"
)

// LogLevel controls log verbosity for the casecoach server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the matching [slog.Level]. Unknown levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Environment names the deployment the server runs in.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// StorageBackend selects where session records are kept.
type StorageBackend string

const (
	StorageMemory   StorageBackend = "memory"
	StorageSQLite   StorageBackend = "sqlite"
	StoragePostgres StorageBackend = "postgres"
)

// IsValid reports whether b is a recognised storage backend.
func (b StorageBackend) IsValid() bool {
	switch b {
	case StorageMemory, StorageSQLite, StoragePostgres:
		return true
	}
	return false
}

// Config is the root configuration structure for casecoach.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Bot         BotConfig         `yaml:"bot"`
	VAD         VADConfig         `yaml:"vad"`
	Daily       DailyConfig       `yaml:"daily"`
	Storage     StorageConfig     `yaml:"storage"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
	Engagement  EngagementConfig  `yaml:"engagement"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// LogLevel controls verbosity. Case-insensitive in the file.
	LogLevel LogLevel `yaml:"log_level"`

	Environment Environment `yaml:"environment"`

	// AllowedOrigins is appended to the built-in local frontend origins.
	// FRONTEND_ALLOWED_ORIGINS (comma separated) extends it further.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// PublicURL is the externally reachable base URL, used to build room
	// URLs when no Daily API key is configured.
	PublicURL string `yaml:"public_url"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// IsDevelopment reports whether the server runs in development mode.
func (s ServerConfig) IsDevelopment() bool {
	return strings.EqualFold(string(s.Environment), string(EnvDevelopment))
}

// IsProduction reports whether the server runs in production mode.
func (s ServerConfig) IsProduction() bool {
	return strings.EqualFold(string(s.Environment), string(EnvProduction))
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM         ProviderEntry `yaml:"llm"`
	LLMFallback ProviderEntry `yaml:"llm_fallback"`

	// Analysis is the model used for post-interview coaching reports.
	// When unset the interviewer LLM is reused.
	Analysis ProviderEntry `yaml:"analysis"`

	STT         ProviderEntry `yaml:"stt"`
	TTS         ProviderEntry `yaml:"tts"`
	TTSFallback ProviderEntry `yaml:"tts_fallback"`
	VAD         ProviderEntry `yaml:"vad"`
	Audio       ProviderEntry `yaml:"audio"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// BotConfig describes the interviewer.
type BotConfig struct {
	Name     string `yaml:"name"`
	Greeting string `yaml:"greeting"`

	// SystemPromptFile is read at startup. Relative paths resolve against the
	// config file's directory. Empty selects the built-in persona.
	SystemPromptFile string `yaml:"system_prompt_file"`

	Voice    VoiceConfig `yaml:"voice"`
	Language string      `yaml:"language"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// ContextWindow is the history token budget before older turns are
	// summarised. Zero disables compaction.
	ContextWindow int `yaml:"context_window"`

	// Vocabulary lists domain terms used for STT keyword boosting and
	// phonetic correction.
	Vocabulary []string `yaml:"vocabulary"`
}

// VoiceConfig specifies the TTS voice.
type VoiceConfig struct {
	// ID is the provider-specific voice identifier.
	ID string `yaml:"id"`

	// SpeedFactor adjusts speaking rate in the range [0.5, 2.0]. 0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`
}

// VADConfig tunes voice activity detection on participant audio.
type VADConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Confidence float64 `yaml:"confidence"`
	StartSecs  float64 `yaml:"start_secs"`
	StopSecs   float64 `yaml:"stop_secs"`
	MinVolume  float64 `yaml:"min_volume"`

	// TurnDetection shortens the stop delay so an external end-of-turn model
	// can decide when the candidate is done.
	TurnDetection bool `yaml:"turn_detection"`
}

// Params converts c into the engine parameters. Turn detection overrides
// the stop delay with [vad.TurnDetectionStopDelay].
func (c VADConfig) Params() vad.Config {
	stop := secs(c.StopSecs)
	if c.TurnDetection {
		stop = vad.TurnDetectionStopDelay
	}
	return vad.Config{
		Confidence: c.Confidence,
		StartDelay: secs(c.StartSecs),
		StopDelay:  stop,
		MinVolume:  c.MinVolume,
	}
}

// DailyConfig configures room creation.
type DailyConfig struct {
	// APIKey authenticates against the Daily REST API. Without it rooms are
	// served by the built-in WebSocket room transport.
	APIKey     string `yaml:"api_key"`
	APIURL     string `yaml:"api_url"`
	RoomPrefix string `yaml:"room_prefix"`

	RoomExpiryMinutes int `yaml:"room_expiry_minutes"`

	// RequestsPerSecond throttles Daily API calls. Zero disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// StorageConfig selects the session store.
type StorageConfig struct {
	Backend     StorageBackend `yaml:"backend"`
	SQLitePath  string         `yaml:"sqlite_path"`
	PostgresDSN string         `yaml:"postgres_dsn"`
}

// TranscriptsConfig locates transcripts and analyses.
type TranscriptsConfig struct {
	Dir         string `yaml:"dir"`
	AnalysisDir string `yaml:"analysis_dir"`

	// AnalyzeOnEnd runs the coaching analysis as soon as a conversation ends.
	AnalyzeOnEnd bool `yaml:"analyze_on_end"`

	// BackfillSchedule is a cron spec for analysing transcripts that were
	// missed. Empty disables the scheduled backfill.
	BackfillSchedule    string `yaml:"backfill_schedule"`
	BackfillConcurrency int    `yaml:"backfill_concurrency"`
}

// EngagementConfig tunes the engagement classifier.
type EngagementConfig struct {
	// MinEventGap is the minimum time between two events of the same kind.
	MinEventGap time.Duration `yaml:"min_event_gap"`

	// SampleInterval drops measurements that arrive faster than this.
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// Default returns a configuration populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			LogLevel:        LogInfo,
			Environment:     EnvDevelopment,
			ShutdownTimeout: 15 * time.Second,
		},
		Providers: ProvidersConfig{
			LLM:   ProviderEntry{Name: "openai", Model: "gpt-4o"},
			STT:   ProviderEntry{Name: "deepgram", Model: "nova-3"},
			TTS:   ProviderEntry{Name: "cartesia", Model: "sonic-english"},
			VAD:   ProviderEntry{Name: "energy"},
			Audio: ProviderEntry{Name: "wsroom"},
		},
		Bot: BotConfig{
			Name:     "Case Interview Coach",
			Greeting: "Hi! I'm ready to practice a case interview with you. Should we get started?",
			Voice:    VoiceConfig{ID: "79a125e8-cd45-4c13-8a67-188112f4dd22"},
			Language: "en",

			Temperature:   0.7,
			ContextWindow: 16000,
			Vocabulary: []string{
				"McKinsey", "BCG", "Bain", "EBITDA", "CAGR", "MECE",
				"breakeven", "market sizing", "profitability", "synergies",
			},
		},
		VAD: VADConfig{
			Enabled:    true,
			Confidence: 0.7,
			StartSecs:  0.2,
			StopSecs:   0.8,
			MinVolume:  0.6,
		},
		Daily: DailyConfig{
			APIURL:            "https://api.daily.co/v1",
			RoomPrefix:        "case-coach",
			RoomExpiryMinutes: 60,
			RequestsPerSecond: 5,
		},
		Storage: StorageConfig{
			Backend:    StorageMemory,
			SQLitePath: "data/sessions.db",
		},
		Transcripts: TranscriptsConfig{
			Dir:                 "transcripts",
			AnalysisDir:         "transcripts/analysis",
			AnalyzeOnEnd:        true,
			BackfillSchedule:    "@every 10m",
			BackfillConcurrency: 2,
		},
		Engagement: EngagementConfig{
			MinEventGap:    2500 * time.Millisecond,
			SampleInterval: time.Second,
		},
	}
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
