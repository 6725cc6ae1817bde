package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":   {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"},
	"stt":   {"deepgram"},
	"tts":   {"cartesia", "elevenlabs"},
	"vad":   {"energy"},
	"audio": {"wsroom"},
}

// LookupFunc reads an environment variable. [os.LookupEnv] satisfies it.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped. With no arguments ".env" in the working directory is
// tried.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path, applies environment
// overrides from the process environment and returns a validated [Config].
// An empty path yields the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		ApplyEnv(cfg, os.LookupEnv)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data, filepath.Dir(path), os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Environment variables are not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data, "", nil)
}

// parse decodes data, resolves relative paths against baseDir, applies env
// overrides when lookup is non-nil and validates.
func parse(data []byte, baseDir string, lookup LookupFunc) (*Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	cfg.Server.LogLevel = LogLevel(strings.ToLower(string(cfg.Server.LogLevel)))
	if baseDir != "" && cfg.Bot.SystemPromptFile != "" && !filepath.IsAbs(cfg.Bot.SystemPromptFile) {
		cfg.Bot.SystemPromptFile = filepath.Join(baseDir, cfg.Bot.SystemPromptFile)
	}
	if lookup != nil {
		ApplyEnv(cfg, lookup)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// providerKeyEnv maps provider names to the environment variable holding
// their API key.
var providerKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"deepgram":   "DEEPGRAM_API_KEY",
	"elevenlabs": "ELEVENLABS_API_KEY",
	"cartesia":   "CARTESIA_API_KEY",
}

// ApplyEnv fills secrets and deployment settings from the environment.
// Provider API keys are only taken from the environment when the file leaves
// them empty; FRONTEND_ALLOWED_ORIGINS is appended to the configured origins.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	get := func(key string) string {
		v, ok := lookup(key)
		if !ok {
			return ""
		}
		return strings.TrimSpace(v)
	}

	for _, e := range []*ProviderEntry{
		&cfg.Providers.LLM, &cfg.Providers.LLMFallback, &cfg.Providers.Analysis,
		&cfg.Providers.STT, &cfg.Providers.TTS, &cfg.Providers.TTSFallback,
	} {
		if e.Name == "" || e.APIKey != "" {
			continue
		}
		if key, ok := providerKeyEnv[e.Name]; ok {
			e.APIKey = get(key)
		}
	}

	if v := get("DAILY_API_KEY"); v != "" && cfg.Daily.APIKey == "" {
		cfg.Daily.APIKey = v
	}
	if v := get("DATABASE_URL"); v != "" && cfg.Storage.PostgresDSN == "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := get("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	if v := get("ENVIRONMENT"); v != "" {
		cfg.Server.Environment = Environment(strings.ToLower(v))
	}
	for _, origin := range strings.Split(get("FRONTEND_ALLOWED_ORIGINS"), ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" && !slices.Contains(cfg.Server.AllowedOrigins, origin) {
			cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, origin)
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [0, 65535]", cfg.Server.Port))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must not be negative"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)
	validateProviderName("llm", cfg.Providers.Analysis.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("tts", cfg.Providers.TTSFallback.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)

	for kind, e := range map[string]ProviderEntry{
		"llm":   cfg.Providers.LLM,
		"stt":   cfg.Providers.STT,
		"tts":   cfg.Providers.TTS,
		"audio": cfg.Providers.Audio,
	} {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", kind))
		}
	}
	if cfg.Daily.APIKey == "" {
		slog.Warn("daily.api_key is empty; rooms will be served by the built-in websocket transport")
	}

	// Bot
	if cfg.Bot.Temperature < 0 || cfg.Bot.Temperature > 2 {
		errs = append(errs, fmt.Errorf("bot.temperature %.2f is out of range [0, 2]", cfg.Bot.Temperature))
	}
	if cfg.Bot.MaxTokens < 0 {
		errs = append(errs, errors.New("bot.max_tokens must not be negative"))
	}
	if cfg.Bot.ContextWindow < 0 {
		errs = append(errs, errors.New("bot.context_window must not be negative"))
	}
	if v := cfg.Bot.Voice.SpeedFactor; v != 0 && (v < 0.5 || v > 2.0) {
		errs = append(errs, fmt.Errorf("bot.voice.speed_factor %.2f is out of range [0.5, 2.0]", v))
	}

	// VAD
	if cfg.VAD.Confidence < 0 || cfg.VAD.Confidence > 1 {
		errs = append(errs, fmt.Errorf("vad.confidence %.2f is out of range [0, 1]", cfg.VAD.Confidence))
	}
	if cfg.VAD.MinVolume < 0 || cfg.VAD.MinVolume > 1 {
		errs = append(errs, fmt.Errorf("vad.min_volume %.2f is out of range [0, 1]", cfg.VAD.MinVolume))
	}
	if cfg.VAD.StartSecs < 0 || cfg.VAD.StopSecs < 0 {
		errs = append(errs, errors.New("vad.start_secs and vad.stop_secs must not be negative"))
	}

	// Daily
	if cfg.Daily.RoomExpiryMinutes < 0 {
		errs = append(errs, errors.New("daily.room_expiry_minutes must not be negative"))
	}
	if cfg.Daily.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("daily.requests_per_second must not be negative"))
	}

	// Storage
	switch {
	case !cfg.Storage.Backend.IsValid():
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, sqlite, postgres", cfg.Storage.Backend))
	case cfg.Storage.Backend == StorageSQLite && cfg.Storage.SQLitePath == "":
		errs = append(errs, errors.New("storage.sqlite_path is required when backend is sqlite"))
	case cfg.Storage.Backend == StoragePostgres && cfg.Storage.PostgresDSN == "":
		errs = append(errs, errors.New("storage.postgres_dsn (or DATABASE_URL) is required when backend is postgres"))
	}

	// Transcripts
	if cfg.Transcripts.Dir == "" {
		errs = append(errs, errors.New("transcripts.dir is required"))
	}
	if cfg.Transcripts.AnalysisDir == "" {
		errs = append(errs, errors.New("transcripts.analysis_dir is required"))
	}
	if cfg.Transcripts.BackfillConcurrency < 0 {
		errs = append(errs, errors.New("transcripts.backfill_concurrency must not be negative"))
	}

	// Engagement
	if cfg.Engagement.MinEventGap < 0 || cfg.Engagement.SampleInterval < 0 {
		errs = append(errs, errors.New("engagement.min_event_gap and engagement.sample_interval must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
