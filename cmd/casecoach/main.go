// Command casecoach runs the case-interview coaching server.
//
// With -analyze it instead analyses a single transcript file and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/nwang783/just-in-case/internal/analysis"
	"github.com/nwang783/just-in-case/internal/api"
	"github.com/nwang783/just-in-case/internal/app"
	"github.com/nwang783/just-in-case/internal/config"
	"github.com/nwang783/just-in-case/internal/observe"
	"github.com/nwang783/just-in-case/internal/resilience"
	"github.com/nwang783/just-in-case/pkg/audio"
	"github.com/nwang783/just-in-case/pkg/audio/wsroom"
	"github.com/nwang783/just-in-case/pkg/provider/llm"
	"github.com/nwang783/just-in-case/pkg/provider/llm/anyllm"
	oaillm "github.com/nwang783/just-in-case/pkg/provider/llm/openai"
	"github.com/nwang783/just-in-case/pkg/provider/stt"
	"github.com/nwang783/just-in-case/pkg/provider/stt/deepgram"
	"github.com/nwang783/just-in-case/pkg/provider/tts"
	"github.com/nwang783/just-in-case/pkg/provider/tts/cartesia"
	"github.com/nwang783/just-in-case/pkg/provider/tts/elevenlabs"
	"github.com/nwang783/just-in-case/pkg/provider/vad"
	"github.com/nwang783/just-in-case/pkg/provider/vad/energy"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	analyzePath := flag.String("analyze", "", "analyse one transcript file and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "casecoach: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "casecoach: config file %q not found, using defaults\n", *configPath)
		cfg, err = config.Load("")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "casecoach: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(cfg.Server, levelVar))

	slog.Info("casecoach starting",
		"version", version,
		"config", *configPath,
		"addr", cfg.Server.Addr(),
		"log_level", cfg.Server.LogLevel,
		"environment", cfg.Server.Environment,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    observe.DefaultServiceName,
		ServiceVersion: version,
		Environment:    string(cfg.Server.Environment),
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	if *analyzePath != "" {
		return analyzeOne(ctx, cfg, reg, *analyzePath)
	}

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLevelVar(levelVar))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *configPath != "" {
		if _, statErr := os.Stat(*configPath); statErr == nil {
			watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
			if err != nil {
				slog.Warn("config watcher disabled", "err", err)
			} else {
				defer watcher.Stop()
			}
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// analyzeOne runs the coaching analysis for one transcript and prints the
// output path.
func analyzeOne(ctx context.Context, cfg *config.Config, reg *config.Registry, path string) int {
	entry := cfg.Providers.Analysis
	if entry.Name == "" {
		entry = cfg.Providers.LLM
	}
	provider, err := reg.CreateLLM(entry)
	if err != nil {
		slog.Error("failed to create analysis provider", "err", err)
		return 1
	}
	analyzer, err := analysis.NewAnalyzer(provider, cfg.Transcripts.AnalysisDir)
	if err != nil {
		slog.Error("failed to create analyzer", "err", err)
		return 1
	}
	report, err := analyzer.AnalyzeFile(ctx, path)
	if err != nil {
		slog.Error("analysis failed", "path", path, "err", err)
		return 1
	}
	fmt.Println(report.Path)
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai talks to the API directly for native structured output.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaillm.WithTimeout(d))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining backends share the same pattern: optional APIKey +
	// optional BaseURL.
	for _, providerName := range anyllm.Backends {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		lang := optString(entry.Options, "language")
		if lang == "" {
			lang = cfg.Bot.Language
		}
		if lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if d := optDuration(entry.Options, "endpointing"); d > 0 {
			opts = append(opts, deepgram.WithEndpointing(d))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("cartesia", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []cartesia.Option
		if entry.Model != "" {
			opts = append(opts, cartesia.WithModel(entry.Model))
		}
		if lang := cfg.Bot.Language; lang != "" {
			opts = append(opts, cartesia.WithLanguage(lang))
		}
		return cartesia.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("wsroom", func(config.ProviderEntry) (audio.Platform, error) {
		return wsroom.New(wsroom.WithOriginPatterns(originHosts(cfg.Server.AllowedOrigins)...)), nil
	})

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	p := cfg.Providers
	breaker := resilience.FallbackConfig{Metrics: observe.DefaultMetrics()}

	llmPrimary, err := create("llm", p.LLM, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	ps.LLM = llmPrimary
	if p.LLMFallback.Name != "" {
		fb, err := create("llm", p.LLMFallback, reg.CreateLLM)
		if err != nil {
			return nil, err
		}
		group := resilience.NewLLMFallback(llmPrimary, p.LLM.Name, breaker)
		group.AddFallback(p.LLMFallback.Name, fb)
		ps.LLM = group
	}

	if p.Analysis.Name != "" {
		if ps.Analysis, err = create("analysis", p.Analysis, reg.CreateLLM); err != nil {
			return nil, err
		}
	}

	if ps.STT, err = create("stt", p.STT, reg.CreateSTT); err != nil {
		return nil, err
	}

	ttsPrimary, err := create("tts", p.TTS, reg.CreateTTS)
	if err != nil {
		return nil, err
	}
	ps.TTS = ttsPrimary
	if p.TTSFallback.Name != "" {
		fb, err := create("tts", p.TTSFallback, reg.CreateTTS)
		if err != nil {
			return nil, err
		}
		group := resilience.NewTTSFallback(ttsPrimary, p.TTS.Name, breaker)
		group.AddFallback(p.TTSFallback.Name, fb)
		ps.TTS = group
	}

	if p.VAD.Name != "" {
		if ps.VAD, err = create("vad", p.VAD, reg.CreateVAD); err != nil {
			return nil, err
		}
	}

	if ps.Audio, err = create("audio", p.Audio, reg.CreateAudio); err != nil {
		return nil, err
	}
	return ps, nil
}

// create builds one provider and logs it.
func create[T any](kind string, entry config.ProviderEntry, fn func(config.ProviderEntry) (T, error)) (T, error) {
	v, err := fn(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return v, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        casecoach startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Analysis", cfg.Providers.Analysis.Name, cfg.Providers.Analysis.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Audio", cfg.Providers.Audio.Name, "")
	if cfg.Daily.APIKey != "" {
		fmt.Printf("║  Rooms           : %-19s ║\n", "daily.co")
	} else {
		fmt.Printf("║  Rooms           : %-19s ║\n", "local")
	}
	fmt.Printf("║  Storage         : %-19s ║\n", cfg.Storage.Backend)
	fmt.Printf("║  Vocabulary      : %-19d ║\n", len(cfg.Bot.Vocabulary))
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.Addr())
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger writes JSON in production and text otherwise.
func newLogger(server config.ServerConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if server.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optDuration parses a duration option such as "300ms". Invalid values
// yield zero.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}

// originHosts converts CORS origins into websocket origin host patterns.
func originHosts(extra []string) []string {
	var hosts []string
	for _, o := range api.Origins(extra) {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}
