// Package app wires all casecoach subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and runs the analysis backfill until the
// context ends, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithRooms,
// ...). When an option is not provided, New creates real implementations
// from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nwang783/just-in-case/internal/analysis"
	"github.com/nwang783/just-in-case/internal/api"
	"github.com/nwang783/just-in-case/internal/config"
	"github.com/nwang783/just-in-case/internal/daily"
	"github.com/nwang783/just-in-case/internal/health"
	"github.com/nwang783/just-in-case/internal/interview"
	"github.com/nwang783/just-in-case/internal/observe"
	"github.com/nwang783/just-in-case/internal/session"
	"github.com/nwang783/just-in-case/internal/session/postgres"
	"github.com/nwang783/just-in-case/internal/session/sqlite"
	"github.com/nwang783/just-in-case/internal/transcript"
	"github.com/nwang783/just-in-case/internal/transcript/phonetic"
	"github.com/nwang783/just-in-case/internal/voice"
	"github.com/nwang783/just-in-case/pkg/audio"
	"github.com/nwang783/just-in-case/pkg/provider/llm"
	"github.com/nwang783/just-in-case/pkg/provider/stt"
	"github.com/nwang783/just-in-case/pkg/provider/tts"
	"github.com/nwang783/just-in-case/pkg/provider/vad"
	"github.com/nwang783/just-in-case/pkg/types"
)

// keywordBoost is the STT boost applied to every vocabulary term.
const keywordBoost = 2.0

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider

	// Analysis writes coaching reports. Nil reuses LLM.
	Analysis llm.Provider

	STT   stt.Provider
	TTS   tts.Provider
	VAD   vad.Engine
	Audio audio.Platform
}

// roomHandler is implemented by platforms that host rooms in-process.
type roomHandler interface {
	Handler() http.Handler
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	levelVar  *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	store    session.Store
	rooms    daily.Creator
	catalog  *interview.Catalog
	repo     *analysis.Repository
	analyzer *analysis.Analyzer
	manager  *session.Manager
	server   *http.Server
	checkers []health.Checker

	// bot is the voice config for sessions started from now on. Swapped on
	// config reload.
	bot atomic.Pointer[voice.Config]

	// schedule is the current backfill spec and concurrency.
	schedMu    sync.Mutex
	schedule   config.TranscriptsConfig
	reschedule chan struct{}

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a session store instead of creating one from config.
func WithStore(s session.Store) Option {
	return func(a *App) { a.store = s }
}

// WithRooms injects a room creator instead of creating one from config.
func WithRooms(r daily.Creator) Option {
	return func(a *App) { a.rooms = r }
}

// WithCatalog injects an interview catalog instead of the built-in one.
func WithCatalog(c *interview.Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level of the handler
// built on lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil || providers.STT == nil || providers.TTS == nil || providers.Audio == nil {
		return nil, errors.New("app: llm, stt, tts and audio providers are required")
	}
	a := &App{
		cfg:        cfg,
		providers:  providers,
		schedule:   cfg.Transcripts,
		reschedule: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Session store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Rooms ─────────────────────────────────────────────────────────
	if err := a.initRooms(); err != nil {
		return nil, fmt.Errorf("app: init rooms: %w", err)
	}

	// ── 3. Catalog ───────────────────────────────────────────────────────
	if a.catalog == nil {
		c, err := interview.Default()
		if err != nil {
			return nil, fmt.Errorf("app: load catalog: %w", err)
		}
		a.catalog = c
	}

	// ── 4. Analysis ──────────────────────────────────────────────────────
	if err := a.initAnalysis(); err != nil {
		return nil, fmt.Errorf("app: init analysis: %w", err)
	}

	// ── 5. Voice bots ────────────────────────────────────────────────────
	botCfg, err := a.voiceConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: voice config: %w", err)
	}
	a.bot.Store(&botCfg)

	// ── 6. Session manager ───────────────────────────────────────────────
	if err := a.initManager(ctx); err != nil {
		return nil, fmt.Errorf("app: init sessions: %w", err)
	}

	// ── 7. HTTP server ───────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	switch a.cfg.Storage.Backend {
	case config.StorageSQLite:
		if err := os.MkdirAll(dirOf(a.cfg.Storage.SQLitePath), 0o755); err != nil {
			return err
		}
		s, err := sqlite.Open(ctx, a.cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
		a.checkers = append(a.checkers, health.Ping("sqlite", s))
	case config.StoragePostgres:
		s, err := postgres.NewStore(ctx, a.cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, func() error { s.Close(); return nil })
		a.checkers = append(a.checkers, health.Ping("postgres", s))
	default:
		a.store = &session.MemoryStore{}
	}
	slog.Info("session store ready", "backend", a.cfg.Storage.Backend)
	return nil
}

func (a *App) initRooms() error {
	if a.rooms != nil {
		return nil
	}
	d := a.cfg.Daily
	if d.APIKey == "" {
		a.rooms = &daily.Local{BaseURL: a.publicURL(), Prefix: d.RoomPrefix}
		slog.Info("no daily api key; using in-process rooms", "base_url", a.publicURL())
		return nil
	}
	opts := []daily.Option{daily.WithAPIURL(d.APIURL), daily.WithPrefix(d.RoomPrefix)}
	if d.RequestsPerSecond > 0 {
		opts = append(opts, daily.WithRateLimit(rate.Limit(d.RequestsPerSecond), max(1, int(d.RequestsPerSecond))))
	}
	c, err := daily.New(d.APIKey, opts...)
	if err != nil {
		return err
	}
	a.rooms = c
	return nil
}

func (a *App) initAnalysis() error {
	repo, err := analysis.NewRepository(a.cfg.Transcripts.Dir, a.cfg.Transcripts.AnalysisDir)
	if err != nil {
		return err
	}
	a.repo = repo

	provider := a.providers.Analysis
	if provider == nil {
		provider = a.providers.LLM
	}
	analyzer, err := analysis.NewAnalyzer(provider, a.cfg.Transcripts.AnalysisDir, analysis.WithMetrics(a.metrics))
	if err != nil {
		return err
	}
	a.analyzer = analyzer
	a.checkers = append(a.checkers,
		health.DirWritable("transcripts", a.cfg.Transcripts.Dir),
		health.DirWritable("analyses", a.cfg.Transcripts.AnalysisDir),
	)
	return nil
}

// voiceConfig builds the bot configuration from cfg and the fixed providers.
func (a *App) voiceConfig(cfg *config.Config) (voice.Config, error) {
	prompt := voice.DefaultSystemPrompt
	if path := cfg.Bot.SystemPromptFile; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return voice.Config{}, fmt.Errorf("read system prompt: %w", err)
		}
		prompt = string(data)
	}

	keywords := make([]types.KeywordBoost, 0, len(cfg.Bot.Vocabulary))
	for _, term := range cfg.Bot.Vocabulary {
		keywords = append(keywords, types.KeywordBoost{Keyword: term, Boost: keywordBoost})
	}

	vc := voice.Config{
		Platform:  a.providers.Audio,
		STT:       a.providers.STT,
		LLM:       a.providers.LLM,
		TTS:       a.providers.TTS,
		VADConfig: cfg.VAD.Params(),
		Voice: types.VoiceProfile{
			ID:          cfg.Bot.Voice.ID,
			Provider:    cfg.Providers.TTS.Name,
			SpeedFactor: cfg.Bot.Voice.SpeedFactor,
		},
		SystemPrompt:   strings.TrimSpace(prompt),
		Greeting:       cfg.Bot.Greeting,
		BotName:        cfg.Bot.Name,
		TranscriptDir:  cfg.Transcripts.Dir,
		Language:       cfg.Bot.Language,
		Keywords:       keywords,
		Corrector:      transcript.NewCorrector(phonetic.NewVocabulary(cfg.Bot.Vocabulary)),
		Summariser:     voice.NewLLMSummariser(a.providers.LLM),
		ContextWindow:  cfg.Bot.ContextWindow,
		Temperature:    cfg.Bot.Temperature,
		MaxTokens:      cfg.Bot.MaxTokens,
		EngagementGap:  cfg.Engagement.MinEventGap,
		SampleInterval: cfg.Engagement.SampleInterval,
		Metrics:        a.metrics,
	}
	if cfg.VAD.Enabled {
		vc.VAD = a.providers.VAD
	}
	if cfg.Transcripts.AnalyzeOnEnd {
		vc.Analyzer = a.analyzer
	}
	return vc, nil
}

func (a *App) initManager(ctx context.Context) error {
	mgr, err := session.NewManager(session.ManagerConfig{
		Rooms:        a.rooms,
		RoomExpiry:   a.cfg.Daily.RoomExpiryMinutes,
		Catalog:      a.catalog,
		Store:        a.store,
		NewBot:       a.newBot,
		AnalysisPath: a.analyzer.OutputPath,
		Metrics:      a.metrics,
	})
	if err != nil {
		return err
	}
	if _, err := mgr.Recover(ctx); err != nil {
		return err
	}
	a.manager = mgr
	return nil
}

// newBot builds a bot from the voice config current at Start time.
func (a *App) newBot(ctx context.Context, spec session.BotSpec) (session.Bot, error) {
	return voice.NewFactory(*a.bot.Load())(ctx, spec)
}

func (a *App) initServer() {
	var rooms http.Handler
	if rh, ok := a.providers.Audio.(roomHandler); ok {
		rooms = rh.Handler()
	}
	srv := api.New(api.Config{
		Sessions:       a.manager,
		Analyses:       a.repo,
		Catalog:        a.catalog,
		Health:         health.New(a.checkers...),
		Metrics:        observe.MetricsHandler(),
		Rooms:          rooms,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Telemetry:      a.metrics,
	})
	api.LogOrigins(a.cfg.Server.AllowedOrigins)
	a.server = &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the HTTP handler. Useful for tests that drive the app
// through httptest.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Manager returns the session manager.
func (a *App) Manager() *session.Manager { return a.manager }

// Run serves HTTP and runs the scheduled backfill until ctx is cancelled or
// one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.shutdownTimeout())
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return a.runBackfill(gctx) })

	return g.Wait()
}

// runBackfill runs the analysis backfill on the current schedule and
// restarts it whenever [App.ApplyConfig] changes the schedule.
func (a *App) runBackfill(ctx context.Context) error {
	for {
		a.schedMu.Lock()
		sched := a.schedule
		a.schedMu.Unlock()

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		if sched.BackfillSchedule != "" {
			b := analysis.NewBackfill(a.analyzer, a.repo, sched.BackfillConcurrency)
			go func() { done <- b.Run(runCtx, sched.BackfillSchedule) }()
		}

		select {
		case <-ctx.Done():
			cancel()
			if sched.BackfillSchedule != "" {
				<-done
			}
			return nil
		case <-a.reschedule:
			cancel()
			if sched.BackfillSchedule != "" {
				<-done
			}
		case err := <-done:
			cancel()
			if err != nil {
				slog.Error("analysis backfill stopped", "err", err)
			}
			// Wait for a new schedule.
			select {
			case <-ctx.Done():
				return nil
			case <-a.reschedule:
			}
		}
	}
}

// ApplyConfig applies the hot-reloadable parts of a new configuration. Bot,
// VAD and engagement changes affect sessions started afterwards; sections
// that need a restart are logged.
func (a *App) ApplyConfig(oldCfg, newCfg *config.Config) {
	d := config.Diff(oldCfg, newCfg)
	if !d.HasChanges() {
		return
	}
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.BotChanged || d.VADChanged || d.EngagementChanged {
		vc, err := a.voiceConfig(newCfg)
		if err != nil {
			slog.Warn("config reload: keeping previous bot settings", "err", err)
		} else {
			a.bot.Store(&vc)
			slog.Info("bot settings reloaded; applies to new sessions")
		}
	}
	if d.BackfillChanged {
		a.schedMu.Lock()
		a.schedule.BackfillSchedule = newCfg.Transcripts.BackfillSchedule
		a.schedule.BackfillConcurrency = newCfg.Transcripts.BackfillConcurrency
		a.schedMu.Unlock()
		select {
		case a.reschedule <- struct{}{}:
		default:
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops every running bot, then runs the closers in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.manager != nil {
			if err := a.manager.Shutdown(ctx); err != nil {
				slog.Warn("stopping sessions", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 15 * time.Second
}

// publicURL is the base URL room links point at.
func (a *App) publicURL() string {
	if u := strings.TrimRight(a.cfg.Server.PublicURL, "/"); u != "" {
		return u
	}
	host := a.cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + (&config.ServerConfig{Host: host, Port: a.cfg.Server.Port}).Addr()
}

func dirOf(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i > 0 {
		return path[:i]
	}
	return "."
}
