// Package voice runs the interviewer inside a room.
//
// An [Agent] joins the session's room, gates every participant's audio with
// voice activity detection, streams speech to STT, corrects domain terms,
// asks the LLM for the interviewer's reply and speaks it back sentence by
// sentence. Everything said is appended to the conversation transcript, as
// are the engagement events produced by client-side vision measurements.
package voice

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nwang783/just-in-case/internal/analysis"
	"github.com/nwang783/just-in-case/internal/engagement"
	"github.com/nwang783/just-in-case/internal/observe"
	"github.com/nwang783/just-in-case/internal/session"
	"github.com/nwang783/just-in-case/internal/transcript"
	"github.com/nwang783/just-in-case/pkg/audio"
	"github.com/nwang783/just-in-case/pkg/audio/mixer"
	"github.com/nwang783/just-in-case/pkg/provider/llm"
	"github.com/nwang783/just-in-case/pkg/provider/stt"
	"github.com/nwang783/just-in-case/pkg/provider/tts"
	"github.com/nwang783/just-in-case/pkg/provider/vad"
	"github.com/nwang783/just-in-case/pkg/types"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSystemPrompt is the interviewer persona used when no prompt file is
// configured.
//
//go:embed prompts/case_interviewer.txt
var DefaultSystemPrompt string

const (
	replyPriority    = 1
	greetingPriority = 2

	defaultAnalysisTimeout = 2 * time.Minute
)

// FileAnalyzer produces the coaching analysis of a finished transcript.
// It is satisfied by *analysis.Analyzer.
type FileAnalyzer interface {
	AnalyzeFile(ctx context.Context, path string) (*analysis.Report, error)
}

// Config holds the dependencies shared by every interview bot.
type Config struct {
	Platform audio.Platform
	STT      stt.Provider
	LLM      llm.Provider
	TTS      tts.Provider

	// VAD gates audio before it reaches STT. Nil streams everything.
	VAD       vad.Engine
	VADConfig vad.Config

	Voice types.VoiceProfile

	// SystemPrompt is the interviewer persona. The interview instructions of
	// the session are appended to it. Defaults to [DefaultSystemPrompt].
	SystemPrompt string

	// Greeting is spoken once the first participant is in the room.
	Greeting string
	BotName  string

	// TranscriptDir receives one JSONL file per conversation. Required.
	TranscriptDir string

	Language  string
	Keywords  []types.KeywordBoost
	Corrector *transcript.Corrector

	// Analyzer, if set, analyses the transcript as soon as the conversation
	// ends. Otherwise the backfill job picks it up later.
	Analyzer        FileAnalyzer
	AnalysisTimeout time.Duration

	// Summariser compacts the history once it nears ContextWindow tokens.
	Summariser    Summariser
	ContextWindow int

	Temperature float64
	MaxTokens   int

	// EngagementGap is the minimum spacing between engagement events of one
	// kind. SampleInterval rate-limits incoming measurements.
	EngagementGap  time.Duration
	SampleInterval time.Duration

	Metrics *observe.Metrics
	Now     func() time.Time
}

func (c Config) validate() error {
	var errs []error
	if c.Platform == nil {
		errs = append(errs, errors.New("platform is required"))
	}
	if c.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if c.LLM == nil {
		errs = append(errs, errors.New("llm provider is required"))
	}
	if c.TTS == nil {
		errs = append(errs, errors.New("tts provider is required"))
	}
	if c.TranscriptDir == "" {
		errs = append(errs, errors.New("transcript dir is required"))
	}
	return errors.Join(errs...)
}

// NewFactory returns a [session.BotFactory] that builds an [Agent] per
// session from cfg.
func NewFactory(cfg Config) session.BotFactory {
	return func(_ context.Context, spec session.BotSpec) (session.Bot, error) {
		a, err := New(cfg, spec)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
}

// Agent is the interviewer of one session. It implements [session.Bot].
type Agent struct {
	cfg     Config
	room    string
	prompt  string
	id      observe.Interview
	log     *slog.Logger
	metrics *observe.Metrics

	writer  *transcript.Writer
	sampler *engagement.Sampler
	history *History

	stopOnce sync.Once
	stop     chan struct{}

	turns chan types.Message
	mixer *mixer.PriorityMixer

	mu           sync.Mutex
	closed       bool
	greeted      bool
	participants map[string]bool
	cancelReply  context.CancelFunc
	wg           sync.WaitGroup
}

var _ session.Bot = (*Agent)(nil)

// New opens the transcript for spec's session and returns an idle agent.
// Call [Agent.Run] to join the room.
func New(cfg Config, spec session.BotSpec) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("voice: invalid config: %w", err)
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = defaultAnalysisTimeout
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	w, err := transcript.NewWriter(transcript.WriterConfig{
		Dir:     cfg.TranscriptDir,
		RoomURL: spec.Record.RoomURL,
		BotName: cfg.BotName,
		Now:     cfg.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("voice: %w", err)
	}

	id := observe.Interview{SessionID: spec.Record.ID, ConversationID: w.ConversationID()}
	log := observe.Logger(observe.WithInterview(context.Background(), id))
	opts := []engagement.SamplerOption{
		engagement.WithRecorder(w),
		engagement.WithLogger(log),
		engagement.WithCallback(func(ctx context.Context, ev engagement.Event) {
			metrics.RecordEngagementEvent(ctx, string(ev.Kind), ev.Reason)
		}),
	}
	if cfg.SampleInterval > 0 {
		opts = append(opts, engagement.WithSampleInterval(cfg.SampleInterval))
	}

	return &Agent{
		cfg:     cfg,
		room:    spec.Record.RoomName,
		prompt:  joinPrompt(cfg.SystemPrompt, spec.Prompt),
		id:      id,
		log:     log,
		metrics: metrics,
		writer:  w,
		sampler: engagement.NewSampler(engagement.NewClassifier(cfg.EngagementGap), opts...),
		history: NewHistory(HistoryConfig{
			MaxTokens:  cfg.ContextWindow,
			Summariser: cfg.Summariser,
		}),
		stop:         make(chan struct{}),
		turns:        make(chan types.Message, 8),
		participants: make(map[string]bool),
	}, nil
}

func joinPrompt(persona, interview string) string {
	persona = strings.TrimSpace(persona)
	interview = strings.TrimSpace(interview)
	switch {
	case interview == "":
		return persona
	case persona == "":
		return interview
	}
	return persona + "\n\n" + interview
}

// SystemPrompt returns the full prompt sent with every completion.
func (a *Agent) SystemPrompt() string { return a.prompt }

// Transcript implements [session.Bot].
func (a *Agent) Transcript() (conversationID, path string) {
	return a.writer.ConversationID(), a.writer.Path()
}

// Engagement implements [session.Bot]. Events are recorded in the transcript
// as they are emitted.
func (a *Agent) Engagement(ctx context.Context, m engagement.Measurement) []engagement.Event {
	return a.sampler.Observe(ctx, m)
}

// Stop implements [session.Bot]. It returns immediately; Run ends the
// conversation and returns shortly after.
func (a *Agent) Stop(context.Context) error {
	a.stopOnce.Do(func() { close(a.stop) })
	return nil
}

// Run joins the room and serves it until Stop is called or ctx ends. The
// transcript is closed and, if configured, analysed before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	ctx, span := observe.StartSpan(observe.WithInterview(ctx, a.id), "casecoach.interview",
		trace.WithAttributes(attribute.String("casecoach.room", a.room)))
	defer span.End()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := a.cfg.Platform.Connect(runCtx, a.room)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "join room")
		a.finish(ctx, "error")
		return fmt.Errorf("voice: join room %q: %w", a.room, err)
	}
	a.log.Info("joined room", "room", a.room)

	out := conn.OutputFormat()
	conv := audio.NewConverter("room output", out)
	a.mixer = mixer.New(func(f types.AudioFrame) {
		if out.Valid() {
			var ok bool
			if f, ok = conv.Convert(f); !ok {
				return
			}
		}
		select {
		case conn.OutputStream() <- f:
		case <-runCtx.Done():
		}
	})
	a.mixer.OnBargeIn(func(participantID string) {
		a.log.Debug("barge-in", "participant", participantID)
		a.interruptReply()
	})

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.turnLoop(runCtx)
	}()

	conn.OnParticipantChange(func(ev audio.Event) {
		switch ev.Type {
		case audio.EventJoin:
			if ch, ok := conn.InputStreams()[ev.ParticipantID]; ok {
				a.startParticipant(runCtx, ev.ParticipantID, ch)
			}
		case audio.EventLeave:
			a.log.Info("participant left", "participant", ev.ParticipantID)
		}
	})
	for id, ch := range conn.InputStreams() {
		a.startParticipant(runCtx, id, ch)
	}

	reason := "completed"
	select {
	case <-a.stop:
	case <-ctx.Done():
		reason = "cancelled"
	}

	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	cancel()
	a.mixer.Close()
	if err := conn.Disconnect(); err != nil {
		a.log.Warn("leave room", "err", err)
	}
	a.wg.Wait()

	span.SetAttributes(attribute.String("casecoach.end_reason", reason))
	a.finish(ctx, reason)
	if reason == "cancelled" {
		return ctx.Err()
	}
	return nil
}

// finish marks the conversation end and runs the immediate analysis.
func (a *Agent) finish(ctx context.Context, reason string) {
	if err := a.writer.MarkConversationEnd(reason); err != nil {
		a.log.Error("mark conversation end", "err", err)
	}
	if a.cfg.Analyzer == nil || reason == "error" {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.AnalysisTimeout)
	defer cancel()
	report, err := a.cfg.Analyzer.AnalyzeFile(actx, a.writer.Path())
	if err != nil {
		a.log.Error("immediate analysis failed, leaving transcript to backfill", "err", err)
		return
	}
	a.log.Info("analysis written", "path", report.Path)
}

// startParticipant launches the audio pipeline for a participant once.
func (a *Agent) startParticipant(ctx context.Context, id string, in <-chan types.AudioFrame) {
	a.mu.Lock()
	if a.closed || a.participants[id] {
		a.mu.Unlock()
		return
	}
	a.participants[id] = true
	greet := !a.greeted
	a.greeted = true
	a.wg.Add(1)
	if greet {
		a.wg.Add(1)
	}
	a.mu.Unlock()

	a.log.Info("participant joined", "participant", id)
	if greet {
		go func() {
			defer a.wg.Done()
			a.greet(ctx)
		}()
	}

	go func() {
		defer a.wg.Done()
		defer func() {
			a.mu.Lock()
			delete(a.participants, id)
			a.mu.Unlock()
		}()
		if err := a.serveParticipant(ctx, id, in); err != nil && ctx.Err() == nil {
			a.log.Error("participant pipeline stopped", "participant", id, "err", err)
		}
	}()
}

// serveParticipant converts, gates and streams one participant's audio to
// STT until the stream closes or ctx ends.
func (a *Agent) serveParticipant(ctx context.Context, id string, in <-chan types.AudioFrame) error {
	sess, err := a.cfg.STT.StartStream(ctx, stt.StreamConfig{
		SampleRate: audio.PipelineFormat.SampleRate,
		Channels:   audio.PipelineFormat.Channels,
		Language:   a.cfg.Language,
		Keywords:   a.cfg.Keywords,
	})
	if err != nil {
		a.metrics.RecordProviderError(ctx, "stt", "start")
		return fmt.Errorf("start stt: %w", err)
	}

	go audio.Drain(sess.Partials())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.consumeFinals(ctx, id, sess.Finals())
	}()
	// Finals close with the session; wait for the last turn to be recorded.
	defer func() {
		sess.Close()
		<-done
	}()

	g, err := a.newGate()
	if err != nil {
		return err
	}
	if g != nil {
		defer g.close()
	}

	frames := audio.ConvertStream("stt input", in, audio.PipelineFormat)
	defer func() { go audio.Drain(frames) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			chunks := [][]byte{f.Data}
			if g != nil {
				chunks = g.push(f.Data, func() { a.onSpeechStart(id) })
			}
			for _, c := range chunks {
				if err := sess.SendAudio(c); err != nil {
					if errors.Is(err, stt.ErrSessionClosed) {
						return err
					}
					a.log.Warn("stt send", "participant", id, "err", err)
				}
			}
		}
	}
}

// onSpeechStart interrupts the interviewer when the candidate talks over it.
func (a *Agent) onSpeechStart(id string) {
	if a.mixer.Playing() {
		a.mixer.BargeIn(id)
	}
}

// consumeFinals turns committed transcripts into conversation turns.
func (a *Agent) consumeFinals(ctx context.Context, id string, finals <-chan types.Transcript) {
	for t := range finals {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		corrected, fixes := a.cfg.Corrector.Correct(text)
		meta := map[string]any{"participant_id": id}
		if len(fixes) > 0 {
			subs := make([]map[string]any, len(fixes))
			for i, c := range fixes {
				subs[i] = map[string]any{"original": c.Original, "corrected": c.Corrected, "confidence": c.Confidence}
			}
			meta["corrections"] = subs
			meta["raw_text"] = text
		}
		if t.Confidence > 0 {
			meta["confidence"] = t.Confidence
		}
		if err := a.writer.RecordMessage("user", corrected, meta); err != nil {
			a.log.Error("record user message", "err", err)
		}
		a.metrics.RecordUtterance(ctx, "user")
		a.log.Info("candidate said", "participant", id, "text", corrected)

		a.interruptReply()
		select {
		case a.turns <- types.Message{Role: "user", Content: corrected}:
		case <-ctx.Done():
			return
		}
	}
}

// greet speaks and records the configured greeting.
func (a *Agent) greet(ctx context.Context) {
	if a.cfg.Greeting == "" {
		return
	}
	if err := a.recordAssistant(ctx, a.cfg.Greeting); err != nil {
		a.log.Error("record greeting", "err", err)
	}
	text := make(chan string, 1)
	text <- a.cfg.Greeting
	close(text)
	if err := a.speak(ctx, "greeting", greetingPriority, text); err != nil {
		a.log.Error("speak greeting", "err", err)
	}
}

// turnLoop answers candidate turns one at a time.
func (a *Agent) turnLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.turns:
			a.reply(ctx, msg)
		}
	}
}

// reply streams the interviewer's answer to msg into the mixer.
func (a *Agent) reply(ctx context.Context, msg types.Message) {
	ctx, span := observe.StartSpan(ctx, "casecoach.reply")
	defer span.End()

	if err := a.history.Add(ctx, msg); err != nil {
		a.log.Warn("history", "err", err)
	}

	rctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancelReply = cancel
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.cancelReply = nil
		a.mu.Unlock()
		cancel()
	}()

	start := time.Now()
	chunks, err := a.cfg.LLM.StreamCompletion(rctx, llm.CompletionRequest{
		SystemPrompt: a.prompt,
		Messages:     a.history.Messages(),
		Temperature:  a.cfg.Temperature,
		MaxTokens:    a.cfg.MaxTokens,
	})
	if err != nil {
		a.metrics.RecordProviderError(ctx, "llm", "stream")
		a.log.Error("llm completion", "err", err)
		return
	}
	a.metrics.RecordProviderRequest(ctx, "llm", "stream", "ok")

	textCh := make(chan string, 4)
	if err := a.speak(rctx, "reply", replyPriority, textCh); err != nil {
		a.log.Error("speak reply", "err", err)
		cancel()
	}
	full := forwardSentences(rctx, chunks, textCh, func() {
		a.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	})

	if strings.TrimSpace(full) == "" {
		return
	}
	if err := a.recordAssistant(ctx, full); err != nil {
		a.log.Error("record reply", "err", err)
	}
}

// recordAssistant appends an interviewer turn to the transcript and history.
func (a *Agent) recordAssistant(ctx context.Context, text string) error {
	if err := a.history.Add(ctx, types.Message{Role: "assistant", Content: text}); err != nil {
		a.log.Warn("history", "err", err)
	}
	a.metrics.RecordUtterance(ctx, "assistant")
	return a.writer.RecordMessage("assistant", text, nil)
}

// speak synthesises text and queues the audio. The segment plays until the
// text channel is closed and synthesis drains.
func (a *Agent) speak(ctx context.Context, label string, priority int, text <-chan string) error {
	start := time.Now()
	pcm, err := a.cfg.TTS.SynthesizeStream(ctx, text, a.cfg.Voice)
	if err != nil {
		a.metrics.RecordProviderError(ctx, "tts", "stream")
		go drainText(text)
		return fmt.Errorf("tts: %w", err)
	}

	first := make(chan []byte, 16)
	go func() {
		defer close(first)
		timed := false
		for chunk := range pcm {
			if !timed {
				a.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
				timed = true
			}
			first <- chunk
		}
	}()

	a.mixer.Enqueue(&audio.AudioSegment{
		Label:      label,
		Audio:      first,
		SampleRate: a.cfg.TTS.SampleRate(),
		Channels:   1,
	}, priority)
	return nil
}

// interruptReply cancels the reply being generated, if any.
func (a *Agent) interruptReply() {
	a.mu.Lock()
	cancel := a.cancelReply
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func drainText(ch <-chan string) {
	for range ch {
	}
}
