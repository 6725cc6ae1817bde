package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nwang783/just-in-case/internal/daily"
	"github.com/nwang783/just-in-case/internal/engagement"
	"github.com/nwang783/just-in-case/internal/interview"
	"github.com/nwang783/just-in-case/internal/observe"
)

// Bot is one coach running inside a session's room.
type Bot interface {
	// Run blocks until the conversation is over or ctx is cancelled.
	Run(ctx context.Context) error

	// Stop asks a running bot to wrap up. Run returns afterwards.
	Stop(ctx context.Context) error

	// Engagement feeds one client-side vision measurement to the bot.
	Engagement(ctx context.Context, m engagement.Measurement) []engagement.Event

	// Transcript returns the conversation ID and transcript file path.
	// Both are empty until the bot has opened its transcript.
	Transcript() (conversationID, path string)
}

// BotSpec is everything a [BotFactory] needs to build a bot.
type BotSpec struct {
	Record Record

	// Prompt holds the interview instructions from the catalog.
	Prompt string
}

// BotFactory builds the bot for a session.
type BotFactory func(ctx context.Context, spec BotSpec) (Bot, error)

// ManagerConfig holds the dependencies of a [Manager].
type ManagerConfig struct {
	// Rooms creates a room per session. Required.
	Rooms daily.Creator

	// RoomExpiry is the room lifetime in minutes. Zero means no expiry.
	RoomExpiry int

	// Catalog validates company/interview pairs and provides the prompt.
	// When nil every pair is accepted and the prompt is empty.
	Catalog *interview.Catalog

	// Store persists records. Defaults to a [MemoryStore].
	Store Store

	// NewBot builds bots on Start. Required for Start.
	NewBot BotFactory

	// AnalysisPath maps a transcript path to its analysis file.
	AnalysisPath func(transcriptPath string) string

	Metrics *observe.Metrics
	Now     func() time.Time
}

type run struct {
	bot    Bot
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager creates sessions and drives their bots. All methods are safe for
// concurrent use.
type Manager struct {
	cfg ManagerConfig

	mu      sync.Mutex
	running map[string]*run
}

// NewManager returns a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Rooms == nil {
		return nil, errors.New("session: manager needs a room creator")
	}
	if cfg.Store == nil {
		cfg.Store = &MemoryStore{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{cfg: cfg, running: make(map[string]*run)}, nil
}

// Recover marks records left active by a previous process as failed. Call
// it once before serving requests.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	recs, err := m.cfg.Store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("session: recover: %w", err)
	}
	n := 0
	for _, rec := range recs {
		if !rec.Status.Active() {
			continue
		}
		rec.Status = StatusBotError
		rec.LastError = "bot interrupted by server restart"
		rec.UpdatedAt = m.cfg.Now().UTC()
		if err := m.cfg.Store.Put(ctx, rec); err != nil {
			return n, fmt.Errorf("session: recover %s: %w", rec.ID, err)
		}
		n++
	}
	if n > 0 {
		slog.Warn("marked interrupted sessions as failed", "count", n)
	}
	return n, nil
}

// Create makes a room and records a new session for it.
func (m *Manager) Create(ctx context.Context, companySlug, interviewType string) (Record, error) {
	if m.cfg.Catalog != nil && !m.cfg.Catalog.Valid(companySlug, interviewType) {
		return Record{}, fmt.Errorf("%w: %q / %q", ErrUnknownInterview, companySlug, interviewType)
	}

	room, err := m.cfg.Rooms.CreateRoom(ctx, m.cfg.RoomExpiry)
	if err != nil {
		slog.Error("room creation failed", "company", companySlug, "err", err)
		return Record{}, fmt.Errorf("%w: %w", ErrRoomCreation, err)
	}

	now := m.cfg.Now().UTC()
	rec := Record{
		ID:            uuid.NewString(),
		CompanySlug:   companySlug,
		InterviewType: interviewType,
		RoomURL:       room.URL,
		RoomName:      room.Name,
		Status:        StatusRoomCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if !room.ExpiresAt.IsZero() {
		exp := room.ExpiresAt.Unix()
		rec.ExpiresAt = &exp
	}
	if err := m.cfg.Store.Put(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("session: create: %w", err)
	}
	m.cfg.Metrics.RecordSessionStatus(ctx, string(rec.Status))

	slog.Info("session created",
		"session_id", rec.ID,
		"company", companySlug,
		"interview_type", interviewType,
		"room", room.Name,
		"expires", room.PrettyExpiration(),
	)
	return rec, nil
}

// Get returns one session.
func (m *Manager) Get(ctx context.Context, id string) (Record, error) {
	rec, err := m.cfg.Store.Get(ctx, id)
	if err != nil {
		return Record{}, fmt.Errorf("session %s: %w", id, err)
	}
	return rec, nil
}

// List returns every session, oldest first.
func (m *Manager) List(ctx context.Context) ([]Record, error) {
	recs, err := m.cfg.Store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	return recs, nil
}

// Statuses returns the status values a session can take.
func (m *Manager) Statuses() []Status { return Statuses() }

// Start launches the bot for a session. The bot keeps running after ctx
// ends; use [Manager.Stop] to end it.
func (m *Manager) Start(ctx context.Context, id string) (Record, error) {
	if m.cfg.NewBot == nil {
		return Record{}, errors.New("session: no bot factory configured")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.cfg.Store.Get(ctx, id)
	if err != nil {
		return Record{}, fmt.Errorf("session %s: %w", id, err)
	}
	if _, ok := m.running[id]; ok {
		return Record{}, fmt.Errorf("%w: voice agent already running for session %s", ErrInvalidState, id)
	}

	var prompt string
	if m.cfg.Catalog != nil {
		var ok bool
		prompt, ok = m.cfg.Catalog.BuildPrompt(rec.CompanySlug, rec.InterviewType)
		if !ok {
			return rec, fmt.Errorf("%w: %q / %q", ErrUnknownInterview, rec.CompanySlug, rec.InterviewType)
		}
	}
	bot, err := m.cfg.NewBot(ctx, BotSpec{Record: rec, Prompt: prompt})
	if err != nil {
		rec, _ = m.updateLocked(id, StatusBotError, err.Error())
		return rec, fmt.Errorf("session %s: build bot: %w", id, err)
	}

	rec, err = m.updateLocked(id, StatusBotStarting, "")
	if err != nil {
		return Record{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{bot: bot, cancel: cancel, done: make(chan struct{})}
	m.running[id] = r
	go m.runBot(runCtx, id, r)

	slog.Info("starting voice agent", "session_id", id)
	return rec, nil
}

func (m *Manager) runBot(ctx context.Context, id string, r *run) {
	defer close(r.done)
	defer r.cancel()

	m.update(id, StatusBotRunning, "")
	err := r.bot.Run(ctx)
	switch {
	case err == nil || errors.Is(err, context.Canceled):
		m.update(id, StatusBotCompleted, "")
	default:
		slog.Error("voice agent failed", "session_id", id, "err", err)
		m.update(id, StatusBotError, err.Error())
	}
	m.clear(id, r)
}

// Stop asks a running bot to finish and waits for it. Stopping a session
// without a running bot returns the record unchanged. If ctx ends first the
// bot is cancelled.
func (m *Manager) Stop(ctx context.Context, id string) (Record, error) {
	m.mu.Lock()
	rec, err := m.cfg.Store.Get(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return Record{}, fmt.Errorf("session %s: %w", id, err)
	}
	r, ok := m.running[id]
	if !ok {
		m.mu.Unlock()
		return rec, nil
	}
	if _, err := m.updateLocked(id, StatusBotStopping, ""); err != nil {
		m.mu.Unlock()
		return Record{}, err
	}
	m.mu.Unlock()

	stopErr := r.bot.Stop(ctx)
	if stopErr != nil {
		slog.Error("voice agent stop failed", "session_id", id, "err", stopErr)
		r.cancel()
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		r.cancel()
		<-r.done
	}

	if stopErr != nil {
		m.update(id, StatusBotError, stopErr.Error())
	}
	return m.Get(context.WithoutCancel(ctx), id)
}

// Engagement routes a client-side vision measurement to the session's bot.
func (m *Manager) Engagement(ctx context.Context, id string, meas engagement.Measurement) ([]engagement.Event, error) {
	m.mu.Lock()
	r, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		if _, err := m.cfg.Store.Get(ctx, id); err != nil {
			return nil, fmt.Errorf("session %s: %w", id, err)
		}
		return nil, fmt.Errorf("%w: no voice agent running for session %s", ErrInvalidState, id)
	}
	return r.bot.Engagement(ctx, meas), nil
}

// Shutdown stops every running bot and waits until they have exited or ctx
// ends.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Go(func() {
			_, errs[i] = m.Stop(ctx, id)
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (m *Manager) update(id string, status Status, lastError string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.updateLocked(id, status, lastError); err != nil {
		slog.Warn("session status update failed", "session_id", id, "status", status, "err", err)
	}
}

func (m *Manager) updateLocked(id string, status Status, lastError string) (Record, error) {
	ctx := context.Background()
	rec, err := m.cfg.Store.Get(ctx, id)
	if err != nil {
		return Record{}, fmt.Errorf("session %s: %w", id, err)
	}
	rec.Status = status
	rec.LastError = lastError
	rec.UpdatedAt = m.cfg.Now().UTC()
	if err := m.cfg.Store.Put(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("session %s: update: %w", id, err)
	}
	m.cfg.Metrics.RecordSessionStatus(ctx, string(status))
	slog.Debug("session status changed", "session_id", id, "status", status)
	return rec, nil
}

// clear drops the run and copies the transcript location onto the record.
func (m *Manager) clear(id string, r *run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running[id] == r {
		delete(m.running, id)
	}

	convID, path := r.bot.Transcript()
	if path == "" {
		return
	}
	ctx := context.Background()
	rec, err := m.cfg.Store.Get(ctx, id)
	if err != nil {
		return
	}
	rec.ConversationID = convID
	rec.TranscriptPath = path
	if m.cfg.AnalysisPath != nil {
		rec.AnalysisPath = m.cfg.AnalysisPath(path)
	}
	if err := m.cfg.Store.Put(ctx, rec); err != nil {
		slog.Warn("session transcript update failed", "session_id", id, "err", err)
	}
}
