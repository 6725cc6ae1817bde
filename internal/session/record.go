// Package session tracks coaching sessions: the room created for each one,
// the bot running in it and where its transcript and analysis end up.
package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRoomCreated  Status = "room_created"
	StatusBotStarting  Status = "bot_starting"
	StatusBotRunning   Status = "bot_running"
	StatusBotStopping  Status = "bot_stopping"
	StatusBotCompleted Status = "bot_completed"
	StatusBotError     Status = "bot_error"
)

// Statuses returns every status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusRoomCreated,
		StatusBotStarting,
		StatusBotRunning,
		StatusBotStopping,
		StatusBotCompleted,
		StatusBotError,
	}
}

// Active reports whether a bot is, or is about to be, in the room.
func (s Status) Active() bool {
	return s == StatusBotStarting || s == StatusBotRunning || s == StatusBotStopping
}

var (
	// ErrNotFound is returned for an unknown session ID.
	ErrNotFound = errors.New("session: not found")

	// ErrInvalidState is returned when an operation does not fit the
	// session's current status.
	ErrInvalidState = errors.New("session: invalid state")

	// ErrRoomCreation wraps failures of the room service.
	ErrRoomCreation = errors.New("session: room creation failed")

	// ErrUnknownInterview is returned when the company and interview type
	// are not in the catalog.
	ErrUnknownInterview = errors.New("session: unknown company or interview type")
)

// Record is one session as stored and returned by the API.
type Record struct {
	ID            string    `json:"sessionId"`
	CompanySlug   string    `json:"companySlug"`
	InterviewType string    `json:"interviewType"`
	RoomURL       string    `json:"roomUrl"`
	RoomName      string    `json:"roomName"`
	ExpiresAt     *int64    `json:"expiresAt"`
	Status        Status    `json:"status"`
	LastError     string    `json:"lastError,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`

	ConversationID string `json:"conversationId,omitempty"`
	TranscriptPath string `json:"transcriptPath,omitempty"`
	AnalysisPath   string `json:"analysisPath,omitempty"`
}

// Store persists session records. Implementations must be safe for
// concurrent use.
type Store interface {
	// Put inserts or replaces rec.
	Put(ctx context.Context, rec Record) error

	// Get returns the record or an error wrapping [ErrNotFound].
	Get(ctx context.Context, id string) (Record, error)

	// List returns all records, oldest first.
	List(ctx context.Context) ([]Record, error)
}

// MemoryStore keeps records in memory. The zero value is ready to use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

// Put implements [Store].
func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = make(map[string]Record)
	}
	s.records[rec.ID] = rec
	return nil
}

// Get implements [Store].
func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// List implements [Store].
func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	SortByCreated(out)
	return out, nil
}

// SortByCreated orders records oldest first, breaking ties by ID.
func SortByCreated(recs []Record) {
	slices.SortFunc(recs, func(a, b Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
