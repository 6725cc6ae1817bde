package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Analysis states reported by [Repository].
const (
	StatusPending = "pending"
	StatusReady   = "ready"
)

// Limits of [Repository.List].
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Status is the analysis state of one conversation.
type Status struct {
	ConversationID string    `json:"conversation_id"`
	Status         string    `json:"status"`
	UpdatedAt      time.Time `json:"updated_at"`
	Analysis       *Stored   `json:"analysis,omitempty"`
}

// Repository reads analyses and transcripts from their directories.
type Repository struct {
	transcriptsDir string
	analysisDir    string
}

// NewRepository returns a Repository, creating both directories if needed.
func NewRepository(transcriptsDir, analysisDir string) (*Repository, error) {
	for _, dir := range []string{transcriptsDir, analysisDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("analysis: create dir %q: %w", dir, err)
		}
	}
	return &Repository{transcriptsDir: transcriptsDir, analysisDir: analysisDir}, nil
}

// TranscriptPath returns the transcript file of conversationID.
func (r *Repository) TranscriptPath(conversationID string) string {
	return filepath.Join(r.transcriptsDir, conversationID+".jsonl")
}

// AnalysisPath returns the analysis file of conversationID.
func (r *Repository) AnalysisPath(conversationID string) string {
	return filepath.Join(r.analysisDir, conversationID+"-analysis.json")
}

// List returns the most recently updated analyses, newest first. limit is
// clamped to [1, MaxListLimit]. With includePending, transcripts that have
// no analysis yet are listed as pending.
func (r *Repository) List(limit int, includePending bool) ([]Status, error) {
	limit = max(1, min(limit, MaxListLimit))

	analyses, err := filepath.Glob(filepath.Join(r.analysisDir, "*-analysis.json"))
	if err != nil {
		return nil, fmt.Errorf("analysis: list analyses: %w", err)
	}

	var statuses []Status
	seen := make(map[string]struct{})
	for _, path := range analyses {
		st, ok := r.readyStatus(path)
		if !ok {
			continue
		}
		statuses = append(statuses, st)
		seen[st.ConversationID] = struct{}{}
	}

	if includePending {
		pending, err := r.Pending()
		if err != nil {
			return nil, err
		}
		for _, st := range pending {
			if _, ok := seen[st.ConversationID]; ok {
				continue
			}
			statuses = append(statuses, st)
		}
	}

	slices.SortStableFunc(statuses, func(a, b Status) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	if len(statuses) > limit {
		statuses = statuses[:limit]
	}
	return statuses, nil
}

// Pending returns a pending status for every transcript without an analysis
// file.
func (r *Repository) Pending() ([]Status, error) {
	transcripts, err := filepath.Glob(filepath.Join(r.transcriptsDir, "conversation-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("analysis: list transcripts: %w", err)
	}

	var out []Status
	for _, path := range transcripts {
		id := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		if _, err := os.Stat(r.AnalysisPath(id)); err == nil {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		out = append(out, Status{
			ConversationID: id,
			Status:         StatusPending,
			UpdatedAt:      info.ModTime().UTC(),
		})
	}
	return out, nil
}

// Status returns the state of conversationID: ready when an analysis exists,
// pending when only the transcript exists. ok is false when neither exists
// or the analysis file is unreadable.
func (r *Repository) Status(conversationID string) (Status, bool) {
	analysisPath := r.AnalysisPath(conversationID)
	if _, err := os.Stat(analysisPath); err == nil {
		return r.readyStatus(analysisPath)
	}

	info, err := os.Stat(r.TranscriptPath(conversationID))
	if err != nil {
		return Status{}, false
	}
	return Status{
		ConversationID: conversationID,
		Status:         StatusPending,
		UpdatedAt:      info.ModTime().UTC(),
	}, true
}

func (r *Repository) readyStatus(path string) (Status, bool) {
	stored, err := loadStored(path)
	if err != nil {
		slog.Error("skipping analysis file", "path", path, "err", err)
		return Status{}, false
	}
	info, err := os.Stat(path)
	if err != nil {
		slog.Error("skipping analysis file", "path", path, "err", err)
		return Status{}, false
	}
	return Status{
		ConversationID: stored.ConversationID,
		Status:         StatusReady,
		UpdatedAt:      info.ModTime().UTC(),
		Analysis:       stored,
	}, true
}

func loadStored(path string) (*Stored, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("read: %w", err)
	}
	var s Stored
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("malformed analysis JSON: %w", err)
	}
	s.Result.normalize()
	if err := s.Result.validate(); err != nil {
		return nil, err
	}
	if s.ConversationID == "" || s.SourceTranscript == "" {
		return nil, fmt.Errorf("%w: missing conversation_id or source_transcript", ErrInvalidResult)
	}
	return &s, nil
}
