// Package sqlite persists session records in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nwang783/just-in-case/internal/session"
)

const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT    PRIMARY KEY,
    company_slug    TEXT    NOT NULL DEFAULT '',
    interview_type  TEXT    NOT NULL DEFAULT '',
    room_url        TEXT    NOT NULL DEFAULT '',
    room_name       TEXT    NOT NULL DEFAULT '',
    expires_at      INTEGER,
    status          TEXT    NOT NULL,
    last_error      TEXT    NOT NULL DEFAULT '',
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL,
    conversation_id TEXT    NOT NULL DEFAULT '',
    transcript_path TEXT    NOT NULL DEFAULT '',
    analysis_path   TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions (created_at);
`

const columns = `id, company_slug, interview_type, room_url, room_name, expires_at, status,
    last_error, created_at, updated_at, conversation_id, transcript_path, analysis_path`

// Store is a [session.Store] backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ session.Store = (*Store)(nil)

// Open opens (or creates) the database at path and migrates it. Use
// ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %q: %w", path, err)
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Put implements [session.Store].
func (s *Store) Put(ctx context.Context, rec session.Record) error {
	const q = `
		INSERT INTO sessions (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		    company_slug    = excluded.company_slug,
		    interview_type  = excluded.interview_type,
		    room_url        = excluded.room_url,
		    room_name       = excluded.room_name,
		    expires_at      = excluded.expires_at,
		    status          = excluded.status,
		    last_error      = excluded.last_error,
		    created_at      = excluded.created_at,
		    updated_at      = excluded.updated_at,
		    conversation_id = excluded.conversation_id,
		    transcript_path = excluded.transcript_path,
		    analysis_path   = excluded.analysis_path`

	var exp sql.NullInt64
	if rec.ExpiresAt != nil {
		exp = sql.NullInt64{Int64: *rec.ExpiresAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, q,
		rec.ID, rec.CompanySlug, rec.InterviewType, rec.RoomURL, rec.RoomName, exp,
		string(rec.Status), rec.LastError,
		rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
		rec.ConversationID, rec.TranscriptPath, rec.AnalysisPath,
	)
	if err != nil {
		return fmt.Errorf("sqlite store: put %s: %w", rec.ID, err)
	}
	return nil
}

// Get implements [session.Store].
func (s *Store) Get(ctx context.Context, id string) (session.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM sessions WHERE id = ?`, id)
	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Record{}, session.ErrNotFound
	}
	if err != nil {
		return session.Record{}, fmt.Errorf("sqlite store: get %s: %w", id, err)
	}
	return rec, nil
}

// List implements [session.Store].
func (s *Store) List(ctx context.Context) ([]session.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	defer rows.Close()

	out := []session.Record{}
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: list: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (session.Record, error) {
	var (
		rec              session.Record
		status           string
		exp              sql.NullInt64
		created, updated int64
	)
	err := row.Scan(
		&rec.ID, &rec.CompanySlug, &rec.InterviewType, &rec.RoomURL, &rec.RoomName, &exp,
		&status, &rec.LastError, &created, &updated,
		&rec.ConversationID, &rec.TranscriptPath, &rec.AnalysisPath,
	)
	if err != nil {
		return session.Record{}, err
	}
	rec.Status = session.Status(status)
	if exp.Valid {
		v := exp.Int64
		rec.ExpiresAt = &v
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	return rec, nil
}
