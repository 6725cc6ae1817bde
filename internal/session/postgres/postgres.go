// Package postgres persists session records in PostgreSQL.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	mgr, _ := session.NewManager(session.ManagerConfig{Store: store, …})
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nwang783/just-in-case/internal/session"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS coach_sessions (
    id              TEXT         PRIMARY KEY,
    company_slug    TEXT         NOT NULL DEFAULT '',
    interview_type  TEXT         NOT NULL DEFAULT '',
    room_url        TEXT         NOT NULL DEFAULT '',
    room_name       TEXT         NOT NULL DEFAULT '',
    expires_at      BIGINT,
    status          TEXT         NOT NULL,
    last_error      TEXT         NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    conversation_id TEXT         NOT NULL DEFAULT '',
    transcript_path TEXT         NOT NULL DEFAULT '',
    analysis_path   TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_coach_sessions_created_at
    ON coach_sessions (created_at);

CREATE INDEX IF NOT EXISTS idx_coach_sessions_status
    ON coach_sessions (status);
`

const columns = `id, company_slug, interview_type, room_url, room_name, expires_at, status,
       last_error, created_at, updated_at, conversation_id, transcript_path, analysis_path`

// Store is a [session.Store] backed by a [pgxpool.Pool]. All methods are
// safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

var _ session.Store = (*Store)(nil)

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the sessions table. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlSessions); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Put implements [session.Store].
func (s *Store) Put(ctx context.Context, rec session.Record) error {
	const q = `
		INSERT INTO coach_sessions (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
		    company_slug    = EXCLUDED.company_slug,
		    interview_type  = EXCLUDED.interview_type,
		    room_url        = EXCLUDED.room_url,
		    room_name       = EXCLUDED.room_name,
		    expires_at      = EXCLUDED.expires_at,
		    status          = EXCLUDED.status,
		    last_error      = EXCLUDED.last_error,
		    created_at      = EXCLUDED.created_at,
		    updated_at      = EXCLUDED.updated_at,
		    conversation_id = EXCLUDED.conversation_id,
		    transcript_path = EXCLUDED.transcript_path,
		    analysis_path   = EXCLUDED.analysis_path`

	_, err := s.pool.Exec(ctx, q,
		rec.ID, rec.CompanySlug, rec.InterviewType, rec.RoomURL, rec.RoomName, rec.ExpiresAt,
		string(rec.Status), rec.LastError, rec.CreatedAt, rec.UpdatedAt,
		rec.ConversationID, rec.TranscriptPath, rec.AnalysisPath,
	)
	if err != nil {
		return fmt.Errorf("session store: put %s: %w", rec.ID, err)
	}
	return nil
}

// Get implements [session.Store].
func (s *Store) Get(ctx context.Context, id string) (session.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+columns+` FROM coach_sessions WHERE id = $1`, id)
	if err != nil {
		return session.Record{}, fmt.Errorf("session store: get %s: %w", id, err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Record{}, session.ErrNotFound
	}
	if err != nil {
		return session.Record{}, fmt.Errorf("session store: get %s: %w", id, err)
	}
	return rec, nil
}

// List implements [session.Store].
func (s *Store) List(ctx context.Context) ([]session.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+columns+` FROM coach_sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("session store: list: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("session store: scan rows: %w", err)
	}
	if recs == nil {
		recs = []session.Record{}
	}
	return recs, nil
}

func scanRecord(row pgx.CollectableRow) (session.Record, error) {
	var (
		rec              session.Record
		status           string
		created, updated time.Time
	)
	if err := row.Scan(
		&rec.ID, &rec.CompanySlug, &rec.InterviewType, &rec.RoomURL, &rec.RoomName, &rec.ExpiresAt,
		&status, &rec.LastError, &created, &updated,
		&rec.ConversationID, &rec.TranscriptPath, &rec.AnalysisPath,
	); err != nil {
		return session.Record{}, err
	}
	rec.Status = session.Status(status)
	rec.CreatedAt = created.UTC()
	rec.UpdatedAt = updated.UTC()
	return rec, nil
}
