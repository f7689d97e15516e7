// Package postgres implements [history.Store] on PostgreSQL using pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sangini-spec/InterVue-X/internal/analysis"
	"github.com/Sangini-spec/InterVue-X/internal/history"
	"github.com/Sangini-spec/InterVue-X/internal/transcript"
)

// Schema is the DDL for the interview_history table. [Store.Migrate] applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS interview_history (
    id               TEXT PRIMARY KEY,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    role             TEXT NOT NULL DEFAULT '',
    round            TEXT NOT NULL DEFAULT '',
    persona          TEXT NOT NULL DEFAULT '',
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    state            TEXT NOT NULL DEFAULT '',
    score            INTEGER NOT NULL DEFAULT 0,
    feedback         TEXT NOT NULL DEFAULT '',
    report           JSONB,
    turns            JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_interview_history_created ON interview_history(created_at DESC);
`

// DB is the subset of pgx used by [Store]. *pgxpool.Pool and *pgx.Conn
// both satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a [history.Store] backed by PostgreSQL.
type Store struct {
	db DB
}

var _ history.Store = (*Store)(nil)

// New returns a store using db. Call [Store.Migrate] before first use.
func New(db DB) *Store {
	return &Store{db: db}
}

// Open connects a pool to dsn, pings it and applies the schema. The returned
// function closes the pool.
func Open(ctx context.Context, dsn string) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("history/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("history/postgres: ping: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// Migrate executes [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("history/postgres: migrate: %w", err)
	}
	return nil
}

// Ping reports whether the database answers a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("history/postgres: ping: %w", err)
	}
	return nil
}

// Save implements [history.Store] as an upsert on id.
func (s *Store) Save(ctx context.Context, rec *history.Record) error {
	history.Prepare(rec)

	var reportJSON []byte
	if rec.Report != nil {
		b, err := json.Marshal(rec.Report)
		if err != nil {
			return fmt.Errorf("history/postgres: marshal report: %w", err)
		}
		reportJSON = b
	}
	turns := rec.Turns
	if turns == nil {
		turns = []transcript.Turn{}
	}
	turnsJSON, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("history/postgres: marshal turns: %w", err)
	}

	const query = `
		INSERT INTO interview_history (
			id, created_at, role, round, persona, duration_seconds,
			state, score, feedback, report, turns
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			created_at = EXCLUDED.created_at, role = EXCLUDED.role,
			round = EXCLUDED.round, persona = EXCLUDED.persona,
			duration_seconds = EXCLUDED.duration_seconds, state = EXCLUDED.state,
			score = EXCLUDED.score, feedback = EXCLUDED.feedback,
			report = EXCLUDED.report, turns = EXCLUDED.turns`

	_, err = s.db.Exec(ctx, query,
		rec.ID, rec.Date, rec.Role, rec.Round, rec.Persona, rec.DurationSeconds,
		rec.State, rec.Score, rec.Feedback, reportJSON, turnsJSON,
	)
	if err != nil {
		return fmt.Errorf("history/postgres: save %q: %w", rec.ID, err)
	}
	return nil
}

const selectColumns = `
		SELECT id, created_at, role, round, persona, duration_seconds,
		       state, score, feedback, report, turns
		FROM interview_history`

// List implements [history.Store].
func (s *Store) List(ctx context.Context, limit int) ([]history.Record, error) {
	// LIMIT NULL is no limit.
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.Query(ctx, selectColumns+` ORDER BY created_at DESC LIMIT $1`, lim)
	if err != nil {
		return nil, fmt.Errorf("history/postgres: list: %w", err)
	}
	defer rows.Close()

	var out []history.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history/postgres: list rows: %w", err)
	}
	return out, nil
}

// Get implements [history.Store].
func (s *Store) Get(ctx context.Context, id string) (history.Record, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return history.Record{}, history.ErrNotFound
	}
	return rec, err
}

func scanRecord(row pgx.Row) (history.Record, error) {
	var (
		rec                   history.Record
		reportJSON, turnsJSON []byte
	)
	err := row.Scan(
		&rec.ID, &rec.Date, &rec.Role, &rec.Round, &rec.Persona, &rec.DurationSeconds,
		&rec.State, &rec.Score, &rec.Feedback, &reportJSON, &turnsJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("history/postgres: scan: %w", err)
	}
	if len(reportJSON) > 0 {
		var r analysis.Report
		if err := json.Unmarshal(reportJSON, &r); err != nil {
			return rec, fmt.Errorf("history/postgres: unmarshal report: %w", err)
		}
		rec.Report = &r
	}
	if len(turnsJSON) > 0 {
		if err := json.Unmarshal(turnsJSON, &rec.Turns); err != nil {
			return rec, fmt.Errorf("history/postgres: unmarshal turns: %w", err)
		}
	}
	return rec, nil
}
