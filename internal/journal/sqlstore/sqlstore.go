// Package sqlstore is a Postgres-backed reference implementation of
// journal.Journal, grounded on the pgx-via-sqlx connection pattern used in
// jordigilh-kubernaut's datastorage tests (sqlx.Connect("pgx", ...) with
// pgx.QueryExecModeDescribeExec to avoid stale cached-plan errors across
// schema migrations). It demonstrates the durable store §4.5 leaves as an
// external interface; the journal ships its own DDL since no migration
// tool is specified.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/fraware/self-healing-ci/internal/journal"
	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

const schema = `
CREATE TABLE IF NOT EXISTS selfheal_journal_entries (
	case_id    TEXT NOT NULL,
	seq        BIGINT NOT NULL,
	timestamp  TIMESTAMPTZ NOT NULL,
	kind       TEXT NOT NULL,
	payload    JSONB NOT NULL,
	PRIMARY KEY (case_id, seq)
);
CREATE TABLE IF NOT EXISTS selfheal_case_snapshots (
	case_id    TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	snapshot   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Store is a Postgres-backed Journal. It satisfies journal.Journal.
type Store struct {
	db *sqlx.DB
}

var _ journal.Journal = (*Store)(nil)

// Open connects via the pgx stdlib driver with QueryExecModeDescribeExec,
// matching kubernaut's fix for "cached plan must not change result type"
// errors surfaced when schema migrations run against a live connection
// pool (db_connection_test.go, bug #200).
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.DefaultQueryExecMode = pgx.QueryExecModeDescribeExec
	connector := stdlib.GetConnector(*cfg)
	db := sqlx.NewDb(sql.OpenDB(connector), "pgx")
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Append(ctx context.Context, caseID selfheal.CaseID, kind selfheal.JournalEntryKind, payload map[string]any) (selfheal.JournalEntry, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return selfheal.JournalEntry{}, fmt.Errorf("marshal payload: %w", err)
	}
	ts := time.Now().UTC()
	row := s.db.QueryRowxContext(ctx, `
		INSERT INTO selfheal_journal_entries (case_id, seq, timestamp, kind, payload)
		VALUES ($1, COALESCE((SELECT MAX(seq) FROM selfheal_journal_entries WHERE case_id = $1), 0) + 1, $2, $3, $4)
		RETURNING seq
	`, string(caseID), ts, string(kind), b)
	var seq int64
	if err := row.Scan(&seq); err != nil {
		return selfheal.JournalEntry{}, fmt.Errorf("insert entry: %w", err)
	}
	return selfheal.JournalEntry{
		CaseID: caseID, Seq: uint64(seq), Timestamp: ts, Kind: kind, Payload: payload,
	}, nil
}

func (s *Store) ReadAll(ctx context.Context, caseID selfheal.CaseID) ([]selfheal.JournalEntry, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT seq, timestamp, kind, payload FROM selfheal_journal_entries
		WHERE case_id = $1 ORDER BY seq ASC
	`, string(caseID))
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []selfheal.JournalEntry
	for rows.Next() {
		var (
			seq     int64
			ts      time.Time
			kindRaw string
			payload []byte
		)
		if err := rows.Scan(&seq, &ts, &kindRaw, &payload); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		var p map[string]any
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		out = append(out, selfheal.JournalEntry{
			CaseID: caseID, Seq: uint64(seq), Timestamp: ts,
			Kind: selfheal.JournalEntryKind(kindRaw), Payload: p,
		})
	}
	return out, rows.Err()
}

func (s *Store) Snapshot(ctx context.Context, c *selfheal.Case) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO selfheal_case_snapshots (case_id, state, snapshot, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (case_id) DO UPDATE SET state = $2, snapshot = $3, updated_at = $4
	`, string(c.ID), string(c.State), b, time.Now().UTC())
	return err
}

func (s *Store) LoadSnapshot(ctx context.Context, caseID selfheal.CaseID) (*selfheal.Case, bool, error) {
	var payload []byte
	err := s.db.QueryRowxContext(ctx, `SELECT snapshot FROM selfheal_case_snapshots WHERE case_id = $1`, string(caseID)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot: %w", err)
	}
	var c selfheal.Case
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &c, true, nil
}

func (s *Store) Compact(ctx context.Context, caseID selfheal.CaseID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM selfheal_journal_entries
		WHERE case_id = $1 AND seq < (
			SELECT COALESCE(MAX(seq), 0) FROM selfheal_journal_entries WHERE case_id = $1
		)
	`, string(caseID))
	return err
}

func (s *Store) ListActive(ctx context.Context) ([]selfheal.CaseID, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT case_id FROM selfheal_case_snapshots WHERE state NOT IN ('DONE', 'FAILED')
	`)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	defer rows.Close()
	var out []selfheal.CaseID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, selfheal.CaseID(id))
	}
	return out, rows.Err()
}
