package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
	"github.com/loykin/hostd/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// Use ":memory:" for an in-memory database.

type DB struct {
	db *sql.DB
}

func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS process_status(
			process_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			pid INTEGER NOT NULL,
			ports TEXT NOT NULL,
			restarts INTEGER NOT NULL,
			detail TEXT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_process_status_name ON process_status(name);`,
		`CREATE TABLE IF NOT EXISTS process_transitions(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			process_id TEXT NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			pid INTEGER NOT NULL,
			restarts INTEGER NOT NULL,
			detail TEXT NULL,
			occurred_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_process_transitions_pid ON process_transitions(process_id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) UpsertStatus(ctx context.Context, rec store.Record) error {
	rec.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_status(process_id, name, kind, state, pid, ports, restarts, detail, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(process_id) DO UPDATE SET
			name=excluded.name,
			kind=excluded.kind,
			state=excluded.state,
			pid=excluded.pid,
			ports=excluded.ports,
			restarts=excluded.restarts,
			detail=excluded.detail,
			updated_at=excluded.updated_at;`,
		rec.ProcessID.String(), rec.Name, rec.Kind, rec.State, rec.PID,
		rec.PortsString(), rec.Restarts, nullable(rec.Detail), rec.UpdatedAt)
	return err
}

func (s *DB) RecordTransition(ctx context.Context, rec store.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_transitions(process_id, name, kind, state, pid, restarts, detail, occurred_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.ProcessID.String(), rec.Name, rec.Kind, rec.State, rec.PID,
		rec.Restarts, nullable(rec.Detail), time.Now().UTC())
	return err
}

func (s *DB) GetStatus(ctx context.Context, id uuid.UUID) (store.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT process_id, name, kind, state, pid, ports, restarts, detail, updated_at
		FROM process_status
		WHERE process_id=?;`, id.String())
	return scanRecord(row)
}

func (s *DB) ListStatuses(ctx context.Context) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT process_id, name, kind, state, pid, ports, restarts, detail, updated_at
		FROM process_status
		ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *DB) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM process_status WHERE process_id=?;`, id.String())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (store.Record, error) {
	var rec store.Record
	var id, ports string
	var detail sql.NullString
	err := row.Scan(&id, &rec.Name, &rec.Kind, &rec.State, &rec.PID, &ports, &rec.Restarts, &detail, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, err
	}
	rec.ProcessID, err = uuid.Parse(id)
	if err != nil {
		return store.Record{}, err
	}
	rec.Ports = store.ParsePorts(ports)
	rec.Detail = detail.String
	return rec, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
