package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/google/uuid"
	"github.com/loykin/hostd/internal/store"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS process_status(
			process_id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			pid INTEGER NOT NULL,
			ports TEXT NOT NULL,
			restarts INTEGER NOT NULL,
			detail TEXT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_process_status_name ON process_status(name);`,
		`CREATE TABLE IF NOT EXISTS process_transitions(
			id BIGSERIAL PRIMARY KEY,
			process_id UUID NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			pid INTEGER NOT NULL,
			restarts INTEGER NOT NULL,
			detail TEXT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_process_transitions_pid ON process_transitions(process_id);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) UpsertStatus(ctx context.Context, rec store.Record) error {
	rec.UpdatedAt = time.Now().UTC()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO process_status(process_id, name, kind, state, pid, ports, restarts, detail, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT(process_id) DO UPDATE SET
			name=EXCLUDED.name,
			kind=EXCLUDED.kind,
			state=EXCLUDED.state,
			pid=EXCLUDED.pid,
			ports=EXCLUDED.ports,
			restarts=EXCLUDED.restarts,
			detail=EXCLUDED.detail,
			updated_at=EXCLUDED.updated_at;`,
		rec.ProcessID, rec.Name, rec.Kind, rec.State, rec.PID,
		rec.PortsString(), rec.Restarts, nullable(rec.Detail), rec.UpdatedAt)
	return err
}

func (p *DB) RecordTransition(ctx context.Context, rec store.Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO process_transitions(process_id, name, kind, state, pid, restarts, detail, occurred_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8);`,
		rec.ProcessID, rec.Name, rec.Kind, rec.State, rec.PID,
		rec.Restarts, nullable(rec.Detail), time.Now().UTC())
	return err
}

func (p *DB) GetStatus(ctx context.Context, id uuid.UUID) (store.Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT process_id, name, kind, state, pid, ports, restarts, detail, updated_at
		FROM process_status
		WHERE process_id=$1;`, id)
	return scanRecord(row)
}

func (p *DB) ListStatuses(ctx context.Context) ([]store.Record, error) {
	rows, err := p.db.QueryContext(ctx, `
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

func (p *DB) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM process_status WHERE process_id=$1;`, id)
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
