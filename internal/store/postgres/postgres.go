package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/taskmaster/internal/store"
)

// DB implements store.Store on PostgreSQL via the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

const schema = `CREATE TABLE IF NOT EXISTS instances(
	name           TEXT PRIMARY KEY,
	pid            INTEGER NOT NULL DEFAULT 0,
	state          TEXT NOT NULL,
	start_attempts INTEGER NOT NULL DEFAULT 0,
	exit_code      INTEGER,
	exited_at      TIMESTAMPTZ,
	updated_at     TIMESTAMPTZ NOT NULL
);`

const upsertStmt = `INSERT INTO instances(name, pid, state, start_attempts, exit_code, exited_at, updated_at)
	VALUES($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT(name) DO UPDATE SET
		pid=EXCLUDED.pid,
		state=EXCLUDED.state,
		start_attempts=EXCLUDED.start_attempts,
		exit_code=EXCLUDED.exit_code,
		exited_at=EXCLUDED.exited_at,
		updated_at=EXCLUDED.updated_at;`

const selectCols = `name, pid, state, start_attempts, exit_code, exited_at, updated_at`

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Upsert(ctx context.Context, rec store.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, upsertStmt,
		rec.Name, rec.PID, rec.State, rec.StartAttempts,
		rec.ExitCode, rec.ExitedAt, rec.UpdatedAt)
	return err
}

func (p *DB) GetByName(ctx context.Context, name string) (store.Record, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+selectCols+` FROM instances WHERE name=$1;`, name)
	return scanRecord(row)
}

func (p *DB) List(ctx context.Context) ([]store.Record, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+selectCols+` FROM instances ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var recs []store.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (p *DB) Delete(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("empty instance name")
	}
	_, err := p.db.ExecContext(ctx, `DELETE FROM instances WHERE name=$1;`, name)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (store.Record, error) {
	var r store.Record
	err := sc.Scan(&r.Name, &r.PID, &r.State, &r.StartAttempts,
		&r.ExitCode, &r.ExitedAt, &r.UpdatedAt)
	if err != nil {
		return store.Record{}, err
	}
	return r, nil
}
