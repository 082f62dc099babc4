package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/taskmaster/internal/store"
)

// DB implements store.Store on SQLite (modernc.org/sqlite driver, CGO-free).
// The path is a database file; ":memory:" keeps everything in-process.
type DB struct {
	db *sql.DB
}

const schema = `CREATE TABLE IF NOT EXISTS instances(
	name           TEXT PRIMARY KEY,
	pid            INTEGER NOT NULL DEFAULT 0,
	state          TEXT NOT NULL,
	start_attempts INTEGER NOT NULL DEFAULT 0,
	exit_code      INTEGER,
	exited_at      TIMESTAMP,
	updated_at     TIMESTAMP NOT NULL
) WITHOUT ROWID;`

const upsertStmt = `INSERT INTO instances(name, pid, state, start_attempts, exit_code, exited_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		pid=excluded.pid,
		state=excluded.state,
		start_attempts=excluded.start_attempts,
		exit_code=excluded.exit_code,
		exited_at=excluded.exited_at,
		updated_at=excluded.updated_at;`

const selectCols = `name, pid, state, start_attempts, exit_code, exited_at, updated_at`

// New opens (or creates) the database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// An in-memory database exists per connection; pin to one so every
	// operation sees the same schema and rows.
	if p == ":memory:" {
		d.SetMaxOpenConns(1)
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *DB) Close() error { return s.db.Close() }

// Upsert writes the latest observation for an instance, replacing any
// previous row for the same name.
func (s *DB) Upsert(ctx context.Context, rec store.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, upsertStmt,
		rec.Name, rec.PID, rec.State, rec.StartAttempts,
		rec.ExitCode, rec.ExitedAt, rec.UpdatedAt)
	return err
}

func (s *DB) GetByName(ctx context.Context, name string) (store.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectCols+` FROM instances WHERE name=?;`, name)
	return scanRecord(row)
}

func (s *DB) List(ctx context.Context) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx,
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

// Delete removes an instance row; deleting an unknown name is not an error.
func (s *DB) Delete(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("empty instance name")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE name=?;`, name)
	return err
}

// scanner covers both *sql.Row and *sql.Rows.
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
