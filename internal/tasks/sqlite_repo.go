package tasks

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

var errSessionClosed = errors.New("session closed")

var _ Store = (*SQLiteRepo)(nil)

type SQLiteRepo struct {
	db *sql.DB
}

func NewSQLiteRepo(dsn string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &SQLiteRepo{db: db}, nil
}

func (r *SQLiteRepo) Close() error { return r.db.Close() }

func (r *SQLiteRepo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

// Bootstrap creates the todos table when it does not exist yet.
func (r *SQLiteRepo) Bootstrap(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Session returns a request-scoped handle. No connection is taken from the
// pool until the first operation runs.
func (r *SQLiteRepo) Session() Session {
	return &sqliteSession{db: r.db}
}

type sqliteSession struct {
	db     *sql.DB
	conn   *sql.Conn
	closed bool
}

func (s *sqliteSession) acquire(ctx context.Context) (*sql.Conn, error) {
	if s.closed {
		return nil, errSessionClosed
	}
	if s.conn == nil {
		c, err := s.db.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire connection: %w", err)
		}
		s.conn = c
		storeConnectionsInUse.Inc()
	}
	return s.conn, nil
}

func (s *sqliteSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil {
		return nil
	}
	storeConnectionsInUse.Dec()
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *sqliteSession) List(ctx context.Context) (_ []Task, err error) {
	ctx, done := observe(ctx, "list")
	defer func() { done(err) }()

	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, `
		SELECT id, task, done
		FROM todos
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteSession) Create(ctx context.Context, description string) (_ Task, err error) {
	ctx, done := observe(ctx, "create")
	defer func() { done(err) }()

	conn, err := s.acquire(ctx)
	if err != nil {
		return Task{}, err
	}
	res, err := conn.ExecContext(ctx, `
		INSERT INTO todos (task, done)
		VALUES (?, 0)
	`, description)
	if err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	return Task{ID: id, Description: description}, nil
}

func (s *sqliteSession) Get(ctx context.Context, id int64) (_ Task, err error) {
	ctx, done := observe(ctx, "get", attribute.Int64("task.id", id))
	defer func() { done(err) }()

	conn, err := s.acquire(ctx)
	if err != nil {
		return Task{}, err
	}
	row := conn.QueryRowContext(ctx, `SELECT id, task, done FROM todos WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

// ToggleDone flips the flag in a single statement so concurrent toggles of
// the same row cannot lose an update.
func (s *sqliteSession) ToggleDone(ctx context.Context, id int64) (err error) {
	ctx, done := observe(ctx, "toggle", attribute.Int64("task.id", id))
	defer func() { done(err) }()

	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	res, err := conn.ExecContext(ctx, `UPDATE todos SET done = NOT done WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("toggle task %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("toggle task %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete is a no-op for unknown ids.
func (s *sqliteSession) Delete(ctx context.Context, id int64) (err error) {
	ctx, done := observe(ctx, "delete", attribute.Int64("task.id", id))
	defer func() { done(err) }()

	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM todos WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var (
		t    Task
		desc sql.NullString
	)
	if err := row.Scan(&t.ID, &desc, &t.Done); err != nil {
		return Task{}, err
	}
	t.Description = desc.String
	return t, nil
}

// Helper to build DSN like: file:/absolute/path?_pragma=busy_timeout(5000)
// The parent directory is created when missing.
func SQLiteFileDSN(path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return "file:" + filepath.ToSlash(abs) +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)", nil
}
