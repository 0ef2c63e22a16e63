package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go driver

	"github.com/okian/lmsbridge/internal/domain/model"
)

const (
	schemaVersion       = 1
	defaultBusyTimeout  = 5 * time.Second
	defaultMaxOpenConns = 8
	maxListLimit        = 1000
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	attempts         INTEGER NOT NULL DEFAULT 0,
	payload          TEXT NOT NULL,
	created_at_ms    INTEGER NOT NULL,
	updated_at_ms    INTEGER NOT NULL,
	next_run_at_ms   INTEGER NOT NULL,
	lease_expires_ms INTEGER,
	last_error       TEXT
);

CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(status, next_run_at_ms);
CREATE INDEX IF NOT EXISTS idx_tasks_lease ON tasks(status, lease_expires_ms);

CREATE TABLE IF NOT EXISTS failure_log (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	message        TEXT NOT NULL,
	context_actor  TEXT NOT NULL,
	occurred_at_ms INTEGER NOT NULL
);
`

const taskColumns = `id, status, attempts, payload, created_at_ms, updated_at_ms, next_run_at_ms, COALESCE(last_error, '')`

// SQLiteStore implements TaskStore and FailureLog on a single SQLite file.
type SQLiteStore struct {
	db           *sql.DB
	busyTimeout  time.Duration
	maxOpenConns int
	now          func() time.Time
	closed       atomic.Bool
}

// OpenSQLite opens (creating if needed) the store at path and migrates it.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{
		busyTimeout:  defaultBusyTimeout,
		maxOpenConns: defaultMaxOpenConns,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Pragmas go in the DSN so they apply to every pooled connection.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(FULL)",
		path, s.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(s.maxOpenConns)
	db.SetMaxIdleConns(s.maxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	s.db = db

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version >= schemaVersion {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Close releases the database. Subsequent calls return ErrStoreClosed.
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) check() error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return nil
}

func (s *SQLiteStore) Enqueue(ctx context.Context, p model.Payload) (model.Task, error) {
	if err := s.check(); err != nil {
		return model.Task{}, err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return model.Task{}, fmt.Errorf("encode payload: %w", err)
	}

	now := s.now().UTC()
	t := model.Task{
		ID:        uuid.New(),
		Payload:   p,
		Status:    model.TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
		NextRunAt: now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, status, attempts, payload, created_at_ms, updated_at_ms, next_run_at_ms)
		 VALUES (?, ?, 0, ?, ?, ?, ?)`,
		t.ID.String(), string(t.Status), string(body), now.UnixMilli(), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return model.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) Claim(ctx context.Context, lease time.Duration) (model.Task, error) {
	if err := s.check(); err != nil {
		return model.Task{}, err
	}
	now := s.now().UTC().UnixMilli()
	row := s.db.QueryRowContext(ctx,
		`UPDATE tasks
		    SET status = ?, attempts = attempts + 1, lease_expires_ms = ?, updated_at_ms = ?
		  WHERE id = (
		        SELECT id FROM tasks
		         WHERE (status = ? AND next_run_at_ms <= ?)
		            OR (status = ? AND lease_expires_ms <= ?)
		         ORDER BY next_run_at_ms, created_at_ms
		         LIMIT 1)
		RETURNING `+taskColumns,
		string(model.TaskInFlight), now+lease.Milliseconds(), now,
		string(model.TaskPending), now,
		string(model.TaskInFlight), now)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, ErrNoTask
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("claim task: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) Complete(ctx context.Context, id uuid.UUID) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return affected(res, id)
}

func (s *SQLiteStore) Retry(ctx context.Context, id uuid.UUID, lastErr string, next time.Time) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, next_run_at_ms = ?, last_error = ?, lease_expires_ms = NULL, updated_at_ms = ?
		  WHERE id = ?`,
		string(model.TaskPending), next.UTC().UnixMilli(), lastErr, s.now().UTC().UnixMilli(), id.String())
	if err != nil {
		return fmt.Errorf("retry task: %w", err)
	}
	return affected(res, id)
}

func (s *SQLiteStore) Fail(ctx context.Context, id uuid.UUID, lastErr string) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, last_error = ?, lease_expires_ms = NULL, updated_at_ms = ?
		  WHERE id = ?`,
		string(model.TaskFailed), lastErr, s.now().UTC().UnixMilli(), id.String())
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return affected(res, id)
}

func (s *SQLiteStore) Requeue(ctx context.Context, id uuid.UUID) error {
	if err := s.check(); err != nil {
		return err
	}
	now := s.now().UTC().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, attempts = 0, next_run_at_ms = ?, updated_at_ms = ?
		  WHERE id = ? AND status = ?`,
		string(model.TaskPending), now, now, id.String(), string(model.TaskFailed))
	if err != nil {
		return fmt.Errorf("requeue task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: only failed tasks can be requeued", ErrInvalidStatus)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (model.Task, error) {
	if err := s.check(); err != nil {
		return model.Task{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id.String())
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t, err
}

func (s *SQLiteStore) List(ctx context.Context, status model.TaskStatus, limit int) ([]model.Task, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if limit < 1 || limit > maxListLimit {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+taskColumns+` FROM tasks ORDER BY created_at_ms LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at_ms LIMIT ?`, string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.Task, 0, limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Counts(ctx context.Context) (map[model.TaskStatus]int, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := map[model.TaskStatus]int{
		model.TaskPending:  0,
		model.TaskInFlight: 0,
		model.TaskFailed:   0,
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[model.TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) AppendFailure(ctx context.Context, rec model.FailureRecord) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = s.now()
	}
	if rec.ContextActor == "" {
		rec.ContextActor = model.SystemActor
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO failure_log (message, context_actor, occurred_at_ms) VALUES (?, ?, ?)`,
		rec.Message, rec.ContextActor, rec.OccurredAt.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("append failure: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) Failures(ctx context.Context, limit int) ([]model.FailureRecord, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if limit < 1 || limit > maxListLimit {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message, context_actor, occurred_at_ms FROM failure_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.FailureRecord
	for rows.Next() {
		var (
			rec model.FailureRecord
			ms  int64
		)
		if err := rows.Scan(&rec.ID, &rec.Message, &rec.ContextActor, &ms); err != nil {
			return nil, err
		}
		rec.OccurredAt = time.UnixMilli(ms).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (model.Task, error) {
	var (
		t                         model.Task
		id, status, body          string
		createdMS, updatedMS, due int64
	)
	if err := sc.Scan(&id, &status, &t.Attempts, &body, &createdMS, &updatedMS, &due, &t.LastError); err != nil {
		return model.Task{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return model.Task{}, fmt.Errorf("task id %q: %w", id, err)
	}
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&t.Payload); err != nil {
		return model.Task{}, fmt.Errorf("decode payload of %s: %w", id, err)
	}
	t.ID = parsed
	t.Status = model.TaskStatus(status)
	t.CreatedAt = time.UnixMilli(createdMS).UTC()
	t.UpdatedAt = time.UnixMilli(updatedMS).UTC()
	t.NextRunAt = time.UnixMilli(due).UTC()
	return t, nil
}

func affected(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return nil
}

var (
	_ TaskStore  = (*SQLiteStore)(nil)
	_ FailureLog = (*SQLiteStore)(nil)
)
