package syncq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// busyTimeoutMs is how long a statement waits for another connection's write
// lock before failing with SQLITE_BUSY.
const busyTimeoutMs = 5000

// SQLiteStore persists queue records in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens/creates a SQLite database at path and runs migrations.
// Other processes may hold the same file; writers wait for each other.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway; one connection keeps transactions simple.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// sqliteDSN applies the busy timeout to every connection the pool opens.
// Transactions begin IMMEDIATE so a read-then-write update takes the write
// lock up front and waits on it, instead of failing on upgrade.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)&_txlock=immediate", path, sep, busyTimeoutMs)
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(fmt.Sprintf(`PRAGMA busy_timeout=%d`, busyTimeoutMs)); err != nil {
		return fmt.Errorf("syncq: set busy timeout: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("syncq: enable WAL: %w", err)
	}
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS offlineQueue (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  action TEXT NOT NULL,
  endpoint TEXT NOT NULL,
  method TEXT NOT NULL,
  body TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  retry_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS offlineQueue_status_created
  ON offlineQueue(status, created_at, seq);

CREATE TABLE IF NOT EXISTS sync_state (
  k TEXT PRIMARY KEY,
  v TEXT NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("syncq: migrate: %w", err)
	}
	return nil
}

const itemColumns = `seq, id, action, endpoint, method, body, status, retry_count, last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (QueueItem, error) {
	var (
		it               QueueItem
		status           string
		created, updated int64
	)
	err := r.Scan(&it.Seq, &it.ID, &it.Action, &it.Endpoint, &it.Method, &it.Body,
		&status, &it.RetryCount, &it.LastError, &created, &updated)
	if err != nil {
		return QueueItem{}, err
	}
	it.Status = Status(status)
	it.CreatedAt = time.Unix(0, created).UTC()
	it.UpdatedAt = time.Unix(0, updated).UTC()
	return it, nil
}

// Add implements Store.
func (s *SQLiteStore) Add(ctx context.Context, item QueueItem) (QueueItem, error) {
	if !item.Status.Stored() {
		return QueueItem{}, ErrUnknownStatus
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO offlineQueue(id, action, endpoint, method, body, status, retry_count, last_error, created_at, updated_at)
VALUES(?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO NOTHING`,
		item.ID, item.Action, item.Endpoint, item.Method, item.Body, string(item.Status),
		item.RetryCount, item.LastError, item.CreatedAt.UnixNano(), item.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return QueueItem{}, fmt.Errorf("syncq: add %s: %w", item.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return QueueItem{}, fmt.Errorf("syncq: add %s: %w", item.ID, err)
	}
	if n == 0 {
		return QueueItem{}, ErrDuplicateItem
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return QueueItem{}, fmt.Errorf("syncq: add %s: %w", item.ID, err)
	}
	item.Seq = seq
	return item, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM offlineQueue WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return QueueItem{}, ErrItemNotFound
	}
	if err != nil {
		return QueueItem{}, fmt.Errorf("syncq: get %s: %w", id, err)
	}
	return it, nil
}

// Update implements Store. The read, fn and write share one transaction;
// fn must not call back into the store.
func (s *SQLiteStore) Update(ctx context.Context, id string, fn func(*QueueItem)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("syncq: update %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanItem(tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM offlineQueue WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("syncq: update %s: %w", id, err)
	}
	next := cur
	fn(&next)
	pinImmutable(&next, cur)
	if !next.Status.Stored() {
		return ErrUnknownStatus
	}

	_, err = tx.ExecContext(ctx, `
UPDATE offlineQueue
SET action = ?, endpoint = ?, method = ?, body = ?, status = ?, retry_count = ?, last_error = ?, updated_at = ?
WHERE id = ?`,
		next.Action, next.Endpoint, next.Method, next.Body, string(next.Status),
		next.RetryCount, next.LastError, next.UpdatedAt.UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("syncq: update %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("syncq: update %s: %w", id, err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM offlineQueue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("syncq: delete %s: %w", id, err)
	}
	return nil
}

// List implements Store. With no statuses it lists every stored status.
func (s *SQLiteStore) List(ctx context.Context, statuses ...Status) ([]QueueItem, error) {
	where, args, err := statusFilter(statuses)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM offlineQueue`+where+` ORDER BY created_at ASC, seq ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("syncq: list: %w", err)
	}
	defer rows.Close()

	var out []QueueItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("syncq: list: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("syncq: list: %w", err)
	}
	return out, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context, statuses ...Status) (int, error) {
	where, args, err := statusFilter(statuses)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offlineQueue`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("syncq: count: %w", err)
	}
	return n, nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM offlineQueue`); err != nil {
		return fmt.Errorf("syncq: clear: %w", err)
	}
	return nil
}

// GetState implements Store.
func (s *SQLiteStore) GetState(ctx context.Context, key, def string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM sync_state WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("syncq: get state %s: %w", key, err)
	}
	return v, nil
}

// SetState implements Store.
func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_state(k, v) VALUES(?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, key, val)
	if err != nil {
		return fmt.Errorf("syncq: set state %s: %w", key, err)
	}
	return nil
}

func statusFilter(statuses []Status) (string, []any, error) {
	if len(statuses) == 0 {
		return "", nil, nil
	}
	if err := validStatuses(statuses); err != nil {
		return "", nil, err
	}
	ph := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		ph[i] = "?"
		args[i] = string(st)
	}
	return ` WHERE status IN (` + strings.Join(ph, ",") + `)`, args, nil
}
