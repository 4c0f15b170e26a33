// Package store persists sessions and their telemetry in SQLite. It is the
// single source of truth: uniqueness, quotas and cascades are enforced here.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"keywatch-server/internal/category"
	"keywatch-server/internal/model"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateSession = errors.New("session already exists")
	ErrQuotaExceeded    = errors.New("quota exceeded")
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
  id64 TEXT PRIMARY KEY,
  id2 TEXT NOT NULL,
  token TEXT NOT NULL UNIQUE,
  start_date INTEGER NOT NULL,
  online INTEGER NOT NULL DEFAULT 0,
  last_online INTEGER,
  last_offline INTEGER,
  message_id TEXT
);
CREATE TABLE IF NOT EXISTS logs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id64 TEXT NOT NULL REFERENCES sessions(id64) ON DELETE CASCADE,
  time INTEGER NOT NULL,
  key TEXT NOT NULL,
  category TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS clicks (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id64 TEXT NOT NULL REFERENCES sessions(id64) ON DELETE CASCADE,
  time INTEGER NOT NULL,
  x REAL NOT NULL,
  y REAL NOT NULL,
  w INTEGER NOT NULL,
  h INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_session ON logs(session_id64);
CREATE INDEX IF NOT EXISTS idx_clicks_session ON clicks(session_id64);
`

// Store wraps the SQLite handle. Safe for concurrent use.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateSession inserts one session row. The primary key makes the
// check-then-insert atomic: a concurrent insert for the same id64 surfaces
// as ErrDuplicateSession.
func (s *Store) CreateSession(ctx context.Context, sess model.Session) error {
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO sessions (id64, id2, token, start_date, online, last_online, last_offline, message_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID64,
		sess.ID2,
		sess.Token,
		sess.StartedAt,
		boolToInt(sess.Online),
		sess.LastOnline,
		sess.LastOffline,
		sess.AnnouncementID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetByID64 returns one session by its primary key.
func (s *Store) GetByID64(ctx context.Context, id64 string) (model.Session, error) {
	return s.getSession(ctx, "id64", id64)
}

// GetByToken returns one session by its access token.
func (s *Store) GetByToken(ctx context.Context, token string) (model.Session, error) {
	return s.getSession(ctx, "token", token)
}

func (s *Store) getSession(ctx context.Context, column, value string) (model.Session, error) {
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id64, id2, token, start_date, online, last_online, last_offline, message_id
		   FROM sessions WHERE `+column+` = ?`,
		value,
	)
	var sess model.Session
	var online int
	err := row.Scan(
		&sess.ID64,
		&sess.ID2,
		&sess.Token,
		&sess.StartedAt,
		&online,
		&sess.LastOnline,
		&sess.LastOffline,
		&sess.AnnouncementID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, fmt.Errorf("get session: %w", err)
	}
	sess.Online = online != 0
	return sess, nil
}

// ListSummaries returns every session in creation order.
func (s *Store) ListSummaries(ctx context.Context) ([]model.SessionSummary, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id2, token, online FROM sessions ORDER BY start_date ASC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	result := make([]model.SessionSummary, 0)
	for rows.Next() {
		var sum model.SessionSummary
		var online int
		if err := rows.Scan(&sum.ID2, &sum.Token, &online); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		sum.Online = online != 0
		result = append(result, sum)
	}
	return result, rows.Err()
}

// ListActiveIDs returns the id64 of every live session.
func (s *Store) ListActiveIDs(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id64 FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("list active ids: %w", err)
	}
	defer rows.Close()

	result := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id64: %w", err)
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

func (s *Store) CountSessions(ctx context.Context) (int, error) {
	return s.countRows(ctx, `SELECT COUNT(*) FROM sessions`)
}

func (s *Store) CountKeyEvents(ctx context.Context, id64 string) (int, error) {
	return s.countRows(ctx, `SELECT COUNT(*) FROM logs WHERE session_id64 = ?`, id64)
}

func (s *Store) CountClickEvents(ctx context.Context, id64 string) (int, error) {
	return s.countRows(ctx, `SELECT COUNT(*) FROM clicks WHERE session_id64 = ?`, id64)
}

func (s *Store) countRows(ctx context.Context, query string, args ...any) (int, error) {
	var count int
	if err := s.sqlDB.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return count, nil
}

// AppendKeyEvent appends one key row. When limit is positive the count and
// insert run in one transaction so concurrent writers cannot push a session
// past its cap; limit 0 disables the check (presence audit rows).
func (s *Store) AppendKeyEvent(ctx context.Context, id64 string, time int64, key string, cat category.Category, limit int) error {
	return s.appendCapped(ctx, limit,
		`SELECT COUNT(*) FROM logs WHERE session_id64 = ?`,
		`INSERT INTO logs (session_id64, time, key, category) VALUES (?, ?, ?, ?)`,
		[]any{id64},
		[]any{id64, time, key, string(cat)},
	)
}

// AppendClickEvent appends one click row under the same capping rules.
func (s *Store) AppendClickEvent(ctx context.Context, id64 string, time int64, x, y float64, w, h int, limit int) error {
	return s.appendCapped(ctx, limit,
		`SELECT COUNT(*) FROM clicks WHERE session_id64 = ?`,
		`INSERT INTO clicks (session_id64, time, x, y, w, h) VALUES (?, ?, ?, ?, ?, ?)`,
		[]any{id64},
		[]any{id64, time, x, y, w, h},
	)
}

func (s *Store) appendCapped(ctx context.Context, limit int, countQuery, insertQuery string, countArgs, insertArgs []any) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if limit > 0 {
		var count int
		if err := tx.QueryRowContext(ctx, countQuery, countArgs...).Scan(&count); err != nil {
			return fmt.Errorf("count events: %w", err)
		}
		if count >= limit {
			return ErrQuotaExceeded
		}
	}
	if _, err := tx.ExecContext(ctx, insertQuery, insertArgs...); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// UpdatePresence replaces all three presence fields in one statement.
// Callers pass the full intended state, including the timestamp they did
// not change.
func (s *Store) UpdatePresence(ctx context.Context, id64 string, online bool, lastOnline, lastOffline *int64) error {
	res, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE sessions SET online = ?, last_online = ?, last_offline = ? WHERE id64 = ?`,
		boolToInt(online),
		lastOnline,
		lastOffline,
		id64,
	)
	if err != nil {
		return fmt.Errorf("update presence: %w", err)
	}
	return requireRow(res)
}

// SetAnnouncementID records the collaborator's message reference.
func (s *Store) SetAnnouncementID(ctx context.Context, id64, messageID string) error {
	res, err := s.sqlDB.ExecContext(ctx, `UPDATE sessions SET message_id = ? WHERE id64 = ?`, messageID, id64)
	if err != nil {
		return fmt.Errorf("set announcement id: %w", err)
	}
	return requireRow(res)
}

// DeleteSession removes one session; its logs and clicks go with it via
// the cascading foreign keys.
func (s *Store) DeleteSession(ctx context.Context, id64 string) error {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE id64 = ?`, id64)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return requireRow(res)
}

// PurgeBefore deletes sessions started before cutoff (unix millis) and
// returns how many were removed. Run once at process start.
func (s *Store) PurgeBefore(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE start_date < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return n, nil
}

// ListKeyEvents returns a session's key rows newest first.
func (s *Store) ListKeyEvents(ctx context.Context, id64 string) ([]model.KeyEvent, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT time, key, category FROM logs WHERE session_id64 = ? ORDER BY time DESC, id DESC`,
		id64,
	)
	if err != nil {
		return nil, fmt.Errorf("list key events: %w", err)
	}
	defer rows.Close()

	result := make([]model.KeyEvent, 0)
	for rows.Next() {
		var ev model.KeyEvent
		var cat string
		if err := rows.Scan(&ev.Time, &ev.Key, &cat); err != nil {
			return nil, fmt.Errorf("scan key event: %w", err)
		}
		ev.Category = category.Category(cat)
		result = append(result, ev)
	}
	return result, rows.Err()
}

// ListClickEvents returns a session's click rows newest first.
func (s *Store) ListClickEvents(ctx context.Context, id64 string) ([]model.ClickEvent, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT time, x, y, w, h FROM clicks WHERE session_id64 = ? ORDER BY time DESC, id DESC`,
		id64,
	)
	if err != nil {
		return nil, fmt.Errorf("list click events: %w", err)
	}
	defer rows.Close()

	result := make([]model.ClickEvent, 0)
	for rows.Next() {
		var ev model.ClickEvent
		if err := rows.Scan(&ev.Time, &ev.X, &ev.Y, &ev.W, &ev.H); err != nil {
			return nil, fmt.Errorf("scan click event: %w", err)
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
