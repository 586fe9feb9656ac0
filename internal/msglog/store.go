// Package msglog keeps a local SQLite record of sent messages and the
// delivery status callbacks received for them.
package msglog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/allyourbase/ayb-twilio/internal/sms"
	"github.com/allyourbase/ayb-twilio/internal/twilio"
)

// ErrNotFound is returned when a message SID is not in the log.
var ErrNotFound = errors.New("msglog: message not found")

// Message is a row from messages.
type Message struct {
	SID          string    `json:"sid"`
	Provider     string    `json:"provider"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Body         string    `json:"body,omitempty"`
	Status       string    `json:"status"`
	ErrorCode    int       `json:"errorCode,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	SentAt       time.Time `json:"sentAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// StatusUpdate is one delivery status callback.
type StatusUpdate struct {
	SID          string
	AccountSID   string
	From         string
	To           string
	Status       string
	ErrorCode    int
	ErrorMessage string
	ReceivedAt   time.Time
}

// Event is a row from message_events.
type Event struct {
	ID         int64     `json:"id"`
	SID        string    `json:"sid"`
	Status     string    `json:"status"`
	ErrorCode  int       `json:"errorCode,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	To     string
	Status string
	Limit  int
}

const (
	defaultLimit = 50
	maxLimit     = 1000
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	sid           TEXT PRIMARY KEY,
	provider      TEXT NOT NULL DEFAULT '',
	from_number   TEXT NOT NULL DEFAULT '',
	to_number     TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT '',
	error_code    INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	sent_at       INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_to_idx ON messages (to_number);
CREATE INDEX IF NOT EXISTS messages_sent_at_idx ON messages (sent_at);
CREATE TABLE IF NOT EXISTS message_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sid         TEXT NOT NULL,
	status      TEXT NOT NULL,
	error_code  INTEGER NOT NULL DEFAULT 0,
	received_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS message_events_sid_idx ON message_events (sid);
`

// Store persists messages in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordSent inserts a sent message. A row already created by an earlier
// status callback is filled in, keeping its status.
func (s *Store) RecordSent(ctx context.Context, rec sms.Record) error {
	if rec.MessageID == "" {
		return errors.New("msglog: record has no message id")
	}
	sentAt := rec.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	ms := sentAt.UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (sid, provider, from_number, to_number, body, status, sent_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (sid) DO UPDATE SET
			provider = excluded.provider,
			from_number = excluded.from_number,
			to_number = excluded.to_number,
			body = excluded.body,
			sent_at = excluded.sent_at`,
		rec.MessageID, rec.Provider, rec.From, rec.To, rec.Body, rec.Status, ms, ms)
	if err != nil {
		return fmt.Errorf("msglog: insert message: %w", err)
	}
	return nil
}

// UpdateStatus applies a status callback and appends it to the message's
// event history. A final status is never replaced by a non-final one, since
// callbacks can arrive out of order.
func (s *Store) UpdateStatus(ctx context.Context, u StatusUpdate) error {
	if u.SID == "" {
		return errors.New("msglog: status update has no message sid")
	}
	at := u.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	ms := at.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("msglog: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM messages WHERE sid = ?", u.SID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Callback for a message sent by another process.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (sid, from_number, to_number, status, error_code, error_message, sent_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			u.SID, u.From, u.To, u.Status, u.ErrorCode, u.ErrorMessage, ms, ms)
	case err != nil:
		return fmt.Errorf("msglog: load status: %w", err)
	case twilio.MessageStatus(current).Final() && !twilio.MessageStatus(u.Status).Final():
		_, err = tx.ExecContext(ctx, "UPDATE messages SET updated_at = ? WHERE sid = ?", ms, u.SID)
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE messages SET status = ?, error_code = ?, error_message = ?, updated_at = ?
			WHERE sid = ?`,
			u.Status, u.ErrorCode, u.ErrorMessage, ms, u.SID)
	}
	if err != nil {
		return fmt.Errorf("msglog: update status: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO message_events (sid, status, error_code, received_at) VALUES (?, ?, ?, ?)",
		u.SID, u.Status, u.ErrorCode, ms); err != nil {
		return fmt.Errorf("msglog: insert event: %w", err)
	}
	return tx.Commit()
}

const columns = "sid, provider, from_number, to_number, body, status, error_code, error_message, sent_at, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*Message, error) {
	var m Message
	var sentAt, updatedAt int64
	if err := row.Scan(&m.SID, &m.Provider, &m.From, &m.To, &m.Body, &m.Status,
		&m.ErrorCode, &m.ErrorMessage, &sentAt, &updatedAt); err != nil {
		return nil, err
	}
	m.SentAt = time.UnixMilli(sentAt).UTC()
	m.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &m, nil
}

// Get returns the message with the given SID.
func (s *Store) Get(ctx context.Context, sid string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+columns+" FROM messages WHERE sid = ?", sid)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msglog: get message: %w", err)
	}
	return m, nil
}

// List returns messages newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Message, error) {
	var where []string
	var args []any
	if f.To != "" {
		where = append(where, "to_number = ?")
		args = append(args, f.To)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	query := "SELECT " + columns + " FROM messages"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY sent_at DESC, sid LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("msglog: list messages: %w", err)
	}
	defer rows.Close()

	result := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("msglog: scan message: %w", err)
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}

// Events returns the status history of a message, oldest first.
func (s *Store) Events(ctx context.Context, sid string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, sid, status, error_code, received_at FROM message_events WHERE sid = ? ORDER BY id", sid)
	if err != nil {
		return nil, fmt.Errorf("msglog: list events: %w", err)
	}
	defer rows.Close()

	result := []Event{}
	for rows.Next() {
		var e Event
		var at int64
		if err := rows.Scan(&e.ID, &e.SID, &e.Status, &e.ErrorCode, &at); err != nil {
			return nil, fmt.Errorf("msglog: scan event: %w", err)
		}
		e.ReceivedAt = time.UnixMilli(at).UTC()
		result = append(result, e)
	}
	return result, rows.Err()
}

// Prune deletes messages and events older than olderThan and returns the
// number of messages removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("msglog: prune messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM message_events WHERE received_at < ?", cutoff); err != nil {
		return 0, fmt.Errorf("msglog: prune events: %w", err)
	}
	return res.RowsAffected()
}

// Stats summarizes messages sent in a time window.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
}

// Stats counts messages sent at or after since, grouped by current status.
func (s *Store) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM messages WHERE sent_at >= ? GROUP BY status", since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("msglog: stats: %w", err)
	}
	defer rows.Close()

	st := &Stats{ByStatus: map[string]int{}}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("msglog: scan stats: %w", err)
		}
		st.ByStatus[status] = n
		st.Total += n
	}
	return st, rows.Err()
}
