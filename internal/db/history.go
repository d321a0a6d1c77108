package db

import (
	"database/sql"
	"time"

	"github.com/wlnet/metaclient/internal/events"
)

// HistoryDatabase records what the metaserver session saw.
type HistoryDatabase struct {
	db *store
}

// ChatRecord is a stored chat line.
type ChatRecord struct {
	ID         int64     `json:"id"`
	Sender     string    `json:"sender"`
	Message    string    `json:"message"`
	Type       string    `json:"type"`
	ReceivedAt time.Time `json:"received_at"`
}

// NoticeRecord is a stored MOTD, announcement or protocol error.
type NoticeRecord struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// SessionRecord is one login, open until EndedAt is set.
type SessionRecord struct {
	ID        int64      `json:"id"`
	Nickname  string     `json:"nickname"`
	Rights    string     `json:"rights"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
}

// historyMigrations is the schema, one step per user_version. Timestamps
// are unix milliseconds. Append new steps; never edit a released one.
var historyMigrations = []string{
	`
	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender TEXT NOT NULL,
		message TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'public',
		received_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		text TEXT NOT NULL,
		received_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		nickname TEXT NOT NULL,
		rights TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		end_reason TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_chat_received ON chat_messages(received_at);
	CREATE INDEX IF NOT EXISTS idx_notices_received ON notices(received_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions(ended_at);
	`,
}

// NewHistoryDatabase opens the history store and migrates its schema.
func NewHistoryDatabase(dbPath string) (*HistoryDatabase, error) {
	st, err := openStore(dbPath, historyMigrations)
	if err != nil {
		return nil, err
	}
	return &HistoryDatabase{db: st}, nil
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// RecordChat stores a chat line.
func (h *HistoryDatabase) RecordChat(sender, message, chatType string, at time.Time) error {
	_, err := h.db.exec(
		"INSERT INTO chat_messages (sender, message, type, received_at) VALUES (?, ?, ?, ?)",
		sender, message, chatType, millis(at))
	return err
}

// RecentChat returns up to limit chat lines, newest first.
func (h *HistoryDatabase) RecentChat(limit int) ([]ChatRecord, error) {
	rows, err := h.db.query(
		"SELECT id, sender, message, type, received_at FROM chat_messages ORDER BY received_at DESC, id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ChatRecord
	for rows.Next() {
		var r ChatRecord
		var at int64
		if err := rows.Scan(&r.ID, &r.Sender, &r.Message, &r.Type, &at); err != nil {
			return nil, err
		}
		r.ReceivedAt = fromMillis(at)
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecordNotice stores a server notice.
func (h *HistoryDatabase) RecordNotice(kind, text string, at time.Time) error {
	_, err := h.db.exec(
		"INSERT INTO notices (kind, text, received_at) VALUES (?, ?, ?)",
		kind, text, millis(at))
	return err
}

// RecentNotices returns up to limit notices, newest first.
func (h *HistoryDatabase) RecentNotices(limit int) ([]NoticeRecord, error) {
	rows, err := h.db.query(
		"SELECT id, kind, text, received_at FROM notices ORDER BY received_at DESC, id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []NoticeRecord
	for rows.Next() {
		var r NoticeRecord
		var at int64
		if err := rows.Scan(&r.ID, &r.Kind, &r.Text, &at); err != nil {
			return nil, err
		}
		r.ReceivedAt = fromMillis(at)
		records = append(records, r)
	}
	return records, rows.Err()
}

// StartSession opens a session record and closes any left open by a crash.
func (h *HistoryDatabase) StartSession(nickname, rights string, at time.Time) (int64, error) {
	var id int64
	err := h.db.tx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			"UPDATE sessions SET ended_at = ?, end_reason = 'ABANDONED' WHERE ended_at IS NULL",
			millis(at)); err != nil {
			return err
		}
		res, err := tx.Exec(
			"INSERT INTO sessions (nickname, rights, started_at) VALUES (?, ?, ?)",
			nickname, rights, millis(at))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// EndSession closes a session record.
func (h *HistoryDatabase) EndSession(id int64, reason string, at time.Time) error {
	_, err := h.db.exec(
		"UPDATE sessions SET ended_at = ?, end_reason = ? WHERE id = ? AND ended_at IS NULL",
		millis(at), reason, id)
	return err
}

// RecentSessions returns up to limit sessions, newest first.
func (h *HistoryDatabase) RecentSessions(limit int) ([]SessionRecord, error) {
	rows, err := h.db.query(
		"SELECT id, nickname, rights, started_at, ended_at, end_reason FROM sessions ORDER BY started_at DESC, id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var r SessionRecord
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Nickname, &r.Rights, &started, &ended, &r.EndReason); err != nil {
			return nil, err
		}
		r.StartedAt = fromMillis(started)
		if ended.Valid {
			t := fromMillis(ended.Int64)
			r.EndedAt = &t
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Prune deletes chat lines and notices older than the cutoff.
func (h *HistoryDatabase) Prune(before time.Time) (int64, error) {
	var total int64
	err := h.db.tx(func(tx *sql.Tx) error {
		for _, table := range []string{"chat_messages", "notices"} {
			res, err := tx.Exec("DELETE FROM "+table+" WHERE received_at < ?", millis(before))
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	return total, err
}

// Attach records session events from the bus until Detach is called.
func (h *HistoryDatabase) Attach(bus *events.EventBus) {
	rec := &recorder{db: h}
	bus.Subscribe(events.EventChat, historySubscriber, rec.handle)
	bus.Subscribe(events.EventMotd, historySubscriber, rec.handle)
	bus.Subscribe(events.EventAnnouncement, historySubscriber, rec.handle)
	bus.Subscribe(events.EventProtocolError, historySubscriber, rec.handle)
	bus.Subscribe(events.EventLoggedIn, historySubscriber, rec.handle)
	bus.Subscribe(events.EventDisconnected, historySubscriber, rec.handle)
}

// Detach stops recording bus events.
func (h *HistoryDatabase) Detach(bus *events.EventBus) {
	bus.UnsubscribeAll(historySubscriber)
}

// Close closes the database.
func (h *HistoryDatabase) Close() error {
	return h.db.close()
}

const historySubscriber = "history"
