package storage

import (
	"database/sql"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/NiklasVd/tell/pkg/identity"
	_ "modernc.org/sqlite"
)

// Record is one stored chat message.
type Record struct {
	ID     int64
	At     time.Time
	Peer   identity.Identity
	Target string
	Text   string
}

// History is an append-only chat log in sqlite.
type History struct {
	mutex sync.Mutex
	db    *sql.DB
}

func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	schema := `
CREATE TABLE IF NOT EXISTS messages(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  at INTEGER NOT NULL,
  peer TEXT NOT NULL,
  token INTEGER NOT NULL,
  target TEXT NOT NULL,
  text TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_at ON messages(at);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &History{db: db}, nil
}

func (h *History) Close() error { return h.db.Close() }

// Append stores r and returns its row id.
func (h *History) Append(r Record) (int64, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	res, err := h.db.Exec(`INSERT INTO messages(at, peer, token, target, text) VALUES(?, ?, ?, ?, ?)`,
		r.At.UnixNano(), r.Peer.Name, int64(r.Peer.Token), r.Target, r.Text) // #nosec G115 - tokens are Unix nanoseconds
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to n of the newest records, oldest first.
func (h *History) Recent(n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := h.db.Query(`SELECT id, at, peer, token, target, text FROM messages ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r     Record
			at    int64
			token int64
		)
		if err := rows.Scan(&r.ID, &at, &r.Peer.Name, &token, &r.Target, &r.Text); err != nil {
			return nil, err
		}
		r.At = time.Unix(0, at)
		r.Peer.Token = uint64(token) // #nosec G115
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(records)
	return records, nil
}

func (h *History) Count() (int, error) {
	var n int
	err := h.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}
