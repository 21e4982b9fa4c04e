// Package usage records per-user request counters in SQLite.
package usage

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS usage_stats (
	user_id        INTEGER PRIMARY KEY,
	username       TEXT NOT NULL DEFAULT '',
	total_requests INTEGER NOT NULL DEFAULT 0,
	text_requests  INTEGER NOT NULL DEFAULT 0,
	web_requests   INTEGER NOT NULL DEFAULT 0,
	last_used_at   INTEGER NOT NULL DEFAULT 0
);
`

// Tracker persists usage counters. Safe for concurrent use; SQLite
// serializes writes internally.
type Tracker struct {
	db         *sql.DB
	stmtRecord *sql.Stmt
}

// Stat is one user's aggregated counters.
type Stat struct {
	UserID     int64
	Username   string
	Total      int64
	Text       int64
	Web        int64
	LastUsedAt time.Time
}

func Open(path string) (*Tracker, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init usage schema: %w", err)
	}

	stmt, err := db.Prepare(`
		INSERT INTO usage_stats (user_id, username, total_requests, text_requests, web_requests, last_used_at)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username       = excluded.username,
			total_requests = total_requests + 1,
			text_requests  = text_requests + excluded.text_requests,
			web_requests   = web_requests + excluded.web_requests,
			last_used_at   = excluded.last_used_at`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare usage stmt: %w", err)
	}

	log.Printf("[Usage] Tracker opened at %s", path)
	return &Tracker{db: db, stmtRecord: stmt}, nil
}

// Record counts one request. web marks the web-augmented path.
func (t *Tracker) Record(userID int64, username string, web bool) error {
	textN, webN := 1, 0
	if web {
		textN, webN = 0, 1
	}
	_, err := t.stmtRecord.Exec(userID, username, textN, webN, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Top returns the heaviest users by total requests.
func (t *Tracker) Top(limit int) ([]Stat, error) {
	rows, err := t.db.Query(`
		SELECT user_id, username, total_requests, text_requests, web_requests, last_used_at
		FROM usage_stats ORDER BY total_requests DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var stats []Stat
	for rows.Next() {
		var s Stat
		var lastUsed int64
		if err := rows.Scan(&s.UserID, &s.Username, &s.Total, &s.Text, &s.Web, &lastUsed); err != nil {
			return nil, err
		}
		s.LastUsedAt = time.Unix(lastUsed, 0)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (t *Tracker) Close() error {
	t.stmtRecord.Close()
	return t.db.Close()
}
