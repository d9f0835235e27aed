// Package scrollback records session output in SQLite so players can
// replay recent lines with the recall command after a reconnect.
package scrollback

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Kind classifies a stored line.
const (
	KindOutput  = "output"
	KindCommand = "command"
	KindSystem  = "system"
)

// Entry is one recorded line.
type Entry struct {
	ID      int64
	Account string
	Room    string
	Kind    string
	Text    string
	At      time.Time
}

// Log manages the SQLite scrollback database.
type Log struct {
	mu      sync.Mutex
	db      *sql.DB
	path    string
	timeout time.Duration
	done    chan struct{}
}

// Open opens the scrollback database, sets WAL mode, and creates tables.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("scrollback: open %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("scrollback: setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=2000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("scrollback: setting busy timeout: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS scrollback (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		account TEXT NOT NULL,
		room    TEXT NOT NULL DEFAULT '',
		kind    TEXT NOT NULL,
		text    TEXT NOT NULL,
		at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_scrollback_account_at ON scrollback(account, at);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("scrollback: init tables: %w", err)
	}

	return &Log{
		db:      db,
		path:    path,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}, nil
}

// Close stops the retention cleanup and closes the database.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.done:
	default:
		close(l.done)
	}
	if l.db != nil {
		err := l.db.Close()
		l.db = nil
		return err
	}
	return nil
}

// Path returns the filesystem path of the database.
func (l *Log) Path() string { return l.path }

// Insert records one line for an account.
func (l *Log) Insert(account, room, kind, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return fmt.Errorf("scrollback: closed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO scrollback (account, room, kind, text, at) VALUES (?, ?, ?, ?, ?)",
		account, room, kind, text, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("scrollback: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit most recent entries for an account, oldest
// first so they replay in reading order.
func (l *Log) Recent(account string, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil, fmt.Errorf("scrollback: closed")
	}
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, account, room, kind, text, at FROM
		   (SELECT * FROM scrollback WHERE account = ? ORDER BY id DESC LIMIT ?)
		 ORDER BY id ASC`,
		account, limit)
	if err != nil {
		return nil, fmt.Errorf("scrollback: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.ID, &e.Account, &e.Room, &e.Kind, &e.Text, &at); err != nil {
			return nil, fmt.Errorf("scrollback: scan: %w", err)
		}
		e.At = time.Unix(at, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PurgeOlderThan deletes entries older than the retention window and
// returns how many were removed.
func (l *Log) PurgeOlderThan(retention time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return 0, fmt.Errorf("scrollback: closed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	cutoff := time.Now().Add(-retention).Unix()
	res, err := l.db.ExecContext(ctx, "DELETE FROM scrollback WHERE at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("scrollback: purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// StartRetentionCleanup starts an hourly goroutine that purges old entries.
// It stops when the log is closed.
func (l *Log) StartRetentionCleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-l.done:
				return
			case <-ticker.C:
				purged, err := l.PurgeOlderThan(retention)
				if err != nil {
					log.Printf("scrollback cleanup error: %v", err)
					continue
				}
				if purged > 0 {
					log.Printf("scrollback: purged %d old entries", purged)
				}
			}
		}
	}()
}
