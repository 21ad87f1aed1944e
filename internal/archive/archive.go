// Package archive keeps every fetched message in sqlite so a run can be
// repeated against the same inputs without re-fetching, and so the lookback
// window can reach further than a source's own history.
package archive

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/harunnryd/matsuri/internal/digest"
)

type Archive struct {
	readDB  *sql.DB
	writeDB *sql.DB
}

func Open(dbPath string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating archive dir: %w", err)
	}

	writeDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening write db: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("opening read db: %w", err)
	}

	a := &Archive{readDB: readDB, writeDB: writeDB}
	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) init() error {
	_, err := a.writeDB.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			link       TEXT PRIMARY KEY,
			source     TEXT NOT NULL,
			text       TEXT NOT NULL,
			posted     DATETIME NOT NULL,
			fetched_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_posted ON messages(posted);
		CREATE INDEX IF NOT EXISTS idx_messages_source ON messages(source);

		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

func (a *Archive) Close() error {
	var errs []error
	if a.readDB != nil {
		errs = append(errs, a.readDB.Close())
	}
	if a.writeDB != nil {
		errs = append(errs, a.writeDB.Close())
	}
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// UpsertMessages stores messages by link. A link seen again keeps its first
// posted time; the text is refreshed, messages can be edited after posting.
func (a *Archive) UpsertMessages(messages []digest.SourceMessage) error {
	tx, err := a.writeDB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO messages (link, source, text, posted, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(link) DO UPDATE SET
			text = excluded.text,
			fetched_at = excluded.fetched_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, m := range messages {
		if _, err := stmt.Exec(m.Link, m.Source, m.Text, m.Timestamp, now); err != nil {
			return fmt.Errorf("upserting message %s: %w", m.Link, err)
		}
	}

	return tx.Commit()
}

// Messages returns archived messages posted at or after since, ordered by
// posted time with link ties broken lexically.
func (a *Archive) Messages(since time.Time) ([]digest.SourceMessage, error) {
	rows, err := a.readDB.Query(`
		SELECT link, source, text, posted FROM messages
		WHERE posted >= ?
		ORDER BY posted ASC, link ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []digest.SourceMessage
	for rows.Next() {
		var m digest.SourceMessage
		if err := rows.Scan(&m.Link, &m.Source, &m.Text, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Count reports how many messages the archive holds.
func (a *Archive) Count() (int, error) {
	var n int
	if err := a.readDB.QueryRow("SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// LastFetch reports when source was last pulled.
func (a *Archive) LastFetch(source string) (time.Time, bool) {
	var value string
	err := a.readDB.QueryRow("SELECT value FROM meta WHERE key = ?", "last_fetch:"+source).Scan(&value)
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (a *Archive) SetLastFetch(source string, t time.Time) error {
	_, err := a.writeDB.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, "last_fetch:"+source, t.Format(time.RFC3339))
	return err
}
