// Package state persists per-folder UID watermarks between mirror runs in
// a SQLite database, so a run can skip source messages an earlier
// successful run already handled.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var createTableSQL = []string{
	// One row per source folder of one mirror (source account ->
	// destination account pair).
	//
	// uid_validity is the source folder's UIDVALIDITY when last_uid was
	// recorded; a different value invalidates the row.
	`
CREATE TABLE IF NOT EXISTS folder_watermarks (
mirror TEXT NOT NULL,
folder TEXT NOT NULL,
uid_validity INTEGER NOT NULL,
last_uid INTEGER NOT NULL,
updated_at INTEGER NOT NULL,
PRIMARY KEY (mirror, folder)
);`,
}

// DB is an open watermark database.
type DB struct {
	db *sql.DB
}

func dsnFromPath(path string) (string, error) {
	var u *url.URL
	if !strings.HasPrefix(path, "file:") {
		u = &url.URL{Scheme: "file", Path: path}
	} else {
		var err error
		if u, err = url.Parse(path); err != nil {
			return "", err
		}
	}
	values := u.Query()
	values.Set("_busy_timeout", fmt.Sprint(int(time.Minute/time.Millisecond)))
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn, err := dsnFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("state: database path %q: %w", path, err)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: open %q: %w", path, err)
	}
	// a single writer keeps sqlite from reporting SQLITE_BUSY to ourselves
	db.SetMaxOpenConns(1)

	for _, q := range createTableSQL {
		if _, err := db.ExecContext(ctx, q); err != nil {
			db.Close()
			return nil, fmt.Errorf("state: init schema of %q: %w", path, err)
		}
	}
	return &DB{db: db}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Mirror returns the watermarks of one mirror, identified by key.
func (db *DB) Mirror(key string) *Store {
	return &Store{db: db.db, key: key}
}

// Store holds the watermarks of one mirror. It satisfies
// mirror.WatermarkStore.
type Store struct {
	db  *sql.DB
	key string
}

// Load returns the watermark recorded for folder, if any.
func (s *Store) Load(folder string) (uidValidity uint32, lastUID int, ok bool, err error) {
	row := s.db.QueryRow(`SELECT uid_validity, last_uid FROM folder_watermarks WHERE mirror = ? AND folder = ?`, s.key, folder)
	var validity int64
	switch scanErr := row.Scan(&validity, &lastUID); {
	case scanErr == nil:
		return uint32(validity), lastUID, true, nil
	case errors.Is(scanErr, sql.ErrNoRows):
		return 0, 0, false, nil
	default:
		return 0, 0, false, fmt.Errorf("state: load %q: %w", folder, scanErr)
	}
}

// Save records lastUID as the watermark of folder.
func (s *Store) Save(folder string, uidValidity uint32, lastUID int) error {
	_, err := s.db.Exec(`
INSERT INTO folder_watermarks (mirror, folder, uid_validity, last_uid, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (mirror, folder) DO UPDATE SET
uid_validity = excluded.uid_validity,
last_uid = excluded.last_uid,
updated_at = excluded.updated_at`,
		s.key, folder, int64(uidValidity), lastUID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("state: save %q: %w", folder, err)
	}
	return nil
}

// Reset forgets every watermark of the mirror.
func (s *Store) Reset() error {
	if _, err := s.db.Exec(`DELETE FROM folder_watermarks WHERE mirror = ?`, s.key); err != nil {
		return fmt.Errorf("state: reset: %w", err)
	}
	return nil
}
