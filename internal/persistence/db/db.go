// Package db is the SQLite persistence adapter: players, realms,
// access lists, messaging, bookmarks, and the federation ban table all
// live in one database file.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vmihailenco/msgpack/v5"

	"spadina.network/internal/access"
)

// DB wraps the SQLite handle. Safe for concurrent use; the pool is a
// single connection, which serializes writers the way SQLite wants.
type DB struct {
	db *sql.DB
}

func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	sq, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	sq.SetMaxOpenConns(1)
	sq.SetMaxIdleConns(1)
	sq.SetConnMaxLifetime(0)

	if err := initPragmas(sq); err != nil {
		_ = sq.Close()
		return nil, err
	}
	if err := initSchema(sq); err != nil {
		_ = sq.Close()
		return nil, err
	}
	return &DB{db: sq}, nil
}

func (d *DB) Close() error { return d.db.Close() }

func initPragmas(db *sql.DB) error {
	// WAL suits the mixed read/append workload here.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func encodeList(list access.List) ([]byte, error) {
	data, err := msgpack.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("encode access list: %w", err)
	}
	return data, nil
}

func decodeList(data []byte) (access.List, error) {
	var list access.List
	if err := msgpack.Unmarshal(data, &list); err != nil {
		return access.List{}, fmt.Errorf("decode access list: %w", err)
	}
	return list, nil
}

// defaultList is the verdict for a target with no stored list.
// Messaging is open, the server visit list is open, everything else is
// closed.
func defaultList(target access.Target) access.List {
	switch target {
	case access.TargetDirectMessages:
		return access.DefaultMessaging()
	case access.TargetAccessServer:
		return access.List{DefaultAllow: true}
	default:
		return access.DefaultAccess()
	}
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func unstamp(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }
