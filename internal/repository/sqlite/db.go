package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open opens (or creates) the sqlite store at path, creating parent
// directories on first run. The pool holds a single connection, so every
// repository call is serialized on it.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return db, nil
}

// Store bundles the repositories sharing one database handle.
type Store struct {
	DB        *sql.DB
	Downloads *DownloadRepository
	Settings  *SettingsRepository
	Trackers  *TrackerRepository
}

// OpenStore opens the database at path and creates every table.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	s := &Store{
		DB:        db,
		Downloads: &DownloadRepository{db: db},
		Settings:  &SettingsRepository{db: db},
		Trackers:  &TrackerRepository{db: db},
	}
	for name, init := range map[string]func(context.Context) error{
		"downloads": s.Downloads.Init,
		"settings":  s.Settings.Init,
		"trackers":  s.Trackers.Init,
	} {
		if err := init(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("init %s repository: %w", name, err)
		}
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}
