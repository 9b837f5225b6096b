package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/repository"
)

const createTrackersTables = `
CREATE TABLE IF NOT EXISTS trackers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL UNIQUE,
	enabled INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS tracker_meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	last_updated DATETIME NULL
);
INSERT OR IGNORE INTO tracker_meta (id, last_updated) VALUES (1, NULL);
`

type TrackerRepository struct {
	db *sql.DB
}

func NewTrackerRepository(db *sql.DB) repository.TrackerRepository {
	return &TrackerRepository{db: db}
}

func (r *TrackerRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createTrackersTables); err != nil {
		return domain.Database("create trackers tables", err)
	}
	return nil
}

func (r *TrackerRepository) GetEnabled(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT url FROM trackers WHERE enabled=1 ORDER BY id ASC`)
	if err != nil {
		return nil, domain.Database("query trackers", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, domain.Database("scan tracker", err)
		}
		out = append(out, url)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Database("iterate trackers", err)
	}
	return out, nil
}

// ReplaceAll swaps the whole list and stamps last_updated in one
// transaction; readers see either the old list or the new one. Blank and
// repeated URLs are dropped, first occurrence wins.
func (r *TrackerRepository) ReplaceAll(ctx context.Context, trackers []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Database("begin tx", err)
	}
	defer tx.Rollback() // safe no-op on commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM trackers`); err != nil {
		return domain.Database("delete trackers", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO trackers (url, enabled) VALUES (?, 1)`)
	if err != nil {
		return domain.Database("prepare tracker insert", err)
	}
	defer stmt.Close()
	seen := make(map[string]struct{}, len(trackers))
	for _, url := range trackers {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		if _, err := stmt.ExecContext(ctx, url); err != nil {
			return domain.Database("insert tracker", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO tracker_meta (id, last_updated) VALUES (1, ?)
ON CONFLICT(id) DO UPDATE SET last_updated=excluded.last_updated`, time.Now().UTC()); err != nil {
		return domain.Database("update tracker meta", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Database("commit trackers", err)
	}
	return nil
}

func (r *TrackerRepository) GetLastUpdated(ctx context.Context) (*time.Time, error) {
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx, `SELECT last_updated FROM tracker_meta WHERE id=1`).Scan(&last)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Database("get tracker last updated", err)
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time.UTC()
	return &t, nil
}
