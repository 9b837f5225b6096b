package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/repository"
)

const createDownloadsTable = `
CREATE TABLE IF NOT EXISTS downloads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	gid TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	magnet_uri TEXT NOT NULL DEFAULT '',
	info_hash TEXT NOT NULL DEFAULT '',
	download_type TEXT NOT NULL,
	status TEXT NOT NULL,
	total_size INTEGER NOT NULL DEFAULT 0,
	completed_size INTEGER NOT NULL DEFAULT 0,
	download_speed INTEGER NOT NULL DEFAULT 0,
	upload_speed INTEGER NOT NULL DEFAULT 0,
	save_path TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	completed_at DATETIME NULL,
	error_message TEXT NOT NULL DEFAULT '',
	connections INTEGER NOT NULL DEFAULT 0,
	seeders INTEGER NOT NULL DEFAULT 0,
	selected_files TEXT NULL
);
CREATE INDEX IF NOT EXISTS idx_downloads_status ON downloads(status);
`

const downloadColumns = `id, gid, name, url, magnet_uri, info_hash, download_type, status, total_size, completed_size, download_speed, upload_speed, save_path, created_at, completed_at, error_message, connections, seeders, selected_files`

type DownloadRepository struct {
	db *sql.DB
}

func NewDownloadRepository(db *sql.DB) repository.DownloadRepository {
	return &DownloadRepository{db: db}
}

func (r *DownloadRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createDownloadsTable); err != nil {
		return domain.Database("create downloads table", err)
	}
	return r.ensureDownloadColumns(ctx)
}

// ensureDownloadColumns upgrades stores created before the transfer counters
// were tracked.
func (r *DownloadRepository) ensureDownloadColumns(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, `PRAGMA table_info(downloads)`)
	if err != nil {
		return domain.Database("describe downloads table", err)
	}
	defer rows.Close()

	columns := map[string]struct{}{}
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return domain.Database("scan pragma table info", err)
		}
		columns[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return domain.Database("iterate pragma table info", err)
	}

	for _, col := range []struct{ name, ddl string }{
		{"connections", `ALTER TABLE downloads ADD COLUMN connections INTEGER NOT NULL DEFAULT 0`},
		{"seeders", `ALTER TABLE downloads ADD COLUMN seeders INTEGER NOT NULL DEFAULT 0`},
		{"selected_files", `ALTER TABLE downloads ADD COLUMN selected_files TEXT NULL`},
	} {
		if _, exists := columns[col.name]; exists {
			continue
		}
		if _, err := r.db.ExecContext(ctx, col.ddl); err != nil {
			return domain.Database(fmt.Sprintf("add column %s", col.name), err)
		}
	}
	return nil
}

// Save upserts by gid. The created_at of the first insert is kept.
func (r *DownloadRepository) Save(ctx context.Context, d *domain.DownloadRecord) (int64, error) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.State == domain.DownloadStateComplete && d.CompletedAt == nil {
		d.MarkComplete(time.Now())
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `
INSERT INTO downloads (gid, name, url, magnet_uri, info_hash, download_type, status, total_size, completed_size, download_speed, upload_speed, save_path, created_at, completed_at, error_message, connections, seeders, selected_files)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(gid) DO UPDATE SET
	name=excluded.name,
	url=excluded.url,
	magnet_uri=excluded.magnet_uri,
	info_hash=excluded.info_hash,
	download_type=excluded.download_type,
	status=excluded.status,
	total_size=excluded.total_size,
	completed_size=excluded.completed_size,
	download_speed=excluded.download_speed,
	upload_speed=excluded.upload_speed,
	save_path=excluded.save_path,
	completed_at=excluded.completed_at,
	error_message=excluded.error_message,
	connections=excluded.connections,
	seeders=excluded.seeders,
	selected_files=excluded.selected_files
RETURNING id`,
		d.GID,
		d.Name,
		d.URL,
		d.MagnetURI,
		d.InfoHash,
		string(d.Type),
		string(d.State),
		d.TotalSize,
		d.CompletedSize,
		d.DownloadSpeed,
		d.UploadSpeed,
		d.SavePath,
		d.CreatedAt.UTC(),
		nullTime(d.CompletedAt),
		d.ErrorMessage,
		d.Connections,
		d.Seeders,
		joinSelectedFiles(d.SelectedFiles),
	).Scan(&id)
	if err != nil {
		return 0, domain.Database("save download", err)
	}
	d.ID = id
	return id, nil
}

func (r *DownloadRepository) GetByGID(ctx context.Context, gid string) (*domain.DownloadRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+downloadColumns+` FROM downloads WHERE gid=?`, gid)
	d, err := scanDownload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(fmt.Sprintf("download %s", gid))
		}
		return nil, domain.Database("get download", err)
	}
	return d, nil
}

func (r *DownloadRepository) GetCompleted(ctx context.Context, limit int) ([]domain.DownloadRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.query(ctx, "query completed downloads", `
SELECT `+downloadColumns+`
FROM downloads
WHERE status=?
ORDER BY completed_at DESC, id DESC
LIMIT ?`, string(domain.DownloadStateComplete), limit)
}

func (r *DownloadRepository) GetIncomplete(ctx context.Context) ([]domain.DownloadRecord, error) {
	return r.query(ctx, "query incomplete downloads", `
SELECT `+downloadColumns+`
FROM downloads
WHERE status NOT IN (?, ?)
ORDER BY created_at DESC, id DESC`, string(domain.DownloadStateComplete), string(domain.DownloadStateRemoved))
}

func (r *DownloadRepository) UpdateStatus(ctx context.Context, gid string, state domain.DownloadState, errorMessage string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE downloads SET status=?, error_message=? WHERE gid=?`,
		string(state),
		errorMessage,
		gid,
	)
	if err != nil {
		return domain.Database("update download status", err)
	}
	return nil
}

func (r *DownloadRepository) MarkCompleted(ctx context.Context, gid string, completedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE downloads
SET status=?, completed_at=COALESCE(completed_at, ?), completed_size=MAX(completed_size, total_size), download_speed=0, upload_speed=0
WHERE gid=?`,
		string(domain.DownloadStateComplete),
		completedAt.UTC(),
		gid,
	)
	if err != nil {
		return domain.Database("mark download completed", err)
	}
	return nil
}

func (r *DownloadRepository) Delete(ctx context.Context, gid string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM downloads WHERE gid=?`, gid)
	if err != nil {
		return domain.Database("delete download", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return domain.Database("download delete rows affected", err)
	}
	if aff == 0 {
		return domain.NotFound(fmt.Sprintf("download %s", gid))
	}
	return nil
}

func (r *DownloadRepository) ClearHistory(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM downloads WHERE status=?`, string(domain.DownloadStateComplete))
	if err != nil {
		return 0, domain.Database("clear history", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return 0, domain.Database("clear history rows affected", err)
	}
	return aff, nil
}

func (r *DownloadRepository) CountCompleted(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM downloads WHERE status=?`, string(domain.DownloadStateComplete)).Scan(&n); err != nil {
		return 0, domain.Database("count completed downloads", err)
	}
	return n, nil
}

func (r *DownloadRepository) query(ctx context.Context, op, query string, args ...any) ([]domain.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Database(op, err)
	}
	defer rows.Close()

	var out []domain.DownloadRecord
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, domain.Database(op, err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Database(op, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDownload(s scanner) (*domain.DownloadRecord, error) {
	var (
		d             domain.DownloadRecord
		downloadType  string
		status        string
		createdAt     time.Time
		completedAt   sql.NullTime
		selectedFiles sql.NullString
	)
	if err := s.Scan(
		&d.ID,
		&d.GID,
		&d.Name,
		&d.URL,
		&d.MagnetURI,
		&d.InfoHash,
		&downloadType,
		&status,
		&d.TotalSize,
		&d.CompletedSize,
		&d.DownloadSpeed,
		&d.UploadSpeed,
		&d.SavePath,
		&createdAt,
		&completedAt,
		&d.ErrorMessage,
		&d.Connections,
		&d.Seeders,
		&selectedFiles,
	); err != nil {
		return nil, err
	}

	d.Type = domain.ParseDownloadType(downloadType)
	d.State = domain.ParseDownloadState(status)
	d.CreatedAt = createdAt.UTC()
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		d.CompletedAt = &t
	}
	if selectedFiles.Valid {
		d.SelectedFiles = parseSelectedFiles(selectedFiles.String)
	}
	return &d, nil
}

// joinSelectedFiles stores indices as "1,3,5"; nil maps to NULL.
func joinSelectedFiles(files []int) any {
	if files == nil {
		return nil
	}
	parts := make([]string, len(files))
	for i, f := range files {
		parts[i] = strconv.Itoa(f)
	}
	return strings.Join(parts, ",")
}

func parseSelectedFiles(s string) []int {
	out := []int{}
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
