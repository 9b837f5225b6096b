package repository

import (
	"context"
	"time"

	"gosh-fetch/internal/domain"
)

// DownloadRepository exposes persistence operations for download records.
// Save is an upsert keyed by gid.
type DownloadRepository interface {
	Init(ctx context.Context) error
	Save(ctx context.Context, record *domain.DownloadRecord) (int64, error)
	GetByGID(ctx context.Context, gid string) (*domain.DownloadRecord, error)
	GetCompleted(ctx context.Context, limit int) ([]domain.DownloadRecord, error)
	GetIncomplete(ctx context.Context) ([]domain.DownloadRecord, error)
	UpdateStatus(ctx context.Context, gid string, state domain.DownloadState, errorMessage string) error
	MarkCompleted(ctx context.Context, gid string, completedAt time.Time) error
	Delete(ctx context.Context, gid string) error
	ClearHistory(ctx context.Context) (int64, error)
	CountCompleted(ctx context.Context) (int64, error)
}

// SettingsRepository stores settings one row per key.
type SettingsRepository interface {
	Init(ctx context.Context) error
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Load(ctx context.Context) (domain.Settings, error)
	Save(ctx context.Context, settings domain.Settings) error
}

// TrackerRepository stores the BitTorrent tracker list.
type TrackerRepository interface {
	Init(ctx context.Context) error
	GetEnabled(ctx context.Context) ([]string, error)
	ReplaceAll(ctx context.Context, trackers []string) error
	GetLastUpdated(ctx context.Context) (*time.Time, error)
}
