package service

import (
	"context"

	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/repository"
)

// HistoryService serves the completed-downloads view.
type HistoryService interface {
	Completed(ctx context.Context, limit int) ([]domain.DownloadRecord, error)
	Get(ctx context.Context, gid string) (*domain.DownloadRecord, error)
	Clear(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
}

type historyService struct {
	downloads repository.DownloadRepository
}

func NewHistoryService(downloads repository.DownloadRepository) HistoryService {
	return &historyService{downloads: downloads}
}

func (s *historyService) Completed(ctx context.Context, limit int) ([]domain.DownloadRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.downloads.GetCompleted(ctx, limit)
}

func (s *historyService) Get(ctx context.Context, gid string) (*domain.DownloadRecord, error) {
	return s.downloads.GetByGID(ctx, gid)
}

func (s *historyService) Clear(ctx context.Context) (int64, error) {
	return s.downloads.ClearHistory(ctx)
}

func (s *historyService) Count(ctx context.Context) (int64, error) {
	return s.downloads.CountCompleted(ctx)
}
