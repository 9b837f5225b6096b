package service

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"gosh-fetch/internal/adapter"
	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/engine"
	"gosh-fetch/internal/repository"
)

// SettingsService reads and writes the user-editable settings.
type SettingsService interface {
	// Load never fails: a store error is logged and defaults are returned.
	Load(ctx context.Context) domain.Settings
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Save(ctx context.Context, s domain.Settings) error
	// EngineConfig builds the engine configuration from the stored settings
	// and the enabled tracker list.
	EngineConfig(ctx context.Context) engine.Config
}

type settingsService struct {
	settings repository.SettingsRepository
	trackers repository.TrackerRepository
	log      *logrus.Entry
}

func NewSettingsService(settings repository.SettingsRepository, trackers repository.TrackerRepository, logger *logrus.Logger) SettingsService {
	if logger == nil {
		logger = logrus.New()
	}
	return &settingsService{
		settings: settings,
		trackers: trackers,
		log:      logger.WithField("component", "settings"),
	}
}

func (s *settingsService) Load(ctx context.Context) domain.Settings {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		s.log.WithError(err).Error("load settings failed, using defaults")
	}
	return settings
}

func (s *settingsService) Get(ctx context.Context, key string) (string, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, domain.InvalidInput("key", "setting key is required")
	}
	return s.settings.Get(ctx, key)
}

func (s *settingsService) Set(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.InvalidInput("key", "setting key is required")
	}
	return s.settings.Set(ctx, key, value)
}

func (s *settingsService) Save(ctx context.Context, settings domain.Settings) error {
	if settings.MaxConcurrentDownloads <= 0 {
		return domain.InvalidInput(domain.SettingMaxConcurrentDownloads, "must be positive")
	}
	if settings.DownloadSpeedLimit < 0 || settings.UploadSpeedLimit < 0 {
		return domain.InvalidInput("speed_limit", "must not be negative")
	}
	settings.DownloadPath = domain.ExpandHome(strings.TrimSpace(settings.DownloadPath))
	if settings.DownloadPath == "" {
		settings.DownloadPath = domain.DefaultDownloadPath()
	}
	return s.settings.Save(ctx, settings)
}

func (s *settingsService) EngineConfig(ctx context.Context) engine.Config {
	trackers, err := s.trackers.GetEnabled(ctx)
	if err != nil {
		s.log.WithError(err).Warn("load trackers failed")
	}
	return adapter.SettingsToConfig(s.Load(ctx), trackers)
}
