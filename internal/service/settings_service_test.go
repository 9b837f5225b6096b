package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosh-fetch/internal/domain"
)

func TestSettingsServiceRoundTrip(t *testing.T) {
	store := newStore(t)
	svc := NewSettingsService(store.Settings, store.Trackers, quietLogger())
	ctx := context.Background()

	s := svc.Load(ctx)
	assert.Equal(t, domain.DefaultSettings().MaxConcurrentDownloads, s.MaxConcurrentDownloads)

	s.MaxConcurrentDownloads = 3
	s.DownloadSpeedLimit = 1 << 20
	s.DownloadPath = "/srv/downloads"
	require.NoError(t, svc.Save(ctx, s))

	got := svc.Load(ctx)
	assert.Equal(t, 3, got.MaxConcurrentDownloads)
	assert.Equal(t, int64(1<<20), got.DownloadSpeedLimit)

	v, ok, err := svc.Get(ctx, domain.SettingMaxConcurrentDownloads)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", v)
}

func TestSettingsServiceValidation(t *testing.T) {
	store := newStore(t)
	svc := NewSettingsService(store.Settings, store.Trackers, quietLogger())
	ctx := context.Background()

	s := domain.DefaultSettings()
	s.MaxConcurrentDownloads = 0
	assert.ErrorIs(t, svc.Save(ctx, s), domain.ErrInvalidInput)

	s = domain.DefaultSettings()
	s.UploadSpeedLimit = -1
	assert.ErrorIs(t, svc.Save(ctx, s), domain.ErrInvalidInput)

	assert.ErrorIs(t, svc.Set(ctx, "  ", "x"), domain.ErrInvalidInput)
	_, _, err := svc.Get(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSettingsServiceEngineConfig(t *testing.T) {
	store := newStore(t)
	svc := NewSettingsService(store.Settings, store.Trackers, quietLogger())
	ctx := context.Background()

	trackers := []string{"udp://tracker.example.org:1337/announce", "https://tracker.example.net/announce"}
	require.NoError(t, store.Trackers.ReplaceAll(ctx, trackers))

	s := domain.DefaultSettings()
	s.DownloadPath = "/srv/downloads"
	s.MaxConcurrentDownloads = 7
	s.BTEnableDHT = false
	require.NoError(t, svc.Save(ctx, s))

	cfg := svc.EngineConfig(ctx)
	assert.Equal(t, "/srv/downloads", cfg.DownloadDir)
	assert.Equal(t, 7, cfg.MaxConcurrentDownloads)
	assert.False(t, cfg.EnableDHT)
	assert.ElementsMatch(t, trackers, cfg.Trackers)
}
