package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/repository"
)

const createSettingsTable = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) repository.SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createSettingsTable); err != nil {
		return domain.Database("create settings table", err)
	}
	return nil
}

func (r *SettingsRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.Database("get setting", err)
	}
	return value, true, nil
}

func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key,
		value,
		time.Now().UTC(),
	)
	if err != nil {
		return domain.Database("set setting", err)
	}
	return nil
}

// Load materializes every key, falling back to the default of any key that
// is missing or fails to parse.
func (r *SettingsRepository) Load(ctx context.Context) (domain.Settings, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return domain.DefaultSettings(), domain.Database("load settings", err)
	}
	defer rows.Close()

	values := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return domain.DefaultSettings(), domain.Database("scan setting", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return domain.DefaultSettings(), domain.Database("iterate settings", err)
	}
	return settingsFromMap(values), nil
}

// Save writes one row per field. The writes are not grouped in a transaction.
func (r *SettingsRepository) Save(ctx context.Context, s domain.Settings) error {
	for _, kv := range settingsToPairs(s) {
		if err := r.Set(ctx, kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

func settingsFromMap(values map[string]string) domain.Settings {
	s := domain.DefaultSettings()

	str := func(key string, dst *string) {
		if v, ok := values[key]; ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if n, err := strconv.Atoi(strings.TrimSpace(values[key])); err == nil {
			*dst = n
		}
	}
	integer64 := func(key string, dst *int64) {
		if n, err := strconv.ParseInt(strings.TrimSpace(values[key]), 10, 64); err == nil {
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if b, err := strconv.ParseBool(strings.TrimSpace(values[key])); err == nil {
			*dst = b
		}
	}
	float := func(key string, dst *float64) {
		if f, err := strconv.ParseFloat(strings.TrimSpace(values[key]), 64); err == nil {
			*dst = f
		}
	}

	if v, ok := values[domain.SettingDownloadPath]; ok && strings.TrimSpace(v) != "" {
		s.DownloadPath = domain.ExpandHome(v)
	}
	integer(domain.SettingMaxConcurrentDownloads, &s.MaxConcurrentDownloads)
	integer(domain.SettingMaxConnectionsPerServer, &s.MaxConnectionsPerServer)
	integer(domain.SettingSplitCount, &s.SplitCount)
	integer64(domain.SettingDownloadSpeedLimit, &s.DownloadSpeedLimit)
	integer64(domain.SettingUploadSpeedLimit, &s.UploadSpeedLimit)
	if v, ok := values[domain.SettingUserAgent]; ok && v != "" {
		s.UserAgent = v
	}
	boolean(domain.SettingEnableNotifications, &s.EnableNotifications)
	boolean(domain.SettingCloseToTray, &s.CloseToTray)
	boolean(domain.SettingBTEnableDHT, &s.BTEnableDHT)
	boolean(domain.SettingBTEnablePEX, &s.BTEnablePEX)
	boolean(domain.SettingBTEnableLPD, &s.BTEnableLPD)
	integer(domain.SettingBTMaxPeers, &s.BTMaxPeers)
	float(domain.SettingBTSeedRatio, &s.BTSeedRatio)
	boolean(domain.SettingAutoUpdateTrackers, &s.AutoUpdateTrackers)
	boolean(domain.SettingDeleteFilesOnRemove, &s.DeleteFilesOnRemove)
	boolean(domain.SettingProxyEnabled, &s.ProxyEnabled)
	if v, ok := values[domain.SettingProxyType]; ok && v != "" {
		s.ProxyType = v
	}
	str(domain.SettingProxyURL, &s.ProxyURL)
	str(domain.SettingProxyUser, &s.ProxyUser)
	str(domain.SettingProxyPass, &s.ProxyPass)
	integer64(domain.SettingMinSegmentSize, &s.MinSegmentSize)
	if v, ok := values[domain.SettingBTPreallocation]; ok && v != "" {
		s.BTPreallocation = v
	}
	return s
}

func settingsToPairs(s domain.Settings) [][2]string {
	itoa := strconv.Itoa
	i64 := func(n int64) string { return strconv.FormatInt(n, 10) }
	b := strconv.FormatBool
	return [][2]string{
		{domain.SettingDownloadPath, s.DownloadPath},
		{domain.SettingMaxConcurrentDownloads, itoa(s.MaxConcurrentDownloads)},
		{domain.SettingMaxConnectionsPerServer, itoa(s.MaxConnectionsPerServer)},
		{domain.SettingSplitCount, itoa(s.SplitCount)},
		{domain.SettingDownloadSpeedLimit, i64(s.DownloadSpeedLimit)},
		{domain.SettingUploadSpeedLimit, i64(s.UploadSpeedLimit)},
		{domain.SettingUserAgent, s.UserAgent},
		{domain.SettingEnableNotifications, b(s.EnableNotifications)},
		{domain.SettingCloseToTray, b(s.CloseToTray)},
		{domain.SettingBTEnableDHT, b(s.BTEnableDHT)},
		{domain.SettingBTEnablePEX, b(s.BTEnablePEX)},
		{domain.SettingBTEnableLPD, b(s.BTEnableLPD)},
		{domain.SettingBTMaxPeers, itoa(s.BTMaxPeers)},
		{domain.SettingBTSeedRatio, strconv.FormatFloat(s.BTSeedRatio, 'f', -1, 64)},
		{domain.SettingAutoUpdateTrackers, b(s.AutoUpdateTrackers)},
		{domain.SettingDeleteFilesOnRemove, b(s.DeleteFilesOnRemove)},
		{domain.SettingProxyEnabled, b(s.ProxyEnabled)},
		{domain.SettingProxyType, s.ProxyType},
		{domain.SettingProxyURL, s.ProxyURL},
		{domain.SettingProxyUser, s.ProxyUser},
		{domain.SettingProxyPass, s.ProxyPass},
		{domain.SettingMinSegmentSize, i64(s.MinSegmentSize)},
		{domain.SettingBTPreallocation, s.BTPreallocation},
	}
}
