package domain

import (
	"os"
	"path/filepath"
	"strings"
)

// Settings is the process-wide, user-editable configuration stored one row
// per key in the settings table.
type Settings struct {
	DownloadPath            string  `json:"download_path"`
	MaxConcurrentDownloads  int     `json:"max_concurrent_downloads"`
	MaxConnectionsPerServer int     `json:"max_connections_per_server"`
	SplitCount              int     `json:"split_count"`
	DownloadSpeedLimit      int64   `json:"download_speed_limit"`
	UploadSpeedLimit        int64   `json:"upload_speed_limit"`
	UserAgent               string  `json:"user_agent"`
	EnableNotifications     bool    `json:"enable_notifications"`
	CloseToTray             bool    `json:"close_to_tray"`
	BTEnableDHT             bool    `json:"bt_enable_dht"`
	BTEnablePEX             bool    `json:"bt_enable_pex"`
	BTEnableLPD             bool    `json:"bt_enable_lpd"`
	BTMaxPeers              int     `json:"bt_max_peers"`
	BTSeedRatio             float64 `json:"bt_seed_ratio"`
	AutoUpdateTrackers      bool    `json:"auto_update_trackers"`
	DeleteFilesOnRemove     bool    `json:"delete_files_on_remove"`
	ProxyEnabled            bool    `json:"proxy_enabled"`
	ProxyType               string  `json:"proxy_type"`
	ProxyURL                string  `json:"proxy_url"`
	ProxyUser               string  `json:"proxy_user,omitempty"`
	ProxyPass               string  `json:"proxy_pass,omitempty"`
	MinSegmentSize          int64   `json:"min_segment_size"`
	BTPreallocation         string  `json:"bt_preallocation"`
}

// Setting keys as stored in the settings table.
const (
	SettingDownloadPath            = "download_path"
	SettingMaxConcurrentDownloads  = "max_concurrent_downloads"
	SettingMaxConnectionsPerServer = "max_connections_per_server"
	SettingSplitCount              = "split_count"
	SettingDownloadSpeedLimit      = "download_speed_limit"
	SettingUploadSpeedLimit        = "upload_speed_limit"
	SettingUserAgent               = "user_agent"
	SettingEnableNotifications     = "enable_notifications"
	SettingCloseToTray             = "close_to_tray"
	SettingBTEnableDHT             = "bt_enable_dht"
	SettingBTEnablePEX             = "bt_enable_pex"
	SettingBTEnableLPD             = "bt_enable_lpd"
	SettingBTMaxPeers              = "bt_max_peers"
	SettingBTSeedRatio             = "bt_seed_ratio"
	SettingAutoUpdateTrackers      = "auto_update_trackers"
	SettingDeleteFilesOnRemove     = "delete_files_on_remove"
	SettingProxyEnabled            = "proxy_enabled"
	SettingProxyType               = "proxy_type"
	SettingProxyURL                = "proxy_url"
	SettingProxyUser               = "proxy_user"
	SettingProxyPass               = "proxy_pass"
	SettingMinSegmentSize          = "min_segment_size"
	SettingBTPreallocation         = "bt_preallocation"
)

const DefaultUserAgent = "gosh-dl/0.1.0"

// DefaultSettings returns the hardcoded fallback for every key.
func DefaultSettings() Settings {
	return Settings{
		DownloadPath:            DefaultDownloadPath(),
		MaxConcurrentDownloads:  5,
		MaxConnectionsPerServer: 16,
		SplitCount:              16,
		DownloadSpeedLimit:      0,
		UploadSpeedLimit:        0,
		UserAgent:               DefaultUserAgent,
		EnableNotifications:     true,
		CloseToTray:             true,
		BTEnableDHT:             true,
		BTEnablePEX:             true,
		BTEnableLPD:             true,
		BTMaxPeers:              55,
		BTSeedRatio:             1.0,
		AutoUpdateTrackers:      true,
		DeleteFilesOnRemove:     false,
		ProxyEnabled:            false,
		ProxyType:               "http",
		ProxyURL:                "",
		MinSegmentSize:          1024,
		BTPreallocation:         "none",
	}
}

// DefaultDownloadPath is ~/Downloads, or ./Downloads without a home directory.
func DefaultDownloadPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "Downloads"
	}
	return filepath.Join(home, "Downloads")
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}
	if p == "~" {
		return home
	}
	return filepath.Join(home, p[2:])
}

// UserAgentPreset is a named user agent offered by settings views.
type UserAgentPreset struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// UserAgentPresets lists the built-in user agents.
func UserAgentPresets() []UserAgentPreset {
	return []UserAgentPreset{
		{Name: DefaultUserAgent, Value: DefaultUserAgent},
		{Name: "Chrome (Windows)", Value: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"},
		{Name: "Chrome (macOS)", Value: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"},
		{Name: "Firefox (Windows)", Value: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0"},
		{Name: "Firefox (Linux)", Value: "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"},
		{Name: "Wget", Value: "Wget/1.21"},
		{Name: "Curl", Value: "curl/8.4.0"},
	}
}
