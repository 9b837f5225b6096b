package domain

import (
	"strings"
	"time"
)

// DownloadType is the transfer kind of a download.
type DownloadType string

const (
	DownloadTypeHTTP    DownloadType = "http"
	DownloadTypeFTP     DownloadType = "ftp"
	DownloadTypeTorrent DownloadType = "torrent"
	DownloadTypeMagnet  DownloadType = "magnet"
)

// ParseDownloadType maps a stored kind back to a DownloadType. Unknown values
// fall back to HTTP.
func ParseDownloadType(s string) DownloadType {
	switch DownloadType(strings.ToLower(strings.TrimSpace(s))) {
	case DownloadTypeFTP:
		return DownloadTypeFTP
	case DownloadTypeTorrent:
		return DownloadTypeTorrent
	case DownloadTypeMagnet:
		return DownloadTypeMagnet
	default:
		return DownloadTypeHTTP
	}
}

// DownloadState is the lifecycle state of a download.
type DownloadState string

const (
	DownloadStateWaiting  DownloadState = "waiting"
	DownloadStateActive   DownloadState = "active"
	DownloadStatePaused   DownloadState = "paused"
	DownloadStateComplete DownloadState = "complete"
	DownloadStateError    DownloadState = "error"
	DownloadStateRemoved  DownloadState = "removed"
)

// ParseDownloadState maps a stored state back to a DownloadState. Unknown
// values fall back to Waiting.
func ParseDownloadState(s string) DownloadState {
	switch DownloadState(strings.ToLower(strings.TrimSpace(s))) {
	case DownloadStateActive:
		return DownloadStateActive
	case DownloadStatePaused:
		return DownloadStatePaused
	case DownloadStateComplete:
		return DownloadStateComplete
	case DownloadStateError:
		return DownloadStateError
	case DownloadStateRemoved:
		return DownloadStateRemoved
	default:
		return DownloadStateWaiting
	}
}

// Incomplete reports whether a record in this state is a restoration candidate.
func (s DownloadState) Incomplete() bool {
	return s != DownloadStateComplete && s != DownloadStateRemoved
}

// DownloadRecord is the durable representation of one transfer.
type DownloadRecord struct {
	ID            int64         `json:"id"`
	GID           string        `json:"gid"`
	Name          string        `json:"name"`
	URL           string        `json:"url,omitempty"`
	MagnetURI     string        `json:"magnet_uri,omitempty"`
	InfoHash      string        `json:"info_hash,omitempty"`
	Type          DownloadType  `json:"download_type"`
	State         DownloadState `json:"status"`
	TotalSize     int64         `json:"total_size"`
	CompletedSize int64         `json:"completed_size"`
	DownloadSpeed int64         `json:"download_speed"`
	UploadSpeed   int64         `json:"upload_speed"`
	SavePath      string        `json:"save_path"`
	CreatedAt     time.Time     `json:"created_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	Connections   int           `json:"connections"`
	Seeders       int           `json:"seeders"`
	SelectedFiles []int         `json:"selected_files,omitempty"`
}

// MarkComplete moves the record into the Complete state, stamping the
// completion time when the engine did not report one.
func (d *DownloadRecord) MarkComplete(now time.Time) {
	d.State = DownloadStateComplete
	if d.CompletedAt == nil {
		t := now.UTC()
		d.CompletedAt = &t
	}
	if d.TotalSize > 0 && d.CompletedSize < d.TotalSize {
		d.CompletedSize = d.TotalSize
	}
	d.DownloadSpeed = 0
	d.UploadSpeed = 0
}

// MarkFailed moves the record into the Error state with the given message.
func (d *DownloadRecord) MarkFailed(message string) {
	d.State = DownloadStateError
	d.ErrorMessage = message
	d.DownloadSpeed = 0
	d.UploadSpeed = 0
}

// GlobalStats aggregates engine-wide transfer figures.
type GlobalStats struct {
	DownloadSpeed int64 `json:"download_speed"`
	UploadSpeed   int64 `json:"upload_speed"`
	NumActive     int   `json:"num_active"`
	NumWaiting    int   `json:"num_waiting"`
	NumStopped    int   `json:"num_stopped"`
}

// TorrentFileEntry is a single file inside a torrent, as shown before adding.
type TorrentFileEntry struct {
	Index  int    `json:"index"`
	Path   string `json:"path"`
	Length int64  `json:"length"`
}

// TorrentInfo describes a .torrent file before it is added.
type TorrentInfo struct {
	Name         string             `json:"name"`
	InfoHash     string             `json:"info_hash"`
	TotalSize    int64              `json:"total_size"`
	Files        []TorrentFileEntry `json:"files"`
	Comment      string             `json:"comment,omitempty"`
	CreationDate *time.Time         `json:"creation_date,omitempty"`
	AnnounceList []string           `json:"announce_list"`
}

// MagnetInfo describes a magnet link before it is added.
type MagnetInfo struct {
	Name     string   `json:"name,omitempty"`
	InfoHash string   `json:"info_hash"`
	Trackers []string `json:"trackers"`
}
