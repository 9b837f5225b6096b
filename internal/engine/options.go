package engine

import (
	"fmt"
	"strings"
)

// Header is a single request header.
type Header struct {
	Name  string
	Value string
}

// ChecksumAlgorithm names a supported checksum.
type ChecksumAlgorithm string

const (
	ChecksumMD5    ChecksumAlgorithm = "md5"
	ChecksumSHA256 ChecksumAlgorithm = "sha256"
)

// Checksum is the expected digest of a finished HTTP download.
type Checksum struct {
	Algorithm ChecksumAlgorithm
	Value     string
}

// Priority orders queued transfers.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityLow
	PriorityHigh
	PriorityCritical
)

// ParsePriority accepts the textual priority tokens front-ends send.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Options are the typed per-transfer options. Zero values mean "engine
// default" for every numeric field.
type Options struct {
	ID               ID
	SaveDir          string
	Filename         string
	UserAgent        string
	Referer          string
	Headers          []Header
	Cookies          []string
	Checksum         *Checksum
	Mirrors          []string
	Priority         Priority
	MaxConnections   int
	MaxDownloadSpeed int64
	MaxUploadSpeed   int64
	SeedRatio        float64
	SelectedFiles    []int
	Sequential       bool
}

// Config is the engine-wide configuration.
type Config struct {
	DownloadDir               string
	MaxConcurrentDownloads    int
	MaxConnectionsPerDownload int
	MinSegmentSize            int64
	GlobalDownloadLimit       int64
	GlobalUploadLimit         int64
	UserAgent                 string
	EnableDHT                 bool
	EnablePEX                 bool
	EnableLPD                 bool
	MaxPeers                  int
	SeedRatio                 float64
	Trackers                  []string
	ProxyURL                  string
}

// DefaultConfig returns the engine's built-in configuration.
func DefaultConfig() Config {
	return Config{
		DownloadDir:               "Downloads",
		MaxConcurrentDownloads:    5,
		MaxConnectionsPerDownload: 16,
		MinSegmentSize:            1024,
		UserAgent:                 "gosh-dl/0.1.0",
		EnableDHT:                 true,
		EnablePEX:                 true,
		EnableLPD:                 true,
		MaxPeers:                  55,
		SeedRatio:                 1.0,
	}
}
