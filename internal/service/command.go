package service

import (
	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/engine"
)

// CommandType tags a Command.
type CommandType int

const (
	CmdAddHTTP CommandType = iota
	CmdAddMagnet
	CmdAddTorrent
	CmdPause
	CmdResume
	CmdRemove
	CmdPauseAll
	CmdResumeAll
	CmdUpdateConfig
	CmdRefreshDownloads
	CmdRefreshStats
	CmdShutdown
)

func (t CommandType) String() string {
	switch t {
	case CmdAddHTTP:
		return "add_http"
	case CmdAddMagnet:
		return "add_magnet"
	case CmdAddTorrent:
		return "add_torrent"
	case CmdPause:
		return "pause"
	case CmdResume:
		return "resume"
	case CmdRemove:
		return "remove"
	case CmdPauseAll:
		return "pause_all"
	case CmdResumeAll:
		return "resume_all"
	case CmdUpdateConfig:
		return "update_config"
	case CmdRefreshDownloads:
		return "refresh_downloads"
	case CmdRefreshStats:
		return "refresh_stats"
	case CmdShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Command is a request from a front-end to the bridge. Only the fields
// relevant to Type are read.
type Command struct {
	Type        CommandType
	URL         string // CmdAddHTTP
	URI         string // CmdAddMagnet
	Data        []byte // CmdAddTorrent
	Options     domain.DownloadOptions
	GID         string
	DeleteFiles bool
	Config      engine.Config

	// Resolved marks an HTTP URL that already went through pre-resolution.
	Resolved bool
	// Reply, if set, receives exactly one Result once the command has been
	// handled. It must be buffered.
	Reply chan<- Result
}

// Result is the direct outcome of a command. GID is set for adds.
type Result struct {
	GID string
	Err error
}

func AddHTTP(url string, opts domain.DownloadOptions) Command {
	return Command{Type: CmdAddHTTP, URL: url, Options: opts}
}

func AddMagnet(uri string, opts domain.DownloadOptions) Command {
	return Command{Type: CmdAddMagnet, URI: uri, Options: opts}
}

func AddTorrent(data []byte, opts domain.DownloadOptions) Command {
	return Command{Type: CmdAddTorrent, Data: data, Options: opts}
}

func Pause(gid string) Command { return Command{Type: CmdPause, GID: gid} }

func Resume(gid string) Command { return Command{Type: CmdResume, GID: gid} }

func Remove(gid string, deleteFiles bool) Command {
	return Command{Type: CmdRemove, GID: gid, DeleteFiles: deleteFiles}
}

func UpdateConfig(cfg engine.Config) Command {
	return Command{Type: CmdUpdateConfig, Config: cfg}
}

func (c Command) reply(r Result) {
	if c.Reply == nil {
		return
	}
	select {
	case c.Reply <- r:
	default:
	}
}
