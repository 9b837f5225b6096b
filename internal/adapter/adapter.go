// Package adapter translates between front-end shapes and the transfer
// engine. It holds no state of its own beyond the engine handle.
package adapter

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/engine"
)

// TorrentFileInfo is one file of a running torrent, for file pickers.
type TorrentFileInfo struct {
	Index     int    `json:"index"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	Completed int64  `json:"completed"`
	Selected  bool   `json:"selected"`
}

// PeerInfo is one connected peer of a running torrent.
type PeerInfo struct {
	IP            string `json:"ip"`
	Port          int    `json:"port"`
	Client        string `json:"client,omitempty"`
	DownloadSpeed int64  `json:"download_speed"`
	UploadSpeed   int64  `json:"upload_speed"`
}

type Adapter struct {
	engine   engine.Engine
	resolver *Resolver
	fs       afero.Fs
	log      *logrus.Entry
}

func New(eng engine.Engine, resolver *Resolver, fs afero.Fs, logger *logrus.Logger) *Adapter {
	if resolver == nil {
		resolver = NewResolver(0)
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		engine:   eng,
		resolver: resolver,
		fs:       fs,
		log:      logger.WithField("component", "adapter"),
	}
}

func (a *Adapter) Engine() engine.Engine {
	return a.engine
}

// AddDownload resolves url and queues it as an HTTP transfer.
func (a *Adapter) AddDownload(ctx context.Context, url string, opts domain.DownloadOptions) (string, error) {
	eo := ConvertOptions(opts)
	resolved, err := a.resolver.Resolve(ctx, url, eo)
	if err != nil {
		return "", err
	}
	id, err := a.engine.AddHTTP(ctx, resolved, eo)
	if err != nil {
		return "", FromEngineError(err)
	}
	return string(id), nil
}

// Resolve runs URL pre-resolution alone, returning the final URL.
func (a *Adapter) Resolve(ctx context.Context, url string, opts domain.DownloadOptions) (string, error) {
	return a.resolver.Resolve(ctx, url, ConvertOptions(opts))
}

// AddResolved queues url without probing it again.
func (a *Adapter) AddResolved(ctx context.Context, url string, opts domain.DownloadOptions) (string, error) {
	id, err := a.engine.AddHTTP(ctx, url, ConvertOptions(opts))
	if err != nil {
		return "", FromEngineError(err)
	}
	return string(id), nil
}

// AddURLs adds each url with the same options. It stops at the first
// failure and returns the gids added before it.
func (a *Adapter) AddURLs(ctx context.Context, urls []string, opts domain.DownloadOptions) ([]string, error) {
	eo := ConvertOptions(opts)
	eo.ID = ""
	gids := make([]string, 0, len(urls))
	for _, u := range urls {
		resolved, err := a.resolver.Resolve(ctx, u, eo)
		if err != nil {
			return gids, fmt.Errorf("add %s: %w", u, err)
		}
		id, err := a.engine.AddHTTP(ctx, resolved, eo)
		if err != nil {
			return gids, fmt.Errorf("add %s: %w", u, FromEngineError(err))
		}
		gids = append(gids, string(id))
	}
	return gids, nil
}

func (a *Adapter) AddMagnet(ctx context.Context, uri string, opts domain.DownloadOptions) (string, error) {
	id, err := a.engine.AddMagnet(ctx, uri, ConvertOptions(opts))
	if err != nil {
		return "", FromEngineError(err)
	}
	return string(id), nil
}

func (a *Adapter) AddTorrent(ctx context.Context, data []byte, opts domain.DownloadOptions) (string, error) {
	if len(data) == 0 {
		return "", domain.InvalidInput("torrent", "empty torrent data")
	}
	id, err := a.engine.AddTorrent(ctx, data, ConvertOptions(opts))
	if err != nil {
		return "", FromEngineError(err)
	}
	return string(id), nil
}

// Pause pauses gid when its current state allows it.
func (a *Adapter) Pause(ctx context.Context, gid string) error {
	id, st, err := a.lookup(gid)
	if err != nil {
		return err
	}
	if state := ConvertState(st.State.Kind); !domain.CanPause(state) {
		return domain.InvalidInput("gid", fmt.Sprintf("cannot pause a download that is %s", state))
	}
	return FromEngineError(a.engine.Pause(ctx, id))
}

// Resume resumes gid when it is paused or failed.
func (a *Adapter) Resume(ctx context.Context, gid string) error {
	id, st, err := a.lookup(gid)
	if err != nil {
		return err
	}
	if state := ConvertState(st.State.Kind); !domain.CanResume(state) {
		return domain.InvalidInput("gid", fmt.Sprintf("cannot resume a download that is %s", state))
	}
	return FromEngineError(a.engine.Resume(ctx, id))
}

// PauseAll pauses every active transfer and returns the gids it paused.
// Individual failures are logged and skipped.
func (a *Adapter) PauseAll(ctx context.Context) []string {
	var paused []string
	for _, st := range a.engine.Active() {
		if err := a.engine.Pause(ctx, st.ID); err != nil {
			a.log.WithField("gid", st.ID).WithError(err).Warn("pause failed")
			continue
		}
		paused = append(paused, string(st.ID))
	}
	return paused
}

// ResumeAll resumes stopped transfers that are paused or failed. Completed
// transfers are left alone.
func (a *Adapter) ResumeAll(ctx context.Context) []string {
	var resumed []string
	for _, st := range a.engine.Stopped() {
		if st.State.Kind != engine.StatePaused && st.State.Kind != engine.StateError {
			continue
		}
		if err := a.engine.Resume(ctx, st.ID); err != nil {
			a.log.WithField("gid", st.ID).WithError(err).Warn("resume failed")
			continue
		}
		resumed = append(resumed, string(st.ID))
	}
	return resumed
}

func (a *Adapter) Remove(ctx context.Context, gid string, deleteFiles bool) error {
	id, err := parseGID(gid)
	if err != nil {
		return err
	}
	return FromEngineError(a.engine.Cancel(ctx, id, deleteFiles))
}

func (a *Adapter) Status(gid string) (domain.DownloadRecord, bool) {
	_, st, err := a.lookup(gid)
	if err != nil {
		return domain.DownloadRecord{}, false
	}
	return ConvertStatus(st), true
}

func (a *Adapter) All() []domain.DownloadRecord {
	return convertAll(a.engine.List())
}

func (a *Adapter) Active() []domain.DownloadRecord {
	return convertAll(a.engine.Active())
}

func (a *Adapter) GlobalStats() domain.GlobalStats {
	return ConvertStats(a.engine.GlobalStats())
}

func (a *Adapter) TorrentFiles(gid string) ([]TorrentFileInfo, bool) {
	_, st, err := a.lookup(gid)
	if err != nil || st.TorrentInfo == nil {
		return nil, false
	}
	out := make([]TorrentFileInfo, 0, len(st.TorrentInfo.Files))
	for _, f := range st.TorrentInfo.Files {
		out = append(out, TorrentFileInfo{
			Index:     f.Index,
			Path:      f.Path,
			Size:      f.Size,
			Completed: f.Completed,
			Selected:  f.Selected,
		})
	}
	return out, true
}

func (a *Adapter) Peers(gid string) ([]PeerInfo, bool) {
	_, st, err := a.lookup(gid)
	if err != nil || st.Kind == engine.KindHTTP {
		return nil, false
	}
	out := make([]PeerInfo, 0, len(st.Peers))
	for _, p := range st.Peers {
		out = append(out, PeerInfo{
			IP:            p.IP,
			Port:          p.Port,
			Client:        p.Client,
			DownloadSpeed: p.DownloadSpeed,
			UploadSpeed:   p.UploadSpeed,
		})
	}
	return out, true
}

// SetSpeedLimit sets the global limits in bytes/sec; zero means unlimited.
func (a *Adapter) SetSpeedLimit(download, upload int64) error {
	cfg := a.engine.Config()
	cfg.GlobalDownloadLimit = download
	cfg.GlobalUploadLimit = upload
	return FromEngineError(a.engine.SetConfig(cfg))
}

// UpdateConfig applies cfg, creating its download directory first.
func (a *Adapter) UpdateConfig(cfg engine.Config) error {
	if cfg.DownloadDir != "" {
		if err := a.fs.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
			return domain.InvalidInput("download_path", fmt.Sprintf("create download dir: %v", err))
		}
	}
	return FromEngineError(a.engine.SetConfig(cfg))
}

func (a *Adapter) Config() engine.Config {
	return a.engine.Config()
}

func (a *Adapter) lookup(gid string) (engine.ID, engine.Status, error) {
	id, err := parseGID(gid)
	if err != nil {
		return "", engine.Status{}, err
	}
	st, ok := a.engine.Status(id)
	if !ok {
		return "", engine.Status{}, domain.NotFound(fmt.Sprintf("download %s", gid))
	}
	return id, st, nil
}

// parseGID accepts the canonical UUID form engine ids use.
func parseGID(gid string) (engine.ID, error) {
	u, err := uuid.Parse(gid)
	if err != nil {
		return "", domain.NotFound(fmt.Sprintf("invalid GID: %s", gid))
	}
	return engine.ID(u.String()), nil
}

func convertAll(in []engine.Status) []domain.DownloadRecord {
	out := make([]domain.DownloadRecord, 0, len(in))
	for _, st := range in {
		out = append(out, ConvertStatus(st))
	}
	return out
}
