package downloader

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/anacrolix/torrent"
	tstorage "github.com/anacrolix/torrent/storage"

	"gosh-fetch/internal/engine"
)

// runTorrent drives a torrent or magnet transfer until every selected file is
// complete. A paused transfer keeps its *torrent.Torrent so resume does not
// refetch metadata.
func (m *Manager) runTorrent(ctx context.Context, tr *transfer) error {
	logger := m.log.WithField("gid", tr.id)

	t, err := m.attachTorrent(tr)
	if err != nil {
		return err
	}
	t.AllowDataDownload()

	select {
	case <-ctx.Done():
		logger.Info("transfer stopped before fetching metadata")
		return ctx.Err()
	case <-t.GotInfo():
	}

	info := t.Info()
	if info == nil {
		return &engine.Error{Kind: engine.ErrInternal, Message: "missing torrent info"}
	}

	selected := selection(tr.opts.SelectedFiles, len(t.Files()))
	files := make([]engine.TorrentFile, len(t.Files()))
	var wanted int64
	for i, f := range t.Files() {
		files[i] = engine.TorrentFile{
			Index:    i,
			Path:     f.DisplayPath(),
			Size:     f.Length(),
			Selected: selected[i],
		}
		if !selected[i] {
			f.SetPriority(torrent.PiecePriorityNone)
			continue
		}
		wanted += f.Length()
		if tr.opts.Sequential {
			f.SetPriority(torrent.PiecePriorityNow)
		} else {
			f.Download()
		}
	}
	if tr.opts.MaxConnections > 0 {
		t.SetMaxEstablishedConns(tr.opts.MaxConnections)
	}

	m.mu.Lock()
	tr.name = info.BestName()
	tr.infoHash = t.InfoHash().HexString()
	tr.total = wanted
	tr.files = files
	if tr.state.Kind == engine.StateConnecting {
		tr.state = engine.State{Kind: engine.StateDownloading}
	}
	m.mu.Unlock()
	logger.Infof("metadata received: %s (%d files)", tr.name, len(files))

	ticker := time.NewTicker(m.opts.StatusInterval)
	defer ticker.Stop()
	for {
		if m.refreshTorrent(tr, t) >= wanted {
			return nil
		}
		select {
		case <-ctx.Done():
			logger.Info("transfer stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// refreshTorrent copies per-file completion into the transfer and returns the
// completed byte count of the selected files.
func (m *Manager) refreshTorrent(tr *transfer, t *torrent.Torrent) int64 {
	tfiles := t.Files()
	m.mu.Lock()
	defer m.mu.Unlock()
	var done int64
	for i := range tr.files {
		if i >= len(tfiles) {
			break
		}
		c := tfiles[i].BytesCompleted()
		tr.files[i].Completed = c
		if tr.files[i].Selected {
			done += c
		}
	}
	tr.completed.Store(done)
	return done
}

func (m *Manager) attachTorrent(tr *transfer) (*torrent.Torrent, error) {
	m.mu.Lock()
	existing := tr.t
	m.mu.Unlock()
	if existing != nil {
		return existing, nil
	}

	client, err := m.torrentClient()
	if err != nil {
		return nil, err
	}

	var spec *torrent.TorrentSpec
	if tr.mi != nil {
		spec, err = torrent.TorrentSpecFromMetaInfoErr(tr.mi)
	} else {
		spec, err = torrent.TorrentSpecFromMagnetUri(tr.magnet)
	}
	if err != nil {
		return nil, engine.InvalidInputError("torrent", err.Error())
	}
	if err := m.fs.MkdirAll(tr.saveDir, 0o755); err != nil {
		return nil, engine.StorageError(fmt.Sprintf("create save dir: %v", err))
	}
	spec.Storage = tstorage.NewFile(tr.saveDir)

	t, _, err := client.AddTorrentSpec(spec)
	if err != nil {
		return nil, &engine.Error{Kind: engine.ErrInternal, Message: fmt.Sprintf("add torrent: %v", err)}
	}
	for _, tracker := range m.trackers() {
		t.AddTrackers([][]string{{tracker}})
	}

	m.mu.Lock()
	tr.t = t
	m.mu.Unlock()
	return t, nil
}

// torrentClient starts the shared BitTorrent client on first use.
func (m *Manager) torrentClient() (*torrent.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, &engine.Error{Kind: engine.ErrShutdown}
	}
	if m.tclient != nil {
		return m.tclient, nil
	}

	cc := torrent.NewDefaultClientConfig()
	cc.DataDir = m.cfg.DownloadDir
	cc.ListenPort = 0
	cc.NoDHT = !m.cfg.EnableDHT
	cc.DisablePEX = !m.cfg.EnablePEX
	cc.Seed = m.cfg.SeedRatio > 0
	cc.NoUpload = false
	cc.DownloadRateLimiter = m.downLimit
	cc.UploadRateLimiter = m.upLimit
	if m.cfg.UserAgent != "" {
		cc.HTTPUserAgent = m.cfg.UserAgent
	}
	if m.cfg.MaxPeers > 0 {
		cc.EstablishedConnsPerTorrent = m.cfg.MaxPeers
	}

	client, err := torrent.NewClient(cc)
	if err != nil {
		return nil, &engine.Error{Kind: engine.ErrInternal, Message: fmt.Sprintf("create torrent client: %v", err)}
	}
	m.tclient = client
	m.log.Infof("torrent client started (dht=%t pex=%t)", m.cfg.EnableDHT, m.cfg.EnablePEX)
	return client, nil
}

func (m *Manager) trackers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.cfg.Trackers) > 0 {
		return append([]string(nil), m.cfg.Trackers...)
	}
	return defaultTrackers()
}

// selection reports which of n files to fetch. An empty list selects all;
// out-of-range indices are ignored.
func selection(indices []int, n int) []bool {
	out := make([]bool, n)
	if len(indices) == 0 {
		for i := range out {
			out[i] = true
		}
		return out
	}
	for _, idx := range indices {
		if idx >= 0 && idx < n {
			out[idx] = true
		}
	}
	return out
}

func peersOf(t *torrent.Torrent) []engine.PeerInfo {
	conns := t.PeerConns()
	peers := make([]engine.PeerInfo, 0, len(conns))
	for _, pc := range conns {
		if pc.RemoteAddr == nil {
			continue
		}
		host, portStr, err := net.SplitHostPort(pc.RemoteAddr.String())
		if err != nil {
			continue
		}
		port, _ := strconv.Atoi(portStr)
		peers = append(peers, engine.PeerInfo{IP: host, Port: port})
	}
	return peers
}

func defaultTrackers() []string {
	return []string{
		"udp://tracker.opentrackr.org:1337/announce",
		"udp://tracker.openbittorrent.com:6969/announce",
		"udp://open.stealth.si:80/announce",
		"udp://exodus.desync.com:6969/announce",
		"http://tracker.opentrackr.org:1337/announce",
		"http://tracker.openbittorrent.com:80/announce",
		"udp://tracker.torrent.eu.org:451/announce",
		"udp://tracker.moeking.me:6969/announce",
	}
}
