// Package downloader is the concrete transfer engine: BitTorrent and magnet
// transfers through anacrolix/torrent, and single-stream HTTP(S) transfers
// with Range resume.
package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"gosh-fetch/internal/engine"
	"gosh-fetch/internal/metrics"
)

const copyChunk = 32 << 10

type Options struct {
	Fs             afero.Fs
	Logger         *logrus.Logger
	StatusInterval time.Duration
	EventBuffer    int
	// HTTPClient overrides the client used for HTTP transfers. By default a
	// client honouring Config.ProxyURL is built.
	HTTPClient *http.Client
}

// Manager runs transfers. A transfer waits Queued until one of the
// MaxConcurrentDownloads slots is free; higher priorities are admitted first.
type Manager struct {
	opts Options
	fs   afero.Fs
	log  *logrus.Logger
	http *http.Client

	downLimit *rate.Limiter
	upLimit   *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	cfg       engine.Config
	transfers map[engine.ID]*transfer
	order     []engine.ID
	subs      map[int]chan engine.Event
	nextSub   int
	closed    bool
	tclient   *torrent.Client
}

type transfer struct {
	id       engine.ID
	kind     engine.Kind
	opts     engine.Options
	url      string
	magnet   string
	mi       *metainfo.MetaInfo
	name     string
	saveDir  string
	infoHash string

	state       engine.State
	total       int64 // -1 until known
	completed   atomic.Int64
	uploaded    int64
	speed       int64
	upSpeed     int64
	lastDone    int64
	lastUp      int64
	connections int
	seeders     int
	files       []engine.TorrentFile
	createdAt   time.Time
	completedAt *time.Time

	admitted bool
	cancel   context.CancelFunc
	done     chan struct{}
	t        *torrent.Torrent
	limiter  *rate.Limiter
}

func New(cfg engine.Config, opts Options) (*Manager, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = time.Second
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 1024
	}
	if cfg.MaxConcurrentDownloads <= 0 {
		cfg.MaxConcurrentDownloads = engine.DefaultConfig().MaxConcurrentDownloads
	}
	if cfg.DownloadDir != "" {
		if err := opts.Fs.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
			return nil, fmt.Errorf("create download dir: %w", err)
		}
	}

	m := &Manager{
		opts:      opts,
		fs:        opts.Fs,
		log:       opts.Logger,
		downLimit: rate.NewLimiter(limitFor(cfg.GlobalDownloadLimit), burstFor(cfg.GlobalDownloadLimit)),
		upLimit:   rate.NewLimiter(limitFor(cfg.GlobalUploadLimit), burstFor(cfg.GlobalUploadLimit)),
		cfg:       cfg,
		transfers: make(map[engine.ID]*transfer),
		subs:      make(map[int]chan engine.Event),
	}
	m.http = opts.HTTPClient
	if m.http == nil {
		m.http = &http.Client{Transport: &http.Transport{Proxy: m.proxy}}
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.wg.Add(1)
	go m.monitor()

	m.log.Infof("download engine started, data dir: %s", cfg.DownloadDir)
	return m, nil
}

func (m *Manager) AddHTTP(ctx context.Context, rawURL string, opts engine.Options) (engine.ID, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", engine.InvalidInputError("url", fmt.Sprintf("unsupported URL %q", rawURL))
	}
	for _, mirror := range opts.Mirrors {
		if mu, err := url.Parse(mirror); err != nil || mu.Host == "" {
			return "", engine.InvalidInputError("mirrors", fmt.Sprintf("invalid mirror %q", mirror))
		}
	}
	return m.add(&transfer{kind: engine.KindHTTP, url: u.String(), name: opts.Filename}, opts)
}

func (m *Manager) AddMagnet(ctx context.Context, uri string, opts engine.Options) (engine.ID, error) {
	mag, err := metainfo.ParseMagnetUri(strings.TrimSpace(uri))
	if err != nil {
		return "", engine.InvalidInputError("magnet", err.Error())
	}
	return m.add(&transfer{
		kind:     engine.KindMagnet,
		magnet:   strings.TrimSpace(uri),
		name:     mag.DisplayName,
		infoHash: mag.InfoHash.HexString(),
	}, opts)
}

func (m *Manager) AddTorrent(ctx context.Context, data []byte, opts engine.Options) (engine.ID, error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return "", engine.InvalidInputError("torrent", err.Error())
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return "", engine.InvalidInputError("torrent", err.Error())
	}
	return m.add(&transfer{
		kind:     engine.KindTorrent,
		mi:       mi,
		name:     info.BestName(),
		infoHash: mi.HashInfoBytes().HexString(),
	}, opts)
}

func (m *Manager) add(tr *transfer, opts engine.Options) (engine.ID, error) {
	id := opts.ID
	if id == "" {
		id = engine.ID(uuid.NewString())
	} else if _, err := uuid.Parse(string(id)); err != nil {
		return "", engine.InvalidInputError("id", fmt.Sprintf("invalid id %q", id))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", &engine.Error{Kind: engine.ErrShutdown}
	}
	if _, exists := m.transfers[id]; exists {
		return "", engine.InvalidInputError("id", fmt.Sprintf("download %s already exists", id))
	}

	tr.id = id
	tr.opts = opts
	tr.state = engine.State{Kind: engine.StateQueued}
	tr.total = -1
	tr.createdAt = time.Now().UTC()
	tr.saveDir = opts.SaveDir
	if tr.saveDir == "" {
		tr.saveDir = m.cfg.DownloadDir
	}
	tr.limiter = rate.NewLimiter(limitFor(opts.MaxDownloadSpeed), burstFor(opts.MaxDownloadSpeed))

	m.transfers[id] = tr
	m.order = append(m.order, id)
	m.log.WithField("gid", id).Infof("added %s download", tr.kind)
	m.emitLocked(engine.Event{Type: engine.EventAdded, ID: id})
	m.scheduleLocked()
	return id, nil
}

func (m *Manager) Pause(ctx context.Context, id engine.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.transfers[id]
	if !ok {
		return engine.NotFoundError(id)
	}
	switch tr.state.Kind {
	case engine.StatePaused:
		return nil
	case engine.StateCompleted, engine.StateError:
		return engine.InvalidInputError("id", fmt.Sprintf("cannot pause a %s download", tr.state.Kind))
	}
	if tr.cancel != nil {
		tr.cancel()
	}
	if tr.t != nil {
		tr.t.DisallowDataDownload()
	}
	tr.state = engine.State{Kind: engine.StatePaused}
	tr.speed, tr.upSpeed = 0, 0
	m.emitLocked(engine.Event{Type: engine.EventPaused, ID: id})
	return nil
}

func (m *Manager) Resume(ctx context.Context, id engine.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.transfers[id]
	if !ok {
		return engine.NotFoundError(id)
	}
	if tr.state.Kind != engine.StatePaused && tr.state.Kind != engine.StateError {
		return engine.InvalidInputError("id", fmt.Sprintf("cannot resume a %s download", tr.state.Kind))
	}
	tr.state = engine.State{Kind: engine.StateQueued}
	m.emitLocked(engine.Event{Type: engine.EventResumed, ID: id})
	m.scheduleLocked()
	return nil
}

// Cancel stops and forgets a transfer, optionally deleting its data.
func (m *Manager) Cancel(ctx context.Context, id engine.ID, deleteFiles bool) error {
	m.mu.Lock()
	tr, ok := m.transfers[id]
	if !ok {
		m.mu.Unlock()
		return engine.NotFoundError(id)
	}
	delete(m.transfers, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if tr.cancel != nil {
		tr.cancel()
	}
	done := tr.done
	t := tr.t
	tr.t = nil
	m.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if t != nil {
		t.Drop()
	}
	if deleteFiles {
		m.deleteData(tr)
	}

	m.mu.Lock()
	m.log.WithField("gid", id).Info("download removed")
	m.emitLocked(engine.Event{Type: engine.EventRemoved, ID: id})
	m.scheduleLocked()
	m.mu.Unlock()
	return nil
}

func (m *Manager) deleteData(tr *transfer) {
	if tr.name == "" {
		return
	}
	target := filepath.Join(tr.saveDir, tr.name)
	logger := m.log.WithField("gid", tr.id)
	if tr.kind == engine.KindHTTP {
		for _, p := range []string{target, target + partSuffix} {
			if err := m.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Warnf("delete %s: %v", p, err)
			}
		}
		return
	}
	if err := m.fs.RemoveAll(target); err != nil {
		logger.Warnf("delete %s: %v", target, err)
	}
}

func (m *Manager) Status(id engine.ID) (engine.Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.transfers[id]
	if !ok {
		return engine.Status{}, false
	}
	return m.statusLocked(tr), true
}

func (m *Manager) List() []engine.Status {
	return m.collect(func(engine.StateKind, bool) bool { return true })
}

func (m *Manager) Active() []engine.Status {
	return m.collect(func(k engine.StateKind, admitted bool) bool {
		return admitted && (k == engine.StateConnecting || k == engine.StateDownloading || k == engine.StateSeeding)
	})
}

func (m *Manager) Stopped() []engine.Status {
	return m.collect(func(k engine.StateKind, _ bool) bool {
		return k == engine.StatePaused || k == engine.StateCompleted || k == engine.StateError
	})
}

func (m *Manager) collect(keep func(engine.StateKind, bool) bool) []engine.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]engine.Status, 0, len(m.order))
	for _, id := range m.order {
		tr := m.transfers[id]
		if keep(tr.state.Kind, tr.admitted) {
			out = append(out, m.statusLocked(tr))
		}
	}
	return out
}

func (m *Manager) GlobalStats() engine.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s engine.Stats
	for _, tr := range m.transfers {
		s.DownloadSpeed += tr.speed
		s.UploadSpeed += tr.upSpeed
		switch tr.state.Kind {
		case engine.StateQueued:
			s.NumWaiting++
		case engine.StateConnecting, engine.StateDownloading, engine.StateSeeding:
			s.NumActive++
		default:
			s.NumStopped++
		}
	}
	return s
}

func (m *Manager) Config() engine.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.cfg
	cfg.Trackers = append([]string(nil), m.cfg.Trackers...)
	return cfg
}

// SetConfig applies cfg. Limits, concurrency and trackers take effect
// immediately; DHT/PEX changes apply once the torrent client is recreated.
func (m *Manager) SetConfig(cfg engine.Config) error {
	if cfg.MaxConcurrentDownloads <= 0 {
		return engine.InvalidInputError("max_concurrent_downloads", "must be positive")
	}
	if cfg.ProxyURL != "" {
		if _, err := url.Parse(cfg.ProxyURL); err != nil {
			return engine.InvalidInputError("proxy_url", err.Error())
		}
	}
	if cfg.DownloadDir != "" {
		if err := m.fs.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
			return engine.StorageError(fmt.Sprintf("create download dir: %v", err))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	added := newTrackers(m.cfg.Trackers, cfg.Trackers)
	m.cfg = cfg
	m.downLimit.SetLimit(limitFor(cfg.GlobalDownloadLimit))
	m.downLimit.SetBurst(burstFor(cfg.GlobalDownloadLimit))
	m.upLimit.SetLimit(limitFor(cfg.GlobalUploadLimit))
	m.upLimit.SetBurst(burstFor(cfg.GlobalUploadLimit))
	if len(added) > 0 {
		for _, tr := range m.transfers {
			if tr.t != nil {
				tr.t.AddTrackers([][]string{added})
			}
		}
	}
	m.scheduleLocked()
	return nil
}

func (m *Manager) Subscribe() (<-chan engine.Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan engine.Event, m.opts.EventBuffer)
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

// Close stops every transfer, waits for them to exit and ends all
// subscriptions.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, tr := range m.transfers {
		if tr.cancel != nil {
			tr.cancel()
		}
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tclient != nil {
		m.tclient.Close()
		m.tclient = nil
	}
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	m.log.Info("download engine stopped")
	return nil
}

// scheduleLocked admits queued transfers into free slots.
func (m *Manager) scheduleLocked() {
	if m.closed {
		return
	}
	running := 0
	var queued []*transfer
	for _, id := range m.order {
		tr := m.transfers[id]
		if tr.admitted {
			running++
			continue
		}
		if tr.state.Kind == engine.StateQueued {
			queued = append(queued, tr)
		}
	}
	sort.SliceStable(queued, func(i, j int) bool {
		return priorityRank(queued[i].opts.Priority) > priorityRank(queued[j].opts.Priority)
	})
	for _, tr := range queued {
		if running >= m.cfg.MaxConcurrentDownloads {
			return
		}
		m.startLocked(tr)
		running++
	}
}

func (m *Manager) startLocked(tr *transfer) {
	ctx, cancel := context.WithCancel(m.ctx)
	done := make(chan struct{})
	tr.admitted = true
	tr.cancel = cancel
	tr.done = done
	tr.state = engine.State{Kind: engine.StateConnecting}
	m.emitLocked(engine.Event{Type: engine.EventStarted, ID: tr.id})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(done)
		defer cancel()

		var err error
		if tr.kind == engine.KindHTTP {
			err = m.runHTTP(ctx, tr)
		} else {
			err = m.runTorrent(ctx, tr)
		}
		m.finish(ctx, tr, err)
	}()
}

func (m *Manager) finish(ctx context.Context, tr *transfer, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr.admitted = false
	tr.cancel = nil
	tr.speed, tr.upSpeed = 0, 0
	logger := m.log.WithField("gid", tr.id)

	switch {
	case ctx.Err() != nil:
		// paused, cancelled or shutting down; the caller already set the state
	case err != nil:
		retryable := false
		var ee *engine.Error
		if errors.As(err, &ee) {
			retryable = ee.Retryable
		}
		tr.state = engine.State{Kind: engine.StateError, Message: err.Error(), Retryable: retryable}
		logger.Errorf("download failed: %v", err)
		m.emitLocked(engine.Event{Type: engine.EventFailed, ID: tr.id, Error: err.Error(), Retryable: retryable})
	default:
		now := time.Now().UTC()
		tr.completedAt = &now
		tr.state = engine.State{Kind: engine.StateCompleted}
		if tr.total >= 0 {
			tr.completed.Store(tr.total)
		}
		logger.Info("download completed")
		m.emitLocked(engine.Event{Type: engine.EventCompleted, ID: tr.id})
	}
	m.scheduleLocked()
}

// monitor samples speeds and publishes progress for running transfers.
func (m *Manager) monitor() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.StatusInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			m.sample(now.Sub(last))
			last = now
		}
	}
}

func (m *Manager) sample(elapsed time.Duration) {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		tr := m.transfers[id]
		if tr.t != nil && tr.t.Info() != nil {
			stats := tr.t.Stats()
			tr.connections = stats.ActivePeers
			tr.seeders = stats.ConnectedSeeders
			tr.uploaded = stats.BytesWrittenData.Int64()
			m.enforceSeedRatioLocked(tr)
		}
		done := tr.completed.Load()
		if tr.admitted {
			tr.speed = max(int64(float64(done-tr.lastDone)/secs), 0)
			tr.upSpeed = max(int64(float64(tr.uploaded-tr.lastUp)/secs), 0)
			m.emitLocked(engine.Event{Type: engine.EventProgress, ID: tr.id})
		}
		tr.lastDone = done
		tr.lastUp = tr.uploaded
	}
	s := m.globalLocked()
	metrics.DownloadSpeedBytes.Set(float64(s.DownloadSpeed))
	metrics.UploadSpeedBytes.Set(float64(s.UploadSpeed))
}

func (m *Manager) globalLocked() engine.Stats {
	var s engine.Stats
	for _, tr := range m.transfers {
		s.DownloadSpeed += tr.speed
		s.UploadSpeed += tr.upSpeed
	}
	return s
}

// enforceSeedRatioLocked stops seeding a finished torrent once it has
// uploaded ratio times its size.
func (m *Manager) enforceSeedRatioLocked(tr *transfer) {
	if tr.state.Kind != engine.StateCompleted || tr.total <= 0 {
		return
	}
	ratio := tr.opts.SeedRatio
	if ratio <= 0 {
		ratio = m.cfg.SeedRatio
	}
	if float64(tr.uploaded) < ratio*float64(tr.total) {
		return
	}
	m.log.WithField("gid", tr.id).Infof("seed ratio %.2f reached", ratio)
	tr.t.Drop()
	tr.t = nil
	tr.upSpeed = 0
}

func (m *Manager) statusLocked(tr *transfer) engine.Status {
	st := engine.Status{
		ID:    tr.id,
		Kind:  tr.kind,
		State: tr.state,
		Progress: engine.Progress{
			CompletedSize: tr.completed.Load(),
			DownloadSpeed: tr.speed,
			UploadSpeed:   tr.upSpeed,
			Connections:   tr.connections,
			Seeders:       tr.seeders,
		},
		Metadata: engine.Metadata{
			Name:      tr.name,
			URL:       tr.url,
			MagnetURI: tr.magnet,
			InfoHash:  tr.infoHash,
			SaveDir:   tr.saveDir,
		},
		CreatedAt: tr.createdAt,
	}
	if tr.total >= 0 {
		total := tr.total
		st.Progress.TotalSize = &total
	}
	if tr.completedAt != nil {
		t := *tr.completedAt
		st.CompletedAt = &t
	}
	if tr.kind != engine.KindHTTP && tr.files != nil {
		st.TorrentInfo = &engine.TorrentInfo{
			Name:  tr.name,
			Files: append([]engine.TorrentFile(nil), tr.files...),
		}
	}
	if tr.t != nil {
		st.Peers = peersOf(tr.t)
	}
	return st
}

func (m *Manager) emitLocked(ev engine.Event) {
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			metrics.EventsDroppedTotal.WithLabelValues("engine").Inc()
			m.log.WithField("gid", ev.ID).Warnf("engine event %s dropped, subscriber full", ev.Type)
		}
	}
}

func (m *Manager) proxy(req *http.Request) (*url.URL, error) {
	m.mu.Lock()
	raw := m.cfg.ProxyURL
	m.mu.Unlock()
	if raw == "" {
		return http.ProxyFromEnvironment(req)
	}
	return url.Parse(raw)
}

func priorityRank(p engine.Priority) int {
	switch p {
	case engine.PriorityLow:
		return 0
	case engine.PriorityHigh:
		return 2
	case engine.PriorityCritical:
		return 3
	default:
		return 1
	}
}

func limitFor(bytesPerSec int64) rate.Limit {
	if bytesPerSec <= 0 {
		return rate.Inf
	}
	return rate.Limit(bytesPerSec)
}

func burstFor(bytesPerSec int64) int {
	if bytesPerSec <= copyChunk {
		return copyChunk
	}
	return int(bytesPerSec)
}

func newTrackers(old, next []string) []string {
	seen := make(map[string]struct{}, len(old))
	for _, t := range old {
		seen[t] = struct{}{}
	}
	var out []string
	for _, t := range next {
		if _, ok := seen[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}

var _ engine.Engine = (*Manager)(nil)
