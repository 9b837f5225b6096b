// Package enginetest provides an in-memory engine.Engine for tests.
package enginetest

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"gosh-fetch/internal/engine"
)

// Engine is a scriptable engine. Adds queue transfers; tests move them
// through states with SetState, Complete and Fail.
type Engine struct {
	mu        sync.Mutex
	statuses  map[engine.ID]*engine.Status
	order     []engine.ID
	subs      map[int]chan engine.Event
	nextSub   int
	cfg       engine.Config
	closed    bool
	addErr    error
	cancelled map[engine.ID]bool
	opts      map[engine.ID]engine.Options
}

func New() *Engine {
	return &Engine{
		statuses:  map[engine.ID]*engine.Status{},
		subs:      map[int]chan engine.Event{},
		cfg:       engine.DefaultConfig(),
		cancelled: map[engine.ID]bool{},
		opts:      map[engine.ID]engine.Options{},
	}
}

// FailAdds makes every subsequent add return err.
func (e *Engine) FailAdds(err error) {
	e.mu.Lock()
	e.addErr = err
	e.mu.Unlock()
}

func (e *Engine) AddHTTP(ctx context.Context, url string, opts engine.Options) (engine.ID, error) {
	return e.add(engine.KindHTTP, engine.Metadata{Name: path.Base(url), URL: url}, opts)
}

func (e *Engine) AddMagnet(ctx context.Context, uri string, opts engine.Options) (engine.ID, error) {
	return e.add(engine.KindMagnet, engine.Metadata{Name: "magnet", MagnetURI: uri}, opts)
}

func (e *Engine) AddTorrent(ctx context.Context, data []byte, opts engine.Options) (engine.ID, error) {
	return e.add(engine.KindTorrent, engine.Metadata{Name: "torrent"}, opts)
}

func (e *Engine) add(kind engine.Kind, meta engine.Metadata, opts engine.Options) (engine.ID, error) {
	e.mu.Lock()
	if e.addErr != nil {
		err := e.addErr
		e.mu.Unlock()
		return "", err
	}
	id := opts.ID
	if id == "" {
		id = engine.ID(uuid.NewString())
	}
	if _, exists := e.statuses[id]; exists {
		e.mu.Unlock()
		return "", engine.InvalidInputError("id", "duplicate id")
	}
	if opts.Filename != "" {
		meta.Name = opts.Filename
	}
	meta.SaveDir = opts.SaveDir
	if meta.SaveDir == "" {
		meta.SaveDir = e.cfg.DownloadDir
	}
	st := &engine.Status{
		ID:        id,
		Kind:      kind,
		State:     engine.State{Kind: engine.StateQueued},
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}
	if kind != engine.KindHTTP && opts.SelectedFiles != nil {
		info := &engine.TorrentInfo{Name: meta.Name}
		selected := map[int]bool{}
		for _, i := range opts.SelectedFiles {
			selected[i] = true
		}
		for i := 0; i < 3; i++ {
			info.Files = append(info.Files, engine.TorrentFile{Index: i, Path: "file" + string(rune('0'+i)), Size: 10, Selected: selected[i]})
		}
		st.TorrentInfo = info
	}
	e.statuses[id] = st
	e.order = append(e.order, id)
	e.opts[id] = opts
	e.emitLocked(engine.Event{Type: engine.EventAdded, ID: id})
	e.mu.Unlock()
	return id, nil
}

func (e *Engine) Pause(ctx context.Context, id engine.ID) error {
	return e.transition(id, engine.StatePaused, engine.EventPaused)
}

func (e *Engine) Resume(ctx context.Context, id engine.ID) error {
	return e.transition(id, engine.StateDownloading, engine.EventResumed)
}

func (e *Engine) transition(id engine.ID, to engine.StateKind, ev engine.EventType) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.statuses[id]
	if !ok {
		return engine.NotFoundError(id)
	}
	st.State = engine.State{Kind: to}
	e.emitLocked(engine.Event{Type: ev, ID: id})
	return nil
}

func (e *Engine) Cancel(ctx context.Context, id engine.ID, deleteFiles bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.statuses[id]; !ok {
		return engine.NotFoundError(id)
	}
	delete(e.statuses, id)
	for i, o := range e.order {
		if o == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.cancelled[id] = deleteFiles
	e.emitLocked(engine.Event{Type: engine.EventRemoved, ID: id})
	return nil
}

// Cancelled reports whether id was cancelled and with which deleteFiles flag.
func (e *Engine) Cancelled(id engine.ID) (deleteFiles, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	deleteFiles, ok = e.cancelled[id]
	return deleteFiles, ok
}

// Options returns the options id was added with.
func (e *Engine) Options(id engine.ID) engine.Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts[id]
}

// SetState moves id to state without emitting an event.
func (e *Engine) SetState(id engine.ID, state engine.State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.statuses[id]; ok {
		st.State = state
	}
}

// SetProgress updates counters and emits a progress event.
func (e *Engine) SetProgress(id engine.ID, total, completed, speed int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.statuses[id]
	if !ok {
		return
	}
	st.State = engine.State{Kind: engine.StateDownloading}
	st.Progress.TotalSize = &total
	st.Progress.CompletedSize = completed
	st.Progress.DownloadSpeed = speed
	e.emitLocked(engine.Event{Type: engine.EventProgress, ID: id})
}

// Complete marks id finished and emits a completion event.
func (e *Engine) Complete(id engine.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.statuses[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	st.State = engine.State{Kind: engine.StateCompleted}
	st.CompletedAt = &now
	if st.Progress.TotalSize != nil {
		st.Progress.CompletedSize = *st.Progress.TotalSize
	}
	st.Progress.DownloadSpeed = 0
	e.emitLocked(engine.Event{Type: engine.EventCompleted, ID: id})
}

// Fail marks id failed and emits a failure event.
func (e *Engine) Fail(id engine.ID, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.statuses[id]
	if !ok {
		return
	}
	st.State = engine.State{Kind: engine.StateError, Message: msg}
	e.emitLocked(engine.Event{Type: engine.EventFailed, ID: id, Error: msg})
}

// Emit pushes a raw event to subscribers.
func (e *Engine) Emit(ev engine.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitLocked(ev)
}

func (e *Engine) emitLocked(ev engine.Event) {
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (e *Engine) Status(id engine.ID) (engine.Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.statuses[id]
	if !ok {
		return engine.Status{}, false
	}
	return copyStatus(st), true
}

func (e *Engine) List() []engine.Status {
	return e.filter(func(engine.StateKind) bool { return true })
}

func (e *Engine) Active() []engine.Status {
	return e.filter(func(k engine.StateKind) bool {
		return k == engine.StateConnecting || k == engine.StateDownloading || k == engine.StateSeeding
	})
}

func (e *Engine) Stopped() []engine.Status {
	return e.filter(func(k engine.StateKind) bool {
		return k == engine.StatePaused || k == engine.StateCompleted || k == engine.StateError
	})
}

func (e *Engine) filter(keep func(engine.StateKind) bool) []engine.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []engine.Status
	for _, id := range e.order {
		st := e.statuses[id]
		if keep(st.State.Kind) {
			out = append(out, copyStatus(st))
		}
	}
	return out
}

func (e *Engine) GlobalStats() engine.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	var s engine.Stats
	for _, st := range e.statuses {
		s.DownloadSpeed += st.Progress.DownloadSpeed
		s.UploadSpeed += st.Progress.UploadSpeed
		switch st.State.Kind {
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

func (e *Engine) Config() engine.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Engine) SetConfig(cfg engine.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	return nil
}

func (e *Engine) Subscribe() (<-chan engine.Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan engine.Event, 256)
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	if e.closed {
		close(ch)
		delete(e.subs, id)
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if c, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(c)
			}
		})
	}
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	return nil
}

func copyStatus(st *engine.Status) engine.Status {
	out := *st
	if st.TorrentInfo != nil {
		info := *st.TorrentInfo
		info.Files = append([]engine.TorrentFile(nil), st.TorrentInfo.Files...)
		out.TorrentInfo = &info
	}
	return out
}

var _ engine.Engine = (*Engine)(nil)
