// Package service hosts the download bridge: a single loop owning engine
// command dispatch, fed by a command queue and the engine's event stream,
// publishing front-end events.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gosh-fetch/internal/adapter"
	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/engine"
	"gosh-fetch/internal/metrics"
	"gosh-fetch/internal/repository"
)

var ErrBridgeStopped = domain.Channel("bridge is not accepting commands")

type BridgeConfig struct {
	CommandBuffer int
	EventBuffer   int
	Logger        *logrus.Logger
	Now           func() time.Time
}

// Bridge decouples front-ends from the engine. Commands are handled in
// submission order; engine events are forwarded in emission order; a full
// event channel drops rather than blocks.
type Bridge struct {
	adapter   *adapter.Adapter
	downloads repository.DownloadRepository
	log       *logrus.Entry
	now       func() time.Time

	commands chan Command
	events   chan Event
	done     chan struct{}

	// stopped is set under mu before the final drain of commands; senders
	// hold the read lock across their send.
	mu      sync.RWMutex
	stopped bool
}

func NewBridge(a *adapter.Adapter, downloads repository.DownloadRepository, cfg BridgeConfig) *Bridge {
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = 100
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Bridge{
		adapter:   a,
		downloads: downloads,
		log:       cfg.Logger.WithField("component", "bridge"),
		now:       cfg.Now,
		commands:  make(chan Command, cfg.CommandBuffer),
		events:    make(chan Event, cfg.EventBuffer),
		done:      make(chan struct{}),
	}
}

// Submit queues cmd, blocking while the queue is full.
func (b *Bridge) Submit(ctx context.Context, cmd Command) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return ErrBridgeStopped
	}
	select {
	case b.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues cmd without blocking; a full queue is an error.
func (b *Bridge) TrySubmit(cmd Command) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return ErrBridgeStopped
	}
	select {
	case b.commands <- cmd:
		return nil
	default:
		metrics.CommandsTotal.WithLabelValues(cmd.Type.String(), "rejected").Inc()
		return domain.Channel("command queue is full")
	}
}

// Events is closed when Run returns.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// Done is closed when Run returns.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Shutdown asks the loop to stop after the commands queued before it and
// waits for it to exit.
func (b *Bridge) Shutdown(ctx context.Context) error {
	if err := b.Submit(ctx, Command{Type: CmdShutdown}); err != nil {
		if errors.Is(err, ErrBridgeStopped) {
			return nil
		}
		return err
	}
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the control loop. It returns nil after a Shutdown command and the
// context error when ctx ends first. Either way every non-terminal transfer
// is persisted before returning.
func (b *Bridge) Run(ctx context.Context) error {
	engEvents, unsubscribe := b.adapter.Engine().Subscribe()
	defer unsubscribe()
	defer close(b.events)
	defer close(b.done)

	b.log.Info("bridge started")
	b.emit(Event{Type: EventEngineReady})

	for {
		select {
		case <-ctx.Done():
			b.log.Warn("bridge context ended")
			b.snapshot(context.Background())
			b.stop()
			return ctx.Err()

		case cmd := <-b.commands:
			if cmd.Type == CmdShutdown {
				b.log.Info("bridge shutting down")
				b.snapshot(ctx)
				cmd.reply(Result{})
				b.stop()
				return nil
			}
			b.handleCommand(ctx, cmd)

		case ev, ok := <-engEvents:
			if !ok {
				b.log.Warn("engine event stream closed")
				engEvents = nil
				continue
			}
			b.handleEngineEvent(ctx, ev)
		}
	}
}

// stop refuses new commands and answers every queued one with
// ErrBridgeStopped. Senders blocked on a full queue are drained while the
// write lock is pending, so none of them is left holding an unanswered
// command.
func (b *Bridge) stop() {
	locked := make(chan struct{})
	go func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()
		close(locked)
	}()
	for {
		select {
		case cmd := <-b.commands:
			cmd.reply(Result{Err: ErrBridgeStopped})
		case <-locked:
			b.rejectQueued()
			return
		}
	}
}

func (b *Bridge) rejectQueued() {
	for {
		select {
		case cmd := <-b.commands:
			cmd.reply(Result{Err: ErrBridgeStopped})
		default:
			return
		}
	}
}

func (b *Bridge) handleCommand(ctx context.Context, cmd Command) {
	var (
		gid string
		err error
	)

	switch cmd.Type {
	case CmdAddHTTP:
		if cmd.Resolved {
			gid, err = b.adapter.AddResolved(ctx, cmd.URL, cmd.Options)
		} else {
			gid, err = b.adapter.AddDownload(ctx, cmd.URL, cmd.Options)
		}
		if err == nil {
			b.added(ctx, gid)
		}
	case CmdAddMagnet:
		if gid, err = b.adapter.AddMagnet(ctx, cmd.URI, cmd.Options); err == nil {
			b.added(ctx, gid)
		}
	case CmdAddTorrent:
		if gid, err = b.adapter.AddTorrent(ctx, cmd.Data, cmd.Options); err == nil {
			b.added(ctx, gid)
		}
	case CmdPause:
		gid = cmd.GID
		if err = b.adapter.Pause(ctx, gid); err == nil {
			b.persist(ctx, gid)
		}
	case CmdResume:
		gid = cmd.GID
		if err = b.adapter.Resume(ctx, gid); err == nil {
			b.persist(ctx, gid)
		}
	case CmdRemove:
		gid = cmd.GID
		err = b.remove(ctx, gid, cmd.DeleteFiles)
	case CmdPauseAll:
		for _, g := range b.adapter.PauseAll(ctx) {
			b.persist(ctx, g)
		}
	case CmdResumeAll:
		for _, g := range b.adapter.ResumeAll(ctx) {
			b.persist(ctx, g)
		}
	case CmdUpdateConfig:
		err = b.adapter.UpdateConfig(cmd.Config)
	case CmdRefreshDownloads:
		list := b.adapter.All()
		for _, rec := range list {
			if rec.State == domain.DownloadStateComplete || rec.State == domain.DownloadStateError {
				b.settle(ctx, rec)
			}
		}
		b.emit(downloadsList(list))
	case CmdRefreshStats:
		stats := b.adapter.GlobalStats()
		metrics.ActiveDownloads.Set(float64(stats.NumActive))
		metrics.WaitingDownloads.Set(float64(stats.NumWaiting))
		b.emit(statsUpdated(stats))
	default:
		err = fmt.Errorf("unknown command %d", int(cmd.Type))
	}

	if err != nil {
		metrics.CommandsTotal.WithLabelValues(cmd.Type.String(), "error").Inc()
		logger := b.log.WithField("command", cmd.Type.String())
		if cmd.GID != "" {
			logger = logger.WithField("gid", cmd.GID)
		}
		logger.WithError(err).Error("command failed")
		b.emit(errorEvent(err.Error()))
	} else {
		metrics.CommandsTotal.WithLabelValues(cmd.Type.String(), "ok").Inc()
	}
	cmd.reply(Result{GID: gid, Err: err})
}

// added persists a freshly accepted transfer and announces it.
func (b *Bridge) added(ctx context.Context, gid string) {
	rec, ok := b.adapter.Status(gid)
	if !ok {
		return
	}
	b.save(ctx, &rec)
	b.emit(downloadAdded(rec))
}

// remove cancels gid in the engine and deletes its row. A gid the engine no
// longer knows, such as a history entry from an earlier run, is removed from
// the store alone.
func (b *Bridge) remove(ctx context.Context, gid string, deleteFiles bool) error {
	engineErr := b.adapter.Remove(ctx, gid, deleteFiles)
	if engineErr != nil && !errors.Is(engineErr, domain.ErrNotFound) {
		return engineErr
	}
	storeErr := b.downloads.Delete(ctx, gid)
	switch {
	case engineErr != nil && storeErr != nil:
		return engineErr
	case storeErr != nil && !errors.Is(storeErr, domain.ErrNotFound):
		b.log.WithField("gid", gid).WithError(storeErr).Warn("delete record failed")
	}
	b.emit(downloadRemoved(gid))
	return nil
}

func (b *Bridge) handleEngineEvent(ctx context.Context, ev engine.Event) {
	gid := string(ev.ID)
	switch ev.Type {
	case engine.EventProgress, engine.EventStarted, engine.EventPaused, engine.EventResumed:
		if rec, ok := b.adapter.Status(gid); ok {
			b.emit(downloadUpdated(rec))
		}

	case engine.EventCompleted:
		rec, ok := b.adapter.Status(gid)
		if !ok {
			return
		}
		rec.MarkComplete(b.now())
		b.save(ctx, &rec)
		metrics.DownloadsCompletedTotal.Inc()
		b.log.WithField("gid", gid).Infof("download completed: %s", rec.Name)
		b.emit(downloadCompleted(rec))

	case engine.EventFailed:
		metrics.DownloadsFailedTotal.Inc()
		b.log.WithField("gid", gid).Errorf("download failed: %s", ev.Error)
		if rec, ok := b.adapter.Status(gid); ok {
			rec.MarkFailed(ev.Error)
			b.save(ctx, &rec)
		}
		b.emit(downloadFailed(gid, ev.Error))

	case engine.EventAdded, engine.EventRemoved:
		// announced by the command that caused them
	}
}

// persist saves the current engine view of gid.
func (b *Bridge) persist(ctx context.Context, gid string) {
	if rec, ok := b.adapter.Status(gid); ok {
		b.save(ctx, &rec)
	}
}

// save writes rec; failures are logged and never block event delivery.
func (b *Bridge) save(ctx context.Context, rec *domain.DownloadRecord) {
	if _, err := b.downloads.Save(ctx, rec); err != nil {
		b.log.WithField("gid", rec.GID).WithError(err).Error("persist download failed")
	}
}

// settle writes a finished record the store has not caught up with, such
// as one whose completion event was dropped.
func (b *Bridge) settle(ctx context.Context, rec domain.DownloadRecord) {
	stored, err := b.downloads.GetByGID(ctx, rec.GID)
	if err == nil && stored.State == rec.State {
		return
	}
	if rec.State == domain.DownloadStateComplete {
		rec.MarkComplete(b.now())
	}
	b.save(ctx, &rec)
}

// snapshot persists every transfer that restoration would pick up and
// settles the ones that finished during this run.
func (b *Bridge) snapshot(ctx context.Context) {
	saved := 0
	for _, rec := range b.adapter.All() {
		switch {
		case rec.State == domain.DownloadStateComplete:
			b.settle(ctx, rec)
		case rec.State.Incomplete():
			rec := rec
			b.save(ctx, &rec)
			saved++
		}
	}
	b.log.Infof("persisted %d unfinished downloads", saved)
}

func (b *Bridge) emit(ev Event) {
	select {
	case b.events <- ev:
		metrics.EventsEmittedTotal.WithLabelValues(ev.Type.String()).Inc()
	default:
		metrics.EventsDroppedTotal.WithLabelValues("bridge").Inc()
		b.log.WithField("event", ev.Type.String()).Warn("event channel full, dropping event")
	}
}
