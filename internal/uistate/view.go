// Package uistate keeps the front-end's picture of the download list. It is
// fed from the bridge event stream and is only eventually consistent with the
// engine; a DownloadsList event replaces it wholesale.
package uistate

import (
	"sort"
	"sync"

	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/service"
)

type View struct {
	mu        sync.RWMutex
	downloads map[string]domain.DownloadRecord
	stats     domain.GlobalStats
	lastError string
	ready     bool
}

func New() *View {
	return &View{downloads: make(map[string]domain.DownloadRecord)}
}

// Run applies events until ch is closed.
func (v *View) Run(ch <-chan service.Event) {
	for ev := range ch {
		v.Apply(ev)
	}
}

func (v *View) Apply(ev service.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch ev.Type {
	case service.EventDownloadAdded, service.EventDownloadUpdated, service.EventDownloadCompleted:
		if ev.Download != nil {
			v.downloads[ev.Download.GID] = *ev.Download
		}
	case service.EventDownloadFailed:
		// a failure for a gid we never saw waits for the next full refresh
		if rec, ok := v.downloads[ev.GID]; ok {
			rec.MarkFailed(ev.Message)
			v.downloads[ev.GID] = rec
		}
	case service.EventDownloadRemoved:
		delete(v.downloads, ev.GID)
	case service.EventDownloadsList:
		v.downloads = make(map[string]domain.DownloadRecord, len(ev.Downloads))
		for _, rec := range ev.Downloads {
			v.downloads[rec.GID] = rec
		}
	case service.EventStatsUpdated:
		if ev.Stats != nil {
			v.stats = *ev.Stats
		}
	case service.EventError:
		v.lastError = ev.Message
	case service.EventEngineReady:
		v.ready = true
	}
}

// Downloads returns the visible records, newest first.
func (v *View) Downloads() []domain.DownloadRecord {
	v.mu.RLock()
	out := make([]domain.DownloadRecord, 0, len(v.downloads))
	for _, rec := range v.downloads {
		out = append(out, rec)
	}
	v.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].GID < out[j].GID
	})
	return out
}

func (v *View) Get(gid string) (domain.DownloadRecord, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.downloads[gid]
	return rec, ok
}

func (v *View) Stats() domain.GlobalStats {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.stats
}

// TakeError returns the last error message and clears it, the way a toast
// is dismissed.
func (v *View) TakeError() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	msg := v.lastError
	v.lastError = ""
	return msg
}

func (v *View) Ready() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ready
}
