package service

import (
	"fmt"

	"gosh-fetch/internal/domain"
)

// EventType tags an Event.
type EventType int

const (
	EventDownloadAdded EventType = iota
	EventDownloadUpdated
	EventDownloadRemoved
	EventDownloadCompleted
	EventDownloadFailed
	EventStatsUpdated
	EventDownloadsList
	EventError
	EventEngineReady
)

var eventNames = map[EventType]string{
	EventDownloadAdded:     "download_added",
	EventDownloadUpdated:   "download_updated",
	EventDownloadRemoved:   "download_removed",
	EventDownloadCompleted: "download_completed",
	EventDownloadFailed:    "download_failed",
	EventStatsUpdated:      "stats_updated",
	EventDownloadsList:     "downloads_list",
	EventError:             "error",
	EventEngineReady:       "engine_ready",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return "unknown"
}

func (t EventType) MarshalText() ([]byte, error) {
	name, ok := eventNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown event type %d", int(t))
	}
	return []byte(name), nil
}

func (t *EventType) UnmarshalText(b []byte) error {
	for k, v := range eventNames {
		if v == string(b) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown event type %q", b)
}

// Event is a notification from the bridge to front-ends.
type Event struct {
	Type      EventType               `json:"type"`
	GID       string                  `json:"gid,omitempty"`
	Download  *domain.DownloadRecord  `json:"download,omitempty"`
	Downloads []domain.DownloadRecord `json:"downloads,omitempty"`
	Stats     *domain.GlobalStats     `json:"stats,omitempty"`
	Message   string                  `json:"message,omitempty"`
}

func downloadAdded(rec domain.DownloadRecord) Event {
	return Event{Type: EventDownloadAdded, GID: rec.GID, Download: &rec}
}

func downloadUpdated(rec domain.DownloadRecord) Event {
	return Event{Type: EventDownloadUpdated, GID: rec.GID, Download: &rec}
}

func downloadCompleted(rec domain.DownloadRecord) Event {
	return Event{Type: EventDownloadCompleted, GID: rec.GID, Download: &rec}
}

func downloadFailed(gid, msg string) Event {
	return Event{Type: EventDownloadFailed, GID: gid, Message: msg}
}

func downloadRemoved(gid string) Event {
	return Event{Type: EventDownloadRemoved, GID: gid}
}

func downloadsList(recs []domain.DownloadRecord) Event {
	if recs == nil {
		recs = []domain.DownloadRecord{}
	}
	return Event{Type: EventDownloadsList, Downloads: recs}
}

func statsUpdated(s domain.GlobalStats) Event {
	return Event{Type: EventStatsUpdated, Stats: &s}
}

func errorEvent(msg string) Event {
	return Event{Type: EventError, Message: msg}
}
