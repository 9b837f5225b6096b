package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gosh_fetch",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gosh_fetch",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gosh_fetch",
		Name:      "bridge_commands_total",
		Help:      "Bridge commands processed by type and outcome.",
	}, []string{"command", "outcome"})

	EventsEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gosh_fetch",
		Name:      "bridge_events_emitted_total",
		Help:      "Events placed on the bridge event channel by type.",
	}, []string{"event"})

	EventsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gosh_fetch",
		Name:      "events_dropped_total",
		Help:      "Events dropped because a consumer buffer was full, by stage.",
	}, []string{"stage"})

	ActiveDownloads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gosh_fetch",
		Name:      "active_downloads",
		Help:      "Number of currently active transfers.",
	})

	WaitingDownloads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gosh_fetch",
		Name:      "waiting_downloads",
		Help:      "Number of queued transfers.",
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gosh_fetch",
		Name:      "download_speed_bytes",
		Help:      "Current aggregate download speed in bytes per second.",
	})

	UploadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gosh_fetch",
		Name:      "upload_speed_bytes",
		Help:      "Current aggregate upload speed in bytes per second.",
	})

	DownloadsCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gosh_fetch",
		Name:      "downloads_completed_total",
		Help:      "Total number of transfers that completed.",
	})

	DownloadsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gosh_fetch",
		Name:      "downloads_failed_total",
		Help:      "Total number of transfers that failed.",
	})

	RestoredDownloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gosh_fetch",
		Name:      "restored_downloads_total",
		Help:      "Persisted transfers seen at startup by kind and outcome.",
	}, []string{"kind", "outcome"})

	TrackerUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gosh_fetch",
		Name:      "tracker_updates_total",
		Help:      "Tracker list refresh attempts by outcome.",
	}, []string{"outcome"})

	TrackersStored = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gosh_fetch",
		Name:      "trackers_stored",
		Help:      "Number of trackers in the stored list.",
	})

	ArchiveUploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gosh_fetch",
		Name:      "archive_uploads_total",
		Help:      "Completed downloads archived to object storage by outcome.",
	}, []string{"outcome"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		CommandsTotal,
		EventsEmittedTotal,
		EventsDroppedTotal,
		ActiveDownloads,
		WaitingDownloads,
		DownloadSpeedBytes,
		UploadSpeedBytes,
		DownloadsCompletedTotal,
		DownloadsFailedTotal,
		RestoredDownloadsTotal,
		TrackerUpdatesTotal,
		TrackersStored,
		ArchiveUploadsTotal,
	)
}
