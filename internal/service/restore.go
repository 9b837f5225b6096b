package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/metrics"
	"gosh-fetch/internal/repository"
)

const DefaultHistoryLimit = 100

// RestorePlan is what startup re-submits for the unfinished records of an
// earlier run.
type RestorePlan struct {
	Commands []Command
	Skipped  []domain.DownloadRecord
}

// PlanRestore turns incomplete records into add commands that keep their
// gid, save dir and file selection. Torrent records cannot be restored
// because the .torrent bytes are not stored; FTP has no transfer path.
// Records that were paused get a Pause right after their add.
func PlanRestore(records []domain.DownloadRecord, logger *logrus.Logger) RestorePlan {
	if logger == nil {
		logger = logrus.New()
	}
	log := logger.WithField("component", "restore")

	var plan RestorePlan
	for _, rec := range records {
		opts := domain.DownloadOptions{
			GID:        rec.GID,
			Dir:        rec.SavePath,
			SelectFile: joinIndices(rec.SelectedFiles),
		}

		var cmd Command
		switch rec.Type {
		case domain.DownloadTypeHTTP:
			if rec.URL == "" {
				log.WithField("gid", rec.GID).Warn("skipping HTTP download without URL")
				plan.skip(rec)
				continue
			}
			opts.Out = rec.Name
			cmd = AddHTTP(rec.URL, opts)
		case domain.DownloadTypeMagnet:
			if rec.MagnetURI == "" {
				log.WithField("gid", rec.GID).Warn("skipping magnet download without URI")
				plan.skip(rec)
				continue
			}
			cmd = AddMagnet(rec.MagnetURI, opts)
		case domain.DownloadTypeTorrent:
			log.WithField("gid", rec.GID).Debugf("skipping torrent restoration for %s: torrent data is not stored", rec.Name)
			plan.skip(rec)
			continue
		default:
			log.WithField("gid", rec.GID).Warnf("skipping %s download restoration for %s: not supported", rec.Type, rec.Name)
			plan.skip(rec)
			continue
		}

		metrics.RestoredDownloadsTotal.WithLabelValues(string(rec.Type), "submitted").Inc()
		plan.Commands = append(plan.Commands, cmd)
		if rec.State == domain.DownloadStatePaused {
			plan.Commands = append(plan.Commands, Pause(rec.GID))
		}
	}
	return plan
}

func (p *RestorePlan) skip(rec domain.DownloadRecord) {
	metrics.RestoredDownloadsTotal.WithLabelValues(string(rec.Type), "skipped").Inc()
	p.Skipped = append(p.Skipped, rec)
}

func joinIndices(idx []int) string {
	if len(idx) == 0 {
		return ""
	}
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// Submitter accepts bridge commands; *Bridge implements it.
type Submitter interface {
	Submit(ctx context.Context, cmd Command) error
}

// URLResolver pre-resolves an HTTP source; *adapter.Adapter implements it.
type URLResolver interface {
	Resolve(ctx context.Context, url string, opts domain.DownloadOptions) (string, error)
}

type RestoreResult struct {
	History   []domain.DownloadRecord
	Submitted int
	Skipped   int
}

// Restorer reconciles the store with a fresh engine at startup.
type Restorer struct {
	downloads    repository.DownloadRepository
	historyLimit int
	resolver     URLResolver
	logger       *logrus.Logger
	log          *logrus.Entry
}

func NewRestorer(downloads repository.DownloadRepository, historyLimit int, logger *logrus.Logger) *Restorer {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Restorer{
		downloads:    downloads,
		historyLimit: historyLimit,
		logger:       logger,
		log:          logger.WithField("component", "restore"),
	}
}

// WithResolver makes Restore probe HTTP sources itself, so the bridge loop
// never blocks on the network for a restored download. A source that no
// longer resolves is skipped and stays in the store for the next start.
func (r *Restorer) WithResolver(resolver URLResolver) *Restorer {
	r.resolver = resolver
	return r
}

// Restore loads the completed history and re-submits unfinished transfers.
// Store failures are logged; the caller gets whatever could be loaded.
func (r *Restorer) Restore(ctx context.Context, bridge Submitter) RestoreResult {
	var res RestoreResult

	history, err := r.downloads.GetCompleted(ctx, r.historyLimit)
	if err != nil {
		r.log.WithError(err).Error("load completed downloads failed")
		history = nil
	}
	res.History = history
	r.log.Infof("loaded %d completed downloads from database", len(history))

	incomplete, err := r.downloads.GetIncomplete(ctx)
	if err != nil {
		r.log.WithError(err).Error("load incomplete downloads failed")
		return res
	}
	if len(incomplete) == 0 {
		return res
	}

	r.log.Infof("restoring %d incomplete downloads", len(incomplete))
	plan := PlanRestore(incomplete, r.logger)
	res.Skipped = len(plan.Skipped)
	unresolved := map[string]bool{}
	for _, cmd := range plan.Commands {
		if cmd.Type == CmdPause && unresolved[cmd.GID] {
			continue
		}
		if cmd.Type == CmdAddHTTP && r.resolver != nil {
			resolved, err := r.resolver.Resolve(ctx, cmd.URL, cmd.Options)
			if err != nil {
				r.log.WithField("gid", cmd.Options.GID).WithError(err).Warnf("skipping %s: url did not resolve", cmd.URL)
				metrics.RestoredDownloadsTotal.WithLabelValues(string(domain.DownloadTypeHTTP), "unresolved").Inc()
				unresolved[cmd.Options.GID] = true
				res.Skipped++
				continue
			}
			cmd.URL = resolved
			cmd.Resolved = true
		}
		if err := bridge.Submit(ctx, cmd); err != nil {
			r.log.WithError(err).Errorf("submit %s failed", cmd.Type)
			break
		}
		if cmd.Type != CmdPause {
			res.Submitted++
		}
	}
	return res
}
