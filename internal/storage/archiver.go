package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/metrics"
	"gosh-fetch/internal/service"
)

type ArchiverConfig struct {
	KeyPrefix string
	Fs        afero.Fs
	Logger    *logrus.Logger
	// ProgressInterval throttles upload progress log lines.
	ProgressInterval time.Duration
}

// Archiver uploads each completed download to object storage under
// <key prefix>/<gid>/. It runs off the bridge loop as a hub subscriber.
type Archiver struct {
	svc      Service
	prefix   string
	fs       afero.Fs
	log      *logrus.Entry
	interval time.Duration
}

func NewArchiver(svc Service, cfg ArchiverConfig) *Archiver {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 5 * time.Second
	}
	return &Archiver{
		svc:      svc,
		prefix:   strings.Trim(cfg.KeyPrefix, "/"),
		fs:       cfg.Fs,
		log:      cfg.Logger.WithField("component", "archiver"),
		interval: cfg.ProgressInterval,
	}
}

// Run archives completed downloads from events until the stream closes or
// ctx ends. Upload failures are logged and counted; the download itself is
// unaffected.
func (a *Archiver) Run(ctx context.Context, events <-chan service.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != service.EventDownloadCompleted || ev.Download == nil {
				continue
			}
			location, err := a.Archive(ctx, *ev.Download)
			if err != nil {
				metrics.ArchiveUploadsTotal.WithLabelValues("error").Inc()
				a.log.WithField("gid", ev.GID).WithError(err).Error("archive failed")
				continue
			}
			metrics.ArchiveUploadsTotal.WithLabelValues("ok").Inc()
			a.log.WithField("gid", ev.GID).Infof("archived to %s", location)
		}
	}
}

// KeyPrefix is where the objects of gid live.
func (a *Archiver) KeyPrefix(gid string) string {
	if a.prefix == "" {
		return gid + "/"
	}
	return a.prefix + "/" + gid + "/"
}

// Archive uploads the file or directory rec points at and returns the key
// prefix it was written under.
func (a *Archiver) Archive(ctx context.Context, rec domain.DownloadRecord) (string, error) {
	if rec.Name == "" {
		return "", fmt.Errorf("download %s has no name", rec.GID)
	}
	root := filepath.Join(rec.SavePath, rec.Name)

	type uploadFile struct {
		path string
		rel  string
		size int64
	}

	var files []uploadFile
	err := afero.Walk(a.fs, root, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(filepath.Dir(root), p)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", p, err)
		}
		files = append(files, uploadFile{path: p, rel: filepath.ToSlash(rel), size: info.Size()})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk %s: %w", root, err)
	}

	var totalSize int64
	for _, file := range files {
		totalSize += file.size
	}

	log := a.log.WithField("gid", rec.GID)
	progress := newProgressReporter(totalSize, a.interval, func(done, total int64) {
		log.Infof("archive upload %s / %s (%.1f%%)", domain.FormatBytes(done), domain.FormatBytes(total), domain.Progress(done, total)*100)
	})

	prefix := a.KeyPrefix(rec.GID)
	for _, file := range files {
		f, err := a.fs.Open(file.path)
		if err != nil {
			return "", fmt.Errorf("open file %s: %w", file.path, err)
		}
		err = a.svc.Upload(ctx, path.Join(prefix, file.rel), io.TeeReader(f, progress))
		closeErr := f.Close()
		if err != nil {
			return "", err
		}
		if closeErr != nil {
			return "", fmt.Errorf("close file %s: %w", file.path, closeErr)
		}
	}
	progress.flush()

	return prefix, nil
}

type progressReporter struct {
	total    int64
	done     int64
	every    time.Duration
	cb       func(done, total int64)
	mu       sync.Mutex
	lastFire time.Time
}

func newProgressReporter(total int64, every time.Duration, cb func(done, total int64)) *progressReporter {
	return &progressReporter{
		total:    total,
		every:    every,
		cb:       cb,
		lastFire: time.Now(),
	}
}

func (p *progressReporter) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done += int64(len(b))
	if now := time.Now(); now.Sub(p.lastFire) >= p.every {
		p.lastFire = now
		p.cb(p.done, p.total)
	}

	return len(b), nil
}

func (p *progressReporter) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb(p.done, p.total)
}
