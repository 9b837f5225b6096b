// Package trackers keeps the stored BitTorrent tracker list fresh.
package trackers

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/metrics"
	"gosh-fetch/internal/repository"
)

const (
	DefaultListURL = "https://raw.githubusercontent.com/ngosang/trackerslist/master/trackers_best.txt"

	// StaleAfter is how old the stored list may get before an automatic
	// refresh fetches it again.
	StaleAfter = 24 * time.Hour

	maxListBytes = 4 << 20
)

type Config struct {
	URL           string
	CheckInterval time.Duration
	Client        *http.Client
	Logger        *logrus.Logger
	Now           func() time.Time

	// OnUpdate is called with the new list after every successful replace.
	OnUpdate func(ctx context.Context, trackers []string)
}

type Updater struct {
	cfg  Config
	repo repository.TrackerRepository
	log  *logrus.Entry
}

func NewUpdater(cfg Config, repo repository.TrackerRepository) *Updater {
	if cfg.URL == "" {
		cfg.URL = DefaultListURL
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Hour
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Updater{
		cfg:  cfg,
		repo: repo,
		log:  cfg.Logger.WithField("component", "trackers"),
	}
}

// NeedsUpdate reports whether the stored list has never been fetched or is
// at least StaleAfter old.
func (u *Updater) NeedsUpdate(ctx context.Context) (bool, error) {
	last, err := u.repo.GetLastUpdated(ctx)
	if err != nil {
		return false, err
	}
	if last == nil {
		return true, nil
	}
	return u.cfg.Now().Sub(*last) >= StaleAfter, nil
}

// Fetch downloads and parses the remote list without storing it.
func (u *Updater) Fetch(ctx context.Context) ([]string, error) {
	u.log.Infof("fetching tracker list from %s", u.cfg.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.cfg.URL, nil)
	if err != nil {
		return nil, domain.InvalidInput("url", err.Error())
	}
	resp, err := u.cfg.Client.Do(req)
	if err != nil {
		return nil, domain.Network("failed to fetch trackers", true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.Network(fmt.Sprintf("failed to fetch trackers: HTTP %d", resp.StatusCode), resp.StatusCode >= 500, nil)
	}

	list, err := ParseList(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return nil, domain.Network("failed to read response", true, err)
	}
	u.log.Infof("fetched %d trackers", len(list))
	return list, nil
}

// Update fetches the list and replaces the stored set. On any failure the
// previous list stays in place.
func (u *Updater) Update(ctx context.Context) ([]string, error) {
	list, err := u.Fetch(ctx)
	if err != nil {
		metrics.TrackerUpdatesTotal.WithLabelValues("fetch_error").Inc()
		return nil, err
	}
	if err := u.repo.ReplaceAll(ctx, list); err != nil {
		metrics.TrackerUpdatesTotal.WithLabelValues("store_error").Inc()
		return nil, fmt.Errorf("save trackers: %w", err)
	}
	metrics.TrackerUpdatesTotal.WithLabelValues("ok").Inc()
	metrics.TrackersStored.Set(float64(len(list)))

	if u.cfg.OnUpdate != nil {
		u.cfg.OnUpdate(ctx, list)
	}
	return list, nil
}

// UpdateIfStale refreshes only when NeedsUpdate says so. It returns true when
// a refresh happened.
func (u *Updater) UpdateIfStale(ctx context.Context) (bool, error) {
	stale, err := u.NeedsUpdate(ctx)
	if err != nil {
		return false, err
	}
	if !stale {
		return false, nil
	}
	if _, err := u.Update(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Run checks staleness immediately and then every CheckInterval until ctx is
// done. Failures are logged and retried on the next tick.
func (u *Updater) Run(ctx context.Context) {
	ticker := time.NewTicker(u.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		if _, err := u.UpdateIfStale(ctx); err != nil && ctx.Err() == nil {
			u.log.WithError(err).Warn("tracker refresh failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ParseList reads one tracker per non-empty line, trimming whitespace and
// dropping duplicates while keeping first-seen order.
func ParseList(r io.Reader) ([]string, error) {
	seen := map[string]struct{}{}
	list := []string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		list = append(list, line)
	}
	return list, scanner.Err()
}
