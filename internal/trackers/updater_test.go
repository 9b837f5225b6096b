package trackers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosh-fetch/internal/domain"
)

type memRepo struct {
	list       []string
	last       *time.Time
	replaceErr error
}

func (m *memRepo) Init(context.Context) error { return nil }

func (m *memRepo) GetEnabled(context.Context) ([]string, error) { return m.list, nil }

func (m *memRepo) ReplaceAll(_ context.Context, trackers []string) error {
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.list = append([]string(nil), trackers...)
	now := time.Now().UTC()
	m.last = &now
	return nil
}

func (m *memRepo) GetLastUpdated(context.Context) (*time.Time, error) { return m.last, nil }

func TestParseList(t *testing.T) {
	in := "udp://a.example:1337/announce\n\n  http://b.example/announce  \r\nudp://a.example:1337/announce\n"
	list, err := ParseList(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"udp://a.example:1337/announce", "http://b.example/announce"}, list)
}

func TestNeedsUpdate(t *testing.T) {
	now := time.Date(2024, 2, 2, 12, 0, 0, 0, time.UTC)
	repo := &memRepo{}
	u := NewUpdater(Config{Now: func() time.Time { return now }}, repo)

	stale, err := u.NeedsUpdate(context.Background())
	require.NoError(t, err)
	assert.True(t, stale, "never fetched")

	recent := now.Add(-23 * time.Hour)
	repo.last = &recent
	stale, err = u.NeedsUpdate(context.Background())
	require.NoError(t, err)
	assert.False(t, stale)

	old := now.Add(-24 * time.Hour)
	repo.last = &old
	stale, err = u.NeedsUpdate(context.Background())
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestUpdateReplacesStoredList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		fmt.Fprint(w, "udp://one.example:80/announce\n\nudp://two.example:80/announce\n")
	}))
	defer srv.Close()

	repo := &memRepo{list: []string{"udp://old.example:1/announce"}}
	var notified []string
	u := NewUpdater(Config{
		URL:      srv.URL,
		OnUpdate: func(_ context.Context, list []string) { notified = list },
	}, repo)

	list, err := u.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"udp://one.example:80/announce", "udp://two.example:80/announce"}, list)
	assert.Equal(t, list, repo.list)
	assert.Equal(t, list, notified)
	assert.NotNil(t, repo.last)

	refreshed, err := u.UpdateIfStale(context.Background())
	require.NoError(t, err)
	assert.False(t, refreshed, "just updated")
}

func TestUpdateKeepsOldListOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	repo := &memRepo{list: []string{"udp://old.example:1/announce"}}
	u := NewUpdater(Config{URL: srv.URL}, repo)

	_, err := u.Update(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNetwork))
	assert.Contains(t, err.Error(), "HTTP 503")
	assert.Equal(t, []string{"udp://old.example:1/announce"}, repo.list)
}

func TestUpdateSurfacesStoreFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "udp://one.example:80/announce")
	}))
	defer srv.Close()

	repo := &memRepo{replaceErr: domain.Database("insert tracker", errors.New("disk full"))}
	u := NewUpdater(Config{URL: srv.URL}, repo)

	_, err := u.Update(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDatabase))
}
