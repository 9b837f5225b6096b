package uistate

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosh-fetch/internal/adapter"
	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/engine"
	"gosh-fetch/internal/engine/enginetest"
	"gosh-fetch/internal/repository/sqlite"
	"gosh-fetch/internal/service"
)

func rec(gid string, state domain.DownloadState, created time.Time) *domain.DownloadRecord {
	return &domain.DownloadRecord{GID: gid, Name: gid, State: state, CreatedAt: created}
}

func TestApply(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v := New()
	assert.False(t, v.Ready())

	v.Apply(service.Event{Type: service.EventEngineReady})
	v.Apply(service.Event{Type: service.EventDownloadAdded, GID: "a", Download: rec("a", domain.DownloadStateWaiting, base)})
	v.Apply(service.Event{Type: service.EventDownloadAdded, GID: "b", Download: rec("b", domain.DownloadStateWaiting, base.Add(time.Second))})
	v.Apply(service.Event{Type: service.EventDownloadUpdated, GID: "a", Download: rec("a", domain.DownloadStateActive, base)})
	v.Apply(service.Event{Type: service.EventDownloadFailed, GID: "b", Message: "boom"})
	v.Apply(service.Event{Type: service.EventDownloadFailed, GID: "unknown", Message: "ignored"})
	v.Apply(service.Event{Type: service.EventStatsUpdated, Stats: &domain.GlobalStats{NumActive: 1}})
	v.Apply(service.Event{Type: service.EventError, Message: "queue full"})

	assert.True(t, v.Ready())
	list := v.Downloads()
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].GID, "newest first")
	assert.Equal(t, domain.DownloadStateError, list[0].State)
	assert.Equal(t, "boom", list[0].ErrorMessage)
	assert.Equal(t, domain.DownloadStateActive, list[1].State)
	assert.Equal(t, 1, v.Stats().NumActive)
	assert.Equal(t, "queue full", v.TakeError())
	assert.Empty(t, v.TakeError())

	v.Apply(service.Event{Type: service.EventDownloadRemoved, GID: "a"})
	_, ok := v.Get("a")
	assert.False(t, ok)

	v.Apply(service.Event{Type: service.EventDownloadsList, Downloads: []domain.DownloadRecord{*rec("c", domain.DownloadStatePaused, base)}})
	list = v.Downloads()
	require.Len(t, list, 1)
	assert.Equal(t, "c", list[0].GID)
}

// Events lost to a full bridge channel are repaired by a full refresh.
func TestRefreshConvergesAfterDroppedEvents(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := sqlite.OpenStore(ctx, filepath.Join(t.TempDir(), "ui.db"))
	require.NoError(t, err)
	defer store.Close()

	eng := enginetest.New()
	a := adapter.New(eng, nil, afero.NewMemMapFs(), logger)
	bridge := service.NewBridge(a, store.Downloads, service.BridgeConfig{EventBuffer: 2, Logger: logger})
	errc := make(chan error, 1)
	go func() { errc <- bridge.Run(ctx) }()
	defer func() {
		cancel()
		<-errc
	}()

	v := New()
	drain := func() {
		for {
			select {
			case ev := <-bridge.Events():
				v.Apply(ev)
			default:
				return
			}
		}
	}

	var gids []string
	for i := 0; i < 6; i++ {
		reply := make(chan service.Result, 1)
		cmd := service.AddMagnet(fmt.Sprintf("magnet:?xt=urn:btih:%040d", i), domain.DownloadOptions{})
		cmd.Reply = reply
		require.NoError(t, bridge.Submit(ctx, cmd))
		res := <-reply
		require.NoError(t, res.Err)
		gids = append(gids, res.GID)
	}
	eng.SetState(engine.ID(gids[0]), engine.State{Kind: engine.StatePaused})
	drain()
	require.Less(t, len(v.Downloads()), len(gids), "events should have been dropped")

	reply := make(chan service.Result, 1)
	require.NoError(t, bridge.Submit(ctx, service.Command{Type: service.CmdRefreshDownloads, Reply: reply}))
	<-reply
	drain()

	got := v.Downloads()
	require.Len(t, got, len(gids))
	var seen []string
	for _, r := range got {
		seen = append(seen, r.GID)
	}
	assert.ElementsMatch(t, gids, seen)
	first, ok := v.Get(gids[0])
	require.True(t, ok)
	assert.Equal(t, domain.DownloadStatePaused, first.State)
}
