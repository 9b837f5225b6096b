package main

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/service"
	"gosh-fetch/internal/uistate"
)

func TestRenderConsole(t *testing.T) {
	var buf bytes.Buffer
	renderConsole(&buf, []domain.DownloadRecord{
		{
			GID:           "2089b05ecca3d829",
			Name:          "ubuntu.iso",
			State:         domain.DownloadStateActive,
			TotalSize:     4 << 20,
			CompletedSize: 1 << 20,
			DownloadSpeed: 1 << 20,
		},
		{GID: "abc", Name: "notes.txt", State: domain.DownloadStatePaused},
	}, domain.GlobalStats{NumActive: 1, NumStopped: 1, DownloadSpeed: 1 << 20}, "boom")

	out := buf.String()
	assert.Contains(t, out, "active 1  waiting 0  stopped 1")
	assert.Contains(t, out, "2089b05e ")
	assert.NotContains(t, out, "2089b05ecca3")
	assert.Contains(t, out, "ubuntu.iso")
	assert.Contains(t, out, " 25.0%")
	assert.Contains(t, out, "notes.txt")
	assert.Contains(t, out, "last error: boom")
}

type countingSubmitter struct {
	mu    sync.Mutex
	types []service.CommandType
}

func (c *countingSubmitter) TrySubmit(cmd service.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types = append(c.types, cmd.Type)
	return nil
}

func (c *countingSubmitter) seen() []service.CommandType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]service.CommandType(nil), c.types...)
}

func TestRunConsolePollsBridge(t *testing.T) {
	sub := &countingSubmitter{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runConsole(ctx, sub, uistate.New(), 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(sub.seen()) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	seen := sub.seen()
	assert.Equal(t, service.CmdRefreshDownloads, seen[0])
	assert.Equal(t, service.CmdRefreshStats, seen[1])
}
