package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/gosuri/uilive"

	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/service"
	"gosh-fetch/internal/uistate"
)

type trySubmitter interface {
	TrySubmit(cmd service.Command) error
}

// runConsole polls the bridge for fresh lists and redraws the view in place
// until ctx ends.
func runConsole(ctx context.Context, bridge trySubmitter, view *uistate.View, interval time.Duration) {
	writer := uilive.New()
	writer.RefreshInterval = interval
	writer.Start()
	defer writer.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastError string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// a full queue skips a frame
		_ = bridge.TrySubmit(service.Command{Type: service.CmdRefreshDownloads})
		_ = bridge.TrySubmit(service.Command{Type: service.CmdRefreshStats})

		if msg := view.TakeError(); msg != "" {
			lastError = msg
		}
		renderConsole(writer, view.Downloads(), view.Stats(), lastError)
	}
}

func renderConsole(w io.Writer, downloads []domain.DownloadRecord, stats domain.GlobalStats, lastError string) {
	fmt.Fprintf(w, "active %d  waiting %d  stopped %d  down %s  up %s\n",
		stats.NumActive, stats.NumWaiting, stats.NumStopped,
		domain.FormatSpeed(stats.DownloadSpeed), domain.FormatSpeed(stats.UploadSpeed))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GID\tNAME\tSTATE\tPROGRESS\tSPEED\tETA")
	for _, d := range downloads {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%5.1f%%\t%s\t%s\n",
			shortGID(d.GID),
			d.Name,
			d.State,
			domain.Progress(d.CompletedSize, d.TotalSize)*100,
			domain.FormatSpeed(d.DownloadSpeed),
			domain.FormatETA(d.TotalSize-d.CompletedSize, d.DownloadSpeed),
		)
	}
	tw.Flush()

	if lastError != "" {
		fmt.Fprintf(w, "last error: %s\n", lastError)
	}
}

func shortGID(gid string) string {
	if len(gid) > 8 {
		return gid[:8]
	}
	return gid
}
