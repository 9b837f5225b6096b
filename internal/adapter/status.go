package adapter

import (
	"context"
	"errors"
	"strings"

	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/engine"
)

// ConvertStatus maps an engine snapshot onto the record shape front-ends and
// the store use. The row id is left zero.
func ConvertStatus(st engine.Status) domain.DownloadRecord {
	rec := domain.DownloadRecord{
		GID:           string(st.ID),
		Name:          st.Metadata.Name,
		URL:           st.Metadata.URL,
		MagnetURI:     st.Metadata.MagnetURI,
		InfoHash:      st.Metadata.InfoHash,
		Type:          convertKind(st.Kind, st.Metadata.URL),
		State:         ConvertState(st.State.Kind),
		CompletedSize: st.Progress.CompletedSize,
		DownloadSpeed: st.Progress.DownloadSpeed,
		UploadSpeed:   st.Progress.UploadSpeed,
		SavePath:      st.Metadata.SaveDir,
		CreatedAt:     st.CreatedAt.UTC(),
		Connections:   st.Progress.Connections,
		Seeders:       st.Progress.Seeders,
	}
	if st.Progress.TotalSize != nil {
		rec.TotalSize = *st.Progress.TotalSize
	}
	if st.CompletedAt != nil {
		t := st.CompletedAt.UTC()
		rec.CompletedAt = &t
	}
	if st.State.Kind == engine.StateError {
		rec.ErrorMessage = st.State.Message
	}
	if st.TorrentInfo != nil {
		rec.SelectedFiles = []int{}
		for _, f := range st.TorrentInfo.Files {
			if f.Selected {
				rec.SelectedFiles = append(rec.SelectedFiles, f.Index)
			}
		}
	}
	return rec
}

// ConvertState collapses engine phases onto the record lifecycle.
func ConvertState(s engine.StateKind) domain.DownloadState {
	switch s {
	case engine.StateQueued:
		return domain.DownloadStateWaiting
	case engine.StateConnecting, engine.StateDownloading, engine.StateSeeding:
		return domain.DownloadStateActive
	case engine.StatePaused:
		return domain.DownloadStatePaused
	case engine.StateCompleted:
		return domain.DownloadStateComplete
	case engine.StateError:
		return domain.DownloadStateError
	default:
		return domain.DownloadStateWaiting
	}
}

func convertKind(k engine.Kind, url string) domain.DownloadType {
	switch k {
	case engine.KindTorrent:
		return domain.DownloadTypeTorrent
	case engine.KindMagnet:
		return domain.DownloadTypeMagnet
	}
	if strings.HasPrefix(strings.ToLower(url), "ftp://") {
		return domain.DownloadTypeFTP
	}
	return domain.DownloadTypeHTTP
}

func ConvertStats(s engine.Stats) domain.GlobalStats {
	return domain.GlobalStats{
		DownloadSpeed: s.DownloadSpeed,
		UploadSpeed:   s.UploadSpeed,
		NumActive:     s.NumActive,
		NumWaiting:    s.NumWaiting,
		NumStopped:    s.NumStopped,
	}
}

// FromEngineError maps engine failures onto the domain taxonomy. Errors that
// are already domain errors pass through unchanged.
func FromEngineError(err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	var ee *engine.Error
	if !errors.As(err, &ee) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return domain.Channel(err.Error())
		}
		return domain.EngineError("", err)
	}
	switch ee.Kind {
	case engine.ErrNotFound:
		return domain.NotFound(ee.Message)
	case engine.ErrInvalidInput:
		return domain.InvalidInput(ee.Field, ee.Message)
	case engine.ErrNetwork:
		return domain.Network(ee.Message, ee.Retryable, nil)
	case engine.ErrStorage:
		return domain.Database(ee.Message, nil)
	case engine.ErrShutdown:
		return domain.Channel(ee.Error())
	default:
		return domain.EngineError(ee.Message, nil)
	}
}
