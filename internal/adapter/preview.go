package adapter

import (
	"bytes"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"

	"gosh-fetch/internal/domain"
)

// ParseTorrent decodes .torrent bytes for an add dialog without adding them.
func ParseTorrent(data []byte) (domain.TorrentInfo, error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return domain.TorrentInfo{}, domain.InvalidInput("torrent", "invalid torrent file: "+err.Error())
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return domain.TorrentInfo{}, domain.InvalidInput("torrent", "invalid torrent info: "+err.Error())
	}

	out := domain.TorrentInfo{
		Name:         info.BestName(),
		InfoHash:     mi.HashInfoBytes().HexString(),
		TotalSize:    info.TotalLength(),
		Comment:      mi.Comment,
		AnnounceList: []string{},
	}
	if mi.CreationDate > 0 {
		t := time.Unix(mi.CreationDate, 0).UTC()
		out.CreationDate = &t
	}
	for i, f := range info.UpvertedFiles() {
		out.Files = append(out.Files, domain.TorrentFileEntry{
			Index:  i,
			Path:   f.DisplayPath(&info),
			Length: f.Length,
		})
	}

	seen := map[string]struct{}{}
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out.AnnounceList = append(out.AnnounceList, u)
	}
	add(mi.Announce)
	for _, tier := range mi.AnnounceList {
		for _, u := range tier {
			add(u)
		}
	}
	return out, nil
}

// ParseMagnet decodes a magnet URI for an add dialog.
func ParseMagnet(uri string) (domain.MagnetInfo, error) {
	uri = strings.TrimSpace(uri)
	if !strings.HasPrefix(strings.ToLower(uri), "magnet:") {
		return domain.MagnetInfo{}, domain.InvalidInput("magnet", "not a magnet link")
	}
	m, err := metainfo.ParseMagnetUri(uri)
	if err != nil {
		return domain.MagnetInfo{}, domain.InvalidInput("magnet", "invalid magnet link: "+err.Error())
	}
	trackers := m.Trackers
	if trackers == nil {
		trackers = []string{}
	}
	return domain.MagnetInfo{
		Name:     m.DisplayName,
		InfoHash: m.InfoHash.HexString(),
		Trackers: trackers,
	}, nil
}
