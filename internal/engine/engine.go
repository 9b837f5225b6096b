// Package engine describes the transfer engine the integration layer drives.
// The engine owns all transfer mechanics; callers only see the command and
// status shapes declared here.
package engine

import (
	"context"
	"time"
)

// ID identifies a transfer inside the engine. It is a UUID string.
type ID string

// Kind is the engine-side transfer kind.
type Kind int

const (
	KindHTTP Kind = iota
	KindTorrent
	KindMagnet
)

func (k Kind) String() string {
	switch k {
	case KindTorrent:
		return "torrent"
	case KindMagnet:
		return "magnet"
	default:
		return "http"
	}
}

// StateKind is the engine-side lifecycle phase.
type StateKind int

const (
	StateQueued StateKind = iota
	StateConnecting
	StateDownloading
	StateSeeding
	StatePaused
	StateCompleted
	StateError
)

func (s StateKind) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateConnecting:
		return "connecting"
	case StateDownloading:
		return "downloading"
	case StateSeeding:
		return "seeding"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// State is a lifecycle phase plus the terminal error detail when Kind is
// StateError.
type State struct {
	Kind      StateKind
	Message   string
	Retryable bool
}

// Progress holds live transfer counters. TotalSize is nil until known.
type Progress struct {
	TotalSize     *int64
	CompletedSize int64
	DownloadSpeed int64
	UploadSpeed   int64
	Connections   int
	Seeders       int
}

// Metadata describes what is being transferred and where it lands.
type Metadata struct {
	Name      string
	URL       string
	MagnetURI string
	InfoHash  string
	SaveDir   string
}

// TorrentFile is one file inside a torrent transfer.
type TorrentFile struct {
	Index     int
	Path      string
	Size      int64
	Completed int64
	Selected  bool
}

// TorrentInfo is available once a torrent's metadata has been fetched.
type TorrentInfo struct {
	Name  string
	Files []TorrentFile
}

// PeerInfo is one connected peer of a torrent transfer.
type PeerInfo struct {
	IP            string
	Port          int
	Client        string
	DownloadSpeed int64
	UploadSpeed   int64
}

// Status is a point-in-time snapshot of one transfer.
type Status struct {
	ID          ID
	Kind        Kind
	State       State
	Progress    Progress
	Metadata    Metadata
	TorrentInfo *TorrentInfo
	Peers       []PeerInfo
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Stats aggregates the whole engine.
type Stats struct {
	DownloadSpeed int64
	UploadSpeed   int64
	NumActive     int
	NumWaiting    int
	NumStopped    int
}

// Engine is the command/status contract of the transfer engine. All methods
// are safe for concurrent use.
type Engine interface {
	AddHTTP(ctx context.Context, url string, opts Options) (ID, error)
	AddMagnet(ctx context.Context, uri string, opts Options) (ID, error)
	AddTorrent(ctx context.Context, data []byte, opts Options) (ID, error)
	Pause(ctx context.Context, id ID) error
	Resume(ctx context.Context, id ID) error
	Cancel(ctx context.Context, id ID, deleteFiles bool) error

	Status(id ID) (Status, bool)
	List() []Status
	Active() []Status
	Stopped() []Status
	GlobalStats() Stats

	Config() Config
	SetConfig(cfg Config) error

	// Subscribe returns a stream of engine events and a function that ends
	// the subscription. Events are delivered in emission order.
	Subscribe() (<-chan Event, func())
	Close() error
}
