package domain

import "time"

// DownloadState mirrors the download engine's lifecycle states.
type DownloadState string

const (
	DownloadStateMetadata DownloadState = "downloading_metadata"
	DownloadStateActive   DownloadState = "downloading"
	DownloadStatePaused   DownloadState = "paused"
	DownloadStateStopped  DownloadState = "stopped"
	DownloadStateFinished DownloadState = "finished"
	DownloadStateSeeding  DownloadState = "seeding"
	DownloadStateError    DownloadState = "error"
)

// DownloadStatus is a point-in-time snapshot of a download reported by the
// engine. Consumers re-fetch it every poll cycle and never cache it longer.
type DownloadStatus struct {
	ID           string
	State        DownloadState
	Progress     float64
	DownloadRate int64
	NumPeers     int
	ETASeconds   *int64
	ErrorMessage string
}

// VideoFile describes the primary media file inside a download.
type VideoFile struct {
	Name       string
	Size       int64
	Downloaded int64
	Progress   float64
	MimeType   string
}

// StreamingInfo is the engine's view of a download once enough metadata is
// known to stream it. A nil StreamingInfo means "not yet streamable".
type StreamingInfo struct {
	State     DownloadState
	Progress  float64
	VideoFile *VideoFile
}

// Download is the durable registry record for a download the embedded engine
// manages, keyed by info hash. Live progress lives in DownloadStatus, never here.
type Download struct {
	ID              string
	MagnetURI       string
	Name            string
	Paused          bool
	AddedAt         time.Time
	UpdatedAt       time.Time
	ArchivedAt      *time.Time
	ArchiveLocation string
}
