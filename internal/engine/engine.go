// Package engine defines the read-only boundary to the download engine. The
// coordinator never reaches past it: everything it knows about a download
// comes from point-in-time snapshots fetched through a Client.
package engine

import (
	"context"

	"streamwatch/internal/domain"
)

// Client is the coordinator's view of a download engine.
type Client interface {
	// Status fetches a snapshot of the download's state and progress.
	// Returns domain.ErrDownloadNotFound when the engine does not know id.
	Status(ctx context.Context, id string) (*domain.DownloadStatus, error)
	// StreamingInfo fetches the media-file view of the download. Returns
	// domain.ErrStreamingNotReady while no streamable file is indexed.
	StreamingInfo(ctx context.Context, id string) (*domain.StreamingInfo, error)
	// StreamURL derives the playable URL for a download. Quality is passed
	// through untouched; engines that cannot honor it ignore it.
	StreamURL(id, quality string) string
	// PrioritizeStreaming asks the engine to favor the streamed file. Called
	// once, fire-and-forget, when a playback session begins.
	PrioritizeStreaming(ctx context.Context, id string) error
}
