package repository

import (
	"context"
	"time"

	"streamwatch/internal/domain"
)

// DownloadRepository tracks every download the engine was asked to fetch, so
// active torrents can be re-added after a restart and archived ones keep their
// object store location. Lookups that find nothing return
// domain.ErrDownloadNotFound.
type DownloadRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, d *domain.Download) error
	SetName(ctx context.Context, id, name string) error
	SetPaused(ctx context.Context, id string, paused bool) error
	MarkArchived(ctx context.Context, id, location string, archivedAt time.Time) error
	Get(ctx context.Context, id string) (*domain.Download, error)
	List(ctx context.Context) ([]domain.Download, error)
	Delete(ctx context.Context, id string) error
}
