package repository

import (
	"context"

	"streamwatch/internal/domain"
)

// WatchProgressRepository exposes persistence operations for WatchProgress
// records. Lookups that find nothing return domain.ErrProgressNotFound.
type WatchProgressRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, p *domain.WatchProgress) error
	Update(ctx context.Context, p *domain.WatchProgress) error
	GetByID(ctx context.Context, id string) (*domain.WatchProgress, error)
	GetByUserAndMovie(ctx context.Context, userID int64, movieID string) (*domain.WatchProgress, error)
	GetByUserAndTorrent(ctx context.Context, userID int64, torrentID string) (*domain.WatchProgress, error)
	ListRecent(ctx context.Context, userID int64, limit int) ([]domain.WatchProgress, error)
	Delete(ctx context.Context, id string) error
}
