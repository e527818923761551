package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamwatch/internal/domain"
	"streamwatch/internal/repository"
)

func setupProgressRepo(t *testing.T) repository.WatchProgressRepository {
	t.Helper()

	db, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewWatchProgressRepository(db)
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func newProgress(userID int64, movieID, torrentID string) *domain.WatchProgress {
	duration := 3600.0
	return &domain.WatchProgress{
		ID:            uuid.New().String(),
		UserID:        userID,
		MovieID:       movieID,
		TorrentID:     torrentID,
		CurrentTime:   125,
		Duration:      &duration,
		Percentage:    domain.ProgressPercentage(125, duration),
		LastWatchedAt: time.Now().UTC(),
	}
}

func TestWatchProgressCreateAndLookup(t *testing.T) {
	repo := setupProgressRepo(t)
	ctx := context.Background()

	p := newProgress(1, "movie-1", "torrent-1")
	require.NoError(t, repo.Create(ctx, p))

	byMovie, err := repo.GetByUserAndMovie(ctx, 1, "movie-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byMovie.ID)
	assert.Equal(t, 125.0, byMovie.CurrentTime)
	require.NotNil(t, byMovie.Duration)
	assert.Equal(t, 3600.0, *byMovie.Duration)
	assert.False(t, byMovie.Completed)

	byTorrent, err := repo.GetByUserAndTorrent(ctx, 1, "torrent-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byTorrent.ID)
}

func TestWatchProgressNotFound(t *testing.T) {
	repo := setupProgressRepo(t)
	ctx := context.Background()

	_, err := repo.GetByUserAndMovie(ctx, 1, "nope")
	assert.ErrorIs(t, err, domain.ErrProgressNotFound)

	_, err = repo.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrProgressNotFound)

	err = repo.Update(ctx, newProgress(1, "m", "t"))
	assert.ErrorIs(t, err, domain.ErrProgressNotFound)

	err = repo.Delete(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrProgressNotFound)
}

func TestWatchProgressUpdate(t *testing.T) {
	repo := setupProgressRepo(t)
	ctx := context.Background()

	p := newProgress(1, "movie-1", "torrent-1")
	require.NoError(t, repo.Create(ctx, p))

	p.CurrentTime = 3590
	p.Percentage = domain.ProgressPercentage(p.CurrentTime, *p.Duration)
	p.Completed = p.Percentage > 98
	p.LastWatchedAt = time.Now().UTC()
	require.NoError(t, repo.Update(ctx, p))

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3590.0, got.CurrentTime)
	assert.True(t, got.Completed)
}

func TestWatchProgressUniquePerUserAndMovie(t *testing.T) {
	repo := setupProgressRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newProgress(1, "movie-1", "torrent-1")))
	err := repo.Create(ctx, newProgress(1, "movie-1", "torrent-2"))
	assert.Error(t, err)

	// same movie under a different user is fine
	require.NoError(t, repo.Create(ctx, newProgress(2, "movie-1", "torrent-1")))
}

func TestWatchProgressListRecent(t *testing.T) {
	repo := setupProgressRepo(t)
	ctx := context.Background()

	for i, movieID := range []string{"movie-a", "movie-b", "movie-c"} {
		p := newProgress(1, movieID, "torrent-"+movieID)
		p.LastWatchedAt = time.Now().UTC().Add(time.Duration(i) * time.Hour)
		require.NoError(t, repo.Create(ctx, p))
	}
	require.NoError(t, repo.Create(ctx, newProgress(2, "movie-a", "torrent-x")))

	recent, err := repo.ListRecent(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "movie-c", recent[0].MovieID)
	assert.Equal(t, "movie-b", recent[1].MovieID)
}
