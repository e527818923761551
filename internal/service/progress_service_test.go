package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamwatch/internal/domain"
	"streamwatch/internal/repository/sqlite"
)

func setupProgressService(t *testing.T) ProgressService {
	t.Helper()

	db, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewWatchProgressRepository(db)
	require.NoError(t, repo.Init(context.Background()))
	return NewProgressService(repo, 0, 0)
}

func ptr(f float64) *float64 { return &f }

func TestRecordCreatesThenUpdatesInPlace(t *testing.T) {
	svc := setupProgressService(t)
	ctx := context.Background()

	first, err := svc.Record(ctx, 1, "", ProgressSample{
		MovieID:     "movie-1",
		TorrentID:   "torrent-1",
		CurrentTime: 125,
		Duration:    ptr(3600),
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	assert.InDelta(t, 3.47, first.Percentage, 0.01)
	assert.False(t, first.Completed)

	second, err := svc.Record(ctx, 1, first.ID, ProgressSample{
		MovieID:     "movie-1",
		TorrentID:   "torrent-1",
		CurrentTime: 900,
		Duration:    ptr(3600),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 900.0, second.CurrentTime)
	assert.InDelta(t, 25.0, second.Percentage, 0.01)

	recent, err := svc.Recent(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestRecordWithoutKnownIDFindsExistingMovie(t *testing.T) {
	svc := setupProgressService(t)
	ctx := context.Background()

	first, err := svc.Record(ctx, 1, "", ProgressSample{MovieID: "movie-1", CurrentTime: 100, Duration: ptr(3600)})
	require.NoError(t, err)

	second, err := svc.Record(ctx, 1, "", ProgressSample{MovieID: "movie-1", CurrentTime: 200, Duration: ptr(3600)})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 200.0, second.CurrentTime)
}

func TestRecordStaleIDRecreates(t *testing.T) {
	svc := setupProgressService(t)
	ctx := context.Background()

	got, err := svc.Record(ctx, 1, "gone-id", ProgressSample{MovieID: "movie-1", CurrentTime: 100, Duration: ptr(3600)})
	require.NoError(t, err)
	assert.NotEqual(t, "gone-id", got.ID)
	assert.Equal(t, 100.0, got.CurrentTime)
}

func TestRecordEndedForcesExactCompletion(t *testing.T) {
	svc := setupProgressService(t)
	ctx := context.Background()

	got, err := svc.Record(ctx, 1, "", ProgressSample{
		MovieID:     "movie-1",
		CurrentTime: 3400,
		Duration:    ptr(3600),
		Ended:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3600.0, got.CurrentTime)
	assert.Equal(t, 100.0, got.Percentage)
	assert.True(t, got.Completed)
}

func TestRecordCompletionFollowsPercentageNotWallClock(t *testing.T) {
	svc := setupProgressService(t)
	ctx := context.Background()

	// 98% exactly is not completed, the threshold is strict
	at98, err := svc.Record(ctx, 1, "", ProgressSample{MovieID: "m1", CurrentTime: 3528, Duration: ptr(3600)})
	require.NoError(t, err)
	assert.False(t, at98.Completed)

	over98, err := svc.Record(ctx, 1, "", ProgressSample{MovieID: "m2", CurrentTime: 3570, Duration: ptr(3600)})
	require.NoError(t, err)
	assert.True(t, over98.Completed)
}

func TestShouldOfferResumeBoundaries(t *testing.T) {
	svc := setupProgressService(t)

	assert.False(t, svc.ShouldOfferResume(nil))
	assert.False(t, svc.ShouldOfferResume(&domain.WatchProgress{CurrentTime: 30, Percentage: 10}))
	assert.True(t, svc.ShouldOfferResume(&domain.WatchProgress{CurrentTime: 31, Percentage: 10}))
	assert.True(t, svc.ShouldOfferResume(&domain.WatchProgress{CurrentTime: 125, Percentage: 3.5}))
	assert.False(t, svc.ShouldOfferResume(&domain.WatchProgress{CurrentTime: 3570, Percentage: 99.2}))
	assert.False(t, svc.ShouldOfferResume(&domain.WatchProgress{CurrentTime: 3528, Percentage: 98}))
}

func TestLookupForPlaybackPrefersTorrentBinding(t *testing.T) {
	svc := setupProgressService(t)
	ctx := context.Background()

	byTorrent, err := svc.Record(ctx, 1, "", ProgressSample{MovieID: "movie-a", TorrentID: "torrent-1", CurrentTime: 100, Duration: ptr(3600)})
	require.NoError(t, err)
	_, err = svc.Record(ctx, 1, "", ProgressSample{MovieID: "movie-b", CurrentTime: 50, Duration: ptr(3600)})
	require.NoError(t, err)

	got, err := svc.LookupForPlayback(ctx, 1, "torrent-1", "movie-b")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, byTorrent.ID, got.ID)

	// falls back to the movie key when the torrent is unknown
	got, err = svc.LookupForPlayback(ctx, 1, "torrent-unknown", "movie-b")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "movie-b", got.MovieID)

	got, err = svc.LookupForPlayback(ctx, 1, "torrent-unknown", "movie-unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteScopedToOwner(t *testing.T) {
	svc := setupProgressService(t)
	ctx := context.Background()

	p, err := svc.Record(ctx, 1, "", ProgressSample{MovieID: "movie-1", CurrentTime: 100, Duration: ptr(3600)})
	require.NoError(t, err)

	err = svc.Delete(ctx, 2, p.ID)
	assert.ErrorIs(t, err, domain.ErrProgressNotFound)

	require.NoError(t, svc.Delete(ctx, 1, p.ID))
	_, err = svc.GetByMovie(ctx, 1, "movie-1")
	assert.ErrorIs(t, err, domain.ErrProgressNotFound)
}
