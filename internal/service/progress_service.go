package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"streamwatch/internal/domain"
	"streamwatch/internal/repository"
)

const (
	// DefaultResumeMinSeconds is the stored position below which playback
	// simply restarts from the beginning instead of offering a resume.
	DefaultResumeMinSeconds = 30.0
	// DefaultCompletedPercent is the watched percentage beyond which a title
	// counts as finished and no resume is offered.
	DefaultCompletedPercent = 98.0
)

// ProgressSample is one playback position observation to persist. Ended marks
// the exact-complete save taken when playback reaches the end of the media.
type ProgressSample struct {
	MovieID     string
	TorrentID   string
	CurrentTime float64
	Duration    *float64
	Ended       bool
}

// ProgressService owns the store semantics for watch progress: derived fields
// are recomputed here on every write, records are created on the first
// qualifying save and updated in place afterwards.
type ProgressService interface {
	// Record persists a sample for the user. progressID is the record to
	// update when known; when empty (or stale) the record is looked up by
	// movie and created if absent.
	Record(ctx context.Context, userID int64, progressID string, sample ProgressSample) (*domain.WatchProgress, error)
	// LookupForPlayback finds the record to resume from, preferring the
	// torrent binding over the movie one. Returns (nil, nil) when the user
	// has no history for either key.
	LookupForPlayback(ctx context.Context, userID int64, torrentID, movieID string) (*domain.WatchProgress, error)
	GetByMovie(ctx context.Context, userID int64, movieID string) (*domain.WatchProgress, error)
	GetByTorrent(ctx context.Context, userID int64, torrentID string) (*domain.WatchProgress, error)
	Recent(ctx context.Context, userID int64, limit int) ([]domain.WatchProgress, error)
	Delete(ctx context.Context, userID int64, id string) error
	// ShouldOfferResume reports whether stored progress warrants a resume
	// prompt: far enough in to matter, not close enough to the end to be done.
	ShouldOfferResume(p *domain.WatchProgress) bool
}

type progressService struct {
	progress         repository.WatchProgressRepository
	resumeMinSeconds float64
	completedPercent float64
}

func NewProgressService(progress repository.WatchProgressRepository, resumeMinSeconds, completedPercent float64) ProgressService {
	if resumeMinSeconds <= 0 {
		resumeMinSeconds = DefaultResumeMinSeconds
	}
	if completedPercent <= 0 {
		completedPercent = DefaultCompletedPercent
	}
	return &progressService{
		progress:         progress,
		resumeMinSeconds: resumeMinSeconds,
		completedPercent: completedPercent,
	}
}

func (s *progressService) Record(ctx context.Context, userID int64, progressID string, sample ProgressSample) (*domain.WatchProgress, error) {
	if sample.MovieID == "" {
		return nil, errors.New("movie id is required")
	}
	if sample.CurrentTime < 0 {
		sample.CurrentTime = 0
	}

	if progressID != "" {
		existing, err := s.progress.GetByID(ctx, progressID)
		switch {
		case err == nil:
			if existing.UserID != userID {
				return nil, domain.ErrProgressNotFound
			}
			s.apply(existing, sample)
			if err := s.progress.Update(ctx, existing); err != nil {
				return nil, err
			}
			return existing, nil
		case errors.Is(err, domain.ErrProgressNotFound):
			// record deleted underneath us, fall through and recreate
		default:
			return nil, err
		}
	}

	existing, err := s.progress.GetByUserAndMovie(ctx, userID, sample.MovieID)
	switch {
	case err == nil:
		s.apply(existing, sample)
		if err := s.progress.Update(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	case errors.Is(err, domain.ErrProgressNotFound):
	default:
		return nil, err
	}

	fresh := &domain.WatchProgress{
		ID:      uuid.New().String(),
		UserID:  userID,
		MovieID: sample.MovieID,
	}
	s.apply(fresh, sample)
	if err := s.progress.Create(ctx, fresh); err == nil {
		return fresh, nil
	} else if !isUniqueViolation(err) {
		return nil, err
	}

	// lost the create race, last write wins on the existing row
	existing, err = s.progress.GetByUserAndMovie(ctx, userID, sample.MovieID)
	if err != nil {
		return nil, err
	}
	s.apply(existing, sample)
	if err := s.progress.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// apply folds a sample into a record, recomputing every derived field so a
// stored percentage can never drift from its current time and duration.
func (s *progressService) apply(p *domain.WatchProgress, sample ProgressSample) {
	if sample.TorrentID != "" {
		p.TorrentID = sample.TorrentID
	}
	if sample.Duration != nil && *sample.Duration > 0 {
		d := *sample.Duration
		p.Duration = &d
	}

	p.CurrentTime = sample.CurrentTime
	if sample.Ended {
		if p.Duration != nil {
			p.CurrentTime = *p.Duration
		}
		p.Percentage = 100
		p.Completed = true
	} else {
		var duration float64
		if p.Duration != nil {
			duration = *p.Duration
		}
		p.Percentage = domain.ProgressPercentage(p.CurrentTime, duration)
		p.Completed = p.Percentage > s.completedPercent
	}
	p.LastWatchedAt = time.Now().UTC()
}

func (s *progressService) LookupForPlayback(ctx context.Context, userID int64, torrentID, movieID string) (*domain.WatchProgress, error) {
	if torrentID != "" {
		p, err := s.progress.GetByUserAndTorrent(ctx, userID, torrentID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, domain.ErrProgressNotFound) {
			return nil, err
		}
	}
	if movieID != "" {
		p, err := s.progress.GetByUserAndMovie(ctx, userID, movieID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, domain.ErrProgressNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func (s *progressService) GetByMovie(ctx context.Context, userID int64, movieID string) (*domain.WatchProgress, error) {
	return s.progress.GetByUserAndMovie(ctx, userID, movieID)
}

func (s *progressService) GetByTorrent(ctx context.Context, userID int64, torrentID string) (*domain.WatchProgress, error) {
	return s.progress.GetByUserAndTorrent(ctx, userID, torrentID)
}

func (s *progressService) Recent(ctx context.Context, userID int64, limit int) ([]domain.WatchProgress, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.progress.ListRecent(ctx, userID, limit)
}

func (s *progressService) Delete(ctx context.Context, userID int64, id string) error {
	p, err := s.progress.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p.UserID != userID {
		return domain.ErrProgressNotFound
	}
	return s.progress.Delete(ctx, id)
}

func (s *progressService) ShouldOfferResume(p *domain.WatchProgress) bool {
	if p == nil {
		return false
	}
	return p.CurrentTime > s.resumeMinSeconds && p.Percentage < s.completedPercent
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
