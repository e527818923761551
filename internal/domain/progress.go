package domain

import "time"

// WatchProgress is the durable record of a user's playback position for one
// piece of media. One record exists per (user, movie); lookups also run by
// (user, torrent). Percentage and Completed are always derived from
// CurrentTime/Duration at write time, never trusted from callers.
type WatchProgress struct {
	ID            string
	UserID        int64
	MovieID       string
	TorrentID     string
	CurrentTime   float64
	Duration      *float64
	Percentage    float64
	Completed     bool
	LastWatchedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProgressPercentage derives the watched percentage from a position and a
// duration, clamped to [0, 100]. Unknown or non-positive durations yield 0.
func ProgressPercentage(currentTime, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	pct := currentTime / duration * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
