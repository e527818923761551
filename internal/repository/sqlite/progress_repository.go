package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"streamwatch/internal/domain"
	"streamwatch/internal/repository"
)

// current_time is a reserved word in sqlite, hence the _secs suffixes.
const createWatchProgressTable = `
CREATE TABLE IF NOT EXISTS watch_progress (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL,
	movie_id TEXT NOT NULL,
	torrent_id TEXT NOT NULL DEFAULT '',
	current_time_secs REAL NOT NULL DEFAULT 0,
	duration_secs REAL NULL,
	percentage REAL NOT NULL DEFAULT 0,
	completed INTEGER NOT NULL DEFAULT 0,
	last_watched_at DATETIME NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE (user_id, movie_id)
);
CREATE INDEX IF NOT EXISTS idx_watch_progress_user_torrent
	ON watch_progress (user_id, torrent_id);
`

type WatchProgressRepository struct {
	db *sql.DB
}

func NewWatchProgressRepository(db *sql.DB) repository.WatchProgressRepository {
	return &WatchProgressRepository{db: db}
}

func (r *WatchProgressRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createWatchProgressTable); err != nil {
		return fmt.Errorf("create watch_progress table: %w", err)
	}
	return nil
}

func (r *WatchProgressRepository) Create(ctx context.Context, p *domain.WatchProgress) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.LastWatchedAt.IsZero() {
		p.LastWatchedAt = now
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO watch_progress (id, user_id, movie_id, torrent_id, current_time_secs, duration_secs, percentage, completed, last_watched_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.UserID,
		p.MovieID,
		p.TorrentID,
		p.CurrentTime,
		nullFloat(p.Duration),
		p.Percentage,
		p.Completed,
		p.LastWatchedAt.UTC(),
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert watch progress: %w", err)
	}
	return nil
}

func (r *WatchProgressRepository) Update(ctx context.Context, p *domain.WatchProgress) error {
	p.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
UPDATE watch_progress
SET torrent_id=?, current_time_secs=?, duration_secs=?, percentage=?, completed=?, last_watched_at=?, updated_at=?
WHERE id=?`,
		p.TorrentID,
		p.CurrentTime,
		nullFloat(p.Duration),
		p.Percentage,
		p.Completed,
		p.LastWatchedAt.UTC(),
		p.UpdatedAt,
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("update watch progress: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("watch progress rows affected: %w", err)
	}
	if aff == 0 {
		return domain.ErrProgressNotFound
	}
	return nil
}

func (r *WatchProgressRepository) GetByID(ctx context.Context, id string) (*domain.WatchProgress, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, user_id, movie_id, torrent_id, current_time_secs, duration_secs, percentage, completed, last_watched_at, created_at, updated_at
FROM watch_progress
WHERE id=?`,
		id,
	)
	return scanWatchProgress(row)
}

func (r *WatchProgressRepository) GetByUserAndMovie(ctx context.Context, userID int64, movieID string) (*domain.WatchProgress, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, user_id, movie_id, torrent_id, current_time_secs, duration_secs, percentage, completed, last_watched_at, created_at, updated_at
FROM watch_progress
WHERE user_id=? AND movie_id=?`,
		userID,
		movieID,
	)
	return scanWatchProgress(row)
}

func (r *WatchProgressRepository) GetByUserAndTorrent(ctx context.Context, userID int64, torrentID string) (*domain.WatchProgress, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, user_id, movie_id, torrent_id, current_time_secs, duration_secs, percentage, completed, last_watched_at, created_at, updated_at
FROM watch_progress
WHERE user_id=? AND torrent_id=?
ORDER BY last_watched_at DESC
LIMIT 1`,
		userID,
		torrentID,
	)
	return scanWatchProgress(row)
}

func (r *WatchProgressRepository) ListRecent(ctx context.Context, userID int64, limit int) ([]domain.WatchProgress, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, movie_id, torrent_id, current_time_secs, duration_secs, percentage, completed, last_watched_at, created_at, updated_at
FROM watch_progress
WHERE user_id=?
ORDER BY last_watched_at DESC
LIMIT ?`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent watch progress: %w", err)
	}
	defer rows.Close()

	var records []domain.WatchProgress
	for rows.Next() {
		p, err := scanWatchProgress(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *p)
	}
	return records, rows.Err()
}

func (r *WatchProgressRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM watch_progress WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete watch progress: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("watch progress delete rows affected: %w", err)
	}
	if aff == 0 {
		return domain.ErrProgressNotFound
	}
	return nil
}

func scanWatchProgress(scanner interface {
	Scan(dest ...any) error
}) (*domain.WatchProgress, error) {
	var (
		p             domain.WatchProgress
		duration      sql.NullFloat64
		lastWatchedAt time.Time
	)

	if err := scanner.Scan(
		&p.ID,
		&p.UserID,
		&p.MovieID,
		&p.TorrentID,
		&p.CurrentTime,
		&duration,
		&p.Percentage,
		&p.Completed,
		&lastWatchedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProgressNotFound
		}
		return nil, fmt.Errorf("scan watch progress: %w", err)
	}

	if duration.Valid {
		d := duration.Float64
		p.Duration = &d
	}
	p.LastWatchedAt = lastWatchedAt
	return &p, nil
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
