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

const createDownloadsTable = `
CREATE TABLE IF NOT EXISTS downloads (
	id TEXT PRIMARY KEY,
	magnet_uri TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	paused INTEGER NOT NULL DEFAULT 0,
	added_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	archived_at DATETIME NULL,
	archive_location TEXT NOT NULL DEFAULT ''
);
`

type DownloadRepository struct {
	db *sql.DB
}

func NewDownloadRepository(db *sql.DB) repository.DownloadRepository {
	return &DownloadRepository{db: db}
}

func (r *DownloadRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createDownloadsTable); err != nil {
		return fmt.Errorf("create downloads table: %w", err)
	}
	return nil
}

func (r *DownloadRepository) Create(ctx context.Context, d *domain.Download) error {
	now := time.Now().UTC()
	d.AddedAt = now
	d.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
INSERT INTO downloads (id, magnet_uri, name, paused, added_at, updated_at, archived_at, archive_location)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.MagnetURI,
		d.Name,
		d.Paused,
		d.AddedAt,
		d.UpdatedAt,
		nullTime(d.ArchivedAt),
		d.ArchiveLocation,
	)
	if err != nil {
		return fmt.Errorf("insert download: %w", err)
	}
	return nil
}

func (r *DownloadRepository) SetName(ctx context.Context, id, name string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE downloads
SET name=?, updated_at=?
WHERE id=?`,
		name,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update download name: %w", err)
	}
	return nil
}

func (r *DownloadRepository) SetPaused(ctx context.Context, id string, paused bool) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE downloads
SET paused=?, updated_at=?
WHERE id=?`,
		paused,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update download paused: %w", err)
	}
	return nil
}

func (r *DownloadRepository) MarkArchived(ctx context.Context, id, location string, archivedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE downloads
SET archived_at=?, archive_location=?, updated_at=?
WHERE id=?`,
		archivedAt.UTC(),
		location,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark download archived: %w", err)
	}
	return nil
}

func (r *DownloadRepository) Get(ctx context.Context, id string) (*domain.Download, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, magnet_uri, name, paused, added_at, updated_at, archived_at, archive_location
FROM downloads
WHERE id=?`,
		id,
	)
	return scanDownload(row)
}

func (r *DownloadRepository) List(ctx context.Context) ([]domain.Download, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, magnet_uri, name, paused, added_at, updated_at, archived_at, archive_location
FROM downloads
ORDER BY added_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query downloads: %w", err)
	}
	defer rows.Close()

	var downloads []domain.Download
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		downloads = append(downloads, *d)
	}
	return downloads, rows.Err()
}

func (r *DownloadRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM downloads WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete download: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("download delete rows affected: %w", err)
	}
	if aff == 0 {
		return domain.ErrDownloadNotFound
	}
	return nil
}

func scanDownload(scanner interface {
	Scan(dest ...any) error
}) (*domain.Download, error) {
	var (
		d          domain.Download
		archivedAt sql.NullTime
	)

	if err := scanner.Scan(
		&d.ID,
		&d.MagnetURI,
		&d.Name,
		&d.Paused,
		&d.AddedAt,
		&d.UpdatedAt,
		&archivedAt,
		&d.ArchiveLocation,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDownloadNotFound
		}
		return nil, fmt.Errorf("scan download: %w", err)
	}

	if archivedAt.Valid {
		t := archivedAt.Time
		d.ArchivedAt = &t
	}
	return &d, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
