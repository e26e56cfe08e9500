package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// FeedVersion records one completed static import.
type FeedVersion struct {
	Source       string
	LastModified time.Time
	ImportedAt   time.Time
}

// Fixed-width so imported_at sorts correctly as text.
const importedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

type VersionChecker struct {
	db *DB
}

func NewVersionChecker(db *DB) *VersionChecker {
	return &VersionChecker{db: db}
}

// ActiveVersion returns the most recent import, or nil when nothing has been
// imported yet.
func (vc *VersionChecker) ActiveVersion(ctx context.Context) (*FeedVersion, error) {
	query := `
		SELECT source, last_modified, imported_at
		FROM feed_versions
		ORDER BY imported_at DESC
		LIMIT 1
	`

	var (
		version              FeedVersion
		lastModified, loaded string
	)
	err := vc.db.QueryRowContext(ctx, query).Scan(&version.Source, &lastModified, &loaded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying active version: %w", err)
	}

	if version.LastModified, err = time.Parse(time.RFC3339, lastModified); err != nil {
		return nil, fmt.Errorf("parsing last_modified: %w", err)
	}
	if version.ImportedAt, err = time.Parse(time.RFC3339, loaded); err != nil {
		return nil, fmt.Errorf("parsing imported_at: %w", err)
	}

	return &version, nil
}

// HasNewerVersion reports whether a dataset modified at lastModified should
// replace the active import.
func (vc *VersionChecker) HasNewerVersion(ctx context.Context, lastModified time.Time) (bool, error) {
	active, err := vc.ActiveVersion(ctx)
	if err != nil {
		return false, fmt.Errorf("getting active version: %w", err)
	}

	if active == nil {
		vc.db.logger.Info("No active version found, new import needed")
		return true, nil
	}

	isNewer := lastModified.IsZero() || lastModified.After(active.LastModified)

	vc.db.logger.Debug("Version comparison",
		"dataset_modified", lastModified,
		"active_version_modified", active.LastModified,
		"is_newer", isNewer)

	return isNewer, nil
}

// RecordVersion stores an import inside the importer's transaction so the
// version row commits together with the data.
func RecordVersion(ctx context.Context, tx *sql.Tx, dialect, source string, lastModified, importedAt time.Time) error {
	_, err := tx.ExecContext(ctx,
		Rebind(dialect, "INSERT INTO feed_versions (source, last_modified, imported_at) VALUES (?, ?, ?)"),
		source,
		lastModified.UTC().Format(time.RFC3339),
		importedAt.UTC().Format(importedAtLayout),
	)
	if err != nil {
		return fmt.Errorf("recording feed version: %w", err)
	}
	return nil
}
