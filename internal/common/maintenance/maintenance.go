// Package maintenance keeps the schedule database tidy between imports.
package maintenance

import (
	"context"
	"fmt"

	"github.com/railtracker/internal/common/db"
	"github.com/railtracker/internal/common/logger"
)

// CleanupResult reports one maintenance pass.
type CleanupResult struct {
	VersionsDeleted int64
	Analyzed        bool
}

type Maintenance struct {
	db     *db.DB
	logger logger.Logger
}

func New(database *db.DB, logger logger.Logger) *Maintenance {
	return &Maintenance{db: database, logger: logger}
}

// PruneVersions drops feed_versions history beyond the newest keep rows.
func (m *Maintenance) PruneVersions(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		return 0, fmt.Errorf("keep must be at least 1, got %d", keep)
	}

	res, err := m.db.ExecContext(ctx, `
		DELETE FROM feed_versions
		WHERE imported_at < (
			SELECT imported_at FROM feed_versions
			ORDER BY imported_at DESC
			LIMIT 1 OFFSET ?
		)`, keep-1)
	if err != nil {
		return 0, fmt.Errorf("pruning feed versions: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned versions: %w", err)
	}
	return deleted, nil
}

// Analyze refreshes planner statistics after the tables were replaced.
func (m *Maintenance) Analyze(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("analyzing database: %w", err)
	}
	return nil
}

// RunCleanup prunes version history and refreshes statistics.
func (m *Maintenance) RunCleanup(ctx context.Context, keepVersions int) (*CleanupResult, error) {
	deleted, err := m.PruneVersions(ctx, keepVersions)
	if err != nil {
		return nil, err
	}

	if err := m.Analyze(ctx); err != nil {
		return &CleanupResult{VersionsDeleted: deleted}, err
	}

	m.logger.Info("Maintenance completed", "versions_deleted", deleted)
	return &CleanupResult{VersionsDeleted: deleted, Analyzed: true}, nil
}
