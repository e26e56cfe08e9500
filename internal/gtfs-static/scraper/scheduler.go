package scraper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/railtracker/internal/common/config"
	"github.com/railtracker/internal/common/db"
	"github.com/railtracker/internal/common/logger"
	"github.com/railtracker/internal/common/metrics"
	"github.com/railtracker/internal/gtfs-static/importer"
)

// GTFSScheduler keeps the schedule tables current. On start it seeds an
// empty database from the configured local archive, then checks the
// published archive every RefreshInterval and re-imports when it changes.
type GTFSScheduler struct {
	config          config.GTFSStaticConfig
	metadataFetcher MetadataFetcher
	versionChecker  VersionChecker
	downloader      Downloader
	importer        Importer
	logger          logger.Logger
	onImported      func()

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewScheduler wires the HTTP fetchers. onImported runs after every
// successful import and may be nil.
func NewScheduler(
	cfg config.GTFSStaticConfig,
	database *db.DB,
	imp Importer,
	logger logger.Logger,
	m *metrics.Collector,
	onImported func(),
) *GTFSScheduler {
	return &GTFSScheduler{
		config:          cfg,
		metadataFetcher: NewHTTPMetadataFetcher(logger),
		versionChecker:  db.NewVersionChecker(database),
		downloader:      NewHTTPDownloader(logger, m),
		importer:        imp,
		logger:          logger,
		onImported:      onImported,
	}
}

// Start blocks until ctx is cancelled or Stop is called.
func (s *GTFSScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting GTFS scheduler",
		"url", s.config.URL,
		"zip", s.config.ZipPath,
		"check_interval", s.config.RefreshInterval)

	if err := s.Bootstrap(ctx); err != nil {
		s.logger.Error("Bootstrap import failed", "error", err)
	}

	if s.config.URL == "" {
		<-ctx.Done()
		s.logger.Info("Scheduler stopped")
		return nil
	}

	if err := s.checkAndUpdate(ctx); err != nil {
		s.logger.Error("Initial check failed", "error", err)
	}

	ticker := time.NewTicker(s.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			if err := s.checkAndUpdate(ctx); err != nil {
				s.logger.Error("Scheduled check failed", "error", err)
			}
		}
	}
}

func (s *GTFSScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("scheduler not running")
	}

	if s.cancel != nil {
		s.cancel()
	}

	s.running = false
	return nil
}

// Bootstrap imports the local archive when nothing has been imported yet.
func (s *GTFSScheduler) Bootstrap(ctx context.Context) error {
	if s.config.ZipPath == "" {
		return nil
	}

	active, err := s.versionChecker.ActiveVersion(ctx)
	if err != nil {
		return fmt.Errorf("checking active version: %w", err)
	}
	if active != nil {
		s.logger.Debug("Schedule already imported, skipping bootstrap", "source", active.Source)
		return nil
	}

	info, err := os.Stat(s.config.ZipPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.config.ZipPath, err)
	}

	s.logger.Info("Importing bundled GTFS archive", "path", s.config.ZipPath)
	return s.runImport(ctx, s.config.ZipPath, info.ModTime())
}

func (s *GTFSScheduler) checkAndUpdate(ctx context.Context) error {
	s.logger.Debug("Checking for GTFS updates", "url", s.config.URL)

	metadata, err := s.metadataFetcher.FetchMetadata(ctx, s.config.URL)
	if err != nil {
		return fmt.Errorf("fetching metadata: %w", err)
	}

	hasNewer, err := s.versionChecker.HasNewerVersion(ctx, metadata.LastModified)
	if err != nil {
		return fmt.Errorf("checking version: %w", err)
	}

	if !hasNewer {
		s.logger.Debug("No new version available")
		return nil
	}

	s.logger.Info("New version detected, starting import process",
		"last_modified", metadata.LastModified)

	active, err := s.versionChecker.ActiveVersion(ctx)
	if err != nil {
		return fmt.Errorf("checking active version: %w", err)
	}
	var since time.Time
	if active != nil {
		since = active.LastModified
	}

	downloadPath := filepath.Join(
		s.config.DownloadDir,
		fmt.Sprintf("gtfs_%s.zip", time.Now().UTC().Format("20060102_150405")),
	)

	archive, err := s.downloader.Download(ctx, metadata.URL, downloadPath, since)
	if err != nil {
		return fmt.Errorf("downloading file: %w", err)
	}
	if archive.NotModified {
		return nil
	}
	defer os.Remove(archive.Path)

	// The GET's Last-Modified describes the bytes actually fetched; HEAD
	// may be missing or stale.
	lastModified := metadata.LastModified
	if !archive.LastModified.IsZero() {
		lastModified = archive.LastModified
		if active != nil && !active.LastModified.IsZero() && !lastModified.After(active.LastModified) {
			s.logger.Info("Downloaded archive is not newer than the active version, skipping import",
				"last_modified", lastModified)
			return nil
		}
	}

	return s.runImport(ctx, archive.Path, lastModified)
}

func (s *GTFSScheduler) runImport(ctx context.Context, path string, lastModified time.Time) error {
	source := s.config.URL
	if source == "" {
		source = s.config.ZipPath
	}

	result, err := s.importer.ImportZip(ctx, path, source, lastModified)
	if err != nil {
		s.logger.Error("Import failed, previous schedule kept", "path", path, "error", err)
		return fmt.Errorf("importing data: %w", err)
	}

	s.logger.Info("Successfully imported GTFS data",
		"source", source,
		"trips", result.Trips,
		"stop_times", result.StopTimes)

	if s.onImported != nil {
		s.onImported()
	}

	return nil
}

var _ Importer = (*importer.Importer)(nil)
