package scraper

import (
	"context"
	"time"

	"github.com/railtracker/internal/common/db"
	"github.com/railtracker/internal/gtfs-static/importer"
)

// Metadata describes the archive currently published at URL.
// LastModified is zero when the server does not say.
type Metadata struct {
	URL          string
	LastModified time.Time
	Size         int64
}

type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, url string) (*Metadata, error)
}

type VersionChecker interface {
	ActiveVersion(ctx context.Context) (*db.FeedVersion, error)
	HasNewerVersion(ctx context.Context, lastModified time.Time) (bool, error)
}

type Downloader interface {
	Download(ctx context.Context, url, destPath string, since time.Time) (*Archive, error)
}

type Importer interface {
	ImportZip(ctx context.Context, zipPath, source string, lastModified time.Time) (*importer.Result, error)
}
