package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/railtracker/internal/common/logger"
	"github.com/railtracker/internal/common/metrics"
)

const downloadRetries = 3

// Archive is one fetch of the published feed. When NotModified is set the
// server answered 304 and Path is empty.
type Archive struct {
	Path         string
	LastModified time.Time
	Size         int64
	NotModified  bool
}

// HTTPDownloader fetches the feed archive with a conditional GET.
type HTTPDownloader struct {
	client       *http.Client
	logger       logger.Logger
	metrics      *metrics.Collector
	retryInitial time.Duration
}

func NewHTTPDownloader(logger logger.Logger, m *metrics.Collector) *HTTPDownloader {
	return &HTTPDownloader{
		client: &http.Client{
			Timeout: 5 * time.Minute,
		},
		logger:       logger,
		metrics:      m,
		retryInitial: 2 * time.Second,
	}
}

// Download stores url at destPath. A non-zero since is sent as
// If-Modified-Since. destPath is written through a temp file in the same
// directory, so it only ever holds a complete archive.
func (d *HTTPDownloader) Download(ctx context.Context, url, destPath string, since time.Time) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return nil, fmt.Errorf("creating destination directory: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retryInitial

	archive, err := backoff.RetryNotifyWithData(
		func() (*Archive, error) {
			return d.fetch(ctx, url, destPath, since)
		},
		backoff.WithContext(backoff.WithMaxRetries(b, downloadRetries), ctx),
		func(err error, wait time.Duration) {
			d.logger.Warn("Download failed, retrying", "url", url, "backoff", wait, "error", err)
		},
	)
	if err != nil {
		d.metrics.StaticDownload("failure", 0)
		return nil, err
	}

	if archive.NotModified {
		d.metrics.StaticDownload("not_modified", 0)
		d.logger.Info("Archive not modified", "url", url, "since", since)
		return archive, nil
	}

	d.metrics.StaticDownload("success", archive.Size)
	d.logger.Info("Download completed",
		"url", url,
		"dest", archive.Path,
		"size_bytes", archive.Size,
		"last_modified", archive.LastModified)

	return archive, nil
}

func (d *HTTPDownloader) fetch(ctx context.Context, url, destPath string, since time.Time) (*Archive, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	if !since.IsZero() {
		req.Header.Set("If-Modified-Since", since.UTC().Format(http.TimeFormat))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &Archive{NotModified: true, LastModified: since}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return nil, backoff.Permanent(fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	size, err := writeAtomic(destPath, resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.ContentLength > 0 && size != resp.ContentLength {
		os.Remove(destPath)
		return nil, fmt.Errorf("short body: got %d of %d bytes", size, resp.ContentLength)
	}

	archive := &Archive{Path: destPath, Size: size}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			archive.LastModified = t.UTC()
		} else {
			d.logger.Warn("Ignoring unparseable Last-Modified", "url", url, "value", lm)
		}
	}

	return archive, nil
}

func writeAtomic(destPath string, body io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), "gtfs_download_*.tmp")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("downloading file: %w", err)
	}

	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return 0, fmt.Errorf("moving file to destination: %w", err)
	}
	return size, nil
}
