package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/railtracker/internal/common/logger"
)

const (
	httpTimeout     = 30 * time.Second
	metadataRetries = 3
)

// HTTPMetadataFetcher reads the Last-Modified header of the published
// archive with a HEAD request.
type HTTPMetadataFetcher struct {
	client       *http.Client
	logger       logger.Logger
	retryInitial time.Duration
}

func NewHTTPMetadataFetcher(logger logger.Logger) *HTTPMetadataFetcher {
	return &HTTPMetadataFetcher{
		client: &http.Client{
			Timeout: httpTimeout,
		},
		logger:       logger,
		retryInitial: 2 * time.Second,
	}
}

func (f *HTTPMetadataFetcher) FetchMetadata(ctx context.Context, url string) (*Metadata, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.retryInitial

	metadata, err := backoff.RetryNotifyWithData(
		func() (*Metadata, error) {
			return f.head(ctx, url)
		},
		backoff.WithContext(backoff.WithMaxRetries(b, metadataRetries), ctx),
		func(err error, d time.Duration) {
			f.logger.Warn("Metadata request failed, retrying", "url", url, "backoff", d, "error", err)
		},
	)
	if err != nil {
		return nil, err
	}

	f.logger.Info("Metadata fetched successfully",
		"url", url,
		"last_modified", metadata.LastModified,
		"size_bytes", metadata.Size)

	return metadata, nil
}

func (f *HTTPMetadataFetcher) head(ctx context.Context, url string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}

	f.logger.Debug("Fetching metadata", "url", url)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("executing request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	// Some hosts refuse HEAD; the archive is then treated as always new.
	if resp.StatusCode == http.StatusMethodNotAllowed {
		return &Metadata{URL: url}, nil
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("server returned status %d for %s", resp.StatusCode, url)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(statusErr)
		}
		return nil, statusErr
	}

	metadata := &Metadata{URL: url, Size: resp.ContentLength}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		t, err := http.ParseTime(lm)
		if err != nil {
			f.logger.Warn("Ignoring unparseable Last-Modified", "url", url, "value", lm)
		} else {
			metadata.LastModified = t.UTC()
		}
	}

	return metadata, nil
}
