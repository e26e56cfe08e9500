package consumer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/cenkalti/backoff/v4"
	"google.golang.org/protobuf/proto"

	"github.com/railtracker/internal/common/config"
	"github.com/railtracker/internal/common/logger"
	"github.com/railtracker/internal/common/metrics"
)

const (
	UserAgent  = "railtracker/1.0"
	maxRetries = 3
)

type Consumer struct {
	config       config.GTFSRealtimeConfig
	httpClient   *http.Client
	logger       logger.Logger
	metrics      *metrics.Collector
	cache        *feedCache
	retryInitial time.Duration
	mu           sync.RWMutex
	isRunning    bool
	stopChan     chan struct{}
	feedChan     chan *FeedResult
}

// FeedResult is one poll outcome. NotModified results carry no message and
// mean the previous snapshot for that feed still stands.
type FeedResult struct {
	Feed        config.GTFSRealtimeFeed
	Message     *gtfsrt.FeedMessage
	Timestamp   time.Time
	NotModified bool
	Error       error
}

type feedCache struct {
	data map[string]*cacheEntry
	mu   sync.RWMutex
}

type cacheEntry struct {
	lastModified string
	timestamp    time.Time
}

func NewConsumer(cfg config.GTFSRealtimeConfig, log logger.Logger, m *metrics.Collector) *Consumer {
	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	return &Consumer{
		config:       cfg,
		httpClient:   client,
		logger:       log,
		metrics:      m,
		cache:        newFeedCache(),
		retryInitial: time.Second,
		feedChan:     make(chan *FeedResult, 16),
		stopChan:     make(chan struct{}),
	}
}

func newFeedCache() *feedCache {
	return &feedCache{
		data: make(map[string]*cacheEntry),
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isRunning {
		return fmt.Errorf("consumer is already running")
	}

	c.isRunning = true
	c.logger.Info("Starting GTFS-realtime consumer", "polling_interval", c.config.PollingInterval)

	for _, feed := range c.config.Feeds {
		go c.pollFeed(ctx, feed)
	}

	return nil
}

func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning {
		return
	}

	c.logger.Info("Stopping GTFS-realtime consumer")
	c.isRunning = false
	close(c.stopChan)
}

func (c *Consumer) FeedChannel() <-chan *FeedResult {
	return c.feedChan
}

func (c *Consumer) pollFeed(ctx context.Context, feed config.GTFSRealtimeFeed) {
	ticker := time.NewTicker(c.config.PollingInterval)
	defer ticker.Stop()

	c.logger.Info("Starting feed polling", "feed", feed.Name, "url", feed.URL)

	c.publish(ctx, c.FetchOnce(ctx, feed))

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.publish(ctx, c.FetchOnce(ctx, feed))
		}
	}
}

func (c *Consumer) publish(ctx context.Context, result *FeedResult) {
	select {
	case c.feedChan <- result:
	case <-ctx.Done():
	case <-c.stopChan:
	default:
		c.logger.Warn("Feed channel is full, dropping result", "feed", result.Feed.Name)
	}
}

// FetchOnce polls feed, retrying transient failures with exponential backoff.
func (c *Consumer) FetchOnce(ctx context.Context, feed config.GTFSRealtimeFeed) *FeedResult {
	result := &FeedResult{
		Feed:      feed,
		Timestamp: time.Now(),
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	if c.config.PollingInterval > 0 {
		b.MaxInterval = c.config.PollingInterval
	}

	fetched, err := backoff.RetryNotifyWithData(
		func() (*fetchResponse, error) {
			return c.fetch(ctx, feed)
		},
		backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx),
		func(err error, d time.Duration) {
			c.logger.Warn("Feed fetch failed, retrying", "feed", feed.Name, "backoff", d, "error", err)
		},
	)
	if err != nil {
		result.Error = err
		c.metrics.PollResult(feed.FeedType, "error")
		return result
	}

	if fetched.notModified {
		result.NotModified = true
		c.metrics.PollResult(feed.FeedType, "not_modified")
		c.logger.Debug("Feed not modified", "feed", feed.Name)
		return result
	}

	c.cache.set(feed.Name, &cacheEntry{
		lastModified: fetched.lastModified,
		timestamp:    time.Now(),
	})

	result.Message = fetched.message
	c.metrics.PollResult(feed.FeedType, "ok")
	c.logger.Debug("Successfully fetched feed", "feed", feed.Name, "entities", len(fetched.message.GetEntity()))
	return result
}

type fetchResponse struct {
	message      *gtfsrt.FeedMessage
	lastModified string
	notModified  bool
}

func (c *Consumer) fetch(ctx context.Context, feed config.GTFSRealtimeFeed) (*fetchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}

	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/x-protobuf")
	if c.config.Username != "" || c.config.Password != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}

	if entry := c.cache.get(feed.Name); entry != nil && entry.lastModified != "" {
		req.Header.Set("If-Modified-Since", entry.lastModified)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &fetchResponse{notModified: true}, nil
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("HTTP error: %s", resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(statusErr)
		}
		return nil, statusErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	message := &gtfsrt.FeedMessage{}
	opts := proto.UnmarshalOptions{AllowPartial: true, DiscardUnknown: true}
	if err := opts.Unmarshal(body, message); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("unmarshaling protobuf: %w", err))
	}

	return &fetchResponse{
		message:      message,
		lastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

func (fc *feedCache) get(key string) *cacheEntry {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return fc.data[key]
}

func (fc *feedCache) set(key string, entry *cacheEntry) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.data[key] = entry
}
