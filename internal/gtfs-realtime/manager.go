package gtfs_realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/railtracker/internal/common/config"
	"github.com/railtracker/internal/common/logger"
	"github.com/railtracker/internal/common/metrics"
	"github.com/railtracker/internal/gtfs-realtime/consumer"
	"github.com/railtracker/internal/gtfs-realtime/processor"
	"github.com/railtracker/internal/gtfs-realtime/snapshot"
)

// Manager runs the feed consumer and the snapshot processor together.
type Manager struct {
	config    config.GTFSRealtimeConfig
	logger    logger.Logger
	consumer  *consumer.Consumer
	processor *processor.Processor
	holder    *snapshot.Holder
	mu        sync.RWMutex
	isRunning bool
	cancelFn  context.CancelFunc
}

func NewManager(cfg config.GTFSRealtimeConfig, holder *snapshot.Holder, log logger.Logger, m *metrics.Collector) *Manager {
	return &Manager{
		config:    cfg,
		logger:    log,
		holder:    holder,
		consumer:  consumer.NewConsumer(cfg, log, m),
		processor: processor.NewProcessor(holder, log, m),
	}
}

// Snapshots is the provider the query side reads.
func (m *Manager) Snapshots() snapshot.Provider {
	return m.holder
}

func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return fmt.Errorf("GTFS-realtime manager is already running")
	}

	if err := m.validateConfig(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancelFn = cancel

	if err := m.processor.Start(ctx, m.consumer.FeedChannel()); err != nil {
		cancel()
		return fmt.Errorf("failed to start processor: %w", err)
	}

	if err := m.consumer.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	m.isRunning = true
	m.logger.Info("GTFS-realtime manager started successfully", "feeds", len(m.config.Feeds))

	return nil
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning {
		return
	}

	m.logger.Info("Stopping GTFS-realtime manager")

	if m.cancelFn != nil {
		m.cancelFn()
	}
	m.consumer.Stop()

	m.isRunning = false
	m.logger.Info("GTFS-realtime manager stopped")
}

func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}

func (m *Manager) validateConfig() error {
	if len(m.config.Feeds) == 0 {
		return fmt.Errorf("at least one feed must be configured")
	}

	for _, feed := range m.config.Feeds {
		if feed.URL == "" {
			return fmt.Errorf("feed %s: URL cannot be empty", feed.Name)
		}
		switch feed.FeedType {
		case config.FeedTypeTripUpdates, config.FeedTypeVehiclePositions, config.FeedTypeServiceAlerts:
		default:
			return fmt.Errorf("feed %s: unsupported feed type %q", feed.Name, feed.FeedType)
		}
	}

	if m.config.PollingInterval <= 0 {
		return fmt.Errorf("polling interval must be positive")
	}

	return nil
}
