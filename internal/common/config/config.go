package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Database     DatabaseConfig
	GTFSStatic   GTFSStaticConfig
	GTFSRealtime GTFSRealtimeConfig
	Cache        CacheConfig
	Metrics      MetricsConfig
	Logging      LoggingConfig

	// Location is the agency's civil timezone. Every wall-clock string in
	// the feed is interpreted in it, never in server-local time.
	Location *time.Location
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	Path     string
}

// GTFSStaticConfig for the static schedule import
type GTFSStaticConfig struct {
	URL             string
	ZipPath         string
	RefreshInterval time.Duration
	DownloadDir     string
}

// GTFSRealtimeConfig for the trip-update and vehicle-position feeds
type GTFSRealtimeConfig struct {
	PollingInterval time.Duration
	Username        string
	Password        string
	Feeds           []GTFSRealtimeFeed
}

type GTFSRealtimeFeed struct {
	Name     string
	URL      string
	FeedType string // "trip_updates", "vehicle_positions" or "service_alerts"
}

const (
	FeedTypeTripUpdates      = "trip_updates"
	FeedTypeVehiclePositions = "vehicle_positions"
	FeedTypeServiceAlerts    = "service_alerts"
)

type CacheConfig struct {
	Size int
	TTL  time.Duration
}

type MetricsConfig struct {
	Addr string
}

type LoggingConfig struct {
	Level    string
	FilePath string
}

func Load() (*Config, error) {
	timezone := getEnv("AGENCY_TIMEZONE", "America/Chicago")
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("loading AGENCY_TIMEZONE %q: %w", timezone, err)
	}

	refresh, err := getDurationEnv("GTFS_STATIC_REFRESH_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}
	polling, err := getDurationEnv("GTFS_RT_POLLING_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	cacheSize, err := getIntEnv("CACHE_SIZE", 1024)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", DriverPostgres),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "railtracker"),
			Path:     getEnv("DB_PATH", "./data/gtfs.db"),
		},
		GTFSStatic: GTFSStaticConfig{
			URL:             getEnv("GTFS_STATIC_URL", ""),
			ZipPath:         getEnv("GTFS_STATIC_ZIP", ""),
			RefreshInterval: refresh,
			DownloadDir:     getEnv("GTFS_STATIC_DOWNLOAD_DIR", filepath.Join(os.TempDir(), "gtfs-static")),
		},
		GTFSRealtime: GTFSRealtimeConfig{
			PollingInterval: polling,
			Username:        getEnv("GTFS_RT_USERNAME", ""),
			Password:        getEnv("GTFS_RT_PASSWORD", ""),
		},
		Cache: CacheConfig{
			Size: cacheSize,
			TTL:  polling,
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ""),
		},
		Logging: LoggingConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			FilePath: getEnv("LOG_FILE", "railtracker.log"),
		},
		Location: loc,
	}

	if url := getEnv("GTFS_RT_TRIP_UPDATES_URL", ""); url != "" {
		cfg.GTFSRealtime.Feeds = append(cfg.GTFSRealtime.Feeds, GTFSRealtimeFeed{
			Name:     "trip-updates",
			URL:      url,
			FeedType: FeedTypeTripUpdates,
		})
	}
	if url := getEnv("GTFS_RT_POSITIONS_URL", ""); url != "" {
		cfg.GTFSRealtime.Feeds = append(cfg.GTFSRealtime.Feeds, GTFSRealtimeFeed{
			Name:     "vehicle-positions",
			URL:      url,
			FeedType: FeedTypeVehiclePositions,
		})
	}
	if url := getEnv("GTFS_RT_ALERTS_URL", ""); url != "" {
		cfg.GTFSRealtime.Feeds = append(cfg.GTFSRealtime.Feeds, GTFSRealtimeFeed{
			Name:     "service-alerts",
			URL:      url,
			FeedType: FeedTypeServiceAlerts,
		})
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.GTFSRealtime.PollingInterval <= 0 {
		return errors.New("GTFS_RT_POLLING_INTERVAL must be positive")
	}
	if c.GTFSStatic.RefreshInterval <= 0 {
		return errors.New("GTFS_STATIC_REFRESH_INTERVAL must be positive")
	}
	if c.Cache.Size <= 0 {
		return errors.New("CACHE_SIZE must be positive")
	}
	return nil
}

// DSN returns the data source name for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == DriverSQLite {
		return c.Path
	}
	return c.ConnectionString()
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.DBName)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return duration, nil
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}
