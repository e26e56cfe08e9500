package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/railtracker/internal/common/cache"
	"github.com/railtracker/internal/common/config"
	"github.com/railtracker/internal/common/db"
	"github.com/railtracker/internal/common/logger"
	"github.com/railtracker/internal/common/maintenance"
	"github.com/railtracker/internal/common/metrics"
	gtfs_realtime "github.com/railtracker/internal/gtfs-realtime"
	"github.com/railtracker/internal/gtfs-realtime/consumer"
	"github.com/railtracker/internal/gtfs-realtime/processor"
	"github.com/railtracker/internal/gtfs-realtime/snapshot"
	"github.com/railtracker/internal/gtfs-static/importer"
	"github.com/railtracker/internal/gtfs-static/scraper"
	"github.com/railtracker/internal/schedule/store"
	"github.com/railtracker/internal/trains"
)

type options struct {
	importZip   string
	origin      string
	destination string
	time        string
	date        string
	limit       int
	trip        string
	stops       bool
	reachable   string
	routes      bool
	alerts      bool
	line        string
	station     string
}

func main() {
	var opts options
	flag.StringVar(&opts.importZip, "import", "", "import a GTFS zip and exit")
	flag.StringVar(&opts.origin, "origin", "", "origin station id")
	flag.StringVar(&opts.destination, "destination", "", "destination station id")
	flag.StringVar(&opts.time, "time", "", "departure time HH:MM[:SS], default now")
	flag.StringVar(&opts.date, "date", "", "service date YYYY-MM-DD, default today")
	flag.IntVar(&opts.limit, "limit", 0, "maximum trains, 0 for all")
	flag.StringVar(&opts.trip, "trip", "", "print one trip in detail")
	flag.BoolVar(&opts.stops, "stops", false, "list stations")
	flag.StringVar(&opts.reachable, "reachable", "", "list stations reachable from a station")
	flag.BoolVar(&opts.routes, "routes", false, "list lines")
	flag.BoolVar(&opts.alerts, "alerts", false, "list service alerts")
	flag.StringVar(&opts.line, "line", "", "with -alerts, only alerts for this line id")
	flag.StringVar(&opts.station, "station", "", "with -alerts, only alerts for this station id")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "Failed to load .env file:", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}

	writers := []io.Writer{logger.ConsoleWriter()}
	if cfg.Logging.FilePath != "" {
		writers = append(writers, logger.FileWriter(cfg.Logging.FilePath))
	}
	log := logger.New(logger.ParseLogLevel(cfg.Logging.Level), writers...)

	database, err := db.Open(cfg.Database.Driver, cfg.Database.DSN(), log)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := database.CreateSchema(ctx); err != nil {
		log.Fatal("Failed to create schema", "error", err)
	}

	collector := metrics.NewCollector()
	schedule := store.New(database)
	holder := snapshot.NewHolder()
	service := trains.NewService(schedule, holder, cache.NewTTL(cfg.Cache.Size), trains.Config{
		Location: cfg.Location,
		TTL:      cfg.Cache.TTL,
		Metrics:  collector,
		Logger:   log.With("component", "trains"),
	})
	imp := importer.NewImporter(database, collector)

	switch {
	case opts.importZip != "":
		err = runImport(ctx, imp, opts.importZip)
	case opts.origin != "" || opts.destination != "":
		refreshRealtime(ctx, cfg, holder, log, collector)
		err = runQuery(ctx, service, schedule, opts)
	case opts.trip != "":
		refreshRealtime(ctx, cfg, holder, log, collector)
		err = printJSONResult(service.TrainDetail(ctx, opts.trip, opts.date))
	case opts.stops:
		err = printJSONResult(schedule.Stops(ctx))
	case opts.reachable != "":
		err = printJSONResult(schedule.ReachableStops(ctx, opts.reachable))
	case opts.routes:
		err = printJSONResult(schedule.Routes(ctx))
	case opts.alerts:
		refreshRealtime(ctx, cfg, holder, log, collector)
		err = printJSONResult(service.Alerts(opts.line, opts.station), nil)
	default:
		serve(ctx, cancel, cfg, database, imp, service, holder, collector, log)
		return
	}

	if err != nil {
		log.Fatal("Command failed", "error", err)
	}
}

func serve(
	ctx context.Context,
	cancel context.CancelFunc,
	cfg *config.Config,
	database *db.DB,
	imp *importer.Importer,
	service *trains.Service,
	holder *snapshot.Holder,
	collector *metrics.Collector,
	log logger.Logger,
) {
	log.Info("Rail tracker starting",
		"log_level", cfg.Logging.Level,
		"timezone", cfg.Location.String(),
		"static_url", cfg.GTFSStatic.URL,
		"realtime_feeds", len(cfg.GTFSRealtime.Feeds),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	scheduler := scraper.NewScheduler(cfg.GTFSStatic, database, imp, log.With("component", "gtfs-static"), collector, service.InvalidateCache)
	wg.Add(1)
	go func(s *scraper.GTFSScheduler) {
		defer wg.Done()
		if err := s.Start(ctx); err != nil {
			log.Error("GTFS-Static scheduler error", "error", err)
		}
	}(scheduler)

	cleanup := maintenance.NewCleanupScheduler(database, log.With("component", "maintenance"), maintenance.DefaultSchedulerConfig())
	if err := cleanup.Start(ctx); err != nil {
		log.Error("Cleanup scheduler error", "error", err)
	}
	defer cleanup.Stop()

	var rtManager *gtfs_realtime.Manager
	if len(cfg.GTFSRealtime.Feeds) > 0 {
		rtManager = gtfs_realtime.NewManager(cfg.GTFSRealtime, holder, log.With("component", "gtfs-realtime"), collector)
		if err := rtManager.Start(ctx); err != nil {
			log.Error("GTFS-Realtime manager error", "error", err)
		}
	} else {
		log.Info("GTFS-Realtime manager disabled (no feed URLs configured)")
	}

	if cfg.Metrics.Addr != "" {
		srv := collector.Serve(cfg.Metrics.Addr, log)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	<-sigChan
	log.Info("Shutdown signal received")

	cancel()
	if rtManager != nil {
		rtManager.Stop()
	}

	wg.Wait()

	log.Info("Rail tracker stopped")
}

func runImport(ctx context.Context, imp *importer.Importer, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	_, err = imp.ImportZip(ctx, path, path, info.ModTime())
	return err
}

// refreshRealtime takes one snapshot so one-shot commands report live status.
func refreshRealtime(ctx context.Context, cfg *config.Config, holder *snapshot.Holder, log logger.Logger, collector *metrics.Collector) {
	if len(cfg.GTFSRealtime.Feeds) == 0 {
		return
	}
	c := consumer.NewConsumer(cfg.GTFSRealtime, log, collector)
	p := processor.NewProcessor(holder, log, collector)
	for _, feed := range cfg.GTFSRealtime.Feeds {
		if err := p.Apply(c.FetchOnce(ctx, feed)); err != nil {
			log.Warn("Realtime data unavailable, using schedule only", "feed", feed.Name, "error", err)
		}
	}
}

func runQuery(ctx context.Context, service *trains.Service, schedule *store.Store, opts options) error {
	found, err := schedule.StopsByIDs(ctx, []string{opts.origin, opts.destination})
	if err != nil {
		return err
	}
	for _, id := range []string{opts.origin, opts.destination} {
		if _, ok := found[id]; !ok {
			return fmt.Errorf("unknown station %q", id)
		}
	}

	return printJSONResult(service.GetUpcomingTrains(ctx, trains.Query{
		Origin:      opts.origin,
		Destination: opts.destination,
		Limit:       opts.limit,
		Time:        opts.time,
		Date:        opts.date,
	}))
}

func printJSONResult[T any](v T, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
