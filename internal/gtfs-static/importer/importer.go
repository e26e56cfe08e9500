// Package importer loads a GTFS static archive into the schedule tables.
// Each import replaces the previous schedule inside one transaction, so
// readers see either the old feed or the new one.
package importer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/railtracker/internal/common/db"
	"github.com/railtracker/internal/common/logger"
	"github.com/railtracker/internal/common/metrics"
	"github.com/railtracker/internal/gtfs-static/parser"
	"github.com/railtracker/pkg/gtfs/models"
)

const defaultBatchSize = 500

type Importer struct {
	db        *db.DB
	logger    logger.Logger
	metrics   *metrics.Collector
	batchSize int
}

// Result counts the rows written by one import.
type Result struct {
	Agencies      int
	Stops         int
	Routes        int
	Calendars     int
	CalendarDates int
	Trips         int
	StopTimes     int
}

func NewImporter(database *db.DB, m *metrics.Collector) *Importer {
	return &Importer{
		db:        database,
		logger:    database.Logger(),
		metrics:   m,
		batchSize: defaultBatchSize,
	}
}

// ImportZip replaces the schedule with the archive at zipPath.
func (i *Importer) ImportZip(ctx context.Context, zipPath, source string, lastModified time.Time) (*Result, error) {
	return i.run(ctx, source, lastModified, func(p *parser.Parser, cb parser.ParseCallbacks) error {
		return p.ParseZip(ctx, zipPath, cb)
	})
}

// ImportBytes replaces the schedule with an archive held in memory.
func (i *Importer) ImportBytes(ctx context.Context, data []byte, source string, lastModified time.Time) (*Result, error) {
	return i.run(ctx, source, lastModified, func(p *parser.Parser, cb parser.ParseCallbacks) error {
		return p.ParseBytes(ctx, data, cb)
	})
}

func (i *Importer) run(ctx context.Context, source string, lastModified time.Time, parse func(*parser.Parser, parser.ParseCallbacks) error) (*Result, error) {
	start := time.Now()
	result, err := i.importArchive(ctx, source, lastModified, parse)
	if err != nil {
		i.metrics.ImportResult("failure", time.Since(start))
		return nil, err
	}
	i.metrics.ImportResult("success", time.Since(start))

	i.logger.Info("Import completed successfully",
		"source", source,
		"stops", result.Stops,
		"routes", result.Routes,
		"trips", result.Trips,
		"stop_times", result.StopTimes,
		"duration", time.Since(start))

	return result, nil
}

func (i *Importer) importArchive(ctx context.Context, source string, lastModified time.Time, parse func(*parser.Parser, parser.ParseCallbacks) error) (*Result, error) {
	tx, err := i.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	dialect := i.db.Dialect()

	for _, table := range db.StaticTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return nil, fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	agencyBatch := i.newBatchInserter(tx, dialect, "agency", "agency_id", "agency_name", "agency_url", "agency_timezone")
	stopBatch := i.newBatchInserter(tx, dialect, "stops", "stop_id", "stop_name", "stop_lat", "stop_lon", "wheelchair_boarding", "zone_id")
	routeBatch := i.newBatchInserter(tx, dialect, "routes", "route_id", "route_short_name", "route_long_name", "route_type", "route_color", "route_text_color")
	calendarBatch := i.newBatchInserter(tx, dialect, "calendar", "service_id", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday", "start_date", "end_date")
	calendarDateBatch := i.newBatchInserter(tx, dialect, "calendar_dates", "service_id", "date", "exception_type")
	tripBatch := i.newBatchInserter(tx, dialect, "trips", "trip_id", "route_id", "service_id", "trip_headsign", "direction_id")
	stopTimeBatch := i.newBatchInserter(tx, dialect, "stop_times", "trip_id", "stop_id", "stop_sequence", "arrival_time", "departure_time")

	batches := map[string]*batchInserter{
		"agency.txt":         agencyBatch,
		"stops.txt":          stopBatch,
		"routes.txt":         routeBatch,
		"calendar.txt":       calendarBatch,
		"calendar_dates.txt": calendarDateBatch,
		"trips.txt":          tripBatch,
		"stop_times.txt":     stopTimeBatch,
	}

	lines := newLineIndex()

	callbacks := parser.ParseCallbacks{
		OnAgency: func(agency *models.Agency) error {
			return agencyBatch.Add(ctx,
				agency.AgencyID,
				agency.AgencyName,
				nullString(agency.AgencyURL),
				agency.AgencyTimezone,
			)
		},
		OnStop: func(stop *models.Stop) error {
			return stopBatch.Add(ctx,
				stop.StopID,
				stop.StopName,
				stop.StopLat,
				stop.StopLon,
				stop.WheelchairBoarding,
				nullString(stop.ZoneID),
			)
		},
		OnRoute: func(route *models.Route) error {
			return routeBatch.Add(ctx,
				route.RouteID,
				nullString(route.RouteShortName),
				nullString(route.RouteLongName),
				route.RouteType,
				nullString(route.RouteColor),
				nullString(route.RouteTextColor),
			)
		},
		OnCalendar: func(calendar *models.Calendar) error {
			return calendarBatch.Add(ctx,
				calendar.ServiceID,
				boolInt(calendar.Monday),
				boolInt(calendar.Tuesday),
				boolInt(calendar.Wednesday),
				boolInt(calendar.Thursday),
				boolInt(calendar.Friday),
				boolInt(calendar.Saturday),
				boolInt(calendar.Sunday),
				calendar.StartDate,
				calendar.EndDate,
			)
		},
		OnCalendarDate: func(calendarDate *models.CalendarDate) error {
			return calendarDateBatch.Add(ctx,
				calendarDate.ServiceID,
				calendarDate.Date,
				int(calendarDate.ExceptionType),
			)
		},
		OnTrip: func(trip *models.Trip) error {
			lines.addTrip(trip.TripID, trip.RouteID)
			return tripBatch.Add(ctx,
				trip.TripID,
				trip.RouteID,
				trip.ServiceID,
				nullString(trip.TripHeadsign),
				trip.DirectionID,
			)
		},
		OnStopTime: func(stopTime *models.StopTime) error {
			lines.addStopTime(stopTime.TripID, stopTime.StopID)
			return stopTimeBatch.Add(ctx,
				stopTime.TripID,
				stopTime.StopID,
				stopTime.StopSequence,
				nullString(stopTime.ArrivalTime),
				nullString(stopTime.DepartureTime),
			)
		},
		// Flushing per file keeps parents committed before children reference them.
		OnFileComplete: func(fileName string) error {
			if batch, ok := batches[fileName]; ok {
				if err := batch.Flush(ctx); err != nil {
					return fmt.Errorf("flushing %s batch: %w", batch.tableName, err)
				}
			}
			return nil
		},
	}

	if err := parse(parser.New(i.logger), callbacks); err != nil {
		return nil, fmt.Errorf("parsing archive: %w", err)
	}

	if err := lines.write(ctx, tx, dialect); err != nil {
		return nil, err
	}

	if err := db.RecordVersion(ctx, tx, dialect, source, lastModified, time.Now()); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return &Result{
		Agencies:      agencyBatch.total,
		Stops:         stopBatch.total,
		Routes:        routeBatch.total,
		Calendars:     calendarBatch.total,
		CalendarDates: calendarDateBatch.total,
		Trips:         tripBatch.total,
		StopTimes:     stopTimeBatch.total,
	}, nil
}

// lineIndex derives the route ids serving each stop from trips and
// stop_times as they stream past.
type lineIndex struct {
	tripRoutes map[string]string
	stopLines  map[string]map[string]struct{}
}

func newLineIndex() *lineIndex {
	return &lineIndex{
		tripRoutes: make(map[string]string),
		stopLines:  make(map[string]map[string]struct{}),
	}
}

func (l *lineIndex) addTrip(tripID, routeID string) {
	l.tripRoutes[tripID] = routeID
}

func (l *lineIndex) addStopTime(tripID, stopID string) {
	routeID, ok := l.tripRoutes[tripID]
	if !ok {
		return
	}
	set, ok := l.stopLines[stopID]
	if !ok {
		set = make(map[string]struct{})
		l.stopLines[stopID] = set
	}
	set[routeID] = struct{}{}
}

func (l *lineIndex) write(ctx context.Context, tx *sql.Tx, dialect string) error {
	query := db.Rebind(dialect, "UPDATE stops SET lines_served = ? WHERE stop_id = ?")
	for stopID, set := range l.stopLines {
		routes := make([]string, 0, len(set))
		for r := range set {
			routes = append(routes, r)
		}
		sort.Strings(routes)

		encoded, err := json.Marshal(routes)
		if err != nil {
			return fmt.Errorf("encoding lines for %s: %w", stopID, err)
		}
		if _, err := tx.ExecContext(ctx, query, string(encoded), stopID); err != nil {
			return fmt.Errorf("updating lines for %s: %w", stopID, err)
		}
	}
	return nil
}

type batchInserter struct {
	tableName string
	columns   []string
	values    []interface{}
	pending   int
	total     int
	batchSize int
	dialect   string
	tx        *sql.Tx
}

func (i *Importer) newBatchInserter(tx *sql.Tx, dialect, tableName string, columns ...string) *batchInserter {
	return &batchInserter{
		tableName: tableName,
		columns:   columns,
		values:    make([]interface{}, 0, i.batchSize*len(columns)),
		batchSize: i.batchSize,
		dialect:   dialect,
		tx:        tx,
	}
}

func (b *batchInserter) Add(ctx context.Context, values ...interface{}) error {
	if len(values) != len(b.columns) {
		return fmt.Errorf("%s: got %d values for %d columns", b.tableName, len(values), len(b.columns))
	}
	b.values = append(b.values, values...)
	b.pending++

	if b.pending >= b.batchSize {
		return b.Flush(ctx)
	}

	return nil
}

func (b *batchInserter) Flush(ctx context.Context) error {
	if b.pending == 0 {
		return nil
	}

	query := db.Rebind(b.dialect, b.buildInsertQuery())
	if _, err := b.tx.ExecContext(ctx, query, b.values...); err != nil {
		return fmt.Errorf("executing batch insert: %w", err)
	}

	b.total += b.pending
	b.values = b.values[:0]
	b.pending = 0

	return nil
}

func (b *batchInserter) buildInsertQuery() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", b.tableName, strings.Join(b.columns, ", "))

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(b.columns)), ", ") + ")"
	for i := 0; i < b.pending; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(placeholders)
	}

	sb.WriteString(" ON CONFLICT DO NOTHING")

	return sb.String()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
