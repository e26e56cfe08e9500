package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/railtracker/internal/common/logger"
	"github.com/railtracker/pkg/gtfs/models"
)

type Parser struct {
	logger logger.Logger
}

func New(logger logger.Logger) *Parser {
	return &Parser{logger: logger}
}

type ParseCallbacks struct {
	OnAgency       func(agency *models.Agency) error
	OnStop         func(stop *models.Stop) error
	OnRoute        func(route *models.Route) error
	OnTrip         func(trip *models.Trip) error
	OnStopTime     func(stopTime *models.StopTime) error
	OnCalendar     func(calendar *models.Calendar) error
	OnCalendarDate func(calendarDate *models.CalendarDate) error
	OnFileComplete func(fileName string) error
}

// Files are parsed parents first so inserts satisfy foreign keys.
var parseOrder = []string{
	"agency.txt",
	"stops.txt",
	"routes.txt",
	"calendar.txt",
	"calendar_dates.txt",
	"trips.txt",
	"stop_times.txt",
}

var requiredFiles = []string{"stops.txt", "routes.txt", "trips.txt", "stop_times.txt"}

func (p *Parser) ParseZip(ctx context.Context, zipPath string, callbacks ParseCallbacks) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("opening zip file: %w", err)
	}
	defer reader.Close()

	p.logger.Info("Parsing GTFS zip file", "path", zipPath, "files", len(reader.File))
	return p.ParseReader(ctx, &reader.Reader, callbacks)
}

// ParseBytes parses an archive already held in memory.
func (p *Parser) ParseBytes(ctx context.Context, data []byte, callbacks ParseCallbacks) error {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("creating zip reader: %w", err)
	}
	return p.ParseReader(ctx, reader, callbacks)
}

// ParseReader parses a GTFS archive. Some agencies publish the feed as a
// google_transit.zip inside the outer archive; that inner archive is used
// when the outer one has no stops.txt.
func (p *Parser) ParseReader(ctx context.Context, reader *zip.Reader, callbacks ParseCallbacks) error {
	fileMap := make(map[string]*zip.File)
	var nested *zip.File
	for _, file := range reader.File {
		fileMap[file.Name] = file
		if nested == nil && strings.HasSuffix(file.Name, "google_transit.zip") {
			nested = file
		}
	}

	if _, ok := fileMap["stops.txt"]; !ok && nested != nil {
		p.logger.Info("Detected nested GTFS archive", "file", nested.Name)
		return p.parseNestedGTFS(ctx, nested, callbacks)
	}

	for _, name := range requiredFiles {
		if _, ok := fileMap[name]; !ok {
			return fmt.Errorf("archive is missing %s", name)
		}
	}
	if _, hasCal := fileMap["calendar.txt"]; !hasCal {
		if _, hasDates := fileMap["calendar_dates.txt"]; !hasDates {
			return fmt.Errorf("archive has neither calendar.txt nor calendar_dates.txt")
		}
	}

	for _, fileName := range parseOrder {
		file, exists := fileMap[fileName]
		if !exists {
			p.logger.Debug("File not found in archive", "file", fileName)
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := p.parseFile(file, callbacks); err != nil {
			return fmt.Errorf("parsing %s: %w", fileName, err)
		}
	}

	p.logger.Info("GTFS parsing completed successfully")
	return nil
}

func (p *Parser) parseNestedGTFS(ctx context.Context, zipFile *zip.File, callbacks ParseCallbacks) error {
	rc, err := zipFile.Open()
	if err != nil {
		return fmt.Errorf("opening nested zip: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("reading nested zip: %w", err)
	}
	return p.ParseBytes(ctx, data, callbacks)
}

func (p *Parser) parseFile(file *zip.File, callbacks ParseCallbacks) error {
	p.logger.Debug("Parsing file", "name", file.Name, "size", file.UncompressedSize64)

	rc, err := file.Open()
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}

	headerMap := make(map[string]int)
	for i, h := range header {
		// Some exporters write a UTF-8 BOM before the first column name.
		headerMap[strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")] = i
	}
	r := row{header: headerMap}

	count := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading record: %w", err)
		}
		r.record = record

		if err := p.dispatch(file.Name, r, callbacks); err != nil {
			return err
		}

		count++
		if count%10000 == 0 {
			p.logger.Debug("Progress", "file", file.Name, "records", count)
		}
	}

	p.logger.Info("File parsed", "name", file.Name, "records", count)

	if callbacks.OnFileComplete != nil {
		if err := callbacks.OnFileComplete(file.Name); err != nil {
			return fmt.Errorf("file complete callback: %w", err)
		}
	}

	return nil
}

func (p *Parser) dispatch(fileName string, r row, callbacks ParseCallbacks) error {
	switch fileName {
	case "agency.txt":
		if callbacks.OnAgency != nil {
			return callbacks.OnAgency(parseAgency(r))
		}
	case "stops.txt":
		if callbacks.OnStop != nil {
			return callbacks.OnStop(parseStop(r))
		}
	case "routes.txt":
		if callbacks.OnRoute != nil {
			return callbacks.OnRoute(parseRoute(r))
		}
	case "trips.txt":
		if callbacks.OnTrip != nil {
			return callbacks.OnTrip(parseTrip(r))
		}
	case "stop_times.txt":
		if callbacks.OnStopTime != nil {
			return callbacks.OnStopTime(parseStopTime(r))
		}
	case "calendar.txt":
		if callbacks.OnCalendar != nil {
			calendar, err := parseCalendar(r)
			if err != nil {
				p.logger.Warn("Failed to parse calendar record", "error", err)
				return nil
			}
			return callbacks.OnCalendar(calendar)
		}
	case "calendar_dates.txt":
		if callbacks.OnCalendarDate != nil {
			calendarDate, err := parseCalendarDate(r)
			if err != nil {
				p.logger.Warn("Failed to parse calendar_date record", "error", err)
				return nil
			}
			return callbacks.OnCalendarDate(calendarDate)
		}
	}
	return nil
}

// row reads named columns from one CSV record.
type row struct {
	header map[string]int
	record []string
}

func (r row) str(field string) string {
	if idx, ok := r.header[field]; ok && idx < len(r.record) {
		return strings.TrimSpace(r.record[idx])
	}
	return ""
}

func (r row) intOr(field string, defaultVal int) int {
	val, err := strconv.Atoi(r.str(field))
	if err != nil {
		return defaultVal
	}
	return val
}

func (r row) optFloat(field string) *float64 {
	val, err := strconv.ParseFloat(r.str(field), 64)
	if err != nil {
		return nil
	}
	return &val
}

func (r row) flag(field string) bool {
	return r.str(field) == "1"
}

func parseAgency(r row) *models.Agency {
	return &models.Agency{
		AgencyID:       r.str("agency_id"),
		AgencyName:     r.str("agency_name"),
		AgencyURL:      r.str("agency_url"),
		AgencyTimezone: r.str("agency_timezone"),
	}
}

func parseStop(r row) *models.Stop {
	return &models.Stop{
		StopID:             r.str("stop_id"),
		StopName:           r.str("stop_name"),
		StopLat:            r.optFloat("stop_lat"),
		StopLon:            r.optFloat("stop_lon"),
		WheelchairBoarding: r.intOr("wheelchair_boarding", 0),
		ZoneID:             r.str("zone_id"),
	}
}

func parseRoute(r row) *models.Route {
	return &models.Route{
		RouteID:        r.str("route_id"),
		RouteShortName: r.str("route_short_name"),
		RouteLongName:  r.str("route_long_name"),
		RouteType:      r.intOr("route_type", 2),
		RouteColor:     r.str("route_color"),
		RouteTextColor: r.str("route_text_color"),
	}
}

func parseTrip(r row) *models.Trip {
	return &models.Trip{
		TripID:       r.str("trip_id"),
		RouteID:      r.str("route_id"),
		ServiceID:    r.str("service_id"),
		TripHeadsign: r.str("trip_headsign"),
		DirectionID:  r.intOr("direction_id", 0),
	}
}

func parseStopTime(r row) *models.StopTime {
	return &models.StopTime{
		TripID:        r.str("trip_id"),
		StopID:        r.str("stop_id"),
		StopSequence:  r.intOr("stop_sequence", 0),
		ArrivalTime:   r.str("arrival_time"),
		DepartureTime: r.str("departure_time"),
	}
}

func parseCalendar(r row) (*models.Calendar, error) {
	startDate, err := models.ParseDate(r.str("start_date"))
	if err != nil {
		return nil, fmt.Errorf("parsing start_date: %w", err)
	}

	endDate, err := models.ParseDate(r.str("end_date"))
	if err != nil {
		return nil, fmt.Errorf("parsing end_date: %w", err)
	}

	return &models.Calendar{
		ServiceID: r.str("service_id"),
		Monday:    r.flag("monday"),
		Tuesday:   r.flag("tuesday"),
		Wednesday: r.flag("wednesday"),
		Thursday:  r.flag("thursday"),
		Friday:    r.flag("friday"),
		Saturday:  r.flag("saturday"),
		Sunday:    r.flag("sunday"),
		StartDate: startDate,
		EndDate:   endDate,
	}, nil
}

func parseCalendarDate(r row) (*models.CalendarDate, error) {
	date, err := models.ParseDate(r.str("date"))
	if err != nil {
		return nil, fmt.Errorf("parsing date: %w", err)
	}

	exception := models.ExceptionType(r.intOr("exception_type", 0))
	if exception != models.ExceptionAdded && exception != models.ExceptionRemoved {
		return nil, fmt.Errorf("unknown exception_type %q", r.str("exception_type"))
	}

	return &models.CalendarDate{
		ServiceID:     r.str("service_id"),
		Date:          date,
		ExceptionType: exception,
	}, nil
}
