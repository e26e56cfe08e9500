package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/railtracker/internal/common/db"
	"github.com/railtracker/pkg/gtfs/models"
)

const stopColumns = `s.stop_id, s.stop_name, s.stop_lat, s.stop_lon,
	s.wheelchair_boarding, COALESCE(s.zone_id, ''), s.lines_served`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStop(row rowScanner) (models.Stop, error) {
	var (
		stop     models.Stop
		lat, lon sql.NullFloat64
		lines    string
	)
	if err := row.Scan(
		&stop.StopID, &stop.StopName, &lat, &lon,
		&stop.WheelchairBoarding, &stop.ZoneID, &lines,
	); err != nil {
		return models.Stop{}, err
	}

	stop.StopLat = nullFloat(lat)
	stop.StopLon = nullFloat(lon)

	stop.LinesServed = []string{}
	if lines != "" {
		if err := json.Unmarshal([]byte(lines), &stop.LinesServed); err != nil {
			return models.Stop{}, fmt.Errorf("decoding lines_served for %s: %w", stop.StopID, err)
		}
	}

	return stop, nil
}

func (s *Store) queryStops(ctx context.Context, query string, args ...interface{}) ([]models.Stop, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying stops: %w", err)
	}
	defer rows.Close()

	stops := []models.Stop{}
	for rows.Next() {
		stop, err := scanStop(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning stop: %w", err)
		}
		stops = append(stops, stop)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stops: %w", err)
	}

	return stops, nil
}

// Stops lists every station ordered by name.
func (s *Store) Stops(ctx context.Context) ([]models.Stop, error) {
	return s.queryStops(ctx, "SELECT "+stopColumns+" FROM stops s ORDER BY s.stop_name, s.stop_id")
}

// StopByID returns one station or ErrNotFound.
func (s *Store) StopByID(ctx context.Context, stopID string) (*models.Stop, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+stopColumns+" FROM stops s WHERE s.stop_id = ?", stopID)

	stop, err := scanStop(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stop %s: %w", stopID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying stop %s: %w", stopID, err)
	}

	return &stop, nil
}

// StopsByIDs returns the known stations among ids, keyed by stop_id.
func (s *Store) StopsByIDs(ctx context.Context, ids []string) (map[string]models.Stop, error) {
	out := make(map[string]models.Stop, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var (
		query string
		args  []interface{}
	)
	if s.db.Dialect() == db.DialectPostgres {
		query = "SELECT " + stopColumns + " FROM stops s WHERE s.stop_id = ANY(?)"
		args = []interface{}{pq.Array(ids)}
	} else {
		query = "SELECT " + stopColumns + " FROM stops s WHERE s.stop_id IN (" +
			strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")"
		args = make([]interface{}, len(ids))
		for i, id := range ids {
			args[i] = id
		}
	}

	stops, err := s.queryStops(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for _, stop := range stops {
		out[stop.StopID] = stop
	}
	return out, nil
}

// ReachableStops lists stations that some trip visits after originID.
func (s *Store) ReachableStops(ctx context.Context, originID string) ([]models.Stop, error) {
	query := `
		SELECT DISTINCT ` + stopColumns + `
		FROM stop_times o
		JOIN stop_times d ON d.trip_id = o.trip_id AND d.stop_sequence > o.stop_sequence
		JOIN stops s ON s.stop_id = d.stop_id
		WHERE o.stop_id = ? AND d.stop_id <> ?
		ORDER BY s.stop_name, s.stop_id
	`
	return s.queryStops(ctx, query, originID, originID)
}

// Routes lists every line ordered by route_id.
func (s *Store) Routes(ctx context.Context) ([]models.Route, error) {
	query := `
		SELECT route_id, COALESCE(route_short_name, ''), COALESCE(route_long_name, ''),
		       route_type, COALESCE(route_color, ''), COALESCE(route_text_color, '')
		FROM routes
		ORDER BY route_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying routes: %w", err)
	}
	defer rows.Close()

	routes := []models.Route{}
	for rows.Next() {
		var r models.Route
		if err := rows.Scan(&r.RouteID, &r.RouteShortName, &r.RouteLongName,
			&r.RouteType, &r.RouteColor, &r.RouteTextColor); err != nil {
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		routes = append(routes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating routes: %w", err)
	}

	return routes, nil
}
