package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/railtracker/internal/schedule/calendar"
	"github.com/railtracker/internal/schedule/gtfstime"
	"github.com/railtracker/pkg/gtfs/models"
)

// TripQuery selects direct trips from Origin to Destination on Date that
// leave Origin at or after Time. Limit <= 0 means no limit.
type TripQuery struct {
	Origin      string
	Destination string
	Date        models.Date
	Time        gtfstime.WallClock
	Limit       int
}

// The calendar and its exception for the search date are left-joined so one
// round trip carries everything calendar.Resolve needs. The SQL predicate
// only prunes rows that cannot be active; the weekday rule runs in Go.
const findTripsQuery = `
	SELECT t.trip_id, t.route_id,
	       COALESCE(r.route_short_name, ''), COALESCE(r.route_long_name, ''),
	       COALESCE(r.route_color, ''), COALESCE(r.route_text_color, ''),
	       t.service_id, COALESCE(t.trip_headsign, ''), t.direction_id,
	       o.stop_id, d.stop_id,
	       COALESCE(o.departure_time, o.arrival_time, ''),
	       COALESCE(d.arrival_time, d.departure_time, ''),
	       c.service_id,
	       c.monday, c.tuesday, c.wednesday, c.thursday, c.friday, c.saturday, c.sunday,
	       c.start_date, c.end_date,
	       cd.exception_type
	FROM trips t
	JOIN routes r ON r.route_id = t.route_id
	JOIN stop_times o ON o.trip_id = t.trip_id AND o.stop_id = ?
	JOIN stop_times d ON d.trip_id = t.trip_id AND d.stop_id = ?
	LEFT JOIN calendar c ON c.service_id = t.service_id
	LEFT JOIN calendar_dates cd ON cd.service_id = t.service_id AND cd.date = ?
	WHERE o.stop_sequence < d.stop_sequence
	  AND (
	        cd.exception_type = 1
	        OR (cd.exception_type IS NULL AND c.start_date <= ? AND c.end_date >= ?)
	      )
	ORDER BY t.trip_id
`

type candidateRow struct {
	models.TripCandidate
	departure int
}

// FindTrips returns one row per qualifying trip, ordered by origin departure.
// No match is an empty result.
func (s *Store) FindTrips(ctx context.Context, q TripQuery) ([]models.TripCandidate, error) {
	rows, err := s.db.QueryContext(ctx, findTripsQuery, q.Origin, q.Destination, q.Date, q.Date, q.Date)
	if err != nil {
		return nil, fmt.Errorf("querying trips %s -> %s: %w", q.Origin, q.Destination, err)
	}
	defer rows.Close()

	searchFrom := q.Time.TotalSeconds()

	var found []candidateRow
	for rows.Next() {
		var (
			c         models.TripCandidate
			calID     sql.NullString
			flags     [7]sql.NullInt64
			start     models.Date
			end       models.Date
			exception sql.NullInt64
		)
		if err := rows.Scan(
			&c.TripID, &c.RouteID,
			&c.RouteShortName, &c.RouteLongName,
			&c.RouteColor, &c.RouteTextColor,
			&c.ServiceID, &c.TripHeadsign, &c.DirectionID,
			&c.OriginStopID, &c.DestinationStopID,
			&c.DepartureTime, &c.ArrivalTime,
			&calID,
			&flags[0], &flags[1], &flags[2], &flags[3], &flags[4], &flags[5], &flags[6],
			&start, &end,
			&exception,
		); err != nil {
			return nil, fmt.Errorf("scanning trip row: %w", err)
		}

		var cal *models.Calendar
		if calID.Valid {
			cal = &models.Calendar{ServiceID: calID.String, StartDate: start, EndDate: end}
			var ints [7]int
			for i, f := range flags {
				ints[i] = int(f.Int64)
			}
			setDayFlags(cal, ints)
		}

		var exc *models.CalendarDate
		if exception.Valid {
			exc = &models.CalendarDate{
				ServiceID:     c.ServiceID,
				Date:          q.Date,
				ExceptionType: models.ExceptionType(exception.Int64),
			}
		}

		if !calendar.Resolve(cal, exc, q.Date) {
			continue
		}

		// Untimed stops are allowed; a trip cannot be placed on the board
		// without an origin time.
		if strings.TrimSpace(c.DepartureTime) == "" {
			continue
		}
		dep, err := gtfstime.ParseWallClock(c.DepartureTime)
		if err != nil {
			return nil, fmt.Errorf("trip %s departure: %w", c.TripID, err)
		}
		if dep.TotalSeconds() < searchFrom {
			continue
		}

		found = append(found, candidateRow{TripCandidate: c, departure: dep.TotalSeconds()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trip rows: %w", err)
	}

	// Wall-clock strings may be unpadded ("8:05:00"), so order numerically.
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].departure < found[j].departure
	})

	if q.Limit > 0 && len(found) > q.Limit {
		found = found[:q.Limit]
	}

	out := make([]models.TripCandidate, len(found))
	for i, row := range found {
		out[i] = row.TripCandidate
	}
	return out, nil
}

// StopTimesForTrip returns the trip's stops in stop_sequence order.
func (s *Store) StopTimesForTrip(ctx context.Context, tripID string) ([]models.TripStop, error) {
	query := `
		SELECT st.trip_id, st.stop_id, s.stop_name, st.stop_sequence,
		       COALESCE(st.arrival_time, ''), COALESCE(st.departure_time, ''),
		       s.stop_lat, s.stop_lon
		FROM stop_times st
		JOIN stops s ON s.stop_id = st.stop_id
		WHERE st.trip_id = ?
		ORDER BY st.stop_sequence
	`

	rows, err := s.db.QueryContext(ctx, query, tripID)
	if err != nil {
		return nil, fmt.Errorf("querying stop times for %s: %w", tripID, err)
	}
	defer rows.Close()

	var stops []models.TripStop
	for rows.Next() {
		var (
			ts       models.TripStop
			lat, lon sql.NullFloat64
		)
		if err := rows.Scan(
			&ts.TripID, &ts.StopID, &ts.StopName, &ts.StopSequence,
			&ts.ArrivalTime, &ts.DepartureTime,
			&lat, &lon,
		); err != nil {
			return nil, fmt.Errorf("scanning stop time: %w", err)
		}
		ts.StopLat = nullFloat(lat)
		ts.StopLon = nullFloat(lon)
		stops = append(stops, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stop times: %w", err)
	}

	return stops, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
