// Package store is the typed read side of the schedule database. Rows are
// decoded into model structs at this boundary.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/railtracker/internal/common/db"
	"github.com/railtracker/pkg/gtfs/models"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *db.DB
}

func New(database *db.DB) *Store {
	return &Store{db: database}
}

// TripByID returns the trip joined with its route, or ErrNotFound.
func (s *Store) TripByID(ctx context.Context, tripID string) (*models.TripRoute, error) {
	query := `
		SELECT t.trip_id, t.route_id, t.service_id, COALESCE(t.trip_headsign, ''), t.direction_id,
		       COALESCE(r.route_short_name, ''), COALESCE(r.route_long_name, ''), r.route_type,
		       COALESCE(r.route_color, ''), COALESCE(r.route_text_color, '')
		FROM trips t
		JOIN routes r ON r.route_id = t.route_id
		WHERE t.trip_id = ?
	`

	var tr models.TripRoute
	err := s.db.QueryRowContext(ctx, query, tripID).Scan(
		&tr.Trip.TripID,
		&tr.Trip.RouteID,
		&tr.Trip.ServiceID,
		&tr.Trip.TripHeadsign,
		&tr.Trip.DirectionID,
		&tr.Route.RouteShortName,
		&tr.Route.RouteLongName,
		&tr.Route.RouteType,
		&tr.Route.RouteColor,
		&tr.Route.RouteTextColor,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trip %s: %w", tripID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying trip %s: %w", tripID, err)
	}
	tr.Route.RouteID = tr.Trip.RouteID

	return &tr, nil
}

// Calendar returns the weekly pattern for serviceID, or nil if none exists.
func (s *Store) Calendar(ctx context.Context, serviceID string) (*models.Calendar, error) {
	query := `
		SELECT service_id, monday, tuesday, wednesday, thursday, friday, saturday, sunday,
		       start_date, end_date
		FROM calendar
		WHERE service_id = ?
	`

	var (
		cal   models.Calendar
		flags [7]int
	)
	err := s.db.QueryRowContext(ctx, query, serviceID).Scan(
		&cal.ServiceID,
		&flags[0], &flags[1], &flags[2], &flags[3], &flags[4], &flags[5], &flags[6],
		&cal.StartDate,
		&cal.EndDate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying calendar %s: %w", serviceID, err)
	}
	setDayFlags(&cal, flags)

	return &cal, nil
}

// Exception returns the calendar_dates row for (serviceID, date), or nil.
func (s *Store) Exception(ctx context.Context, serviceID string, date models.Date) (*models.CalendarDate, error) {
	query := `
		SELECT service_id, date, exception_type
		FROM calendar_dates
		WHERE service_id = ? AND date = ?
	`

	var cd models.CalendarDate
	err := s.db.QueryRowContext(ctx, query, serviceID, date).Scan(&cd.ServiceID, &cd.Date, &cd.ExceptionType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying calendar exception %s %s: %w", serviceID, date, err)
	}

	return &cd, nil
}

// HasStaticData reports whether any trips have been imported.
func (s *Store) HasStaticData(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trips").Scan(&n); err != nil {
		return false, fmt.Errorf("counting trips: %w", err)
	}
	return n > 0, nil
}

func setDayFlags(cal *models.Calendar, flags [7]int) {
	cal.Monday = flags[0] == 1
	cal.Tuesday = flags[1] == 1
	cal.Wednesday = flags[2] == 1
	cal.Thursday = flags[3] == 1
	cal.Friday = flags[4] == 1
	cal.Saturday = flags[5] == 1
	cal.Sunday = flags[6] == 1
}
