// Package calendar decides whether a GTFS service runs on a civil date.
package calendar

import (
	"context"
	"fmt"

	"github.com/railtracker/pkg/gtfs/models"
)

// Resolve applies the calendar_dates override rule for one date:
// an ADDED exception makes the service run, a REMOVED exception stops it,
// otherwise the weekly pattern and date range of cal decide. Either argument
// may be nil.
func Resolve(cal *models.Calendar, exc *models.CalendarDate, date models.Date) bool {
	if exc != nil {
		switch exc.ExceptionType {
		case models.ExceptionAdded:
			return true
		case models.ExceptionRemoved:
			return false
		}
	}

	if cal == nil {
		return false
	}

	if date.Before(cal.StartDate) || date.After(cal.EndDate) {
		return false
	}

	return cal.RunsOn(date.Weekday())
}

// Source reads calendar rows. A missing row is (nil, nil).
type Source interface {
	Calendar(ctx context.Context, serviceID string) (*models.Calendar, error)
	Exception(ctx context.Context, serviceID string, date models.Date) (*models.CalendarDate, error)
}

type Resolver struct {
	source Source
}

func NewResolver(source Source) *Resolver {
	return &Resolver{source: source}
}

// IsServiceActive reports whether serviceID runs on date.
func (r *Resolver) IsServiceActive(ctx context.Context, serviceID string, date models.Date) (bool, error) {
	exc, err := r.source.Exception(ctx, serviceID, date)
	if err != nil {
		return false, fmt.Errorf("reading calendar exception for %s: %w", serviceID, err)
	}
	if exc != nil && (exc.ExceptionType == models.ExceptionAdded || exc.ExceptionType == models.ExceptionRemoved) {
		return Resolve(nil, exc, date), nil
	}

	cal, err := r.source.Calendar(ctx, serviceID)
	if err != nil {
		return false, fmt.Errorf("reading calendar for %s: %w", serviceID, err)
	}

	return Resolve(cal, nil, date), nil
}

// ActiveServices filters serviceIDs down to those running on date.
func (r *Resolver) ActiveServices(ctx context.Context, date models.Date, serviceIDs []string) ([]string, error) {
	var active []string
	for _, id := range serviceIDs {
		ok, err := r.IsServiceActive(ctx, id, date)
		if err != nil {
			return nil, err
		}
		if ok {
			active = append(active, id)
		}
	}
	return active, nil
}
