package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railtracker/pkg/gtfs/models"
)

type memSource struct {
	calendars  map[string]*models.Calendar
	exceptions map[string]*models.CalendarDate
	err        error
}

func (m *memSource) Calendar(_ context.Context, serviceID string) (*models.Calendar, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.calendars[serviceID], nil
}

func (m *memSource) Exception(_ context.Context, serviceID string, date models.Date) (*models.CalendarDate, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.exceptions[serviceID+"/"+date.String()], nil
}

func june(day int) models.Date {
	return models.Date{Year: 2024, Month: time.June, Day: day}
}

func weekdays(start, end models.Date) *models.Calendar {
	return &models.Calendar{
		ServiceID: "WKD",
		Monday:    true, Tuesday: true, Wednesday: true, Thursday: true, Friday: true,
		StartDate: start,
		EndDate:   end,
	}
}

func TestResolveWeeklyPattern(t *testing.T) {
	cal := weekdays(june(1), june(30))

	tests := []struct {
		name string
		date models.Date
		want bool
	}{
		{"monday in range", june(3), true},
		{"saturday in range", june(8), false},
		{"first day is saturday", june(1), false},
		{"last day inclusive", models.Date{Year: 2024, Month: time.June, Day: 28}, true},
		{"after range", models.Date{Year: 2024, Month: time.July, Day: 1}, false},
		{"before range", models.Date{Year: 2024, Month: time.May, Day: 31}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(cal, nil, tt.date))
		})
	}
}

func TestResolveEndDateInclusive(t *testing.T) {
	cal := weekdays(june(3), june(3))
	assert.True(t, Resolve(cal, nil, june(3)))
}

func TestExceptionsOverrideCalendar(t *testing.T) {
	added := &models.CalendarDate{ServiceID: "X", Date: june(8), ExceptionType: models.ExceptionAdded}
	removed := &models.CalendarDate{ServiceID: "X", Date: june(3), ExceptionType: models.ExceptionRemoved}

	cals := []*models.Calendar{
		nil,
		weekdays(june(1), june(30)),
		weekdays(june(10), june(20)),
		{ServiceID: "X", Saturday: true, Sunday: true, StartDate: june(1), EndDate: june(30)},
	}

	for _, cal := range cals {
		assert.True(t, Resolve(cal, added, june(8)))
		assert.False(t, Resolve(cal, removed, june(3)))
	}
}

func TestNoCalendarNoException(t *testing.T) {
	assert.False(t, Resolve(nil, nil, june(3)))
}

func TestResolverWK1AddedOnMonday(t *testing.T) {
	src := &memSource{
		calendars: map[string]*models.Calendar{
			"WK1": {ServiceID: "WK1", Saturday: true, StartDate: june(1), EndDate: june(30)},
		},
		exceptions: map[string]*models.CalendarDate{
			"WK1/2024-06-03": {ServiceID: "WK1", Date: june(3), ExceptionType: models.ExceptionAdded},
		},
	}
	r := NewResolver(src)

	ok, err := r.IsServiceActive(context.Background(), "WK1", june(3))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.IsServiceActive(context.Background(), "WK1", june(10))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolverRemovedWithoutCalendar(t *testing.T) {
	src := &memSource{
		exceptions: map[string]*models.CalendarDate{
			"ONLY/2024-06-03": {ServiceID: "ONLY", Date: june(3), ExceptionType: models.ExceptionRemoved},
			"ONLY/2024-06-04": {ServiceID: "ONLY", Date: june(4), ExceptionType: models.ExceptionAdded},
		},
	}
	r := NewResolver(src)

	ok, err := r.IsServiceActive(context.Background(), "ONLY", june(3))
	require.NoError(t, err)
	assert.False(t, ok)

	active, err := r.ActiveServices(context.Background(), june(4), []string{"ONLY", "MISSING"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ONLY"}, active)
}

func TestResolverPropagatesErrors(t *testing.T) {
	boom := errors.New("store unavailable")
	r := NewResolver(&memSource{err: boom})

	_, err := r.IsServiceActive(context.Background(), "WK1", june(3))
	assert.ErrorIs(t, err, boom)
}
