// Package gtfstime turns GTFS wall-clock strings into absolute timestamps.
//
// A GTFS stop time is "HH:MM:SS" measured from the start of the service day,
// and HH may run past 23 for trips that continue after local midnight. The
// absolute form is "YYYY-MM-DDTHH:MM:SS±HH:MM" with the agency's UTC offset
// for the civil date the wall clock actually lands on.
package gtfstime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/railtracker/pkg/gtfs/models"
)

// Layout is the absolute timestamp format: seconds precision with an explicit
// numeric offset, never a Z suffix.
const Layout = "2006-01-02T15:04:05-07:00"

var (
	ErrInvalidTime = errors.New("invalid wall-clock time")
	ErrInvalidDate = errors.New("invalid civil date")
)

// WallClock is a parsed GTFS time of day. Hours may exceed 23.
type WallClock struct {
	Hours   int
	Minutes int
	Seconds int
}

// ParseWallClock parses "H:MM:SS" or "HH:MM:SS".
func ParseWallClock(s string) (WallClock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return WallClock{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}

	var fields [3]int
	for i, part := range parts {
		if part == "" || len(part) > 3 {
			return WallClock{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return WallClock{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
		}
		fields[i] = n
	}

	if fields[1] > 59 || fields[2] > 59 {
		return WallClock{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}

	return WallClock{Hours: fields[0], Minutes: fields[1], Seconds: fields[2]}, nil
}

// TotalSeconds is the offset from the start of the service day.
func (w WallClock) TotalSeconds() int {
	return w.Hours*3600 + w.Minutes*60 + w.Seconds
}

// Normalize folds whole days of overflow out of the hour field.
func (w WallClock) Normalize() (days int, clock WallClock) {
	days = w.Hours / 24
	clock = WallClock{Hours: w.Hours % 24, Minutes: w.Minutes, Seconds: w.Seconds}
	return days, clock
}

func (w WallClock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", w.Hours, w.Minutes, w.Seconds)
}

// UTCOffset returns the offset, in seconds, that loc applies on the civil
// date d. It is read from the noon-UTC instant of d rendered in loc, so it
// follows daylight-saving changes rather than assuming a constant offset.
func UTCOffset(d models.Date, loc *time.Location) int {
	_, offset := d.Noon(time.UTC).In(loc).Zone()
	return offset
}

// Absolute resolves a wall clock on service date d to an instant carrying
// the offset of the adjusted civil date.
func Absolute(d models.Date, w WallClock, loc *time.Location) time.Time {
	days, clock := w.Normalize()
	day := d.AddDays(days)

	offset := UTCOffset(day, loc)
	zone := time.FixedZone(zoneName(loc, day), offset)

	return time.Date(day.Year, day.Month, day.Day, clock.Hours, clock.Minutes, clock.Seconds, 0, zone)
}

// ToAbsoluteTimestamp formats wallClock on civil date d in loc. Empty input
// yields an empty result.
func ToAbsoluteTimestamp(d models.Date, wallClock string, loc *time.Location) (string, error) {
	if strings.TrimSpace(wallClock) == "" {
		return "", nil
	}
	if d.IsZero() {
		return "", ErrInvalidDate
	}

	w, err := ParseWallClock(wallClock)
	if err != nil {
		return "", err
	}

	return Absolute(d, w, loc).Format(Layout), nil
}

// ParseDate parses a YYYY-MM-DD search date.
func ParseDate(s string) (models.Date, error) {
	d, err := models.ParseDate(s)
	if err != nil {
		return models.Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return d, nil
}

// Now returns the civil date and wall clock of now in loc.
func Now(now time.Time, loc *time.Location) (models.Date, WallClock) {
	local := now.In(loc)
	h, m, s := local.Clock()
	return models.DateOf(local), WallClock{Hours: h, Minutes: m, Seconds: s}
}

func zoneName(loc *time.Location, d models.Date) string {
	name, _ := d.Noon(time.UTC).In(loc).Zone()
	return name
}
