package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// Date is a civil calendar date with no time-of-day or zone attached.
// GTFS service days are compared as dates, never as instants.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const (
	dateLayout     = "2006-01-02"
	gtfsDateLayout = "20060102"
)

// ParseDate accepts both YYYY-MM-DD and the GTFS YYYYMMDD form.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)

	formats := []string{dateLayout, gtfsDateLayout}

	var parseErr error
	for _, format := range formats {
		t, err := time.Parse(format, s)
		if err == nil {
			return DateOf(t), nil
		}
		parseErr = err
	}

	return Date{}, fmt.Errorf("unable to parse date %q: %w", s, parseErr)
}

// DateOf returns the civil date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Noon anchors the date at 12:00 in loc. Noon never falls inside a DST gap,
// so day arithmetic on the result stays on the intended civil date.
func (d Date) Noon(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, loc)
}

func (d Date) Weekday() time.Weekday {
	return d.Noon(time.UTC).Weekday()
}

func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC))
}

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int {
	switch {
	case d.Year != o.Year:
		return cmpInt(d.Year, o.Year)
	case d.Month != o.Month:
		return cmpInt(int(d.Month), int(o.Month))
	default:
		return cmpInt(d.Day, o.Day)
	}
}

func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }
func (d Date) After(o Date) bool  { return d.Compare(o) > 0 }

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Value stores dates as YYYY-MM-DD text so both postgres and sqlite compare
// them lexically.
func (d Date) Value() (driver.Value, error) {
	return d.String(), nil
}

// Scan decodes TEXT, DATE or TIMESTAMP columns.
func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = DateOf(v.UTC())
		return nil
	case []byte:
		return d.Scan(string(v))
	case string:
		parsed, err := ParseDate(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(fmt.Sprintf("\"%s\"", d.String())), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), "\"")
	if s == "null" || s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
