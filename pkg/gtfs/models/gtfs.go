package models

import "time"

type Agency struct {
	AgencyID       string
	AgencyName     string
	AgencyURL      string
	AgencyTimezone string
}

type Route struct {
	RouteID        string `json:"route_id"`
	RouteShortName string `json:"route_short_name"`
	RouteLongName  string `json:"route_long_name"`
	RouteType      int    `json:"route_type"`
	RouteColor     string `json:"route_color"`
	RouteTextColor string `json:"route_text_color"`
}

// Stop is a station row. Coordinates are nil when the feed omits them.
type Stop struct {
	StopID             string   `json:"station_id"`
	StopName           string   `json:"station_name"`
	StopLat            *float64 `json:"latitude,omitempty"`
	StopLon            *float64 `json:"longitude,omitempty"`
	WheelchairBoarding int      `json:"wheelchair_boarding"`
	ZoneID             string   `json:"zone,omitempty"`
	LinesServed        []string `json:"lines_served"`
}

type Trip struct {
	TripID       string
	RouteID      string
	ServiceID    string
	TripHeadsign string
	DirectionID  int
}

type StopTime struct {
	TripID        string
	StopID        string
	StopSequence  int
	ArrivalTime   string // HH:MM:SS, HH may be >= 24
	DepartureTime string // HH:MM:SS, HH may be >= 24
}

type Calendar struct {
	ServiceID string
	Monday    bool
	Tuesday   bool
	Wednesday bool
	Thursday  bool
	Friday    bool
	Saturday  bool
	Sunday    bool
	StartDate Date
	EndDate   Date
}

// RunsOn reports the day-of-week flag for wd.
func (c *Calendar) RunsOn(wd time.Weekday) bool {
	switch wd {
	case time.Monday:
		return c.Monday
	case time.Tuesday:
		return c.Tuesday
	case time.Wednesday:
		return c.Wednesday
	case time.Thursday:
		return c.Thursday
	case time.Friday:
		return c.Friday
	case time.Saturday:
		return c.Saturday
	case time.Sunday:
		return c.Sunday
	}
	return false
}

// ExceptionType is calendar_dates.exception_type.
type ExceptionType int

const (
	ExceptionAdded   ExceptionType = 1
	ExceptionRemoved ExceptionType = 2
)

type CalendarDate struct {
	ServiceID     string
	Date          Date
	ExceptionType ExceptionType
}

// TripCandidate is one row of the origin/destination trip search. Times are
// the raw wall-clock strings from stop_times.
type TripCandidate struct {
	TripID            string
	RouteID           string
	RouteShortName    string
	RouteLongName     string
	RouteColor        string
	RouteTextColor    string
	ServiceID         string
	TripHeadsign      string
	DirectionID       int
	OriginStopID      string
	DestinationStopID string
	DepartureTime     string
	ArrivalTime       string
}

// TripStop is a stop_times row joined with its stop.
type TripStop struct {
	TripID        string
	StopID        string
	StopName      string
	StopSequence  int
	ArrivalTime   string
	DepartureTime string
	StopLat       *float64
	StopLon       *float64
}

// HasLocation reports whether both coordinates are known.
func (s TripStop) HasLocation() bool {
	return s.StopLat != nil && s.StopLon != nil
}

// TripRoute is a trip joined with its route.
type TripRoute struct {
	Trip  Trip
	Route Route
}
