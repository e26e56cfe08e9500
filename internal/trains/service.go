// Package trains resolves scheduled trips between two stations into
// ResolvedTrain records merged with the latest realtime snapshot.
package trains

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/railtracker/internal/common/cache"
	"github.com/railtracker/internal/common/logger"
	"github.com/railtracker/internal/common/metrics"
	"github.com/railtracker/internal/gtfs-realtime/snapshot"
	"github.com/railtracker/internal/schedule/gtfstime"
	"github.com/railtracker/internal/schedule/store"
	"github.com/railtracker/pkg/gtfs/models"
)

var ErrInvalidQuery = errors.New("invalid train query")

// Schedule is the read side of the static timetable.
type Schedule interface {
	FindTrips(ctx context.Context, q store.TripQuery) ([]models.TripCandidate, error)
	StopTimesForTrip(ctx context.Context, tripID string) ([]models.TripStop, error)
	TripByID(ctx context.Context, tripID string) (*models.TripRoute, error)
}

type Config struct {
	// Location is the agency timezone used for defaults and timestamps.
	Location *time.Location
	// TTL of cached query results; normally the realtime poll interval.
	TTL     time.Duration
	Clock   func() time.Time
	Metrics *metrics.Collector
	Logger  logger.Logger
}

type Service struct {
	schedule Schedule
	realtime snapshot.Provider
	cache    cache.Cache

	loc     *time.Location
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Collector
	logger  logger.Logger
}

func NewService(schedule Schedule, realtime snapshot.Provider, c cache.Cache, cfg Config) *Service {
	s := &Service{
		schedule: schedule,
		realtime: realtime,
		cache:    c,
		loc:      cfg.Location,
		ttl:      cfg.TTL,
		now:      cfg.Clock,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.ttl <= 0 {
		s.ttl = 30 * time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = logger.Nop()
	}
	if s.cache == nil {
		s.cache = cache.NewTTL(1024)
	}
	return s
}

// Query selects upcoming direct trains. Time ("HH:MM:SS" or "HH:MM") and
// Date ("YYYY-MM-DD") default to now in the agency timezone. Limit 0 means
// no limit.
type Query struct {
	Origin      string
	Destination string
	Limit       int
	Time        string
	Date        string
}

func (q Query) cacheKey() string {
	limit := "all"
	if q.Limit > 0 {
		limit = strconv.Itoa(q.Limit)
	}
	tm := q.Time
	if tm == "" {
		tm = "now"
	}
	date := q.Date
	if date == "" {
		date = "today"
	}
	return fmt.Sprintf("trains:%s:%s:%s:%s:%s", q.Origin, q.Destination, limit, tm, date)
}

func (q Query) validate() error {
	if strings.TrimSpace(q.Origin) == "" || strings.TrimSpace(q.Destination) == "" {
		return fmt.Errorf("%w: origin and destination are required", ErrInvalidQuery)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: limit must be positive", ErrInvalidQuery)
	}
	return nil
}

// GetUpcomingTrains returns trains from q.Origin to q.Destination ordered by
// departure. Results are cached per query for the configured TTL; failures
// are returned uncached.
func (s *Service) GetUpcomingTrains(ctx context.Context, q Query) ([]models.ResolvedTrain, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	key := q.cacheKey()
	if v, ok := s.cache.Get(key); ok {
		if trains, ok := v.([]models.ResolvedTrain); ok {
			s.metrics.CacheHit()
			s.logger.Debug("Upcoming trains cache hit", "key", key)
			return copyTrains(trains), nil
		}
	}
	s.metrics.CacheMiss()
	s.logger.Debug("Upcoming trains cache miss", "key", key)

	start := time.Now()
	trains, err := s.resolve(ctx, q)
	if err != nil {
		s.metrics.QueryError("upcoming")
		return nil, err
	}
	s.metrics.ObserveResolve(time.Since(start), len(trains))

	s.cache.Set(key, trains, s.ttl)
	return copyTrains(trains), nil
}

func (s *Service) resolve(ctx context.Context, q Query) ([]models.ResolvedTrain, error) {
	now := s.now()
	date, clock := gtfstime.Now(now, s.loc)

	if q.Date != "" {
		d, err := gtfstime.ParseDate(q.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
		}
		date = d
	}
	if q.Time != "" {
		w, err := parseSearchTime(q.Time)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
		}
		clock = w
	}

	candidates, err := s.schedule.FindTrips(ctx, store.TripQuery{
		Origin:      q.Origin,
		Destination: q.Destination,
		Date:        date,
		Time:        clock,
		Limit:       q.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("finding trips: %w", err)
	}

	snap := s.realtime.Current()
	updatedAt := now.In(s.loc).Format(gtfstime.Layout)

	resolved := make([]models.ResolvedTrain, 0, len(candidates))
	for _, c := range candidates {
		tripStops, err := s.schedule.StopTimesForTrip(ctx, c.TripID)
		if err != nil {
			return nil, fmt.Errorf("loading stops for %s: %w", c.TripID, err)
		}
		stops, err := absoluteStops(tripStops, date, s.loc)
		if err != nil {
			return nil, fmt.Errorf("trip %s: %w", c.TripID, err)
		}

		departure, err := gtfstime.ToAbsoluteTimestamp(date, c.DepartureTime, s.loc)
		if err != nil {
			return nil, fmt.Errorf("trip %s departure: %w", c.TripID, err)
		}
		arrival, err := gtfstime.ToAbsoluteTimestamp(date, c.ArrivalTime, s.loc)
		if err != nil {
			return nil, fmt.Errorf("trip %s arrival: %w", c.TripID, err)
		}

		train := models.ResolvedTrain{
			TripID:               c.TripID,
			LineID:               c.RouteID,
			LineName:             lineName(c.RouteLongName, c.RouteShortName),
			LineShortName:        c.RouteShortName,
			LineColor:            c.RouteColor,
			LineTextColor:        c.RouteTextColor,
			Headsign:             c.TripHeadsign,
			DirectionID:          c.DirectionID,
			OriginStationID:      c.OriginStopID,
			DestinationStationID: c.DestinationStopID,
			DepartureTime:        departure,
			ArrivalTime:          arrival,
			Stops:                stops,
			ServiceID:            c.ServiceID,
			UpdatedAt:            updatedAt,
		}
		Annotate(&train, tripStops, snap)

		resolved = append(resolved, train)
	}

	return dedupe(resolved, candidates), nil
}

// dedupe collapses rows sharing (origin departure wall clock, line id). A
// later row replaces the earlier one in the earlier one's position. Two
// distinct trips on the same line leaving at the same second are merged
// too. Departures compare as parsed clocks, so "7:00:00" matches "07:00:00".
func dedupe(trains []models.ResolvedTrain, candidates []models.TripCandidate) []models.ResolvedTrain {
	type key struct {
		departure string
		line      string
	}

	index := make(map[key]int, len(trains))
	out := make([]models.ResolvedTrain, 0, len(trains))
	for i, t := range trains {
		k := key{departure: candidates[i].DepartureTime, line: t.LineID}
		if w, err := gtfstime.ParseWallClock(candidates[i].DepartureTime); err == nil {
			k.departure = w.String()
		}
		if pos, ok := index[k]; ok {
			out[pos] = t
			continue
		}
		index[k] = len(out)
		out = append(out, t)
	}
	return out
}

// StopsForTrip lists a trip's stops with absolute times on the civil date
// given as YYYY-MM-DD, or today in the agency timezone when date is empty.
func (s *Service) StopsForTrip(ctx context.Context, tripID, date string) ([]models.TrainStop, error) {
	d, err := s.serviceDate(date)
	if err != nil {
		return nil, err
	}

	tripStops, err := s.schedule.StopTimesForTrip(ctx, tripID)
	if err != nil {
		s.metrics.QueryError("stops")
		return nil, fmt.Errorf("loading stops for %s: %w", tripID, err)
	}

	return absoluteStops(tripStops, d, s.loc)
}

// TrainDetail resolves a single trip with all its stops. An unknown trip id
// returns (nil, nil).
func (s *Service) TrainDetail(ctx context.Context, tripID, date string) (*models.ResolvedTrain, error) {
	d, err := s.serviceDate(date)
	if err != nil {
		return nil, err
	}

	tr, err := s.schedule.TripByID(ctx, tripID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		s.metrics.QueryError("detail")
		return nil, fmt.Errorf("loading trip %s: %w", tripID, err)
	}

	tripStops, err := s.schedule.StopTimesForTrip(ctx, tripID)
	if err != nil {
		s.metrics.QueryError("detail")
		return nil, fmt.Errorf("loading stops for %s: %w", tripID, err)
	}
	stops, err := absoluteStops(tripStops, d, s.loc)
	if err != nil {
		return nil, fmt.Errorf("trip %s: %w", tripID, err)
	}

	train := &models.ResolvedTrain{
		TripID:        tr.Trip.TripID,
		LineID:        tr.Route.RouteID,
		LineName:      lineName(tr.Route.RouteLongName, tr.Route.RouteShortName),
		LineShortName: tr.Route.RouteShortName,
		LineColor:     tr.Route.RouteColor,
		LineTextColor: tr.Route.RouteTextColor,
		Headsign:      tr.Trip.TripHeadsign,
		DirectionID:   tr.Trip.DirectionID,
		Stops:         stops,
		ServiceID:     tr.Trip.ServiceID,
		UpdatedAt:     s.now().In(s.loc).Format(gtfstime.Layout),
	}
	if len(stops) > 0 {
		first, last := stops[0], stops[len(stops)-1]
		train.OriginStationID = first.StationID
		train.DestinationStationID = last.StationID
		train.DepartureTime = first.DepartureTime
		train.ArrivalTime = last.ArrivalTime
	}

	Annotate(train, tripStops, s.realtime.Current())

	return train, nil
}

// Alerts lists current service alerts affecting lineID and stationID; empty
// arguments match everything.
func (s *Service) Alerts(lineID, stationID string) []snapshot.Alert {
	return s.realtime.Current().Alerts(lineID, stationID)
}

// InvalidateCache drops every cached result, e.g. after a static import.
func (s *Service) InvalidateCache() {
	s.cache.Purge()
	s.logger.Info("Train result cache cleared")
}

func (s *Service) serviceDate(date string) (models.Date, error) {
	if date == "" {
		d, _ := gtfstime.Now(s.now(), s.loc)
		return d, nil
	}
	d, err := gtfstime.ParseDate(date)
	if err != nil {
		return models.Date{}, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	return d, nil
}

func absoluteStops(tripStops []models.TripStop, date models.Date, loc *time.Location) ([]models.TrainStop, error) {
	stops := make([]models.TrainStop, 0, len(tripStops))
	for _, ts := range tripStops {
		arrival, err := gtfstime.ToAbsoluteTimestamp(date, ts.ArrivalTime, loc)
		if err != nil {
			return nil, fmt.Errorf("stop %s arrival: %w", ts.StopID, err)
		}
		departure, err := gtfstime.ToAbsoluteTimestamp(date, ts.DepartureTime, loc)
		if err != nil {
			return nil, fmt.Errorf("stop %s departure: %w", ts.StopID, err)
		}
		stops = append(stops, models.TrainStop{
			TripID:        ts.TripID,
			StationID:     ts.StopID,
			StationName:   ts.StopName,
			StopSequence:  ts.StopSequence,
			ArrivalTime:   arrival,
			DepartureTime: departure,
		})
	}
	return stops, nil
}

func parseSearchTime(s string) (gtfstime.WallClock, error) {
	s = strings.TrimSpace(s)
	if strings.Count(s, ":") == 1 {
		s += ":00"
	}
	return gtfstime.ParseWallClock(s)
}

func lineName(long, short string) string {
	if long != "" {
		return long
	}
	return short
}

func copyTrains(in []models.ResolvedTrain) []models.ResolvedTrain {
	out := make([]models.ResolvedTrain, len(in))
	for i, t := range in {
		out[i] = t
		out[i].Stops = make([]models.TrainStop, len(t.Stops))
		copy(out[i].Stops, t.Stops)
		if t.CurrentPosition != nil {
			pos := *t.CurrentPosition
			out[i].CurrentPosition = &pos
		}
	}
	return out
}
