package trains

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railtracker/internal/common/cache"
	"github.com/railtracker/internal/common/db"
	"github.com/railtracker/internal/common/logger"
	"github.com/railtracker/internal/gtfs-realtime/snapshot"
	"github.com/railtracker/internal/schedule/gtfstime"
	"github.com/railtracker/internal/schedule/store"
	"github.com/railtracker/pkg/gtfs/models"
)

func chicago(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	return loc
}

// 07:30 CDT on Monday 2024-06-03.
func fixedClock() time.Time {
	return time.Date(2024, 6, 3, 12, 30, 0, 0, time.UTC)
}

type fakeSchedule struct {
	candidates []models.TripCandidate
	stops      map[string][]models.TripStop
	trips      map[string]*models.TripRoute
	err        error

	findCalls int
	lastQuery store.TripQuery
}

func (f *fakeSchedule) FindTrips(_ context.Context, q store.TripQuery) ([]models.TripCandidate, error) {
	f.findCalls++
	f.lastQuery = q
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

func (f *fakeSchedule) StopTimesForTrip(_ context.Context, tripID string) ([]models.TripStop, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stops[tripID], nil
}

func (f *fakeSchedule) TripByID(_ context.Context, tripID string) (*models.TripRoute, error) {
	if f.err != nil {
		return nil, f.err
	}
	tr, ok := f.trips[tripID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return tr, nil
}

func newService(t *testing.T, sched Schedule, snap *snapshot.Snapshot) *Service {
	t.Helper()
	return NewService(sched, snapshot.Static(snap), cache.NewTTL(16), Config{
		Location: chicago(t),
		TTL:      30 * time.Second,
		Clock:    fixedClock,
		Logger:   logger.Nop(),
	})
}

func candidate(tripID, route, dep, arr string) models.TripCandidate {
	return models.TripCandidate{
		TripID: tripID, RouteID: route, RouteLongName: route + " Line", ServiceID: "WKD",
		OriginStopID: "A", DestinationStopID: "B", DepartureTime: dep, ArrivalTime: arr,
	}
}

func twoStops(tripID, dep, arr string) []models.TripStop {
	return []models.TripStop{
		{TripID: tripID, StopID: "A", StopName: "Alpha", StopSequence: 1, ArrivalTime: dep, DepartureTime: dep, StopLat: ptr(41.88), StopLon: ptr(-87.63)},
		{TripID: tripID, StopID: "B", StopName: "Bravo", StopSequence: 2, ArrivalTime: arr, DepartureTime: arr, StopLat: ptr(41.90), StopLon: ptr(-87.70)},
	}
}

func TestEndToEndAgainstStore(t *testing.T) {
	ctx := context.Background()
	database, err := db.Open(db.DialectSQLite, ":memory:", logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.CreateSchema(ctx))

	for _, q := range []string{
		`INSERT INTO routes (route_id, route_long_name, route_type) VALUES ('L1', 'Line One', 2)`,
		`INSERT INTO stops (stop_id, stop_name, stop_lat, stop_lon) VALUES ('A', 'Alpha', 41.88, -87.63), ('B', 'Bravo', 41.90, -87.70)`,
		`INSERT INTO calendar VALUES ('WKD', 1, 0, 0, 0, 0, 0, 0, '2024-06-01', '2024-06-30')`,
		`INSERT INTO trips (trip_id, route_id, service_id, direction_id) VALUES ('T1', 'L1', 'WKD', 0)`,
		`INSERT INTO stop_times VALUES ('T1', 'A', 1, '08:00:00', '08:00:00'), ('T1', 'B', 2, '08:20:00', '08:20:00')`,
	} {
		_, err := database.ExecContext(ctx, q)
		require.NoError(t, err, q)
	}

	svc := newService(t, store.New(database), nil)

	trains, err := svc.GetUpcomingTrains(ctx, Query{Origin: "A", Destination: "B", Date: "2024-06-03", Time: "07:00:00"})
	require.NoError(t, err)
	require.Len(t, trains, 1)

	train := trains[0]
	assert.Equal(t, "T1", train.TripID)
	assert.Equal(t, "L1", train.LineID)
	assert.Equal(t, "Line One", train.LineName)
	assert.Equal(t, "2024-06-03T08:00:00-05:00", train.DepartureTime)
	assert.Equal(t, "2024-06-03T08:20:00-05:00", train.ArrivalTime)
	assert.Equal(t, models.StatusScheduled, train.Status)
	assert.Zero(t, train.DelayMinutes)
	assert.Empty(t, train.CurrentStationID)
	require.Len(t, train.Stops, 2)
	assert.Equal(t, "Alpha", train.Stops[0].StationName)
	assert.Equal(t, "2024-06-03T08:20:00-05:00", train.Stops[1].ArrivalTime)

	// Tuesday has no service.
	trains, err = svc.GetUpcomingTrains(ctx, Query{Origin: "A", Destination: "B", Date: "2024-06-04", Time: "07:00:00"})
	require.NoError(t, err)
	assert.Empty(t, trains)

	// Opposite direction never matches.
	trains, err = svc.GetUpcomingTrains(ctx, Query{Origin: "B", Destination: "A", Date: "2024-06-03", Time: "07:00:00"})
	require.NoError(t, err)
	assert.Empty(t, trains)
}

func TestCacheHitIsIdempotent(t *testing.T) {
	sched := &fakeSchedule{
		candidates: []models.TripCandidate{candidate("T1", "L1", "08:00:00", "08:20:00")},
		stops:      map[string][]models.TripStop{"T1": twoStops("T1", "08:00:00", "08:20:00")},
	}
	snap := snapshot.New([]snapshot.TripUpdate{{TripID: "T1", DelayMinutes: 2}}, nil)
	svc := newService(t, sched, snap)
	q := Query{Origin: "A", Destination: "B", Time: "07:00"}

	first, err := svc.GetUpcomingTrains(context.Background(), q)
	require.NoError(t, err)
	second, err := svc.GetUpcomingTrains(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, 1, sched.findCalls)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	// Callers can't corrupt the cached value.
	first[0].Stops[0].StationName = "mutated"
	third, err := svc.GetUpcomingTrains(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", third[0].Stops[0].StationName)
	assert.Equal(t, models.StatusDelayed, third[0].Status)
}

func TestCacheKeyIncludesEveryParameter(t *testing.T) {
	sched := &fakeSchedule{}
	svc := newService(t, sched, nil)
	ctx := context.Background()

	queries := []Query{
		{Origin: "A", Destination: "B"},
		{Origin: "A", Destination: "B", Limit: 3},
		{Origin: "A", Destination: "B", Time: "09:00:00"},
		{Origin: "A", Destination: "B", Date: "2024-06-04"},
		{Origin: "B", Destination: "A"},
	}
	for _, q := range queries {
		_, err := svc.GetUpcomingTrains(ctx, q)
		require.NoError(t, err)
	}
	assert.Equal(t, len(queries), sched.findCalls)

	svc.InvalidateCache()
	_, err := svc.GetUpcomingTrains(ctx, queries[0])
	require.NoError(t, err)
	assert.Equal(t, len(queries)+1, sched.findCalls)
}

func TestDefaultsComeFromAgencyClock(t *testing.T) {
	sched := &fakeSchedule{}
	svc := newService(t, sched, nil)

	_, err := svc.GetUpcomingTrains(context.Background(), Query{Origin: "A", Destination: "B", Limit: 5})
	require.NoError(t, err)

	assert.Equal(t, "2024-06-03", sched.lastQuery.Date.String())
	assert.Equal(t, gtfstime.WallClock{Hours: 7, Minutes: 30}, sched.lastQuery.Time)
	assert.Equal(t, 5, sched.lastQuery.Limit)
}

func TestDefaultDateBeforeUTCMidnightRollover(t *testing.T) {
	sched := &fakeSchedule{}
	svc := NewService(sched, snapshot.NewHolder(), nil, Config{
		Location: chicago(t),
		Clock:    func() time.Time { return time.Date(2024, 6, 4, 3, 30, 0, 0, time.UTC) },
	})

	_, err := svc.GetUpcomingTrains(context.Background(), Query{Origin: "A", Destination: "B"})
	require.NoError(t, err)

	assert.Equal(t, "2024-06-03", sched.lastQuery.Date.String())
	assert.Equal(t, gtfstime.WallClock{Hours: 22, Minutes: 30}, sched.lastQuery.Time)
}

func TestDedupKeepsLastRowInFirstPosition(t *testing.T) {
	sched := &fakeSchedule{
		candidates: []models.TripCandidate{
			candidate("T1", "L1", "08:00:00", "08:20:00"),
			candidate("T2", "L2", "08:00:00", "08:25:00"),
			candidate("T1-dup", "L1", "08:00:00", "08:21:00"),
			candidate("T3", "L1", "09:00:00", "09:20:00"),
		},
		stops: map[string][]models.TripStop{},
	}
	svc := newService(t, sched, nil)

	trains, err := svc.GetUpcomingTrains(context.Background(), Query{Origin: "A", Destination: "B", Date: "2024-06-03", Time: "07:00:00"})
	require.NoError(t, err)
	require.Len(t, trains, 3)

	assert.Equal(t, "T1-dup", trains[0].TripID)
	assert.Equal(t, "2024-06-03T08:21:00-05:00", trains[0].ArrivalTime)
	assert.Equal(t, "T2", trains[1].TripID)
	assert.Equal(t, "T3", trains[2].TripID)
}

func TestDedupComparesParsedDepartures(t *testing.T) {
	sched := &fakeSchedule{
		candidates: []models.TripCandidate{
			candidate("T1", "L1", "7:00:00", "7:20:00"),
			candidate("T1-dup", "L1", "07:00:00", "07:22:00"),
		},
		stops: map[string][]models.TripStop{},
	}
	svc := newService(t, sched, nil)

	trains, err := svc.GetUpcomingTrains(context.Background(), Query{Origin: "A", Destination: "B", Date: "2024-06-03", Time: "06:00"})
	require.NoError(t, err)
	require.Len(t, trains, 1)
	assert.Equal(t, "T1-dup", trains[0].TripID)
	assert.Equal(t, "2024-06-03T07:22:00-05:00", trains[0].ArrivalTime)
}

func TestAlertsReadCurrentSnapshot(t *testing.T) {
	holder := snapshot.NewHolder()
	svc := NewService(&fakeSchedule{}, holder, cache.NewTTL(16), Config{
		Location: chicago(t),
		TTL:      30 * time.Second,
		Clock:    fixedClock,
		Logger:   logger.Nop(),
	})
	assert.Empty(t, svc.Alerts("", ""))

	holder.SetAlerts([]snapshot.Alert{
		{ID: "a1", Lines: []string{"UP-N"}, Stations: []string{"A"}},
		{ID: "a2", Lines: []string{"MD-W"}},
	}, fixedClock())

	require.Len(t, svc.Alerts("", ""), 2)
	got := svc.Alerts("UP-N", "A")
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
	assert.Empty(t, svc.Alerts("MD-W", "A"))
}

func TestInvalidQueries(t *testing.T) {
	sched := &fakeSchedule{}
	svc := newService(t, sched, nil)
	ctx := context.Background()

	_, err := svc.GetUpcomingTrains(ctx, Query{Origin: "", Destination: "B"})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = svc.GetUpcomingTrains(ctx, Query{Origin: "A", Destination: "B", Limit: -1})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = svc.GetUpcomingTrains(ctx, Query{Origin: "A", Destination: "B", Time: "quarter past"})
	assert.ErrorIs(t, err, ErrInvalidQuery)
	assert.ErrorIs(t, err, gtfstime.ErrInvalidTime)

	_, err = svc.GetUpcomingTrains(ctx, Query{Origin: "A", Destination: "B", Date: "June 3"})
	assert.ErrorIs(t, err, ErrInvalidQuery)
	assert.ErrorIs(t, err, gtfstime.ErrInvalidDate)

	assert.Zero(t, sched.findCalls)
}

func TestStoreFailureIsNotCached(t *testing.T) {
	boom := errors.New("store unavailable")
	sched := &fakeSchedule{err: boom}
	svc := newService(t, sched, nil)
	q := Query{Origin: "A", Destination: "B"}

	_, err := svc.GetUpcomingTrains(context.Background(), q)
	assert.ErrorIs(t, err, boom)

	sched.err = nil
	trains, err := svc.GetUpcomingTrains(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, trains)
	assert.Equal(t, 2, sched.findCalls)
}

func TestStopsForTripCrossesMidnight(t *testing.T) {
	sched := &fakeSchedule{stops: map[string][]models.TripStop{
		"late": {
			{TripID: "late", StopID: "A", StopSequence: 1, ArrivalTime: "23:50:00", DepartureTime: "23:50:00"},
			{TripID: "late", StopID: "B", StopSequence: 2, ArrivalTime: "25:15:00", DepartureTime: ""},
		},
	}}
	svc := newService(t, sched, nil)

	stops, err := svc.StopsForTrip(context.Background(), "late", "2024-06-03")
	require.NoError(t, err)
	require.Len(t, stops, 2)

	assert.Equal(t, "2024-06-03T23:50:00-05:00", stops[0].DepartureTime)
	assert.Equal(t, "2024-06-04T01:15:00-05:00", stops[1].ArrivalTime)
	assert.Empty(t, stops[1].DepartureTime)

	_, err = svc.StopsForTrip(context.Background(), "late", "not-a-date")
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestTrainDetail(t *testing.T) {
	sched := &fakeSchedule{
		stops: map[string][]models.TripStop{"T1": twoStops("T1", "08:00:00", "08:20:00")},
		trips: map[string]*models.TripRoute{"T1": {
			Trip:  models.Trip{TripID: "T1", RouteID: "L1", ServiceID: "WKD", TripHeadsign: "Bravo"},
			Route: models.Route{RouteID: "L1", RouteShortName: "L1", RouteColor: "FF0000"},
		}},
	}
	snap := snapshot.New(
		[]snapshot.TripUpdate{{TripID: "T1", DelayMinutes: -1}},
		[]snapshot.VehiclePosition{{TripID: "T1", Latitude: 41.899, Longitude: -87.69}},
	)
	svc := newService(t, sched, snap)

	train, err := svc.TrainDetail(context.Background(), "T1", "2024-06-03")
	require.NoError(t, err)
	require.NotNil(t, train)

	assert.Equal(t, "L1", train.LineName)
	assert.Equal(t, "A", train.OriginStationID)
	assert.Equal(t, "B", train.DestinationStationID)
	assert.Equal(t, "2024-06-03T08:00:00-05:00", train.DepartureTime)
	assert.Equal(t, "2024-06-03T08:20:00-05:00", train.ArrivalTime)
	assert.Equal(t, models.StatusEarly, train.Status)
	assert.Equal(t, "B", train.CurrentStationID)
	assert.Equal(t, "2024-06-03T07:30:00-05:00", train.UpdatedAt)

	missing, err := svc.TrainDetail(context.Background(), "nope", "")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTrainDetailPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("store unavailable")
	svc := newService(t, &fakeSchedule{err: boom}, nil)

	_, err := svc.TrainDetail(context.Background(), "T1", "")
	assert.ErrorIs(t, err, boom)
}
