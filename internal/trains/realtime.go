package trains

import (
	"math"

	"github.com/railtracker/internal/gtfs-realtime/snapshot"
	"github.com/railtracker/pkg/gtfs/models"
)

// Classify maps the trip's delay entry onto a status. No entry means the
// train is only known from the schedule.
func Classify(snap *snapshot.Snapshot, tripID string) (models.Status, int) {
	update, ok := snap.TripUpdate(tripID)
	if !ok {
		return models.StatusScheduled, 0
	}

	switch {
	case update.DelayMinutes > 0:
		return models.StatusDelayed, update.DelayMinutes
	case update.DelayMinutes < 0:
		return models.StatusEarly, update.DelayMinutes
	default:
		return models.StatusOnTime, 0
	}
}

// Annotate fills status, delay and vehicle location on train from snap.
func Annotate(train *models.ResolvedTrain, stops []models.TripStop, snap *snapshot.Snapshot) {
	train.Status, train.DelayMinutes = Classify(snap, train.TripID)

	vp, ok := snap.VehiclePosition(train.TripID)
	if !ok {
		return
	}

	train.CurrentPosition = &models.Position{
		Latitude:  vp.Latitude,
		Longitude: vp.Longitude,
		Bearing:   vp.Bearing,
	}
	train.CurrentStationID = InferCurrentStop(vp, stops)
}

// InferCurrentStop picks the stop a vehicle is at or heading through:
// an explicit stop id wins, then a matching stop_sequence, then the nearest
// stop whose onward segment points the way the vehicle is heading, then the
// nearest stop overall. It returns "" when no stop has coordinates.
func InferCurrentStop(vp snapshot.VehiclePosition, stops []models.TripStop) string {
	if vp.StopID != "" {
		return vp.StopID
	}

	if vp.CurrentStopSequence != nil {
		for _, s := range stops {
			if s.StopSequence == *vp.CurrentStopSequence {
				return s.StopID
			}
		}
	}

	if vp.Bearing != nil {
		if id := nearestHeadingStop(vp, *vp.Bearing, stops); id != "" {
			return id
		}
	}

	return nearestStop(vp, stops)
}

func nearestHeadingStop(vp snapshot.VehiclePosition, bearing float64, stops []models.TripStop) string {
	best := ""
	bestDist := math.Inf(1)

	for i := 0; i < len(stops)-1; i++ {
		cur, next := stops[i], stops[i+1]
		if !cur.HasLocation() || !next.HasLocation() {
			continue
		}

		segment := initialBearing(*cur.StopLat, *cur.StopLon, *next.StopLat, *next.StopLon)
		if !withinBearing(segment, bearing) {
			continue
		}

		d := haversineMiles(vp.Latitude, vp.Longitude, *cur.StopLat, *cur.StopLon)
		if d < bestDist {
			best, bestDist = cur.StopID, d
		}
	}

	return best
}

func nearestStop(vp snapshot.VehiclePosition, stops []models.TripStop) string {
	best := ""
	bestDist := math.Inf(1)

	for _, s := range stops {
		if !s.HasLocation() {
			continue
		}
		d := haversineMiles(vp.Latitude, vp.Longitude, *s.StopLat, *s.StopLon)
		if d < bestDist {
			best, bestDist = s.StopID, d
		}
	}

	return best
}
