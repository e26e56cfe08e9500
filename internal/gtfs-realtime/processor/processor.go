package processor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
	"unicode/utf8"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"

	"github.com/railtracker/internal/common/config"
	"github.com/railtracker/internal/common/logger"
	"github.com/railtracker/internal/common/metrics"
	"github.com/railtracker/internal/gtfs-realtime/consumer"
	"github.com/railtracker/internal/gtfs-realtime/snapshot"
	"github.com/railtracker/internal/schedule/gtfstime"
)

// Processor turns fetched feeds into snapshots and publishes them to the
// holder the query side reads from.
type Processor struct {
	holder  *snapshot.Holder
	logger  logger.Logger
	metrics *metrics.Collector
}

func NewProcessor(holder *snapshot.Holder, log logger.Logger, m *metrics.Collector) *Processor {
	return &Processor{
		holder:  holder,
		logger:  log,
		metrics: m,
	}
}

func (p *Processor) Start(ctx context.Context, feedChan <-chan *consumer.FeedResult) error {
	p.logger.Info("Starting GTFS-realtime processor")
	go p.processFeedResults(ctx, feedChan)
	return nil
}

func (p *Processor) processFeedResults(ctx context.Context, feedChan <-chan *consumer.FeedResult) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Processor context cancelled")
			return
		case result, ok := <-feedChan:
			if !ok {
				p.logger.Info("Feed channel closed")
				return
			}
			if err := p.Apply(result); err != nil {
				p.logger.Error("Failed to process feed result", "feed", result.Feed.Name, "error", err)
			}
		}
	}
}

// Apply publishes one poll result. Errors and 304s leave the previous
// snapshot in place.
func (p *Processor) Apply(result *consumer.FeedResult) error {
	if result.Error != nil {
		return fmt.Errorf("fetching %s: %w", result.Feed.Name, result.Error)
	}
	if result.NotModified {
		return nil
	}
	if result.Message == nil {
		return fmt.Errorf("feed %s returned no message", result.Feed.Name)
	}

	at := feedTime(result.Message, result.Timestamp)

	switch result.Feed.FeedType {
	case config.FeedTypeTripUpdates:
		updates := TripUpdatesFromFeed(result.Message)
		p.holder.SetTripUpdates(updates, at)
		p.metrics.SetSnapshotEntities(result.Feed.FeedType, len(updates))
		p.logger.Debug("Trip updates published", "count", len(updates))
	case config.FeedTypeVehiclePositions:
		positions := VehiclePositionsFromFeed(result.Message)
		p.holder.SetVehiclePositions(positions, at)
		p.metrics.SetSnapshotEntities(result.Feed.FeedType, len(positions))
		p.logger.Debug("Vehicle positions published", "count", len(positions))
	case config.FeedTypeServiceAlerts:
		alerts := AlertsFromFeed(result.Message, at)
		p.holder.SetAlerts(alerts, at)
		p.metrics.SetSnapshotEntities(result.Feed.FeedType, len(alerts))
		p.logger.Debug("Service alerts published", "count", len(alerts))
	default:
		return fmt.Errorf("unknown feed type %q", result.Feed.FeedType)
	}

	return nil
}

// TripUpdatesFromFeed extracts per-trip delays in minutes. The trip-level
// delay wins; otherwise the first stop_time_update carrying a delay is used.
// A trip update with no delay anywhere counts as on time.
func TripUpdatesFromFeed(msg *gtfsrt.FeedMessage) []snapshot.TripUpdate {
	var updates []snapshot.TripUpdate
	for _, entity := range msg.GetEntity() {
		if entity.GetIsDeleted() {
			continue
		}
		tu := entity.GetTripUpdate()
		tripID := tu.GetTrip().GetTripId()
		if tu == nil || tripID == "" {
			continue
		}

		updates = append(updates, snapshot.TripUpdate{
			TripID:       tripID,
			DelayMinutes: delayMinutes(tu),
		})
	}
	return updates
}

func delayMinutes(tu *gtfsrt.TripUpdate) int {
	if tu.Delay != nil {
		return secondsToMinutes(tu.GetDelay())
	}
	for _, stu := range tu.GetStopTimeUpdate() {
		if ev := stu.GetArrival(); ev != nil && ev.Delay != nil {
			return secondsToMinutes(ev.GetDelay())
		}
		if ev := stu.GetDeparture(); ev != nil && ev.Delay != nil {
			return secondsToMinutes(ev.GetDelay())
		}
	}
	return 0
}

func secondsToMinutes(sec int32) int {
	return int(math.Round(float64(sec) / 60))
}

// VehiclePositionsFromFeed keeps entities that name a trip and carry a
// position.
func VehiclePositionsFromFeed(msg *gtfsrt.FeedMessage) []snapshot.VehiclePosition {
	var positions []snapshot.VehiclePosition
	for _, entity := range msg.GetEntity() {
		if entity.GetIsDeleted() {
			continue
		}
		vp := entity.GetVehicle()
		tripID := vp.GetTrip().GetTripId()
		if vp == nil || vp.GetPosition() == nil || tripID == "" {
			continue
		}

		pos := snapshot.VehiclePosition{
			TripID:    tripID,
			Latitude:  float64(vp.GetPosition().GetLatitude()),
			Longitude: float64(vp.GetPosition().GetLongitude()),
			StopID:    vp.GetStopId(),
		}
		if vp.GetPosition().Bearing != nil {
			b := float64(vp.GetPosition().GetBearing())
			pos.Bearing = &b
		}
		if vp.CurrentStopSequence != nil {
			seq := int(vp.GetCurrentStopSequence())
			pos.CurrentStopSequence = &seq
		}

		positions = append(positions, pos)
	}
	return positions
}

const maxHeaderLength = 100

// AlertsFromFeed flattens service alerts. Times are rendered in UTC; an
// alert without an active period starts at the feed time.
func AlertsFromFeed(msg *gtfsrt.FeedMessage, at time.Time) []snapshot.Alert {
	var alerts []snapshot.Alert
	for _, entity := range msg.GetEntity() {
		a := entity.GetAlert()
		if entity.GetIsDeleted() || a == nil {
			continue
		}

		alert := snapshot.Alert{
			ID:          entity.GetId(),
			Type:        alertType(a),
			Severity:    alertSeverity(a),
			Header:      truncate(translation(a.GetHeaderText()), maxHeaderLength),
			Description: translation(a.GetDescriptionText()),
			URL:         translation(a.GetUrl()),
		}

		lines, stations, trips := map[string]struct{}{}, map[string]struct{}{}, map[string]struct{}{}
		for _, sel := range a.GetInformedEntity() {
			if id := sel.GetRouteId(); id != "" {
				lines[id] = struct{}{}
			}
			if id := sel.GetTrip().GetRouteId(); id != "" {
				lines[id] = struct{}{}
			}
			if id := sel.GetStopId(); id != "" {
				stations[id] = struct{}{}
			}
			if id := sel.GetTrip().GetTripId(); id != "" {
				trips[id] = struct{}{}
			}
		}
		alert.Lines, alert.Stations, alert.Trips = sortedKeys(lines), sortedKeys(stations), sortedKeys(trips)

		start, end := activeWindow(a.GetActivePeriod())
		if start.IsZero() {
			start = at
		}
		alert.StartTime = start.UTC().Format(gtfstime.Layout)
		if !end.IsZero() {
			alert.EndTime = end.UTC().Format(gtfstime.Layout)
		}

		alerts = append(alerts, alert)
	}
	return alerts
}

// activeWindow spans every active period: earliest start, latest end. An
// open-ended period leaves end zero.
func activeWindow(periods []*gtfsrt.TimeRange) (start, end time.Time) {
	open := false
	for _, p := range periods {
		if s := p.GetStart(); s > 0 {
			t := time.Unix(int64(s), 0)
			if start.IsZero() || t.Before(start) {
				start = t
			}
		}
		e := p.GetEnd()
		if e == 0 {
			open = true
			continue
		}
		if t := time.Unix(int64(e), 0); t.After(end) {
			end = t
		}
	}
	if open {
		end = time.Time{}
	}
	return start, end
}

func alertType(a *gtfsrt.Alert) string {
	switch a.GetEffect() {
	case gtfsrt.Alert_NO_SERVICE:
		return "cancellation"
	case gtfsrt.Alert_SIGNIFICANT_DELAYS:
		return "delay"
	case gtfsrt.Alert_DETOUR, gtfsrt.Alert_STOP_MOVED:
		return "detour"
	case gtfsrt.Alert_REDUCED_SERVICE, gtfsrt.Alert_ADDITIONAL_SERVICE, gtfsrt.Alert_MODIFIED_SERVICE:
		return "schedule_change"
	}
	switch a.GetCause() {
	case gtfsrt.Alert_CONSTRUCTION, gtfsrt.Alert_MAINTENANCE:
		return "construction"
	case gtfsrt.Alert_WEATHER:
		return "weather"
	case gtfsrt.Alert_ACCIDENT, gtfsrt.Alert_TECHNICAL_PROBLEM, gtfsrt.Alert_STRIKE,
		gtfsrt.Alert_DEMONSTRATION, gtfsrt.Alert_POLICE_ACTIVITY, gtfsrt.Alert_MEDICAL_EMERGENCY:
		return "incident"
	}
	return "information"
}

// alertSeverity uses the published level, else derives one from the effect.
func alertSeverity(a *gtfsrt.Alert) string {
	switch a.GetSeverityLevel() {
	case gtfsrt.Alert_SEVERE:
		return "severe"
	case gtfsrt.Alert_WARNING:
		return "warning"
	case gtfsrt.Alert_INFO:
		return "info"
	}
	switch a.GetEffect() {
	case gtfsrt.Alert_NO_SERVICE:
		return "severe"
	case gtfsrt.Alert_SIGNIFICANT_DELAYS, gtfsrt.Alert_DETOUR, gtfsrt.Alert_REDUCED_SERVICE:
		return "warning"
	}
	return "info"
}

// translation prefers English, then an untagged text, then the first one.
func translation(ts *gtfsrt.TranslatedString) string {
	var untagged, first string
	for _, t := range ts.GetTranslation() {
		switch t.GetLanguage() {
		case "en", "en-US":
			return t.GetText()
		case "":
			if untagged == "" {
				untagged = t.GetText()
			}
		}
		if first == "" {
			first = t.GetText()
		}
	}
	if untagged != "" {
		return untagged
	}
	return first
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func feedTime(msg *gtfsrt.FeedMessage, fallback time.Time) time.Time {
	if ts := msg.GetHeader().GetTimestamp(); ts > 0 {
		return time.Unix(int64(ts), 0).UTC()
	}
	return fallback
}
