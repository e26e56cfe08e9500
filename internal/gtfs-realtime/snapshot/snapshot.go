// Package snapshot holds the latest realtime poll results. A Snapshot is
// immutable once published; the poller builds a new one and swaps it in.
package snapshot

import (
	"sort"
	"sync/atomic"
	"time"
)

// TripUpdate is the delay for one trip, in whole minutes. Positive is late.
type TripUpdate struct {
	TripID       string
	DelayMinutes int
}

// VehiclePosition is the last reported location of the vehicle on a trip.
type VehiclePosition struct {
	TripID              string
	Latitude            float64
	Longitude           float64
	Bearing             *float64
	CurrentStopSequence *int
	StopID              string
}

// Alert is a service alert with its informed entities flattened to ids.
type Alert struct {
	ID          string   `json:"alert_id"`
	Lines       []string `json:"affected_lines"`
	Stations    []string `json:"affected_stations"`
	Trips       []string `json:"affected_trips"`
	Type        string   `json:"alert_type"`
	Severity    string   `json:"severity"`
	Header      string   `json:"header"`
	Description string   `json:"description"`
	StartTime   string   `json:"start_time"`
	EndTime     string   `json:"end_time,omitempty"`
	URL         string   `json:"url,omitempty"`
}

type Snapshot struct {
	tripUpdates      map[string]TripUpdate
	vehiclePositions map[string]VehiclePosition
	alerts           []Alert

	TripUpdatesAt      time.Time
	VehiclePositionsAt time.Time
	AlertsAt           time.Time
}

// New builds a snapshot. Later entries for the same trip replace earlier ones.
func New(updates []TripUpdate, positions []VehiclePosition) *Snapshot {
	s := &Snapshot{
		tripUpdates:      make(map[string]TripUpdate, len(updates)),
		vehiclePositions: make(map[string]VehiclePosition, len(positions)),
	}
	for _, u := range updates {
		s.tripUpdates[u.TripID] = u
	}
	for _, p := range positions {
		s.vehiclePositions[p.TripID] = p
	}
	return s
}

func (s *Snapshot) TripUpdate(tripID string) (TripUpdate, bool) {
	if s == nil {
		return TripUpdate{}, false
	}
	u, ok := s.tripUpdates[tripID]
	return u, ok
}

func (s *Snapshot) VehiclePosition(tripID string) (VehiclePosition, bool) {
	if s == nil {
		return VehiclePosition{}, false
	}
	p, ok := s.vehiclePositions[tripID]
	return p, ok
}

// DelayUpdates lists trip updates ordered by trip id.
func (s *Snapshot) DelayUpdates() []TripUpdate {
	if s == nil {
		return nil
	}
	out := make([]TripUpdate, 0, len(s.tripUpdates))
	for _, u := range s.tripUpdates {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TripID < out[j].TripID })
	return out
}

// VehiclePositions lists positions ordered by trip id.
func (s *Snapshot) VehiclePositions() []VehiclePosition {
	if s == nil {
		return nil
	}
	out := make([]VehiclePosition, 0, len(s.vehiclePositions))
	for _, p := range s.vehiclePositions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TripID < out[j].TripID })
	return out
}

// Alerts returns alerts affecting lineID and stationID. An empty argument
// does not filter.
func (s *Snapshot) Alerts(lineID, stationID string) []Alert {
	if s == nil {
		return nil
	}
	out := make([]Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if lineID != "" && !contains(a.Lines, lineID) {
			continue
		}
		if stationID != "" && !contains(a.Stations, stationID) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (s *Snapshot) clone() *Snapshot {
	next := *s
	return &next
}

func (s *Snapshot) withTripUpdates(updates []TripUpdate, at time.Time) *Snapshot {
	next := s.clone()
	next.tripUpdates = New(updates, nil).tripUpdates
	next.TripUpdatesAt = at
	return next
}

func (s *Snapshot) withVehiclePositions(positions []VehiclePosition, at time.Time) *Snapshot {
	next := s.clone()
	next.vehiclePositions = New(nil, positions).vehiclePositions
	next.VehiclePositionsAt = at
	return next
}

func (s *Snapshot) withAlerts(alerts []Alert, at time.Time) *Snapshot {
	next := s.clone()
	next.alerts = append([]Alert(nil), alerts...)
	next.AlertsAt = at
	return next
}

// Provider hands out the snapshot current at the moment of the call.
type Provider interface {
	Current() *Snapshot
}

// Holder is the single swappable reference owned by the poller. Readers
// never see a half-updated snapshot because each feed's part is replaced by
// publishing a whole new Snapshot.
type Holder struct {
	p atomic.Pointer[Snapshot]
}

func NewHolder() *Holder {
	h := &Holder{}
	h.p.Store(New(nil, nil))
	return h
}

// Current never returns nil.
func (h *Holder) Current() *Snapshot {
	return h.p.Load()
}

func (h *Holder) Store(s *Snapshot) {
	if s == nil {
		s = New(nil, nil)
	}
	h.p.Store(s)
}

// SetTripUpdates replaces the delays and keeps the rest.
func (h *Holder) SetTripUpdates(updates []TripUpdate, at time.Time) {
	for {
		cur := h.p.Load()
		if h.p.CompareAndSwap(cur, cur.withTripUpdates(updates, at)) {
			return
		}
	}
}

// SetVehiclePositions replaces the positions and keeps the rest.
func (h *Holder) SetVehiclePositions(positions []VehiclePosition, at time.Time) {
	for {
		cur := h.p.Load()
		if h.p.CompareAndSwap(cur, cur.withVehiclePositions(positions, at)) {
			return
		}
	}
}

// SetAlerts replaces the service alerts and keeps the rest.
func (h *Holder) SetAlerts(alerts []Alert, at time.Time) {
	for {
		cur := h.p.Load()
		if h.p.CompareAndSwap(cur, cur.withAlerts(alerts, at)) {
			return
		}
	}
}

type static struct {
	s *Snapshot
}

// Static wraps a fixed snapshot as a Provider.
func Static(s *Snapshot) Provider {
	if s == nil {
		s = New(nil, nil)
	}
	return static{s: s}
}

func (p static) Current() *Snapshot { return p.s }
