package models

// Status classifies a train against its realtime delay entry.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusOnTime    Status = "on_time"
	StatusDelayed   Status = "delayed"
	StatusEarly     Status = "early"
)

type Position struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Bearing   *float64 `json:"bearing,omitempty"`
}

// TrainStop is one stop of a trip with absolute timestamps.
type TrainStop struct {
	TripID        string `json:"trip_id"`
	StationID     string `json:"station_id"`
	StationName   string `json:"station_name"`
	StopSequence  int    `json:"stop_sequence"`
	ArrivalTime   string `json:"arrival_time"`
	DepartureTime string `json:"departure_time"`
}

// ResolvedTrain is a scheduled trip merged with realtime data. It is built
// per query and never persisted.
type ResolvedTrain struct {
	TripID               string      `json:"trip_id"`
	LineID               string      `json:"line_id"`
	LineName             string      `json:"line_name"`
	LineShortName        string      `json:"line_short_name,omitempty"`
	LineColor            string      `json:"line_color,omitempty"`
	LineTextColor        string      `json:"line_text_color,omitempty"`
	Headsign             string      `json:"headsign,omitempty"`
	DirectionID          int         `json:"direction_id"`
	OriginStationID      string      `json:"origin_station_id"`
	DestinationStationID string      `json:"destination_station_id"`
	DepartureTime        string      `json:"departure_time"`
	ArrivalTime          string      `json:"arrival_time"`
	Status               Status      `json:"status"`
	DelayMinutes         int         `json:"delay_minutes"`
	CurrentStationID     string      `json:"current_station_id,omitempty"`
	CurrentPosition      *Position   `json:"current_position,omitempty"`
	Stops                []TrainStop `json:"stops"`
	ServiceID            string      `json:"service_id"`
	UpdatedAt            string      `json:"updated_at"`
}
