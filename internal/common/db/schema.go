package db

import (
	"context"
	"fmt"
)

// Statements are executed one at a time; both drivers accept this subset of
// DDL unchanged.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS agency (
		agency_id TEXT PRIMARY KEY,
		agency_name TEXT NOT NULL,
		agency_url TEXT,
		agency_timezone TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS routes (
		route_id TEXT PRIMARY KEY,
		route_short_name TEXT,
		route_long_name TEXT,
		route_type INTEGER NOT NULL DEFAULT 2,
		route_color TEXT,
		route_text_color TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS stops (
		stop_id TEXT PRIMARY KEY,
		stop_name TEXT NOT NULL,
		stop_lat DOUBLE PRECISION,
		stop_lon DOUBLE PRECISION,
		wheelchair_boarding INTEGER NOT NULL DEFAULT 0,
		zone_id TEXT,
		lines_served TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS calendar (
		service_id TEXT PRIMARY KEY,
		monday INTEGER NOT NULL,
		tuesday INTEGER NOT NULL,
		wednesday INTEGER NOT NULL,
		thursday INTEGER NOT NULL,
		friday INTEGER NOT NULL,
		saturday INTEGER NOT NULL,
		sunday INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS calendar_dates (
		service_id TEXT NOT NULL,
		date TEXT NOT NULL,
		exception_type INTEGER NOT NULL,
		PRIMARY KEY (service_id, date)
	)`,
	`CREATE TABLE IF NOT EXISTS trips (
		trip_id TEXT PRIMARY KEY,
		route_id TEXT NOT NULL REFERENCES routes (route_id),
		service_id TEXT NOT NULL,
		trip_headsign TEXT,
		direction_id INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS stop_times (
		trip_id TEXT NOT NULL REFERENCES trips (trip_id),
		stop_id TEXT NOT NULL REFERENCES stops (stop_id),
		stop_sequence INTEGER NOT NULL,
		arrival_time TEXT,
		departure_time TEXT,
		PRIMARY KEY (trip_id, stop_sequence)
	)`,
	`CREATE TABLE IF NOT EXISTS feed_versions (
		source TEXT NOT NULL,
		last_modified TEXT NOT NULL,
		imported_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stop_times_stop ON stop_times (stop_id, trip_id)`,
	`CREATE INDEX IF NOT EXISTS idx_trips_route ON trips (route_id)`,
	`CREATE INDEX IF NOT EXISTS idx_trips_service ON trips (service_id)`,
	`CREATE INDEX IF NOT EXISTS idx_calendar_dates_date ON calendar_dates (date)`,
}

// StaticTables lists the tables a static import replaces, children first so
// deletes respect foreign keys.
var StaticTables = []string{"stop_times", "trips", "calendar_dates", "calendar", "stops", "routes", "agency"}

// CreateSchema creates the schedule tables if they do not exist.
func (db *DB) CreateSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	db.logger.Debug("Schema ready", "dialect", db.dialect)
	return nil
}
