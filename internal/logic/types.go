// Package logic contains pure air-quality classification logic.
// This package has NO external dependencies (no sensor, storage, radio, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Level is the air-quality category derived from PM2.5.
type Level string

const (
	LevelUnknown               Level = ""
	LevelGood                  Level = "GOOD"
	LevelModerate              Level = "MODERATE"
	LevelUnhealthyForSensitive Level = "UNHEALTHY_SENSITIVE"
	LevelUnhealthy             Level = "UNHEALTHY"
	LevelVeryUnhealthy         Level = "VERY_UNHEALTHY"
	LevelHazardous             Level = "HAZARDOUS"
)

// Event represents a debounced change of air-quality level.
type Event struct {
	Timestamp time.Time
	From      Level
	To        Level
	AQI       int
}

// LevelState tracks debounce state for the level signal.
type LevelState struct {
	// Current stable (debounced) level
	Stable Level
	// Pending level during debounce
	Pending Level
	// Time when pending level was first observed
	PendingSince time.Time
	// Whether we have established a baseline
	Baselined bool
}

// Input represents a single classified sample.
type Input struct {
	PM25 uint16 // µg/m³
	Time time.Time
}

// EventCounts tracks how often each level has been entered since startup.
type EventCounts map[Level]int
