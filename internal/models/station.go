package models

import (
	"strings"
	"time"
)

// StationStatus is the declared operating status of a monitoring station.
type StationStatus string

const (
	StationNormal   StationStatus = "normal"
	StationWarning  StationStatus = "warning"
	StationCritical StationStatus = "critical"
	StationOffline  StationStatus = "offline"
)

// StationStatuses lists every known status in display order.
var StationStatuses = []StationStatus{StationNormal, StationWarning, StationCritical, StationOffline}

// ParseStationStatus maps a raw backend value to a StationStatus.
// Unknown or empty values map to StationOffline with ok=false; it never fails.
func ParseStationStatus(s string) (StationStatus, bool) {
	switch StationStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StationNormal:
		return StationNormal, true
	case StationWarning:
		return StationWarning, true
	case StationCritical:
		return StationCritical, true
	case StationOffline:
		return StationOffline, true
	default:
		return StationOffline, false
	}
}

// Reporting is true for stations that count as active on the dashboard.
func (s StationStatus) Reporting() bool {
	return s == StationNormal || s == StationWarning || s == StationCritical
}

// Station mirrors a row of the monitoring_stations table.
type Station struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Latitude    float64       `json:"latitude"`
	Longitude   float64       `json:"longitude"`
	StationType string        `json:"stationType,omitempty"`
	Status      StationStatus `json:"status"`
	// RawStatus keeps the backend value when it was not one of the known statuses.
	RawStatus   string     `json:"rawStatus,omitempty"`
	LastReading *time.Time `json:"lastReading,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Coordinate is a geographic position in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// FallbackCenter frames the map when no stations are known.
var FallbackCenter = Coordinate{Latitude: 37.7749, Longitude: -122.4194}

// Centroid returns the arithmetic mean position of stations, or FallbackCenter when empty.
func Centroid(stations []Station) Coordinate {
	if len(stations) == 0 {
		return FallbackCenter
	}
	var lat, lng float64
	for _, st := range stations {
		lat += st.Latitude
		lng += st.Longitude
	}
	n := float64(len(stations))
	return Coordinate{Latitude: lat / n, Longitude: lng / n}
}
