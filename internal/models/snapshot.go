package models

import "time"

// Snapshot is the consistent read model handed to presentation layers.
type Snapshot struct {
	Stations    []Station           `json:"stations"`
	Readings    map[string]Reading  `json:"readings"`
	Alerts      []Alert             `json:"alerts"`
	Center      Coordinate          `json:"center"`
	Stats       Stats               `json:"stats"`
	Stores      map[string]SyncInfo `json:"stores"`
	GeneratedAt time.Time           `json:"generatedAt"`
}

// SyncInfo reports the last synchronization outcome of one store.
type SyncInfo struct {
	SyncedAt time.Time `json:"syncedAt,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Stats aggregates station and alert counts for the dashboard header.
type Stats struct {
	TotalStations  int                   `json:"totalStations"`
	ActiveStations int                   `json:"activeStations"`
	ByStatus       map[StationStatus]int `json:"byStatus"`
	BySeverity     map[Severity]int      `json:"bySeverity"`
}

// ComputeStats counts stations per status and alerts per severity.
// Every known status and severity is present in the maps, zero when absent.
func ComputeStats(stations []Station, alerts []Alert) Stats {
	st := Stats{
		TotalStations: len(stations),
		ByStatus:      make(map[StationStatus]int, len(StationStatuses)),
		BySeverity:    make(map[Severity]int, len(Severities)),
	}
	for _, s := range StationStatuses {
		st.ByStatus[s] = 0
	}
	for _, s := range Severities {
		st.BySeverity[s] = 0
	}
	for _, s := range stations {
		st.ByStatus[s.Status]++
		if s.Status.Reporting() {
			st.ActiveStations++
		}
	}
	for _, a := range alerts {
		st.BySeverity[a.Severity]++
	}
	return st
}
