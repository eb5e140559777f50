package models

import "time"

// Reading is one timestamped bundle of sensor measurements for a station. Immutable once created.
type Reading struct {
	ID                  string    `json:"id"`
	StationID           string    `json:"stationId"`
	TideLevel           float64   `json:"tideLevel"`
	WaveHeight          float64   `json:"waveHeight"`
	WindSpeed           float64   `json:"windSpeed"`
	WindDirection       int       `json:"windDirection"`
	WaterTemperature    float64   `json:"waterTemperature"`
	WaterQualityIndex   int       `json:"waterQualityIndex"`
	AtmosphericPressure float64   `json:"atmosphericPressure"`
	Timestamp           time.Time `json:"timestamp"`
}
