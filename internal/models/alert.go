package models

import (
	"strings"
	"time"
)

// Severity classifies alerts and incidents.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// Severities lists every known severity from least to most severe.
var Severities = []Severity{SeverityInfo, SeverityWarning, SeverityCritical, SeverityEmergency}

// ParseSeverity maps a raw value to a Severity. Unknown values map to SeverityInfo with ok=false.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityInfo:
		return SeverityInfo, true
	case SeverityWarning:
		return SeverityWarning, true
	case SeverityCritical:
		return SeverityCritical, true
	case SeverityEmergency:
		return SeverityEmergency, true
	default:
		return SeverityInfo, false
	}
}

// Rank orders severities; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	case SeverityEmergency:
		return 3
	default:
		return 0
	}
}

// Alert mirrors a row of the alerts table.
type Alert struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Message          string     `json:"message"`
	Severity         Severity   `json:"severity"`
	AffectedStations []string   `json:"affectedStations,omitempty"`
	CreatedBy        *string    `json:"createdBy,omitempty"`
	ApprovedBy       *string    `json:"approvedBy,omitempty"`
	Active           bool       `json:"active"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// AlertInput is the payload for issuing a new alert.
type AlertInput struct {
	Title            string     `json:"title"`
	Message          string     `json:"message"`
	Severity         Severity   `json:"severity"`
	AffectedStations []string   `json:"affectedStations,omitempty"`
	CreatedBy        string     `json:"createdBy,omitempty"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	// Active defaults to true when nil.
	Active *bool `json:"active,omitempty"`
}

// AlertPatch is a partial alert update; nil fields are left untouched.
type AlertPatch struct {
	Title            *string    `json:"title,omitempty"`
	Message          *string    `json:"message,omitempty"`
	Severity         *Severity  `json:"severity,omitempty"`
	AffectedStations []string   `json:"affectedStations,omitempty"`
	ApprovedBy       *string    `json:"approvedBy,omitempty"`
	Active           *bool      `json:"active,omitempty"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p AlertPatch) Empty() bool {
	return p.Title == nil && p.Message == nil && p.Severity == nil && p.AffectedStations == nil &&
		p.ApprovedBy == nil && p.Active == nil && p.ExpiresAt == nil
}
