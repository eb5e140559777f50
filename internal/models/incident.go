package models

import (
	"strings"
	"time"
)

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentActive        IncidentStatus = "active"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentResolved      IncidentStatus = "resolved"
)

// ParseIncidentStatus maps a raw value to an IncidentStatus. Unknown values map to
// IncidentActive with ok=false so the incident stays visible.
func ParseIncidentStatus(s string) (IncidentStatus, bool) {
	switch IncidentStatus(strings.ToLower(strings.TrimSpace(s))) {
	case IncidentActive:
		return IncidentActive, true
	case IncidentInvestigating:
		return IncidentInvestigating, true
	case IncidentResolved:
		return IncidentResolved, true
	default:
		return IncidentActive, false
	}
}

// TaskStatus is the progress state of an incident task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
)

// ParseTaskStatus maps a raw value to a TaskStatus; unknown values map to TaskPending.
func ParseTaskStatus(s string) (TaskStatus, bool) {
	switch TaskStatus(strings.ToLower(strings.TrimSpace(s))) {
	case TaskPending:
		return TaskPending, true
	case TaskInProgress:
		return TaskInProgress, true
	case TaskCompleted:
		return TaskCompleted, true
	default:
		return TaskPending, false
	}
}

// Incident mirrors a row of the incidents table with its tasks attached.
type Incident struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Severity        Severity       `json:"severity"`
	Status          IncidentStatus `json:"status"`
	RelatedStations []string       `json:"relatedStations,omitempty"`
	AssignedTeams   []string       `json:"assignedTeams,omitempty"`
	CreatedBy       *string        `json:"createdBy,omitempty"`
	ResolvedBy      *string        `json:"resolvedBy,omitempty"`
	ResolvedAt      *time.Time     `json:"resolvedAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	Tasks           []Task         `json:"tasks,omitempty"`
}

// Task is a unit of response work attached to an incident.
type Task struct {
	ID          string     `json:"id"`
	IncidentID  string     `json:"incidentId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	AssignedTo  string     `json:"assignedTo,omitempty"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// IncidentInput is the payload for opening an incident.
type IncidentInput struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Severity        Severity `json:"severity"`
	RelatedStations []string `json:"relatedStations,omitempty"`
	AssignedTeams   []string `json:"assignedTeams,omitempty"`
	CreatedBy       string   `json:"createdBy,omitempty"`
}

// TaskInput is the payload for adding a task to an incident.
type TaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AssignedTo  string `json:"assignedTo,omitempty"`
}
