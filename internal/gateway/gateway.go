// Package gateway is the boundary to the backend that owns station, reading, alert and
// incident tables. Implementations exist for an in-process store, Postgres and a
// PostgREST-style HTTP API.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Table names a backend table.
type Table string

const (
	TableStations  Table = "monitoring_stations"
	TableReadings  Table = "sensor_readings"
	TableAlerts    Table = "alerts"
	TableIncidents Table = "incidents"
	TableTasks     Table = "incident_tasks"
)

// Tables lists every table the gateway serves.
var Tables = []Table{TableStations, TableReadings, TableAlerts, TableIncidents, TableTasks}

// columns is the allow-list of column names per table. Filters, orderings and record keys
// outside it are rejected before reaching a backend.
var columns = map[Table][]string{
	TableStations: {"id", "name", "latitude", "longitude", "station_type", "status", "last_reading", "created_at", "updated_at"},
	TableReadings: {"id", "station_id", "tide_level", "wave_height", "wind_speed", "wind_direction",
		"water_temperature", "water_quality_index", "atmospheric_pressure", "timestamp"},
	TableAlerts: {"id", "title", "message", "severity", "affected_area", "stations", "created_by", "approved_by",
		"is_active", "expires_at", "created_at", "updated_at"},
	TableIncidents: {"id", "title", "description", "severity", "status", "affected_area", "related_stations",
		"assigned_teams", "created_by", "resolved_by", "resolved_at", "created_at", "updated_at"},
	TableTasks: {"id", "incident_id", "title", "description", "assigned_to", "status", "created_at"},
}

// Columns returns the allowed columns of a table, or nil when the table is unknown.
func Columns(t Table) []string {
	return columns[t]
}

// CheckTable returns ErrUnknownTable for tables outside Tables.
func CheckTable(t Table) error {
	if _, ok := columns[t]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTable, t)
	}
	return nil
}

// CheckColumns returns ErrUnknownColumn for the first column not allowed on the table.
func CheckColumns(t Table, cols ...string) error {
	if err := CheckTable(t); err != nil {
		return err
	}
	for _, c := range cols {
		if !hasColumn(t, c) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t, c)
		}
	}
	return nil
}

func hasColumn(t Table, c string) bool {
	for _, known := range columns[t] {
		if known == c {
			return true
		}
	}
	return false
}

// Record is one backend row keyed by column name.
type Record map[string]any

// Keys returns the record's column names.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	return keys
}

// Filter is an equality predicate on one column.
type Filter struct {
	Column string
	Value  any
}

// Order sorts results by one column.
type Order struct {
	Column string
	Desc   bool
}

// Query selects rows from one table. Zero Limit means no limit.
type Query struct {
	Filters []Filter
	Order   []Order
	Limit   int
}

// Eq adds an equality filter.
func (q Query) Eq(col string, v any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Column: col, Value: v})
	return q
}

// OrderBy appends an ordering column.
func (q Query) OrderBy(col string, desc bool) Query {
	q.Order = append(append([]Order(nil), q.Order...), Order{Column: col, Desc: desc})
	return q
}

func (q Query) columns() []string {
	cols := make([]string, 0, len(q.Filters)+len(q.Order))
	for _, f := range q.Filters {
		cols = append(cols, f.Column)
	}
	for _, o := range q.Order {
		cols = append(cols, o.Column)
	}
	return cols
}

// EventKind is a bit set of row change kinds.
type EventKind uint8

const (
	EventInsert EventKind = 1 << iota
	EventUpdate
	EventDelete

	EventAll = EventInsert | EventUpdate | EventDelete
)

// Has reports whether k includes every kind in o.
func (k EventKind) Has(o EventKind) bool {
	return o != 0 && k&o == o
}

func (k EventKind) String() string {
	var parts []string
	if k&EventInsert != 0 {
		parts = append(parts, "insert")
	}
	if k&EventUpdate != 0 {
		parts = append(parts, "update")
	}
	if k&EventDelete != 0 {
		parts = append(parts, "delete")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseEventKind maps an operation name such as "INSERT" to its EventKind; unknown names yield 0.
func ParseEventKind(op string) EventKind {
	switch strings.ToUpper(strings.TrimSpace(op)) {
	case "INSERT":
		return EventInsert
	case "UPDATE":
		return EventUpdate
	case "DELETE":
		return EventDelete
	default:
		return 0
	}
}

// Event notifies that a table changed. It never carries row data.
type Event struct {
	Table      Table
	Kind       EventKind
	ReceivedAt time.Time
}

// Subscription is an open change feed on one table.
type Subscription interface {
	Unsubscribe() error
}

// Gateway is the backend contract used by the stores, the generator and the write path.
type Gateway interface {
	// Query returns the rows of table matching q.
	Query(ctx context.Context, table Table, q Query) ([]Record, error)
	// Insert creates a row and returns its backend-assigned id.
	Insert(ctx context.Context, table Table, rec Record) (string, error)
	// Update applies a partial record to the row with id.
	Update(ctx context.Context, table Table, id string, patch Record) error
	// Delete removes the row with id.
	Delete(ctx context.Context, table Table, id string) error
	// Subscribe invokes fn for every change of a kind in kinds until the subscription is closed.
	// fn may run on any goroutine.
	Subscribe(ctx context.Context, table Table, kinds EventKind, fn func(Event)) (Subscription, error)
}

var (
	ErrNotFound             = errors.New("record not found")
	ErrUnknownTable         = errors.New("unknown table")
	ErrUnknownColumn        = errors.New("unknown column")
	ErrSubscribeUnsupported = errors.New("subscriptions not supported by backend")
	ErrUpstreamFailure      = errors.New("upstream failure")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnauthorized         = errors.New("unauthorized")
)

// validateQuery checks table and column names of a query.
func validateQuery(table Table, q Query) error {
	return CheckColumns(table, q.columns()...)
}

// validateRecord checks table and column names of a record.
func validateRecord(table Table, rec Record) error {
	return CheckColumns(table, rec.Keys()...)
}
