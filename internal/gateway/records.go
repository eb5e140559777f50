package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/kjstillabower/station-monitor/internal/models"
	"github.com/kjstillabower/station-monitor/internal/observability"
)

// ErrDecode marks a record that could not be mapped onto its model.
var ErrDecode = errors.New("decode record")

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05.999999",
}

// DecodeStation maps a monitoring_stations record. Unknown status values become offline.
func DecodeStation(rec Record) (models.Station, error) {
	var st models.Station
	var err error
	if st.ID, err = requiredString(rec, "id"); err != nil {
		return st, err
	}
	if st.Name, err = requiredString(rec, "name"); err != nil {
		return st, err
	}
	if st.Latitude, err = requiredFloat(rec, "latitude"); err != nil {
		return st, err
	}
	if st.Longitude, err = requiredFloat(rec, "longitude"); err != nil {
		return st, err
	}
	st.StationType, _ = optionalString(rec, "station_type")

	raw, _ := optionalString(rec, "status")
	status, ok := models.ParseStationStatus(raw)
	st.Status = status
	if !ok {
		st.RawStatus = raw
		observability.DecodeFallbacksTotal.WithLabelValues(string(TableStations), "status").Inc()
	}
	if st.LastReading, err = optionalTime(rec, "last_reading"); err != nil {
		return st, err
	}
	if st.CreatedAt, err = timeOrZero(rec, "created_at"); err != nil {
		return st, err
	}
	if st.UpdatedAt, err = timeOrZero(rec, "updated_at"); err != nil {
		return st, err
	}
	return st, nil
}

// DecodeReading maps a sensor_readings record.
func DecodeReading(rec Record) (models.Reading, error) {
	var r models.Reading
	var err error
	if r.ID, err = requiredString(rec, "id"); err != nil {
		return r, err
	}
	if r.StationID, err = requiredString(rec, "station_id"); err != nil {
		return r, err
	}
	ts, err := optionalTime(rec, "timestamp")
	if err != nil {
		return r, err
	}
	if ts == nil {
		return r, missing("timestamp")
	}
	r.Timestamp = *ts

	floats := []struct {
		col string
		dst *float64
	}{
		{"tide_level", &r.TideLevel},
		{"wave_height", &r.WaveHeight},
		{"wind_speed", &r.WindSpeed},
		{"water_temperature", &r.WaterTemperature},
		{"atmospheric_pressure", &r.AtmosphericPressure},
	}
	for _, f := range floats {
		if *f.dst, err = requiredFloat(rec, f.col); err != nil {
			return r, err
		}
	}
	dir, err := requiredFloat(rec, "wind_direction")
	if err != nil {
		return r, err
	}
	r.WindDirection = int(dir)
	wqi, err := requiredFloat(rec, "water_quality_index")
	if err != nil {
		return r, err
	}
	r.WaterQualityIndex = int(wqi)
	return r, nil
}

// DecodeAlert maps an alerts record. Unknown severities become info.
func DecodeAlert(rec Record) (models.Alert, error) {
	var a models.Alert
	var err error
	if a.ID, err = requiredString(rec, "id"); err != nil {
		return a, err
	}
	a.Title, _ = optionalString(rec, "title")
	a.Message, _ = optionalString(rec, "message")
	a.Severity = decodeSeverity(TableAlerts, rec)
	if a.AffectedStations, err = stringSlice(rec, "stations"); err != nil {
		return a, err
	}
	a.CreatedBy = stringPtr(rec, "created_by")
	a.ApprovedBy = stringPtr(rec, "approved_by")
	if v, ok := rec["is_active"].(bool); ok {
		a.Active = v
	}
	if a.ExpiresAt, err = optionalTime(rec, "expires_at"); err != nil {
		return a, err
	}
	if a.CreatedAt, err = timeOrZero(rec, "created_at"); err != nil {
		return a, err
	}
	if a.UpdatedAt, err = timeOrZero(rec, "updated_at"); err != nil {
		return a, err
	}
	return a, nil
}

// DecodeIncident maps an incidents record without tasks. Unknown statuses become active.
func DecodeIncident(rec Record) (models.Incident, error) {
	var in models.Incident
	var err error
	if in.ID, err = requiredString(rec, "id"); err != nil {
		return in, err
	}
	in.Title, _ = optionalString(rec, "title")
	in.Description, _ = optionalString(rec, "description")
	in.Severity = decodeSeverity(TableIncidents, rec)

	raw, _ := optionalString(rec, "status")
	status, ok := models.ParseIncidentStatus(raw)
	if !ok {
		observability.DecodeFallbacksTotal.WithLabelValues(string(TableIncidents), "status").Inc()
	}
	in.Status = status
	if in.RelatedStations, err = stringSlice(rec, "related_stations"); err != nil {
		return in, err
	}
	if in.AssignedTeams, err = stringSlice(rec, "assigned_teams"); err != nil {
		return in, err
	}
	in.CreatedBy = stringPtr(rec, "created_by")
	in.ResolvedBy = stringPtr(rec, "resolved_by")
	if in.ResolvedAt, err = optionalTime(rec, "resolved_at"); err != nil {
		return in, err
	}
	if in.CreatedAt, err = timeOrZero(rec, "created_at"); err != nil {
		return in, err
	}
	if in.UpdatedAt, err = timeOrZero(rec, "updated_at"); err != nil {
		return in, err
	}
	return in, nil
}

// DecodeTask maps an incident_tasks record. Unknown statuses become pending.
func DecodeTask(rec Record) (models.Task, error) {
	var t models.Task
	var err error
	if t.ID, err = requiredString(rec, "id"); err != nil {
		return t, err
	}
	if t.IncidentID, err = requiredString(rec, "incident_id"); err != nil {
		return t, err
	}
	t.Title, _ = optionalString(rec, "title")
	t.Description, _ = optionalString(rec, "description")
	t.AssignedTo, _ = optionalString(rec, "assigned_to")

	raw, _ := optionalString(rec, "status")
	status, ok := models.ParseTaskStatus(raw)
	if !ok {
		observability.DecodeFallbacksTotal.WithLabelValues(string(TableTasks), "status").Inc()
	}
	t.Status = status
	if t.CreatedAt, err = timeOrZero(rec, "created_at"); err != nil {
		return t, err
	}
	return t, nil
}

// DecodeAll applies decode to every record, failing on the first bad one.
func DecodeAll[T any](recs []Record, decode func(Record) (T, error)) ([]T, error) {
	out := make([]T, 0, len(recs))
	for i, rec := range recs {
		v, err := decode(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// EncodeReading builds the insert record for a synthesized reading. Id and timestamp are
// left to the backend unless set.
func EncodeReading(r models.Reading) Record {
	rec := Record{
		"station_id":           r.StationID,
		"tide_level":           r.TideLevel,
		"wave_height":          r.WaveHeight,
		"wind_speed":           r.WindSpeed,
		"wind_direction":       r.WindDirection,
		"water_temperature":    r.WaterTemperature,
		"water_quality_index":  r.WaterQualityIndex,
		"atmospheric_pressure": r.AtmosphericPressure,
	}
	if r.ID != "" {
		rec["id"] = r.ID
	}
	if !r.Timestamp.IsZero() {
		rec["timestamp"] = r.Timestamp.UTC()
	}
	return rec
}

// EncodeStation builds the insert record for a station.
func EncodeStation(st models.Station) Record {
	rec := Record{
		"name":      st.Name,
		"latitude":  st.Latitude,
		"longitude": st.Longitude,
		"status":    string(st.Status),
	}
	if st.ID != "" {
		rec["id"] = st.ID
	}
	if st.StationType != "" {
		rec["station_type"] = st.StationType
	}
	if st.Status == "" {
		rec["status"] = string(models.StationNormal)
	}
	return rec
}

// EncodeAlertInput builds the insert record for a new alert.
func EncodeAlertInput(in models.AlertInput) Record {
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	rec := Record{
		"title":     in.Title,
		"message":   in.Message,
		"severity":  string(in.Severity),
		"stations":  nonNilStrings(in.AffectedStations),
		"is_active": active,
	}
	if in.CreatedBy != "" {
		rec["created_by"] = in.CreatedBy
	}
	if in.ExpiresAt != nil {
		rec["expires_at"] = in.ExpiresAt.UTC()
	}
	return rec
}

// EncodeAlertPatch builds the partial update record for an alert.
func EncodeAlertPatch(p models.AlertPatch) Record {
	rec := Record{}
	if p.Title != nil {
		rec["title"] = *p.Title
	}
	if p.Message != nil {
		rec["message"] = *p.Message
	}
	if p.Severity != nil {
		rec["severity"] = string(*p.Severity)
	}
	if p.AffectedStations != nil {
		rec["stations"] = p.AffectedStations
	}
	if p.ApprovedBy != nil {
		rec["approved_by"] = *p.ApprovedBy
	}
	if p.Active != nil {
		rec["is_active"] = *p.Active
	}
	if p.ExpiresAt != nil {
		rec["expires_at"] = p.ExpiresAt.UTC()
	}
	return rec
}

// EncodeIncidentInput builds the insert record for a new incident in the active state.
func EncodeIncidentInput(in models.IncidentInput) Record {
	rec := Record{
		"title":            in.Title,
		"description":      in.Description,
		"severity":         string(in.Severity),
		"status":           string(models.IncidentActive),
		"related_stations": nonNilStrings(in.RelatedStations),
		"assigned_teams":   nonNilStrings(in.AssignedTeams),
	}
	if in.CreatedBy != "" {
		rec["created_by"] = in.CreatedBy
	}
	return rec
}

// EncodeIncidentStatus builds the status change record. Resolving stamps resolver and time;
// any other status clears both.
func EncodeIncidentStatus(status models.IncidentStatus, actor string, now time.Time) Record {
	rec := Record{"status": string(status)}
	if status == models.IncidentResolved {
		rec["resolved_at"] = now.UTC()
		if actor != "" {
			rec["resolved_by"] = actor
		} else {
			rec["resolved_by"] = nil
		}
	} else {
		rec["resolved_at"] = nil
		rec["resolved_by"] = nil
	}
	return rec
}

// EncodeTaskInput builds the insert record for a pending task.
func EncodeTaskInput(incidentID string, in models.TaskInput) Record {
	return Record{
		"incident_id": incidentID,
		"title":       in.Title,
		"description": in.Description,
		"assigned_to": in.AssignedTo,
		"status":      string(models.TaskPending),
	}
}

func decodeSeverity(table Table, rec Record) models.Severity {
	raw, _ := optionalString(rec, "severity")
	sev, ok := models.ParseSeverity(raw)
	if !ok {
		observability.DecodeFallbacksTotal.WithLabelValues(string(table), "severity").Inc()
	}
	return sev
}

func missing(col string) error {
	return fmt.Errorf("%w: missing %s", ErrDecode, col)
}

func requiredString(rec Record, col string) (string, error) {
	s, ok := optionalString(rec, col)
	if !ok || s == "" {
		return "", missing(col)
	}
	return s, nil
}

func optionalString(rec Record, col string) (string, bool) {
	switch v := rec[col].(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case fmt.Stringer:
		return v.String(), true
	case [16]byte:
		return formatUUID(v), true
	default:
		return "", false
	}
}

func stringPtr(rec Record, col string) *string {
	s, ok := optionalString(rec, col)
	if !ok {
		return nil
	}
	return &s
}

func requiredFloat(rec Record, col string) (float64, error) {
	v, ok := rec[col]
	if !ok || v == nil {
		return 0, missing(col)
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrDecode, col, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s is not finite", ErrDecode, col)
	}
	return f, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

func optionalTime(rec Record, col string) (*time.Time, error) {
	switch v := rec[col].(type) {
	case nil:
		return nil, nil
	case time.Time:
		t := v.UTC()
		return &t, nil
	case string:
		if v == "" {
			return nil, nil
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				t = t.UTC()
				return &t, nil
			}
		}
		return nil, fmt.Errorf("%w: %s: unparseable time %q", ErrDecode, col, v)
	default:
		return nil, fmt.Errorf("%w: %s: unsupported time type %T", ErrDecode, col, v)
	}
}

func timeOrZero(rec Record, col string) (time.Time, error) {
	t, err := optionalTime(rec, col)
	if err != nil || t == nil {
		return time.Time{}, err
	}
	return *t, nil
}

func stringSlice(rec Record, col string) ([]string, error) {
	switch v := rec[col].(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s: element of type %T", ErrDecode, col, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s: unsupported list type %T", ErrDecode, col, v)
	}
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func formatUUID(b [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
