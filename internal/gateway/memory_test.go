package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func seedReadings(t *testing.T, g *MemoryGateway) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	err := g.Seed(TableReadings,
		Record{"id": "r1", "station_id": "a", "timestamp": base, "tide_level": 1.0},
		Record{"id": "r2", "station_id": "a", "timestamp": base.Add(time.Minute), "tide_level": 2.0},
		Record{"id": "r3", "station_id": "b", "timestamp": base.Add(time.Minute), "tide_level": 3.0},
	)
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
}

// TestMemoryGateway_QueryOrderFilterLimit verifies multi-column ordering, equality filters and limits.
func TestMemoryGateway_QueryOrderFilterLimit(t *testing.T) {
	g := NewMemoryGateway()
	seedReadings(t, g)
	ctx := context.Background()

	recs, err := g.Query(ctx, TableReadings, Query{}.OrderBy("timestamp", true).OrderBy("id", true))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	got := []string{recs[0]["id"].(string), recs[1]["id"].(string), recs[2]["id"].(string)}
	want := []string{"r3", "r2", "r1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}

	recs, err = g.Query(ctx, TableReadings, Query{Limit: 1}.Eq("station_id", "a").OrderBy("timestamp", false))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(recs) != 1 || recs[0]["id"] != "r1" {
		t.Errorf("filtered = %v, want [r1]", recs)
	}
}

// TestMemoryGateway_StringTimestampsOrderByInstant verifies that ISO-8601 strings with offsets
// and fractional seconds sort by the instant they denote, mixed with time.Time values.
func TestMemoryGateway_StringTimestampsOrderByInstant(t *testing.T) {
	g := NewMemoryGateway()
	err := g.Seed(TableReadings,
		Record{"id": "r1", "station_id": "a", "timestamp": "2024-01-01T10:00:00Z", "tide_level": 1.0},
		Record{"id": "r2", "station_id": "a", "timestamp": "2024-01-01T10:00:00.5Z", "tide_level": 2.0},
		Record{"id": "r3", "station_id": "a", "timestamp": "2024-01-01T11:00:00+02:00", "tide_level": 3.0},
		Record{"id": "r4", "station_id": "a", "timestamp": time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC), "tide_level": 4.0},
	)
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	recs, err := g.Query(context.Background(), TableReadings, Query{}.OrderBy("timestamp", true))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	var got []string
	for _, r := range recs {
		got = append(got, r["id"].(string))
	}
	want := []string{"r2", "r1", "r4", "r3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if ts, ok := recs[3]["timestamp"].(time.Time); !ok || !ts.Equal(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("stored timestamp = %#v, want 09:00Z as time.Time", recs[3]["timestamp"])
	}
}

// TestMemoryGateway_RejectsUnknownColumns verifies the column allow-list on reads and writes.
func TestMemoryGateway_RejectsUnknownColumns(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()

	if _, err := g.Query(ctx, TableAlerts, Query{}.Eq("dropped; --", 1)); !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("Query() error = %v, want ErrUnknownColumn", err)
	}
	if _, err := g.Insert(ctx, "users", Record{}); !errors.Is(err, ErrUnknownTable) {
		t.Errorf("Insert() error = %v, want ErrUnknownTable", err)
	}
}

// TestMemoryGateway_InsertAssignsIDAndDefaults verifies server-side id, timestamps and defaults.
func TestMemoryGateway_InsertAssignsIDAndDefaults(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	g := NewMemoryGateway(WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	id, err := g.Insert(ctx, TableAlerts, Record{"title": "t", "message": "m", "severity": "info"})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if id == "" {
		t.Fatal("Insert() returned empty id")
	}
	recs, _ := g.Query(ctx, TableAlerts, Query{}.Eq("id", id))
	if len(recs) != 1 {
		t.Fatalf("inserted row not found")
	}
	if recs[0]["is_active"] != true || recs[0]["created_at"] != fixed {
		t.Errorf("defaults = %v", recs[0])
	}
}

// TestMemoryGateway_UpdateDeleteNotFound verifies ErrNotFound for missing rows.
func TestMemoryGateway_UpdateDeleteNotFound(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()
	if err := g.Update(ctx, TableAlerts, "missing", Record{"title": "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
	if err := g.Delete(ctx, TableAlerts, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}

// TestMemoryGateway_SubscribeDeliversMatchingKinds verifies that only subscribed kinds are
// delivered and nothing arrives after Unsubscribe.
func TestMemoryGateway_SubscribeDeliversMatchingKinds(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()

	events := make(chan Event, 8)
	sub, err := g.Subscribe(ctx, TableAlerts, EventUpdate, func(ev Event) { events <- ev })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	id, _ := g.Insert(ctx, TableAlerts, Record{"title": "t", "message": "m", "severity": "info"})
	if err := g.Update(ctx, TableAlerts, id, Record{"is_active": false}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	select {
	case ev := <-events:
		if ev.Kind != EventUpdate || ev.Table != TableAlerts {
			t.Errorf("event = %+v, want alerts update", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	_ = g.Update(ctx, TableAlerts, id, Record{"is_active": true})
	select {
	case ev := <-events:
		t.Errorf("event after Unsubscribe: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestMemoryGateway_FailWith verifies injected failures and their removal.
func TestMemoryGateway_FailWith(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()
	boom := errors.New("backend down")

	g.FailWith(TableStations, boom)
	if _, err := g.Query(ctx, TableStations, Query{}); !errors.Is(err, boom) {
		t.Errorf("Query() error = %v, want injected", err)
	}
	g.FailWith(TableStations, nil)
	if _, err := g.Query(ctx, TableStations, Query{}); err != nil {
		t.Errorf("Query() error = %v after clearing", err)
	}
}

// TestMemoryGateway_WithoutSubscriptions verifies the unsupported-feed signal.
func TestMemoryGateway_WithoutSubscriptions(t *testing.T) {
	g := NewMemoryGateway(WithoutSubscriptions())
	var calls atomic.Int32
	_, err := g.Subscribe(context.Background(), TableReadings, EventInsert, func(Event) { calls.Add(1) })
	if !errors.Is(err, ErrSubscribeUnsupported) {
		t.Errorf("Subscribe() error = %v, want ErrSubscribeUnsupported", err)
	}
}

func TestEventKind(t *testing.T) {
	k := EventInsert | EventDelete
	if !k.Has(EventInsert) || k.Has(EventUpdate) || k.String() != "insert|delete" {
		t.Errorf("EventKind %v misbehaves", k)
	}
	if ParseEventKind("update") != EventUpdate || ParseEventKind("TRUNCATE") != 0 {
		t.Error("ParseEventKind mismatch")
	}
}
