package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryGateway keeps tables in process. It backs the simulation mode and tests, assigns
// uuid ids and server timestamps, and delivers change events asynchronously.
type MemoryGateway struct {
	mu     sync.RWMutex
	tables map[Table]map[string]Record
	errs   map[Table]error
	subs   map[uint64]*memorySubscription
	nextID uint64

	now         func() time.Time
	noSubscribe bool
}

// MemoryOption configures a MemoryGateway.
type MemoryOption func(*MemoryGateway)

// WithClock sets the clock used for server-assigned timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(g *MemoryGateway) { g.now = now }
}

// WithoutSubscriptions makes Subscribe return ErrSubscribeUnsupported.
func WithoutSubscriptions() MemoryOption {
	return func(g *MemoryGateway) { g.noSubscribe = true }
}

// NewMemoryGateway creates an empty in-process gateway.
func NewMemoryGateway(opts ...MemoryOption) *MemoryGateway {
	g := &MemoryGateway{
		tables: make(map[Table]map[string]Record, len(Tables)),
		errs:   make(map[Table]error),
		subs:   make(map[uint64]*memorySubscription),
		now:    time.Now,
	}
	for _, t := range Tables {
		g.tables[t] = make(map[string]Record)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Seed inserts records without emitting change events.
func (g *MemoryGateway) Seed(table Table, recs ...Record) error {
	for _, rec := range recs {
		if _, err := g.insert(table, rec); err != nil {
			return err
		}
	}
	return nil
}

// FailWith makes every operation on table return err until cleared with a nil err.
func (g *MemoryGateway) FailWith(table Table, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.errs, table)
		return
	}
	g.errs[table] = err
}

// Len returns the number of rows in table.
func (g *MemoryGateway) Len(table Table) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tables[table])
}

func (g *MemoryGateway) Query(ctx context.Context, table Table, q Query) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateQuery(table, q); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.errs[table]; err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(g.tables[table]))
	for _, rec := range g.tables[table] {
		if matches(rec, q.Filters) {
			out = append(out, copyRecord(rec))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		for _, o := range q.Order {
			c := compareValues(out[i][o.Column], out[j][o.Column])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (g *MemoryGateway) Insert(ctx context.Context, table Table, rec Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := g.insert(table, rec)
	if err != nil {
		return "", err
	}
	g.notify(table, EventInsert)
	return id, nil
}

func (g *MemoryGateway) insert(table Table, rec Record) (string, error) {
	if err := validateRecord(table, rec); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.errs[table]; err != nil {
		return "", err
	}

	row := copyRecord(rec)
	for k, v := range row {
		row[k] = normalize(k, v)
	}
	id, _ := row["id"].(string)
	if id == "" {
		id = uuid.NewString()
		row["id"] = id
	}
	if _, exists := g.tables[table][id]; exists {
		return "", fmt.Errorf("%w: duplicate id %s in %s", ErrUpstreamFailure, id, table)
	}
	now := g.now().UTC()
	for col, def := range defaults(table, now) {
		if _, ok := row[col]; !ok {
			row[col] = def
		}
	}
	g.tables[table][id] = row
	return id, nil
}

func (g *MemoryGateway) Update(ctx context.Context, table Table, id string, patch Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateRecord(table, patch); err != nil {
		return err
	}

	g.mu.Lock()
	if err := g.errs[table]; err != nil {
		g.mu.Unlock()
		return err
	}
	row, ok := g.tables[table][id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	for k, v := range patch {
		if k == "id" {
			continue
		}
		row[k] = normalize(k, v)
	}
	if hasColumn(table, "updated_at") {
		row["updated_at"] = g.now().UTC()
	}
	g.mu.Unlock()

	g.notify(table, EventUpdate)
	return nil
}

func (g *MemoryGateway) Delete(ctx context.Context, table Table, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := CheckTable(table); err != nil {
		return err
	}

	g.mu.Lock()
	if err := g.errs[table]; err != nil {
		g.mu.Unlock()
		return err
	}
	if _, ok := g.tables[table][id]; !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	delete(g.tables[table], id)
	g.mu.Unlock()

	g.notify(table, EventDelete)
	return nil
}

func (g *MemoryGateway) Subscribe(ctx context.Context, table Table, kinds EventKind, fn func(Event)) (Subscription, error) {
	if err := CheckTable(table); err != nil {
		return nil, err
	}
	if g.noSubscribe {
		return nil, ErrSubscribeUnsupported
	}

	g.mu.Lock()
	g.nextID++
	sub := &memorySubscription{
		gw:     g,
		id:     g.nextID,
		table:  table,
		kinds:  kinds,
		events: make(chan Event, 1),
		done:   make(chan struct{}),
	}
	g.subs[sub.id] = sub
	g.mu.Unlock()

	go sub.run(ctx, fn)
	return sub, nil
}

// notify fans an event out to matching subscriptions. A subscriber with an undelivered
// event already queued does not get a second one: events carry no payload.
func (g *MemoryGateway) notify(table Table, kind EventKind) {
	ev := Event{Table: table, Kind: kind, ReceivedAt: g.now()}

	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, sub := range g.subs {
		if sub.table != table || sub.kinds&kind == 0 {
			continue
		}
		select {
		case sub.events <- ev:
		default:
		}
	}
}

type memorySubscription struct {
	gw     *MemoryGateway
	id     uint64
	table  Table
	kinds  EventKind
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func (s *memorySubscription) run(ctx context.Context, fn func(Event)) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			_ = s.Unsubscribe()
			return
		case ev := <-s.events:
			select {
			case <-s.done:
				return
			default:
			}
			fn(ev)
		}
	}
}

func (s *memorySubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.gw.mu.Lock()
		delete(s.gw.subs, s.id)
		s.gw.mu.Unlock()
		close(s.done)
	})
	return nil
}

func defaults(table Table, now time.Time) Record {
	switch table {
	case TableStations:
		return Record{"status": "normal", "created_at": now, "updated_at": now}
	case TableReadings:
		return Record{"timestamp": now}
	case TableAlerts:
		return Record{"is_active": true, "stations": []string{}, "created_at": now, "updated_at": now}
	case TableIncidents:
		return Record{"status": "active", "related_stations": []string{}, "assigned_teams": []string{},
			"created_at": now, "updated_at": now}
	case TableTasks:
		return Record{"status": "pending", "created_at": now}
	default:
		return nil
	}
}

// normalize stores times in UTC and copies slices so callers cannot mutate stored rows.
// Strings in time columns are parsed so rows order by instant, not by text.
func normalize(col string, v any) any {
	switch x := v.(type) {
	case string:
		if isTimeColumn(col) {
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, x); err == nil {
					return t.UTC()
				}
			}
		}
		return x
	case time.Time:
		return x.UTC()
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC()
	case []string:
		return append([]string(nil), x...)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	default:
		return v
	}
}

func isTimeColumn(col string) bool {
	return col == "timestamp" || col == "last_reading" || strings.HasSuffix(col, "_at")
}

func copyRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		if s, ok := v.([]string); ok {
			v = append([]string(nil), s...)
		}
		out[k] = v
	}
	return out
}

func matches(rec Record, filters []Filter) bool {
	for _, f := range filters {
		if compareValues(rec[f.Column], normalize(f.Column, f.Value)) != 0 {
			return false
		}
	}
	return true
}

// compareValues orders two column values. Nil sorts after every value, as NULLS LAST does
// for ascending order in Postgres.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return 1
		default:
			return -1
		}
	}
	if fa, err := toFloat(a); err == nil {
		if _, isString := a.(string); !isString {
			if fb, err := toFloat(b); err == nil {
				switch {
				case fa < fb:
					return -1
				case fa > fb:
					return 1
				default:
					return 0
				}
			}
		}
	}
	switch x := a.(type) {
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
