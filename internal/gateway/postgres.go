package gateway

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// PostgresGateway talks to Postgres through a pgx pool. Change events come from
// LISTEN/NOTIFY on one channel per table, fed by the triggers in schema.sql.
type PostgresGateway struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresGateway connects a pool to databaseURL and verifies it with a ping.
func NewPostgresGateway(ctx context.Context, databaseURL string, maxConns int32, logger *zap.Logger) (*PostgresGateway, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresGateway{pool: pool, logger: logger}, nil
}

// EnsureSchema creates tables and notification triggers when missing.
func (g *PostgresGateway) EnsureSchema(ctx context.Context) error {
	if _, err := g.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (g *PostgresGateway) Close() {
	g.pool.Close()
}

func (g *PostgresGateway) Query(ctx context.Context, table Table, q Query) ([]Record, error) {
	if err := validateQuery(table, q); err != nil {
		return nil, err
	}
	sql, args := buildSelect(table, q)

	rows, err := g.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}
	out := make([]Record, len(maps))
	for i, m := range maps {
		out[i] = Record(m)
	}
	return out, nil
}

func (g *PostgresGateway) Insert(ctx context.Context, table Table, rec Record) (string, error) {
	if err := validateRecord(table, rec); err != nil {
		return "", err
	}
	cols := sortedKeys(rec)
	names := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		names[i] = ident(c)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = rec[c]
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		ident(string(table)), strings.Join(names, ", "), strings.Join(placeholders, ", "))

	var id string
	if err := g.pool.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		return "", fmt.Errorf("insert %s: %w", table, err)
	}
	return id, nil
}

func (g *PostgresGateway) Update(ctx context.Context, table Table, id string, patch Record) error {
	if err := validateRecord(table, patch); err != nil {
		return err
	}
	cols := sortedKeys(patch)
	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+1)
	for _, c := range cols {
		if c == "id" {
			continue
		}
		args = append(args, patch[c])
		sets = append(sets, fmt.Sprintf("%s = $%d", ident(c), len(args)))
	}
	if _, explicit := patch["updated_at"]; !explicit && hasColumn(table, "updated_at") {
		sets = append(sets, "updated_at = now()")
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", ident(string(table)), strings.Join(sets, ", "), len(args))

	tag, err := g.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	return nil
}

func (g *PostgresGateway) Delete(ctx context.Context, table Table, id string) error {
	if err := CheckTable(table); err != nil {
		return err
	}
	tag, err := g.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", ident(string(table))), id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	return nil
}

// Subscribe holds a dedicated pool connection listening on the table's channel. A broken
// connection is re-acquired with backoff until the subscription is closed.
func (g *PostgresGateway) Subscribe(ctx context.Context, table Table, kinds EventKind, fn func(Event)) (Subscription, error) {
	if err := CheckTable(table); err != nil {
		return nil, err
	}
	conn, err := g.listen(ctx, table)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &pgSubscription{cancel: cancel, done: make(chan struct{})}
	go g.dispatch(subCtx, conn, table, kinds, fn, sub.done)
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (g *PostgresGateway) listen(ctx context.Context, table Table) (*pgxpool.Conn, error) {
	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+ident(string(table))); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", table, err)
	}
	return conn, nil
}

func (g *PostgresGateway) dispatch(ctx context.Context, conn *pgxpool.Conn, table Table, kinds EventKind, fn func(Event), done chan struct{}) {
	defer close(done)
	logger := g.logger.With(zap.String("table", string(table)))
	backoff := 500 * time.Millisecond

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			g.release(conn)
			if ctx.Err() != nil {
				return
			}
			logger.Warn("notification listener lost connection", zap.Error(err))
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				conn, err = g.listen(ctx, table)
				if err == nil {
					backoff = 500 * time.Millisecond
					break
				}
				logger.Warn("re-listen failed", zap.Error(err), zap.Duration("backoff", backoff))
				if backoff < 30*time.Second {
					backoff *= 2
				}
			}
			continue
		}
		kind := ParseEventKind(n.Payload)
		if kind == 0 || kinds&kind == 0 {
			continue
		}
		fn(Event{Table: table, Kind: kind, ReceivedAt: time.Now()})
	}
}

// release unlistens a healthy connection before returning it to the pool.
func (g *PostgresGateway) release(conn *pgxpool.Conn) {
	if !conn.Conn().IsClosed() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			g.logger.Debug("unlisten failed", zap.Error(err))
		}
		cancel()
	}
	conn.Release()
}

type pgSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *pgSubscription) Unsubscribe() error {
	s.cancel()
	<-s.done
	return nil
}

func buildSelect(table Table, q Query) (string, []any) {
	var b strings.Builder
	cols := Columns(table)
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = ident(c)
	}
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(quoted, ", "), ident(string(table)))

	args := make([]any, 0, len(q.Filters))
	for i, f := range q.Filters {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		args = append(args, f.Value)
		fmt.Fprintf(&b, "%s = $%d", ident(f.Column), len(args))
	}
	for i, o := range q.Order {
		if i == 0 {
			b.WriteString(" ORDER BY ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(ident(o.Column))
		if o.Desc {
			b.WriteString(" DESC")
		}
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String(), args
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func sortedKeys(rec Record) []string {
	keys := rec.Keys()
	sort.Strings(keys)
	return keys
}
