//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/station-monitor/internal/cache"
	"github.com/kjstillabower/station-monitor/internal/gateway"
	"github.com/kjstillabower/station-monitor/internal/observability"
	"go.uber.org/zap"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	DatabaseURL   string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test if TEST_DATABASE_URL is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	return IntegrationTestConfig{
		DatabaseURL:   dsn,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupPostgresGateway connects to the test database, applies the schema and empties every
// table. The returned cleanup closes the pool.
func SetupPostgresGateway(t *testing.T, cfg IntegrationTestConfig) (*gateway.PostgresGateway, func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger := zap.NewNop()
	if testing.Verbose() {
		if l, err := observability.NewLogger(); err == nil {
			logger = l
		}
	}

	gw, err := gateway.NewPostgresGateway(ctx, cfg.DatabaseURL, 4, logger)
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	if err := gw.EnsureSchema(ctx); err != nil {
		gw.Close()
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := ResetTables(ctx, gw); err != nil {
		gw.Close()
		t.Fatalf("ResetTables() error = %v", err)
	}
	return gw, gw.Close
}

// ResetTables deletes every row through the gateway, children first.
func ResetTables(ctx context.Context, gw gateway.Gateway) error {
	order := []gateway.Table{gateway.TableTasks, gateway.TableIncidents, gateway.TableAlerts,
		gateway.TableReadings, gateway.TableStations}
	for _, table := range order {
		recs, err := gw.Query(ctx, table, gateway.Query{})
		if err != nil {
			return err
		}
		for _, rec := range recs {
			id, _ := rec["id"].(string)
			if err := gw.Delete(ctx, table, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetupSnapshotCache returns memcached when requested and reachable, otherwise in-memory.
func SetupSnapshotCache(t *testing.T, cfg IntegrationTestConfig) (cache.Cache, func()) {
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil && mc.Ping() == nil {
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
			return mc, func() { _ = mc.Close() }
		}
		t.Logf("Memcached not available, using in-memory cache")
	}
	return cache.NewInMemoryCache(), func() {}
}
