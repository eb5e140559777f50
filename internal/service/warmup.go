package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/station-monitor/internal/store"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// syncAll refreshes every store concurrently and aggregates the failures. A failed store keeps
// its (empty) previous value and records the error; the service still starts.
func syncAll(ctx context.Context, stores []store.Store, logger *zap.Logger) error {
	start := time.Now()
	logger.Info("initial sync", zap.Int("stores", len(stores)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs error
	for _, s := range stores {
		wg.Add(1)
		go func(s store.Store) {
			defer wg.Done()
			if err := s.Refresh(ctx); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	failed := len(multierr.Errors(errs))
	logger.Info("initial sync complete",
		zap.Int("stores", len(stores)),
		zap.Int("errors", failed),
		zap.Duration("duration", time.Since(start)),
	)
	return errs
}
