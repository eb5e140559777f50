package observability

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Closer releases one telemetry or client resource during shutdown, e.g. the memcached pool.
type Closer struct {
	Name  string
	Close func() error
}

// FlushTelemetry runs the closers in order and then syncs the logger, returning every failure.
// Prometheus is pull-based, so metrics need no flush. A closer that is still running when ctx
// is done is abandoned.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, closers ...Closer) error {
	var errs error
	for _, c := range closers {
		done := make(chan error, 1)
		go func(c Closer) { done <- c.Close() }(c)
		select {
		case err := <-done:
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("close %s: %w", c.Name, err))
			}
		case <-ctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", c.Name, ctx.Err()))
		}
	}
	if logger != nil {
		if err := logger.Sync(); err != nil && !ignorableSyncError(err) {
			errs = multierr.Append(errs, fmt.Errorf("flush logs: %w", err))
		}
	}
	return errs
}

// ignorableSyncError reports the errors fsync returns for terminals and pipes.
func ignorableSyncError(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)
}
