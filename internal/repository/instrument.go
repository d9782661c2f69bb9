package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"helpdesk/internal/metrics"
	"helpdesk/internal/rbac"
)

// SlowQueryThreshold defines when a query is considered slow
const SlowQueryThreshold = 100 * time.Millisecond

// Instrument wraps a repository operation with metrics and logging.
func Instrument[T any](ctx context.Context, table, operation string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := fn()
	duration := time.Since(start)

	metrics.DBOperationDuration.WithLabelValues(table, operation).Observe(duration.Seconds())
	metrics.DBOperationTotal.WithLabelValues(table, operation, classify(ctx, err)).Inc()

	switch {
	case err != nil && !expected(err):
		slog.ErrorContext(ctx, "database operation failed",
			"table", table,
			"operation", operation,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	case duration > SlowQueryThreshold:
		slog.WarnContext(ctx, "slow database operation",
			"table", table,
			"operation", operation,
			"duration_ms", duration.Milliseconds())
	}
	return result, err
}

// InstrumentVoid wraps a repository operation that returns only an error.
func InstrumentVoid(ctx context.Context, table, operation string, fn func() error) error {
	_, err := Instrument(ctx, table, operation, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// expected errors are part of normal control flow and are not logged.
func expected(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, rbac.ErrRoleNotFound) ||
		errors.Is(err, rbac.ErrDuplicateRoleName) ||
		errors.Is(err, rbac.ErrAccountNotFound)
}

func classify(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound), errors.Is(err, rbac.ErrRoleNotFound), errors.Is(err, rbac.ErrAccountNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateKey), errors.Is(err, rbac.ErrDuplicateRoleName):
		return "duplicate_key"
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		return "canceled"
	}
	return "error"
}
