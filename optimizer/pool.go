package optimizer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PoolStats describes a database connection pool
type PoolStats struct {
	Open    int
	InUse   int
	Idle    int
	MaxOpen int
}

// PoolInspector reports connection pool statistics. *sql.DB satisfies it
// through SQLPool.
type PoolInspector interface {
	PoolStats(ctx context.Context) (PoolStats, error)
}

// PoolInspectorFunc adapts a function to PoolInspector
type PoolInspectorFunc func(ctx context.Context) (PoolStats, error)

// PoolStats implements PoolInspector
func (f PoolInspectorFunc) PoolStats(ctx context.Context) (PoolStats, error) {
	return f(ctx)
}

// SQLPool reads pool statistics from a database/sql handle
type SQLPool struct {
	DB *sql.DB
}

// PoolStats implements PoolInspector
func (p SQLPool) PoolStats(ctx context.Context) (PoolStats, error) {
	if p.DB == nil {
		return PoolStats{}, errors.New("no database handle")
	}
	if err := p.DB.PingContext(ctx); err != nil {
		return PoolStats{}, fmt.Errorf("failed to ping database: %w", err)
	}
	s := p.DB.Stats()
	return PoolStats{
		Open:    s.OpenConnections,
		InUse:   s.InUse,
		Idle:    s.Idle,
		MaxOpen: s.MaxOpenConnections,
	}, nil
}

const poolInspectTimeout = 5 * time.Second

// InspectPool logs connection pool usage in the background. Failures are
// logged and never reach the caller. The returned channel is closed when the
// inspection is done.
func (o *Optimizer) InspectPool(ctx context.Context, inspector PoolInspector) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("Connection pool inspection panicked", "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), poolInspectTimeout)
		defer cancel()

		stats, err := inspector.PoolStats(ctx)
		if err != nil {
			o.logger.ErrorContext(ctx, "Connection pool inspection failed", "error", err)
			return
		}

		o.logger.InfoContext(ctx, "Connection pool stats",
			"open", stats.Open,
			"in_use", stats.InUse,
			"idle", stats.Idle,
			"max_open", stats.MaxOpen,
		)
		if stats.MaxOpen > 0 && stats.InUse*10 >= stats.MaxOpen*9 {
			o.logger.WarnContext(ctx, "Connection pool nearly exhausted",
				"in_use", stats.InUse,
				"max_open", stats.MaxOpen,
			)
		}
	}()

	return done
}
