// Package worker runs background jobs on a bounded goroutine pool.
//
// Commit operations are long running and must outlive the HTTP request that
// started them, so they are submitted as detached tasks bound to the service
// lifecycle context.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"erp-pricing-api/internal/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string

	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// NewPool creates a pool of the given size. Detached tasks receive a context
// derived from ctx that is cancelled by Shutdown.
func NewPool(ctx context.Context, name string, size int) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p interface{}) {
		logger.Error("worker panic recovered",
			zap.String("pool", name),
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	p, err := ants.NewPool(size,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(30*time.Second),
	)
	if err != nil {
		serviceCancel()
		return nil, err
	}

	return &Pool{
		pool:          p,
		name:          name,
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Submit runs task with the caller's context. If ctx is already cancelled the
// task is not queued.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return p.submit(func() {
		select {
		case <-ctx.Done():
			logger.Debug("task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
}

// SubmitDetached runs task with the service lifecycle context instead of a
// request context. An accepted task always runs, even after Shutdown has
// cancelled the context, so it can record its own outcome.
func (p *Pool) SubmitDetached(task Task) error {
	return p.submit(func() {
		task(p.serviceCtx)
	})
}

func (p *Pool) submit(fn func()) error {
	if err := p.pool.Submit(fn); err != nil {
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPoolClosed
		}
		return err
	}
	return nil
}

// Shutdown cancels detached tasks and waits up to timeout for running ones.
func (p *Pool) Shutdown(timeout time.Duration) {
	p.serviceCancel()
	if err := p.pool.ReleaseTimeout(timeout); err != nil {
		logger.Warn("worker pool shutdown timeout", zap.String("pool", p.name), zap.Error(err))
	}
}

// Metrics returns pool usage for the admin stats endpoint.
func (p *Pool) Metrics() map[string]int {
	return map[string]int{
		"running": p.pool.Running(),
		"free":    p.pool.Free(),
		"cap":     p.pool.Cap(),
	}
}
