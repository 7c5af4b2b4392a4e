package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentSteps is the permit capacity used when none is configured.
const DefaultMaxConcurrentSteps = 50

// PermitPool is a counting semaphore bounding how many steps run at once.
// One pool is usually shared by every task of an orchestrator; tests can give
// each orchestrator its own.
type PermitPool struct {
	sem      *semaphore.Weighted
	capacity int64
	inFlight atomic.Int64
}

// NewPermitPool creates a pool with the given capacity. Non-positive values use
// DefaultMaxConcurrentSteps.
func NewPermitPool(capacity int) *PermitPool {
	if capacity <= 0 {
		capacity = DefaultMaxConcurrentSteps
	}
	return &PermitPool{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
}

// Acquire blocks until a permit is available. A positive timeout bounds the
// wait and yields ErrPermitTimeout when it expires. Cancellation of ctx is
// reported with the context's cause.
func (p *PermitPool) Acquire(ctx context.Context, timeout time.Duration) error {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeoutCause(ctx, timeout, ErrPermitTimeout)
		defer cancel()
	}
	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("interrupted waiting for execution permit: %w", context.Cause(ctx))
		}
		return fmt.Errorf("%w after %s", ErrPermitTimeout, timeout)
	}
	p.inFlight.Add(1)
	return nil
}

// Release returns a permit taken by Acquire.
func (p *PermitPool) Release() {
	p.inFlight.Add(-1)
	p.sem.Release(1)
}

// Capacity returns the maximum number of concurrent permits.
func (p *PermitPool) Capacity() int {
	return int(p.capacity)
}

// InFlight returns the number of permits currently held.
func (p *PermitPool) InFlight() int {
	return int(p.inFlight.Load())
}
