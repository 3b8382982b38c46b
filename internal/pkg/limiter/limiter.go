// Package limiter provides a bounded admission gate for limiting the number
// of concurrently running operations of one kind.
package limiter

import "context"

// Gate admits at most its configured capacity of concurrent holders.
// Acquire and Release must be paired on every exit path; callers are
// expected to defer Release immediately after a successful Acquire.
type Gate struct {
	slots chan struct{}
}

// NewGate returns a gate admitting up to capacity concurrent holders.
// Capacity below 1 is treated as 1.
func NewGate(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{slots: make(chan struct{}, capacity)}
}

// Acquire blocks until a slot is free or ctx is done. On a ctx error no
// slot is held and Release must not be called.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot without blocking, reporting whether it succeeded.
func (g *Gate) TryAcquire() bool {
	select {
	case g.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot taken by a previous Acquire.
func (g *Gate) Release() {
	select {
	case <-g.slots:
	default:
		panic("limiter: release without acquire")
	}
}

// InUse reports the number of currently held slots.
func (g *Gate) InUse() int {
	return len(g.slots)
}

// Capacity reports the configured slot count.
func (g *Gate) Capacity() int {
	return cap(g.slots)
}
