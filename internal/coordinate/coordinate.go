// Package coordinate guarantees at-most-one in-flight request per
// logical operation and provides broadcast gates for readiness
// signals. A Coordinator is injected where needed; there is no
// package-level shared state.
package coordinate

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Well-known dedup keys. Per-customer validation appends the customer
// UUID via ValidateKey.
const (
	KeyShopStatus    = "shop-status"
	KeySessionInit   = "session-init"
	KeySessionCreate = "session-create"
	KeyPricingFetch  = "pricing-fetch"
)

// ValidateKey builds the dedup key for validating one customer's session
func ValidateKey(customerUUID string) string {
	return "session-validate:" + customerUUID
}

// Coordinator deduplicates concurrent calls by key. While a call for a
// key is in flight, every other caller for that key waits for and
// shares its outcome instead of issuing a new request. The key is
// forgotten once the call settles, so a later caller retries fresh.
type Coordinator struct {
	flights singleflight.Group
}

// New creates a Coordinator
func New() *Coordinator {
	return &Coordinator{}
}

// Do runs fn under the named key, or joins the in-flight call for it
func (c *Coordinator) Do(key string, fn func() (interface{}, error)) (interface{}, error) {
	v, err, _ := c.flights.Do(key, fn)
	return v, err
}

// Gate is a one-way latch with broadcast semantics: opening it wakes
// every waiter at once. Reset re-arms the gate for a manual refresh.
type Gate struct {
	mu   sync.Mutex
	ch   chan struct{}
	open bool
}

// NewGate returns a closed gate
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Open opens the gate, releasing all current and future waiters.
// Opening an open gate is a no-op.
func (g *Gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		g.open = true
		close(g.ch)
	}
}

// IsOpen reports whether the gate is open
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Wait blocks until the gate opens or ctx is done
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset closes the gate again so the owning operation can re-run
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		g.open = false
		g.ch = make(chan struct{})
	}
}
