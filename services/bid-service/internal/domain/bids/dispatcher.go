package bids

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
)

// Dispatcher bounds how many bid admissions run at once across all auctions.
// Callers waiting for a slot only block themselves; per-auction ordering is
// still decided by the lock table.
type Dispatcher struct {
	engine *Engine
	slots  *semaphore.Weighted
}

// NewDispatcher creates a dispatcher running at most workers admissions concurrently
func NewDispatcher(engine *Engine, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		engine: engine,
		slots:  semaphore.NewWeighted(int64(workers)),
	}
}

// PlaceBid waits for a free worker slot and admits the bid
func (d *Dispatcher) PlaceBid(ctx context.Context, cmd PlaceBidCommand) (*auctions.Bid, error) {
	if err := d.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer d.slots.Release(1)

	return d.engine.PlaceBid(ctx, cmd)
}

// CancelBid waits for a free worker slot and cancels the bid
func (d *Dispatcher) CancelBid(ctx context.Context, cmd CancelBidCommand) (*auctions.Bid, error) {
	if err := d.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer d.slots.Release(1)

	return d.engine.CancelBid(ctx, cmd)
}

// Engine exposes the underlying engine for read-only queries
func (d *Dispatcher) Engine() *Engine {
	return d.engine
}
