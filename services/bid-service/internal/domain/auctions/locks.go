package auctions

import (
	"context"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// lockEntry is a per-auction mutex that can be abandoned through a context.
// refs counts goroutines holding or waiting on the entry.
type lockEntry struct {
	sem  chan struct{}
	refs int
}

// LockTable serializes every writer of one auction while leaving other auctions independent.
// An entry lives exactly as long as someone holds or waits on it: it is created by the
// first caller and removed by the last one, both under the map's per-key lock, so two
// callers can never end up with different locks for the same auction.
type LockTable struct {
	entries *xsync.MapOf[uuid.UUID, *lockEntry]
}

// NewLockTable creates an empty lock table. One table is shared by every component that
// mutates auctions in the process.
func NewLockTable() *LockTable {
	return &LockTable{entries: xsync.NewMapOf[uuid.UUID, *lockEntry]()}
}

// WithAuctionLock runs fn while holding the exclusive lock for auctionID.
// It returns ctx.Err() if the context is done before the lock is acquired.
func (t *LockTable) WithAuctionLock(ctx context.Context, auctionID uuid.UUID, fn func(ctx context.Context) error) error {
	entry := t.retain(auctionID)
	defer t.release(auctionID)

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-entry.sem }()

	return fn(ctx)
}

// Size reports how many auctions currently have a live lock entry
func (t *LockTable) Size() int {
	return t.entries.Size()
}

func (t *LockTable) retain(auctionID uuid.UUID) *lockEntry {
	entry, _ := t.entries.Compute(auctionID, func(e *lockEntry, loaded bool) (*lockEntry, bool) {
		if !loaded {
			e = &lockEntry{sem: make(chan struct{}, 1)}
		}
		e.refs++
		return e, false
	})
	return entry
}

func (t *LockTable) release(auctionID uuid.UUID) {
	t.entries.Compute(auctionID, func(e *lockEntry, loaded bool) (*lockEntry, bool) {
		if !loaded {
			return e, true
		}
		e.refs--
		return e, e.refs == 0
	})
}
