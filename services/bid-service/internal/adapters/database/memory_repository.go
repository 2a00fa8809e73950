package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
)

type memoryTxKey struct{}

// memoryTx collects the writes of one unit of work until it commits
type memoryTx struct {
	auctions []stagedAuction
	bids     []*auctions.Bid
}

type stagedAuction struct {
	target *auctions.Auction
	row    *auctions.Auction
}

// MemoryRepository implements auctions.Repository in process memory.
// Reads return copies so callers can never mutate stored state.
type MemoryRepository struct {
	mu       sync.RWMutex
	auctions map[uuid.UUID]*auctions.Auction
	bids     map[uuid.UUID]map[uuid.UUID]*auctions.Bid
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		auctions: make(map[uuid.UUID]*auctions.Auction),
		bids:     make(map[uuid.UUID]map[uuid.UUID]*auctions.Bid),
	}
}

// RunInTx stages every write made through ctx and applies them atomically when fn returns nil
func (r *MemoryRepository) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memoryTxKey{}).(*memoryTx); ok {
		return fn(ctx)
	}

	tx := &memoryTx{}
	if err := fn(context.WithValue(ctx, memoryTxKey{}, tx)); err != nil {
		return err
	}
	return r.commit(tx)
}

func (r *MemoryRepository) commit(tx *memoryTx) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range tx.auctions {
		if err := r.checkVersion(s.row); err != nil {
			return err
		}
	}
	for _, b := range tx.bids {
		if !r.hasAuction(b.AuctionID, tx) {
			return fmt.Errorf("%w: bid %s references unknown auction %s", auctions.ErrAuctionNotFound, b.ID, b.AuctionID)
		}
	}

	for _, s := range tx.auctions {
		r.storeAuction(s.target, s.row)
	}
	for _, b := range tx.bids {
		r.storeBid(b)
	}
	return nil
}

func (r *MemoryRepository) hasAuction(id uuid.UUID, tx *memoryTx) bool {
	if _, ok := r.auctions[id]; ok {
		return true
	}
	for _, s := range tx.auctions {
		if s.row.ID == id {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) checkVersion(row *auctions.Auction) error {
	stored, exists := r.auctions[row.ID]
	if row.Version == 0 {
		if exists {
			return fmt.Errorf("%w: auction %s already exists", auctions.ErrConcurrentModification, row.ID)
		}
		return nil
	}
	if !exists {
		return auctions.ErrAuctionNotFound
	}
	if stored.Version != row.Version {
		return fmt.Errorf("%w: auction %s is at version %d, expected %d",
			auctions.ErrConcurrentModification, row.ID, stored.Version, row.Version)
	}
	return nil
}

func (r *MemoryRepository) storeAuction(target, row *auctions.Auction) {
	row.Version++
	row.Bids = nil
	r.auctions[row.ID] = row
	target.Version = row.Version
}

func (r *MemoryRepository) storeBid(b *auctions.Bid) {
	byID, ok := r.bids[b.AuctionID]
	if !ok {
		byID = make(map[uuid.UUID]*auctions.Bid)
		r.bids[b.AuctionID] = byID
	}
	byID[b.ID] = b
}

// GetAuction returns a copy of the auction with its bids in insertion order
func (r *MemoryRepository) GetAuction(ctx context.Context, id uuid.UUID) (*auctions.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.auctions[id]
	if !ok {
		return nil, auctions.ErrAuctionNotFound
	}
	a := stored.Clone()
	a.Bids = r.sortedBids(id)
	return a, nil
}

// SaveAuction stages the auction inside a unit of work, or writes it straight away outside one
func (r *MemoryRepository) SaveAuction(ctx context.Context, a *auctions.Auction) error {
	row := a.Clone()
	if tx, ok := ctx.Value(memoryTxKey{}).(*memoryTx); ok {
		tx.auctions = append(tx.auctions, stagedAuction{target: a, row: row})
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkVersion(row); err != nil {
		return err
	}
	r.storeAuction(a, row)
	return nil
}

// SaveBid stages or writes a copy of the bid
func (r *MemoryRepository) SaveBid(ctx context.Context, b *auctions.Bid) error {
	row := b.Clone()
	if tx, ok := ctx.Value(memoryTxKey{}).(*memoryTx); ok {
		tx.bids = append(tx.bids, row)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.auctions[b.AuctionID]; !ok {
		return auctions.ErrAuctionNotFound
	}
	r.storeBid(row)
	return nil
}

// HighestAcceptedBid returns the leading bid of the auction
func (r *MemoryRepository) HighestAcceptedBid(ctx context.Context, auctionID uuid.UUID) (*auctions.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return nil, auctions.ErrAuctionNotFound
	}
	a := &auctions.Auction{Bids: r.sortedBids(auctionID)}
	return a.LeadingBid(), nil
}

// ListBids returns up to limit bids, newest first
func (r *MemoryRepository) ListBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]*auctions.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return nil, auctions.ErrAuctionNotFound
	}
	bids := r.sortedBids(auctionID)
	result := make([]*auctions.Bid, 0, len(bids))
	for i := len(bids) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, bids[i])
	}
	return result, nil
}

// ListBidsByBidder returns up to limit of the bidder's bids, newest first
func (r *MemoryRepository) ListBidsByBidder(ctx context.Context, bidderID uuid.UUID, status auctions.BidStatus, limit int) ([]*auctions.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*auctions.Bid
	for _, byID := range r.bids {
		for _, b := range byID {
			if b.BidderID != bidderID || (status != "" && b.Status != status) {
				continue
			}
			result = append(result, b.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].Sequence > result[j].Sequence
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListAuctionsByStatus returns copies of every auction in one of the given states
func (r *MemoryRepository) ListAuctionsByStatus(ctx context.Context, statuses ...auctions.Status) ([]*auctions.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[auctions.Status]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	var result []*auctions.Auction
	for _, a := range r.auctions {
		if wanted[a.Status] {
			result = append(result, a.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EndTime.Before(result[j].EndTime) })
	return result, nil
}

// FindByExternalID looks up an imported auction
func (r *MemoryRepository) FindByExternalID(ctx context.Context, source, externalID string) (*auctions.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, a := range r.auctions {
		if a.ExternalSource == source && a.ExternalID == externalID {
			c := a.Clone()
			c.Bids = r.sortedBids(id)
			return c, nil
		}
	}
	return nil, auctions.ErrAuctionNotFound
}

// sortedBids copies the bids of an auction in sequence order; callers hold the lock
func (r *MemoryRepository) sortedBids(auctionID uuid.UUID) []*auctions.Bid {
	byID := r.bids[auctionID]
	if len(byID) == 0 {
		return nil
	}
	result := make([]*auctions.Bid, 0, len(byID))
	for _, b := range byID {
		result = append(result, b.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Sequence < result[j].Sequence })
	return result
}
