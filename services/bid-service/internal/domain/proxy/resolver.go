// Package proxy resolves automatic bidding on behalf of bidders who left a ceiling.
//
// The resolver is pure: it reads an auction snapshot and describes the bids that
// must be added and retired, without touching the snapshot itself.
package proxy

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
)

const defaultMaxRounds = 1000

// Outcome is the authoritative state after resolving standing proxies
type Outcome struct {
	Price   decimal.Decimal
	Leader  *auctions.Bid
	Created []*auctions.Bid
	// Outbid lists bids that existed before resolution and lost the lead
	Outbid []uuid.UUID
}

// Changed reports whether resolution produced any new bid
func (o Outcome) Changed() bool {
	return len(o.Created) > 0
}

// Apply writes the outcome onto the auction it was computed from
func (o Outcome) Apply(a *auctions.Auction, now time.Time) {
	for _, id := range o.Outbid {
		if b := a.FindBid(id); b != nil {
			a.SetBidStatus(b, auctions.BidStatusOutbid, now)
		}
	}
	for _, b := range o.Created {
		a.AppendBid(b)
	}
	if o.Price.GreaterThan(a.CurrentPrice) {
		a.CurrentPrice = o.Price
	}
}

// standing is a bidder's live proxy commitment
type standing struct {
	bidderID uuid.UUID
	ceiling  decimal.Decimal
	bid      *auctions.Bid
}

// Resolver plays increments on behalf of proxy bidders
type Resolver struct {
	newID     func() uuid.UUID
	maxRounds int
}

// NewResolver creates a resolver that assigns random IDs to the bids it creates
func NewResolver() *Resolver {
	return &Resolver{newID: uuid.New, maxRounds: defaultMaxRounds}
}

// WithIDs replaces the ID generator, which makes outcomes fully reproducible
func (r *Resolver) WithIDs(newID func() uuid.UUID) *Resolver {
	r.newID = newID
	return r
}

// Resolve computes the leader and price once every standing proxy has had its say.
//
// A challenger takes the lead with a higher ceiling, or with an equal ceiling placed
// earlier. It pays the runner-up's ceiling plus one increment, capped at its own
// ceiling; equal ceilings settle at the current price plus one increment. A leader
// whose own proxy outranks the challenger is raised just enough to stay ahead.
func (r *Resolver) Resolve(a *auctions.Auction, now time.Time) Outcome {
	out := Outcome{Price: a.CurrentPrice}
	leader := a.LeadingBid()
	out.Leader = leader
	if leader == nil {
		return out
	}

	proxies := standingProxies(a.Bids)
	if len(proxies) == 0 {
		return out
	}

	leaderCeil, leaderRef := ceilingOf(leader, proxies)
	price := a.CurrentPrice
	inc := a.BidIncrement
	seq := len(a.Bids)
	created := make(map[uuid.UUID]bool)

	displace := func(b *auctions.Bid) {
		if created[b.ID] {
			b.Status = auctions.BidStatusOutbid
			b.UpdatedAt = now
			return
		}
		out.Outbid = append(out.Outbid, b.ID)
	}
	raise := func(p standing, amount decimal.Decimal, parent *auctions.Bid) *auctions.Bid {
		seq++
		b := &auctions.Bid{
			ID:          r.newID(),
			AuctionID:   a.ID,
			BidderID:    p.bidderID,
			Amount:      amount,
			MaxAmount:   decimal.NewNullDecimal(p.ceiling),
			Type:        auctions.BidTypeAutoBid,
			Status:      auctions.BidStatusAccepted,
			IsProxyBid:  true,
			ParentBidID: uuid.NullUUID{UUID: parent.ID, Valid: true},
			Metadata:    auctions.BidMetadata{Source: p.bid.Metadata.Source},
			Sequence:    seq,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		created[b.ID] = true
		out.Created = append(out.Created, b)
		return b
	}

	for round := 0; round < r.maxRounds; round++ {
		minNext := price.Add(inc)

		var best *standing
		runnerUp := leaderCeil
		for i := range proxies {
			p := &proxies[i]
			if p.bidderID == leader.BidderID || p.ceiling.LessThan(minNext) {
				continue
			}
			if best == nil || outranks(*p, *best) {
				if best != nil {
					runnerUp = decimal.Max(runnerUp, best.ceiling)
				}
				best = p
				continue
			}
			runnerUp = decimal.Max(runnerUp, p.ceiling)
		}
		if best == nil {
			break
		}

		tie := best.ceiling.Equal(leaderCeil)
		if best.ceiling.GreaterThan(leaderCeil) || (tie && best.bid.Before(leaderRef)) {
			amount := decimal.Min(best.ceiling, decimal.Max(runnerUp.Add(inc), minNext))
			if tie {
				amount = decimal.Min(best.ceiling, minNext)
			}
			next := raise(*best, amount, leader)
			displace(leader)
			leader, leaderCeil, leaderRef, price = next, best.ceiling, best.bid, amount
			continue
		}

		if tie {
			break
		}
		target := decimal.Min(leaderCeil, best.ceiling.Add(inc))
		if !target.GreaterThan(leader.Amount) {
			break
		}
		self := standing{bidderID: leader.BidderID, ceiling: leaderCeil, bid: leaderRef}
		next := raise(self, target, best.bid)
		displace(leader)
		leader, price = next, target
	}

	out.Price = price
	out.Leader = leader
	return out
}

// outranks orders proxies by ceiling, then by submission time
func outranks(p, q standing) bool {
	if !p.ceiling.Equal(q.ceiling) {
		return p.ceiling.GreaterThan(q.ceiling)
	}
	return p.bid.Before(q.bid)
}

// ceilingOf returns how far the leader is willing to go and the bid that set that limit
func ceilingOf(leader *auctions.Bid, proxies []standing) (decimal.Decimal, *auctions.Bid) {
	ceil, ref := leader.Ceiling(), leader
	for _, p := range proxies {
		if p.bidderID == leader.BidderID && p.ceiling.GreaterThanOrEqual(ceil) {
			ceil, ref = p.ceiling, p.bid
		}
	}
	return ceil, ref
}

// standingProxies finds each bidder's latest proxy bid that is still in play.
// A proxy stops standing once it is cancelled or expired, or once the bidder
// cancels any later bid.
func standingProxies(bids []*auctions.Bid) []standing {
	latest := make(map[uuid.UUID]*auctions.Bid)
	cancelled := make(map[uuid.UUID]*auctions.Bid)
	for _, b := range bids {
		if b.Status == auctions.BidStatusCancelled {
			if c, ok := cancelled[b.BidderID]; !ok || c.Before(b) {
				cancelled[b.BidderID] = b
			}
		}
		if b.Type != auctions.BidTypeProxy || !b.HasMaxAmount() {
			continue
		}
		if cur, ok := latest[b.BidderID]; !ok || cur.Before(b) {
			latest[b.BidderID] = b
		}
	}

	result := make([]standing, 0, len(latest))
	for bidderID, b := range latest {
		if b.Status != auctions.BidStatusAccepted && b.Status != auctions.BidStatusOutbid {
			continue
		}
		if c, ok := cancelled[bidderID]; ok && b.Before(c) {
			continue
		}
		result = append(result, standing{bidderID: bidderID, ceiling: b.MaxAmount.Decimal, bid: b})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].bid.Before(result[j].bid) })
	return result
}
