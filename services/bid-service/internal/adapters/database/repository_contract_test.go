package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
)

var errRollback = errors.New("rollback")

func newTestAuction(t *testing.T, now time.Time) *auctions.Auction {
	t.Helper()
	a, err := auctions.NewAuction(auctions.CreateAuctionCommand{
		SellerID:      uuid.New(),
		Title:         "Vintage Rolex",
		StartingPrice: decimal.NewFromInt(100),
		ReservePrice:  decimal.NewNullDecimal(decimal.NewFromInt(400)),
		BidIncrement:  decimal.NewFromInt(10),
		StartTime:     now.Add(-time.Hour),
		EndTime:       now.Add(time.Hour),
		AutoExtend:    true,
	}, now)
	require.NoError(t, err)
	a.Status = auctions.StatusActive
	return a
}

func newTestBid(bidder uuid.UUID, amount int64, at time.Time) *auctions.Bid {
	return &auctions.Bid{
		ID:        uuid.New(),
		BidderID:  bidder,
		Amount:    decimal.NewFromInt(amount),
		Type:      auctions.BidTypeManual,
		Status:    auctions.BidStatusAccepted,
		Metadata:  auctions.BidMetadata{IPAddress: "10.0.0.1", Source: auctions.BidSourceWeb},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// runRepositoryContract checks the behaviour every auctions.Repository must share
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) auctions.Repository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("Persist and reload an auction with bids", func(t *testing.T) {
		repo := newRepo(t)
		a := newTestAuction(t, now)

		first := newTestBid(uuid.New(), 110, now)
		a.AppendBid(first)
		second := newTestBid(uuid.New(), 120, now.Add(time.Second))
		second.MaxAmount = decimal.NewNullDecimal(decimal.NewFromInt(300))
		second.Type = auctions.BidTypeProxy
		a.AppendBid(second)
		a.SetBidStatus(first, auctions.BidStatusOutbid, now)
		a.CurrentPrice = decimal.NewFromInt(120)

		require.NoError(t, auctions.Persist(ctx, repo, a))
		assert.Equal(t, int64(1), a.Version)
		assert.Empty(t, a.PendingBids())

		loaded, err := repo.GetAuction(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.Title, loaded.Title)
		assert.True(t, loaded.CurrentPrice.Equal(decimal.NewFromInt(120)))
		assert.True(t, loaded.ReservePrice.Valid)
		assert.True(t, loaded.ReservePrice.Decimal.Equal(decimal.NewFromInt(400)))
		assert.False(t, loaded.BuyNowPrice.Valid)
		assert.Equal(t, auctions.StatusActive, loaded.Status)
		require.Len(t, loaded.Bids, 2)
		assert.Equal(t, first.ID, loaded.Bids[0].ID)
		assert.Equal(t, auctions.BidStatusOutbid, loaded.Bids[0].Status)
		assert.Equal(t, 2, loaded.Bids[1].Sequence)
		assert.True(t, loaded.Bids[1].MaxAmount.Decimal.Equal(decimal.NewFromInt(300)))
		assert.Equal(t, auctions.BidSourceWeb, loaded.Bids[1].Metadata.Source)
	})

	t.Run("Missing auction", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetAuction(ctx, uuid.New())
		assert.ErrorIs(t, err, auctions.ErrAuctionNotFound)
		assert.ErrorIs(t, err, auctions.ErrNotFound)

		_, err = repo.FindByExternalID(ctx, "src", "nope")
		assert.ErrorIs(t, err, auctions.ErrAuctionNotFound)
	})

	t.Run("Stale version is rejected", func(t *testing.T) {
		repo := newRepo(t)
		a := newTestAuction(t, now)
		require.NoError(t, auctions.Persist(ctx, repo, a))

		stale, err := repo.GetAuction(ctx, a.ID)
		require.NoError(t, err)

		a.CurrentPrice = decimal.NewFromInt(150)
		require.NoError(t, auctions.Persist(ctx, repo, a))
		assert.Equal(t, int64(2), a.Version)

		stale.CurrentPrice = decimal.NewFromInt(999)
		err = auctions.Persist(ctx, repo, stale)
		assert.ErrorIs(t, err, auctions.ErrConcurrentModification)
		assert.True(t, auctions.IsRetryable(err))

		loaded, err := repo.GetAuction(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, loaded.CurrentPrice.Equal(decimal.NewFromInt(150)))
	})

	t.Run("Failed unit of work writes nothing", func(t *testing.T) {
		repo := newRepo(t)
		a := newTestAuction(t, now)
		require.NoError(t, auctions.Persist(ctx, repo, a))

		bid := newTestBid(uuid.New(), 110, now)
		a.AppendBid(bid)
		err := repo.RunInTx(ctx, func(ctx context.Context) error {
			if err := repo.SaveBid(ctx, bid); err != nil {
				return err
			}
			return errRollback
		})
		assert.ErrorIs(t, err, errRollback)

		bids, err := repo.ListBids(ctx, a.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, bids)
	})

	t.Run("Highest accepted bid and listing", func(t *testing.T) {
		repo := newRepo(t)
		a := newTestAuction(t, now)
		early := newTestBid(uuid.New(), 200, now)
		late := newTestBid(uuid.New(), 200, now.Add(time.Second))
		low := newTestBid(uuid.New(), 150, now.Add(2*time.Second))
		for _, b := range []*auctions.Bid{early, late, low} {
			a.AppendBid(b)
		}
		require.NoError(t, auctions.Persist(ctx, repo, a))

		leader, err := repo.HighestAcceptedBid(ctx, a.ID)
		require.NoError(t, err)
		require.NotNil(t, leader)
		assert.Equal(t, early.ID, leader.ID)

		recent, err := repo.ListBids(ctx, a.ID, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, low.ID, recent[0].ID)
		assert.Equal(t, late.ID, recent[1].ID)
	})

	t.Run("Bids of one bidder across auctions", func(t *testing.T) {
		repo := newRepo(t)
		bidder := uuid.New()

		first := newTestAuction(t, now)
		older := newTestBid(bidder, 150, now)
		first.AppendBid(older)
		first.AppendBid(newTestBid(uuid.New(), 160, now.Add(time.Second)))
		first.SetBidStatus(older, auctions.BidStatusOutbid, now.Add(time.Second))
		require.NoError(t, auctions.Persist(ctx, repo, first))

		second := newTestAuction(t, now)
		newer := newTestBid(bidder, 300, now.Add(time.Minute))
		second.AppendBid(newer)
		require.NoError(t, auctions.Persist(ctx, repo, second))

		all, err := repo.ListBidsByBidder(ctx, bidder, "", 0)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, newer.ID, all[0].ID, "newest first")
		assert.Equal(t, older.ID, all[1].ID)

		outbid, err := repo.ListBidsByBidder(ctx, bidder, auctions.BidStatusOutbid, 0)
		require.NoError(t, err)
		require.Len(t, outbid, 1)
		assert.Equal(t, first.ID, outbid[0].AuctionID)

		limited, err := repo.ListBidsByBidder(ctx, bidder, "", 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, newer.ID, limited[0].ID)

		none, err := repo.ListBidsByBidder(ctx, uuid.New(), "", 0)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("No accepted bid", func(t *testing.T) {
		repo := newRepo(t)
		a := newTestAuction(t, now)
		require.NoError(t, auctions.Persist(ctx, repo, a))

		leader, err := repo.HighestAcceptedBid(ctx, a.ID)
		require.NoError(t, err)
		assert.Nil(t, leader)
	})

	t.Run("List by status and find by external id", func(t *testing.T) {
		repo := newRepo(t)
		active := newTestAuction(t, now)
		require.NoError(t, auctions.Persist(ctx, repo, active))

		imported := newTestAuction(t, now)
		imported.Status = auctions.StatusScheduled
		imported.ExternalSource = "catawiki"
		imported.ExternalID = "ext-42"
		imported.EndTime = now.Add(30 * time.Minute)
		require.NoError(t, auctions.Persist(ctx, repo, imported))

		sold := newTestAuction(t, now)
		sold.Status = auctions.StatusSold
		require.NoError(t, auctions.Persist(ctx, repo, sold))

		listed, err := repo.ListAuctionsByStatus(ctx, auctions.StatusActive, auctions.StatusScheduled)
		require.NoError(t, err)

		// the store may hold auctions from other tests; only ours are checked
		ours := map[uuid.UUID]bool{active.ID: true, imported.ID: true, sold.ID: true}
		var ids []uuid.UUID
		for _, a := range listed {
			if ours[a.ID] {
				ids = append(ids, a.ID)
			}
			assert.Empty(t, a.Bids, "listings come without bids")
		}
		assert.Equal(t, []uuid.UUID{imported.ID, active.ID}, ids, "soonest ending first")

		found, err := repo.FindByExternalID(ctx, "catawiki", "ext-42")
		require.NoError(t, err)
		assert.Equal(t, imported.ID, found.ID)
	})
}
