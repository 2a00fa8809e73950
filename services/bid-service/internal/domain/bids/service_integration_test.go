//go:build integration

package bids_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floroz/gavel-engine/pkg/database"
	"github.com/floroz/gavel-engine/pkg/testhelpers"
	infradb "github.com/floroz/gavel-engine/services/bid-service/internal/adapters/database"
	"github.com/floroz/gavel-engine/services/bid-service/internal/adapters/events"
	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/bids"
	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/proxy"
)

// testServices holds all engine dependencies for testing
type testServices struct {
	Engine     *bids.Engine
	TxManager  database.TransactionManager
	Repo       *infradb.PostgresAuctionRepository
	OutboxRepo *infradb.PostgresOutboxRepository
}

// setupEngine wires the engine to Postgres, with events going to the outbox
func setupEngine(pool *pgxpool.Pool) *testServices {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	txManager := database.NewPostgresTransactionManager(pool, 5*time.Second)
	repo := infradb.NewPostgresAuctionRepository(pool, txManager)
	outboxRepo := infradb.NewPostgresOutboxRepository(pool)
	sink := events.NewOutboxSink(txManager, outboxRepo, logger)

	engine := bids.NewEngine(repo, auctions.NewLockTable(), bids.NewLimitValidator(bids.LimitPolicy{}), proxy.NewResolver(), sink)
	return &testServices{Engine: engine, TxManager: txManager, Repo: repo, OutboxRepo: outboxRepo}
}

func seedAuction(t *testing.T, repo auctions.Repository) *auctions.Auction {
	t.Helper()
	now := time.Now().UTC()
	a, err := auctions.NewAuction(auctions.CreateAuctionCommand{
		SellerID:      uuid.New(),
		Title:         "Test Item",
		StartingPrice: decimal.NewFromInt(500),
		BidIncrement:  decimal.NewFromInt(10),
		StartTime:     now.Add(-time.Hour),
		EndTime:       now.Add(24 * time.Hour),
	}, now)
	require.NoError(t, err)
	require.NoError(t, a.Activate(now))
	require.NoError(t, auctions.Persist(context.Background(), repo, a))
	return a
}

func pendingEvents(t *testing.T, svc *testServices) int {
	t.Helper()
	ctx := context.Background()
	tx, err := svc.TxManager.BeginTx(ctx)
	require.NoError(t, err)
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	pending, err := svc.OutboxRepo.GetPendingEvents(ctx, tx, 1000)
	require.NoError(t, err)
	return len(pending)
}

func TestEngine_PlaceBid_Integration_SecondPrice(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	defer testDB.Close()

	svc := setupEngine(testDB.Pool)
	ctx := context.Background()
	a := seedAuction(t, svc.Repo)
	bidderA, bidderB := uuid.New(), uuid.New()

	_, err := svc.Engine.PlaceBid(ctx, bids.PlaceBidCommand{
		AuctionID: a.ID,
		BidderID:  bidderA,
		Amount:    decimal.NewFromInt(510),
		MaxAmount: decimal.NewNullDecimal(decimal.NewFromInt(900)),
	})
	require.NoError(t, err)

	_, err = svc.Engine.PlaceBid(ctx, bids.PlaceBidCommand{
		AuctionID: a.ID,
		BidderID:  bidderB,
		Amount:    decimal.NewFromInt(520),
		MaxAmount: decimal.NewNullDecimal(decimal.NewFromInt(1200)),
	})
	require.NoError(t, err)

	stored, err := svc.Repo.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, stored.CurrentPrice.Equal(decimal.NewFromInt(910)), "got %s", stored.CurrentPrice)

	leader, err := svc.Engine.LeadingBid(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, bidderB, leader.BidderID)
	assert.Equal(t, auctions.BidTypeAutoBid, leader.Type)

	// first bid: placed; second: placed, placed (auto), outbid
	assert.Equal(t, 4, pendingEvents(t, svc))
}

// TestEngine_PlaceBid_Integration_ConcurrentBids checks that concurrent bids on one
// auction never lose an update
func TestEngine_PlaceBid_Integration_ConcurrentBids(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	defer testDB.Close()

	svc := setupEngine(testDB.Pool)
	ctx := context.Background()
	a := seedAuction(t, svc.Repo)

	numBids := 10
	var wg sync.WaitGroup
	results := make(chan error, numBids)

	for i := 0; i < numBids; i++ {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			_, err := svc.Engine.PlaceBid(ctx, bids.PlaceBidCommand{
				AuctionID: a.ID,
				BidderID:  uuid.New(),
				Amount:    decimal.NewFromInt(amount),
			})
			results <- err
		}(int64(600 + i*100))
	}
	wg.Wait()
	close(results)

	var successCount int
	for err := range results {
		if err == nil {
			successCount++
			continue
		}
		assert.ErrorIs(t, err, auctions.ErrBidTooLow)
	}

	stored, err := svc.Repo.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	expectedHighest := decimal.NewFromInt(int64(600 + (numBids-1)*100))
	assert.True(t, stored.CurrentPrice.Equal(expectedHighest), "got %s", stored.CurrentPrice)
	assert.Len(t, stored.Bids, successCount, "Database should contain all successful bids")
	assert.Equal(t, int64(successCount+1), stored.Version)

	// one placed event per bid plus one outbid for every bid after the first
	assert.Equal(t, 2*successCount-1, pendingEvents(t, svc))
}
