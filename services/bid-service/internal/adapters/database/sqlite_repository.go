package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
)

type bunTxKey struct{}

// SQLiteAuctionRepository implements auctions.Repository on an embedded SQLite file through bun.
// It backs single-node deployments that run without Postgres.
type SQLiteAuctionRepository struct {
	db *bun.DB
}

// OpenSQLite opens (or creates) the database at dsn, e.g. "file:gavel.db" or "file::memory:".
// SQLite allows one writer, so the pool is capped at a single connection.
func OpenSQLite(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// NewSQLiteAuctionRepository creates a repository on an open bun database
func NewSQLiteAuctionRepository(db *bun.DB) *SQLiteAuctionRepository {
	return &SQLiteAuctionRepository{db: db}
}

// Migrate creates the auction and bid tables if they do not exist
func (r *SQLiteAuctionRepository) Migrate(ctx context.Context) error {
	for _, model := range []any{(*auctionRow)(nil), (*bidRow)(nil)} {
		if _, err := r.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table failed: %w", err)
		}
	}

	_, err := r.db.NewCreateIndex().
		Model((*bidRow)(nil)).
		Index("idx_bids_auction_sequence").
		Unique().
		IfNotExists().
		Column("auction_id", "sequence").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create index failed: %w", err)
	}

	_, err = r.db.NewCreateIndex().
		Model((*auctionRow)(nil)).
		Index("idx_auctions_status").
		IfNotExists().
		Column("status").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create index failed: %w", err)
	}
	return nil
}

func (r *SQLiteAuctionRepository) conn(ctx context.Context) bun.IDB {
	if tx, ok := ctx.Value(bunTxKey{}).(bun.Tx); ok {
		return tx
	}
	return r.db
}

// RunInTx runs fn in a bun transaction; nested calls join the outer one
func (r *SQLiteAuctionRepository) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(bunTxKey{}).(bun.Tx); ok {
		return fn(ctx)
	}
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(context.WithValue(ctx, bunTxKey{}, tx))
	})
}

// GetAuction → fetch one auction and its bids
func (r *SQLiteAuctionRepository) GetAuction(ctx context.Context, id uuid.UUID) (*auctions.Auction, error) {
	var row auctionRow
	err := r.conn(ctx).NewSelect().
		Model(&row).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auctions.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}

	a := row.toDomain()
	a.Bids, err = r.selectBids(ctx, id, "")
	if err != nil {
		return nil, err
	}
	return a, nil
}

// SaveAuction → insert on version zero, otherwise update if the stored version matches
func (r *SQLiteAuctionRepository) SaveAuction(ctx context.Context, a *auctions.Auction) error {
	row := newAuctionRow(a)
	row.Version = a.Version + 1

	if a.Version == 0 {
		if _, err := r.conn(ctx).NewInsert().Model(row).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert auction: %w", err)
		}
		a.Version = row.Version
		return nil
	}

	res, err := r.conn(ctx).NewUpdate().
		Model(row).
		WherePK().
		Where("version = ?", a.Version).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update auction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: auction %s changed since version %d", auctions.ErrConcurrentModification, a.ID, a.Version)
	}
	a.Version = row.Version
	return nil
}

// SaveBid → upsert one bid; only the mutable columns change on conflict
func (r *SQLiteAuctionRepository) SaveBid(ctx context.Context, b *auctions.Bid) error {
	_, err := r.conn(ctx).NewInsert().
		Model(newBidRow(b)).
		On("CONFLICT (id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("cancellation_reason = EXCLUDED.cancellation_reason").
		Set("cancelled_at = EXCLUDED.cancelled_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save bid: %w", err)
	}
	return nil
}

// HighestAcceptedBid ranks in Go since amounts are stored as text
func (r *SQLiteAuctionRepository) HighestAcceptedBid(ctx context.Context, auctionID uuid.UUID) (*auctions.Bid, error) {
	bids, err := r.selectBids(ctx, auctionID, auctions.BidStatusAccepted)
	if err != nil {
		return nil, err
	}
	a := &auctions.Auction{Bids: bids}
	return a.LeadingBid(), nil
}

// ListBids → newest first
func (r *SQLiteAuctionRepository) ListBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]*auctions.Bid, error) {
	var rows []bidRow
	q := r.conn(ctx).NewSelect().
		Model(&rows).
		Where("auction_id = ?", auctionID).
		Order("sequence DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}

	result := make([]*auctions.Bid, len(rows))
	for i := range rows {
		result[i] = rows[i].toDomain()
	}
	return result, nil
}

// ListBidsByBidder → one bidder's bids across auctions, newest first
func (r *SQLiteAuctionRepository) ListBidsByBidder(ctx context.Context, bidderID uuid.UUID, status auctions.BidStatus, limit int) ([]*auctions.Bid, error) {
	var rows []bidRow
	q := r.conn(ctx).NewSelect().
		Model(&rows).
		Where("bidder_id = ?", bidderID).
		Order("created_at DESC", "sequence DESC")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list bids by bidder: %w", err)
	}

	result := make([]*auctions.Bid, len(rows))
	for i := range rows {
		result[i] = rows[i].toDomain()
	}
	return result, nil
}

// ListAuctionsByStatus → auctions in any of the states, soonest ending first
func (r *SQLiteAuctionRepository) ListAuctionsByStatus(ctx context.Context, statuses ...auctions.Status) ([]*auctions.Auction, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	var rows []auctionRow
	err := r.conn(ctx).NewSelect().
		Model(&rows).
		Where("status IN (?)", bun.In(names)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}

	result := make([]*auctions.Auction, len(rows))
	for i := range rows {
		result[i] = rows[i].toDomain()
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EndTime.Before(result[j].EndTime) })
	return result, nil
}

// FindByExternalID → imported auction by origin
func (r *SQLiteAuctionRepository) FindByExternalID(ctx context.Context, source, externalID string) (*auctions.Auction, error) {
	var id uuid.UUID
	err := r.conn(ctx).NewSelect().
		Model((*auctionRow)(nil)).
		Column("id").
		Where("external_source = ?", source).
		Where("external_id = ?", externalID).
		Limit(1).
		Scan(ctx, &id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auctions.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to find auction by external id: %w", err)
	}
	return r.GetAuction(ctx, id)
}

func (r *SQLiteAuctionRepository) selectBids(ctx context.Context, auctionID uuid.UUID, status auctions.BidStatus) ([]*auctions.Bid, error) {
	var rows []bidRow
	q := r.conn(ctx).NewSelect().
		Model(&rows).
		Where("auction_id = ?", auctionID).
		Order("sequence ASC")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}

	result := make([]*auctions.Bid, len(rows))
	for i := range rows {
		result[i] = rows[i].toDomain()
	}
	return result, nil
}
