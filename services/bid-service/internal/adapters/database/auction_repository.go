package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgdb "github.com/floroz/gavel-engine/pkg/database"
	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
)

type pgTxKey struct{}

// txFromContext returns the transaction opened by RunInTx, if any
func txFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(pgTxKey{}).(pgx.Tx)
	return tx, ok
}

// Numeric columns are read back as text so they scan losslessly into decimal.Decimal
const auctionColumns = `
	id, seller_id, title, description, category,
	starting_price::text, reserve_price::text, buy_now_price::text, current_price::text, bid_increment::text,
	start_time, end_time, actual_end_time, auto_extend, auto_extend_minutes,
	status, winner_id, winning_amount::text, cancellation_reason,
	external_source, external_id, external_url, version, created_at, updated_at`

const bidColumns = `
	id, auction_id, bidder_id, amount::text, max_amount::text, bid_type, status, is_proxy_bid, parent_bid_id,
	sequence, ip_address, user_agent, device_id, source, cancellation_reason, cancelled_at, created_at, updated_at`

// PostgresAuctionRepository implements auctions.Repository using pgx
type PostgresAuctionRepository struct {
	pool      *pgxpool.Pool
	txManager pkgdb.TransactionManager
}

// NewPostgresAuctionRepository creates a new PostgreSQL auction repository
func NewPostgresAuctionRepository(pool *pgxpool.Pool, txManager pkgdb.TransactionManager) *PostgresAuctionRepository {
	return &PostgresAuctionRepository{pool: pool, txManager: txManager}
}

// conn returns the transaction carried by ctx, or the pool outside a unit of work
func (r *PostgresAuctionRepository) conn(ctx context.Context) pkgdb.DBTX {
	if tx, ok := txFromContext(ctx); ok {
		return tx
	}
	return r.pool
}

// RunInTx runs fn in a database transaction; nested calls join the outer one
func (r *PostgresAuctionRepository) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFromContext(ctx); ok {
		return fn(ctx)
	}
	return pkgdb.WithinTx(ctx, r.txManager, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, pgTxKey{}, tx))
	})
}

// GetAuction retrieves an auction and all of its bids
func (r *PostgresAuctionRepository) GetAuction(ctx context.Context, id uuid.UUID) (*auctions.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`

	a, err := scanAuction(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auctions.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}

	a.Bids, err = r.queryBids(ctx, `SELECT `+bidColumns+` FROM bids WHERE auction_id = $1 ORDER BY sequence ASC`, id)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// SaveAuction inserts a new auction or updates it under optimistic versioning
func (r *PostgresAuctionRepository) SaveAuction(ctx context.Context, a *auctions.Auction) error {
	if a.Version == 0 {
		return r.insertAuction(ctx, a)
	}

	query := `
		UPDATE auctions SET
			title = $2, description = $3, category = $4,
			starting_price = $5, reserve_price = $6, buy_now_price = $7, current_price = $8, bid_increment = $9,
			start_time = $10, end_time = $11, actual_end_time = $12, auto_extend = $13, auto_extend_minutes = $14,
			status = $15, winner_id = $16, winning_amount = $17, cancellation_reason = $18,
			external_source = $19, external_id = $20, external_url = $21,
			version = version + 1, updated_at = $22
		WHERE id = $1 AND version = $23
	`
	tag, err := r.conn(ctx).Exec(ctx, query,
		a.ID,
		a.Title, a.Description, a.Category,
		a.StartingPrice, a.ReservePrice, a.BuyNowPrice, a.CurrentPrice, a.BidIncrement,
		a.StartTime, a.EndTime, a.ActualEndTime, a.AutoExtend, a.AutoExtendMinutes,
		string(a.Status), a.WinnerID, a.WinningAmount, a.CancellationReason,
		a.ExternalSource, a.ExternalID, a.ExternalURL,
		a.UpdatedAt,
		a.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update auction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: auction %s changed since version %d", auctions.ErrConcurrentModification, a.ID, a.Version)
	}
	a.Version++
	return nil
}

func (r *PostgresAuctionRepository) insertAuction(ctx context.Context, a *auctions.Auction) error {
	query := `
		INSERT INTO auctions (
			id, seller_id, title, description, category,
			starting_price, reserve_price, buy_now_price, current_price, bid_increment,
			start_time, end_time, actual_end_time, auto_extend, auto_extend_minutes,
			status, winner_id, winning_amount, cancellation_reason,
			external_source, external_id, external_url, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, 1, $23, $24
		)
	`
	_, err := r.conn(ctx).Exec(ctx, query,
		a.ID, a.SellerID, a.Title, a.Description, a.Category,
		a.StartingPrice, a.ReservePrice, a.BuyNowPrice, a.CurrentPrice, a.BidIncrement,
		a.StartTime, a.EndTime, a.ActualEndTime, a.AutoExtend, a.AutoExtendMinutes,
		string(a.Status), a.WinnerID, a.WinningAmount, a.CancellationReason,
		a.ExternalSource, a.ExternalID, a.ExternalURL,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert auction: %w", err)
	}
	a.Version = 1
	return nil
}

// SaveBid inserts a bid or updates its mutable fields
func (r *PostgresAuctionRepository) SaveBid(ctx context.Context, b *auctions.Bid) error {
	query := `
		INSERT INTO bids (
			id, auction_id, bidder_id, amount, max_amount, bid_type, status, is_proxy_bid, parent_bid_id,
			sequence, ip_address, user_agent, device_id, source, cancellation_reason, cancelled_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			cancellation_reason = EXCLUDED.cancellation_reason,
			cancelled_at = EXCLUDED.cancelled_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.conn(ctx).Exec(ctx, query,
		b.ID, b.AuctionID, b.BidderID, b.Amount, b.MaxAmount, string(b.Type), string(b.Status), b.IsProxyBid, b.ParentBidID,
		b.Sequence, b.Metadata.IPAddress, b.Metadata.UserAgent, b.Metadata.DeviceID, string(b.Metadata.Source),
		b.CancellationReason, b.CancelledAt, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save bid: %w", err)
	}
	return nil
}

// HighestAcceptedBid returns the leading bid: highest amount, earliest on ties
func (r *PostgresAuctionRepository) HighestAcceptedBid(ctx context.Context, auctionID uuid.UUID) (*auctions.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids
		WHERE auction_id = $1 AND status = $2
		ORDER BY amount DESC, created_at ASC, sequence ASC
		LIMIT 1`

	bids, err := r.queryBids(ctx, query, auctionID, string(auctions.BidStatusAccepted))
	if err != nil {
		return nil, err
	}
	if len(bids) == 0 {
		return nil, nil
	}
	return bids[0], nil
}

// ListBids retrieves the most recent bids of an auction
func (r *PostgresAuctionRepository) ListBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]*auctions.Bid, error) {
	if limit <= 0 {
		return r.queryBids(ctx, `SELECT `+bidColumns+` FROM bids WHERE auction_id = $1 ORDER BY sequence DESC`, auctionID)
	}
	return r.queryBids(ctx, `SELECT `+bidColumns+` FROM bids WHERE auction_id = $1 ORDER BY sequence DESC LIMIT $2`, auctionID, limit)
}

// ListBidsByBidder retrieves a bidder's bids across auctions, newest first
func (r *PostgresAuctionRepository) ListBidsByBidder(ctx context.Context, bidderID uuid.UUID, status auctions.BidStatus, limit int) ([]*auctions.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids
		WHERE bidder_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, sequence DESC`
	if limit <= 0 {
		return r.queryBids(ctx, query, bidderID, string(status))
	}
	return r.queryBids(ctx, query+` LIMIT $3`, bidderID, string(status), limit)
}

// ListAuctionsByStatus retrieves auctions in the given states, soonest ending first
func (r *PostgresAuctionRepository) ListAuctionsByStatus(ctx context.Context, statuses ...auctions.Status) ([]*auctions.Auction, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE status = ANY($1) ORDER BY end_time ASC`
	rows, err := r.conn(ctx).Query(ctx, query, names)
	if err != nil {
		return nil, fmt.Errorf("failed to query auctions: %w", err)
	}
	defer rows.Close()

	var result []*auctions.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating auctions: %w", err)
	}
	return result, nil
}

// FindByExternalID retrieves an imported auction by its origin
func (r *PostgresAuctionRepository) FindByExternalID(ctx context.Context, source, externalID string) (*auctions.Auction, error) {
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id FROM auctions WHERE external_source = $1 AND external_id = $2`, source, externalID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auctions.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to find auction by external id: %w", err)
	}
	return r.GetAuction(ctx, id)
}

func (r *PostgresAuctionRepository) queryBids(ctx context.Context, query string, args ...any) ([]*auctions.Bid, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	var result []*auctions.Bid
	for rows.Next() {
		var (
			b      auctions.Bid
			typ    string
			status string
			source string
		)
		if err := rows.Scan(
			&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.MaxAmount, &typ, &status, &b.IsProxyBid, &b.ParentBidID,
			&b.Sequence, &b.Metadata.IPAddress, &b.Metadata.UserAgent, &b.Metadata.DeviceID, &source,
			&b.CancellationReason, &b.CancelledAt, &b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		b.Type = auctions.BidType(typ)
		b.Status = auctions.BidStatus(status)
		b.Metadata.Source = auctions.BidSource(source)
		result = append(result, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bids: %w", err)
	}
	return result, nil
}

func scanAuction(row pgx.Row) (*auctions.Auction, error) {
	var (
		a      auctions.Auction
		status string
	)
	err := row.Scan(
		&a.ID, &a.SellerID, &a.Title, &a.Description, &a.Category,
		&a.StartingPrice, &a.ReservePrice, &a.BuyNowPrice, &a.CurrentPrice, &a.BidIncrement,
		&a.StartTime, &a.EndTime, &a.ActualEndTime, &a.AutoExtend, &a.AutoExtendMinutes,
		&status, &a.WinnerID, &a.WinningAmount, &a.CancellationReason,
		&a.ExternalSource, &a.ExternalID, &a.ExternalURL, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = auctions.Status(status)
	return &a, nil
}
