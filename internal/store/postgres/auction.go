package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/riftauction/auctiond/internal/clock"
	"github.com/riftauction/auctiond/internal/money"
	"github.com/riftauction/auctiond/internal/store"
)

// AuctionRepo implements store.AuctionRepository with sqlx.
type AuctionRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewAuctionRepo returns a new AuctionRepo.
func NewAuctionRepo(db *sqlx.DB, clk clock.Clock) *AuctionRepo {
	return &AuctionRepo{db: db, clock: clk}
}

func (r *AuctionRepo) FindAuctionByID(ctx context.Context, auctionID string) (*store.Auction, error) {
	var a store.Auction
	err := r.db.GetContext(ctx, &a, `SELECT * FROM auctions WHERE id = $1`, auctionID)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding auction %s: %w", auctionID, err)
	}
	return &a, nil
}

// ConditionalPriceBump updates the auction row and inserts the bid in one
// transaction, conditional on the row's current_highest_bid still matching
// expectedCurrent. This CAS is the belt-and-braces defense behind the
// coordinator lock described in spec §4.2.f.
func (r *AuctionRepo) ConditionalPriceBump(ctx context.Context, auctionID string, expectedCurrent, newPrice money.Amount, updatedAt time.Time, bid store.Bid) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning bid transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE auctions SET current_highest_bid = $1, updated_at = $2
		 WHERE id = $3 AND current_highest_bid = $4 AND status = 'ACTIVE'`,
		newPrice, updatedAt, auctionID, expectedCurrent,
	)
	if err != nil {
		return false, fmt.Errorf("bumping auction price: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO bids (id, auction_id, bidder_user_id, bidder_username, amount, placed_at, was_successful, processing_time_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		bid.ID, bid.AuctionID, bid.BidderUserID, bid.BidderUsername, bid.Amount, bid.PlacedAt, bid.WasSuccessful, bid.ProcessingTimeMs,
	)
	if err != nil {
		return false, fmt.Errorf("inserting bid: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing bid transaction: %w", err)
	}
	return true, nil
}

// InsertBid records a single bid row outside of ConditionalPriceBump's
// transaction, used for the best-effort failed-bid audit path.
func (r *AuctionRepo) InsertBid(ctx context.Context, bid store.Bid) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bids (id, auction_id, bidder_user_id, bidder_username, amount, placed_at, was_successful, processing_time_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		bid.ID, bid.AuctionID, bid.BidderUserID, bid.BidderUsername, bid.Amount, bid.PlacedAt, bid.WasSuccessful, bid.ProcessingTimeMs,
	)
	if err != nil {
		return fmt.Errorf("inserting audit bid: %w", err)
	}
	return nil
}

// EndExpiredAuctions is the reaper's serialization point across replicas:
// the WHERE clause makes the transition idempotent no matter how many
// replicas race to run it (spec §4.3).
func (r *AuctionRepo) EndExpiredAuctions(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids,
		`UPDATE auctions SET status = 'ENDED', updated_at = $1
		 WHERE status = 'ACTIVE' AND end_time <= $1
		 RETURNING id`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("ending expired auctions: %w", err)
	}
	return ids, nil
}

// PickWinners assigns winner_user_id for each auction in auctionIDs whose
// winner is still unset, using highest amount, then earliest placed_at, then
// lexicographically smallest bid id as tie-breakers (spec §4.3, §9).
func (r *AuctionRepo) PickWinners(ctx context.Context, auctionIDs []string) error {
	if len(auctionIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE auctions a
		SET winner_user_id = winner.bidder_user_id
		FROM (
			SELECT DISTINCT ON (auction_id) auction_id, bidder_user_id
			FROM bids
			WHERE auction_id = ANY($1) AND was_successful
			ORDER BY auction_id, amount DESC, placed_at ASC, id ASC
		) AS winner
		WHERE a.id = winner.auction_id AND a.winner_user_id IS NULL
	`, pq.Array(auctionIDs))
	if err != nil {
		return fmt.Errorf("picking winners: %w", err)
	}
	return nil
}

// CountSuccessfulBids returns the number of successful bids placed on an
// auction, used to populate snapshot and broadcast bid counts.
func (r *AuctionRepo) CountSuccessfulBids(ctx context.Context, auctionID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM bids WHERE auction_id = $1 AND was_successful`, auctionID)
	if err != nil {
		return 0, fmt.Errorf("counting successful bids: %w", err)
	}
	return n, nil
}

func (r *AuctionRepo) FindHighestBidder(ctx context.Context, auctionID string) (*store.HighestBidder, error) {
	var hb store.HighestBidder
	err := r.db.GetContext(ctx, &hb, `
		SELECT bidder_user_id AS user_id, bidder_username AS username
		FROM bids
		WHERE auction_id = $1 AND was_successful
		ORDER BY amount DESC, placed_at ASC, id ASC
		LIMIT 1
	`, auctionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding highest bidder: %w", err)
	}
	return &hb, nil
}
