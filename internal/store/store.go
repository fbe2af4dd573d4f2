package store

import (
	"context"
	"errors"
	"time"

	"github.com/riftauction/auctiond/internal/money"
)

// ErrNotFound is returned by FindAuctionByID when no row matches the id.
var ErrNotFound = errors.New("not found")

// AuctionStatus is one of the three states an Auction can occupy.
type AuctionStatus string

const (
	StatusActive    AuctionStatus = "ACTIVE"
	StatusEnded     AuctionStatus = "ENDED"
	StatusCancelled AuctionStatus = "CANCELLED"
)

// Auction is the durable row backing a single item offered for bidding.
type Auction struct {
	ID                string        `db:"id"`
	Title             string        `db:"title"`
	Description       string        `db:"description"`
	StartingPrice     money.Amount  `db:"starting_price"`
	CurrentHighestBid money.Amount  `db:"current_highest_bid"`
	MinimumIncrement  money.Amount  `db:"minimum_increment"`
	StartTime         time.Time     `db:"start_time"`
	EndTime           time.Time     `db:"end_time"`
	Status            AuctionStatus `db:"status"`
	CreatorUserID     string        `db:"creator_user_id"`
	WinnerUserID      *string       `db:"winner_user_id"`
	UpdatedAt         time.Time     `db:"updated_at"`
}

// Bid is a single, never-mutated place-bid attempt.
type Bid struct {
	ID               string       `db:"id"`
	AuctionID        string       `db:"auction_id"`
	BidderUserID     string       `db:"bidder_user_id"`
	BidderUsername   string       `db:"bidder_username"`
	Amount           money.Amount `db:"amount"`
	PlacedAt         time.Time    `db:"placed_at"`
	WasSuccessful    bool         `db:"was_successful"`
	ProcessingTimeMs int64        `db:"processing_time_ms"`
}

// RevokedCredential marks a bearer credential string as no-longer-valid.
type RevokedCredential struct {
	Credential string    `db:"credential"`
	ExpiresAt  time.Time `db:"expires_at"`
}

// HighestBidder is the (userId, username) pair returned by FindHighestBidder,
// used for the room registry's join snapshot and for the winner's username
// in the reaper's end notification.
type HighestBidder struct {
	UserID   string `db:"user_id"`
	Username string `db:"username"`
}

// AuctionRepository exposes exactly the store adapter operations the bid
// pipeline, reaper, and room registry need (spec §4.7).
type AuctionRepository interface {
	FindAuctionByID(ctx context.Context, auctionID string) (*Auction, error)

	// ConditionalPriceBump performs the atomic, transactional bid commit:
	// updates the auction row's currentHighestBid and updatedAt, conditional
	// on the row's currentHighestBid still equaling expectedCurrent, and
	// inserts the successful bid row, in one transaction. It reports
	// affected=false (no error) when the conditional update hit zero rows.
	ConditionalPriceBump(ctx context.Context, auctionID string, expectedCurrent, newPrice money.Amount, updatedAt time.Time, bid Bid) (affected bool, err error)

	// InsertBid records a bid attempt outside of ConditionalPriceBump's
	// transaction, used for the best-effort failed-bid audit row on
	// InternalError (spec §4.2 edge cases).
	InsertBid(ctx context.Context, bid Bid) error

	// EndExpiredAuctions atomically transitions every ACTIVE auction whose
	// endTime has passed to ENDED, returning the affected auctionIds.
	EndExpiredAuctions(ctx context.Context, now time.Time) ([]string, error)

	// PickWinners computes and writes winnerUserId for each given auctionId
	// whose winnerUserId is still null, using the highest successful bid
	// with earliest-placedAt, then lexicographically-smallest-bidId
	// tie-breaking (spec §4.3, §9).
	PickWinners(ctx context.Context, auctionIDs []string) error

	// FindHighestBidder returns the current highest bidder's identity, or
	// nil if no successful bid exists yet.
	FindHighestBidder(ctx context.Context, auctionID string) (*HighestBidder, error)

	// CountSuccessfulBids returns the number of successful bids placed on
	// auctionID, used for the room registry's join snapshot and the bid
	// pipeline's broadcast payload (spec §4.4, §6).
	CountSuccessfulBids(ctx context.Context, auctionID string) (int, error)
}

// CredentialRepository exposes the revocation-set operations the gateway
// consults on handshake (spec §4.6, §4.7).
type CredentialRepository interface {
	InsertRevokedCredential(ctx context.Context, cred RevokedCredential) error
	LookupRevokedCredential(ctx context.Context, credential string) (bool, error)
	CleanupExpiredRevocations(ctx context.Context, now time.Time) (int64, error)
}
