// Package bidding implements the bid placement pipeline: the single
// critical-section path that validates, commits, and broadcasts a bid
// (spec §4.2).
package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/riftauction/auctiond/internal/clock"
	"github.com/riftauction/auctiond/internal/coordinator"
	"github.com/riftauction/auctiond/internal/lock"
	"github.com/riftauction/auctiond/internal/money"
	"github.com/riftauction/auctiond/internal/store"
	"github.com/riftauction/auctiond/internal/wire"
)

// RoomBroadcaster is the narrow slice of room.Registry the pipeline needs,
// so this package does not import the gateway's connection machinery.
type RoomBroadcaster interface {
	Broadcast(auctionID string, env wire.Envelope)
}

// BidResult is what a successful PlaceBid call returns.
type BidResult struct {
	BidID      string
	Amount     money.Amount
	AcceptedAt time.Time
}

// Pipeline places bids: one call to PlaceBid is the entirety of spec §4.2's
// ordered steps.
type Pipeline struct {
	store  store.AuctionRepository
	locks  *lock.Service
	coord  coordinator.Coordinator
	room   RoomBroadcaster
	clock  clock.Clock
	lockTTL time.Duration
	cacheTTL time.Duration
	logger *slog.Logger
	tracer trace.Tracer
}

// New constructs a Pipeline.
func New(repo store.AuctionRepository, locks *lock.Service, coord coordinator.Coordinator, room RoomBroadcaster, clk clock.Clock, lockTTL time.Duration, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:    repo,
		locks:    locks,
		coord:    coord,
		room:     room,
		clock:    clk,
		lockTTL:  lockTTL,
		cacheTTL: 60 * time.Second,
		logger:   logger,
		tracer:   otel.Tracer("auctiond/bidding"),
	}
}

type bidOutcome struct {
	bidID      string
	amount     money.Amount
	acceptedAt time.Time
	bidCount   int
}

// PlaceBid validates and commits a bid, broadcasting the update to the
// auction's room on success. amountInDollars is the raw wire-level value;
// parsing it into money.Amount is itself step one of the pipeline (spec
// §4.2.a), so malformed amounts never reach the locked section.
func (p *Pipeline) PlaceBid(ctx context.Context, auctionID, bidderUserID, bidderUsername string, amountInDollars float64) (BidResult, error) {
	ctx, span := p.tracer.Start(ctx, "bidding.PlaceBid", trace.WithAttributes(
		attribute.String("auction_id", auctionID),
		attribute.String("bidder_user_id", bidderUserID),
	))
	defer span.End()

	amount, err := money.FromFloat(amountInDollars)
	if err != nil || !amount.IsPositive() {
		return BidResult{}, p.fail(span, &BidError{Code: InvalidAmount, Message: "bid amount must be positive with at most two fractional digits"})
	}

	outcome, err := lock.With(ctx, p.locks, auctionID, p.lockTTL, func(ctx context.Context) (bidOutcome, error) {
		return p.commit(ctx, auctionID, bidderUserID, bidderUsername, amount)
	})
	if err != nil {
		var be *BidError
		switch {
		case errors.As(err, &be):
			// already a structured BidError from commit
			if be.Code == InternalError {
				p.auditFailedBid(auctionID, bidderUserID, bidderUsername, amount)
			}
		case errors.Is(err, lock.ErrLockUnavailable):
			be = &BidError{Code: LockUnavailable, Message: "auction is busy processing another bid"}
		case errors.Is(err, coordinator.ErrUnavailable):
			be = &BidError{Code: CoordinatorUnavailable, Message: err.Error()}
		default:
			be = &BidError{Code: InternalError, Message: err.Error()}
			p.auditFailedBid(auctionID, bidderUserID, bidderUsername, amount)
		}
		return BidResult{}, p.fail(span, be)
	}

	p.refreshCache(ctx, auctionID, outcome, bidderUserID)
	p.broadcast(auctionID, outcome, bidderUserID, bidderUsername)

	span.SetStatus(codes.Ok, "")
	return BidResult{BidID: outcome.bidID, Amount: outcome.amount, AcceptedAt: outcome.acceptedAt}, nil
}

// commit runs entirely inside the per-auction lock: it reads the auction,
// runs the status/time/self-bid/amount checks, and performs the conditional
// commit (spec §4.2 steps a through f). The advisory cache refresh (step g)
// and the broadcast run in PlaceBid after the lock is released.
func (p *Pipeline) commit(ctx context.Context, auctionID, bidderUserID, bidderUsername string, amount money.Amount) (bidOutcome, error) {
	a, err := p.store.FindAuctionByID(ctx, auctionID)
	if errors.Is(err, store.ErrNotFound) {
		return bidOutcome{}, &BidError{Code: AuctionNotFound, Message: "auction does not exist"}
	}
	if err != nil {
		return bidOutcome{}, &BidError{Code: StoreUnavailable, Message: err.Error()}
	}

	now := p.clock.Now()
	if a.Status != store.StatusActive || !now.Before(a.EndTime) {
		return bidOutcome{}, &BidError{Code: AuctionEnded, Message: "auction has already ended"}
	}
	if now.Before(a.StartTime) {
		return bidOutcome{}, &BidError{Code: AuctionNotStarted, Message: "auction has not started yet"}
	}
	if a.CreatorUserID == bidderUserID {
		return bidOutcome{}, &BidError{Code: OwnAuction, Message: "cannot bid on your own auction"}
	}

	required := a.CurrentHighestBid.Add(a.MinimumIncrement)
	if amount.LessThan(required) {
		r := required
		return bidOutcome{}, &BidError{Code: BidTooLow, Message: fmt.Sprintf("bid must be at least %s", required.String()), Required: &r}
	}

	bidID := uuid.NewString()
	bid := store.Bid{
		ID: bidID, AuctionID: auctionID, BidderUserID: bidderUserID, BidderUsername: bidderUsername,
		Amount: amount, PlacedAt: now, WasSuccessful: true,
	}
	affected, err := p.store.ConditionalPriceBump(ctx, auctionID, a.CurrentHighestBid, amount, now, bid)
	if err != nil {
		return bidOutcome{}, &BidError{Code: InternalError, Message: err.Error()}
	}
	if !affected {
		return bidOutcome{}, &BidError{Code: Conflict, Message: "another bid committed first, retry"}
	}

	count, err := p.store.CountSuccessfulBids(ctx, auctionID)
	if err != nil {
		p.logger.Warn("counting successful bids after commit", "auction_id", auctionID, "error", err)
		count = 0
	}

	return bidOutcome{bidID: bidID, amount: amount, acceptedAt: now, bidCount: count}, nil
}

// refreshCache writes both of the coordinator's advisory keys after a
// successful commit (spec §4.2.g): the current bid amount and the current
// highest bidder's user id. Cache write failures are logged, never fail the
// bid (spec §4.2 edge cases: cache is advisory, the store row is
// authoritative).
func (p *Pipeline) refreshCache(ctx context.Context, auctionID string, outcome bidOutcome, bidderUserID string) {
	if err := p.coord.Set(ctx, coordinator.CurrentBidKey(auctionID), outcome.amount.String(), p.cacheTTL); err != nil {
		p.logger.Warn("refreshing current-bid cache", "auction_id", auctionID, "error", err)
	}
	if err := p.coord.Set(ctx, coordinator.HighestBidderKey(auctionID), bidderUserID, p.cacheTTL); err != nil {
		p.logger.Warn("refreshing highest-bidder cache", "auction_id", auctionID, "error", err)
	}
}

func (p *Pipeline) broadcast(auctionID string, outcome bidOutcome, bidderUserID, bidderUsername string) {
	env, err := wire.Encode(wire.BidUpdateBroadcast, wire.BidUpdateBroadcastPayload{
		AuctionItemID:          auctionID,
		NewHighestBid:          outcome.amount,
		HighestBidderUserID:    bidderUserID,
		HighestBidderUsername:  bidderUsername,
		BidPlacedAtTimestamp:   outcome.acceptedAt.UnixMilli(),
		TotalNumberOfBids:      outcome.bidCount,
	})
	if err != nil {
		p.logger.Error("encoding bid broadcast", "auction_id", auctionID, "error", err)
		return
	}
	p.room.Broadcast(auctionID, env)
}

// auditFailedBid attempts a best-effort insert of a failed-bid row outside
// the lock, per spec §4.2's InternalError edge case. It uses a detached
// context so a canceled request context does not suppress the audit write,
// and its own failure is only logged — the original error already won.
func (p *Pipeline) auditFailedBid(auctionID, bidderUserID, bidderUsername string, amount money.Amount) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(context.Background()), 2*time.Second)
	defer cancel()

	bid := store.Bid{
		ID: uuid.NewString(), AuctionID: auctionID, BidderUserID: bidderUserID, BidderUsername: bidderUsername,
		Amount: amount, PlacedAt: p.clock.Now(), WasSuccessful: false,
	}
	if err := p.store.InsertBid(ctx, bid); err != nil {
		p.logger.Error("best-effort failed-bid audit insert", "auction_id", auctionID, "error", err)
	}
}

func (p *Pipeline) fail(span trace.Span, be *BidError) *BidError {
	span.SetStatus(codes.Error, be.Error())
	span.SetAttributes(attribute.String("bid_error_code", string(be.Code)))
	return be
}
