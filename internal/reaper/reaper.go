// Package reaper runs the expiry sweep: the ticker-driven loop that
// transitions ACTIVE auctions past their endTime to ENDED, assigns
// winners, and notifies watching rooms (spec §4.3).
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/riftauction/auctiond/internal/clock"
	"github.com/riftauction/auctiond/internal/store"
	"github.com/riftauction/auctiond/internal/wire"
)

// RoomBroadcaster is the narrow slice of room.Registry the reaper needs.
type RoomBroadcaster interface {
	Broadcast(auctionID string, env wire.Envelope)
}

// Reaper periodically ends expired auctions and assigns winners. Every
// replica may run one; the store's conditional UPDATE is what makes
// concurrent sweeps across replicas idempotent (spec §4.3, P4), so no
// cross-process coordination is required for correctness — leader election
// (internal/leader) is only an optional optimization to avoid redundant work.
type Reaper struct {
	store  store.AuctionRepository
	room   RoomBroadcaster
	clock  clock.Clock
	logger *slog.Logger
}

// New constructs a Reaper.
func New(repo store.AuctionRepository, room RoomBroadcaster, clk clock.Clock, logger *slog.Logger) *Reaper {
	return &Reaper{store: repo, room: room, clock: clk, logger: logger}
}

// Run ticks every interval until ctx is done, calling Sweep on each tick.
// It does not return until ctx is canceled.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Error("expiry sweep failed", "error", err)
			}
		}
	}
}

// Sweep performs one pass: end every ACTIVE auction whose endTime has
// passed, assign winners, and broadcast AUCTION_ENDED_NOTIFICATION for each.
func (r *Reaper) Sweep(ctx context.Context) error {
	now := r.clock.Now()

	endedIDs, err := r.store.EndExpiredAuctions(ctx, now)
	if err != nil {
		return err
	}
	if len(endedIDs) == 0 {
		return nil
	}
	r.logger.Info("ended expired auctions", "count", len(endedIDs))

	if err := r.store.PickWinners(ctx, endedIDs); err != nil {
		return err
	}

	for _, auctionID := range endedIDs {
		r.notify(ctx, auctionID, now)
	}
	return nil
}

func (r *Reaper) notify(ctx context.Context, auctionID string, endedAt time.Time) {
	a, err := r.store.FindAuctionByID(ctx, auctionID)
	if err != nil {
		r.logger.Error("loading ended auction for notification", "auction_id", auctionID, "error", err)
		return
	}

	payload := wire.AuctionEndedNotificationPayload{
		AuctionItemID:       auctionID,
		AuctionEndedAtStamp: endedAt.UnixMilli(),
	}
	if a.WinnerUserID != nil {
		payload.WinnerUserID = a.WinnerUserID
		finalBid := a.CurrentHighestBid
		payload.FinalBidAmount = &finalBid

		if hb, err := r.store.FindHighestBidder(ctx, auctionID); err != nil {
			r.logger.Warn("finding winner username", "auction_id", auctionID, "error", err)
		} else if hb != nil {
			payload.WinnerUsername = &hb.Username
		}
	}

	env, err := wire.Encode(wire.AuctionEndedNotice, payload)
	if err != nil {
		r.logger.Error("encoding auction ended notification", "auction_id", auctionID, "error", err)
		return
	}
	r.room.Broadcast(auctionID, env)
}
