// Package room fans bid activity out to every socket connection watching a
// given auction, one in-process registry per replica (spec §4.4). Cross-
// replica consistency comes from the coordinator and store, not from this
// package: each replica's registry only knows about its own sockets.
package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/riftauction/auctiond/internal/coordinator"
	"github.com/riftauction/auctiond/internal/money"
	"github.com/riftauction/auctiond/internal/store"
	"github.com/riftauction/auctiond/internal/wire"
)

// Subscriber is anything that can receive outbound envelopes for a room it
// has joined. Implementations (the gateway's Conn) must make Send
// non-blocking and self-evicting on a slow consumer; the registry never
// blocks a broadcast on a single slow socket.
type Subscriber interface {
	ID() string
	Send(env wire.Envelope)
}

// Registry holds one room per auction currently being watched by at least
// one local subscriber.
type Registry struct {
	coord  coordinator.Coordinator
	store  store.AuctionRepository
	logger *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	mu   sync.RWMutex
	subs map[string]Subscriber
}

// New constructs a Registry.
func New(coord coordinator.Coordinator, repo store.AuctionRepository, logger *slog.Logger) *Registry {
	return &Registry{
		coord:  coord,
		store:  repo,
		logger: logger,
		rooms:  make(map[string]*room),
	}
}

// Join adds sub to auctionID's room and returns the join acknowledgement plus
// the state-sync snapshot the caller (gateway) should send immediately
// afterward (spec §4.4's join sequence).
func (r *Registry) Join(ctx context.Context, auctionID string, sub Subscriber) (wire.Envelope, wire.Envelope, error) {
	rm := r.roomFor(auctionID)
	rm.mu.Lock()
	rm.subs[sub.ID()] = sub
	rm.mu.Unlock()

	ack, err := wire.Encode(wire.JoinedAuctionRoom, wire.JoinedAuctionRoomPayload{AuctionItemID: auctionID})
	if err != nil {
		return wire.Envelope{}, wire.Envelope{}, fmt.Errorf("encoding join ack: %w", err)
	}

	snapshot, err := r.snapshot(ctx, auctionID)
	if err != nil {
		return wire.Envelope{}, wire.Envelope{}, fmt.Errorf("building state sync for %s: %w", auctionID, err)
	}
	syncEnv, err := wire.Encode(wire.AuctionStateSync, snapshot)
	if err != nil {
		return wire.Envelope{}, wire.Envelope{}, fmt.Errorf("encoding state sync: %w", err)
	}
	return ack, syncEnv, nil
}

// Leave removes subID from auctionID's room, pruning the room entirely once
// empty.
func (r *Registry) Leave(auctionID, subID string) {
	r.mu.RLock()
	rm, ok := r.rooms[auctionID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	rm.mu.Lock()
	delete(rm.subs, subID)
	empty := len(rm.subs) == 0
	rm.mu.Unlock()

	if empty {
		r.mu.Lock()
		if rm2, ok := r.rooms[auctionID]; ok && rm2 == rm {
			delete(r.rooms, auctionID)
		}
		r.mu.Unlock()
	}
}

// OnDisconnect removes subID from every room it may be a member of, for use
// on socket close when the caller no longer knows which rooms it joined.
func (r *Registry) OnDisconnect(subID string) {
	r.mu.RLock()
	auctionIDs := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		auctionIDs = append(auctionIDs, id)
	}
	r.mu.RUnlock()

	for _, auctionID := range auctionIDs {
		r.Leave(auctionID, subID)
	}
}

// Broadcast fans env out to every subscriber currently in auctionID's room.
// Membership is copied under a brief read lock and the sends run after it
// is released. It implements bidding.RoomBroadcaster.
func (r *Registry) Broadcast(auctionID string, env wire.Envelope) {
	r.mu.RLock()
	rm, ok := r.rooms[auctionID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	rm.mu.RLock()
	subs := make([]Subscriber, 0, len(rm.subs))
	for _, sub := range rm.subs {
		subs = append(subs, sub)
	}
	rm.mu.RUnlock()

	for _, sub := range subs {
		sub.Send(env)
	}
}

func (r *Registry) roomFor(auctionID string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[auctionID]
	if !ok {
		rm = &room{subs: make(map[string]Subscriber)}
		r.rooms[auctionID] = rm
	}
	return rm
}

// snapshot assembles the authoritative current state of an auction for a
// joining subscriber. The coordinator cache is consulted first for the
// current highest bid (the hot path keeps it fresh on every successful
// bid). The highest bidder's user id is also cached, but not their
// username, so identity is still read from the store; the store is
// likewise the sole source for bid count, which has no coordinator cache
// key (spec §6).
func (r *Registry) snapshot(ctx context.Context, auctionID string) (wire.AuctionStateSyncPayload, error) {
	a, err := r.store.FindAuctionByID(ctx, auctionID)
	if err != nil {
		return wire.AuctionStateSyncPayload{}, err
	}

	currentBid := a.CurrentHighestBid
	if cached, ok, err := r.coord.Get(ctx, coordinator.CurrentBidKey(auctionID)); err != nil {
		r.logger.Warn("coordinator cache read failed, falling back to store", "auction_id", auctionID, "error", err)
	} else if ok {
		if parsed, err := parseCachedAmount(cached); err == nil {
			currentBid = parsed
		}
	}

	payload := wire.AuctionStateSyncPayload{
		AuctionItemID:     auctionID,
		CurrentHighestBid: currentBid,
		EndTime:           a.EndTime.UnixMilli(),
		Status:            string(a.Status),
	}

	hb, err := r.store.FindHighestBidder(ctx, auctionID)
	if err != nil {
		return wire.AuctionStateSyncPayload{}, fmt.Errorf("finding highest bidder: %w", err)
	}
	if hb != nil {
		payload.HighestBidderUserID = &hb.UserID
		payload.HighestBidderName = &hb.Username
	}

	count, err := r.store.CountSuccessfulBids(ctx, auctionID)
	if err != nil {
		return wire.AuctionStateSyncPayload{}, fmt.Errorf("counting successful bids: %w", err)
	}
	payload.TotalBidCount = count

	return payload, nil
}

// RoomsWatching reports how many local subscribers are currently in
// auctionID's room, used for test assertions and diagnostics.
func (r *Registry) RoomsWatching(auctionID string) int {
	r.mu.RLock()
	rm, ok := r.rooms[auctionID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.subs)
}

func parseCachedAmount(s string) (money.Amount, error) {
	return money.Parse(s)
}
