package reaper_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/riftauction/auctiond/internal/clock"
	"github.com/riftauction/auctiond/internal/money"
	"github.com/riftauction/auctiond/internal/reaper"
	"github.com/riftauction/auctiond/internal/store"
	"github.com/riftauction/auctiond/internal/wire"
)

type fakeRepo struct {
	mu        sync.Mutex
	auctions  map[string]*store.Auction
	bids      map[string][]store.Bid
	endCalls  int
}

func (f *fakeRepo) FindAuctionByID(ctx context.Context, id string) (*store.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.auctions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}
func (f *fakeRepo) ConditionalPriceBump(ctx context.Context, auctionID string, expected, newPrice money.Amount, updatedAt time.Time, bid store.Bid) (bool, error) {
	return false, nil
}
func (f *fakeRepo) InsertBid(ctx context.Context, bid store.Bid) error { return nil }

func (f *fakeRepo) EndExpiredAuctions(ctx context.Context, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endCalls++
	var ids []string
	for id, a := range f.auctions {
		if a.Status == store.StatusActive && !now.Before(a.EndTime) {
			a.Status = store.StatusEnded
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeRepo) PickWinners(ctx context.Context, auctionIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range auctionIDs {
		a := f.auctions[id]
		if a.WinnerUserID != nil {
			continue
		}
		var best *store.Bid
		for i, b := range f.bids[id] {
			if !b.WasSuccessful {
				continue
			}
			if best == nil || b.Amount.GreaterThanOrEqual(best.Amount) && !b.Amount.Equal(best.Amount) {
				best = &f.bids[id][i]
			}
		}
		if best != nil {
			winner := best.BidderUserID
			a.WinnerUserID = &winner
		}
	}
	return nil
}

func (f *fakeRepo) FindHighestBidder(ctx context.Context, auctionID string) (*store.HighestBidder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.auctions[auctionID]
	if a == nil || a.WinnerUserID == nil {
		return nil, nil
	}
	for _, b := range f.bids[auctionID] {
		if b.BidderUserID == *a.WinnerUserID {
			return &store.HighestBidder{UserID: b.BidderUserID, Username: b.BidderUsername}, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) CountSuccessfulBids(ctx context.Context, auctionID string) (int, error) {
	return len(f.bids[auctionID]), nil
}

type fakeRoom struct {
	mu   sync.Mutex
	seen []wire.Envelope
}

func (r *fakeRoom) Broadcast(auctionID string, env wire.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, env)
}

func TestReaper_SweepEndsAndNotifies(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	price, _ := money.Parse("75.00")
	repo := &fakeRepo{
		auctions: map[string]*store.Auction{
			"a1": {ID: "a1", CurrentHighestBid: price, EndTime: now.Add(-time.Minute), Status: store.StatusActive},
		},
		bids: map[string][]store.Bid{
			"a1": {{AuctionID: "a1", BidderUserID: "u1", BidderUsername: "winner", Amount: price, WasSuccessful: true}},
		},
	}
	rm := &fakeRoom{}
	r := reaper.New(repo, rm, clock.Mock{T: now}, slog.Default())

	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if repo.auctions["a1"].Status != store.StatusEnded {
		t.Errorf("Status = %q, want ENDED", repo.auctions["a1"].Status)
	}
	if repo.auctions["a1"].WinnerUserID == nil || *repo.auctions["a1"].WinnerUserID != "u1" {
		t.Errorf("WinnerUserID = %v, want u1", repo.auctions["a1"].WinnerUserID)
	}
	if len(rm.seen) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(rm.seen))
	}
	if rm.seen[0].Type != wire.AuctionEndedNotice {
		t.Errorf("broadcast type = %s, want AUCTION_ENDED_NOTIFICATION", rm.seen[0].Type)
	}
}

func TestReaper_SweepIsIdempotent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	price, _ := money.Parse("75.00")
	repo := &fakeRepo{
		auctions: map[string]*store.Auction{
			"a1": {ID: "a1", CurrentHighestBid: price, EndTime: now.Add(-time.Minute), Status: store.StatusActive},
		},
		bids: map[string][]store.Bid{
			"a1": {{AuctionID: "a1", BidderUserID: "u1", BidderUsername: "winner", Amount: price, WasSuccessful: true}},
		},
	}
	rm := &fakeRoom{}
	r := reaper.New(repo, rm, clock.Mock{T: now}, slog.Default())

	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep (first): %v", err)
	}
	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep (second): %v", err)
	}

	// The second sweep found nothing new to end, so it must not have
	// broadcast a second notification (P4).
	if len(rm.seen) != 1 {
		t.Errorf("broadcasts = %d, want 1 after two sweeps", len(rm.seen))
	}
	if *repo.auctions["a1"].WinnerUserID != "u1" {
		t.Errorf("winner changed across sweeps: %v", *repo.auctions["a1"].WinnerUserID)
	}
}

func TestReaper_SweepSkipsActiveAuctions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	price, _ := money.Parse("75.00")
	repo := &fakeRepo{
		auctions: map[string]*store.Auction{
			"a1": {ID: "a1", CurrentHighestBid: price, EndTime: now.Add(time.Hour), Status: store.StatusActive},
		},
		bids: map[string][]store.Bid{},
	}
	rm := &fakeRoom{}
	r := reaper.New(repo, rm, clock.Mock{T: now}, slog.Default())

	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if repo.auctions["a1"].Status != store.StatusActive {
		t.Errorf("Status = %q, want still ACTIVE", repo.auctions["a1"].Status)
	}
	if len(rm.seen) != 0 {
		t.Errorf("broadcasts = %d, want 0", len(rm.seen))
	}
}
