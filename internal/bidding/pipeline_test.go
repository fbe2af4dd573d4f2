package bidding_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/riftauction/auctiond/internal/bidding"
	"github.com/riftauction/auctiond/internal/clock"
	"github.com/riftauction/auctiond/internal/coordinator"
	"github.com/riftauction/auctiond/internal/lock"
	"github.com/riftauction/auctiond/internal/money"
	"github.com/riftauction/auctiond/internal/store"
	"github.com/riftauction/auctiond/internal/wire"
)

// fakeRepo is a thread-safe in-memory store.AuctionRepository, guarding its
// state with its own mutex so concurrency tests can exercise the pipeline's
// lock-vs-store interplay honestly.
type fakeRepo struct {
	mu            sync.Mutex
	auctions      map[string]*store.Auction
	bids          []store.Bid
	bumpErr       error
	forceNoAffect bool
}

func newFakeRepo(a store.Auction) *fakeRepo {
	cp := a
	return &fakeRepo{auctions: map[string]*store.Auction{a.ID: &cp}}
}

func (f *fakeRepo) FindAuctionByID(ctx context.Context, auctionID string) (*store.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.auctions[auctionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) ConditionalPriceBump(ctx context.Context, auctionID string, expected, newPrice money.Amount, updatedAt time.Time, bid store.Bid) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bumpErr != nil {
		return false, f.bumpErr
	}
	if f.forceNoAffect {
		return false, nil
	}
	a, ok := f.auctions[auctionID]
	if !ok || !a.CurrentHighestBid.Equal(expected) {
		return false, nil
	}
	a.CurrentHighestBid = newPrice
	a.UpdatedAt = updatedAt
	f.bids = append(f.bids, bid)
	return true, nil
}

func (f *fakeRepo) InsertBid(ctx context.Context, bid store.Bid) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bids = append(f.bids, bid)
	return nil
}

func (f *fakeRepo) EndExpiredAuctions(ctx context.Context, now time.Time) ([]string, error) {
	return nil, nil
}
func (f *fakeRepo) PickWinners(ctx context.Context, auctionIDs []string) error { return nil }
func (f *fakeRepo) FindHighestBidder(ctx context.Context, auctionID string) (*store.HighestBidder, error) {
	return nil, nil
}
func (f *fakeRepo) CountSuccessfulBids(ctx context.Context, auctionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.bids {
		if b.AuctionID == auctionID && b.WasSuccessful {
			n++
		}
	}
	return n, nil
}

type fakeRoom struct {
	mu         sync.Mutex
	broadcasts []wire.Envelope
}

func (r *fakeRoom) Broadcast(auctionID string, env wire.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, env)
}

func newPipeline(repo store.AuctionRepository, now time.Time) (*bidding.Pipeline, *fakeRoom) {
	coord := coordinator.NewMemory(func() time.Time { return now })
	locks := lock.New(coord)
	rm := &fakeRoom{}
	p := bidding.New(repo, locks, coord, rm, clock.Mock{T: now}, 5*time.Second, slog.Default())
	return p, rm
}

func testAuction(now time.Time) store.Auction {
	start, _ := money.Parse("100.00")
	inc, _ := money.Parse("10.00")
	return store.Auction{
		ID: "a1", StartingPrice: start, CurrentHighestBid: start, MinimumIncrement: inc,
		StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour), Status: store.StatusActive,
		CreatorUserID: "creator-1",
	}
}

func TestPipeline_PlaceBid_Success(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := newFakeRepo(testAuction(now))
	p, rm := newPipeline(repo, now)

	result, err := p.PlaceBid(context.Background(), "a1", "bidder-1", "alice", 110.00)
	if err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if result.BidID == "" {
		t.Error("expected non-empty BidID")
	}
	want, _ := money.Parse("110.00")
	if !result.Amount.Equal(want) {
		t.Errorf("Amount = %s, want %s", result.Amount, want)
	}
	if len(rm.broadcasts) != 1 {
		t.Errorf("broadcasts = %d, want 1", len(rm.broadcasts))
	}
}

func TestPipeline_PlaceBid_InvalidAmount(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := newFakeRepo(testAuction(now))
	p, _ := newPipeline(repo, now)

	_, err := p.PlaceBid(context.Background(), "a1", "bidder-1", "alice", -5.00)
	assertCode(t, err, bidding.InvalidAmount)
}

func TestPipeline_PlaceBid_AuctionNotFound(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := newFakeRepo(testAuction(now))
	p, _ := newPipeline(repo, now)

	_, err := p.PlaceBid(context.Background(), "missing", "bidder-1", "alice", 110.00)
	assertCode(t, err, bidding.AuctionNotFound)
}

func TestPipeline_PlaceBid_AuctionEnded(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := testAuction(now)
	a.EndTime = now.Add(-time.Minute)
	repo := newFakeRepo(a)
	p, _ := newPipeline(repo, now)

	_, err := p.PlaceBid(context.Background(), "a1", "bidder-1", "alice", 110.00)
	assertCode(t, err, bidding.AuctionEnded)
}

func TestPipeline_PlaceBid_AuctionNotStarted(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := testAuction(now)
	a.StartTime = now.Add(time.Hour)
	repo := newFakeRepo(a)
	p, _ := newPipeline(repo, now)

	_, err := p.PlaceBid(context.Background(), "a1", "bidder-1", "alice", 110.00)
	assertCode(t, err, bidding.AuctionNotStarted)
}

func TestPipeline_PlaceBid_OwnAuction(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := newFakeRepo(testAuction(now))
	p, _ := newPipeline(repo, now)

	_, err := p.PlaceBid(context.Background(), "a1", "creator-1", "creator", 110.00)
	assertCode(t, err, bidding.OwnAuction)
}

func TestPipeline_PlaceBid_BidTooLow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := newFakeRepo(testAuction(now))
	p, _ := newPipeline(repo, now)

	_, err := p.PlaceBid(context.Background(), "a1", "bidder-1", "alice", 105.00)
	var be *bidding.BidError
	if !errors.As(err, &be) || be.Code != bidding.BidTooLow {
		t.Fatalf("err = %v, want BidTooLow", err)
	}
	if be.Required == nil || be.Required.String() != "110.00" {
		t.Errorf("Required = %v, want 110.00", be.Required)
	}
}

func TestPipeline_PlaceBid_Conflict(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := newFakeRepo(testAuction(now))
	// Force the store's conditional update to report zero rows affected, as
	// if the row's currentHighestBid had already moved between the read and
	// the CAS despite the coordinator lock (belt-and-braces per spec §4.2.f).
	repo.forceNoAffect = true
	p, _ := newPipeline(repo, now)

	_, err := p.PlaceBid(context.Background(), "a1", "bidder-1", "alice", 110.00)
	assertCode(t, err, bidding.Conflict)
}

func TestPipeline_PlaceBid_LockUnavailable(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := newFakeRepo(testAuction(now))
	coord := coordinator.NewMemory(func() time.Time { return now })
	locks := lock.New(coord)
	rm := &fakeRoom{}
	p := bidding.New(repo, locks, coord, rm, clock.Mock{T: now}, 5*time.Second, slog.Default())

	// Hold the lock out-of-band to force the pipeline's acquisition to fail.
	if _, ok, err := locks.Acquire(context.Background(), "a1", time.Minute); err != nil || !ok {
		t.Fatalf("seeding external lock: ok=%v err=%v", ok, err)
	}

	_, err := p.PlaceBid(context.Background(), "a1", "bidder-1", "alice", 110.00)
	assertCode(t, err, bidding.LockUnavailable)
}

func TestPipeline_PlaceBid_SerializesConcurrentBids(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := newFakeRepo(testAuction(now))
	p, _ := newPipeline(repo, now)

	const n = 20
	var wg sync.WaitGroup
	successes := make(chan money.Amount, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := p.PlaceBid(context.Background(), "a1", "bidder-1", "alice", 500.00)
			if err == nil {
				successes <- result.Amount
			}
		}(i)
	}
	wg.Wait()
	close(successes)

	count := 0
	for amt := range successes {
		count++
		want, _ := money.Parse("500.00")
		if !amt.Equal(want) {
			t.Errorf("unexpected accepted amount %s", amt)
		}
	}
	// All bids offer the same amount, so only the first to commit can
	// satisfy the strictly-increasing minimum-increment requirement (P1);
	// every other attempt either finds the lock held (LockUnavailable, since
	// acquisition is not retried) or observes BidTooLow against the new
	// price, never Conflict, since the lock fully serializes the critical
	// section (P3).
	if count != 1 {
		t.Errorf("successful commits = %d, want exactly 1", count)
	}

	got, err := repo.FindAuctionByID(context.Background(), "a1")
	if err != nil {
		t.Fatalf("FindAuctionByID: %v", err)
	}
	want, _ := money.Parse("500.00")
	if !got.CurrentHighestBid.Equal(want) {
		t.Errorf("final price = %s, want %s", got.CurrentHighestBid, want)
	}
}

func assertCode(t *testing.T, err error, want bidding.ErrorCode) {
	t.Helper()
	var be *bidding.BidError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *BidError", err)
	}
	if be.Code != want {
		t.Fatalf("Code = %s, want %s", be.Code, want)
	}
}
