package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"auction-engine/internal/auctionerrors"
	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
)

// fakeStore is an in-memory AuctionStore + BidStore with the same transaction
// semantics as the MySQL implementation: WithAuction serializes on a store
// lock, buffers writes and applies them only when fn succeeds.
type fakeStore struct {
	mu       sync.Mutex
	auctions map[string]*domain.Auction
	bids     map[string][]*domain.Bid
	winners  map[string]*domain.BidWinner     // by auction ID
	payments map[string]*domain.WinnerPayment // by bid winner ID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		auctions: make(map[string]*domain.Auction),
		bids:     make(map[string][]*domain.Bid),
		winners:  make(map[string]*domain.BidWinner),
		payments: make(map[string]*domain.WinnerPayment),
	}
}

func (s *fakeStore) put(a *domain.Auction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.auctions[a.ID] = &cp
}

func (s *fakeStore) GetAuction(_ context.Context, auctionID string) (*domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[auctionID]
	if !ok {
		return nil, auctionerrors.ErrAuctionNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *fakeStore) WithAuction(ctx context.Context, auctionID string, fn func(ctx context.Context, tx domain.AuctionTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	orig, ok := s.auctions[auctionID]
	if !ok {
		return auctionerrors.ErrAuctionNotFound
	}

	cp := *orig
	tx := &fakeTx{
		store:             s,
		a:                 &cp,
		outbid:            make(map[string]time.Time),
		completedPayments: make(map[string]time.Time),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.auctions[auctionID] = tx.a
	for bidID, at := range tx.outbid {
		for _, b := range s.bids[auctionID] {
			if b.ID == bidID {
				b.IsWinning = false
				t := at
				b.OutbidAt = &t
			}
		}
	}
	s.bids[auctionID] = append(s.bids[auctionID], tx.insertedBids...)
	if tx.newWinner != nil {
		s.winners[auctionID] = tx.newWinner
	}
	if tx.newPayment != nil {
		s.payments[tx.newPayment.BidWinnerID] = tx.newPayment
	}
	for winnerID, at := range tx.completedPayments {
		if p := s.payments[winnerID]; p != nil {
			p.Status = domain.PaymentCompleted
			t := at
			p.CompletedAt = &t
		}
	}
	return nil
}

func (s *fakeStore) ListDueForActivation(_ context.Context, now time.Time) ([]*domain.Auction, error) {
	return s.list(func(a *domain.Auction) bool {
		return a.Status == domain.AuctionPending && !now.Before(a.StartTime) && now.Before(a.EndTime)
	})
}

func (s *fakeStore) ListDueForEnding(_ context.Context, now time.Time) ([]*domain.Auction, error) {
	return s.list(func(a *domain.Auction) bool {
		due := a.Status == domain.AuctionActive || a.Status == domain.AuctionPending
		return due && !a.EndTime.After(now)
	})
}

func (s *fakeStore) ListEndingSoon(_ context.Context, now time.Time, window time.Duration) ([]*domain.Auction, error) {
	return s.list(func(a *domain.Auction) bool {
		return a.Status == domain.AuctionActive && !a.ClosingNotified &&
			a.EndTime.After(now) && !a.EndTime.After(now.Add(window))
	})
}

func (s *fakeStore) ListEnded(_ context.Context) ([]*domain.Auction, error) {
	return s.list(func(a *domain.Auction) bool {
		return a.Status == domain.AuctionEnded
	})
}

func (s *fakeStore) list(match func(*domain.Auction) bool) ([]*domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Auction
	for _, a := range s.auctions {
		if match(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkClosingNotified(_ context.Context, auctionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.auctions[auctionID]; ok {
		a.ClosingNotified = true
	}
	return nil
}

// BidStore reads.

func (s *fakeStore) GetBidHistory(_ context.Context, auctionID string) ([]*domain.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Bid, len(s.bids[auctionID]))
	for i, b := range s.bids[auctionID] {
		cp := *b
		out[i] = &cp
	}
	return out, nil
}

func (s *fakeStore) CountBids(_ context.Context, auctionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bids[auctionID]), nil
}

func (s *fakeStore) ListBidders(_ context.Context, auctionID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, b := range s.bids[auctionID] {
		if !seen[b.BidderID] {
			seen[b.BidderID] = true
			out = append(out, b.BidderID)
		}
	}
	return out, nil
}

// winningBid returns the single bid currently flagged winning, if any.
func (s *fakeStore) winningBid(auctionID string) *domain.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *domain.Bid
	for _, b := range s.bids[auctionID] {
		if b.IsWinning {
			if found != nil {
				panic(fmt.Sprintf("auction %s has two winning bids", auctionID))
			}
			cp := *b
			found = &cp
		}
	}
	return found
}

type fakeTx struct {
	store             *fakeStore
	a                 *domain.Auction
	insertedBids      []*domain.Bid
	outbid            map[string]time.Time
	newWinner         *domain.BidWinner
	newPayment        *domain.WinnerPayment
	completedPayments map[string]time.Time
}

func (t *fakeTx) Auction() *domain.Auction { return t.a }

func (t *fakeTx) Transition(_ context.Context, to domain.AuctionStatus) error {
	if !t.a.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", auctionerrors.ErrInvalidTransition, t.a.Status, to)
	}
	t.a.Status = to
	return nil
}

func (t *fakeTx) UpdateLeader(_ context.Context, price float64, bidderID string) error {
	t.a.CurrentPrice = &price
	t.a.CurrentBidderID = &bidderID
	return nil
}

func (t *fakeTx) SetWinner(_ context.Context, winnerID *string) error {
	t.a.WinnerID = winnerID
	return nil
}

func (t *fakeTx) InsertBid(_ context.Context, bid *domain.Bid) error {
	cp := *bid
	t.insertedBids = append(t.insertedBids, &cp)
	return nil
}

func (t *fakeTx) CurrentWinningBid(_ context.Context) (*domain.Bid, error) {
	for _, b := range t.insertedBids {
		if b.IsWinning {
			cp := *b
			return &cp, nil
		}
	}
	for _, b := range t.store.bids[t.a.ID] {
		if b.IsWinning {
			if _, flipped := t.outbid[b.ID]; flipped {
				continue
			}
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *fakeTx) HighestBid(_ context.Context) (*domain.Bid, error) {
	var highest *domain.Bid
	consider := func(b *domain.Bid) {
		if highest == nil || b.Amount > highest.Amount {
			cp := *b
			highest = &cp
		}
	}
	for _, b := range t.store.bids[t.a.ID] {
		consider(b)
	}
	for _, b := range t.insertedBids {
		consider(b)
	}
	return highest, nil
}

func (t *fakeTx) MarkOutbid(_ context.Context, bidID string, at time.Time) error {
	t.outbid[bidID] = at
	return nil
}

func (t *fakeTx) GetBidWinner(_ context.Context) (*domain.BidWinner, error) {
	if t.newWinner != nil {
		cp := *t.newWinner
		return &cp, nil
	}
	if w, ok := t.store.winners[t.a.ID]; ok {
		cp := *w
		return &cp, nil
	}
	return nil, nil
}

func (t *fakeTx) CreateBidWinner(_ context.Context, w *domain.BidWinner) error {
	cp := *w
	t.newWinner = &cp
	return nil
}

func (t *fakeTx) GetWinnerPayment(_ context.Context, bidWinnerID string) (*domain.WinnerPayment, error) {
	if t.newPayment != nil && t.newPayment.BidWinnerID == bidWinnerID {
		cp := *t.newPayment
		return &cp, nil
	}
	if p, ok := t.store.payments[bidWinnerID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (t *fakeTx) CreateWinnerPayment(_ context.Context, p *domain.WinnerPayment) error {
	cp := *p
	t.newPayment = &cp
	return nil
}

func (t *fakeTx) CompleteWinnerPayment(_ context.Context, bidWinnerID string, at time.Time) error {
	t.completedPayments[bidWinnerID] = at
	return nil
}

func (t *fakeTx) MarkPaid(_ context.Context, at time.Time) error {
	cp := at
	t.a.PaidAt = &cp
	return nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) Acquire(_ context.Context, auctionID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[auctionID] {
		return nil, fmt.Errorf("auction %s: %w", auctionID, auctionerrors.ErrAuctionBusy)
	}
	l.held[auctionID] = true
	return func() {
		l.mu.Lock()
		delete(l.held, auctionID)
		l.mu.Unlock()
	}, nil
}

type notice struct {
	UserID  string
	Kind    domain.NotificationKind
	Payload map[string]interface{}
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (n *recordingNotifier) Notify(_ context.Context, userID string, kind domain.NotificationKind, payload map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice{UserID: userID, Kind: kind, Payload: payload})
	return nil
}

func (n *recordingNotifier) sent(userID string, kind domain.NotificationKind) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, nt := range n.notices {
		if nt.UserID == userID && nt.Kind == kind {
			return true
		}
	}
	return false
}

type recordingLedger struct {
	mu   sync.Mutex
	txns []*domain.PaymentTransaction
}

func (r *recordingLedger) RecordTransaction(_ context.Context, t *domain.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txns = append(r.txns, t)
	return nil
}

type fakeSnapshots struct {
	mu    sync.Mutex
	snaps map[string]*domain.AuctionSnapshot
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{snaps: make(map[string]*domain.AuctionSnapshot)}
}

func (c *fakeSnapshots) SetSnapshot(_ context.Context, snap *domain.AuctionSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[snap.AuctionID] = snap
	return nil
}

func (c *fakeSnapshots) GetSnapshot(_ context.Context, auctionID string) (*domain.AuctionSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snaps[auctionID], nil
}

func (c *fakeSnapshots) Invalidate(_ context.Context, auctionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, auctionID)
	return nil
}

// fixture wires every service over one shared fake store with a controllable
// clock.
type fixture struct {
	store      *fakeStore
	locker     *fakeLocker
	notifier   *recordingNotifier
	ledger     *recordingLedger
	snaps      *fakeSnapshots
	bidSvc     *BidService
	lifecycle  *LifecycleService
	reconciler *ReconcileService
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:    newFakeStore(),
		locker:   newFakeLocker(),
		notifier: &recordingNotifier{},
		ledger:   &recordingLedger{},
		snaps:    newFakeSnapshots(),
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	log := logger.Nop()
	recorder := NewWinnerRecorder(72*time.Hour, log)
	recorder.now = clock

	f.bidSvc = NewBidService(f.store, f.store, f.locker, f.notifier, f.ledger, f.snaps, recorder, log)
	f.bidSvc.now = clock

	f.lifecycle = NewLifecycleService(f.store, f.store, f.locker, f.notifier, f.ledger, f.snaps,
		recorder, 15*time.Minute, log)
	f.lifecycle.now = clock

	f.reconciler = NewReconcileService(f.store, f.locker, recorder, log)
	f.reconciler.now = clock

	return f
}

// openAuction seeds an active auction running from one hour ago to one hour
// from now.
func (f *fixture) openAuction(id, sellerID string, startingPrice, increment float64) *domain.Auction {
	a := &domain.Auction{
		ID:            id,
		ListingID:     "listing-" + id,
		SellerID:      sellerID,
		StartingPrice: startingPrice,
		BidIncrement:  increment,
		StartTime:     f.now.Add(-time.Hour),
		EndTime:       f.now.Add(time.Hour),
		Status:        domain.AuctionActive,
		CreatedAt:     f.now.Add(-2 * time.Hour),
		UpdatedAt:     f.now.Add(-2 * time.Hour),
	}
	f.store.put(a)
	return a
}

func (f *fixture) seedBid(auctionID, bidderID string, amount float64, winning bool) *domain.Bid {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	b := &domain.Bid{
		ID:        fmt.Sprintf("bid-seed-%d", len(f.store.bids[auctionID])+1),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		IsWinning: winning,
		CreatedAt: f.now.Add(-time.Duration(10-len(f.store.bids[auctionID])) * time.Minute),
	}
	f.store.bids[auctionID] = append(f.store.bids[auctionID], b)
	return b
}

func floatPtr(v float64) *float64 { return &v }
