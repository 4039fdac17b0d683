package domain

import (
	"context"
	"time"
)

// AuctionStore is the durable auction state. All read-modify-write cycles go
// through WithAuction so that every mutation of one auction row is a single
// isolated unit of work.
type AuctionStore interface {
	GetAuction(ctx context.Context, auctionID string) (*Auction, error)

	// WithAuction loads the auction row with an exclusive row lock and runs fn
	// inside the same transaction. fn returning an error rolls everything back.
	WithAuction(ctx context.Context, auctionID string, fn func(ctx context.Context, tx AuctionTx) error) error

	// Sweep queries. ListDueForEnding intentionally matches stale pending rows
	// whose end time already passed, so an auction cannot stay stuck pending.
	ListDueForActivation(ctx context.Context, now time.Time) ([]*Auction, error)
	ListDueForEnding(ctx context.Context, now time.Time) ([]*Auction, error)
	ListEndingSoon(ctx context.Context, now time.Time, window time.Duration) ([]*Auction, error)
	ListEnded(ctx context.Context) ([]*Auction, error)

	MarkClosingNotified(ctx context.Context, auctionID string) error
}

// AuctionTx exposes the mutations available while the auction row is locked.
// The loaded row is the authoritative state for every check.
type AuctionTx interface {
	Auction() *Auction

	// Transition performs a compare-and-set on the stored status. It fails when
	// the status machine forbids the step or the row changed underneath.
	Transition(ctx context.Context, to AuctionStatus) error
	UpdateLeader(ctx context.Context, price float64, bidderID string) error
	SetWinner(ctx context.Context, winnerID *string) error

	InsertBid(ctx context.Context, bid *Bid) error
	CurrentWinningBid(ctx context.Context) (*Bid, error)
	HighestBid(ctx context.Context) (*Bid, error)
	MarkOutbid(ctx context.Context, bidID string, at time.Time) error

	GetBidWinner(ctx context.Context) (*BidWinner, error)
	CreateBidWinner(ctx context.Context, w *BidWinner) error
	GetWinnerPayment(ctx context.Context, bidWinnerID string) (*WinnerPayment, error)
	CreateWinnerPayment(ctx context.Context, p *WinnerPayment) error
	CompleteWinnerPayment(ctx context.Context, bidWinnerID string, at time.Time) error
	MarkPaid(ctx context.Context, at time.Time) error
}

// BidStore serves read paths outside the mutation transaction.
type BidStore interface {
	GetBidHistory(ctx context.Context, auctionID string) ([]*Bid, error)
	CountBids(ctx context.Context, auctionID string) (int, error)
	ListBidders(ctx context.Context, auctionID string) ([]string, error)
}

// AuctionLocker serializes mutations per auction across processes. Acquire
// returns a release func, or a contention error when the lock cannot be taken
// within a short bound.
type AuctionLocker interface {
	Acquire(ctx context.Context, auctionID string) (release func(), err error)
}

// Notifier is the external notification sink. Calls are fire-and-forget from
// the engine's perspective: failures are logged, never rolled back into
// auction state.
type Notifier interface {
	Notify(ctx context.Context, userID string, kind NotificationKind, payload map[string]interface{}) error
}

// PaymentRecorder is the external payment/ledger sink, same fire-and-forget
// contract as Notifier.
type PaymentRecorder interface {
	RecordTransaction(ctx context.Context, t *PaymentTransaction) error
}

// SnapshotCache holds the display-only auction projection for poll reads.
// A miss returns (nil, nil).
type SnapshotCache interface {
	SetSnapshot(ctx context.Context, snap *AuctionSnapshot) error
	GetSnapshot(ctx context.Context, auctionID string) (*AuctionSnapshot, error)
	Invalidate(ctx context.Context, auctionID string) error
}
