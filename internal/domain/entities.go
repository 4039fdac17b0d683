package domain

import (
	"time"
)

type AuctionStatus int

const (
	AuctionPending AuctionStatus = iota
	AuctionActive
	AuctionEnded
	AuctionCompleted
	AuctionCancelled
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionPending:
		return "pending"
	case AuctionActive:
		return "active"
	case AuctionEnded:
		return "ended"
	case AuctionCompleted:
		return "completed"
	case AuctionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status can never move again, except for the
// ended -> completed payment step.
func (s AuctionStatus) Terminal() bool {
	return s == AuctionEnded || s == AuctionCompleted || s == AuctionCancelled
}

// CanTransitionTo encodes the monotonic status machine:
// pending -> active -> ended -> completed, cancelled from pending/active only.
// A pending auction may end directly when its deadline passed without
// activation.
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	switch s {
	case AuctionPending:
		return next == AuctionActive || next == AuctionEnded || next == AuctionCancelled
	case AuctionActive:
		return next == AuctionEnded || next == AuctionCancelled
	case AuctionEnded:
		return next == AuctionCompleted
	default:
		return false
	}
}

type Auction struct {
	ID              string
	ListingID       string
	SellerID        string
	StartingPrice   float64
	ReservePrice    *float64
	BuyNowPrice     *float64
	CurrentPrice    *float64
	CurrentBidderID *string
	BidIncrement    float64
	StartTime       time.Time
	EndTime         time.Time
	Status          AuctionStatus
	WinnerID        *string
	ClosingNotified bool
	PaidAt          *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EffectivePrice is the price the next bid competes against: the current
// leading price when one exists, otherwise the starting price.
func (a *Auction) EffectivePrice() float64 {
	if a.CurrentPrice != nil && *a.CurrentPrice > a.StartingPrice {
		return *a.CurrentPrice
	}
	return a.StartingPrice
}

// MinimumBid is the smallest amount the next bid may carry.
func (a *Auction) MinimumBid() float64 {
	return a.EffectivePrice() + a.BidIncrement
}

// EffectiveStatus derives the status an auction would have if the sweeps had
// already caught up with the clock. Terminal stored statuses are trusted
// as-is. The result is for display only; mutations must re-check the stored
// status inside their transaction.
func (a *Auction) EffectiveStatus(now time.Time) AuctionStatus {
	if a.Status.Terminal() {
		return a.Status
	}
	switch {
	case !now.Before(a.EndTime):
		return AuctionEnded
	case !now.Before(a.StartTime):
		return AuctionActive
	default:
		return AuctionPending
	}
}

// OpenForBidding checks the authoritative stored status and time window. Only
// this check, performed on a row loaded inside the mutation transaction, may
// authorize a bid.
func (a *Auction) OpenForBidding(now time.Time) bool {
	return a.Status == AuctionActive && !now.Before(a.StartTime) && now.Before(a.EndTime)
}

// MeetsReserve reports whether an amount clears the reserve price, if any.
func (a *Auction) MeetsReserve(amount float64) bool {
	return a.ReservePrice == nil || amount >= *a.ReservePrice
}

type Bid struct {
	ID        string
	AuctionID string
	BidderID  string
	Amount    float64
	IsWinning bool
	OutbidAt  *time.Time

	// Reserved for proxy bidding; the placement flow never reads them.
	MaxBidAmount *float64
	IsProxyBid   bool

	CreatedAt time.Time
}

// BidWinner tracks the concluded outcome of one auction. At most one row
// exists per auction; the reconciler enforces this.
type BidWinner struct {
	ID         string
	AuctionID  string
	BidID      string
	WinnerID   string
	SellerID   string
	Amount     float64
	WonAt      time.Time
	NotifiedAt *time.Time
	CreatedAt  time.Time
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
)

// WinnerPayment is the payment-tracking record linked to a BidWinner.
type WinnerPayment struct {
	ID          string
	BidWinnerID string
	AuctionID   string
	Amount      float64
	Status      PaymentStatus
	DueAt       time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

type NotificationKind string

const (
	NotifyOutbid           NotificationKind = "outbid"
	NotifyAuctionStarted   NotificationKind = "auction_started"
	NotifyAuctionWon       NotificationKind = "auction_won"
	NotifyAuctionSold      NotificationKind = "auction_sold"
	NotifyAuctionNoWinner  NotificationKind = "auction_no_winner"
	NotifyEndingSoon       NotificationKind = "auction_ending_soon"
	NotifyAuctionCancelled NotificationKind = "auction_cancelled"
)

// PaymentTransaction is the message handed to the external ledger sink.
type PaymentTransaction struct {
	ID        string    `json:"id"`
	AuctionID string    `json:"auction_id"`
	PayerID   string    `json:"payer_id"`
	PayeeID   string    `json:"payee_id"`
	Amount    float64   `json:"amount"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// AuctionSnapshot is the display-only projection cached for poll reads.
type AuctionSnapshot struct {
	AuctionID       string    `json:"auction_id"`
	CurrentPrice    float64   `json:"current_price"`
	CurrentBidderID string    `json:"current_bidder_id,omitempty"`
	MinimumBid      float64   `json:"minimum_bid"`
	Status          string    `json:"status"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	BidCount        int       `json:"bid_count"`
	UpdatedAt       time.Time `json:"updated_at"`
}
