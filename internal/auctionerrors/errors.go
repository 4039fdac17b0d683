package auctionerrors

import (
	"errors"
	"fmt"
)

// Validation errors: expected, user-facing, returned synchronously with enough
// context for the caller to retry correctly.
var (
	ErrAuctionNotFound   = errors.New("auction not found")
	ErrAuctionNotOpen    = errors.New("auction is not open for bidding")
	ErrSelfBid           = errors.New("seller cannot bid on own auction")
	ErrBidTooLow         = errors.New("bid amount below minimum")
	ErrBuyNowUnavailable = errors.New("buy now is not available for this auction")
	ErrNotSeller         = errors.New("only the seller may perform this action")
	ErrInvalidTransition = errors.New("invalid auction status transition")
)

// Contention errors: retryable; the caller should back off and resubmit the
// same amount.
var ErrAuctionBusy = errors.New("auction is locked by another request")

// Integrity errors: fatal for the single request, never user-actionable.
var ErrStatusConflict = errors.New("auction status changed concurrently")

// BidTooLowError carries the true minimum so the client can resubmit without
// guessing.
type BidTooLowError struct {
	MinimumBid float64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid amount below minimum of %.2f", e.MinimumBid)
}

func (e *BidTooLowError) Unwrap() error {
	return ErrBidTooLow
}

// IsValidation reports whether the error belongs to the user-facing
// validation taxonomy.
func IsValidation(err error) bool {
	return errors.Is(err, ErrAuctionNotOpen) ||
		errors.Is(err, ErrSelfBid) ||
		errors.Is(err, ErrBidTooLow) ||
		errors.Is(err, ErrBuyNowUnavailable) ||
		errors.Is(err, ErrNotSeller) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsRetryable reports whether the caller may safely resubmit the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAuctionBusy)
}
