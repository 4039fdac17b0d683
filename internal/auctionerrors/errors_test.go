package auctionerrors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBidTooLowErrorWrapsSentinel(t *testing.T) {
	err := &BidTooLowError{MinimumBid: 120}
	assert.ErrorIs(t, err, ErrBidTooLow)
	assert.Equal(t, "bid amount below minimum of 120.00", err.Error())
	assert.True(t, IsValidation(err))
}

func TestTaxonomy(t *testing.T) {
	for _, err := range []error{
		ErrAuctionNotOpen, ErrSelfBid, ErrBidTooLow,
		ErrBuyNowUnavailable, ErrNotSeller, ErrInvalidTransition,
	} {
		assert.Truef(t, IsValidation(err), "%v", err)
		assert.Falsef(t, IsRetryable(err), "%v", err)
	}

	// Wrapping with context keeps the classification.
	wrapped := fmt.Errorf("auction auc-1: %w", ErrAuctionBusy)
	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsValidation(wrapped))

	assert.False(t, IsValidation(ErrAuctionNotFound))
	assert.False(t, IsValidation(ErrStatusConflict))
}
