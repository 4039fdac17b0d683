package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-engine/internal/auctionerrors"
	"auction-engine/internal/domain"
)

func TestActivatePendingSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	due := f.openAuction("auc-due", "seller-1", 100, 10)
	due.Status = domain.AuctionPending
	f.store.put(due)

	notYet := f.openAuction("auc-future", "seller-1", 100, 10)
	notYet.Status = domain.AuctionPending
	notYet.StartTime = f.now.Add(time.Hour)
	notYet.EndTime = f.now.Add(2 * time.Hour)
	f.store.put(notYet)

	sum, err := f.lifecycle.ActivatePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1}, sum)

	activated, _ := f.store.GetAuction(ctx, "auc-due")
	assert.Equal(t, domain.AuctionActive, activated.Status)
	untouched, _ := f.store.GetAuction(ctx, "auc-future")
	assert.Equal(t, domain.AuctionPending, untouched.Status)
	assert.True(t, f.notifier.sent("seller-1", domain.NotifyAuctionStarted))

	// Nothing left to flip on the next pass.
	sum, err = f.lifecycle.ActivatePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
}

func TestEndDueSetsWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.openAuction("auc-1", "seller-1", 100, 10)
	a.EndTime = f.now.Add(-time.Minute)
	f.store.put(a)
	f.seedBid("auc-1", "alice", 200, false)
	f.seedBid("auc-1", "bob", 300, true)

	sum, err := f.lifecycle.EndDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1}, sum)

	ended, _ := f.store.GetAuction(ctx, "auc-1")
	assert.Equal(t, domain.AuctionEnded, ended.Status)
	require.NotNil(t, ended.WinnerID)
	assert.Equal(t, "bob", *ended.WinnerID)

	winner := f.store.winners["auc-1"]
	require.NotNil(t, winner)
	assert.Equal(t, "bob", winner.WinnerID)
	assert.Equal(t, 300.0, winner.Amount)
	// Won at the auction deadline, not at sweep time.
	assert.Equal(t, a.EndTime, winner.WonAt)
	payment := f.store.payments[winner.ID]
	require.NotNil(t, payment)
	assert.Equal(t, f.now.Add(72*time.Hour), payment.DueAt)

	assert.True(t, f.notifier.sent("bob", domain.NotifyAuctionWon))
	assert.True(t, f.notifier.sent("seller-1", domain.NotifyAuctionSold))
	require.Len(t, f.ledger.txns, 1)

	// The second pass finds nothing due anymore.
	sum, err = f.lifecycle.EndDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
	assert.Len(t, f.ledger.txns, 1)
}

func TestEndDueReserveNotMet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.openAuction("auc-1", "seller-1", 100, 10)
	a.ReservePrice = floatPtr(500)
	a.EndTime = f.now.Add(-time.Minute)
	f.store.put(a)
	f.seedBid("auc-1", "alice", 400, true)

	sum, err := f.lifecycle.EndDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1}, sum)

	ended, _ := f.store.GetAuction(ctx, "auc-1")
	assert.Equal(t, domain.AuctionEnded, ended.Status)
	assert.Nil(t, ended.WinnerID)
	assert.Nil(t, f.store.winners["auc-1"])
	assert.True(t, f.notifier.sent("seller-1", domain.NotifyAuctionNoWinner))
	assert.False(t, f.notifier.sent("alice", domain.NotifyAuctionWon))
	assert.Empty(t, f.ledger.txns)
}

func TestEndDueCatchesStalePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Never activated: the activation sweep missed its whole run window.
	a := f.openAuction("auc-stale", "seller-1", 100, 10)
	a.Status = domain.AuctionPending
	a.StartTime = f.now.Add(-2 * time.Hour)
	a.EndTime = f.now.Add(-time.Hour)
	f.store.put(a)

	sum, err := f.lifecycle.EndDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1}, sum)

	ended, _ := f.store.GetAuction(ctx, "auc-stale")
	assert.Equal(t, domain.AuctionEnded, ended.Status)
	assert.Nil(t, ended.WinnerID)
}

func TestEndDueSkipsLockedAuctions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.openAuction("auc-1", "seller-1", 100, 10)
	a.EndTime = f.now.Add(-time.Minute)
	f.store.put(a)

	release, err := f.locker.Acquire(ctx, "auc-1")
	require.NoError(t, err)
	defer release()

	sum, err := f.lifecycle.EndDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Skipped: 1}, sum)

	still, _ := f.store.GetAuction(ctx, "auc-1")
	assert.Equal(t, domain.AuctionActive, still.Status)
}

func TestNotifyEndingSoon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.openAuction("auc-1", "seller-1", 100, 10)
	a.EndTime = f.now.Add(10 * time.Minute)
	f.store.put(a)
	f.seedBid("auc-1", "alice", 110, false)
	f.seedBid("auc-1", "bob", 120, true)

	farOut := f.openAuction("auc-2", "seller-1", 100, 10)
	farOut.EndTime = f.now.Add(3 * time.Hour)
	f.store.put(farOut)

	sum, err := f.lifecycle.NotifyEndingSoon(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1}, sum)

	assert.True(t, f.notifier.sent("alice", domain.NotifyEndingSoon))
	assert.True(t, f.notifier.sent("bob", domain.NotifyEndingSoon))
	assert.True(t, f.notifier.sent("seller-1", domain.NotifyEndingSoon))

	// Flag set, so a rerun is quiet.
	flagged, _ := f.store.GetAuction(ctx, "auc-1")
	assert.True(t, flagged.ClosingNotified)
	sum, err = f.lifecycle.NotifyEndingSoon(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
}

func TestCancelAuction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.openAuction("auc-1", "seller-1", 100, 10)
	f.seedBid("auc-1", "alice", 110, true)

	_, err := f.lifecycle.CancelAuction(ctx, "auc-1", "alice")
	assert.ErrorIs(t, err, auctionerrors.ErrNotSeller)

	cancelled, err := f.lifecycle.CancelAuction(ctx, "auc-1", "seller-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionCancelled, cancelled.Status)
	assert.True(t, f.notifier.sent("alice", domain.NotifyAuctionCancelled))

	// Terminal auctions cannot be cancelled again.
	_, err = f.lifecycle.CancelAuction(ctx, "auc-1", "seller-1")
	assert.ErrorIs(t, err, auctionerrors.ErrInvalidTransition)
}

func TestCompletePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.openAuction("auc-1", "seller-1", 100, 10)
	a.EndTime = f.now.Add(-time.Minute)
	f.store.put(a)
	f.seedBid("auc-1", "bob", 300, true)

	// Not payable while still active.
	_, err := f.lifecycle.CompletePayment(ctx, "auc-1")
	assert.ErrorIs(t, err, auctionerrors.ErrInvalidTransition)

	_, err = f.lifecycle.EndDue(ctx)
	require.NoError(t, err)

	completed, err := f.lifecycle.CompletePayment(ctx, "auc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionCompleted, completed.Status)
	require.NotNil(t, completed.PaidAt)
	assert.Equal(t, f.now, *completed.PaidAt)

	winner := f.store.winners["auc-1"]
	require.NotNil(t, winner)
	payment := f.store.payments[winner.ID]
	require.NotNil(t, payment)
	assert.Equal(t, domain.PaymentCompleted, payment.Status)
	require.NotNil(t, payment.CompletedAt)

	// Already completed.
	_, err = f.lifecycle.CompletePayment(ctx, "auc-1")
	assert.ErrorIs(t, err, auctionerrors.ErrInvalidTransition)
}
