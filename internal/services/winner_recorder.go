package services

import (
	"context"
	"time"

	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
	"auction-engine/pkg/utils"
)

// WinnerRecorder creates the winner-tracking pair (bid_winner + winner_payment)
// for a concluded auction. Every branch is idempotent: existing records are
// left untouched and only missing pieces are filled in, so buy-now, the ending
// sweep and the backfill job can all call it without double-processing.
type WinnerRecorder struct {
	paymentDue time.Duration
	now        func() time.Time
	log        logger.Logger
}

func NewWinnerRecorder(paymentDue time.Duration, log logger.Logger) *WinnerRecorder {
	return &WinnerRecorder{
		paymentDue: paymentDue,
		now:        time.Now,
		log:        log,
	}
}

// EnsureTracking runs inside the caller's auction transaction. It reports
// whether any record was created.
func (r *WinnerRecorder) EnsureTracking(ctx context.Context, tx domain.AuctionTx, winningBid *domain.Bid) (bool, error) {
	auction := tx.Auction()
	now := r.now().UTC()

	winner, err := tx.GetBidWinner(ctx)
	if err != nil {
		return false, err
	}

	if winner == nil {
		winner = &domain.BidWinner{
			ID:        utils.GenerateID("winner"),
			AuctionID: auction.ID,
			BidID:     winningBid.ID,
			WinnerID:  winningBid.BidderID,
			SellerID:  auction.SellerID,
			Amount:    winningBid.Amount,
			WonAt:     auction.EndTime,
			CreatedAt: now,
		}
		if err := tx.CreateBidWinner(ctx, winner); err != nil {
			return false, err
		}
		if err := r.createPayment(ctx, tx, winner, now); err != nil {
			return false, err
		}
		r.log.Info("winner tracking created",
			"auction_id", auction.ID, "winner_id", winner.WinnerID, "amount", winner.Amount)
		return true, nil
	}

	payment, err := tx.GetWinnerPayment(ctx, winner.ID)
	if err != nil {
		return false, err
	}
	if payment != nil {
		return false, nil
	}

	if err := r.createPayment(ctx, tx, winner, now); err != nil {
		return false, err
	}
	r.log.Info("winner payment backfilled", "auction_id", auction.ID, "bid_winner_id", winner.ID)
	return true, nil
}

func (r *WinnerRecorder) createPayment(ctx context.Context, tx domain.AuctionTx, winner *domain.BidWinner, now time.Time) error {
	return tx.CreateWinnerPayment(ctx, &domain.WinnerPayment{
		ID:          utils.GenerateID("payment"),
		BidWinnerID: winner.ID,
		AuctionID:   winner.AuctionID,
		Amount:      winner.Amount,
		Status:      domain.PaymentPending,
		DueAt:       now.Add(r.paymentDue),
		CreatedAt:   now,
	})
}
