package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-engine/internal/auctionerrors"
	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
)

// ReconcileService is the self-healing pass for ended auctions: it recomputes
// missing winners from the bid ledger and backfills winner-tracking records.
// Safe to run arbitrarily often and arbitrarily long after an auction ended.
type ReconcileService struct {
	auctions domain.AuctionStore
	locker   domain.AuctionLocker
	recorder *WinnerRecorder
	now      func() time.Time
	log      logger.Logger
}

func NewReconcileService(
	auctions domain.AuctionStore,
	locker domain.AuctionLocker,
	recorder *WinnerRecorder,
	log logger.Logger,
) *ReconcileService {
	return &ReconcileService{
		auctions: auctions,
		locker:   locker,
		recorder: recorder,
		now:      time.Now,
		log:      log,
	}
}

// BackfillWinners runs over all ended auctions, or over one when auctionID is
// non-empty. One auction's failure never aborts the rest of the batch.
func (s *ReconcileService) BackfillWinners(ctx context.Context, auctionID string) (Summary, error) {
	var (
		targets []*domain.Auction
		err     error
	)
	if auctionID != "" {
		auction, err := s.auctions.GetAuction(ctx, auctionID)
		if err != nil {
			return Summary{}, err
		}
		targets = []*domain.Auction{auction}
	} else {
		targets, err = s.auctions.ListEnded(ctx)
		if err != nil {
			return Summary{}, fmt.Errorf("backfill query failed: %w", err)
		}
	}

	var sum Summary
	for _, auction := range targets {
		if err := s.reconcileOne(ctx, auction.ID); err != nil {
			if errors.Is(err, errNothingToDo) || errors.Is(err, auctionerrors.ErrAuctionBusy) {
				sum.Skipped++
				continue
			}
			sum.Failed++
			s.log.Error("backfill item failed", "auction_id", auction.ID, "error", err)
			continue
		}
		sum.Processed++
	}

	s.log.Info("winner backfill finished",
		"processed", sum.Processed, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum, nil
}

func (s *ReconcileService) reconcileOne(ctx context.Context, auctionID string) error {
	release, err := s.locker.Acquire(ctx, auctionID)
	if err != nil {
		return err
	}
	defer release()

	return s.auctions.WithAuction(ctx, auctionID, func(ctx context.Context, tx domain.AuctionTx) error {
		a := tx.Auction()
		if a.Status != domain.AuctionEnded && a.Status != domain.AuctionCompleted {
			return errNothingToDo
		}

		repaired := false
		var winningBid *domain.Bid

		if a.WinnerID == nil {
			highest, err := tx.HighestBid(ctx)
			if err != nil {
				return err
			}
			// Below-reserve auctions legitimately end with no winner and
			// nothing to track.
			if highest == nil || !a.MeetsReserve(highest.Amount) {
				return errNothingToDo
			}
			if err := tx.SetWinner(ctx, &highest.BidderID); err != nil {
				return err
			}
			s.log.Info("winner recomputed",
				"auction_id", a.ID, "winner_id", highest.BidderID, "amount", highest.Amount)
			winningBid = highest
			repaired = true
		} else {
			winningBid, err = tx.CurrentWinningBid(ctx)
			if err != nil {
				return err
			}
			if winningBid == nil {
				winningBid, err = tx.HighestBid(ctx)
				if err != nil {
					return err
				}
			}
			if winningBid == nil {
				return fmt.Errorf("auction %s has a winner but no bids: %w",
					a.ID, auctionerrors.ErrStatusConflict)
			}
		}

		created, err := s.recorder.EnsureTracking(ctx, tx, winningBid)
		if err != nil {
			return err
		}
		if !created && !repaired {
			return errNothingToDo
		}
		return nil
	})
}
