package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-engine/internal/auctionerrors"
	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
	"auction-engine/pkg/utils"
)

// Summary is the machine-readable result of one sweep or backfill pass.
type Summary struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// errNothingToDo marks an auction the sweep matched but that no longer needs
// work once its row is re-read under the lock. It counts as skipped, never as
// a failure.
var errNothingToDo = errors.New("nothing to do")

// LifecycleService drives the time-based status transitions. Every pass is
// idempotent and safe to run concurrently with bid placement and with itself:
// each auction is re-checked under its row lock, and a pass that matches zero
// rows is a no-op.
type LifecycleService struct {
	auctions         domain.AuctionStore
	bids             domain.BidStore
	locker           domain.AuctionLocker
	notifier         domain.Notifier
	payments         domain.PaymentRecorder
	snapshots        domain.SnapshotCache
	recorder         *WinnerRecorder
	endingSoonWindow time.Duration
	now              func() time.Time
	log              logger.Logger
}

func NewLifecycleService(
	auctions domain.AuctionStore,
	bids domain.BidStore,
	locker domain.AuctionLocker,
	notifier domain.Notifier,
	payments domain.PaymentRecorder,
	snapshots domain.SnapshotCache,
	recorder *WinnerRecorder,
	endingSoonWindow time.Duration,
	log logger.Logger,
) *LifecycleService {
	return &LifecycleService{
		auctions:         auctions,
		bids:             bids,
		locker:           locker,
		notifier:         notifier,
		payments:         payments,
		snapshots:        snapshots,
		recorder:         recorder,
		endingSoonWindow: endingSoonWindow,
		now:              time.Now,
		log:              log,
	}
}

// ActivatePending flips every pending auction whose start time has arrived to
// active.
func (s *LifecycleService) ActivatePending(ctx context.Context) (Summary, error) {
	due, err := s.auctions.ListDueForActivation(ctx, s.now().UTC())
	if err != nil {
		return Summary{}, fmt.Errorf("activation sweep query failed: %w", err)
	}

	var sum Summary
	for _, auction := range due {
		if err := s.activateOne(ctx, auction.ID); err != nil {
			s.tally(&sum, auction.ID, "activate", err)
			continue
		}
		sum.Processed++
	}

	s.log.Info("activation sweep finished",
		"processed", sum.Processed, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum, nil
}

func (s *LifecycleService) activateOne(ctx context.Context, auctionID string) error {
	release, err := s.locker.Acquire(ctx, auctionID)
	if err != nil {
		return err
	}
	defer release()

	var auction *domain.Auction
	err = s.auctions.WithAuction(ctx, auctionID, func(ctx context.Context, tx domain.AuctionTx) error {
		a := tx.Auction()
		now := s.now().UTC()
		if a.Status != domain.AuctionPending || now.Before(a.StartTime) || !now.Before(a.EndTime) {
			return errNothingToDo
		}
		if err := tx.Transition(ctx, domain.AuctionActive); err != nil {
			return err
		}
		auction = a
		return nil
	})
	if err != nil {
		return err
	}

	s.notifyBestEffort(ctx, auction.SellerID, domain.NotifyAuctionStarted, map[string]interface{}{
		"auction_id": auction.ID,
		"end_time":   auction.EndTime,
	})
	s.refreshSnapshot(ctx, auction)
	return nil
}

// EndDue ends every auction whose deadline has passed, including stale pending
// ones, and determines the winner: the highest bid when it meets the reserve,
// otherwise no winner at all.
func (s *LifecycleService) EndDue(ctx context.Context) (Summary, error) {
	due, err := s.auctions.ListDueForEnding(ctx, s.now().UTC())
	if err != nil {
		return Summary{}, fmt.Errorf("ending sweep query failed: %w", err)
	}

	var sum Summary
	for _, auction := range due {
		if err := s.endOne(ctx, auction.ID); err != nil {
			s.tally(&sum, auction.ID, "end", err)
			continue
		}
		sum.Processed++
	}

	s.log.Info("ending sweep finished",
		"processed", sum.Processed, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum, nil
}

func (s *LifecycleService) endOne(ctx context.Context, auctionID string) error {
	release, err := s.locker.Acquire(ctx, auctionID)
	if err != nil {
		return err
	}
	defer release()

	var (
		auction    *domain.Auction
		winningBid *domain.Bid
	)
	err = s.auctions.WithAuction(ctx, auctionID, func(ctx context.Context, tx domain.AuctionTx) error {
		a := tx.Auction()
		now := s.now().UTC()

		stillDue := (a.Status == domain.AuctionActive || a.Status == domain.AuctionPending) &&
			!a.EndTime.After(now)
		if !stillDue {
			return errNothingToDo
		}

		highest, err := tx.HighestBid(ctx)
		if err != nil {
			return err
		}

		var winnerID *string
		if highest != nil && a.MeetsReserve(highest.Amount) {
			winnerID = &highest.BidderID
			winningBid = highest
		}

		if err := tx.Transition(ctx, domain.AuctionEnded); err != nil {
			return err
		}
		if err := tx.SetWinner(ctx, winnerID); err != nil {
			return err
		}
		if winningBid != nil {
			if _, err := s.recorder.EnsureTracking(ctx, tx, winningBid); err != nil {
				return err
			}
		}

		auction = a
		return nil
	})
	if err != nil {
		return err
	}

	if winningBid != nil {
		s.log.Info("auction ended with winner",
			"auction_id", auctionID, "winner_id", winningBid.BidderID, "amount", winningBid.Amount)
		s.notifyBestEffort(ctx, winningBid.BidderID, domain.NotifyAuctionWon, map[string]interface{}{
			"auction_id": auctionID,
			"amount":     winningBid.Amount,
		})
		s.notifyBestEffort(ctx, auction.SellerID, domain.NotifyAuctionSold, map[string]interface{}{
			"auction_id": auctionID,
			"amount":     winningBid.Amount,
			"buyer_id":   winningBid.BidderID,
		})
		s.recordSaleBestEffort(ctx, auction, winningBid.BidderID, winningBid.Amount)
	} else {
		s.log.Info("auction ended without winner", "auction_id", auctionID)
		s.notifyBestEffort(ctx, auction.SellerID, domain.NotifyAuctionNoWinner, map[string]interface{}{
			"auction_id": auctionID,
		})
	}
	s.refreshSnapshot(ctx, auction)
	return nil
}

// NotifyEndingSoon tells the seller and every bidder that an auction closes
// within the configured window. The closing_notified flag keeps the pass
// idempotent.
func (s *LifecycleService) NotifyEndingSoon(ctx context.Context) (Summary, error) {
	closing, err := s.auctions.ListEndingSoon(ctx, s.now().UTC(), s.endingSoonWindow)
	if err != nil {
		return Summary{}, fmt.Errorf("ending-soon sweep query failed: %w", err)
	}

	var sum Summary
	for _, auction := range closing {
		if err := s.notifyClosing(ctx, auction); err != nil {
			s.tally(&sum, auction.ID, "ending-soon", err)
			continue
		}
		sum.Processed++
	}

	s.log.Info("ending-soon sweep finished",
		"processed", sum.Processed, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum, nil
}

func (s *LifecycleService) notifyClosing(ctx context.Context, auction *domain.Auction) error {
	bidders, err := s.bids.ListBidders(ctx, auction.ID)
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		"auction_id": auction.ID,
		"end_time":   auction.EndTime,
	}
	for _, bidderID := range bidders {
		s.notifyBestEffort(ctx, bidderID, domain.NotifyEndingSoon, payload)
	}
	s.notifyBestEffort(ctx, auction.SellerID, domain.NotifyEndingSoon, payload)

	return s.auctions.MarkClosingNotified(ctx, auction.ID)
}

// CancelAuction withdraws an auction before it concluded. Only the seller may
// cancel, and only while the auction is still pending or active.
func (s *LifecycleService) CancelAuction(ctx context.Context, auctionID, requesterID string) (*domain.Auction, error) {
	release, err := s.locker.Acquire(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	defer release()

	var auction *domain.Auction
	err = s.auctions.WithAuction(ctx, auctionID, func(ctx context.Context, tx domain.AuctionTx) error {
		a := tx.Auction()
		if requesterID != a.SellerID {
			return fmt.Errorf("auction %s: %w", auctionID, auctionerrors.ErrNotSeller)
		}
		if err := tx.Transition(ctx, domain.AuctionCancelled); err != nil {
			return err
		}
		auction = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("auction cancelled", "auction_id", auctionID)

	bidders, err := s.bids.ListBidders(ctx, auctionID)
	if err != nil {
		s.log.Warn("failed to list bidders for cancellation notice", "auction_id", auctionID, "error", err)
	}
	for _, bidderID := range bidders {
		s.notifyBestEffort(ctx, bidderID, domain.NotifyAuctionCancelled, map[string]interface{}{
			"auction_id": auctionID,
		})
	}
	s.refreshSnapshot(ctx, auction)

	return auction, nil
}

// CompletePayment is invoked by the wallet flow once the winner paid. It moves
// the auction ended -> completed and closes the payment-tracking record.
func (s *LifecycleService) CompletePayment(ctx context.Context, auctionID string) (*domain.Auction, error) {
	release, err := s.locker.Acquire(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	defer release()

	var auction *domain.Auction
	err = s.auctions.WithAuction(ctx, auctionID, func(ctx context.Context, tx domain.AuctionTx) error {
		a := tx.Auction()
		if a.Status != domain.AuctionEnded || a.WinnerID == nil {
			return fmt.Errorf("auction %s: %w", auctionID, auctionerrors.ErrInvalidTransition)
		}

		now := s.now().UTC()
		winner, err := tx.GetBidWinner(ctx)
		if err != nil {
			return err
		}
		if winner != nil {
			if err := tx.CompleteWinnerPayment(ctx, winner.ID, now); err != nil {
				return err
			}
		}
		if err := tx.MarkPaid(ctx, now); err != nil {
			return err
		}
		if err := tx.Transition(ctx, domain.AuctionCompleted); err != nil {
			return err
		}
		auction = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("auction payment completed", "auction_id", auctionID)
	s.refreshSnapshot(ctx, auction)
	return auction, nil
}

// tally sorts a per-auction error into skipped vs failed. Contention means
// another writer holds the auction right now; the next pass will catch it.
func (s *LifecycleService) tally(sum *Summary, auctionID, op string, err error) {
	if errors.Is(err, errNothingToDo) || errors.Is(err, auctionerrors.ErrAuctionBusy) {
		sum.Skipped++
		return
	}
	sum.Failed++
	s.log.Error("sweep item failed", "op", op, "auction_id", auctionID, "error", err)
}

func (s *LifecycleService) notifyBestEffort(ctx context.Context, userID string, kind domain.NotificationKind, payload map[string]interface{}) {
	if err := s.notifier.Notify(ctx, userID, kind, payload); err != nil {
		s.log.Warn("notification failed", "user_id", userID, "kind", string(kind), "error", err)
	}
}

func (s *LifecycleService) recordSaleBestEffort(ctx context.Context, a *domain.Auction, buyerID string, amount float64) {
	err := s.payments.RecordTransaction(ctx, &domain.PaymentTransaction{
		ID:        utils.GenerateID("txn"),
		AuctionID: a.ID,
		PayerID:   buyerID,
		PayeeID:   a.SellerID,
		Amount:    amount,
		Kind:      "auction_sale",
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		s.log.Warn("ledger record failed", "auction_id", a.ID, "error", err)
	}
}

func (s *LifecycleService) refreshSnapshot(ctx context.Context, a *domain.Auction) {
	count, err := s.bids.CountBids(ctx, a.ID)
	if err != nil {
		s.log.Warn("failed to count bids for snapshot", "auction_id", a.ID, "error", err)
	}
	if err := s.snapshots.SetSnapshot(ctx, buildSnapshot(a, count, s.now().UTC())); err != nil {
		s.log.Warn("failed to store snapshot", "auction_id", a.ID, "error", err)
	}
}
