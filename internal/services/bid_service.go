package services

import (
	"context"
	"fmt"
	"time"

	"auction-engine/internal/auctionerrors"
	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
	"auction-engine/pkg/utils"
)

// BidService owns the two commit paths that accept money against an auction:
// PlaceBid and BuyNow. Both run under the per-auction lock and inside a single
// transaction on the auction row, so at most one mutation per auction is ever
// in flight.
type BidService struct {
	auctions  domain.AuctionStore
	bids      domain.BidStore
	locker    domain.AuctionLocker
	notifier  domain.Notifier
	payments  domain.PaymentRecorder
	snapshots domain.SnapshotCache
	recorder  *WinnerRecorder
	now       func() time.Time
	log       logger.Logger
}

func NewBidService(
	auctions domain.AuctionStore,
	bids domain.BidStore,
	locker domain.AuctionLocker,
	notifier domain.Notifier,
	payments domain.PaymentRecorder,
	snapshots domain.SnapshotCache,
	recorder *WinnerRecorder,
	log logger.Logger,
) *BidService {
	return &BidService{
		auctions:  auctions,
		bids:      bids,
		locker:    locker,
		notifier:  notifier,
		payments:  payments,
		snapshots: snapshots,
		recorder:  recorder,
		now:       time.Now,
		log:       log,
	}
}

// PlaceBid validates and commits one bid. Checks run in order against the row
// loaded inside the transaction: auction open, bidder is not the seller,
// amount meets the minimum. On acceptance the previous winning bid is flagged
// outbid, the new bid becomes the single winning one and the auction's leader
// fields move in the same commit.
func (s *BidService) PlaceBid(ctx context.Context, auctionID, bidderID string, amount float64) (*domain.Bid, *domain.Auction, error) {
	release, err := s.locker.Acquire(ctx, auctionID)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	var (
		placed  *domain.Bid
		outbid  *domain.Bid
		auction *domain.Auction
	)

	err = s.auctions.WithAuction(ctx, auctionID, func(ctx context.Context, tx domain.AuctionTx) error {
		a := tx.Auction()
		now := s.now().UTC()

		if !a.OpenForBidding(now) {
			return fmt.Errorf("auction %s: %w", auctionID, auctionerrors.ErrAuctionNotOpen)
		}
		if bidderID == a.SellerID {
			return fmt.Errorf("auction %s: %w", auctionID, auctionerrors.ErrSelfBid)
		}
		if minimum := a.MinimumBid(); amount < minimum {
			return &auctionerrors.BidTooLowError{MinimumBid: minimum}
		}

		previous, err := tx.CurrentWinningBid(ctx)
		if err != nil {
			return err
		}
		if previous != nil {
			if err := tx.MarkOutbid(ctx, previous.ID, now); err != nil {
				return err
			}
			outbid = previous
		}

		bid := &domain.Bid{
			ID:        utils.GenerateID("bid"),
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    amount,
			IsWinning: true,
			CreatedAt: now,
		}
		if err := tx.InsertBid(ctx, bid); err != nil {
			return err
		}
		if err := tx.UpdateLeader(ctx, amount, bidderID); err != nil {
			return err
		}

		placed = bid
		auction = a
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info("bid accepted",
		"auction_id", auctionID, "bidder_id", bidderID, "amount", amount)

	if outbid != nil {
		s.notifyBestEffort(ctx, outbid.BidderID, domain.NotifyOutbid, map[string]interface{}{
			"auction_id":  auctionID,
			"your_bid":    outbid.Amount,
			"leading_bid": amount,
		})
	}
	s.refreshSnapshot(ctx, auction)

	return placed, auction, nil
}

// BuyNow ends the auction immediately at the fixed buy-now price. The reserve
// price is intentionally not consulted; buy-now is an unconditional
// acceptance. Winner tracking is recorded synchronously in the same
// transaction rather than waiting for the sweep.
func (s *BidService) BuyNow(ctx context.Context, auctionID, buyerID string) (*domain.Auction, error) {
	release, err := s.locker.Acquire(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	defer release()

	var auction *domain.Auction
	err = s.auctions.WithAuction(ctx, auctionID, func(ctx context.Context, tx domain.AuctionTx) error {
		a := tx.Auction()
		now := s.now().UTC()

		if a.Status != domain.AuctionActive {
			return fmt.Errorf("auction %s: %w", auctionID, auctionerrors.ErrAuctionNotOpen)
		}
		if buyerID == a.SellerID {
			return fmt.Errorf("auction %s: %w", auctionID, auctionerrors.ErrSelfBid)
		}
		if a.BuyNowPrice == nil || *a.BuyNowPrice <= 0 {
			return fmt.Errorf("auction %s: %w", auctionID, auctionerrors.ErrBuyNowUnavailable)
		}
		price := *a.BuyNowPrice

		previous, err := tx.CurrentWinningBid(ctx)
		if err != nil {
			return err
		}
		if previous != nil {
			if err := tx.MarkOutbid(ctx, previous.ID, now); err != nil {
				return err
			}
		}

		bid := &domain.Bid{
			ID:        utils.GenerateID("bid"),
			AuctionID: auctionID,
			BidderID:  buyerID,
			Amount:    price,
			IsWinning: true,
			CreatedAt: now,
		}
		if err := tx.InsertBid(ctx, bid); err != nil {
			return err
		}
		if err := tx.UpdateLeader(ctx, price, buyerID); err != nil {
			return err
		}
		if err := tx.Transition(ctx, domain.AuctionEnded); err != nil {
			return err
		}
		if err := tx.SetWinner(ctx, &buyerID); err != nil {
			return err
		}
		if _, err := s.recorder.EnsureTracking(ctx, tx, bid); err != nil {
			return err
		}

		auction = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("buy now executed",
		"auction_id", auctionID, "buyer_id", buyerID, "amount", *auction.BuyNowPrice)

	s.notifyBestEffort(ctx, buyerID, domain.NotifyAuctionWon, map[string]interface{}{
		"auction_id": auctionID,
		"amount":     *auction.BuyNowPrice,
		"buy_now":    true,
	})
	s.notifyBestEffort(ctx, auction.SellerID, domain.NotifyAuctionSold, map[string]interface{}{
		"auction_id": auctionID,
		"amount":     *auction.BuyNowPrice,
		"buyer_id":   buyerID,
	})
	s.recordSaleBestEffort(ctx, auction, buyerID, *auction.BuyNowPrice, "buy_now")
	s.refreshSnapshot(ctx, auction)

	return auction, nil
}

// GetAuctionDetail serves the read path. The returned auction carries the
// stored status; callers render EffectiveStatus separately.
func (s *BidService) GetAuctionDetail(ctx context.Context, auctionID string) (*domain.Auction, []*domain.Bid, error) {
	auction, err := s.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.bids.GetBidHistory(ctx, auctionID)
	if err != nil {
		return nil, nil, err
	}
	return auction, history, nil
}

// GetPriceSnapshot answers lightweight price polls from the cache, rebuilding
// it from the store on a miss.
func (s *BidService) GetPriceSnapshot(ctx context.Context, auctionID string) (*domain.AuctionSnapshot, error) {
	snap, err := s.snapshots.GetSnapshot(ctx, auctionID)
	if err != nil {
		s.log.Warn("snapshot read failed, falling back to store", "auction_id", auctionID, "error", err)
	}
	if snap != nil {
		return snap, nil
	}

	auction, err := s.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	return s.refreshSnapshot(ctx, auction), nil
}

func (s *BidService) refreshSnapshot(ctx context.Context, a *domain.Auction) *domain.AuctionSnapshot {
	count, err := s.bids.CountBids(ctx, a.ID)
	if err != nil {
		s.log.Warn("failed to count bids for snapshot", "auction_id", a.ID, "error", err)
	}

	snap := buildSnapshot(a, count, s.now().UTC())
	if err := s.snapshots.SetSnapshot(ctx, snap); err != nil {
		s.log.Warn("failed to store snapshot", "auction_id", a.ID, "error", err)
	}
	return snap
}

func (s *BidService) notifyBestEffort(ctx context.Context, userID string, kind domain.NotificationKind, payload map[string]interface{}) {
	if err := s.notifier.Notify(ctx, userID, kind, payload); err != nil {
		s.log.Warn("notification failed", "user_id", userID, "kind", string(kind), "error", err)
	}
}

func (s *BidService) recordSaleBestEffort(ctx context.Context, a *domain.Auction, buyerID string, amount float64, kind string) {
	err := s.payments.RecordTransaction(ctx, &domain.PaymentTransaction{
		ID:        utils.GenerateID("txn"),
		AuctionID: a.ID,
		PayerID:   buyerID,
		PayeeID:   a.SellerID,
		Amount:    amount,
		Kind:      kind,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		s.log.Warn("ledger record failed", "auction_id", a.ID, "error", err)
	}
}

// buildSnapshot projects the display-only view of an auction. The status here
// is the derived one and must never feed back into a mutation.
func buildSnapshot(a *domain.Auction, bidCount int, now time.Time) *domain.AuctionSnapshot {
	snap := &domain.AuctionSnapshot{
		AuctionID:    a.ID,
		CurrentPrice: a.EffectivePrice(),
		MinimumBid:   a.MinimumBid(),
		Status:       a.EffectiveStatus(now).String(),
		StartTime:    a.StartTime,
		EndTime:      a.EndTime,
		BidCount:     bidCount,
		UpdatedAt:    now,
	}
	if a.CurrentBidderID != nil {
		snap.CurrentBidderID = *a.CurrentBidderID
	}
	return snap
}
