package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"auction-engine/internal/auctionerrors"
	"auction-engine/internal/domain"
)

// WithAuction locks the auction row with SELECT ... FOR UPDATE and runs fn
// inside the same transaction. Concurrent mutations on the same auction
// serialize here; different auctions never block each other.
func (s *MySQLAuctionStore) WithAuction(ctx context.Context, auctionID string, fn func(ctx context.Context, tx domain.AuctionTx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer sqlTx.Rollback()

	query := `SELECT` + auctionColumns + ` FROM auctions WHERE id = ? FOR UPDATE`
	auction, err := scanAuction(sqlTx.QueryRowContext(ctx, query, auctionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auctionerrors.ErrAuctionNotFound
		}
		return fmt.Errorf("failed to lock auction %s: %w", auctionID, err)
	}

	tx := &auctionTx{tx: sqlTx, auction: auction}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit auction %s mutation: %w", auctionID, err)
	}
	return nil
}

type auctionTx struct {
	tx      *sql.Tx
	auction *domain.Auction
}

func (t *auctionTx) Auction() *domain.Auction {
	return t.auction
}

// Transition is the compare-and-set step: the UPDATE carries the loaded status
// in its WHERE clause and zero affected rows is treated as a conflict, not a
// silent no-op.
func (t *auctionTx) Transition(ctx context.Context, to domain.AuctionStatus) error {
	from := t.auction.Status
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", auctionerrors.ErrInvalidTransition, from, to)
	}

	query := `UPDATE auctions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	result, err := t.tx.ExecContext(ctx, query, int(to), time.Now().UTC(), t.auction.ID, int(from))
	if err != nil {
		return fmt.Errorf("failed to transition auction %s: %w", t.auction.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: auction %s no longer %s", auctionerrors.ErrStatusConflict, t.auction.ID, from)
	}

	t.auction.Status = to
	return nil
}

func (t *auctionTx) UpdateLeader(ctx context.Context, price float64, bidderID string) error {
	query := `UPDATE auctions
        SET current_price = ?, current_bidder_id = ?, updated_at = ?
        WHERE id = ?`
	if _, err := t.tx.ExecContext(ctx, query, price, bidderID, time.Now().UTC(), t.auction.ID); err != nil {
		return fmt.Errorf("failed to update auction %s leader: %w", t.auction.ID, err)
	}

	t.auction.CurrentPrice = &price
	t.auction.CurrentBidderID = &bidderID
	return nil
}

func (t *auctionTx) SetWinner(ctx context.Context, winnerID *string) error {
	var value sql.NullString
	if winnerID != nil {
		value = sql.NullString{String: *winnerID, Valid: true}
	}

	query := `UPDATE auctions SET winner_id = ?, updated_at = ? WHERE id = ?`
	if _, err := t.tx.ExecContext(ctx, query, value, time.Now().UTC(), t.auction.ID); err != nil {
		return fmt.Errorf("failed to set auction %s winner: %w", t.auction.ID, err)
	}

	t.auction.WinnerID = winnerID
	return nil
}

func (t *auctionTx) InsertBid(ctx context.Context, bid *domain.Bid) error {
	query := `INSERT INTO bids
        (id, auction_id, bidder_id, amount, is_winning, outbid_at, max_bid_amount, is_proxy_bid, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var maxBid sql.NullFloat64
	if bid.MaxBidAmount != nil {
		maxBid = sql.NullFloat64{Float64: *bid.MaxBidAmount, Valid: true}
	}
	var outbidAt sql.NullTime
	if bid.OutbidAt != nil {
		outbidAt = sql.NullTime{Time: *bid.OutbidAt, Valid: true}
	}

	_, err := t.tx.ExecContext(ctx, query,
		bid.ID, bid.AuctionID, bid.BidderID, bid.Amount,
		bid.IsWinning, outbidAt, maxBid, bid.IsProxyBid, bid.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert bid for auction %s: %w", bid.AuctionID, err)
	}
	return nil
}

func (t *auctionTx) CurrentWinningBid(ctx context.Context) (*domain.Bid, error) {
	query := `SELECT` + bidColumns + ` FROM bids WHERE auction_id = ? AND is_winning = TRUE LIMIT 1`
	return t.queryBid(ctx, query, t.auction.ID)
}

func (t *auctionTx) HighestBid(ctx context.Context) (*domain.Bid, error) {
	query := `SELECT` + bidColumns + `
        FROM bids WHERE auction_id = ?
        ORDER BY amount DESC, created_at ASC
        LIMIT 1`
	return t.queryBid(ctx, query, t.auction.ID)
}

func (t *auctionTx) queryBid(ctx context.Context, query string, args ...interface{}) (*domain.Bid, error) {
	bid, err := scanBid(t.tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query bid for auction %s: %w", t.auction.ID, err)
	}
	return bid, nil
}

func (t *auctionTx) MarkOutbid(ctx context.Context, bidID string, at time.Time) error {
	query := `UPDATE bids SET is_winning = FALSE, outbid_at = ? WHERE id = ?`
	if _, err := t.tx.ExecContext(ctx, query, at, bidID); err != nil {
		return fmt.Errorf("failed to mark bid %s outbid: %w", bidID, err)
	}
	return nil
}

func (t *auctionTx) GetBidWinner(ctx context.Context) (*domain.BidWinner, error) {
	query := `SELECT id, auction_id, bid_id, winner_id, seller_id, amount, won_at, notified_at, created_at
        FROM bid_winners WHERE auction_id = ? LIMIT 1`

	var (
		w          domain.BidWinner
		notifiedAt sql.NullTime
	)
	err := t.tx.QueryRowContext(ctx, query, t.auction.ID).Scan(
		&w.ID, &w.AuctionID, &w.BidID, &w.WinnerID, &w.SellerID,
		&w.Amount, &w.WonAt, &notifiedAt, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get bid winner for auction %s: %w", t.auction.ID, err)
	}
	if notifiedAt.Valid {
		w.NotifiedAt = &notifiedAt.Time
	}
	return &w, nil
}

func (t *auctionTx) CreateBidWinner(ctx context.Context, w *domain.BidWinner) error {
	query := `INSERT INTO bid_winners
        (id, auction_id, bid_id, winner_id, seller_id, amount, won_at, notified_at, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var notifiedAt sql.NullTime
	if w.NotifiedAt != nil {
		notifiedAt = sql.NullTime{Time: *w.NotifiedAt, Valid: true}
	}

	_, err := t.tx.ExecContext(ctx, query,
		w.ID, w.AuctionID, w.BidID, w.WinnerID, w.SellerID,
		w.Amount, w.WonAt, notifiedAt, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create bid winner for auction %s: %w", w.AuctionID, err)
	}
	return nil
}

func (t *auctionTx) GetWinnerPayment(ctx context.Context, bidWinnerID string) (*domain.WinnerPayment, error) {
	query := `SELECT id, bid_winner_id, auction_id, amount, status, due_at, completed_at, created_at
        FROM winner_payments WHERE bid_winner_id = ? LIMIT 1`

	var (
		p           domain.WinnerPayment
		status      string
		completedAt sql.NullTime
	)
	err := t.tx.QueryRowContext(ctx, query, bidWinnerID).Scan(
		&p.ID, &p.BidWinnerID, &p.AuctionID, &p.Amount,
		&status, &p.DueAt, &completedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get winner payment %s: %w", bidWinnerID, err)
	}
	p.Status = domain.PaymentStatus(status)
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	return &p, nil
}

func (t *auctionTx) CreateWinnerPayment(ctx context.Context, p *domain.WinnerPayment) error {
	query := `INSERT INTO winner_payments
        (id, bid_winner_id, auction_id, amount, status, due_at, completed_at, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	var completedAt sql.NullTime
	if p.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *p.CompletedAt, Valid: true}
	}

	_, err := t.tx.ExecContext(ctx, query,
		p.ID, p.BidWinnerID, p.AuctionID, p.Amount,
		string(p.Status), p.DueAt, completedAt, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create winner payment for auction %s: %w", p.AuctionID, err)
	}
	return nil
}

func (t *auctionTx) CompleteWinnerPayment(ctx context.Context, bidWinnerID string, at time.Time) error {
	query := `UPDATE winner_payments SET status = ?, completed_at = ? WHERE bid_winner_id = ?`
	if _, err := t.tx.ExecContext(ctx, query, string(domain.PaymentCompleted), at, bidWinnerID); err != nil {
		return fmt.Errorf("failed to complete winner payment %s: %w", bidWinnerID, err)
	}
	return nil
}

func (t *auctionTx) MarkPaid(ctx context.Context, at time.Time) error {
	query := `UPDATE auctions SET paid_at = ?, updated_at = ? WHERE id = ?`
	if _, err := t.tx.ExecContext(ctx, query, at, time.Now().UTC(), t.auction.ID); err != nil {
		return fmt.Errorf("failed to mark auction %s paid: %w", t.auction.ID, err)
	}
	t.auction.PaidAt = &at
	return nil
}
