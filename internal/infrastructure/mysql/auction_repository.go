package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"auction-engine/internal/auctionerrors"
	"auction-engine/internal/domain"

	_ "github.com/go-sql-driver/mysql"
)

const auctionColumns = `
    id, listing_id, seller_id, starting_price, reserve_price, buy_now_price,
    current_price, current_bidder_id, bid_increment, start_time, end_time,
    status, winner_id, closing_notified, paid_at, created_at, updated_at`

type MySQLAuctionStore struct {
	db *sql.DB
}

func NewMySQLAuctionStore(db *sql.DB) *MySQLAuctionStore {
	return &MySQLAuctionStore{db: db}
}

func (s *MySQLAuctionStore) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	query := `SELECT` + auctionColumns + ` FROM auctions WHERE id = ?`

	auction, err := scanAuction(s.db.QueryRowContext(ctx, query, auctionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auctionerrors.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to get auction %s: %w", auctionID, err)
	}
	return auction, nil
}

func (s *MySQLAuctionStore) ListDueForActivation(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	query := `SELECT` + auctionColumns + `
        FROM auctions
        WHERE status = ? AND start_time <= ? AND end_time > ?
        ORDER BY start_time ASC`

	return s.listAuctions(ctx, query, int(domain.AuctionPending), now, now)
}

// ListDueForEnding also matches pending rows whose deadline passed without
// activation, so an auction can never stay stuck pending past its end time.
func (s *MySQLAuctionStore) ListDueForEnding(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	query := `SELECT` + auctionColumns + `
        FROM auctions
        WHERE status IN (?, ?) AND end_time <= ?
        ORDER BY end_time ASC`

	return s.listAuctions(ctx, query, int(domain.AuctionActive), int(domain.AuctionPending), now)
}

func (s *MySQLAuctionStore) ListEndingSoon(ctx context.Context, now time.Time, window time.Duration) ([]*domain.Auction, error) {
	query := `SELECT` + auctionColumns + `
        FROM auctions
        WHERE status = ? AND closing_notified = FALSE
          AND end_time > ? AND end_time <= ?
        ORDER BY end_time ASC`

	return s.listAuctions(ctx, query, int(domain.AuctionActive), now, now.Add(window))
}

func (s *MySQLAuctionStore) ListEnded(ctx context.Context) ([]*domain.Auction, error) {
	query := `SELECT` + auctionColumns + `
        FROM auctions
        WHERE status = ?
        ORDER BY end_time ASC`

	return s.listAuctions(ctx, query, int(domain.AuctionEnded))
}

func (s *MySQLAuctionStore) MarkClosingNotified(ctx context.Context, auctionID string) error {
	query := `UPDATE auctions SET closing_notified = TRUE, updated_at = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), auctionID); err != nil {
		return fmt.Errorf("failed to mark auction %s closing-notified: %w", auctionID, err)
	}
	return nil
}

func (s *MySQLAuctionStore) listAuctions(ctx context.Context, query string, args ...interface{}) ([]*domain.Auction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	defer rows.Close()

	var auctions []*domain.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction row: %w", err)
		}
		auctions = append(auctions, auction)
	}
	return auctions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuction(row rowScanner) (*domain.Auction, error) {
	var (
		auction       domain.Auction
		status        int
		reservePrice  sql.NullFloat64
		buyNowPrice   sql.NullFloat64
		currentPrice  sql.NullFloat64
		currentBidder sql.NullString
		winnerID      sql.NullString
		paidAt        sql.NullTime
	)

	err := row.Scan(
		&auction.ID, &auction.ListingID, &auction.SellerID, &auction.StartingPrice,
		&reservePrice, &buyNowPrice, &currentPrice, &currentBidder,
		&auction.BidIncrement, &auction.StartTime, &auction.EndTime,
		&status, &winnerID, &auction.ClosingNotified, &paidAt,
		&auction.CreatedAt, &auction.UpdatedAt)
	if err != nil {
		return nil, err
	}

	auction.Status = domain.AuctionStatus(status)
	if reservePrice.Valid {
		auction.ReservePrice = &reservePrice.Float64
	}
	if buyNowPrice.Valid {
		auction.BuyNowPrice = &buyNowPrice.Float64
	}
	if currentPrice.Valid {
		auction.CurrentPrice = &currentPrice.Float64
	}
	if currentBidder.Valid {
		auction.CurrentBidderID = &currentBidder.String
	}
	if winnerID.Valid {
		auction.WinnerID = &winnerID.String
	}
	if paidAt.Valid {
		auction.PaidAt = &paidAt.Time
	}
	return &auction, nil
}
