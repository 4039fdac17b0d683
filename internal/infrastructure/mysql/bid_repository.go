package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"auction-engine/internal/domain"
)

const bidColumns = `
    id, auction_id, bidder_id, amount, is_winning, outbid_at,
    max_bid_amount, is_proxy_bid, created_at`

type MySQLBidStore struct {
	db *sql.DB
}

func NewMySQLBidStore(db *sql.DB) *MySQLBidStore {
	return &MySQLBidStore{db: db}
}

func (s *MySQLBidStore) GetBidHistory(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	query := `SELECT` + bidColumns + `
        FROM bids
        WHERE auction_id = ?
        ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bid history for auction %s: %w", auctionID, err)
	}
	defer rows.Close()

	var bids []*domain.Bid
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid row: %w", err)
		}
		bids = append(bids, bid)
	}
	return bids, rows.Err()
}

func (s *MySQLBidStore) CountBids(ctx context.Context, auctionID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM bids WHERE auction_id = ?`
	if err := s.db.QueryRowContext(ctx, query, auctionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count bids for auction %s: %w", auctionID, err)
	}
	return count, nil
}

func (s *MySQLBidStore) ListBidders(ctx context.Context, auctionID string) ([]string, error) {
	query := `SELECT DISTINCT bidder_id FROM bids WHERE auction_id = ?`

	rows, err := s.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bidders for auction %s: %w", auctionID, err)
	}
	defer rows.Close()

	var bidders []string
	for rows.Next() {
		var bidderID string
		if err := rows.Scan(&bidderID); err != nil {
			return nil, fmt.Errorf("failed to scan bidder row: %w", err)
		}
		bidders = append(bidders, bidderID)
	}
	return bidders, rows.Err()
}

func scanBid(row rowScanner) (*domain.Bid, error) {
	var (
		bid      domain.Bid
		outbidAt sql.NullTime
		maxBid   sql.NullFloat64
	)

	err := row.Scan(
		&bid.ID, &bid.AuctionID, &bid.BidderID, &bid.Amount,
		&bid.IsWinning, &outbidAt, &maxBid, &bid.IsProxyBid, &bid.CreatedAt)
	if err != nil {
		return nil, err
	}

	if outbidAt.Valid {
		bid.OutbidAt = &outbidAt.Time
	}
	if maxBid.Valid {
		bid.MaxBidAmount = &maxBid.Float64
	}
	return &bid, nil
}
