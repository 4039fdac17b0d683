package handlers

import (
	"errors"
	"net/http"
	"time"

	"auction-engine/internal/auctionerrors"
	"auction-engine/internal/domain"
	"auction-engine/internal/services"
	"auction-engine/pkg/logger"

	"github.com/labstack/echo/v4"
)

type AuctionHandler struct {
	bidService *services.BidService
	lifecycle  *services.LifecycleService
	log        logger.Logger
}

func NewAuctionHandler(bidService *services.BidService, lifecycle *services.LifecycleService, log logger.Logger) *AuctionHandler {
	return &AuctionHandler{
		bidService: bidService,
		lifecycle:  lifecycle,
		log:        log,
	}
}

func (h *AuctionHandler) Register(g *echo.Group) {
	g.GET("/auctions/:id", h.GetAuction)
	g.GET("/auctions/:id/price", h.GetPrice)
	g.POST("/auctions/:id/bid", h.PlaceBid)
	g.POST("/auctions/:id/buy-now", h.BuyNow)
	g.POST("/auctions/:id/cancel", h.CancelAuction)
	g.POST("/auctions/:id/payment-complete", h.CompletePayment)
}

type PlaceBidRequest struct {
	BidderID string  `json:"bidder_id"`
	Amount   float64 `json:"amount"`
}

type BuyNowRequest struct {
	BuyerID string `json:"buyer_id"`
}

type CancelRequest struct {
	RequesterID string `json:"requester_id"`
}

// AuctionResponse is the client view of an auction. The reserve price stays
// hidden; clients only ever learn whether the auction concluded with a winner.
type AuctionResponse struct {
	AuctionID       string     `json:"auction_id"`
	ListingID       string     `json:"listing_id"`
	SellerID        string     `json:"seller_id"`
	StartingPrice   float64    `json:"starting_price"`
	BuyNowPrice     *float64   `json:"buy_now_price,omitempty"`
	CurrentPrice    float64    `json:"current_price"`
	CurrentBidderID string     `json:"current_bidder_id,omitempty"`
	BidIncrement    float64    `json:"bid_increment"`
	MinimumBid      float64    `json:"minimum_bid"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	Status          string     `json:"status"`
	EffectiveStatus string     `json:"effective_status"`
	WinnerID        string     `json:"winner_id,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
}

type BidResponse struct {
	BidID     string     `json:"bid_id"`
	AuctionID string     `json:"auction_id"`
	BidderID  string     `json:"bidder_id"`
	Amount    float64    `json:"amount"`
	IsWinning bool       `json:"is_winning"`
	OutbidAt  *time.Time `json:"outbid_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (h *AuctionHandler) PlaceBid(c echo.Context) error {
	auctionID := c.Param("id")

	var req PlaceBidRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.BidderID == "" || req.Amount <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bidder_id and a positive amount are required"})
	}

	bid, auction, err := h.bidService.PlaceBid(c.Request().Context(), auctionID, req.BidderID, req.Amount)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"bid":     toBidResponse(bid),
		"auction": toAuctionResponse(auction, time.Now().UTC()),
	})
}

func (h *AuctionHandler) BuyNow(c echo.Context) error {
	auctionID := c.Param("id")

	var req BuyNowRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.BuyerID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "buyer_id is required"})
	}

	auction, err := h.bidService.BuyNow(c.Request().Context(), auctionID, req.BuyerID)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"auction": toAuctionResponse(auction, time.Now().UTC()),
	})
}

func (h *AuctionHandler) GetAuction(c echo.Context) error {
	auctionID := c.Param("id")

	auction, history, err := h.bidService.GetAuctionDetail(c.Request().Context(), auctionID)
	if err != nil {
		return h.writeError(c, err)
	}

	bids := make([]BidResponse, 0, len(history))
	for _, bid := range history {
		bids = append(bids, toBidResponse(bid))
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"auction":     toAuctionResponse(auction, time.Now().UTC()),
		"bids":        bids,
		"minimum_bid": auction.MinimumBid(),
	})
}

func (h *AuctionHandler) GetPrice(c echo.Context) error {
	snap, err := h.bidService.GetPriceSnapshot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *AuctionHandler) CancelAuction(c echo.Context) error {
	auctionID := c.Param("id")

	var req CancelRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.RequesterID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "requester_id is required"})
	}

	auction, err := h.lifecycle.CancelAuction(c.Request().Context(), auctionID, req.RequesterID)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"auction": toAuctionResponse(auction, time.Now().UTC()),
	})
}

func (h *AuctionHandler) CompletePayment(c echo.Context) error {
	auction, err := h.lifecycle.CompletePayment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"auction": toAuctionResponse(auction, time.Now().UTC()),
	})
}

// writeError maps the error taxonomy to HTTP: validation 400 (with the true
// minimum for too-low bids), contention 409 retryable, missing 404, anything
// else a logged generic 500.
func (h *AuctionHandler) writeError(c echo.Context, err error) error {
	var tooLow *auctionerrors.BidTooLowError
	switch {
	case errors.As(err, &tooLow):
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":       tooLow.Error(),
			"minimum_bid": tooLow.MinimumBid,
		})
	case errors.Is(err, auctionerrors.ErrAuctionNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case auctionerrors.IsValidation(err):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case auctionerrors.IsRetryable(err):
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":     "auction is busy, retry with the same amount",
			"retryable": true,
		})
	default:
		h.log.Error("request failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func toAuctionResponse(a *domain.Auction, now time.Time) AuctionResponse {
	resp := AuctionResponse{
		AuctionID:       a.ID,
		ListingID:       a.ListingID,
		SellerID:        a.SellerID,
		StartingPrice:   a.StartingPrice,
		BuyNowPrice:     a.BuyNowPrice,
		CurrentPrice:    a.EffectivePrice(),
		BidIncrement:    a.BidIncrement,
		MinimumBid:      a.MinimumBid(),
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		Status:          a.Status.String(),
		EffectiveStatus: a.EffectiveStatus(now).String(),
		PaidAt:          a.PaidAt,
	}
	if a.CurrentBidderID != nil {
		resp.CurrentBidderID = *a.CurrentBidderID
	}
	if a.WinnerID != nil {
		resp.WinnerID = *a.WinnerID
	}
	return resp
}

func toBidResponse(b *domain.Bid) BidResponse {
	return BidResponse{
		BidID:     b.ID,
		AuctionID: b.AuctionID,
		BidderID:  b.BidderID,
		Amount:    b.Amount,
		IsWinning: b.IsWinning,
		OutbidAt:  b.OutbidAt,
		CreatedAt: b.CreatedAt,
	}
}
