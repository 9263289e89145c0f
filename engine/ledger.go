package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"gavel/models"
	"gavel/pricing"
)

// outbidNotificationLimit caps outbid events to the most recently active
// distinct bidders of one auction.
const outbidNotificationLimit = 100

type CreateAuctionParams struct {
	SellerID            uuid.UUID
	Title               string
	Description         string
	StartingPrice       decimal.Decimal
	MinimumSellingPrice decimal.Decimal
	EndsAt              time.Time
}

// CreateAuction validates and persists a new auction. The end time must
// lie strictly in the future.
func (e *Engine) CreateAuction(ctx context.Context, params CreateAuctionParams) (*models.Auction, error) {
	const op = "CreateAuction"
	if params.Title == "" {
		return nil, &ValidationError{Reason: "title is required"}
	}
	if params.Description == "" {
		return nil, &ValidationError{Reason: "description is required"}
	}
	if params.StartingPrice.IsNegative() {
		return nil, &ValidationError{Reason: "starting price must not be negative"}
	}
	if params.MinimumSellingPrice.IsNegative() {
		return nil, &ValidationError{Reason: "minimum selling price must not be negative"}
	}
	if !params.EndsAt.After(time.Now()) {
		return nil, &ValidationError{Reason: "ends at must be in the future"}
	}
	auction := models.Auction{
		SellerID:            params.SellerID,
		Title:               params.Title,
		Description:         params.Description,
		StartingPrice:       params.StartingPrice,
		MinimumSellingPrice: params.MinimumSellingPrice,
		EndsAt:              params.EndsAt,
	}
	if result := e.db.WithContext(ctx).Create(&auction); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to create auction, err=%w", op, result.Error)
	}
	return &auction, nil
}

// DeleteAuction removes an auction together with its bids and auto-bid
// directives. The row is locked without waiting: an auction currently
// being bid on or resolved yields ErrBusy.
func (e *Engine) DeleteAuction(ctx context.Context, auctionID uuid.UUID) error {
	const op = "DeleteAuction"
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		auction, err := e.lockAuctionNoWait(tx, auctionID)
		if err != nil {
			return err
		}
		if result := tx.Where("auction_id = ?", auction.ID).Delete(&models.Bid{}); result.Error != nil {
			return fmt.Errorf("delete bids: %w", result.Error)
		}
		if result := tx.Where("auction_id = ?", auction.ID).Delete(&models.AutoBid{}); result.Error != nil {
			return fmt.Errorf("delete auto bids: %w", result.Error)
		}
		if result := tx.Delete(auction); result.Error != nil {
			return fmt.Errorf("delete auction: %w", result.Error)
		}
		return nil
	})
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrBusy) {
		return err
	}
	return fmt.Errorf("[%s] Fail to delete auction, auctionID=%s, err=%w", op, auctionID, err)
}

// PlaceBid appends a bid to the auction's ledger inside one row-locked
// transaction, then drives proxy resolution to its fixed point. The
// accepted bid stands even if resolution fails afterwards.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount decimal.Decimal) (*models.Bid, error) {
	bid, events, err := e.placeUserBid(ctx, auctionID, bidderID, amount)
	if err != nil {
		return nil, err
	}
	e.emit(events)
	if err := e.Resolve(ctx, auctionID); err != nil {
		e.logger.Error("Fail to resolve proxy bids after accepted bid", slog.String("auctionID", auctionID.String()), slog.Any("error", err))
	}
	return bid, nil
}

func (e *Engine) placeUserBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount decimal.Decimal) (*models.Bid, []Event, error) {
	const op = "PlaceBid"
	var bid *models.Bid
	var events []Event
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		auction, err := e.lockAuction(tx, auctionID)
		if err != nil {
			return err
		}
		// the clock is read under the row lock: a bid that queued behind
		// a settle or a rival bid is judged against the time it actually
		// reaches the ledger, not the time it was submitted
		now := time.Now()
		if auction.Ended(now) || auction.Completed() {
			return ErrAuctionClosed
		}
		if auction.SellerID == bidderID {
			return ErrOwnAuction
		}
		current, _, err := currentPrice(tx, auction)
		if err != nil {
			return err
		}
		minimum := pricing.MinimumNextBid(current)
		if amount.LessThan(minimum) {
			return &ValidationError{Reason: fmt.Sprintf("amount must be at least %s", minimum.StringFixed(2))}
		}
		bid, events, err = e.appendBid(tx, auction, bidderID, amount, now)
		return err
	})
	if err != nil {
		if IsValidation(err) || errors.Is(err, ErrNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("[%s] Fail to place bid, auctionID=%s, err=%w", op, auctionID, err)
	}
	return bid, events, nil
}

// currentPrice returns the auction's current price (highest bid amount,
// or the starting price while the ledger is empty) together with the
// leading bid. Ties on amount go to the earlier bid.
func currentPrice(tx *gorm.DB, auction *models.Auction) (decimal.Decimal, *models.Bid, error) {
	var top models.Bid
	result := tx.Where("auction_id = ?", auction.ID).
		Order("amount DESC").
		Order("created_at ASC").
		First(&top)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return auction.StartingPrice, nil, nil
	}
	if result.Error != nil {
		return decimal.Zero, nil, fmt.Errorf("find highest bid: %w", result.Error)
	}
	return top.Amount, &top, nil
}

// appendBid persists the bid, refreshes the auction's denormalized
// current-bid pointer and last-activity marker, and assembles the events
// to publish after commit. The caller holds the auction row lock and has
// already validated the amount.
func (e *Engine) appendBid(tx *gorm.DB, auction *models.Auction, bidderID uuid.UUID, amount decimal.Decimal, now time.Time) (*models.Bid, []Event, error) {
	bid := models.Bid{
		AuctionID: auction.ID,
		UserID:    bidderID,
		Amount:    amount,
	}
	bid.CreatedAt = now
	if result := tx.Create(&bid); result.Error != nil {
		return nil, nil, fmt.Errorf("create bid: %w", result.Error)
	}
	updates := map[string]any{
		"current_bid_id": bid.ID,
		"updated_at":     now,
	}
	if result := tx.Model(auction).UpdateColumns(updates); result.Error != nil {
		return nil, nil, fmt.Errorf("touch auction: %w", result.Error)
	}

	events := []Event{newBidPlacedEvent(&bid)}
	outbid, err := outbidTargets(tx, auction.ID, bidderID)
	if err != nil {
		return nil, nil, err
	}
	for _, userID := range outbid {
		events = append(events, newOutbidEvent(auction.ID, userID, now))
	}
	return &bid, events, nil
}

// outbidTargets selects every rival bidder of the auction, most recently
// active first, capped at outbidNotificationLimit and deduplicated to
// one entry per bidder.
func outbidTargets(tx *gorm.DB, auctionID, bidderID uuid.UUID) ([]uuid.UUID, error) {
	var targets []uuid.UUID
	result := tx.Model(&models.Bid{}).
		Where("auction_id = ? AND user_id <> ?", auctionID, bidderID).
		Group("user_id").
		Order("MAX(created_at) DESC").
		Limit(outbidNotificationLimit).
		Pluck("user_id", &targets)
	if result.Error != nil {
		return nil, fmt.Errorf("select outbid targets: %w", result.Error)
	}
	return targets, nil
}
