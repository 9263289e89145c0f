package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gavel/models"
)

// Settle transitions a closed auction to its terminal settled state
// exactly once: it records the settlement timestamp together with the
// winning bid and bidder (highest amount, earliest on ties) in one
// transaction keyed on the auction row. Repeated and concurrent
// invocations are no-ops after the first one commits, a still-open
// auction is left untouched, and a missing auction is benign (a one-shot
// settlement timer cannot be cancelled when an auction is deleted).
func (e *Engine) Settle(ctx context.Context, auctionID uuid.UUID) error {
	const op = "Settle"
	var events []Event
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		auction, err := e.lockAuction(tx, auctionID)
		if err != nil {
			return err
		}
		if auction.Completed() {
			// a concurrent settler won the race
			return nil
		}
		now := time.Now()
		if !auction.Ended(now) {
			return nil
		}
		_, top, err := currentPrice(tx, auction)
		if err != nil {
			return err
		}
		updates := map[string]any{
			"completed_at": now,
			"updated_at":   now,
		}
		if top != nil {
			updates["winning_bid_id"] = top.ID
			updates["winning_bidder_id"] = top.UserID
		}
		if result := tx.Model(auction).UpdateColumns(updates); result.Error != nil {
			return fmt.Errorf("record settlement: %w", result.Error)
		}
		events = append(events, newAuctionCompletedEvent(auction.ID, top, now))
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		e.logger.Info("Auction gone before settlement", slog.String("auctionID", auctionID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("[%s] Fail to settle auction, auctionID=%s, err=%w", op, auctionID, err)
	}
	e.emit(events)
	return nil
}

// PendingSettlement lists auctions past their end time that have not
// been settled yet.
func (e *Engine) PendingSettlement(ctx context.Context) ([]uuid.UUID, error) {
	const op = "PendingSettlement"
	var ids []uuid.UUID
	result := e.db.WithContext(ctx).Model(&models.Auction{}).
		Where("ends_at <= ? AND completed_at IS NULL AND winning_bid_id IS NULL", time.Now()).
		Pluck("id", &ids)
	if result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list pending auctions, err=%w", op, result.Error)
	}
	return ids, nil
}

// WonAuctions lists ended auctions whose leading bid met the reserve
// price. The reserve is applied here, in reporting, not in Settle.
func (e *Engine) WonAuctions(ctx context.Context) ([]models.Auction, error) {
	const op = "WonAuctions"
	var auctions []models.Auction
	result := e.db.WithContext(ctx).Model(&models.Auction{}).
		Distinct("auctions.*").
		Joins("JOIN bids ON bids.auction_id = auctions.id").
		Where("auctions.ends_at <= ?", time.Now()).
		Where("bids.amount >= auctions.minimum_selling_price").
		Find(&auctions)
	if result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list won auctions, err=%w", op, result.Error)
	}
	return auctions, nil
}

// UnsoldAuctions lists ended auctions where no bid reached the reserve
// price, including auctions with no bids at all.
func (e *Engine) UnsoldAuctions(ctx context.Context) ([]models.Auction, error) {
	const op = "UnsoldAuctions"
	var auctions []models.Auction
	result := e.db.WithContext(ctx).Model(&models.Auction{}).
		Where("auctions.ends_at <= ?", time.Now()).
		Where("NOT EXISTS (SELECT 1 FROM bids WHERE bids.auction_id = auctions.id AND bids.amount >= auctions.minimum_selling_price)").
		Find(&auctions)
	if result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list unsold auctions, err=%w", op, result.Error)
	}
	return auctions, nil
}
