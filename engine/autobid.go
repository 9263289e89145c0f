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
	"gorm.io/gorm/clause"

	"gavel/models"
	"gavel/pricing"
)

// CreateAutoBid registers a proxy-bid directive: a standing authorization
// to bid on the user's behalf up to maximumAmount. One directive per
// (user, auction); the ceiling must exceed the current price; directives
// can only be placed on open auctions by non-sellers. On success the
// resolver runs immediately.
func (e *Engine) CreateAutoBid(ctx context.Context, auctionID, bidderID uuid.UUID, maximumAmount decimal.Decimal) (*models.AutoBid, error) {
	const op = "CreateAutoBid"
	if !maximumAmount.IsPositive() {
		return nil, &ValidationError{Reason: "maximum amount must be positive"}
	}
	var autoBid models.AutoBid
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		auction, err := e.lockAuction(tx, auctionID)
		if err != nil {
			return err
		}
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
		if maximumAmount.LessThanOrEqual(current) {
			return ErrCeilingTooLow
		}
		var existing int64
		if result := tx.Model(&models.AutoBid{}).
			Where("auction_id = ? AND user_id = ?", auctionID, bidderID).
			Count(&existing); result.Error != nil {
			return fmt.Errorf("check existing auto bid: %w", result.Error)
		}
		if existing > 0 {
			return ErrDuplicateAutoBid
		}
		autoBid = models.AutoBid{
			AuctionID:     auctionID,
			UserID:        bidderID,
			MaximumAmount: maximumAmount,
		}
		autoBid.CreatedAt = now
		if result := tx.Create(&autoBid); result.Error != nil {
			return fmt.Errorf("create auto bid: %w", result.Error)
		}
		return nil
	})
	if err != nil {
		if IsValidation(err) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("[%s] Fail to create auto bid, auctionID=%s, err=%w", op, auctionID, err)
	}
	if err := e.Resolve(ctx, auctionID); err != nil {
		e.logger.Error("Fail to resolve proxy bids after new directive", slog.String("auctionID", auctionID.String()), slog.Any("error", err))
	}
	return &autoBid, nil
}

// Resolve drives proxy bidding for the auction to its fixed point. It is
// idempotent and safe to invoke concurrently: every round re-reads state
// under the auction row lock, and candidate directives already locked by
// a concurrent resolver are skipped rather than waited on, so rival
// resolvers cannot deadlock each other. A missing auction is a benign
// no-op (a stale trigger may outlive the auction).
func (e *Engine) Resolve(ctx context.Context, auctionID uuid.UUID) error {
	const op = "Resolve"
	for {
		placed, events, err := e.resolveOnce(ctx, auctionID)
		if errors.Is(err, ErrNotFound) {
			e.logger.Info("Auction gone before proxy resolution", slog.String("auctionID", auctionID.String()))
			return nil
		}
		if err != nil {
			return fmt.Errorf("[%s] Fail to resolve proxy bids, auctionID=%s, err=%w", op, auctionID, err)
		}
		e.emit(events)
		if !placed {
			return nil
		}
	}
}

// resolveOnce performs one resolver round: read price and leader, pick
// the best eligible directive (highest ceiling first, earliest creation
// on ties) and place a single counter bid of
// min(minimumNextBid, ceiling). Every successful round strictly raises
// the price and no ceiling is infinite, so the caller's loop terminates
// after at most one round per distinct competing ceiling.
func (e *Engine) resolveOnce(ctx context.Context, auctionID uuid.UUID) (bool, []Event, error) {
	placed := false
	var events []Event
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		auction, err := e.lockAuction(tx, auctionID)
		if err != nil {
			return err
		}
		// proxies never fire on a closed auction; the clock is read
		// under the row lock
		now := time.Now()
		if auction.Ended(now) || auction.Completed() {
			return nil
		}
		current, top, err := currentPrice(tx, auction)
		if err != nil {
			return err
		}

		// Eligibility requires a ceiling strictly above the current
		// price, so a directive whose ceiling was consumed exactly by a
		// rival bid drops out and ties cause no further bidding.
		candidates := tx.Where("auction_id = ? AND maximum_amount > ?", auction.ID, current)
		if top != nil {
			candidates = candidates.Where("user_id <> ?", top.UserID)
		}
		var directive models.AutoBid
		result := e.forUpdate(candidates, clause.LockingOptionsSkipLocked).
			Order("maximum_amount DESC").
			Order("created_at ASC").
			First(&directive)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			// fixed point: nothing eligible, or a concurrent resolver
			// holds the remaining candidates and will finish the job
			return nil
		}
		if result.Error != nil {
			return fmt.Errorf("select candidate directive: %w", result.Error)
		}

		// The directive may spend its entire ceiling, even when that
		// ceiling sits below the public minimum next bid.
		amount := decimal.Min(pricing.MinimumNextBid(current), directive.MaximumAmount)
		_, events, err = e.appendBid(tx, auction, directive.UserID, amount, now)
		if err != nil {
			return err
		}
		placed = true
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return placed, events, nil
}
