package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Auction is a time-bounded sale of one item to the highest qualifying
// bidder. CompletedAt is written exactly once at settlement and the
// winning references never change afterwards. UpdatedAt doubles as the
// last-activity marker and is touched on every accepted bid.
type Auction struct {
	gorm.Model

	ID                  uuid.UUID       `gorm:"type:uuid;primaryKey"`
	SellerID            uuid.UUID       `gorm:"type:uuid;not null;index;<-:create"`
	Title               string          `gorm:"type:varchar(255);not null"`
	Description         string          `gorm:"type:text;not null"`
	StartingPrice       decimal.Decimal `gorm:"type:decimal(10,2);not null;<-:create"`
	MinimumSellingPrice decimal.Decimal `gorm:"type:decimal(10,2);not null;<-:create"`
	// no explicit column type: the dialector picks the native time type
	// (timestamptz on postgres, datetime on sqlite)
	EndsAt              time.Time       `gorm:"not null;index"`
	CompletedAt         *time.Time      `gorm:"index"`
	CurrentBidID        *uuid.UUID      `gorm:"type:uuid"`
	WinningBidID        *uuid.UUID      `gorm:"type:uuid;index"`
	WinningBidderID     *uuid.UUID      `gorm:"type:uuid;index"`

	Seller        User
	CurrentBid    *Bid      `gorm:"foreignKey:CurrentBidID"`
	WinningBid    *Bid      `gorm:"foreignKey:WinningBidID"`
	WinningBidder *User     `gorm:"foreignKey:WinningBidderID"`
	Bids          []Bid     `gorm:"constraint:OnDelete:CASCADE"`
	AutoBids      []AutoBid `gorm:"constraint:OnDelete:CASCADE"`
}

func (a *Auction) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// Ended reports whether the auction has passed its scheduled end time.
// open → closed is a pure function of the clock, not stored state.
func (a *Auction) Ended(now time.Time) bool {
	return !now.Before(a.EndsAt)
}

// Completed reports whether settlement has been recorded.
func (a *Auction) Completed() bool {
	return a.CompletedAt != nil
}
