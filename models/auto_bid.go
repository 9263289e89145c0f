package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AutoBid is a standing authorization to bid on a user's behalf up to
// MaximumAmount. It is consumed repeatedly by the proxy-bid resolver for
// the life of the auction; being outbid does not delete it, a rival
// directive with a higher ceiling simply supersedes it.
type AutoBid struct {
	gorm.Model

	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	AuctionID     uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_auto_bids_user_auction;index:idx_auto_bids_processing;<-:create"`
	UserID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_auto_bids_user_auction;<-:create"`
	MaximumAmount decimal.Decimal `gorm:"type:decimal(10,2);not null;index:idx_auto_bids_processing;<-:create"`

	User    User
	Auction Auction
}

func (ab *AutoBid) BeforeCreate(*gorm.DB) error {
	if ab.ID == uuid.Nil {
		ab.ID = uuid.New()
	}
	return nil
}
