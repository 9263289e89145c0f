package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Bid is one accepted entry in an auction's ledger. Bids are immutable
// once created; they are removed only when their auction is deleted.
type Bid struct {
	gorm.Model

	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	AuctionID uuid.UUID       `gorm:"type:uuid;not null;index:idx_bids_auction_amount;<-:create"`
	UserID    uuid.UUID       `gorm:"type:uuid;not null;index;<-:create"`
	Amount    decimal.Decimal `gorm:"type:decimal(10,2);not null;index:idx_bids_auction_amount;<-:create"`

	User    User
	Auction Auction
}

func (b *Bid) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
