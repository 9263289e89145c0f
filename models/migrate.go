package models

import "gorm.io/gorm"

// AutoMigrate creates or updates the engine's tables. Auctions and bids
// reference each other, so constraint creation is expected to be disabled
// on the connection (DisableForeignKeyConstraintWhenMigrating).
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Auction{}, &Bid{}, &AutoBid{})
}
