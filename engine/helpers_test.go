package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gavel/models"
)

// collectSink records published events for assertions.
type collectSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *collectSink) Publish(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *collectSink) byKind(kind string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []Event
	for _, event := range s.events {
		if event.Kind == kind {
			matched = append(matched, event)
		}
	}
	return matched
}

func (s *collectSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func setupEngine(t *testing.T) (*Engine, *gorm.DB, *collectSink, *collectSink) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// a pooled second connection would see its own empty :memory: database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.AutoMigrate(db))

	sink := &collectSink{}
	external := &collectSink{}
	// sqlite has no FOR UPDATE syntax; its single writer serializes
	// transactions instead
	eng := New(db, WithoutRowLocks(), WithEventSink(sink), WithExternalSink(external))
	return eng, db, sink, external
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustCreateUser(t *testing.T, db *gorm.DB, name string) uuid.UUID {
	t.Helper()
	user := models.User{Name: name, Email: name + "@example.com"}
	require.NoError(t, db.Create(&user).Error)
	return user.ID
}

// mustCreateAuction writes the row directly so tests can create already
// ended auctions, which CreateAuction rejects by design.
func mustCreateAuction(t *testing.T, db *gorm.DB, sellerID uuid.UUID, starting, reserve string, endsAt time.Time) *models.Auction {
	t.Helper()
	auction := &models.Auction{
		SellerID:            sellerID,
		Title:               "vintage gavel",
		Description:         "goes once, goes twice",
		StartingPrice:       d(starting),
		MinimumSellingPrice: d(reserve),
		EndsAt:              endsAt,
	}
	require.NoError(t, db.Create(auction).Error)
	return auction
}

// mustInsertBid bypasses the ledger for test fixtures that need exact
// amounts and timestamps.
func mustInsertBid(t *testing.T, db *gorm.DB, auctionID, userID uuid.UUID, amount string, createdAt time.Time) *models.Bid {
	t.Helper()
	bid := &models.Bid{
		AuctionID: auctionID,
		UserID:    userID,
		Amount:    d(amount),
	}
	bid.CreatedAt = createdAt
	require.NoError(t, db.Create(bid).Error)
	return bid
}

// mustInsertAutoBid writes a directive without triggering resolution,
// for auctions CreateAutoBid would refuse to touch.
func mustInsertAutoBid(t *testing.T, db *gorm.DB, auctionID, userID uuid.UUID, ceiling string) *models.AutoBid {
	t.Helper()
	directive := &models.AutoBid{
		AuctionID:     auctionID,
		UserID:        userID,
		MaximumAmount: d(ceiling),
	}
	require.NoError(t, db.Create(directive).Error)
	return directive
}

func mustReloadAuction(t *testing.T, db *gorm.DB, auctionID uuid.UUID) *models.Auction {
	t.Helper()
	var auction models.Auction
	require.NoError(t, db.First(&auction, "id = ?", auctionID).Error)
	return &auction
}

func bidsByCreation(t *testing.T, db *gorm.DB, auctionID uuid.UUID) []models.Bid {
	t.Helper()
	var bids []models.Bid
	require.NoError(t, db.Where("auction_id = ?", auctionID).Order("created_at ASC").Find(&bids).Error)
	return bids
}
