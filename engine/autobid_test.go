package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAutoBid_Validation(t *testing.T) {
	engine, db, _, _ := setupEngine(t)
	ctx := context.Background()
	sellerID := mustCreateUser(t, db, "seller")
	bidderID := mustCreateUser(t, db, "bidder")

	t.Run("RejectsNonPositiveCeiling", func(t *testing.T) {
		auction := mustCreateAuction(t, db, sellerID, "100.00", "0.00", time.Now().Add(time.Hour))
		_, err := engine.CreateAutoBid(ctx, auction.ID, bidderID, d("0.00"))
		assert.True(t, IsValidation(err), "expected validation error, got %v", err)
	})

	t.Run("RejectsEndedAuction", func(t *testing.T) {
		auction := mustCreateAuction(t, db, sellerID, "100.00", "0.00", time.Now().Add(-time.Minute))
		_, err := engine.CreateAutoBid(ctx, auction.ID, bidderID, d("200.00"))
		assert.ErrorIs(t, err, ErrAuctionClosed)
	})

	t.Run("RejectsSettledAuction", func(t *testing.T) {
		auction := mustCreateAuction(t, db, sellerID, "100.00", "0.00", time.Now().Add(time.Hour))
		require.NoError(t, db.Model(auction).UpdateColumn("completed_at", time.Now()).Error)
		_, err := engine.CreateAutoBid(ctx, auction.ID, bidderID, d("200.00"))
		assert.ErrorIs(t, err, ErrAuctionClosed)
	})

	t.Run("RejectsSeller", func(t *testing.T) {
		auction := mustCreateAuction(t, db, sellerID, "100.00", "0.00", time.Now().Add(time.Hour))
		_, err := engine.CreateAutoBid(ctx, auction.ID, sellerID, d("200.00"))
		assert.ErrorIs(t, err, ErrOwnAuction)
	})

	t.Run("RejectsCeilingAtOrBelowCurrentPrice", func(t *testing.T) {
		auction := mustCreateAuction(t, db, sellerID, "100.00", "0.00", time.Now().Add(time.Hour))
		_, err := engine.CreateAutoBid(ctx, auction.ID, bidderID, d("100.00"))
		assert.ErrorIs(t, err, ErrCeilingTooLow)
	})

	t.Run("RejectsDuplicateDirective", func(t *testing.T) {
		auction := mustCreateAuction(t, db, sellerID, "100.00", "0.00", time.Now().Add(time.Hour))
		_, err := engine.CreateAutoBid(ctx, auction.ID, bidderID, d("200.00"))
		require.NoError(t, err)
		_, err = engine.CreateAutoBid(ctx, auction.ID, bidderID, d("300.00"))
		assert.ErrorIs(t, err, ErrDuplicateAutoBid)
	})

	t.Run("UnknownAuction", func(t *testing.T) {
		_, err := engine.CreateAutoBid(ctx, uuid.New(), bidderID, d("200.00"))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestResolve_SoleDirective(t *testing.T) {
	engine, db, _, _ := setupEngine(t)
	ctx := context.Background()
	sellerID := mustCreateUser(t, db, "seller")
	bidderID := mustCreateUser(t, db, "bidder")
	auction := mustCreateAuction(t, db, sellerID, "100.00", "0.00", time.Now().Add(time.Hour))

	_, err := engine.CreateAutoBid(ctx, auction.ID, bidderID, d("500.00"))
	require.NoError(t, err)

	// a lone directive takes the lead at one increment and then rests
	bids := bidsByCreation(t, db, auction.ID)
	require.Len(t, bids, 1)
	assert.Equal(t, bidderID, bids[0].UserID)
	assert.True(t, bids[0].Amount.Equal(d("102.50")), "got %s", bids[0].Amount)

	require.NoError(t, engine.Resolve(ctx, auction.ID))
	assert.Len(t, bidsByCreation(t, db, auction.ID), 1, "resolution is idempotent while unchallenged")
}

func TestResolve_ProxyDuel(t *testing.T) {
	engine, db, _, _ := setupEngine(t)
	ctx := context.Background()
	sellerID := mustCreateUser(t, db, "seller")
	alice := mustCreateUser(t, db, "alice")
	bob := mustCreateUser(t, db, "bob")
	auction := mustCreateAuction(t, db, sellerID, "100.00", "0.00", time.Now().Add(time.Hour))

	_, err := engine.CreateAutoBid(ctx, auction.ID, alice, d("200.00"))
	require.NoError(t, err)
	_, err = engine.CreateAutoBid(ctx, auction.ID, bob, d("300.00"))
	require.NoError(t, err)

	bids := bidsByCreation(t, db, auction.ID)
	require.NotEmpty(t, bids)
	final := bids[len(bids)-1]
	assert.Equal(t, bob, final.UserID, "higher ceiling wins the duel")
	// the duel climbs in 2.50 steps until bob lands exactly on alice's
	// ceiling; matching a ceiling is not beating it, so alice drops out
	// and the price never exceeds her limit
	assert.True(t, final.Amount.Equal(d("200.00")),
		"winner pays the rival's exact ceiling, got %s", final.Amount)

	// alice never overshoots her limit
	for _, bid := range bids {
		if bid.UserID == alice {
			assert.True(t, bid.Amount.LessThanOrEqual(d("200.00")), "got %s", bid.Amount)
		}
	}

	require.NoError(t, engine.Resolve(ctx, auction.ID))
	assert.Len(t, bidsByCreation(t, db, auction.ID), len(bids), "duel is settled; nothing more to place")
}

func TestResolve_CeilingBelowMinimumIsConsumed(t *testing.T) {
	engine, db, _, _ := setupEngine(t)
	ctx := context.Background()
	sellerID := mustCreateUser(t, db, "seller")
	bidderID := mustCreateUser(t, db, "bidder")
	auction := mustCreateAuction(t, db, sellerID, "100.00", "0.00", time.Now().Add(time.Hour))

	// 101.00 is under the public minimum of 102.50 but still above the
	// current price, so the directive spends its whole ceiling
	_, err := engine.CreateAutoBid(ctx, auction.ID, bidderID, d("101.00"))
	require.NoError(t, err)

	bids := bidsByCreation(t, db, auction.ID)
	require.Len(t, bids, 1)
	assert.True(t, bids[0].Amount.Equal(d("101.00")), "got %s", bids[0].Amount)
}

func TestResolve_ManualBidTriggersCounter(t *testing.T) {
	engine, db, _, _ := setupEngine(t)
	ctx := context.Background()
	sellerID := mustCreateUser(t, db, "seller")
	proxy := mustCreateUser(t, db, "proxy")
	manual := mustCreateUser(t, db, "manual")
	auction := mustCreateAuction(t, db, sellerID, "100.00", "0.00", time.Now().Add(time.Hour))

	_, err := engine.CreateAutoBid(ctx, auction.ID, proxy, d("500.00"))
	require.NoError(t, err)

	// proxy leads at 102.50; a manual 110.00 provokes a 112.50 counter
	_, err = engine.PlaceBid(ctx, auction.ID, manual, d("110.00"))
	require.NoError(t, err)

	bids := bidsByCreation(t, db, auction.ID)
	final := bids[len(bids)-1]
	assert.Equal(t, proxy, final.UserID)
	assert.True(t, final.Amount.Equal(d("112.50")), "got %s", final.Amount)
}

func TestResolve_EndedAuctionIsNoOp(t *testing.T) {
	engine, db, _, _ := setupEngine(t)
	ctx := context.Background()
	sellerID := mustCreateUser(t, db, "seller")
	bidderID := mustCreateUser(t, db, "bidder")
	auction := mustCreateAuction(t, db, sellerID, "100.00", "0.00", time.Now().Add(-time.Minute))

	mustInsertAutoBid(t, db, auction.ID, bidderID, "500.00")

	require.NoError(t, engine.Resolve(ctx, auction.ID))
	assert.Empty(t, bidsByCreation(t, db, auction.ID))
}

func TestResolve_SettledAuctionIsNoOp(t *testing.T) {
	engine, db, _, _ := setupEngine(t)
	ctx := context.Background()
	sellerID := mustCreateUser(t, db, "seller")
	bidderID := mustCreateUser(t, db, "bidder")
	auction := mustCreateAuction(t, db, sellerID, "100.00", "0.00", time.Now().Add(time.Hour))
	require.NoError(t, db.Model(auction).UpdateColumn("completed_at", time.Now()).Error)

	mustInsertAutoBid(t, db, auction.ID, bidderID, "500.00")

	require.NoError(t, engine.Resolve(ctx, auction.ID))
	assert.Empty(t, bidsByCreation(t, db, auction.ID))
}

func TestResolve_UnknownAuctionIsBenign(t *testing.T) {
	engine, _, _, _ := setupEngine(t)
	assert.NoError(t, engine.Resolve(context.Background(), uuid.New()))
}
