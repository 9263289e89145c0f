package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"gavel/models"
)

// Event kinds emitted by the engine.
const (
	EventBidPlaced        = "bid_placed"
	EventOutbid           = "outbid"
	EventAuctionCompleted = "auction_completed"
)

// Event is the structured payload handed to notification collaborators.
// It is opaque to the engine's consumers; delivery reliability (retry,
// backoff) is their responsibility, not the engine's.
type Event struct {
	Kind          string     `json:"event" msgpack:"event"`
	AuctionID     string     `json:"auctionID" msgpack:"auctionID"`
	BidID         *string    `json:"bidID,omitempty" msgpack:"bidID,omitempty"`
	BidderID      *string    `json:"bidderID,omitempty" msgpack:"bidderID,omitempty"`
	Amount        *string    `json:"amount,omitempty" msgpack:"amount,omitempty"`
	WinnerID      *string    `json:"winnerID,omitempty" msgpack:"winnerID,omitempty"`
	WinningAmount *string    `json:"winningAmount,omitempty" msgpack:"winningAmount,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty" msgpack:"completedAt,omitempty"`
	OccurredAt    time.Time  `json:"occurredAt" msgpack:"occurredAt"`
}

// Sink receives engine events after the producing transaction commits.
// Implementations must not block: publishing is fire-and-forget from the
// engine's point of view.
type Sink interface {
	Publish(event Event) error
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Publish(Event) error { return nil }

func newBidPlacedEvent(bid *models.Bid) Event {
	return Event{
		Kind:       EventBidPlaced,
		AuctionID:  bid.AuctionID.String(),
		BidID:      lo.ToPtr(bid.ID.String()),
		BidderID:   lo.ToPtr(bid.UserID.String()),
		Amount:     lo.ToPtr(bid.Amount.StringFixed(2)),
		OccurredAt: bid.CreatedAt,
	}
}

func newOutbidEvent(auctionID, bidderID uuid.UUID, now time.Time) Event {
	return Event{
		Kind:       EventOutbid,
		AuctionID:  auctionID.String(),
		BidderID:   lo.ToPtr(bidderID.String()),
		OccurredAt: now,
	}
}

func newAuctionCompletedEvent(auctionID uuid.UUID, winningBid *models.Bid, completedAt time.Time) Event {
	event := Event{
		Kind:        EventAuctionCompleted,
		AuctionID:   auctionID.String(),
		CompletedAt: lo.ToPtr(completedAt),
		OccurredAt:  completedAt,
	}
	if winningBid != nil {
		event.WinnerID = lo.ToPtr(winningBid.UserID.String())
		event.WinningAmount = lo.ToPtr(winningBid.Amount.StringFixed(2))
	}
	return event
}
