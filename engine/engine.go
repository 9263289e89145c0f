// Package engine implements the auction bidding and settlement engine:
// the transactional bid ledger, the proxy-bid resolver and the
// settlement lifecycle. All mutation of an auction and its owned bids
// goes through a transaction holding that auction's row lock, so bid
// acceptance, proxy resolution and settlement are strictly serialized
// per auction.
package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gavel/models"
)

type Engine struct {
	db     *gorm.DB
	logger *slog.Logger

	// sink receives every event; external additionally receives
	// completion events for the external-system feed.
	sink     Sink
	external Sink

	rowLocks bool
}

type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEventSink sets the notification sink for all engine events.
func WithEventSink(sink Sink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithExternalSink sets the external-system feed, which receives only
// auction completion events.
func WithExternalSink(sink Sink) Option {
	return func(e *Engine) {
		e.external = sink
	}
}

// WithoutRowLocks disables SELECT ... FOR UPDATE clauses, for
// single-writer stores with no row-lock syntax. Transactions on such a
// store are serialized by the store itself.
func WithoutRowLocks() Option {
	return func(e *Engine) {
		e.rowLocks = false
	}
}

func New(db *gorm.DB, opts ...Option) *Engine {
	engine := &Engine{
		db:       db,
		logger:   slog.Default(),
		sink:     NopSink{},
		external: NopSink{},
		rowLocks: true,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// emit publishes events collected during a committed transaction.
// Publish failures are logged, never propagated: delivery is the
// collaborators' problem, and the state change already happened.
func (e *Engine) emit(events []Event) {
	for _, event := range events {
		if err := e.sink.Publish(event); err != nil {
			e.logger.Error("Fail to publish event", slog.String("kind", event.Kind), slog.String("auctionID", event.AuctionID), slog.Any("error", err))
		}
		if event.Kind != EventAuctionCompleted {
			continue
		}
		if err := e.external.Publish(event); err != nil {
			e.logger.Error("Fail to publish event to external feed", slog.String("kind", event.Kind), slog.String("auctionID", event.AuctionID), slog.Any("error", err))
		}
	}
}

// forUpdate locks the selected rows for the rest of the transaction,
// unless row locks were disabled at construction.
func (e *Engine) forUpdate(tx *gorm.DB, options string) *gorm.DB {
	if !e.rowLocks {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: options})
}

// lockAuction reads the auction row under an exclusive lock, blocking
// behind any concurrent writer of the same auction.
func (e *Engine) lockAuction(tx *gorm.DB, auctionID uuid.UUID) (*models.Auction, error) {
	var auction models.Auction
	if result := e.forUpdate(tx, "").First(&auction, "id = ?", auctionID); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock auction %s: %w", auctionID, result.Error)
	}
	return &auction, nil
}

// lockAuctionNoWait is lockAuction without blocking: a row held by a
// concurrent operation yields ErrBusy instead of waiting.
func (e *Engine) lockAuctionNoWait(tx *gorm.DB, auctionID uuid.UUID) (*models.Auction, error) {
	var auction models.Auction
	if result := e.forUpdate(tx, clause.LockingOptionsNoWait).First(&auction, "id = ?", auctionID); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(result.Error, &pgErr) && pgErr.Code == "55P03" { // lock_not_available
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("lock auction %s: %w", auctionID, result.Error)
	}
	return &auction, nil
}
