// Package scheduler owns the process-wide settlement timers: a periodic
// sweep over every auction past its end time, plus an optional one-shot
// timer per auction as a fast path. Both may race to settle the same
// auction; that is safe because settlement is idempotent.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Settler is the slice of the engine the scheduler drives.
type Settler interface {
	PendingSettlement(ctx context.Context) ([]uuid.UUID, error)
	Settle(ctx context.Context, auctionID uuid.UUID) error
}

const defaultSweepInterval = 5 * time.Minute

type options struct {
	logger        *slog.Logger
	sweepInterval time.Duration
}

type Option func(*options)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSweepInterval overrides the periodic sweep interval.
func WithSweepInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.sweepInterval = interval
		}
	}
}

type Scheduler struct {
	settler    Settler
	logger     *slog.Logger
	interval   time.Duration
	cancelFunc context.CancelFunc
	ctx        context.Context
	wg         sync.WaitGroup
	closed     bool
	mu         sync.Mutex
}

func New(settler Settler, opts ...Option) *Scheduler {
	o := options{
		logger:        slog.Default(),
		sweepInterval: defaultSweepInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Scheduler{
		settler:  settler,
		logger:   o.logger.With(slog.String("caller", "Scheduler")),
		interval: o.sweepInterval,
		closed:   true,
	}
}

// Start launches the periodic sweep. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return
	}
	s.ctx, s.cancelFunc = context.WithCancel(context.Background())
	s.closed = false
	s.logger.Info("Start settlement sweep", slog.Duration("interval", s.interval))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("Settlement sweep stopped")
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		// settle whatever was missed while the process was down
		s.sweep(s.ctx)
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.sweep(s.ctx)
			}
		}
	}()
}

// ScheduleSettlement arms a one-shot timer that settles the auction at
// its exact end time. The timer is best effort: it dies with the
// process and cannot be cancelled when an auction is deleted, both of
// which the sweep and the idempotent settle absorb.
func (s *Scheduler) ScheduleSettlement(auctionID uuid.UUID, endsAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(time.Until(endsAt))
		defer timer.Stop()
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}
		if err := s.settler.Settle(s.ctx, auctionID); err != nil {
			s.logger.Error("Fail to settle auction on its end timer", slog.String("auctionID", auctionID.String()), slog.Any("error", err))
		}
	}()
}

// Close stops the sweep and any armed one-shot timers, waiting for
// in-flight settlements to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancelFunc()
	s.mu.Unlock()
	s.wg.Wait()
}

// sweep settles every pending auction independently: an error on one
// auction never aborts the others.
func (s *Scheduler) sweep(ctx context.Context) {
	pending, err := s.settler.PendingSettlement(ctx)
	if err != nil {
		s.logger.Error("Fail to list pending auctions", slog.Any("error", err))
		return
	}
	for _, auctionID := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := s.settler.Settle(ctx, auctionID); err != nil {
			s.logger.Error("Fail to settle auction in sweep", slog.String("auctionID", auctionID.String()), slog.Any("error", err))
		}
	}
}
