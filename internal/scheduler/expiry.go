// Package scheduler implements the background jobs of the entitlement engine.
//
// The only job today is the expiry sweep: subscription expiry is evaluated
// lazily on every read, and the sweep periodically persists the derived
// EXPIRED status so the stored rows converge with what readers already see.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/Tahye23/servicessms-sub002/internal/config"
)

// ExpirySweepDB defines the database operation the sweep needs; implemented
// by db.SubscriptionRepo.
type ExpirySweepDB interface {
	// SweepExpired marks up to batchLimit ACTIVE or TRIAL rows whose end (or
	// trial end) date has passed as EXPIRED, returning the count updated.
	SweepExpired(ctx context.Context, now time.Time, batchLimit int) (int64, error)
}

// ExpirySweeper persists lazily-derived expiry in bounded batches.
type ExpirySweeper struct {
	db     ExpirySweepDB
	cfg    config.QuotaConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewExpirySweeper creates the sweep job.
func NewExpirySweeper(db ExpirySweepDB, cfg config.QuotaConfig, logger *slog.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		db:     db,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce drains all currently-expired rows, looping in batches so one pass
// never holds row locks on more than a batch at a time. Returns the total
// number of subscriptions expired.
func (s *ExpirySweeper) RunOnce(ctx context.Context) (int64, error) {
	now := s.now()

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := s.db.SweepExpired(ctx, now, s.cfg.ExpirySweepBatchLimit)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(s.cfg.ExpirySweepBatchLimit) {
			break
		}
	}

	if total > 0 {
		s.logger.Info("expired subscriptions swept", "count", total)
	}
	return total, nil
}

// Run loops RunOnce on the configured interval until the context is
// cancelled. A zero interval disables the sweep. Sweep errors are logged and
// the loop keeps going; lazy evaluation on reads covers any gap.
func (s *ExpirySweeper) Run(ctx context.Context) {
	if s.cfg.ExpirySweepInterval <= 0 {
		s.logger.Info("expiry sweep disabled")
		return
	}

	ticker := time.NewTicker(s.cfg.ExpirySweepInterval)
	defer ticker.Stop()

	s.logger.Info("expiry sweep started", "interval", s.cfg.ExpirySweepInterval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweep stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("expiry sweep pass failed", "error", err)
			}
		}
	}
}
