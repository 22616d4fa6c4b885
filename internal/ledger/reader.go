// Package ledger reads the append-only send ledger through a circuit breaker.
// The ledger lives in the messaging pipeline's tables; when those reads start
// failing, the breaker keeps reconcile and stats traffic from hammering a
// struggling database while quota enforcement continues on cached counters.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/Tahye23/servicessms-sub002/internal/types"
)

// Store is the aggregation surface this reader wraps; implemented by
// db.LedgerRepo.
type Store interface {
	SumByChannel(ctx context.Context, userID int64, from, to time.Time) (types.UsageByChannel, error)
	SumSuccessSince(ctx context.Context, userID int64, since time.Time) (map[types.Channel]int64, error)
}

// Reader is the breaker-guarded ledger read service.
type Reader struct {
	store   Store
	logger  *slog.Logger
	usageCB *gobreaker.CircuitBreaker[types.UsageByChannel]
	countCB *gobreaker.CircuitBreaker[map[types.Channel]int64]
}

// NewReader creates a Reader over the given store. Both read paths share the
// same trip policy but count failures independently.
func NewReader(store Store, logger *slog.Logger) *Reader {
	return &Reader{
		store:   store,
		logger:  logger,
		usageCB: gobreaker.NewCircuitBreaker[types.UsageByChannel](breakerSettings("ledger-usage", logger)),
		countCB: gobreaker.NewCircuitBreaker[map[types.Channel]int64](breakerSettings("ledger-success", logger)),
	}
}

func breakerSettings(name string, logger *slog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("ledger breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	}
}

// Stats aggregates send outcomes per channel for one user over a date range.
func (r *Reader) Stats(ctx context.Context, userID int64, from, to time.Time) (*types.SendStats, error) {
	usage, err := r.usageCB.Execute(func() (types.UsageByChannel, error) {
		return r.store.SumByChannel(ctx, userID, from, to)
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return &types.SendStats{
		StartDate: from,
		EndDate:   to,
		Channels:  usage,
	}, nil
}

// SuccessSince returns the per-channel count of successful sends since the
// given instant. This is the reconciliation input of recalculate.
func (r *Reader) SuccessSince(ctx context.Context, userID int64, since time.Time) (map[types.Channel]int64, error) {
	counts, err := r.countCB.Execute(func() (map[types.Channel]int64, error) {
		return r.store.SumSuccessSince(ctx, userID, since)
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return counts, nil
}

// mapLedgerError keeps domain errors intact and folds breaker and storage
// failures into the upstream ledger code so callers can tell "the ledger is
// down" apart from their own bad input.
func mapLedgerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeUpstreamLedger,
			"ledger reads suspended; too many recent failures", err)
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code == types.ErrCodeInternalDB {
		return types.NewAppError(types.ErrCodeUpstreamLedger, "ledger read failed", err)
	}
	return err
}
