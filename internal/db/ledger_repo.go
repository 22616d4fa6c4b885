package db

import (
	"context"
	"time"

	"github.com/Tahye23/servicessms-sub002/internal/types"
)

// LedgerRepo provides read-only aggregation over the usage_records table, the
// append-only ground truth of message-send attempts. The engine never writes
// send events; it only reads them (the user_login backfill in MigrationRepo
// is the single, narrow exception).
type LedgerRepo struct {
	db DBTX
}

// NewLedgerRepo creates a LedgerRepo backed by the given database connection
// (pool or transaction).
func NewLedgerRepo(db DBTX) *LedgerRepo {
	return &LedgerRepo{db: db}
}

// SumByChannel aggregates send outcomes per channel for one user over the
// given time range. Channels with no rows are returned zero-filled, never as
// an error.
func (r *LedgerRepo) SumByChannel(ctx context.Context, userID int64, from, to time.Time) (types.UsageByChannel, error) {
	rows, err := r.db.Query(ctx, `SELECT channel,
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*)
		FROM usage_records
		WHERE user_id = $1
		  AND created_date >= $2
		  AND created_date <= $3
		GROUP BY channel`,
		userID, from, to)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to sum ledger by channel", err)
	}
	defer rows.Close()

	result := zeroFilledUsage()
	for rows.Next() {
		var (
			ch     types.Channel
			counts types.ChannelCounts
		)
		if err := rows.Scan(&ch, &counts.Success, &counts.Failed, &counts.Pending, &counts.Total); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan ledger aggregate row", err)
		}
		result[ch] = counts
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating ledger aggregate rows", err)
	}

	return result, nil
}

// SumSuccessSince returns the successful send count per channel for one user
// since the given instant. This is the reconciliation input of recalculate:
// only success consumes quota, so failed and pending rows are excluded.
func (r *LedgerRepo) SumSuccessSince(ctx context.Context, userID int64, since time.Time) (map[types.Channel]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT channel, COUNT(*)
		FROM usage_records
		WHERE user_id = $1
		  AND status = 'success'
		  AND created_date >= $2
		GROUP BY channel`,
		userID, since)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to sum successful sends", err)
	}
	defer rows.Close()

	result := map[types.Channel]int64{
		types.ChannelSMS:      0,
		types.ChannelWhatsapp: 0,
	}
	for rows.Next() {
		var (
			ch    types.Channel
			count int64
		)
		if err := rows.Scan(&ch, &count); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan success count row", err)
		}
		result[ch] = count
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating success count rows", err)
	}

	return result, nil
}

func zeroFilledUsage() types.UsageByChannel {
	usage := make(types.UsageByChannel, len(types.Channels))
	for _, ch := range types.Channels {
		usage[ch] = types.ChannelCounts{}
	}
	return usage
}
