package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tahye23/servicessms-sub002/internal/types"
)

type mockStore struct {
	sumByChannelFn    func(ctx context.Context, userID int64, from, to time.Time) (types.UsageByChannel, error)
	sumSuccessSinceFn func(ctx context.Context, userID int64, since time.Time) (map[types.Channel]int64, error)
}

func (m *mockStore) SumByChannel(ctx context.Context, userID int64, from, to time.Time) (types.UsageByChannel, error) {
	return m.sumByChannelFn(ctx, userID, from, to)
}

func (m *mockStore) SumSuccessSince(ctx context.Context, userID int64, since time.Time) (map[types.Channel]int64, error) {
	return m.sumSuccessSinceFn(ctx, userID, since)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReader_Stats(t *testing.T) {
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 30, 23, 59, 59, 0, time.UTC)

	t.Run("returns aggregated channels with range echoed", func(t *testing.T) {
		reader := NewReader(&mockStore{
			sumByChannelFn: func(ctx context.Context, userID int64, gotFrom, gotTo time.Time) (types.UsageByChannel, error) {
				assert.Equal(t, int64(12), userID)
				return types.UsageByChannel{
					types.ChannelSMS:      {Success: 40, Failed: 2, Total: 42},
					types.ChannelWhatsapp: {},
				}, nil
			},
		}, testLogger())

		stats, err := reader.Stats(context.Background(), 12, from, to)

		require.NoError(t, err)
		assert.Equal(t, from, stats.StartDate)
		assert.Equal(t, to, stats.EndDate)
		assert.Equal(t, int64(40), stats.Channels[types.ChannelSMS].Success)
	})

	t.Run("maps storage failure to upstream ledger code", func(t *testing.T) {
		reader := NewReader(&mockStore{
			sumByChannelFn: func(ctx context.Context, userID int64, from, to time.Time) (types.UsageByChannel, error) {
				return nil, types.NewAppError(types.ErrCodeInternalDB, "query failed", nil)
			},
		}, testLogger())

		_, err := reader.Stats(context.Background(), 12, from, to)

		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, types.ErrCodeUpstreamLedger, appErr.Code)
	})
}

func TestReader_SuccessSince(t *testing.T) {
	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	reader := NewReader(&mockStore{
		sumSuccessSinceFn: func(ctx context.Context, userID int64, gotSince time.Time) (map[types.Channel]int64, error) {
			assert.Equal(t, since, gotSince)
			return map[types.Channel]int64{
				types.ChannelSMS:      7,
				types.ChannelWhatsapp: 0,
			}, nil
		},
	}, testLogger())

	counts, err := reader.SuccessSince(context.Background(), 12, since)

	require.NoError(t, err)
	assert.Equal(t, int64(7), counts[types.ChannelSMS])
	assert.Equal(t, int64(0), counts[types.ChannelWhatsapp])
}

func TestReader_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	reader := NewReader(&mockStore{
		sumSuccessSinceFn: func(ctx context.Context, userID int64, since time.Time) (map[types.Channel]int64, error) {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "query failed", nil)
		},
	}, testLogger())

	// Trip threshold is more than five consecutive failures.
	for i := 0; i < 6; i++ {
		_, err := reader.SuccessSince(context.Background(), 12, time.Now())
		require.Error(t, err)
	}

	_, err := reader.SuccessSince(context.Background(), 12, time.Now())

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamLedger, appErr.Code)
	assert.Contains(t, appErr.Message, "suspended")
}

func TestReader_BreakersAreIndependent(t *testing.T) {
	store := &mockStore{
		sumByChannelFn: func(ctx context.Context, userID int64, from, to time.Time) (types.UsageByChannel, error) {
			return types.UsageByChannel{}, nil
		},
		sumSuccessSinceFn: func(ctx context.Context, userID int64, since time.Time) (map[types.Channel]int64, error) {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "query failed", nil)
		},
	}
	reader := NewReader(store, testLogger())

	for i := 0; i < 6; i++ {
		_, _ = reader.SuccessSince(context.Background(), 12, time.Now())
	}

	// The stats path still works while the success path is tripped.
	_, err := reader.Stats(context.Background(), 12, time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
}
