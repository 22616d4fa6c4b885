package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Tahye23/servicessms-sub002/internal/types"
)

// --- IncreaseChannelLimits ---

func TestSubscriptionRepo_IncreaseChannelLimits_Success(t *testing.T) {
	dbx := new(mockDBTX)
	repo := NewSubscriptionRepo(dbx, nil)

	dbx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*types.Limit) = 100 // old sms
			*dest[1].(*types.Limit) = 150 // new sms
			*dest[2].(*types.Limit) = 50  // old whatsapp
			*dest[3].(*types.Limit) = 50  // new whatsapp
			return nil
		}})

	pair, err := repo.IncreaseChannelLimits(context.Background(), 1, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, types.Limit(100), pair.OldSMS)
	assert.Equal(t, types.Limit(150), pair.NewSMS)
	assert.Equal(t, types.Limit(50), pair.OldWhatsapp)
	assert.Equal(t, types.Limit(50), pair.NewWhatsapp)
	dbx.AssertExpectations(t)
}

func TestSubscriptionRepo_IncreaseChannelLimits_NotFound(t *testing.T) {
	dbx := new(mockDBTX)
	repo := NewSubscriptionRepo(dbx, nil)

	dbx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.IncreaseChannelLimits(context.Background(), 999, 10, 0)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundSubscription, appErr.Code)
}

// --- ReplaceChannelLimits ---

func TestSubscriptionRepo_ReplaceChannelLimits_PartialArguments(t *testing.T) {
	dbx := new(mockDBTX)
	repo := NewSubscriptionRepo(dbx, nil)

	// Replacement below current usage is valid: the repo does not inspect
	// counters, remaining simply floors at zero downstream.
	dbx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*types.Limit) = 100
			*dest[1].(*types.Limit) = 20
			*dest[2].(*types.Limit) = 40
			*dest[3].(*types.Limit) = 40 // nil argument leaves whatsapp untouched
			return nil
		}})

	newSMS := int64(20)
	pair, err := repo.ReplaceChannelLimits(context.Background(), 1, &newSMS, nil)
	require.NoError(t, err)
	assert.Equal(t, types.Limit(20), pair.NewSMS)
	assert.Equal(t, types.Limit(40), pair.NewWhatsapp)
}

// --- ConsumeChannel ---

func TestSubscriptionRepo_ConsumeChannel_Success(t *testing.T) {
	dbx := new(mockDBTX)
	repo := NewSubscriptionRepo(dbx, nil)

	dbx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*int64) = 96
			return nil
		}})

	newUsed, err := repo.ConsumeChannel(context.Background(), 1, types.ChannelSMS, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(96), newUsed)
}

func TestSubscriptionRepo_ConsumeChannel_RejectedAtLimit(t *testing.T) {
	dbx := new(mockDBTX)
	repo := NewSubscriptionRepo(dbx, nil)

	// The conditional UPDATE matches no row when the increment would exceed
	// the effective limit; pgx surfaces that as ErrNoRows.
	dbx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.ConsumeChannel(context.Background(), 1, types.ChannelSMS, 10)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeLimitSMS, appErr.Code)
}

func TestSubscriptionRepo_ConsumeChannel_WhatsappErrorCode(t *testing.T) {
	dbx := new(mockDBTX)
	repo := NewSubscriptionRepo(dbx, nil)

	dbx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.ConsumeChannel(context.Background(), 1, types.ChannelWhatsapp, 1)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeLimitWhatsapp, appErr.Code)
}

// --- ConsumeAPICall ---

func TestSubscriptionRepo_ConsumeAPICall_RejectedAtDailyLimit(t *testing.T) {
	dbx := new(mockDBTX)
	repo := NewSubscriptionRepo(dbx, nil)

	dbx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.ConsumeAPICall(context.Background(), 1, time.Now())

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeLimitAPICalls, appErr.Code)
}

// --- OverwriteUsage ---

func TestSubscriptionRepo_OverwriteUsage_ReturnsOldAndNew(t *testing.T) {
	dbx := new(mockDBTX)
	repo := NewSubscriptionRepo(dbx, nil)

	dbx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*int64) = 40 // drifted counter
			*dest[1].(*int64) = 12 // ledger truth
			*dest[2].(*int64) = 0
			*dest[3].(*int64) = 0
			return nil
		}})

	pair, err := repo.OverwriteUsage(context.Background(), 1, 12, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(40), pair.OldSMSUsed)
	assert.Equal(t, int64(12), pair.NewSMSUsed)
}

// --- UpdateStatus ---

func TestSubscriptionRepo_UpdateStatus_Success(t *testing.T) {
	dbx := new(mockDBTX)
	repo := NewSubscriptionRepo(dbx, nil)

	dbx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.UpdateStatus(context.Background(), 1, types.SubStatusActive, types.SubStatusSuspended)
	require.NoError(t, err)
	dbx.AssertExpectations(t)
}

func TestSubscriptionRepo_UpdateStatus_ConcurrentChange(t *testing.T) {
	dbx := new(mockDBTX)
	repo := NewSubscriptionRepo(dbx, nil)

	// Zero rows affected means the guard status no longer matched.
	dbx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.UpdateStatus(context.Background(), 1, types.SubStatusActive, types.SubStatusSuspended)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeConflictConcurrent, appErr.Code)
}

// --- SweepExpired ---

func TestSubscriptionRepo_SweepExpired_ReturnsCount(t *testing.T) {
	dbx := new(mockDBTX)
	repo := NewSubscriptionRepo(dbx, nil)

	dbx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 7"), nil)

	n, err := repo.SweepExpired(context.Background(), time.Now(), 200)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

// --- Create ---

func TestSubscriptionRepo_Create_NormalizesBeforeInsert(t *testing.T) {
	dbx := new(mockDBTX)
	repo := NewSubscriptionRepo(dbx, nil)

	dbx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*int64) = 42
			*dest[1].(*time.Time) = time.Now()
			*dest[2].(*time.Time) = time.Now()
			return nil
		}})

	sub := &types.Subscription{
		UserID:    7,
		UserLogin: "alice",
		Status:    types.SubStatusActive,
		Source:    types.PlanRef(1),
		Limits:    types.PlanLimits{SMS: 100, Whatsapp: 50},
		StartDate: time.Now(),
		// Stale amount alongside a disabled flag; Create must clear it.
		BonusSMSEnabled: false,
		BonusSMSAmount:  25,
	}

	created, err := repo.Create(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, int64(42), created.ID)
	assert.Zero(t, created.BonusSMSAmount)
}

func TestSubscriptionRepo_Create_RejectsInvalidSource(t *testing.T) {
	dbx := new(mockDBTX)
	repo := NewSubscriptionRepo(dbx, nil)

	sub := &types.Subscription{
		UserID:    7,
		UserLogin: "alice",
		Status:    types.SubStatusActive,
		StartDate: time.Now(),
		// Source left zero-valued: neither plan nor custom.
	}

	_, err := repo.Create(context.Background(), sub)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeConflictLimitSource, appErr.Code)
	dbx.AssertNotCalled(t, "QueryRow")
}
