package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Tahye23/servicessms-sub002/internal/types"
)

// SubscriptionRepo provides data access for the subscriptions table.
//
// Key invariants enforced at the storage layer:
//   - Channel usage increments go through ConsumeChannel, a conditional
//     atomic UPDATE that is the authoritative gate against the effective
//     limit. Application-level read-modify-write of counters is forbidden.
//   - Limit increases go through IncreaseChannelLimits, a single UPDATE that
//     cannot lose concurrent increments.
//   - Every write path re-applies the disabled-adjustment normalization so a
//     stale bonus/carry-over amount never persists alongside enabled=false.
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepo creates a SubscriptionRepo backed by the given database
// connection (pool or transaction).
func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

const subscriptionColumns = `id, user_id, user_login, status, plan_id, custom_plan,
	sms_limit, whatsapp_limit, users_limit, templates_limit, api_calls_limit, storage_limit_mb,
	start_date, end_date,
	sms_used, whatsapp_used, api_calls_used_today, last_api_call_date, storage_used_mb,
	bonus_sms_enabled, bonus_sms_amount, bonus_whatsapp_enabled, bonus_whatsapp_amount,
	allow_sms_carryover, carried_over_sms, allow_whatsapp_carryover, carried_over_whatsapp,
	is_trial, trial_end_date,
	payment_method, transaction_id, auto_renew,
	created_date, updated_date`

// ListByLogin returns every subscription owned by the given user login,
// newest first. Returns an empty slice (not an error) for unknown logins;
// callers decide whether that is a not-found condition.
func (r *SubscriptionRepo) ListByLogin(ctx context.Context, userLogin string) ([]*types.Subscription, error) {
	rows, err := r.db.Query(ctx, `SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_login = $1
		ORDER BY created_date DESC, id DESC`, userLogin)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list subscriptions by login", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// ListByUserID returns every subscription owned by the given user id.
func (r *SubscriptionRepo) ListByUserID(ctx context.Context, userID int64) ([]*types.Subscription, error) {
	rows, err := r.db.Query(ctx, `SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_date DESC, id DESC`, userID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list subscriptions by user id", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// GetByID returns the subscription with the given id.
func (r *SubscriptionRepo) GetByID(ctx context.Context, id int64) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx, `SELECT `+subscriptionColumns+`
		FROM subscriptions WHERE id = $1`, id)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get subscription", err)
	}
	return sub, nil
}

// Create inserts a new subscription after normalizing adjustments and
// checking structural invariants. The stored row receives the resolved limit
// snapshot carried on the value.
func (r *SubscriptionRepo) Create(ctx context.Context, sub *types.Subscription) (*types.Subscription, error) {
	sub.Normalize()
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	planID, custom := limitSourceColumns(sub.Source)

	row := r.db.QueryRow(ctx, `INSERT INTO subscriptions (
			user_id, user_login, status, plan_id, custom_plan,
			sms_limit, whatsapp_limit, users_limit, templates_limit, api_calls_limit, storage_limit_mb,
			start_date, end_date,
			sms_used, whatsapp_used, api_calls_used_today, last_api_call_date, storage_used_mb,
			bonus_sms_enabled, bonus_sms_amount, bonus_whatsapp_enabled, bonus_whatsapp_amount,
			allow_sms_carryover, carried_over_sms, allow_whatsapp_carryover, carried_over_whatsapp,
			is_trial, trial_end_date,
			payment_method, transaction_id, auto_renew,
			created_date, updated_date
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13,
			$14, $15, $16, $17, $18,
			$19, $20, $21, $22,
			$23, $24, $25, $26,
			$27, $28,
			$29, $30, $31,
			NOW(), NOW()
		) RETURNING id, created_date, updated_date`,
		sub.UserID, sub.UserLogin, sub.Status, planID, custom,
		sub.Limits.SMS, sub.Limits.Whatsapp, sub.Limits.Users, sub.Limits.Templates,
		sub.Limits.APICallsPerDay, sub.Limits.StorageMB,
		sub.StartDate, sub.EndDate,
		sub.SMSUsed, sub.WhatsappUsed, sub.APICallsUsedToday, sub.LastAPICallDate, sub.StorageUsedMB,
		sub.BonusSMSEnabled, sub.BonusSMSAmount, sub.BonusWhatsappEnabled, sub.BonusWhatsappAmount,
		sub.AllowSMSCarryover, sub.CarriedOverSMS, sub.AllowWhatsappCarryover, sub.CarriedOverWhatsapp,
		sub.IsTrial, sub.TrialEndDate,
		sub.PaymentMethod, sub.TransactionID, sub.AutoRenew,
	)

	if err := row.Scan(&sub.ID, &sub.CreatedDate, &sub.UpdatedDate); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create subscription", err)
	}
	return sub, nil
}

// LimitPair carries the atomic old/new channel limits returned by the limit
// mutation primitives.
type LimitPair struct {
	OldSMS      types.Limit
	NewSMS      types.Limit
	OldWhatsapp types.Limit
	NewWhatsapp types.Limit
}

// IncreaseChannelLimits adds the given non-negative deltas to the channel
// limit columns in one statement and returns the old and new values. The
// self-join makes the old/new pair atomic: two concurrent increases both
// land, and each caller sees the state its own increment applied to.
// Unlimited limits absorb the delta unchanged.
func (r *SubscriptionRepo) IncreaseChannelLimits(ctx context.Context, subID int64, smsDelta, whatsappDelta int64) (*LimitPair, error) {
	row := r.db.QueryRow(ctx, `UPDATE subscriptions s
		SET sms_limit = CASE WHEN s.sms_limit < 0 THEN s.sms_limit ELSE s.sms_limit + $2 END,
		    whatsapp_limit = CASE WHEN s.whatsapp_limit < 0 THEN s.whatsapp_limit ELSE s.whatsapp_limit + $3 END,
		    updated_date = NOW()
		FROM (SELECT id, sms_limit, whatsapp_limit FROM subscriptions WHERE id = $1 FOR UPDATE) old
		WHERE s.id = old.id
		RETURNING old.sms_limit, s.sms_limit, old.whatsapp_limit, s.whatsapp_limit`,
		subID, smsDelta, whatsappDelta)

	var p LimitPair
	if err := row.Scan(&p.OldSMS, &p.NewSMS, &p.OldWhatsapp, &p.NewWhatsapp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to increase channel limits", err)
	}
	return &p, nil
}

// ReplaceChannelLimits replaces the channel limit columns with the provided
// values, leaving nil arguments untouched. Replacement never modifies usage
// counters: a new limit below current usage is valid and simply leaves zero
// remaining.
func (r *SubscriptionRepo) ReplaceChannelLimits(ctx context.Context, subID int64, newSMS, newWhatsapp *int64) (*LimitPair, error) {
	row := r.db.QueryRow(ctx, `UPDATE subscriptions s
		SET sms_limit = COALESCE($2, s.sms_limit),
		    whatsapp_limit = COALESCE($3, s.whatsapp_limit),
		    updated_date = NOW()
		FROM (SELECT id, sms_limit, whatsapp_limit FROM subscriptions WHERE id = $1 FOR UPDATE) old
		WHERE s.id = old.id
		RETURNING old.sms_limit, s.sms_limit, old.whatsapp_limit, s.whatsapp_limit`,
		subID, newSMS, newWhatsapp)

	var p LimitPair
	if err := row.Scan(&p.OldSMS, &p.NewSMS, &p.OldWhatsapp, &p.NewWhatsapp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to replace channel limits", err)
	}
	return &p, nil
}

// UsagePair carries the atomic old/new usage counters returned by
// OverwriteUsage.
type UsagePair struct {
	OldSMSUsed      int64
	NewSMSUsed      int64
	OldWhatsappUsed int64
	NewWhatsappUsed int64
}

// OverwriteUsage replaces both channel usage counters with ledger-derived
// values. Used exclusively by the recalculate repair operation.
func (r *SubscriptionRepo) OverwriteUsage(ctx context.Context, subID int64, smsUsed, whatsappUsed int64) (*UsagePair, error) {
	row := r.db.QueryRow(ctx, `UPDATE subscriptions s
		SET sms_used = $2,
		    whatsapp_used = $3,
		    updated_date = NOW()
		FROM (SELECT id, sms_used, whatsapp_used FROM subscriptions WHERE id = $1 FOR UPDATE) old
		WHERE s.id = old.id
		RETURNING old.sms_used, s.sms_used, old.whatsapp_used, s.whatsapp_used`,
		subID, smsUsed, whatsappUsed)

	var p UsagePair
	if err := row.Scan(&p.OldSMSUsed, &p.NewSMSUsed, &p.OldWhatsappUsed, &p.NewWhatsappUsed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to overwrite usage counters", err)
	}
	return &p, nil
}

// ConsumeChannel atomically increments the channel usage counter, but only
// when the new total stays within the effective limit (base + enabled bonus +
// enabled carry-over) or the limit is unlimited. This is the authoritative
// commit-time gate: CanConsume checks done before enqueueing a send are
// advisory only. Returns the new counter value, or a limit_* error when the
// increment was rejected -- an expected outcome, never logged as a failure.
func (r *SubscriptionRepo) ConsumeChannel(ctx context.Context, subID int64, ch types.Channel, amount int64) (int64, error) {
	var query string
	if ch == types.ChannelWhatsapp {
		query = `UPDATE subscriptions
			SET whatsapp_used = whatsapp_used + $2, updated_date = NOW()
			WHERE id = $1
			  AND (whatsapp_limit < 0
			       OR whatsapp_used + $2 <= whatsapp_limit
			          + CASE WHEN bonus_whatsapp_enabled THEN bonus_whatsapp_amount ELSE 0 END
			          + CASE WHEN allow_whatsapp_carryover THEN carried_over_whatsapp ELSE 0 END)
			RETURNING whatsapp_used`
	} else {
		query = `UPDATE subscriptions
			SET sms_used = sms_used + $2, updated_date = NOW()
			WHERE id = $1
			  AND (sms_limit < 0
			       OR sms_used + $2 <= sms_limit
			          + CASE WHEN bonus_sms_enabled THEN bonus_sms_amount ELSE 0 END
			          + CASE WHEN allow_sms_carryover THEN carried_over_sms ELSE 0 END)
			RETURNING sms_used`
	}

	var newUsed int64
	if err := r.db.QueryRow(ctx, query, subID, amount).Scan(&newUsed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the row does not exist or the increment would exceed
			// the effective limit. Both reject the send.
			return 0, limitExceededError(ch)
		}
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to consume channel quota", err)
	}
	return newUsed, nil
}

// ConsumeAPICall atomically increments the daily API call counter with a lazy
// reset: when the stored last_api_call_date is before today's UTC date, the
// counter restarts at 1. The increment is rejected once the daily limit is
// reached.
func (r *SubscriptionRepo) ConsumeAPICall(ctx context.Context, subID int64, now time.Time) (int, error) {
	today := now.UTC().Truncate(24 * time.Hour)

	var newCount int
	err := r.db.QueryRow(ctx, `UPDATE subscriptions
		SET api_calls_used_today = CASE
				WHEN last_api_call_date IS NULL OR last_api_call_date < $2 THEN 1
				ELSE api_calls_used_today + 1 END,
		    last_api_call_date = $3,
		    updated_date = NOW()
		WHERE id = $1
		  AND (api_calls_limit < 0
		       OR CASE
				WHEN last_api_call_date IS NULL OR last_api_call_date < $2 THEN 1
				ELSE api_calls_used_today + 1 END <= api_calls_limit)
		RETURNING api_calls_used_today`,
		subID, today, now.UTC()).Scan(&newCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, types.NewAppError(types.ErrCodeLimitAPICalls, "daily API call limit reached", nil)
		}
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to consume API call quota", err)
	}
	return newCount, nil
}

// UpdateStatus transitions the subscription's lifecycle status. The expected
// current status guards the write: a zero rows-affected result means another
// writer got there first and the caller must re-read before retrying.
func (r *SubscriptionRepo) UpdateStatus(ctx context.Context, subID int64, from, to types.SubscriptionStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE subscriptions
		SET status = $3, updated_date = NOW()
		WHERE id = $1 AND status = $2`,
		subID, from, to)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictConcurrent,
			"subscription status changed concurrently; re-read and retry", nil)
	}
	return nil
}

// UpdateResolvedLimits re-copies a limit snapshot onto the subscription row.
// Used by the explicit plan re-resolve operation; never triggered by catalog
// edits on their own.
func (r *SubscriptionRepo) UpdateResolvedLimits(ctx context.Context, subID int64, limits types.PlanLimits) error {
	tag, err := r.db.Exec(ctx, `UPDATE subscriptions
		SET sms_limit = $2, whatsapp_limit = $3, users_limit = $4,
		    templates_limit = $5, api_calls_limit = $6, storage_limit_mb = $7,
		    updated_date = NOW()
		WHERE id = $1`,
		subID, limits.SMS, limits.Whatsapp, limits.Users,
		limits.Templates, limits.APICallsPerDay, limits.StorageMB)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update resolved limits", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
	}
	return nil
}

// SweepExpired persists the derived EXPIRED status for subscriptions whose
// end date (or trial end date, while still in trial) has passed. The batch
// limit keeps each pass short so live traffic is never blocked behind a long
// scan. Returns the number of rows transitioned.
func (r *SubscriptionRepo) SweepExpired(ctx context.Context, now time.Time, batchLimit int) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE subscriptions
		SET status = $3, updated_date = NOW()
		WHERE id IN (
			SELECT id FROM subscriptions
			WHERE status NOT IN ($3, $4)
			  AND ((end_date IS NOT NULL AND end_date < $1)
			       OR (status = $5 AND trial_end_date IS NOT NULL AND trial_end_date < $1))
			LIMIT $2
		)`,
		now.UTC(), batchLimit,
		types.SubStatusExpired, types.SubStatusCancelled, types.SubStatusTrial)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to sweep expired subscriptions", err)
	}
	return tag.RowsAffected(), nil
}

func limitExceededError(ch types.Channel) *types.AppError {
	if ch == types.ChannelWhatsapp {
		return types.NewAppError(types.ErrCodeLimitWhatsapp, "whatsapp quota exhausted", nil)
	}
	return types.NewAppError(types.ErrCodeLimitSMS, "sms quota exhausted", nil)
}

func limitSourceColumns(src types.LimitSource) (planID *int64, custom *types.CustomLimits) {
	if id, ok := src.PlanID(); ok {
		planID = &id
	}
	if cl, ok := src.Custom(); ok {
		custom = &cl
	}
	return planID, custom
}

func collectSubscriptions(rows pgx.Rows) ([]*types.Subscription, error) {
	var subs []*types.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan subscription row", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating subscription rows", err)
	}
	return subs, nil
}

func scanSubscription(row rowScanner) (*types.Subscription, error) {
	var (
		sub    types.Subscription
		planID *int64
		custom *types.CustomLimits
	)
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.UserLogin, &sub.Status, &planID, &custom,
		&sub.Limits.SMS, &sub.Limits.Whatsapp, &sub.Limits.Users, &sub.Limits.Templates,
		&sub.Limits.APICallsPerDay, &sub.Limits.StorageMB,
		&sub.StartDate, &sub.EndDate,
		&sub.SMSUsed, &sub.WhatsappUsed, &sub.APICallsUsedToday, &sub.LastAPICallDate, &sub.StorageUsedMB,
		&sub.BonusSMSEnabled, &sub.BonusSMSAmount, &sub.BonusWhatsappEnabled, &sub.BonusWhatsappAmount,
		&sub.AllowSMSCarryover, &sub.CarriedOverSMS, &sub.AllowWhatsappCarryover, &sub.CarriedOverWhatsapp,
		&sub.IsTrial, &sub.TrialEndDate,
		&sub.PaymentMethod, &sub.TransactionID, &sub.AutoRenew,
		&sub.CreatedDate, &sub.UpdatedDate,
	)
	if err != nil {
		return nil, err
	}

	switch {
	case custom != nil:
		sub.Source = types.CustomPlan(*custom)
	case planID != nil:
		sub.Source = types.PlanRef(*planID)
	}
	return &sub, nil
}
