package types

import "time"

// ChannelQuotaView is the per-channel projection of a subscription's
// entitlement: resolved limit, consumption, and derived remaining capacity.
// Limit and Remaining carry the Unlimited sentinel (-1) through to clients.
type ChannelQuotaView struct {
	Channel      Channel `json:"channel"`
	Limit        Limit   `json:"limit"`
	Used         int64   `json:"used"`
	Remaining    Limit   `json:"remaining"`
	UsagePercent float64 `json:"usage_percent"`
	CanSend      bool    `json:"can_send"`
}

// SubscriptionQuotaView is the read-only projection of one subscription
// returned by the view-quota operation.
type SubscriptionQuotaView struct {
	SubscriptionID int64                        `json:"subscription_id"`
	PlanName       string                       `json:"plan_name"`
	Status         SubscriptionStatus           `json:"status"`
	IsCustomPlan   bool                         `json:"is_custom_plan"`
	Channels       map[Channel]ChannelQuotaView `json:"channels"`
}

// QuotaReport aggregates the quota views of every subscription a user holds.
type QuotaReport struct {
	UserLogin     string                  `json:"user_login"`
	Subscriptions []SubscriptionQuotaView `json:"subscriptions"`
}

// LimitChange records an old/new limit pair for one channel of one
// subscription, returned by the increase and update operations so operators
// can verify exactly what was applied.
type LimitChange struct {
	SubscriptionID int64   `json:"subscription_id"`
	Channel        Channel `json:"channel"`
	OldLimit       Limit   `json:"old_limit"`
	NewLimit       Limit   `json:"new_limit"`
}

// QuotaMutationResult is the structured outcome of increase-quota and
// update-quota.
type QuotaMutationResult struct {
	UserLogin string        `json:"user_login"`
	Changes   []LimitChange `json:"changes"`
}

// CounterChange records the old/new usage counters of one subscription after
// a recalculate run.
type CounterChange struct {
	SubscriptionID  int64 `json:"subscription_id"`
	OldSMSUsed      int64 `json:"old_sms_used"`
	NewSMSUsed      int64 `json:"new_sms_used"`
	OldWhatsappUsed int64 `json:"old_whatsapp_used"`
	NewWhatsappUsed int64 `json:"new_whatsapp_used"`
}

// RecalculateResult is the structured outcome of a recalculate run for one
// user. Per-subscription failures are collected, not fatal to the whole run.
type RecalculateResult struct {
	UserLogin     string             `json:"user_login"`
	Window        ReconcileWindow    `json:"window"`
	Subscriptions []CounterChange    `json:"subscriptions"`
	Failures      []OperationFailure `json:"failures,omitempty"`
}

// OperationFailure attributes one collected failure inside a batch operation.
type OperationFailure struct {
	UserLogin      string `json:"user_login,omitempty"`
	SubscriptionID int64  `json:"subscription_id,omitempty"`
	Error          string `json:"error"`
}

// MigrationResult reports the outcome of a single-user ledger backfill.
type MigrationResult struct {
	UserLogin      string `json:"user_login"`
	RecordsUpdated int64  `json:"records_updated"`
}

// MigrateAllResult reports the outcome of a full backfill sweep. A second run
// over an already-attributed dataset reports the same processed count with
// zero additional updates.
type MigrateAllResult struct {
	TotalUsersProcessed int                `json:"total_users_processed"`
	TotalRecordsUpdated int64              `json:"total_records_updated"`
	Failures            []OperationFailure `json:"failures,omitempty"`
}

// EntitlementSnapshot is the per-user projection served to the dashboard and
// the send-flow guards: plan identity, per-channel capacity, trial/expiry
// flags. It is computed from subscription snapshots without storage writes.
type EntitlementSnapshot struct {
	UserLogin     string                       `json:"user_login"`
	PlanName      string                       `json:"plan_name"`
	Status        SubscriptionStatus           `json:"status"`
	IsCustomPlan  bool                         `json:"is_custom_plan"`
	Channels      map[Channel]ChannelQuotaView `json:"channels"`
	Features      PlanFeatures                 `json:"features"`
	IsTrial       bool                         `json:"is_trial"`
	TrialEndDate  *time.Time                   `json:"trial_end_date,omitempty"`
	EndDate       *time.Time                   `json:"end_date,omitempty"`
	LowOnCredits  bool                         `json:"low_on_credits"`
	NearLimit     bool                         `json:"near_limit"`
}

// SendStats is the aggregated ledger view for a date range, serving the
// dashboard stats endpoint.
type SendStats struct {
	StartDate time.Time      `json:"start_date"`
	EndDate   time.Time      `json:"end_date"`
	Channels  UsageByChannel `json:"channels"`
}
