package types

// Channel identifies a message delivery medium. Each channel carries its own
// limit/usage pair on a subscription.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsapp Channel = "whatsapp"
)

// Channels lists every delivery channel the engine tracks quota for.
// Iteration order is stable (SMS first) so projections render consistently.
var Channels = []Channel{ChannelSMS, ChannelWhatsapp}

// SendStatus is the outcome of a message-send attempt recorded in the ledger.
// Only SendSuccess consumes quota; pending sends are not yet consuming.
type SendStatus string

const (
	SendSuccess SendStatus = "success"
	SendFailed  SendStatus = "failed"
	SendPending SendStatus = "pending"
)

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubStatusPendingPayment SubscriptionStatus = "pending_payment"
	SubStatusTrial          SubscriptionStatus = "trial"
	SubStatusActive         SubscriptionStatus = "active"
	SubStatusSuspended      SubscriptionStatus = "suspended"
	SubStatusExpired        SubscriptionStatus = "expired"
	SubStatusCancelled      SubscriptionStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubStatusExpired || s == SubStatusCancelled
}

// BillingPeriod defines how often a plan renews.
type BillingPeriod string

const (
	PeriodMonthly  BillingPeriod = "monthly"
	PeriodYearly   BillingPeriod = "yearly"
	PeriodLifetime BillingPeriod = "lifetime"
)

// PlanCode identifies a built-in plan tier. Custom plans have no code.
type PlanCode string

const (
	PlanFree     PlanCode = "FREE"
	PlanSMS      PlanCode = "SMS"
	PlanWhatsapp PlanCode = "WHATSAPP"
	PlanPremium  PlanCode = "PREMIUM"
)

// UserRole defines authorization levels for API callers.
type UserRole string

const (
	RoleAdmin UserRole = "admin"
	RoleUser  UserRole = "user"
)

// ReconcileWindow selects the window the recalculate operation sums ledger
// rows over. The exact window was left open by the observed behavior, so it
// is an explicit configuration choice rather than a guess.
type ReconcileWindow string

const (
	// ReconcileFromStart sums successful sends since the subscription's
	// start date. This is the default policy.
	ReconcileFromStart ReconcileWindow = "subscription_start"
	// ReconcileFromPeriod sums successful sends since the start of the
	// current billing period boundary.
	ReconcileFromPeriod ReconcileWindow = "billing_period"
)

// AuditAction identifies the kind of administrative mutation being audited.
type AuditAction string

const (
	AuditQuotaIncreased    AuditAction = "quota.increased"
	AuditQuotaReplaced     AuditAction = "quota.replaced"
	AuditQuotaRecalculated AuditAction = "quota.recalculated"
	AuditLedgerMigrated    AuditAction = "ledger.migrated"
	AuditStatusChanged     AuditAction = "subscription.status_changed"
)
