package types

import (
	"encoding/json"
	"strconv"
	"time"
)

// Limit is a per-resource quota limit. The sentinel Unlimited (-1) means the
// resource is not capped; every comparison against a Limit must go through
// IsUnlimited first.
type Limit int64

// Unlimited is the sentinel for an uncapped resource.
const Unlimited Limit = -1

// IsUnlimited reports whether the limit places no cap on consumption.
func (l Limit) IsUnlimited() bool { return l < 0 }

// Plus returns the limit increased by n. Unlimited absorbs any addition.
func (l Limit) Plus(n int64) Limit {
	if l.IsUnlimited() {
		return Unlimited
	}
	return l + Limit(n)
}

// String renders the limit for logs and operator-facing payloads.
func (l Limit) String() string {
	if l.IsUnlimited() {
		return "unlimited"
	}
	return strconv.FormatInt(int64(l), 10)
}

// PlanFeatures are the boolean capability flags attached to a plan tier or
// custom subscription.
type PlanFeatures struct {
	ManageUsers       bool `json:"manage_users" db:"manage_users"`
	ManageTemplates   bool `json:"manage_templates" db:"manage_templates"`
	ViewConversations bool `json:"view_conversations" db:"view_conversations"`
	ViewAnalytics     bool `json:"view_analytics" db:"view_analytics"`
	PrioritySupport   bool `json:"priority_support" db:"priority_support"`
	ViewDashboard     bool `json:"view_dashboard" db:"view_dashboard"`
	ManageAPI         bool `json:"manage_api" db:"manage_api"`
}

// PlanLimits are the resource caps attached to a plan tier or custom
// subscription. SMS, Whatsapp, and APICallsPerDay use the Limit sentinel;
// the remaining caps are plain non-negative integers (0 means none allowed,
// not unlimited).
type PlanLimits struct {
	SMS            Limit `json:"sms_limit" db:"sms_limit"`
	Whatsapp       Limit `json:"whatsapp_limit" db:"whatsapp_limit"`
	Users          int   `json:"users_limit" db:"users_limit"`
	Templates      int   `json:"templates_limit" db:"templates_limit"`
	APICallsPerDay Limit `json:"api_calls_limit" db:"api_calls_limit"`
	StorageMB      int   `json:"storage_limit_mb" db:"storage_limit_mb"`
}

// Channel returns the message limit for the given channel.
func (pl PlanLimits) Channel(ch Channel) Limit {
	if ch == ChannelWhatsapp {
		return pl.Whatsapp
	}
	return pl.SMS
}

// Plan is an immutable-per-version plan tier definition. Plans are read-mostly
// reference data; the engine never mutates them. Changing a plan's limits must
// not retroactively alter subscriptions already resolved against it.
type Plan struct {
	ID            int64         `json:"id" db:"id"`
	Code          PlanCode      `json:"code" db:"code"`
	Name          string        `json:"name" db:"name"`
	PriceCents    int64         `json:"price_cents" db:"price_cents"`
	BillingPeriod BillingPeriod `json:"billing_period" db:"billing_period"`
	Limits        PlanLimits    `json:"limits"`
	Features      PlanFeatures  `json:"features"`
	SortOrder     int           `json:"sort_order" db:"sort_order"`
	Active        bool          `json:"active" db:"active"`
	CreatedDate   time.Time     `json:"created_date" db:"created_date"`
}

// CustomLimits fully shadow a plan's limits and features when a subscription
// is defined directly rather than against a catalog plan.
type CustomLimits struct {
	Name     string       `json:"name"`
	Limits   PlanLimits   `json:"limits"`
	Features PlanFeatures `json:"features"`
}

// LimitSource is the tagged variant behind a subscription's resolved limits:
// either a reference to a catalog plan or a fully custom definition. Exactly
// one arm is populated; the constructors are the only way a valid value is
// produced, making plan/custom exclusivity structural rather than
// convention-based.
type LimitSource struct {
	planID *int64
	custom *CustomLimits
}

// PlanRef returns a LimitSource referencing the given catalog plan.
func PlanRef(planID int64) LimitSource {
	return LimitSource{planID: &planID}
}

// CustomPlan returns a LimitSource carrying an independent custom definition.
func CustomPlan(cl CustomLimits) LimitSource {
	return LimitSource{custom: &cl}
}

// IsCustom reports whether the subscription carries a custom definition.
func (s LimitSource) IsCustom() bool { return s.custom != nil }

// PlanID returns the referenced plan id. ok is false for custom sources.
func (s LimitSource) PlanID() (int64, bool) {
	if s.planID == nil {
		return 0, false
	}
	return *s.planID, true
}

// Custom returns the custom definition. ok is false for plan references.
func (s LimitSource) Custom() (CustomLimits, bool) {
	if s.custom == nil {
		return CustomLimits{}, false
	}
	return *s.custom, true
}

// Validate checks that exactly one arm is populated and, for custom sources,
// that at least one channel limit is present (a custom plan that caps nothing
// relevant to the user's services is a configuration mistake).
func (s LimitSource) Validate() error {
	switch {
	case s.planID != nil && s.custom != nil:
		return NewAppError(ErrCodeConflictLimitSource,
			"subscription references a plan and carries custom limits at the same time", nil)
	case s.planID == nil && s.custom == nil:
		return NewAppError(ErrCodeConflictLimitSource,
			"subscription has neither a plan reference nor custom limits", nil)
	case s.custom != nil && s.custom.Limits.SMS == 0 && s.custom.Limits.Whatsapp == 0:
		return NewAppError(ErrCodeConflictCustomLimits,
			"custom plan defines no channel limits", nil)
	}
	return nil
}

// limitSourceJSON is the wire/storage shape of LimitSource.
type limitSourceJSON struct {
	PlanID *int64        `json:"plan_id,omitempty"`
	Custom *CustomLimits `json:"custom,omitempty"`
}

// MarshalJSON serializes the tagged variant.
func (s LimitSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(limitSourceJSON{PlanID: s.planID, Custom: s.custom})
}

// UnmarshalJSON deserializes the tagged variant. Validity is checked by
// Validate, not here, so malformed stored rows can still be loaded and
// repaired.
func (s *LimitSource) UnmarshalJSON(data []byte) error {
	var raw limitSourceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.planID = raw.PlanID
	s.custom = raw.Custom
	return nil
}

// Subscription is the single source of truth for a user's entitlement. One
// row per user per held plan (a user may hold e.g. one SMS and one Whatsapp
// subscription).
type Subscription struct {
	ID        int64              `json:"id" db:"id"`
	UserID    int64              `json:"user_id" db:"user_id"`
	UserLogin string             `json:"user_login" db:"user_login"`
	Status    SubscriptionStatus `json:"status" db:"status"`
	Source    LimitSource        `json:"source"`

	// Limits is the resolved snapshot copied from the referenced plan (or
	// the custom definition) when the subscription is created or re-resolved.
	// Snapshot semantics keep later catalog edits from retroactively
	// altering subscriptions; administrative quota mutations act on these
	// columns directly.
	Limits PlanLimits `json:"limits"`

	StartDate time.Time  `json:"start_date" db:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty" db:"end_date"`

	// Usage counters. Channel counters are mutated only by the atomic
	// consume primitive and the recalculate repair operation.
	SMSUsed           int64      `json:"sms_used" db:"sms_used"`
	WhatsappUsed      int64      `json:"whatsapp_used" db:"whatsapp_used"`
	APICallsUsedToday int        `json:"api_calls_used_today" db:"api_calls_used_today"`
	LastAPICallDate   *time.Time `json:"last_api_call_date,omitempty" db:"last_api_call_date"`
	StorageUsedMB     int64      `json:"storage_used_mb" db:"storage_used_mb"`

	// Adjustments. A disabled flag forces its amount to zero on write.
	BonusSMSEnabled        bool  `json:"bonus_sms_enabled" db:"bonus_sms_enabled"`
	BonusSMSAmount         int64 `json:"bonus_sms_amount" db:"bonus_sms_amount"`
	BonusWhatsappEnabled   bool  `json:"bonus_whatsapp_enabled" db:"bonus_whatsapp_enabled"`
	BonusWhatsappAmount    int64 `json:"bonus_whatsapp_amount" db:"bonus_whatsapp_amount"`
	AllowSMSCarryover      bool  `json:"allow_sms_carryover" db:"allow_sms_carryover"`
	CarriedOverSMS         int64 `json:"carried_over_sms" db:"carried_over_sms"`
	AllowWhatsappCarryover bool  `json:"allow_whatsapp_carryover" db:"allow_whatsapp_carryover"`
	CarriedOverWhatsapp    int64 `json:"carried_over_whatsapp" db:"carried_over_whatsapp"`

	// Trial
	IsTrial      bool       `json:"is_trial" db:"is_trial"`
	TrialEndDate *time.Time `json:"trial_end_date,omitempty" db:"trial_end_date"`

	// Billing metadata
	PaymentMethod string `json:"payment_method,omitempty" db:"payment_method"`
	TransactionID string `json:"transaction_id,omitempty" db:"transaction_id"`
	AutoRenew     bool   `json:"auto_renew" db:"auto_renew"`

	CreatedDate time.Time `json:"created_date" db:"created_date"`
	UpdatedDate time.Time `json:"updated_date" db:"updated_date"`

	// Hydrated from the Plan Catalog for plan-referencing subscriptions
	// (not a DB column). Nil until hydrated; nil for custom subscriptions.
	Plan *Plan `json:"plan,omitempty" db:"-"`
}

// ResolvedFeatures returns the capability flags the subscription is entitled
// to: the custom definition if present, otherwise the hydrated plan's flags.
// An unhydrated plan reference fails safe (no capabilities).
func (s *Subscription) ResolvedFeatures() PlanFeatures {
	if cl, ok := s.Source.Custom(); ok {
		return cl.Features
	}
	if s.Plan != nil {
		return s.Plan.Features
	}
	return PlanFeatures{}
}

// PlanName returns the display name of whatever the limits resolve against.
func (s *Subscription) PlanName() string {
	if cl, ok := s.Source.Custom(); ok {
		if cl.Name != "" {
			return cl.Name
		}
		return "custom"
	}
	if s.Plan != nil {
		return s.Plan.Name
	}
	return ""
}

// Used returns the consumed counter for the given channel.
func (s *Subscription) Used(ch Channel) int64 {
	if ch == ChannelWhatsapp {
		return s.WhatsappUsed
	}
	return s.SMSUsed
}

// Bonus returns the enabled bonus amount for the channel, 0 when disabled.
func (s *Subscription) Bonus(ch Channel) int64 {
	if ch == ChannelWhatsapp {
		if !s.BonusWhatsappEnabled {
			return 0
		}
		return s.BonusWhatsappAmount
	}
	if !s.BonusSMSEnabled {
		return 0
	}
	return s.BonusSMSAmount
}

// Carryover returns the enabled carried-over amount for the channel, 0 when
// carry-over is not allowed.
func (s *Subscription) Carryover(ch Channel) int64 {
	if ch == ChannelWhatsapp {
		if !s.AllowWhatsappCarryover {
			return 0
		}
		return s.CarriedOverWhatsapp
	}
	if !s.AllowSMSCarryover {
		return 0
	}
	return s.CarriedOverSMS
}

// Normalize enforces the disabled-flag invariants in place: a disabled bonus
// or carry-over flag zeroes its amount so a stale nonzero amount never
// survives a write alongside enabled=false.
func (s *Subscription) Normalize() {
	if !s.BonusSMSEnabled {
		s.BonusSMSAmount = 0
	}
	if !s.BonusWhatsappEnabled {
		s.BonusWhatsappAmount = 0
	}
	if !s.AllowSMSCarryover {
		s.CarriedOverSMS = 0
	}
	if !s.AllowWhatsappCarryover {
		s.CarriedOverWhatsapp = 0
	}
}

// Validate checks the structural invariants of the record. It does not check
// counter-vs-limit bounds; those are enforced by the storage primitives that
// mutate counters.
func (s *Subscription) Validate() error {
	if err := s.Source.Validate(); err != nil {
		return err
	}
	if s.EndDate != nil && !s.EndDate.After(s.StartDate) {
		return NewAppError(ErrCodeValidationDateOrder,
			"end date must be strictly after start date", nil)
	}
	if s.TrialEndDate != nil && !s.TrialEndDate.After(s.StartDate) {
		return NewAppError(ErrCodeValidationDateOrder,
			"trial end date must be strictly after start date", nil)
	}
	if s.SMSUsed < 0 || s.WhatsappUsed < 0 || s.APICallsUsedToday < 0 {
		return NewAppError(ErrCodeValidationNegativeLimit,
			"usage counters must not be negative", nil)
	}
	return nil
}

// UsageRecord is a persisted message-send event, the ground truth that
// recalculate reconciles against. Read-only from this engine's perspective
// except for the user_login backfill migration.
type UsageRecord struct {
	ID          int64      `json:"id" db:"id"`
	UserID      *int64     `json:"user_id,omitempty" db:"user_id"`
	UserLogin   *string    `json:"user_login,omitempty" db:"user_login"`
	BatchID     *int64     `json:"batch_id,omitempty" db:"batch_id"`
	Channel     Channel    `json:"channel" db:"channel"`
	Status      SendStatus `json:"status" db:"status"`
	CreatedDate time.Time  `json:"created_date" db:"created_date"`
}

// ChannelCounts aggregates ledger outcomes for one channel.
type ChannelCounts struct {
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
	Pending int64 `json:"pending"`
	Total   int64 `json:"total"`
}

// UsageByChannel maps each channel to its aggregated counts. Channels with no
// ledger rows are present with zero-filled counts.
type UsageByChannel map[Channel]ChannelCounts

// AuditEvent records the before/after state of an administrative mutation.
type AuditEvent struct {
	ID          string          `json:"id" db:"id"`
	Actor       Actor           `json:"actor"`
	Action      AuditAction     `json:"action" db:"action"`
	TargetLogin string          `json:"target_login" db:"target_login"`
	Before      json.RawMessage `json:"before,omitempty" db:"before_state"`
	After       json.RawMessage `json:"after,omitempty" db:"after_state"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
