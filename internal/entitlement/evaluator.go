// Package entitlement evaluates what a subscription currently permits. All
// functions here are pure computations over subscription snapshots; nothing
// in this package touches storage, so evaluation results are advisory. The
// authoritative consumption gate is the conditional update in the db layer.
package entitlement

import (
	"math"
	"time"

	"github.com/Tahye23/servicessms-sub002/internal/types"
)

// Evaluator derives per-channel capacity and warning flags from subscription
// snapshots. Thresholds come from service configuration.
type Evaluator struct {
	lowCreditsThreshold int64
	nearLimitPercent    float64
}

// New creates an Evaluator with the given warning thresholds.
func New(lowCreditsThreshold int64, nearLimitPercent float64) *Evaluator {
	return &Evaluator{
		lowCreditsThreshold: lowCreditsThreshold,
		nearLimitPercent:    nearLimitPercent,
	}
}

// EffectiveLimit is the base channel limit plus enabled bonus and carry-over
// amounts. Unlimited absorbs every adjustment.
func EffectiveLimit(sub *types.Subscription, ch types.Channel) types.Limit {
	base := sub.Limits.Channel(ch)
	return base.Plus(sub.Bonus(ch)).Plus(sub.Carryover(ch))
}

// Remaining is the capacity left on a channel, floored at zero. An unlimited
// channel reports the Unlimited sentinel.
func Remaining(sub *types.Subscription, ch types.Channel) types.Limit {
	limit := EffectiveLimit(sub, ch)
	if limit.IsUnlimited() {
		return types.Unlimited
	}
	left := int64(limit) - sub.Used(ch)
	if left < 0 {
		left = 0
	}
	return types.Limit(left)
}

// CanConsume reports whether n more messages fit under the effective limit.
// It never mutates anything; a concurrent consumer may still win the race, so
// callers treat a true result as advisory.
func CanConsume(sub *types.Subscription, ch types.Channel, n int64) bool {
	limit := EffectiveLimit(sub, ch)
	if limit.IsUnlimited() {
		return true
	}
	return sub.Used(ch)+n <= int64(limit)
}

// UsagePercent is consumption as a rounded percentage of the effective limit,
// clamped to [0, 100]. Unlimited and zero-limit channels report 0; percentage
// of nothing is meaningless, and the CanSend flag already covers the
// zero-limit case.
func UsagePercent(sub *types.Subscription, ch types.Channel) float64 {
	limit := EffectiveLimit(sub, ch)
	if limit.IsUnlimited() || limit == 0 {
		return 0
	}
	pct := math.Round(float64(sub.Used(ch)) / float64(limit) * 100)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// EffectiveStatus derives the status the engine acts on: a stored ACTIVE or
// TRIAL row whose end (or trial end) date has passed is EXPIRED regardless of
// what the column still says. The expiry sweep persists this lazily.
func EffectiveStatus(sub *types.Subscription, now time.Time) types.SubscriptionStatus {
	switch sub.Status {
	case types.SubStatusActive:
		if sub.EndDate != nil && !sub.EndDate.After(now) {
			return types.SubStatusExpired
		}
	case types.SubStatusTrial:
		if sub.TrialEndDate != nil && !sub.TrialEndDate.After(now) {
			return types.SubStatusExpired
		}
		if sub.EndDate != nil && !sub.EndDate.After(now) {
			return types.SubStatusExpired
		}
	}
	return sub.Status
}

// Sendable reports whether the subscription's effective status permits
// message sends at all.
func Sendable(sub *types.Subscription, now time.Time) bool {
	switch EffectiveStatus(sub, now) {
	case types.SubStatusActive, types.SubStatusTrial:
		return true
	default:
		return false
	}
}

// ChannelView projects one channel of a subscription into the read model
// served by view-quota and the dashboard.
func (e *Evaluator) ChannelView(sub *types.Subscription, ch types.Channel, now time.Time) types.ChannelQuotaView {
	return types.ChannelQuotaView{
		Channel:      ch,
		Limit:        EffectiveLimit(sub, ch),
		Used:         sub.Used(ch),
		Remaining:    Remaining(sub, ch),
		UsagePercent: UsagePercent(sub, ch),
		CanSend:      Sendable(sub, now) && CanConsume(sub, ch, 1),
	}
}

// QuotaView projects a full subscription for the admin view-quota report.
func (e *Evaluator) QuotaView(sub *types.Subscription, now time.Time) types.SubscriptionQuotaView {
	channels := make(map[types.Channel]types.ChannelQuotaView, len(types.Channels))
	for _, ch := range types.Channels {
		channels[ch] = e.ChannelView(sub, ch, now)
	}
	return types.SubscriptionQuotaView{
		SubscriptionID: sub.ID,
		PlanName:       sub.PlanName(),
		Status:         EffectiveStatus(sub, now),
		IsCustomPlan:   sub.Source.IsCustom(),
		Channels:       channels,
	}
}

// LowOnCredits reports whether any capped channel with a nonzero limit has
// fewer than the configured threshold of messages left.
func (e *Evaluator) LowOnCredits(sub *types.Subscription) bool {
	for _, ch := range types.Channels {
		limit := EffectiveLimit(sub, ch)
		if limit.IsUnlimited() || limit == 0 {
			continue
		}
		if int64(Remaining(sub, ch)) < e.lowCreditsThreshold {
			return true
		}
	}
	return false
}

// NearLimit reports whether any capped channel has crossed the configured
// usage percentage.
func (e *Evaluator) NearLimit(sub *types.Subscription) bool {
	for _, ch := range types.Channels {
		limit := EffectiveLimit(sub, ch)
		if limit.IsUnlimited() || limit == 0 {
			continue
		}
		if UsagePercent(sub, ch) >= e.nearLimitPercent {
			return true
		}
	}
	return false
}

// Snapshot builds the full per-user entitlement projection from one
// subscription. The subscription must be hydrated if it references a plan.
func (e *Evaluator) Snapshot(sub *types.Subscription, now time.Time) types.EntitlementSnapshot {
	channels := make(map[types.Channel]types.ChannelQuotaView, len(types.Channels))
	for _, ch := range types.Channels {
		channels[ch] = e.ChannelView(sub, ch, now)
	}
	return types.EntitlementSnapshot{
		UserLogin:    sub.UserLogin,
		PlanName:     sub.PlanName(),
		Status:       EffectiveStatus(sub, now),
		IsCustomPlan: sub.Source.IsCustom(),
		Channels:     channels,
		Features:     sub.ResolvedFeatures(),
		IsTrial:      sub.IsTrial,
		TrialEndDate: sub.TrialEndDate,
		EndDate:      sub.EndDate,
		LowOnCredits: e.LowOnCredits(sub),
		NearLimit:    e.NearLimit(sub),
	}
}
