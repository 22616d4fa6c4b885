// Package quota orchestrates entitlement reads, the send-flow consumption
// gate, and the administrative repair operations (increase, update,
// recalculate). Every administrative mutation is audited with its before and
// after state.
package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tahye23/servicessms-sub002/internal/config"
	"github.com/Tahye23/servicessms-sub002/internal/db"
	"github.com/Tahye23/servicessms-sub002/internal/entitlement"
	"github.com/Tahye23/servicessms-sub002/internal/types"
)

// SubscriptionStore is the storage surface the service drives; implemented by
// db.SubscriptionRepo. All mutating methods are single-statement atomic
// primitives, so the service never needs to hold a transaction open across
// calls for one subscription.
type SubscriptionStore interface {
	ListByLogin(ctx context.Context, userLogin string) ([]*types.Subscription, error)
	GetByID(ctx context.Context, id int64) (*types.Subscription, error)
	IncreaseChannelLimits(ctx context.Context, subID int64, smsDelta, whatsappDelta int64) (*db.LimitPair, error)
	ReplaceChannelLimits(ctx context.Context, subID int64, newSMS, newWhatsapp *int64) (*db.LimitPair, error)
	OverwriteUsage(ctx context.Context, subID int64, smsUsed, whatsappUsed int64) (*db.UsagePair, error)
	ConsumeChannel(ctx context.Context, subID int64, ch types.Channel, amount int64) (int64, error)
	ConsumeAPICall(ctx context.Context, subID int64, now time.Time) (int, error)
	UpdateStatus(ctx context.Context, subID int64, from, to types.SubscriptionStatus) error
}

// LedgerReader supplies the reconciliation input; implemented by
// ledger.Reader.
type LedgerReader interface {
	SuccessSince(ctx context.Context, userID int64, since time.Time) (map[types.Channel]int64, error)
}

// Hydrator attaches plan definitions to plan-backed subscriptions;
// implemented by catalog.Catalog.
type Hydrator interface {
	Hydrate(ctx context.Context, subs []*types.Subscription) error
}

// Auditor persists the audit trail of administrative mutations; implemented
// by db.AuditRepo. Audit failures are logged, never fatal to the operation.
type Auditor interface {
	Log(ctx context.Context, event types.AuditEvent) error
}

// Service is the quota engine's orchestration layer.
type Service struct {
	subs      SubscriptionStore
	ledger    LedgerReader
	catalog   Hydrator
	audit     Auditor
	evaluator *entitlement.Evaluator
	cfg       config.QuotaConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the quota engine together.
func NewService(
	subs SubscriptionStore,
	ledger LedgerReader,
	catalog Hydrator,
	audit Auditor,
	evaluator *entitlement.Evaluator,
	cfg config.QuotaConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		subs:      subs,
		ledger:    ledger,
		catalog:   catalog,
		audit:     audit,
		evaluator: evaluator,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// loadUserSubscriptions fetches and hydrates every subscription a user holds.
// A user with zero subscriptions does not exist from the engine's view.
func (s *Service) loadUserSubscriptions(ctx context.Context, userLogin string) ([]*types.Subscription, error) {
	subs, err := s.subs.ListByLogin(ctx, userLogin)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, types.NewAppError(types.ErrCodeNotFoundUser,
			fmt.Sprintf("no subscriptions found for user %q", userLogin), nil)
	}
	if err := s.catalog.Hydrate(ctx, subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// ViewQuota builds the admin quota report: every subscription the user holds,
// projected per channel with resolved limits and derived capacity.
func (s *Service) ViewQuota(ctx context.Context, userLogin string) (*types.QuotaReport, error) {
	subs, err := s.loadUserSubscriptions(ctx, userLogin)
	if err != nil {
		return nil, err
	}

	now := s.now()
	report := &types.QuotaReport{
		UserLogin:     userLogin,
		Subscriptions: make([]types.SubscriptionQuotaView, 0, len(subs)),
	}
	for _, sub := range subs {
		report.Subscriptions = append(report.Subscriptions, s.evaluator.QuotaView(sub, now))
	}
	return report, nil
}

// SubscriptionInfo builds the dashboard entitlement snapshot. Plan identity
// comes from the user's primary subscription; channel capacity is merged
// across every sendable subscription, since a user may hold separate SMS and
// WhatsApp plans and each channel is sendable when any of them covers it.
func (s *Service) SubscriptionInfo(ctx context.Context, userLogin string) (*types.EntitlementSnapshot, error) {
	subs, err := s.loadUserSubscriptions(ctx, userLogin)
	if err != nil {
		return nil, err
	}

	now := s.now()
	snap := s.evaluator.Snapshot(s.primarySubscription(subs, now), now)
	for _, sub := range subs {
		if !entitlement.Sendable(sub, now) {
			continue
		}
		for _, ch := range types.Channels {
			view := s.evaluator.ChannelView(sub, ch, now)
			if betterChannelView(view, snap.Channels[ch]) {
				snap.Channels[ch] = view
			}
		}
	}
	return &snap, nil
}

// betterChannelView reports whether candidate should replace current in the
// merged snapshot: a sendable view beats a blocked one, and among sendable
// views the larger remaining capacity wins.
func betterChannelView(candidate, current types.ChannelQuotaView) bool {
	if candidate.CanSend != current.CanSend {
		return candidate.CanSend
	}
	if !candidate.CanSend {
		return false
	}
	if candidate.Remaining.IsUnlimited() || current.Remaining.IsUnlimited() {
		return candidate.Remaining.IsUnlimited() && !current.Remaining.IsUnlimited()
	}
	return candidate.Remaining > current.Remaining
}

// primarySubscription picks the subscription that represents the user when a
// single one must be shown: the first sendable one in creation order, falling
// back to the newest row.
func (s *Service) primarySubscription(subs []*types.Subscription, now time.Time) *types.Subscription {
	for _, sub := range subs {
		if entitlement.Sendable(sub, now) {
			return sub
		}
	}
	newest := subs[0]
	for _, sub := range subs[1:] {
		if sub.CreatedDate.After(newest.CreatedDate) {
			newest = sub
		}
	}
	return newest
}

// IncreaseQuota adds non-negative deltas to the channel limits of every
// subscription the user holds. At least one delta must be positive; absent
// or zero channels are left untouched. Unlimited limits absorb increases
// unchanged.
func (s *Service) IncreaseQuota(ctx context.Context, actor types.Actor, userLogin string, smsDelta, whatsappDelta *int64) (*types.QuotaMutationResult, error) {
	for ch, delta := range map[types.Channel]*int64{
		types.ChannelSMS:      smsDelta,
		types.ChannelWhatsapp: whatsappDelta,
	} {
		if delta != nil && *delta < 0 {
			return nil, types.NewAppError(types.ErrCodeValidationNegativeDelta,
				fmt.Sprintf("%s delta must not be negative", ch), nil)
		}
	}
	if deltaOrZero(smsDelta) == 0 && deltaOrZero(whatsappDelta) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationMissingDelta,
			"at least one channel delta must be positive", nil)
	}

	subs, err := s.loadUserSubscriptions(ctx, userLogin)
	if err != nil {
		return nil, err
	}

	result := &types.QuotaMutationResult{UserLogin: userLogin}
	for _, sub := range subs {
		pair, err := s.subs.IncreaseChannelLimits(ctx, sub.ID, deltaOrZero(smsDelta), deltaOrZero(whatsappDelta))
		if err != nil {
			return nil, err
		}
		result.Changes = append(result.Changes, limitChanges(sub.ID, pair, smsDelta != nil, whatsappDelta != nil)...)
	}

	s.recordAudit(ctx, actor, types.AuditQuotaIncreased, userLogin,
		map[string]any{"sms_delta": smsDelta, "whatsapp_delta": whatsappDelta},
		result.Changes)
	return result, nil
}

// UpdateQuota replaces channel limits outright. Absent channels are left
// untouched; at least one must be provided. A value of -1 sets the channel
// unlimited. Usage counters are never modified: a replacement below current
// usage is valid and simply leaves zero remaining.
func (s *Service) UpdateQuota(ctx context.Context, actor types.Actor, userLogin string, newSMS, newWhatsapp *int64) (*types.QuotaMutationResult, error) {
	if newSMS == nil && newWhatsapp == nil {
		return nil, types.NewAppError(types.ErrCodeValidationMissingLimit,
			"at least one channel limit is required", nil)
	}
	for ch, limit := range map[types.Channel]*int64{
		types.ChannelSMS:      newSMS,
		types.ChannelWhatsapp: newWhatsapp,
	} {
		if limit != nil && *limit < int64(types.Unlimited) {
			return nil, types.NewAppError(types.ErrCodeValidationNegativeLimit,
				fmt.Sprintf("%s limit must be non-negative or -1 for unlimited", ch), nil)
		}
	}

	subs, err := s.loadUserSubscriptions(ctx, userLogin)
	if err != nil {
		return nil, err
	}

	result := &types.QuotaMutationResult{UserLogin: userLogin}
	for _, sub := range subs {
		pair, err := s.subs.ReplaceChannelLimits(ctx, sub.ID, newSMS, newWhatsapp)
		if err != nil {
			return nil, err
		}
		result.Changes = append(result.Changes, limitChanges(sub.ID, pair, newSMS != nil, newWhatsapp != nil)...)
	}

	s.recordAudit(ctx, actor, types.AuditQuotaReplaced, userLogin,
		map[string]any{"sms_limit": newSMS, "whatsapp_limit": newWhatsapp},
		result.Changes)
	return result, nil
}

// Recalculate overwrites each subscription's usage counters with the count of
// successful sends the ledger records inside the configured reconcile window.
// The operation is idempotent: a second run over an unchanged ledger writes
// the same values. Per-subscription failures are collected, not fatal.
func (s *Service) Recalculate(ctx context.Context, actor types.Actor, userLogin string) (*types.RecalculateResult, error) {
	subs, err := s.loadUserSubscriptions(ctx, userLogin)
	if err != nil {
		return nil, err
	}

	now := s.now()
	result := &types.RecalculateResult{
		UserLogin: userLogin,
		Window:    s.cfg.ReconcileWindow,
	}
	for _, sub := range subs {
		change, err := s.recalculateOne(ctx, sub, now)
		if err != nil {
			result.Failures = append(result.Failures, types.OperationFailure{
				UserLogin:      userLogin,
				SubscriptionID: sub.ID,
				Error:          err.Error(),
			})
			s.logger.Error("recalculate failed for subscription",
				"user_login", userLogin,
				"subscription_id", sub.ID,
				"error", err)
			continue
		}
		result.Subscriptions = append(result.Subscriptions, *change)
	}

	s.recordAudit(ctx, actor, types.AuditQuotaRecalculated, userLogin,
		map[string]any{"window": s.cfg.ReconcileWindow},
		result.Subscriptions)
	return result, nil
}

func (s *Service) recalculateOne(ctx context.Context, sub *types.Subscription, now time.Time) (*types.CounterChange, error) {
	since := s.windowStart(sub, now)
	counts, err := s.ledger.SuccessSince(ctx, sub.UserID, since)
	if err != nil {
		return nil, err
	}

	pair, err := s.subs.OverwriteUsage(ctx, sub.ID,
		counts[types.ChannelSMS], counts[types.ChannelWhatsapp])
	if err != nil {
		return nil, err
	}
	return &types.CounterChange{
		SubscriptionID:  sub.ID,
		OldSMSUsed:      pair.OldSMSUsed,
		NewSMSUsed:      pair.NewSMSUsed,
		OldWhatsappUsed: pair.OldWhatsappUsed,
		NewWhatsappUsed: pair.NewWhatsappUsed,
	}, nil
}

// windowStart resolves the instant recalculate sums ledger rows from.
func (s *Service) windowStart(sub *types.Subscription, now time.Time) time.Time {
	if s.cfg.ReconcileWindow == types.ReconcileFromPeriod {
		return currentPeriodStart(sub, now)
	}
	return sub.StartDate
}

// currentPeriodStart walks billing periods forward from the subscription
// start until the one containing now. Lifetime plans have a single period.
func currentPeriodStart(sub *types.Subscription, now time.Time) time.Time {
	period := types.PeriodMonthly
	if sub.Plan != nil {
		period = sub.Plan.BillingPeriod
	}

	start := sub.StartDate
	switch period {
	case types.PeriodYearly:
		for start.AddDate(1, 0, 0).Before(now) || start.AddDate(1, 0, 0).Equal(now) {
			start = start.AddDate(1, 0, 0)
		}
	case types.PeriodLifetime:
		// Single open-ended period.
	default:
		for start.AddDate(0, 1, 0).Before(now) || start.AddDate(0, 1, 0).Equal(now) {
			start = start.AddDate(0, 1, 0)
		}
	}
	return start
}

// Consume records n sends on the given channel against the user's first
// sendable subscription with capacity. The conditional update in storage is
// the authoritative gate; this method only sequences candidates. When every
// candidate is exhausted the channel's limit error is returned.
func (s *Service) Consume(ctx context.Context, userLogin string, ch types.Channel, n int64) (int64, error) {
	if n <= 0 {
		return 0, types.NewAppError(types.ErrCodeValidationNegativeDelta,
			"consume amount must be positive", nil)
	}

	subs, err := s.loadUserSubscriptions(ctx, userLogin)
	if err != nil {
		return 0, err
	}

	now := s.now()
	var lastLimitErr error
	for _, sub := range subs {
		if !entitlement.Sendable(sub, now) {
			continue
		}
		used, err := s.subs.ConsumeChannel(ctx, sub.ID, ch, n)
		if err != nil {
			if isLimitExceeded(err) {
				lastLimitErr = err
				continue
			}
			return 0, err
		}
		return used, nil
	}

	if lastLimitErr != nil {
		return 0, lastLimitErr
	}
	return 0, limitErrorFor(ch)
}

// ConsumeAPICall records one API call against the user's primary sendable
// subscription, applying the lazy daily reset in storage.
func (s *Service) ConsumeAPICall(ctx context.Context, userLogin string) (int, error) {
	subs, err := s.loadUserSubscriptions(ctx, userLogin)
	if err != nil {
		return 0, err
	}

	now := s.now()
	for _, sub := range subs {
		if !entitlement.Sendable(sub, now) {
			continue
		}
		return s.subs.ConsumeAPICall(ctx, sub.ID, now)
	}
	return 0, types.NewAppError(types.ErrCodeLimitAPICalls,
		"no active subscription permits API calls", nil)
}

// ChangeStatus moves a subscription along the lifecycle graph. The compare
// and swap in storage rejects the change if another writer moved the row
// first.
func (s *Service) ChangeStatus(ctx context.Context, actor types.Actor, subID int64, to types.SubscriptionStatus) error {
	sub, err := s.subs.GetByID(ctx, subID)
	if err != nil {
		return err
	}
	if err := validateTransition(sub.Status, to); err != nil {
		return err
	}
	if err := s.subs.UpdateStatus(ctx, subID, sub.Status, to); err != nil {
		return err
	}

	s.recordAudit(ctx, actor, types.AuditStatusChanged, sub.UserLogin,
		map[string]any{"subscription_id": subID, "status": sub.Status},
		map[string]any{"subscription_id": subID, "status": to})
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor types.Actor, action types.AuditAction, targetLogin string, before, after any) {
	event := types.AuditEvent{
		Actor:       actor,
		Action:      action,
		TargetLogin: targetLogin,
		Before:      mustJSON(before),
		After:       mustJSON(after),
	}
	if err := s.audit.Log(ctx, event); err != nil {
		s.logger.Error("failed to write audit event",
			"action", action,
			"target_login", targetLogin,
			"error", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

func deltaOrZero(d *int64) int64 {
	if d == nil {
		return 0
	}
	return *d
}

// limitChanges projects an atomic old/new pair into per-channel change
// records, reporting only the channels the caller actually touched.
func limitChanges(subID int64, pair *db.LimitPair, sms, whatsapp bool) []types.LimitChange {
	var changes []types.LimitChange
	if sms {
		changes = append(changes, types.LimitChange{
			SubscriptionID: subID,
			Channel:        types.ChannelSMS,
			OldLimit:       pair.OldSMS,
			NewLimit:       pair.NewSMS,
		})
	}
	if whatsapp {
		changes = append(changes, types.LimitChange{
			SubscriptionID: subID,
			Channel:        types.ChannelWhatsapp,
			OldLimit:       pair.OldWhatsapp,
			NewLimit:       pair.NewWhatsapp,
		})
	}
	return changes
}

func isLimitExceeded(err error) bool {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case types.ErrCodeLimitSMS, types.ErrCodeLimitWhatsapp, types.ErrCodeLimitAPICalls:
		return true
	default:
		return false
	}
}

func limitErrorFor(ch types.Channel) error {
	if ch == types.ChannelWhatsapp {
		return types.NewAppError(types.ErrCodeLimitWhatsapp,
			"no active subscription permits whatsapp sends", nil)
	}
	return types.NewAppError(types.ErrCodeLimitSMS,
		"no active subscription permits sms sends", nil)
}
