// Package catalog provides plan catalog access: the authoritative per-tier
// limits and feature flags that subscriptions resolve against.
package catalog

import (
	"context"
	"errors"

	"github.com/Tahye23/servicessms-sub002/internal/db"
	"github.com/Tahye23/servicessms-sub002/internal/types"
)

// PlanStore is the data access the catalog needs; implemented by db.PlanRepo.
type PlanStore interface {
	ListActive(ctx context.Context, filter db.PlanFilter) ([]types.Plan, error)
	GetByID(ctx context.Context, id int64) (*types.Plan, error)
	GetByCode(ctx context.Context, code types.PlanCode) (*types.Plan, error)
}

// defaultLimits defines the built-in tier limits used when the plans table is
// missing a referenced row. SMS and Whatsapp use -1 for unlimited.
//
//	| Plan     | SMS       | Whatsapp  | API/Day   |
//	|----------|-----------|-----------|-----------|
//	| FREE     | 10        | 10        | 0 (none)  |
//	| SMS      | 1,000     | 0         | 100       |
//	| WHATSAPP | 0         | 1,000     | 100       |
//	| PREMIUM  | unlimited | unlimited | unlimited |
var defaultLimits = map[types.PlanCode]types.PlanLimits{
	types.PlanFree: {
		SMS:            10,
		Whatsapp:       10,
		Users:          1,
		Templates:      3,
		APICallsPerDay: 0,
		StorageMB:      50,
	},
	types.PlanSMS: {
		SMS:            1000,
		Whatsapp:       0,
		Users:          5,
		Templates:      25,
		APICallsPerDay: 100,
		StorageMB:      500,
	},
	types.PlanWhatsapp: {
		SMS:            0,
		Whatsapp:       1000,
		Users:          5,
		Templates:      25,
		APICallsPerDay: 100,
		StorageMB:      500,
	},
	types.PlanPremium: {
		SMS:            types.Unlimited,
		Whatsapp:       types.Unlimited,
		Users:          50,
		Templates:      200,
		APICallsPerDay: types.Unlimited,
		StorageMB:      5000,
	},
}

var defaultFeatures = map[types.PlanCode]types.PlanFeatures{
	types.PlanFree: {
		ViewDashboard: true,
	},
	types.PlanSMS: {
		ManageUsers:     true,
		ManageTemplates: true,
		ViewAnalytics:   true,
		ViewDashboard:   true,
	},
	types.PlanWhatsapp: {
		ManageUsers:       true,
		ManageTemplates:   true,
		ViewConversations: true,
		ViewAnalytics:     true,
		ViewDashboard:     true,
	},
	types.PlanPremium: {
		ManageUsers:       true,
		ManageTemplates:   true,
		ViewConversations: true,
		ViewAnalytics:     true,
		PrioritySupport:   true,
		ViewDashboard:     true,
		ManageAPI:         true,
	},
}

// freeFallback is the most restrictive tier, used as the safe default when a
// referenced plan cannot be resolved at all.
var freeFallback = types.Plan{
	Code:     types.PlanFree,
	Name:     "Free",
	Limits:   defaultLimits[types.PlanFree],
	Features: defaultFeatures[types.PlanFree],
	Active:   true,
}

// DefaultLimits returns the built-in limits for a tier. Unknown codes fall
// back to the FREE limits to fail safely.
func DefaultLimits(code types.PlanCode) types.PlanLimits {
	if l, ok := defaultLimits[code]; ok {
		return l
	}
	return defaultLimits[types.PlanFree]
}

// DefaultFeatures mirrors DefaultLimits for the capability flags.
func DefaultFeatures(code types.PlanCode) types.PlanFeatures {
	if f, ok := defaultFeatures[code]; ok {
		return f
	}
	return defaultFeatures[types.PlanFree]
}

// Catalog resolves plans from storage with a built-in fallback. Plans are
// versioned by creation and never mutated in place, so resolved values may be
// cached freely by callers holding a subscription snapshot.
type Catalog struct {
	store PlanStore
}

// New creates a Catalog over the given store.
func New(store PlanStore) *Catalog {
	return &Catalog{store: store}
}

// ListActivePlans returns all active plans ordered for display.
func (c *Catalog) ListActivePlans(ctx context.Context, filter db.PlanFilter) ([]types.Plan, error) {
	return c.store.ListActive(ctx, filter)
}

// GetPlan returns the plan with the given id, or a not_found_plan error.
func (c *Catalog) GetPlan(ctx context.Context, id int64) (*types.Plan, error) {
	return c.store.GetByID(ctx, id)
}

// ResolvePlan returns the plan a subscription references, falling back to the
// built-in FREE definition when the row is gone. Entitlement evaluation must
// degrade to the most restrictive tier rather than crash when reference data
// is missing.
func (c *Catalog) ResolvePlan(ctx context.Context, id int64) (*types.Plan, error) {
	plan, err := c.store.GetByID(ctx, id)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundPlan {
			fallback := freeFallback
			fallback.ID = id
			return &fallback, nil
		}
		return nil, err
	}
	return plan, nil
}

// FreePlan returns the active FREE plan for new registrations, or the
// built-in fallback if the table has none.
func (c *Catalog) FreePlan(ctx context.Context) (*types.Plan, error) {
	plan, err := c.store.GetByCode(ctx, types.PlanFree)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundPlan {
			fallback := freeFallback
			return &fallback, nil
		}
		return nil, err
	}
	return plan, nil
}

// Hydrate attaches the referenced plan to each plan-backed subscription so
// downstream evaluation can resolve names and features. Custom subscriptions
// are left untouched.
func (c *Catalog) Hydrate(ctx context.Context, subs []*types.Subscription) error {
	for _, sub := range subs {
		planID, ok := sub.Source.PlanID()
		if !ok {
			continue
		}
		plan, err := c.ResolvePlan(ctx, planID)
		if err != nil {
			return err
		}
		sub.Plan = plan
	}
	return nil
}
