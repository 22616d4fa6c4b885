package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Tahye23/servicessms-sub002/internal/types"
)

// PlanRepo provides read access to the plans table. Plans are versioned by
// creation and never mutated in place once referenced by an active
// subscription, so this repository exposes no update path.
type PlanRepo struct {
	db DBTX
}

// NewPlanRepo creates a PlanRepo backed by the given database connection
// (pool or transaction).
func NewPlanRepo(db DBTX) *PlanRepo {
	return &PlanRepo{db: db}
}

// PlanFilter narrows ListActive results. Zero-valued fields are ignored.
type PlanFilter struct {
	BillingPeriod types.BillingPeriod
}

const planColumns = `id, code, name, price_cents, billing_period,
	sms_limit, whatsapp_limit, users_limit, templates_limit, api_calls_limit, storage_limit_mb,
	manage_users, manage_templates, view_conversations, view_analytics,
	priority_support, view_dashboard, manage_api,
	sort_order, active, created_date`

// ListActive returns all active plans ordered by sort_order, optionally
// filtered by billing period.
func (r *PlanRepo) ListActive(ctx context.Context, filter PlanFilter) ([]types.Plan, error) {
	query := `SELECT ` + planColumns + `
		FROM plans
		WHERE active
		  AND ($1 = '' OR billing_period = $1)
		ORDER BY sort_order ASC, id ASC`

	rows, err := r.db.Query(ctx, query, string(filter.BillingPeriod))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active plans", err)
	}
	defer rows.Close()

	var plans []types.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan plan row", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating plan rows", err)
	}

	return plans, nil
}

// GetByID returns the plan with the given id, or a not_found_plan error.
func (r *PlanRepo) GetByID(ctx context.Context, id int64) (*types.Plan, error) {
	row := r.db.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id)

	plan, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPlan, "plan not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get plan", err)
	}
	return &plan, nil
}

// GetByCode returns the newest active plan carrying the given built-in code.
// Used to resolve the FREE default on registration.
func (r *PlanRepo) GetByCode(ctx context.Context, code types.PlanCode) (*types.Plan, error) {
	row := r.db.QueryRow(ctx, `SELECT `+planColumns+`
		FROM plans
		WHERE code = $1 AND active
		ORDER BY created_date DESC
		LIMIT 1`, string(code))

	plan, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPlan, "no active plan for code "+string(code), nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get plan by code", err)
	}
	return &plan, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (types.Plan, error) {
	var p types.Plan
	err := row.Scan(
		&p.ID, &p.Code, &p.Name, &p.PriceCents, &p.BillingPeriod,
		&p.Limits.SMS, &p.Limits.Whatsapp, &p.Limits.Users, &p.Limits.Templates,
		&p.Limits.APICallsPerDay, &p.Limits.StorageMB,
		&p.Features.ManageUsers, &p.Features.ManageTemplates, &p.Features.ViewConversations,
		&p.Features.ViewAnalytics, &p.Features.PrioritySupport, &p.Features.ViewDashboard,
		&p.Features.ManageAPI,
		&p.SortOrder, &p.Active, &p.CreatedDate,
	)
	return p, err
}
