// Package handlers implements the HTTP handlers of the entitlement engine:
// the self-service subscription surface and the admin quota operations.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Tahye23/servicessms-sub002/internal/core"
	"github.com/Tahye23/servicessms-sub002/internal/types"
)

// maxStatsRange caps the stats-by-range window at one year.
const maxStatsRange = 366 * 24 * time.Hour

// EntitlementService serves the per-user entitlement snapshot; implemented by
// quota.Service.
type EntitlementService interface {
	SubscriptionInfo(ctx context.Context, userLogin string) (*types.EntitlementSnapshot, error)
}

// StatsService aggregates the send ledger for the dashboard; implemented by
// ledger.Reader.
type StatsService interface {
	Stats(ctx context.Context, userID int64, from, to time.Time) (*types.SendStats, error)
}

// SubscriptionHandler serves the authenticated self-service endpoints.
type SubscriptionHandler struct {
	entitlements EntitlementService
	stats        StatsService
	logger       *slog.Logger
}

// NewSubscriptionHandler creates the handler.
func NewSubscriptionHandler(entitlements EntitlementService, stats StatsService, logger *slog.Logger) *SubscriptionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionHandler{
		entitlements: entitlements,
		stats:        stats,
		logger:       logger,
	}
}

// RegisterRoutes mounts the self-service endpoints. Authentication is applied
// by the parent router; any authenticated user may read their own data.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/subscription", func(r chi.Router) {
		r.Get("/user/subscription-info", h.GetSubscriptionInfo)
		r.Get("/stats-by-range", h.GetStatsByRange)
	})
}

// GetSubscriptionInfo handles GET /api/subscription/user/subscription-info.
// The target user is always the authenticated actor.
func (h *SubscriptionHandler) GetSubscriptionInfo(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return
	}

	snapshot, err := h.entitlements.SubscriptionInfo(r.Context(), actor.Login)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.OK(w, r, snapshot)
}

// GetStatsByRange handles GET /api/subscription/stats-by-range. The range
// comes from startDate and endDate query parameters (snake_case aliases are
// accepted) in YYYY-MM-DD form, with the end date inclusive.
func (h *SubscriptionHandler) GetStatsByRange(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return
	}

	q := r.URL.Query()
	from, to, err := parseDateRange(queryParam(q, "startDate", "start_date"), queryParam(q, "endDate", "end_date"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	stats, err := h.stats.Stats(r.Context(), actor.UserID, from, to)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.OK(w, r, stats)
}

// queryParam returns the first non-empty value among the accepted aliases.
func queryParam(q url.Values, names ...string) string {
	for _, name := range names {
		if v := q.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// parseDateRange validates the start/end query parameters: both required,
// start not after end, range capped at one year. The end date is extended to
// the final instant of its day so single-day ranges work naturally.
func parseDateRange(startStr, endStr string) (time.Time, time.Time, error) {
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, types.NewAppError(types.ErrCodeValidationMissingField,
			"startDate and endDate query parameters are required", nil)
	}

	from, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return time.Time{}, time.Time{}, types.NewAppError(types.ErrCodeValidationDateRange,
			"startDate must be formatted as YYYY-MM-DD", err)
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		return time.Time{}, time.Time{}, types.NewAppError(types.ErrCodeValidationDateRange,
			"endDate must be formatted as YYYY-MM-DD", err)
	}

	if end.Before(from) {
		return time.Time{}, time.Time{}, types.NewAppError(types.ErrCodeValidationDateOrder,
			"endDate must not be before startDate", nil)
	}

	to := end.Add(24*time.Hour - time.Nanosecond)
	if to.Sub(from) > maxStatsRange {
		return time.Time{}, time.Time{}, types.NewAppError(types.ErrCodeValidationDateRange,
			"date range must not exceed one year", nil)
	}
	return from, to, nil
}
