package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tahye23/servicessms-sub002/internal/types"
)

type mockEntitlementService struct {
	subscriptionInfoFn func(ctx context.Context, userLogin string) (*types.EntitlementSnapshot, error)
}

func (m *mockEntitlementService) SubscriptionInfo(ctx context.Context, userLogin string) (*types.EntitlementSnapshot, error) {
	return m.subscriptionInfoFn(ctx, userLogin)
}

type mockStatsService struct {
	statsFn func(ctx context.Context, userID int64, from, to time.Time) (*types.SendStats, error)
}

func (m *mockStatsService) Stats(ctx context.Context, userID int64, from, to time.Time) (*types.SendStats, error) {
	return m.statsFn(ctx, userID, from, to)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func subscriptionRouter(entitlements EntitlementService, stats StatsService) *chi.Mux {
	r := chi.NewRouter()
	NewSubscriptionHandler(entitlements, stats, discardLogger()).RegisterRoutes(r)
	return r
}

func asUser(r *http.Request) *http.Request {
	return r.WithContext(types.WithActor(r.Context(),
		types.Actor{UserID: 12, Login: "acme", Role: types.RoleUser}))
}

func TestGetSubscriptionInfo(t *testing.T) {
	t.Run("returns the actor's snapshot", func(t *testing.T) {
		router := subscriptionRouter(&mockEntitlementService{
			subscriptionInfoFn: func(ctx context.Context, userLogin string) (*types.EntitlementSnapshot, error) {
				assert.Equal(t, "acme", userLogin)
				return &types.EntitlementSnapshot{
					UserLogin: "acme",
					PlanName:  "SMS Pro",
					Status:    types.SubStatusActive,
				}, nil
			},
		}, nil)

		req := asUser(httptest.NewRequest(http.MethodGet, "/subscription/user/subscription-info", nil))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Data types.EntitlementSnapshot `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "SMS Pro", body.Data.PlanName)
	})

	t.Run("unauthenticated is 401", func(t *testing.T) {
		router := subscriptionRouter(&mockEntitlementService{}, nil)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/subscription/user/subscription-info", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown user maps to 404", func(t *testing.T) {
		router := subscriptionRouter(&mockEntitlementService{
			subscriptionInfoFn: func(ctx context.Context, userLogin string) (*types.EntitlementSnapshot, error) {
				return nil, types.NewAppError(types.ErrCodeNotFoundUser, "no subscriptions", nil)
			},
		}, nil)

		req := asUser(httptest.NewRequest(http.MethodGet, "/subscription/user/subscription-info", nil))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGetStatsByRange(t *testing.T) {
	t.Run("valid range reaches the ledger", func(t *testing.T) {
		router := subscriptionRouter(nil, &mockStatsService{
			statsFn: func(ctx context.Context, userID int64, from, to time.Time) (*types.SendStats, error) {
				assert.Equal(t, int64(12), userID)
				assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), from)
				assert.Equal(t, 2025, to.Year())
				return &types.SendStats{
					StartDate: from,
					EndDate:   to,
					Channels: types.UsageByChannel{
						types.ChannelSMS: {Success: 40, Total: 42},
					},
				}, nil
			},
		})

		req := asUser(httptest.NewRequest(http.MethodGet,
			"/subscription/stats-by-range?startDate=2025-06-01&endDate=2025-06-30", nil))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"success":40`)
	})

	t.Run("missing parameters are 400", func(t *testing.T) {
		router := subscriptionRouter(nil, &mockStatsService{})

		req := asUser(httptest.NewRequest(http.MethodGet, "/subscription/stats-by-range?startDate=2025-06-01", nil))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("reversed range is 400", func(t *testing.T) {
		router := subscriptionRouter(nil, &mockStatsService{})

		req := asUser(httptest.NewRequest(http.MethodGet,
			"/subscription/stats-by-range?startDate=2025-06-30&endDate=2025-06-01", nil))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), string(types.ErrCodeValidationDateOrder))
	})

	t.Run("range over a year is 400", func(t *testing.T) {
		router := subscriptionRouter(nil, &mockStatsService{})

		req := asUser(httptest.NewRequest(http.MethodGet,
			"/subscription/stats-by-range?startDate=2024-01-01&endDate=2025-06-30", nil))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("single day range works with snake_case aliases", func(t *testing.T) {
		router := subscriptionRouter(nil, &mockStatsService{
			statsFn: func(ctx context.Context, userID int64, from, to time.Time) (*types.SendStats, error) {
				assert.True(t, to.After(from))
				return &types.SendStats{Channels: types.UsageByChannel{}}, nil
			},
		})

		req := asUser(httptest.NewRequest(http.MethodGet,
			"/subscription/stats-by-range?start_date=2025-06-01&end_date=2025-06-01", nil))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("ledger outage maps to 502", func(t *testing.T) {
		router := subscriptionRouter(nil, &mockStatsService{
			statsFn: func(ctx context.Context, userID int64, from, to time.Time) (*types.SendStats, error) {
				return nil, types.NewAppError(types.ErrCodeUpstreamLedger, "ledger read failed", nil)
			},
		})

		req := asUser(httptest.NewRequest(http.MethodGet,
			"/subscription/stats-by-range?startDate=2025-06-01&endDate=2025-06-30", nil))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}
