package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tahye23/servicessms-sub002/internal/types"
)

type mockQuotaAdminService struct {
	viewQuotaFn     func(ctx context.Context, userLogin string) (*types.QuotaReport, error)
	increaseQuotaFn func(ctx context.Context, actor types.Actor, userLogin string, smsDelta, whatsappDelta *int64) (*types.QuotaMutationResult, error)
	updateQuotaFn   func(ctx context.Context, actor types.Actor, userLogin string, newSMS, newWhatsapp *int64) (*types.QuotaMutationResult, error)
	recalculateFn   func(ctx context.Context, actor types.Actor, userLogin string) (*types.RecalculateResult, error)
}

func (m *mockQuotaAdminService) ViewQuota(ctx context.Context, userLogin string) (*types.QuotaReport, error) {
	return m.viewQuotaFn(ctx, userLogin)
}

func (m *mockQuotaAdminService) IncreaseQuota(ctx context.Context, actor types.Actor, userLogin string, smsDelta, whatsappDelta *int64) (*types.QuotaMutationResult, error) {
	return m.increaseQuotaFn(ctx, actor, userLogin, smsDelta, whatsappDelta)
}

func (m *mockQuotaAdminService) UpdateQuota(ctx context.Context, actor types.Actor, userLogin string, newSMS, newWhatsapp *int64) (*types.QuotaMutationResult, error) {
	return m.updateQuotaFn(ctx, actor, userLogin, newSMS, newWhatsapp)
}

func (m *mockQuotaAdminService) Recalculate(ctx context.Context, actor types.Actor, userLogin string) (*types.RecalculateResult, error) {
	return m.recalculateFn(ctx, actor, userLogin)
}

type mockMigrationService struct {
	migrateUserFn func(ctx context.Context, actor types.Actor, userLogin string) (*types.MigrationResult, error)
	migrateAllFn  func(ctx context.Context, actor types.Actor) (*types.MigrateAllResult, error)
}

func (m *mockMigrationService) MigrateUser(ctx context.Context, actor types.Actor, userLogin string) (*types.MigrationResult, error) {
	return m.migrateUserFn(ctx, actor, userLogin)
}

func (m *mockMigrationService) MigrateAll(ctx context.Context, actor types.Actor) (*types.MigrateAllResult, error) {
	return m.migrateAllFn(ctx, actor)
}

func adminRouter(quotas QuotaAdminService, migrations MigrationService) *chi.Mux {
	r := chi.NewRouter()
	NewAdminQuotaHandler(quotas, migrations, discardLogger()).RegisterRoutes(r)
	return r
}

func asAdmin(r *http.Request) *http.Request {
	return r.WithContext(types.WithActor(r.Context(),
		types.Actor{UserID: 1, Login: "ops", Role: types.RoleAdmin}))
}

func TestAdminRoleGuard(t *testing.T) {
	router := adminRouter(&mockQuotaAdminService{}, &mockMigrationService{})

	t.Run("unauthenticated is 401", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/abonnements/view-quota/acme", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("non-admin is 403", func(t *testing.T) {
		req := asUser(httptest.NewRequest(http.MethodPost, "/admin/abonnements/migrate-all", nil))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), string(types.ErrCodePermissionRole))
	})
}

func TestViewQuota(t *testing.T) {
	t.Run("reports the target user", func(t *testing.T) {
		router := adminRouter(&mockQuotaAdminService{
			viewQuotaFn: func(ctx context.Context, userLogin string) (*types.QuotaReport, error) {
				assert.Equal(t, "acme", userLogin)
				return &types.QuotaReport{UserLogin: "acme"}, nil
			},
		}, nil)

		req := asAdmin(httptest.NewRequest(http.MethodGet, "/admin/abonnements/view-quota/acme", nil))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"user_login":"acme"`)
	})

	t.Run("unknown user is 404", func(t *testing.T) {
		router := adminRouter(&mockQuotaAdminService{
			viewQuotaFn: func(ctx context.Context, userLogin string) (*types.QuotaReport, error) {
				return nil, types.NewAppError(types.ErrCodeNotFoundUser, "no subscriptions", nil)
			},
		}, nil)

		req := asAdmin(httptest.NewRequest(http.MethodGet, "/admin/abonnements/view-quota/ghost", nil))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestIncreaseQuotaEndpoint(t *testing.T) {
	t.Run("passes deltas and actor through", func(t *testing.T) {
		router := adminRouter(&mockQuotaAdminService{
			increaseQuotaFn: func(ctx context.Context, actor types.Actor, userLogin string, smsDelta, whatsappDelta *int64) (*types.QuotaMutationResult, error) {
				assert.Equal(t, "ops", actor.Login)
				assert.Equal(t, "acme", userLogin)
				require.NotNil(t, smsDelta)
				assert.Equal(t, int64(100), *smsDelta)
				assert.Nil(t, whatsappDelta)
				return &types.QuotaMutationResult{
					UserLogin: "acme",
					Changes: []types.LimitChange{{
						SubscriptionID: 7,
						Channel:        types.ChannelSMS,
						OldLimit:       1000,
						NewLimit:       1100,
					}},
				}, nil
			},
		}, nil)

		body := bytes.NewBufferString(`{"user_login": "acme", "sms_delta": 100}`)
		req := asAdmin(httptest.NewRequest(http.MethodPost, "/admin/abonnements/increase-quota", body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"new_limit":1100`)
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		router := adminRouter(&mockQuotaAdminService{}, nil)

		body := bytes.NewBufferString(`{"user_login": "acme", "sms_delta": `)
		req := asAdmin(httptest.NewRequest(http.MethodPost, "/admin/abonnements/increase-quota", body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown body field is 400", func(t *testing.T) {
		router := adminRouter(&mockQuotaAdminService{}, nil)

		body := bytes.NewBufferString(`{"user_login": "acme", "sms": 100}`)
		req := asAdmin(httptest.NewRequest(http.MethodPost, "/admin/abonnements/increase-quota", body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing user_login is 400", func(t *testing.T) {
		router := adminRouter(&mockQuotaAdminService{}, nil)

		body := bytes.NewBufferString(`{"sms_delta": 100}`)
		req := asAdmin(httptest.NewRequest(http.MethodPost, "/admin/abonnements/increase-quota", body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), string(types.ErrCodeValidationMissingField))
	})

	t.Run("validation failures from the service are 400", func(t *testing.T) {
		router := adminRouter(&mockQuotaAdminService{
			increaseQuotaFn: func(ctx context.Context, actor types.Actor, userLogin string, smsDelta, whatsappDelta *int64) (*types.QuotaMutationResult, error) {
				return nil, types.NewAppError(types.ErrCodeValidationMissingDelta, "at least one delta is required", nil)
			},
		}, nil)

		body := bytes.NewBufferString(`{"user_login": "acme"}`)
		req := asAdmin(httptest.NewRequest(http.MethodPost, "/admin/abonnements/increase-quota", body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), string(types.ErrCodeValidationMissingDelta))
	})
}

func TestUpdateQuotaEndpoint(t *testing.T) {
	router := adminRouter(&mockQuotaAdminService{
		updateQuotaFn: func(ctx context.Context, actor types.Actor, userLogin string, newSMS, newWhatsapp *int64) (*types.QuotaMutationResult, error) {
			require.NotNil(t, newWhatsapp)
			assert.Equal(t, int64(-1), *newWhatsapp)
			assert.Nil(t, newSMS)
			return &types.QuotaMutationResult{UserLogin: userLogin}, nil
		},
	}, nil)

	body := bytes.NewBufferString(`{"user_login": "acme", "whatsapp_limit": -1}`)
	req := asAdmin(httptest.NewRequest(http.MethodPost, "/admin/abonnements/update-quota", body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecalculateEndpoint(t *testing.T) {
	router := adminRouter(&mockQuotaAdminService{
		recalculateFn: func(ctx context.Context, actor types.Actor, userLogin string) (*types.RecalculateResult, error) {
			return &types.RecalculateResult{
				UserLogin: userLogin,
				Window:    types.ReconcileFromStart,
				Subscriptions: []types.CounterChange{{
					SubscriptionID: 7,
					OldSMSUsed:     120,
					NewSMSUsed:     95,
				}},
			}, nil
		},
	}, nil)

	body := bytes.NewBufferString(`{"user_login": "acme"}`)
	req := asAdmin(httptest.NewRequest(http.MethodPost, "/admin/abonnements/recalculate", body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"new_sms_used":95`)
}

func TestMigrateUserEndpoint(t *testing.T) {
	router := adminRouter(nil, &mockMigrationService{
		migrateUserFn: func(ctx context.Context, actor types.Actor, userLogin string) (*types.MigrationResult, error) {
			assert.Equal(t, "acme", userLogin)
			return &types.MigrationResult{UserLogin: "acme", RecordsUpdated: 42}, nil
		},
	})

	body := bytes.NewBufferString(`{"user_login": "acme"}`)
	req := asAdmin(httptest.NewRequest(http.MethodPost, "/admin/abonnements/migrate-user", body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"records_updated":42`)
}

func TestMigrateAllEndpoint(t *testing.T) {
	router := adminRouter(nil, &mockMigrationService{
		migrateAllFn: func(ctx context.Context, actor types.Actor) (*types.MigrateAllResult, error) {
			return &types.MigrateAllResult{
				TotalUsersProcessed: 3,
				TotalRecordsUpdated: 30,
				Failures: []types.OperationFailure{{
					UserLogin: "bravo",
					Error:     "backfill failed",
				}},
			}, nil
		},
	})

	req := asAdmin(httptest.NewRequest(http.MethodPost, "/admin/abonnements/migrate-all", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_users_processed":3`)
	assert.Contains(t, w.Body.String(), `"bravo"`)
}
