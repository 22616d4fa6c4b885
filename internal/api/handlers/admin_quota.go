package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Tahye23/servicessms-sub002/internal/core"
	"github.com/Tahye23/servicessms-sub002/internal/types"
)

// QuotaAdminService is the administrative surface of the quota engine;
// implemented by quota.Service.
type QuotaAdminService interface {
	ViewQuota(ctx context.Context, userLogin string) (*types.QuotaReport, error)
	IncreaseQuota(ctx context.Context, actor types.Actor, userLogin string, smsDelta, whatsappDelta *int64) (*types.QuotaMutationResult, error)
	UpdateQuota(ctx context.Context, actor types.Actor, userLogin string, newSMS, newWhatsapp *int64) (*types.QuotaMutationResult, error)
	Recalculate(ctx context.Context, actor types.Actor, userLogin string) (*types.RecalculateResult, error)
}

// MigrationService runs the ledger attribution backfill; implemented by
// migration.Service.
type MigrationService interface {
	MigrateUser(ctx context.Context, actor types.Actor, userLogin string) (*types.MigrationResult, error)
	MigrateAll(ctx context.Context, actor types.Actor) (*types.MigrateAllResult, error)
}

// IncreaseQuotaRequest is the body of POST increase-quota. Pointer fields
// distinguish "absent" from zero; at least one delta must be positive.
type IncreaseQuotaRequest struct {
	UserLogin     string `json:"user_login"`
	SMSDelta      *int64 `json:"sms_delta,omitempty"`
	WhatsappDelta *int64 `json:"whatsapp_delta,omitempty"`
}

// UpdateQuotaRequest is the body of POST update-quota. Absent channels are
// left untouched; -1 sets a channel unlimited.
type UpdateQuotaRequest struct {
	UserLogin     string `json:"user_login"`
	SMSLimit      *int64 `json:"sms_limit,omitempty"`
	WhatsappLimit *int64 `json:"whatsapp_limit,omitempty"`
}

// TargetUserRequest is the body of the POST operations that only name their
// target user (recalculate, migrate-user).
type TargetUserRequest struct {
	UserLogin string `json:"user_login"`
}

// AdminQuotaHandler serves the admin quota repair endpoints.
type AdminQuotaHandler struct {
	quotas     QuotaAdminService
	migrations MigrationService
	logger     *slog.Logger
}

// NewAdminQuotaHandler creates the handler.
func NewAdminQuotaHandler(quotas QuotaAdminService, migrations MigrationService, logger *slog.Logger) *AdminQuotaHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminQuotaHandler{
		quotas:     quotas,
		migrations: migrations,
		logger:     logger,
	}
}

// RegisterRoutes mounts the admin endpoints. Every route requires the admin
// role on top of the authentication applied by the parent router.
func (h *AdminQuotaHandler) RegisterRoutes(r chi.Router) {
	r.Route("/admin/abonnements", func(r chi.Router) {
		r.Use(requireAdmin)
		r.Get("/view-quota/{userLogin}", h.ViewQuota)
		r.Post("/increase-quota", h.IncreaseQuota)
		r.Post("/update-quota", h.UpdateQuota)
		r.Post("/recalculate", h.Recalculate)
		r.Post("/migrate-user", h.MigrateUser)
		r.Post("/migrate-all", h.MigrateAll)
	})
}

// requireAdmin guards a route subtree with the admin role check. Local to the
// handler package so routes stay guarded even when mounted without the full
// server chassis.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := types.GetActor(r.Context())
		if !ok {
			core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
			return
		}
		if !actor.IsAdmin() {
			core.Error(w, r, types.NewAppError(types.ErrCodePermissionRole, "Insufficient role for this operation", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// actorFrom returns the authenticated actor; routes behind requireAdmin
// always have one.
func actorFrom(r *http.Request) types.Actor {
	actor, _ := types.GetActor(r.Context())
	return actor
}

// ViewQuota handles GET /api/admin/abonnements/view-quota/{userLogin}.
func (h *AdminQuotaHandler) ViewQuota(w http.ResponseWriter, r *http.Request) {
	report, err := h.quotas.ViewQuota(r.Context(), chi.URLParam(r, "userLogin"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.OK(w, r, report)
}

// requireTargetUser rejects bodies that omit the target user login.
func requireTargetUser(userLogin string) error {
	if userLogin == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "user_login is required", nil)
	}
	return nil
}

// IncreaseQuota handles POST /api/admin/abonnements/increase-quota.
func (h *AdminQuotaHandler) IncreaseQuota(w http.ResponseWriter, r *http.Request) {
	var req IncreaseQuotaRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := requireTargetUser(req.UserLogin); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.quotas.IncreaseQuota(r.Context(), actorFrom(r), req.UserLogin,
		req.SMSDelta, req.WhatsappDelta)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.OK(w, r, result)
}

// UpdateQuota handles POST /api/admin/abonnements/update-quota.
func (h *AdminQuotaHandler) UpdateQuota(w http.ResponseWriter, r *http.Request) {
	var req UpdateQuotaRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := requireTargetUser(req.UserLogin); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.quotas.UpdateQuota(r.Context(), actorFrom(r), req.UserLogin,
		req.SMSLimit, req.WhatsappLimit)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.OK(w, r, result)
}

// Recalculate handles POST /api/admin/abonnements/recalculate.
func (h *AdminQuotaHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	var req TargetUserRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := requireTargetUser(req.UserLogin); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.quotas.Recalculate(r.Context(), actorFrom(r), req.UserLogin)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("usage recalculated",
		"user_login", req.UserLogin,
		"subscriptions", len(result.Subscriptions),
		"failures", len(result.Failures))
	core.OK(w, r, result)
}

// MigrateUser handles POST /api/admin/abonnements/migrate-user.
func (h *AdminQuotaHandler) MigrateUser(w http.ResponseWriter, r *http.Request) {
	var req TargetUserRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := requireTargetUser(req.UserLogin); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.migrations.MigrateUser(r.Context(), actorFrom(r), req.UserLogin)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.OK(w, r, result)
}

// MigrateAll handles POST /api/admin/abonnements/migrate-all.
func (h *AdminQuotaHandler) MigrateAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.migrations.MigrateAll(r.Context(), actorFrom(r))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("full ledger migration finished",
		"users_processed", result.TotalUsersProcessed,
		"records_updated", result.TotalRecordsUpdated,
		"failures", len(result.Failures))
	core.OK(w, r, result)
}
