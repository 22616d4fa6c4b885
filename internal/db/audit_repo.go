package db

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Tahye23/servicessms-sub002/internal/types"
)

// AuditRepo persists before/after records of administrative quota mutations.
// Audit writes must never fail the mutation they describe; callers log and
// continue on error.
type AuditRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewAuditRepo creates an AuditRepo backed by the given database connection
// (pool or transaction).
func NewAuditRepo(db DBTX, logger *slog.Logger) *AuditRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditRepo{db: db, logger: logger}
}

// Log inserts one audit event. A missing ID or timestamp is filled in here so
// call sites stay terse.
func (r *AuditRepo) Log(ctx context.Context, event types.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, `INSERT INTO quota_audit_events
			(id, actor, action, target_login, before_state, after_state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.Actor, event.Action, event.TargetLogin,
		event.Before, event.After, event.CreatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to write audit event", err)
	}
	return nil
}
