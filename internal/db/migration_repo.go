package db

import (
	"context"

	"github.com/Tahye23/servicessms-sub002/internal/types"
)

// MigrationRepo holds the backfill queries used to repair the denormalized
// user_login attribution on historical usage_records rows that predate the
// column's introduction. Attribution is recovered by joining through the
// owning send batch.
type MigrationRepo struct {
	db DBTX
}

// NewMigrationRepo creates a MigrationRepo backed by the given database
// connection (pool or transaction).
func NewMigrationRepo(db DBTX) *MigrationRepo {
	return &MigrationRepo{db: db}
}

// BackfillUserLogin attributes all unattributed ledger rows belonging to the
// given user's send batches. Rows that already carry a user_login are
// skipped, making the operation idempotent: a second run updates zero rows.
// Returns the number of rows updated.
func (r *MigrationRepo) BackfillUserLogin(ctx context.Context, userLogin string) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE usage_records r
		SET user_login = b.user_login,
		    user_id = b.user_id
		FROM send_batches b
		WHERE r.batch_id = b.id
		  AND r.user_login IS NULL
		  AND b.user_login = $1`,
		userLogin)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to backfill user login on ledger rows", err)
	}
	return tag.RowsAffected(), nil
}

// ListUserLogins pages through all user logins with keyset pagination so the
// full-dataset migration can walk every user in short batches and resume
// after the last processed login if interrupted.
func (r *MigrationRepo) ListUserLogins(ctx context.Context, afterLogin string, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT login FROM users
		WHERE login > $1
		ORDER BY login ASC
		LIMIT $2`,
		afterLogin, limit)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list user logins", err)
	}
	defer rows.Close()

	var logins []string
	for rows.Next() {
		var login string
		if err := rows.Scan(&login); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan user login row", err)
		}
		logins = append(logins, login)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating user login rows", err)
	}

	return logins, nil
}

// UserExists reports whether a user with the given login exists. Used by the
// single-user migration to distinguish "nothing to update" from "unknown
// user".
func (r *MigrationRepo) UserExists(ctx context.Context, userLogin string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE login = $1)`,
		userLogin,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check user existence", err)
	}
	return exists, nil
}
