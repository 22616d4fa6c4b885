// Package auth resolves bearer tokens to authenticated actors. Token
// issuance lives outside this service; this package only validates presented
// tokens against the api_tokens table.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Tahye23/servicessms-sub002/internal/core"
	"github.com/Tahye23/servicessms-sub002/internal/db"
	"github.com/Tahye23/servicessms-sub002/internal/types"
)

// TokenResolver authenticates bearer tokens against stored token hashes.
// Only the SHA-256 of a token is persisted; the plaintext never touches the
// database.
type TokenResolver struct {
	db     db.DBTX
	logger *slog.Logger
	now    func() time.Time
}

var _ core.Authenticator = (*TokenResolver)(nil)

// NewTokenResolver creates a resolver backed by the given database handle.
func NewTokenResolver(dbtx db.DBTX, logger *slog.Logger) *TokenResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenResolver{
		db:     dbtx,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

const resolveTokenQuery = `
	SELECT t.user_id, u.login, u.role, t.expires_at
	FROM api_tokens t
	JOIN users u ON u.id = t.user_id
	WHERE t.token_hash = $1
	  AND t.revoked_at IS NULL`

// ResolveToken looks up the presented token and returns the actor it belongs
// to. Unknown tokens and revoked tokens are indistinguishable to the caller.
func (r *TokenResolver) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	var (
		userID    int64
		login     string
		role      string
		expiresAt *time.Time
	)

	err := r.db.QueryRow(ctx, resolveTokenQuery, hashToken(token)).
		Scan(&userID, &login, &role, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "Unknown or revoked token", nil)
	}
	if err != nil {
		r.logger.Error("token lookup failed", "error", err)
		return nil, types.NewAppError(types.ErrCodeInternalDB, "Token lookup failed", err)
	}

	if expiresAt != nil && expiresAt.Before(r.now()) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "Token has expired", nil)
	}

	return &types.Actor{
		UserID: userID,
		Login:  login,
		Role:   types.UserRole(role),
	}, nil
}

// hashToken returns the hex SHA-256 digest stored in api_tokens.token_hash.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
