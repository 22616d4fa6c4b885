package types

import "context"

// Actor represents the authenticated entity performing an operation. It is
// resolved by the authentication collaborator and injected into the request
// context by the auth middleware; the engine itself never validates tokens.
type Actor struct {
	UserID int64    `json:"user_id"`
	Login  string   `json:"login"`
	Role   UserRole `json:"role"`
}

// IsAdmin reports whether the actor may call administrative quota operations.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Context keys
type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
)

// WithActor stores the Actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the Actor from the context.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// WithRequestID stores the request correlation ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request correlation ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
