package shared

import "context"

// Role names recognised by the core. Plan and feature gating live upstream.
const (
	RoleOwner      = "owner"
	RoleAccountant = "accountant"
	RoleMember     = "member"
)

// Actor identifies the authenticated user and team behind a request.
// Authentication itself is an upstream concern; the core only consumes the
// resolved identity.
type Actor struct {
	TeamID int64
	UserID int64
	Role   string
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. The zero Actor means
// no identity was attached.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}
