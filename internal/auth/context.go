package auth

import (
	"context"

	"taskdeck.org/internal/rbac"
)

type ctxKey string

const actorKey ctxKey = "auth_actor"

// ContextWithActor stores the authenticated actor in the context.
func ContextWithActor(ctx context.Context, actor rbac.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext extracts the authenticated actor from the context.
func ActorFromContext(ctx context.Context) (rbac.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(rbac.Actor)
	if !ok || actor.UserID == "" {
		return rbac.Actor{}, false
	}
	return actor, true
}
