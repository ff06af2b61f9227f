package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the authenticated principal identifier in context.
func ContextWithActor(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, principal)
}

// ActorFromContext extracts the authenticated principal identifier, if any.
func ActorFromContext(ctx context.Context) string {
	principal, _ := ctx.Value(actorContextKey{}).(string)
	return principal
}
