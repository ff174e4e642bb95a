package stockledger

import "context"

type actorKey struct{}

// WithActor returns a context that names the actor performing ledger
// commands.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor set by WithActor, or "".
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok {
		return v
	}
	return ""
}

// actor picks the explicit actor, then the context's, then the default.
func (l *Ledger) actor(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if a := ActorFromContext(ctx); a != "" {
		return a
	}
	return l.defaultActor
}
