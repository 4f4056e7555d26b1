package ledger

import "context"

// Actor is whoever performs a ledger operation; it ends up in the audit log.
type Actor struct {
	ID   string
	Name string
}

var SystemActor = Actor{ID: "system", Name: "system"}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok && a.ID != ""
}
