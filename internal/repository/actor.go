package repository

import "context"

type actorKey struct{}

// Actor identifies the principal on whose behalf repository writes are made.
type Actor struct {
	Name     string
	Elevated bool
}

// WithActor returns a context carrying an unprivileged actor.
func WithActor(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, actorKey{}, Actor{Name: name})
}

// ActorFromContext returns the actor carried by ctx, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}

// Sudo runs fn with an elevated actor. The elevation is only visible to the
// context passed to fn and ends when fn returns.
func Sudo(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return fn(context.WithValue(ctx, actorKey{}, Actor{Name: name, Elevated: true}))
}

// requireElevated returns the acting principal name or ErrPermissionDenied.
func requireElevated(ctx context.Context) (string, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !actor.Elevated {
		return "", ErrPermissionDenied
	}
	return actor.Name, nil
}
