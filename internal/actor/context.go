package actor

import (
	"context"

	"github.com/guildticket/guildticket/internal/shared"
)

type actorContextKey struct{}

// WithActor binds a to ctx. Everything derived from the returned context,
// including goroutines it is handed to, observes a; sibling contexts do not.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, a)
}

// Run validates a and invokes fn with a bound.
func Run(ctx context.Context, a Actor, fn func(context.Context) error) error {
	if a == nil {
		return &shared.ActorValidationError{Reason: "nil actor"}
	}
	if err := validate(a); err != nil {
		return err
	}
	return fn(WithActor(ctx, a))
}

// Current returns the bound actor or shared.ErrActorContextMissing.
func Current(ctx context.Context) (Actor, error) {
	a, ok := TryCurrent(ctx)
	if !ok {
		return nil, shared.ErrActorContextMissing
	}
	return a, nil
}

// TryCurrent returns the bound actor, if any.
func TryCurrent(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return nil, false
	}
	a, ok := ctx.Value(actorContextKey{}).(Actor)
	return a, ok && a != nil
}
