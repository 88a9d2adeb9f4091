package item

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// Resolver performs the one-way open -> resolved transition.
type Resolver struct {
	store  Store
	roles  RoleSource
	logger log.Logger
	opts   Options
}

// NewResolver creates a Resolver that authorizes against roles and writes to store.
func NewResolver(store Store, roles RoleSource, logger log.Logger, opts Options) *Resolver {
	if logger == nil {
		logger = log.Nop()
	}
	return &Resolver{
		store:  store,
		roles:  roles,
		logger: logger,
		opts:   opts,
	}
}

// Resolve marks the item resolved on behalf of p. Only admins may resolve.
// Resolving an already resolved item succeeds and keeps its ResolvedAt.
func (r *Resolver) Resolve(ctx context.Context, id string, p Principal) error {
	ctx, span := tracer.Start(ctx, "item.Resolve", trace.WithAttributes(
		attribute.String("itemdesk.item.id", id),
		attribute.String("itemdesk.principal.id", p.ID),
	))
	defer span.End()

	outcome, err := r.resolve(ctx, id, p)
	span.SetAttributes(attribute.String("itemdesk.resolve.outcome", outcome))
	if err != nil && outcome == OutcomeError {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if r.opts.Hooks.OnResolve != nil {
		r.opts.Hooks.OnResolve(outcome)
	}
	return err
}

func (r *Resolver) resolve(ctx context.Context, id string, p Principal) (string, error) {
	L := r.logger.With("item_id", id, "principal", p.ID)

	// role before existence, so unauthorized callers learn nothing about the item
	if err := authorize(ctx, r.roles, r.opts, p, RoleAdmin); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			L.Warn(ctx, "resolve denied", "reason", "not admin")
			return OutcomeUnauthorized, err
		}
		L.Error(ctx, err, "role lookup failed")
		return OutcomeError, err
	}

	cur, err := r.get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return OutcomeNotFound, err
		}
		L.Error(ctx, err, "get item failed")
		return OutcomeError, err
	}
	if cur.Resolved {
		return OutcomeAlreadyResolved, nil
	}

	at := r.opts.now().UTC()
	var swapped bool
	err = r.opts.call(ctx, func(ctx context.Context) error {
		var err error
		swapped, err = r.store.CompareAndSetResolved(ctx, id, false, at)
		return err
	})
	if err != nil {
		L.Error(ctx, err, "resolve write failed")
		return OutcomeError, transient("resolve item", err)
	}
	if swapped {
		L.Info(ctx, "item resolved", "resolved_at", at)
		return OutcomeResolved, nil
	}

	// lost the CAS: either another resolve won, or the item vanished
	if _, err := r.get(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return OutcomeNotFound, err
		}
		return OutcomeError, err
	}
	L.Info(ctx, "resolve raced, already resolved", "reason", ErrConflict.Error())
	return OutcomeAlreadyResolved, nil
}

func (r *Resolver) get(ctx context.Context, id string) (*Item, error) {
	var (
		it *Item
		ok bool
	)
	err := r.opts.call(ctx, func(ctx context.Context) error {
		var err error
		it, ok, err = r.store.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, transient("get item", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return it, nil
}

// authorize re-reads p's role and requires want. The caller-supplied p.Role is ignored.
func authorize(ctx context.Context, roles RoleSource, opts Options, p Principal, want Role) error {
	if p.ID == "" {
		return ErrUnauthorized
	}
	var role Role
	err := opts.call(ctx, func(ctx context.Context) error {
		var err error
		role, err = roles.Role(ctx, p.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound) {
			return ErrUnauthorized
		}
		return transient("lookup role", err)
	}
	if role != want {
		return ErrUnauthorized
	}
	return nil
}
