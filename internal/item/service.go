package item

import (
	"context"
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

// Service is the request-facing boundary for item operations.
type Service struct {
	store    Store
	roles    RoleSource
	engine   *Engine
	resolver *Resolver
	sweeper  *Sweeper
	logger   log.Logger
	opts     Options
}

// NewService wires the engine, resolver and sweeper over a shared store.
func NewService(store Store, roles RoleSource, sweeper *Sweeper, logger log.Logger, opts Options) *Service {
	if store == nil {
		panic(xerrors.New("item store is required"))
	}
	if roles == nil {
		panic(xerrors.New("role source is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if sweeper == nil {
		sweeper = NewSweeper(store, SweeperConfig{}, logger, opts)
	}
	return &Service{
		store:    store,
		roles:    roles,
		engine:   NewEngine(store, logger, opts),
		resolver: NewResolver(store, roles, logger, opts),
		sweeper:  sweeper,
		logger:   logger,
		opts:     opts,
	}
}

// Create validates in and persists a new open item owned by p.
func (s *Service) Create(ctx context.Context, p Principal, in NewItem) (*Item, error) {
	ctx, span := tracer.Start(ctx, "item.Create", trace.WithAttributes(
		attribute.String("itemdesk.principal.id", p.ID),
	))
	defer span.End()

	if p.ID == "" {
		return nil, ErrUnauthorized
	}
	if err := Validate(in); err != nil {
		return nil, err
	}

	it := &Item{
		ID:          ulid.Make().String(),
		PersonName:  strings.TrimSpace(in.PersonName),
		Description: strings.TrimSpace(in.Description),
		Category:    in.Category,
		CreatedAt:   s.opts.now().UTC(),
		CreatedBy:   p.ID,
	}

	err := s.opts.call(ctx, func(ctx context.Context) error {
		return s.store.Insert(ctx, it)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error(ctx, err, "insert item failed")
		return nil, transient("insert item", err)
	}

	span.SetAttributes(attribute.String("itemdesk.item.id", it.ID))
	s.logger.Info(ctx, "item created", "item_id", it.ID, "category", it.Category, "created_by", p.ID)
	if s.opts.Hooks.OnCreate != nil {
		s.opts.Hooks.OnCreate(it.Category)
	}
	return it, nil
}

// Validate checks the creation-time constraints of in.
func Validate(in NewItem) error {
	var errs []error
	if strings.TrimSpace(in.PersonName) == "" {
		errs = append(errs, &ValidationError{Field: "person_name", Reason: "must not be empty"})
	}
	if strings.TrimSpace(in.Description) == "" {
		errs = append(errs, &ValidationError{Field: "description", Reason: "must not be empty"})
	}
	if !in.Category.Valid() {
		errs = append(errs, &ValidationError{Field: "category", Reason: "must be one of urgent, medium, small"})
	}
	return errors.Join(errs...)
}

// Get returns a single item by id.
func (s *Service) Get(ctx context.Context, id string) (*Item, error) {
	var (
		it *Item
		ok bool
	)
	err := s.opts.call(ctx, func(ctx context.Context) error {
		var err error
		it, ok, err = s.store.Get(ctx, id)
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

// ListOpen returns the ranked open items matching f.
func (s *Service) ListOpen(ctx context.Context, f Filter) ([]*Item, error) {
	return s.engine.ListOpen(ctx, f)
}

// Resolve marks an item resolved on behalf of p.
func (s *Service) Resolve(ctx context.Context, id string, p Principal) error {
	return s.resolver.Resolve(ctx, id, p)
}

// ListResolved returns resolved items, most recently resolved first. Admin only.
func (s *Service) ListResolved(ctx context.Context, p Principal) ([]*Item, error) {
	if err := authorize(ctx, s.roles, s.opts, p, RoleAdmin); err != nil {
		return nil, err
	}
	var items []*Item
	err := s.opts.call(ctx, func(ctx context.Context) error {
		var err error
		items, err = s.store.List(ctx, Query{Resolved: true, Order: OrderResolvedDesc})
		return err
	})
	if err != nil {
		return nil, transient("list resolved items", err)
	}
	if items == nil {
		items = []*Item{}
	}
	return items, nil
}

// Sweep runs an immediate retention pass on behalf of p. Admin only.
func (s *Service) Sweep(ctx context.Context, p Principal) (int, error) {
	if err := authorize(ctx, s.roles, s.opts, p, RoleAdmin); err != nil {
		return 0, err
	}
	return s.sweeper.Sweep(ctx, s.opts.now(), s.sweeper.Retention())
}
