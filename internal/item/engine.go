package item

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// Engine ranks and filters open items. It holds no item state between calls.
type Engine struct {
	store  Store
	logger log.Logger
	opts   Options
}

// NewEngine creates a triage engine reading from store.
func NewEngine(store Store, logger log.Logger, opts Options) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		store:  store,
		logger: logger,
		opts:   opts,
	}
}

// ListOpen returns the open items matching f, highest priority first.
// Items of equal category keep the store's natural order.
func (e *Engine) ListOpen(ctx context.Context, f Filter) ([]*Item, error) {
	ctx, span := tracer.Start(ctx, "item.ListOpen", trace.WithAttributes(
		attribute.String("itemdesk.filter.text", f.Text),
		attribute.Int("itemdesk.filter.categories", len(f.Categories)),
	))
	defer span.End()

	// nothing selected means nothing returned, no need to ask the store
	if len(f.Categories) == 0 {
		e.observe(0)
		return []*Item{}, nil
	}

	var open []*Item
	err := e.opts.call(ctx, func(ctx context.Context) error {
		var err error
		open, err = e.store.List(ctx, Query{Resolved: false, Order: OrderCreated})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error(ctx, err, "list open items failed")
		return nil, transient("list open items", err)
	}

	out := Rank(Select(open, f))
	span.SetAttributes(attribute.Int("itemdesk.items.returned", len(out)))
	e.observe(len(out))
	return out, nil
}

func (e *Engine) observe(n int) {
	if e.opts.Hooks.OnList != nil {
		e.opts.Hooks.OnList(n)
	}
}

// Select keeps the open items of items that match both the text and category
// predicates of f. The input order is preserved.
func Select(items []*Item, f Filter) []*Item {
	out := make([]*Item, 0, len(items))
	if len(f.Categories) == 0 {
		return out
	}
	text := strings.ToLower(f.Text)
	for _, it := range items {
		if it.Resolved {
			continue
		}
		if !slices.Contains(f.Categories, it.Category) {
			continue
		}
		if text != "" && !strings.Contains(strings.ToLower(it.PersonName), text) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// Rank stable-sorts items in place by category weight, descending, and returns them.
func Rank(items []*Item) []*Item {
	slices.SortStableFunc(items, func(a, b *Item) int {
		return cmp.Compare(b.Category.Weight(), a.Category.Weight())
	})
	return items
}
