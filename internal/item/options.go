package item

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/linnemanlabs/itemdesk/internal/item")

// DefaultTimeout bounds each individual store or identity call.
const DefaultTimeout = 5 * time.Second

// Options carries the knobs shared by Engine, Resolver and Sweeper.
type Options struct {
	// Timeout bounds each collaborator call. Zero means DefaultTimeout.
	Timeout time.Duration

	// Now is the clock used for resolve stamps and sweep passes. Nil means time.Now.
	Now func() time.Time

	Hooks Hooks
}

// Hooks are optional callbacks fired after each operation, used for metrics.
type Hooks struct {
	OnList    func(returned int)
	OnCreate  func(category Category)
	OnResolve func(outcome string)
	OnSweep   func(e *SweepEvent)
}

// Resolve outcomes reported through Hooks.OnResolve.
const (
	OutcomeResolved        = "resolved"
	OutcomeAlreadyResolved = "already_resolved"
	OutcomeUnauthorized    = "unauthorized"
	OutcomeNotFound        = "not_found"
	OutcomeError           = "error"
)

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

func (o Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// call runs fn under the per-call timeout.
func (o Options) call(ctx context.Context, fn func(ctx context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, o.timeout())
	defer cancel()
	return fn(cctx)
}
