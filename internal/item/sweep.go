package item

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

const (
	// DefaultRetention is how long a resolved item is kept before purge.
	DefaultRetention = 7 * 24 * time.Hour

	// DefaultSweepInterval is how often Run triggers a sweep pass.
	DefaultSweepInterval = time.Hour
)

// SweepEvent summarizes one sweep pass for Hooks.OnSweep.
type SweepEvent struct {
	Purged   int
	Failed   int
	Skipped  bool // another replica held the lock
	Duration float64
	Err      error
}

// SweeperConfig configures the recurring retention sweep.
type SweeperConfig struct {
	Retention time.Duration
	Interval  time.Duration

	// Locker, when set, limits a pass to one holder across replicas.
	Locker  Locker
	LockTTL time.Duration
}

// Sweeper permanently deletes resolved items past their retention window.
type Sweeper struct {
	store  Store
	cfg    SweeperConfig
	logger log.Logger
	opts   Options
}

// NewSweeper creates a Sweeper over store. Zero config durations take the defaults.
func NewSweeper(store Store, cfg SweeperConfig, logger log.Logger, opts Options) *Sweeper {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	return &Sweeper{
		store:  store,
		cfg:    cfg,
		logger: logger,
		opts:   opts,
	}
}

// Retention returns the configured retention window.
func (s *Sweeper) Retention() time.Duration {
	return s.cfg.Retention
}

// Sweep deletes every resolved item with now - ResolvedAt >= window and
// returns how many were deleted. Items are deleted one at a time; a failed
// delete does not stop the pass and is reported in the joined error.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time, window time.Duration) (int, error) {
	ctx, span := tracer.Start(ctx, "item.Sweep", trace.WithAttributes(
		attribute.String("itemdesk.sweep.now", now.UTC().Format(time.RFC3339)),
		attribute.Float64("itemdesk.sweep.window_seconds", window.Seconds()),
	))
	defer span.End()

	start := time.Now()
	purged, failed, err := s.sweep(ctx, now, window)

	span.SetAttributes(
		attribute.Int("itemdesk.sweep.purged", purged),
		attribute.Int("itemdesk.sweep.failed", failed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.fire(&SweepEvent{Purged: purged, Failed: failed, Duration: time.Since(start).Seconds(), Err: err})
	return purged, err
}

func (s *Sweeper) sweep(ctx context.Context, now time.Time, window time.Duration) (purged, failed int, err error) {
	cutoff := now.Add(-window)

	var expired []*Item
	err = s.opts.call(ctx, func(ctx context.Context) error {
		var err error
		expired, err = s.store.List(ctx, Query{Resolved: true, ResolvedBefore: cutoff, Order: OrderResolvedDesc})
		return err
	})
	if err != nil {
		return 0, 0, transient("list expired items", err)
	}

	var errs []error
	for _, it := range expired {
		if ctx.Err() != nil {
			errs = append(errs, transient("sweep", ctx.Err()))
			break
		}
		// a resolved item stays resolved, so deleting by id after the read is safe
		var deleted bool
		err := s.opts.call(ctx, func(ctx context.Context) error {
			var err error
			deleted, err = s.store.Delete(ctx, it.ID)
			return err
		})
		if err != nil {
			failed++
			errs = append(errs, transient(fmt.Sprintf("delete item %s", it.ID), err))
			continue
		}
		if deleted {
			purged++
		}
	}
	return purged, failed, errors.Join(errs...)
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	L := s.logger.With("retention", s.cfg.Retention.String(), "interval", s.cfg.Interval.String())
	L.Info(ctx, "retention sweeper started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		_, _ = s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			L.Info(context.WithoutCancel(ctx), "retention sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single pass at the current time with the configured
// retention, taking the lock first when a Locker is configured.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	if s.cfg.Locker != nil {
		release, ok, err := s.cfg.Locker.TryLock(ctx, s.cfg.LockTTL)
		if err != nil {
			s.logger.Error(ctx, err, "sweep lock failed")
			s.fire(&SweepEvent{Err: err})
			return 0, transient("sweep lock", err)
		}
		if !ok {
			s.logger.Info(ctx, "sweep skipped, lock held elsewhere")
			s.fire(&SweepEvent{Skipped: true})
			return 0, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn(ctx, "sweep lock release failed", "error", err)
			}
		}()
	}

	start := time.Now()
	purged, err := s.Sweep(ctx, s.opts.now(), s.cfg.Retention)
	if err != nil {
		s.logger.Error(ctx, err, "sweep pass failed", "purged", purged)
		return purged, err
	}
	s.logger.Info(ctx, "sweep pass complete",
		"purged", purged,
		"duration", time.Since(start).Seconds(),
	)
	return purged, nil
}

func (s *Sweeper) fire(e *SweepEvent) {
	if s.opts.Hooks.OnSweep != nil {
		s.opts.Hooks.OnSweep(e)
	}
}
